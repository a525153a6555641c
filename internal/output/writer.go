package output

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/schollz/progressbar/v3"

	awsutil "capacityeval/internal/aws"
	"capacityeval/internal/logging"
)

const (
	defaultMaxRetries        = 3
	defaultRetryDelay        = 2 * time.Second
	defaultPartSize          = 5 * 1024 * 1024 // 5MB
	defaultConcurrentUploads = 5
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

// UploadConfig holds upload configuration
type UploadConfig struct {
	PartSize        int64
	ConcurrentParts int
}

// Type represents the output destination
type Type string

const (
	// FileSystem represents local filesystem output
	FileSystem Type = "filesystem"
	// S3 represents S3 bucket output
	S3 Type = "s3"
)

// Format is the report encoding
type Format string

const (
	// JSON writes the full report as gzipped JSON
	JSON Format = "json"
	// CSV writes the tabular export
	CSV Format = "csv"
)

// ParseType validates an output destination name
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case "", FileSystem:
		return FileSystem, nil
	case S3:
		return S3, nil
	default:
		return "", fmt.Errorf("unsupported output type: %s", s)
	}
}

// ParseFormat validates an output format name
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", CSV:
		return CSV, nil
	case JSON:
		return JSON, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", s)
	}
}

// Config holds output configuration
type Config struct {
	Type      Type
	Format    Format
	S3Bucket  string
	S3Region  string
	OutputDir string
	Retry     *RetryConfig
	Upload    *UploadConfig
	// Session is required for S3 output unless Uploader is set
	Session  *session.Session
	Uploader s3manageriface.UploaderAPI
	// ProgressWriter receives the upload progress bar, os.Stderr when nil
	ProgressWriter io.Writer
}

// Writer handles writing evaluation reports to different destinations
type Writer struct {
	config Config
}

// NewWriter creates a new output writer with default settings
func NewWriter(config Config) *Writer {
	if config.Retry == nil {
		config.Retry = &RetryConfig{
			MaxRetries: defaultMaxRetries,
			RetryDelay: defaultRetryDelay,
		}
	}

	if config.Upload == nil {
		config.Upload = &UploadConfig{
			PartSize:        defaultPartSize,
			ConcurrentParts: defaultConcurrentUploads,
		}
	}

	if config.Type == "" {
		config.Type = FileSystem
	}
	if config.Format == "" {
		config.Format = CSV
	}
	if config.Type == FileSystem && config.OutputDir == "" {
		config.OutputDir = "output"
	}
	if config.ProgressWriter == nil {
		config.ProgressWriter = os.Stderr
	}
	return &Writer{config: config}
}

// objectKey returns the report location relative to the destination root:
// YYYY/MM/DD/<region>/HH-MM-SS-<run>.<ext>
func (w *Writer) objectKey(report *Report) string {
	t := report.GeneratedAt.UTC()
	region := report.Region
	if region == "" {
		region = "offline"
	}

	run := report.RunID
	if len(run) > 8 {
		run = run[:8]
	}
	name := t.Format("15-04-05")
	if run != "" {
		name += "-" + run
	}

	ext := ".csv"
	if w.config.Format == JSON {
		ext = ".json.gz"
	}
	return path.Join(t.Format("2006/01/02"), region, name+ext)
}

// compressData compresses the input data using gzip
func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to gzip writer: %w", err)
	}

	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Encode renders the report in the configured format
func (w *Writer) Encode(report *Report) ([]byte, error) {
	switch w.config.Format {
	case JSON:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal report: %w", err)
		}
		return compressData(data)
	case CSV:
		var buf bytes.Buffer
		if err := WriteCSV(&buf, report.Recommendations); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", w.config.Format)
	}
}

// Write writes the report to the configured destination and returns its location
func (w *Writer) Write(ctx context.Context, report *Report) (string, error) {
	data, err := w.Encode(report)
	if err != nil {
		return "", err
	}

	key := w.objectKey(report)
	switch w.config.Type {
	case FileSystem:
		target := filepath.Join(w.config.OutputDir, filepath.FromSlash(key))
		if err := writeToFileSystem(target, data); err != nil {
			return "", err
		}
		return target, nil
	case S3:
		if err := w.writeToS3WithRetry(ctx, key, data); err != nil {
			return "", err
		}
		return fmt.Sprintf("s3://%s/%s", w.config.S3Bucket, key), nil
	default:
		return "", fmt.Errorf("unsupported output type: %s", w.config.Type)
	}
}

// writeToFileSystem writes data to the local filesystem
func writeToFileSystem(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", target, err)
	}

	return nil
}

// writeToS3WithRetry writes data to an S3 bucket with retry logic
func (w *Writer) writeToS3WithRetry(ctx context.Context, key string, data []byte) error {
	if w.config.S3Bucket == "" {
		return fmt.Errorf("S3 bucket not specified")
	}

	uploader, err := w.uploader()
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < w.config.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			logging.Warn("Retrying S3 upload", map[string]interface{}{
				"attempt":      attempt + 1,
				"max_attempts": w.config.Retry.MaxRetries,
				"error":        lastErr.Error(),
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.Retry.RetryDelay):
			}
		}

		if err := w.writeToS3(ctx, uploader, key, data); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("failed to upload to S3 after %d attempts: %w",
		w.config.Retry.MaxRetries, lastErr)
}

func (w *Writer) uploader() (s3manageriface.UploaderAPI, error) {
	if w.config.Uploader != nil {
		return w.config.Uploader, nil
	}
	if w.config.Session == nil {
		return nil, fmt.Errorf("no AWS session for S3 output")
	}

	sess, err := awsutil.GetSessionInRegion(w.config.Session, w.config.S3Region)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = w.config.Upload.PartSize
		u.Concurrency = w.config.Upload.ConcurrentParts
	}), nil
}

// writeToS3 writes data to an S3 bucket with progress tracking
func (w *Writer) writeToS3(ctx context.Context, uploader s3manageriface.UploaderAPI, key string, data []byte) error {
	reader := &progressReader{
		reader: bytes.NewReader(data),
		size:   int64(len(data)),
		bar: progressbar.NewOptions64(
			int64(len(data)),
			progressbar.OptionSetWriter(w.config.ProgressWriter),
			progressbar.OptionSetDescription("Uploading to S3..."),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(15),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(w.config.ProgressWriter)
			}),
		),
	}

	_, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:               aws.String(w.config.S3Bucket),
		Key:                  aws.String(key),
		Body:                 reader,
		ServerSideEncryption: aws.String("aws:kms"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	logging.Debug("Uploaded report", map[string]interface{}{
		"bucket": w.config.S3Bucket,
		"key":    key,
		"size":   formatBytes(int64(len(data))),
	})
	return nil
}

// progressReader wraps an io.Reader to track progress
type progressReader struct {
	reader io.Reader
	size   int64
	read   int64
	bar    *progressbar.ProgressBar
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read += int64(n)
	if err := r.bar.Add(n); err != nil {
		logging.Debug("Error updating progress bar", map[string]interface{}{"error": err.Error()})
	}
	return n, err
}
