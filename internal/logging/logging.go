package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level represents a logging level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	PROGRESS // Special level that always displays
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case PROGRESS:
		return "PROGRESS"
	default:
		return "UNKNOWN"
	}
}

// Format represents the log output format
type Format int

const (
	Text Format = iota
	JSON
)

// ParseLevel converts a configured level name into a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("invalid log level %q (expected DEBUG, INFO, WARN or ERROR)", s)
	}
}

// ParseFormat converts a configured format name into a Format
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return Text, nil
	case "json":
		return JSON, nil
	default:
		return Text, fmt.Errorf("invalid log format %q (expected text or json)", s)
	}
}

// Logger handles structured logging
type Logger struct {
	out         io.Writer
	level       Level
	format      Format
	lastLogTime time.Time
	logMutex    sync.RWMutex
	writeMutex  sync.Mutex
}

// LogConfig contains logger configuration
type LogConfig struct {
	Level  Level
	Format Format
}

var (
	defaultLogger = &Logger{
		out:         os.Stdout,
		level:       INFO,
		format:      Text,
		lastLogTime: time.Now(),
		logMutex:    sync.RWMutex{},
	}

	// Color definitions
	debugColor    = color.New(color.FgCyan)
	infoColor     = color.New(color.FgGreen)
	warnColor     = color.New(color.FgYellow)
	errorColor    = color.New(color.FgRed)
	progressColor = color.New(color.FgBlue, color.Bold)
)

// Configure sets up the default logger
func Configure(config LogConfig) {
	defaultLogger.level = config.Level
	defaultLogger.format = config.Format
}

// SetOutput redirects the default logger and returns the previous writer
func SetOutput(w io.Writer) io.Writer {
	previous := defaultLogger.out
	defaultLogger.out = w
	return previous
}

type logEntry struct {
	Timestamp string      `json:"timestamp"`
	Level     string      `json:"level"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
}

func (l *Logger) log(level Level, msg string, data interface{}) {
	// Always show PROGRESS level, otherwise respect level setting
	if level != PROGRESS && level < l.level {
		return
	}

	// Update last log time for non-PROGRESS logs
	if level != PROGRESS {
		l.logMutex.Lock()
		l.lastLogTime = time.Now()
		l.logMutex.Unlock()
	}

	timestamp := time.Now().Format("2006/01/02 15:04:05")

	// workers log concurrently; keep each entry on its own line
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()

	if l.format == JSON {
		entry := logEntry{
			Timestamp: timestamp,
			Level:     level.String(),
			Message:   msg,
			Data:      data,
		}
		if err := json.NewEncoder(l.out).Encode(entry); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode log entry: %v\n", err)
		}
		return
	}

	// Text format
	var levelColor *color.Color
	switch level {
	case DEBUG:
		levelColor = debugColor
	case INFO:
		levelColor = infoColor
	case WARN:
		levelColor = warnColor
	case ERROR:
		levelColor = errorColor
	case PROGRESS:
		levelColor = progressColor
	default:
		levelColor = infoColor
	}

	levelStr := levelColor.Sprintf("%-5s", level.String())
	fmt.Fprintf(l.out, "%s %s: %s", timestamp, levelStr, msg)
	if data != nil {
		fmt.Fprintf(l.out, " %+v", data)
	}
	fmt.Fprintln(l.out)
}

func (l *Logger) Debug(msg string, data ...interface{}) {
	l.log(DEBUG, msg, firstOrNil(data))
}

func (l *Logger) Info(msg string, data ...interface{}) {
	l.log(INFO, msg, firstOrNil(data))
}

func (l *Logger) Warn(msg string, data ...interface{}) {
	l.log(WARN, msg, firstOrNil(data))
}

func (l *Logger) Error(msg string, err error, data ...interface{}) {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	l.log(ERROR, msg, firstOrNil(data))
}

func (l *Logger) Progress(msg string, data interface{}) {
	l.log(PROGRESS, msg, data)
}

// firstOrNil returns the first element of data if present, nil otherwise
func firstOrNil(data []interface{}) interface{} {
	if len(data) > 0 {
		return data[0]
	}
	return nil
}

// EvaluationStart logs the start of a batch evaluation
func (l *Logger) EvaluationStart(resources []string, region string, source string) {
	data := map[string]interface{}{
		"resources": resources,
		"region":    region,
		"source":    source,
	}
	l.Info("Starting capacity evaluation", data)
}

// ResourceStart logs the start of a single resource evaluation
func (l *Logger) ResourceStart(resourceID, region string) {
	data := map[string]interface{}{
		"resource_id": resourceID,
		"region":      region,
	}
	l.Debug("Evaluating resource", data)
}

// ResourceComplete logs the outcome of a single resource evaluation
func (l *Logger) ResourceComplete(resourceID string, summary map[string]interface{}) {
	data := map[string]interface{}{
		"resource_id": resourceID,
	}
	for k, v := range summary {
		data[k] = v
	}
	l.Info("Resource evaluated", data)
}

// ResourceError logs a failed resource evaluation
func (l *Logger) ResourceError(resourceID, region string, err error) {
	data := map[string]interface{}{
		"resource_id": resourceID,
		"region":      region,
	}
	l.Error("Resource evaluation failed", err, data)
}

// EvaluationComplete logs the completion of a batch evaluation. stats carries
// worker pool counters; the batch fields take precedence on key clashes.
func (l *Logger) EvaluationComplete(evaluated, failed int, elapsed time.Duration, stats map[string]interface{}) {
	data := make(map[string]interface{}, len(stats)+3)
	for k, v := range stats {
		data[k] = v
	}
	data["evaluated"] = evaluated
	data["failed"] = failed
	data["elapsed"] = elapsed.Round(time.Millisecond).String()
	l.Info("Capacity evaluation complete", data)
}

// GetLastLogTime returns the time of the last non-PROGRESS log
func (l *Logger) GetLastLogTime() time.Time {
	l.logMutex.RLock()
	defer l.logMutex.RUnlock()
	return l.lastLogTime
}

// GetLastLogTime returns the time of the last non-PROGRESS log using the default logger
func GetLastLogTime() time.Time {
	return defaultLogger.GetLastLogTime()
}

// Default logger methods
func Debug(msg string, data ...interface{}) {
	defaultLogger.Debug(msg, data...)
}

func Info(msg string, data ...interface{}) {
	defaultLogger.Info(msg, data...)
}

func Warn(msg string, data ...interface{}) {
	defaultLogger.Warn(msg, data...)
}

func Error(msg string, err error, data ...interface{}) {
	defaultLogger.Error(msg, err, data...)
}

func Progress(msg string, data ...interface{}) {
	defaultLogger.Progress(msg, firstOrNil(data))
}

func EvaluationStart(resources []string, region string, source string) {
	defaultLogger.EvaluationStart(resources, region, source)
}

func ResourceStart(resourceID, region string) {
	defaultLogger.ResourceStart(resourceID, region)
}

func ResourceComplete(resourceID string, summary map[string]interface{}) {
	defaultLogger.ResourceComplete(resourceID, summary)
}

func ResourceError(resourceID, region string, err error) {
	defaultLogger.ResourceError(resourceID, region, err)
}

func EvaluationComplete(evaluated, failed int, elapsed time.Duration, stats map[string]interface{}) {
	defaultLogger.EvaluationComplete(evaluated, failed, elapsed, stats)
}
