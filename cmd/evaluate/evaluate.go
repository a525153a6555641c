package evaluate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	awsinternal "capacityeval/internal/aws"
	"capacityeval/internal/aws/pricing"
	"capacityeval/internal/config"
	"capacityeval/internal/evaluator"
	"capacityeval/internal/input"
	"capacityeval/internal/logging"
	"capacityeval/internal/output"
	"capacityeval/internal/store"
	"capacityeval/internal/timeseries"
	"capacityeval/internal/worker"
)

const (
	sourceCloudWatch = "cloudwatch"
	sourceInput      = "input"
)

type options struct {
	tables        []string
	inputPath     string
	saveInput     string
	days          int
	profile       string
	region        string
	outputType    output.Type
	outputFormat  output.Format
	outputDir     string
	bucket        string
	bucketRegion  string
	pricingSource string
	storePath     string
	retentionDays int
}

// NewEvaluateCmd creates the evaluate command
func NewEvaluateCmd() *cobra.Command {
	var saveInput string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate DynamoDB capacity modes",
		Long: `Replay consumption of DynamoDB tables and their global secondary indexes
through an autoscaling simulation and recommend provisioned or on-demand
capacity for each of them.

Consumption is read from CloudWatch unless --input names a bundle file.

Examples:
  # Evaluate two tables over the last 14 days
  capacityeval evaluate --tables orders,sessions --region us-west-2

  # Evaluate an offline bundle with prices from the config file
  capacityeval evaluate --input bundles.yaml --pricing-source config

  # Keep the collected metrics for later offline runs
  capacityeval evaluate --tables orders --save-input orders.yaml

  # Write a JSON report to S3 and record the run
  capacityeval evaluate --tables orders --output s3 --output-format json \
    --bucket my-bucket --bucket-region us-west-2 --store ~/.capacityeval/history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(saveInput)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().String("tables", "", "Comma-separated list of tables to evaluate")
	cmd.Flags().String("input", "", "Bundle file (yaml or json) to evaluate instead of CloudWatch metrics")
	cmd.Flags().StringVar(&saveInput, "save-input", "", "Write the collected bundles to this file")
	cmd.Flags().Int("days", 14, "Days of metrics to evaluate")
	cmd.Flags().String("output", "filesystem", "Output type (filesystem, s3)")
	cmd.Flags().StringP("output-format", "o", "csv", "Output format (csv, json)")
	cmd.Flags().String("output-dir", "output", "Directory for filesystem output")
	cmd.Flags().String("bucket", "", "S3 bucket name (required when --output=s3)")
	cmd.Flags().String("bucket-region", "", "S3 bucket region (required when --output=s3)")
	cmd.Flags().Float64("target-utilization", 0.70, "Target utilization of the simulated autoscaling policy")
	cmd.Flags().String("gap-policy", "zero_fill", "How missing samples are filled (zero_fill, carry_forward)")
	cmd.Flags().Float64("min-savings", 1.0, "Monthly savings below which a recommendation is not actionable")
	cmd.Flags().String("pricing-source", "api", "Where prices come from (api, config)")
	cmd.Flags().String("store", "", "SQLite file recording every run")

	return cmd
}

func loadOptions(saveInput string) (options, error) {
	opts := options{
		tables:        config.StringList("evaluate.tables"),
		inputPath:     viper.GetString("evaluate.input"),
		saveInput:     saveInput,
		days:          viper.GetInt("evaluate.lookback_days"),
		profile:       viper.GetString("aws.profile"),
		region:        viper.GetString("aws.region"),
		outputDir:     viper.GetString("evaluate.output_dir"),
		bucket:        viper.GetString("evaluate.bucket"),
		bucketRegion:  viper.GetString("evaluate.bucket_region"),
		pricingSource: strings.ToLower(viper.GetString("pricing.source")),
		storePath:     viper.GetString("store.path"),
		retentionDays: viper.GetInt("store.retention_days"),
	}

	var err error
	if opts.outputType, err = output.ParseType(viper.GetString("evaluate.output")); err != nil {
		return opts, err
	}
	if opts.outputFormat, err = output.ParseFormat(viper.GetString("evaluate.output_format")); err != nil {
		return opts, err
	}

	if opts.inputPath == "" && len(opts.tables) == 0 {
		return opts, fmt.Errorf("--tables or --input is required")
	}
	if opts.inputPath != "" && opts.saveInput != "" {
		return opts, fmt.Errorf("--save-input cannot be combined with --input")
	}
	if opts.inputPath == "" && opts.days <= 0 {
		return opts, fmt.Errorf("--days must be greater than 0, got %d", opts.days)
	}
	if opts.outputType == output.S3 {
		if opts.bucket == "" {
			return opts, fmt.Errorf("--bucket is required when --output=s3")
		}
		if opts.bucketRegion == "" {
			return opts, fmt.Errorf("--bucket-region is required when --output=s3")
		}
	}
	switch opts.pricingSource {
	case "api", "config":
	default:
		return opts, fmt.Errorf("invalid pricing source: %s", opts.pricingSource)
	}
	return opts, nil
}

// sessionProvider creates the AWS session on first use so offline runs
// never touch credentials
type sessionProvider struct {
	profile string
	region  string
	sess    *session.Session
}

func (p *sessionProvider) get() (*session.Session, error) {
	if p.sess != nil {
		return p.sess, nil
	}
	sess, err := awsinternal.NewSession(p.profile, p.region)
	if err != nil {
		return nil, err
	}
	p.sess = sess
	return sess, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	sessions := &sessionProvider{profile: opts.profile, region: opts.region}

	settings, err := config.LoadEngineSettings()
	if err != nil {
		return err
	}

	bundles, collectFailures, source, err := loadBundles(ctx, opts, sessions)
	if err != nil {
		return err
	}

	region := opts.region
	if source == sourceInput {
		region = commonRegion(bundles)
	}

	prices, err := pricingSource(opts, sessions)
	if err != nil {
		return err
	}

	ids := make([]string, len(bundles))
	for i, b := range bundles {
		ids[i] = b.ID()
	}
	logging.EvaluationStart(ids, region, source)

	ev := evaluator.New(settings, prices, worker.GetSharedPool())
	outcomes := append(collectFailures, ev.EvaluateBatch(ctx, bundles)...)

	report := output.NewReport(uuid.NewString(), region, source, time.Now(), outcomes)

	writerConfig := output.Config{
		Type:      opts.outputType,
		Format:    opts.outputFormat,
		S3Bucket:  opts.bucket,
		S3Region:  opts.bucketRegion,
		OutputDir: opts.outputDir,
	}
	if opts.outputType == output.S3 {
		if writerConfig.Session, err = sessions.get(); err != nil {
			return err
		}
	}
	location, err := output.NewWriter(writerConfig).Write(ctx, report)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if opts.storePath != "" {
		if err := saveRun(ctx, opts.storePath, opts.retentionDays, report); err != nil {
			return err
		}
	}

	output.PrintSummary(out, report)
	fmt.Fprintf(out, "Report written to %s\n", location)

	metrics := worker.GetSharedPool().GetMetrics()
	logging.EvaluationComplete(report.Summary.Evaluated, report.Summary.Failed, time.Since(start), map[string]interface{}{
		"tasks":        metrics.TotalTasks,
		"completed":    metrics.CompletedTasks,
		"task_errors":  metrics.FailedTasks,
		"skipped":      metrics.SkippedTasks,
		"peak_workers": metrics.PeakWorkers,
		"avg_task_ms":  metrics.AverageExecutionMs,
	})
	return nil
}

func loadBundles(ctx context.Context, opts options, sessions *sessionProvider) ([]evaluator.Bundle, []evaluator.Outcome, string, error) {
	if opts.inputPath != "" {
		bundles, err := input.Load(opts.inputPath)
		if err != nil {
			return nil, nil, "", err
		}
		return bundles, nil, sourceInput, nil
	}

	sess, err := sessions.get()
	if err != nil {
		return nil, nil, "", err
	}
	if account, err := awsinternal.CallerAccount(sts.New(sess)); err != nil {
		logging.Warn("Could not determine AWS account", map[string]interface{}{"error": err.Error()})
	} else {
		logging.Info("Collecting capacity metrics", map[string]interface{}{
			"account": account,
			"region":  opts.region,
			"tables":  opts.tables,
		})
	}

	if err := awsinternal.ValidateRegion(ctx, ec2.New(sess, awssdk.NewConfig().WithRegion("us-east-1")), opts.region); err != nil {
		return nil, nil, "", err
	}

	collector, err := awsinternal.NewRegionCollector(sess, opts.region)
	if err != nil {
		return nil, nil, "", err
	}

	end := time.Now().UTC().Truncate(time.Minute)
	window := timeseries.Window{Start: end.Add(-time.Duration(opts.days) * 24 * time.Hour), End: end}
	bundles, errs := collector.Collect(ctx, opts.tables, window)

	var failures []evaluator.Outcome
	for _, err := range errs {
		var tableErr *awsinternal.TableError
		if errors.As(err, &tableErr) {
			failures = append(failures, evaluator.Outcome{ResourceID: tableErr.Table, Err: tableErr.Err})
			continue
		}
		return nil, nil, "", err
	}

	if opts.saveInput != "" {
		if err := input.Save(opts.saveInput, bundles); err != nil {
			return nil, nil, "", err
		}
		logging.Info("Saved collected bundles", map[string]interface{}{"path": opts.saveInput})
	}
	return bundles, failures, sourceCloudWatch, nil
}

func pricingSource(opts options, sessions *sessionProvider) (evaluator.PricingSource, error) {
	var source evaluator.PricingSource
	switch opts.pricingSource {
	case "config":
		tables, err := config.LoadStaticPricing()
		if err != nil {
			return nil, err
		}
		if len(tables) == 0 {
			return nil, fmt.Errorf("pricing.source is config but pricing.tables is empty")
		}
		source = evaluator.NewStaticPricing(tables)
	default:
		sess, err := sessions.get()
		if err != nil {
			return nil, err
		}
		estimator, err := pricing.NewEstimatorForRegion(sess, opts.region, config.PricingCacheFile())
		if err != nil {
			return nil, err
		}
		source = estimator
	}
	return evaluator.WithFreeTier(source, config.FreeTier()), nil
}

func saveRun(ctx context.Context, path string, retentionDays int, report *output.Report) error {
	s, err := store.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.SaveRun(ctx, report); err != nil {
		return err
	}
	if retentionDays > 0 {
		cutoff := report.GeneratedAt.Add(-time.Duration(retentionDays) * 24 * time.Hour)
		if _, err := s.Prune(ctx, cutoff); err != nil {
			return err
		}
	}
	return nil
}

// commonRegion returns the region shared by every bundle, or "" when they differ
func commonRegion(bundles []evaluator.Bundle) string {
	region := ""
	for i, b := range bundles {
		if i == 0 {
			region = b.Descriptor.Region
			continue
		}
		if b.Descriptor.Region != region {
			return ""
		}
	}
	return region
}
