package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"capacityeval/cmd/evaluate"
	initCmd "capacityeval/cmd/init"
	"capacityeval/cmd/list"
	"capacityeval/cmd/version"
	"capacityeval/internal/config"
	"capacityeval/internal/logging"
	"capacityeval/internal/worker"
)

// skipsConfig lists commands that run without loading configuration
var skipsConfig = map[string]bool{
	"version":    true,
	"help":       true,
	"completion": true,
	"init":       true,
	"config":     true,
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "capacityeval",
		Short: "DynamoDB capacity mode evaluator",
		Long: `capacityeval replays DynamoDB consumption through an autoscaling simulation
and compares provisioned and on-demand costs for every table and global
secondary index.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipsConfig[cmd.Name()] {
				return nil
			}
			return setup(cmd, configFile)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringP("profile", "p", "default", "AWS profile to use (supports SSO profiles)")
	rootCmd.PersistentFlags().StringP("region", "r", "us-east-1", "AWS region of the evaluated tables")
	rootCmd.PersistentFlags().Int("max-workers", 8, "Maximum number of concurrent evaluations")
	rootCmd.PersistentFlags().String("log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().String("log-level", "INFO", "Set logging level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(evaluate.NewEvaluateCmd())
	rootCmd.AddCommand(list.NewListCmd())
	rootCmd.AddCommand(initCmd.NewInitCmd())
	rootCmd.AddCommand(version.NewVersionCmd())

	return rootCmd
}

// setup loads configuration, configures logging and starts the shared pool
func setup(cmd *cobra.Command, configFile string) error {
	if err := config.InitConfig(false, cmd); err != nil {
		return err
	}
	if configFile != "" {
		if err := config.SetConfigFile(configFile); err != nil {
			return err
		}
	}
	if err := config.BindFlags(cmd); err != nil {
		return err
	}

	level, err := logging.ParseLevel(viper.GetString("app.log_level"))
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(viper.GetString("app.log_format"))
	if err != nil {
		return err
	}
	logging.Configure(logging.LogConfig{Level: level, Format: format})

	if err := config.LoadGlobalConfig(); err != nil {
		return err
	}
	config.LogConfigurationSources(level == logging.DEBUG, cmd)

	return worker.InitSharedPool(config.Config.MaxWorkers, config.Config.TaskTimeout)
}

// Execute runs the root command
func Execute() error {
	defer worker.ResetSharedPool()
	return NewRootCmd().Execute()
}
