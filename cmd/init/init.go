package init

import (
	"github.com/spf13/cobra"
)

// NewInitCmd groups the commands that bootstrap local files
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create capacityeval configuration",
		Long: `Create capacityeval configuration.

The generated config.yaml documents the autoscaling policy, series
normalisation, recommendation thresholds, pricing source and report
destinations used by evaluate.`,
	}

	cmd.AddCommand(NewConfigCmd())

	return cmd
}
