package list

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"capacityeval/internal/aws"
	"capacityeval/internal/config"
	"capacityeval/internal/logging"
)

// NewProfilesCmd creates and returns the profiles command
func NewProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List available AWS profiles",
		Long: `List the profiles found in the shared AWS credentials and config files.
The profile evaluate would use (--profile, aws.profile or
CAPACITYEVAL_AWS_PROFILE) is marked with an asterisk.`,
		Example: `  capacityeval list profiles
  capacityeval list profiles --profile prod`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfiles(cmd.OutOrStdout(), aws.ListProfiles, config.Config.Profile)
		},
	}

	return cmd
}

func runProfiles(out io.Writer, list func() ([]string, error), active string) error {
	profiles, err := list()
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}

	found := false
	for _, profile := range profiles {
		marker := " "
		if profile == active {
			marker = "*"
			found = true
		}
		fmt.Fprintf(out, "%s %s\n", marker, profile)
	}

	if active != "" && !found {
		logging.Warn("Active profile not found in shared config", map[string]interface{}{"profile": active})
	}
	return nil
}
