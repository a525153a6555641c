package list

import (
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles and stored evaluations",
		Long: `List various configurations and stored results.
Currently supports listing:
  - Available AWS credential profiles
  - Evaluation runs recorded in the store
  - The recommendations of a single run
  - The recommendation history of a resource`,
	}

	cmd.AddCommand(NewProfilesCmd())
	cmd.AddCommand(NewRunsCmd())
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewHistoryCmd())

	return cmd
}
