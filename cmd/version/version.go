package version

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"capacityeval/internal/version"
)

// NewVersionCmd creates and returns the version command
func NewVersionCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  `Print the capacityeval version, the commit and build time when they were injected at build time, and the Go version.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !asJSON {
				fmt.Fprintf(cmd.OutOrStdout(), "capacityeval %s\n", version.String())
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(version.Get())
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the build description as JSON")
	return cmd
}
