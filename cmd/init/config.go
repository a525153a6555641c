package init

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"capacityeval/internal/config"
)

type configOptions struct {
	force  bool
	global bool
	stdout bool
	output string
}

// NewConfigCmd creates the config subcommand
func NewConfigCmd() *cobra.Command {
	var opts configOptions

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create a default config.yaml file",
		Long: `Create a config.yaml holding every simulation, pricing, output and
store setting with its default value.

The file is written to ./config.yaml unless --output or --global is given.
--global writes ~/.capacityeval/config.yaml, which is read when the working
directory has no config.yaml.`,
		Example: `  # Start from the defaults in the current directory
  capacityeval init config

  # Review the defaults without writing anything
  capacityeval init config --stdout`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Overwrite existing file")
	cmd.Flags().BoolVar(&opts.global, "global", false, "Write to ~/.capacityeval/config.yaml")
	cmd.Flags().BoolVar(&opts.stdout, "stdout", false, "Print the default configuration instead of writing it")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output file path (default: ./config.yaml)")

	return cmd
}

func runConfig(out io.Writer, opts configOptions) error {
	set := 0
	for _, on := range []bool{opts.global, opts.stdout, opts.output != ""} {
		if on {
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("--global, --output and --stdout are mutually exclusive")
	}

	if opts.stdout {
		_, err := io.WriteString(out, config.DefaultConfig())
		return err
	}

	target := opts.output
	switch {
	case opts.global:
		path, err := config.DefaultConfigPath()
		if err != nil {
			return err
		}
		target = path
	case target == "":
		target = "config.yaml"
	}

	absPath, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if err := config.WriteDefaultConfig(absPath, opts.force); err != nil {
		return err
	}

	fmt.Fprintf(out, "Created config file: %s\n", absPath)
	return nil
}
