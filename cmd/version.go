package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/weft/internal/version"
)

func newVersionCommand() *cobra.Command {
	var (
		format string
		short  bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the weft version, git commit, Go version and platform.

Examples:
  weft version                # One line
  weft version --short        # Version number only
  weft version --format json  # JSON`,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetBuildInfo()
			out := cmd.OutOrStdout()

			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			case "text":
				if short {
					fmt.Fprintln(out, info.Version)
					return nil
				}
				fmt.Fprintln(out, info.String())
				return nil
			default:
				return fmt.Errorf("unsupported format: %s (supported: text, json)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, json)")
	cmd.Flags().BoolVar(&short, "short", false, "show the version number only")
	return cmd
}
