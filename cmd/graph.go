package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/weft/internal/build"
)

// graphNode is one module in `weft graph --format json` output.
type graphNode struct {
	ID           string   `json:"id"`
	Emit         string   `json:"emit"`
	Dependencies []string `json:"dependencies"`
	Channels     []string `json:"channels,omitempty"`
}

func newGraphCommand(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the module graph in dependency-first order",
		Long: `Build the module graph without writing output and print every module
after all of its dependencies. Paths are relative to the project context.

Examples:
  weft graph                  # Indented text
  weft graph --format json    # Machine-readable`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			engine, err := build.NewEngine(cfg, build.WithLogger(logger))
			if err != nil {
				return err
			}
			res, err := engine.Build(cmd.Context())
			if err != nil {
				return fmt.Errorf("build failed: %w", err)
			}

			nodes := make([]graphNode, 0, len(res.Graph.Nodes))
			for _, id := range res.Graph.Order() {
				n := res.Graph.Nodes[id]
				gn := graphNode{
					ID:           id.Rel(cfg.Context),
					Emit:         string(n.Emit),
					Dependencies: make([]string, 0, len(n.Dependencies)),
				}
				for _, dep := range n.Dependencies {
					gn.Dependencies = append(gn.Dependencies, dep.Rel(cfg.Context))
				}
				for _, e := range n.Emissions {
					gn.Channels = append(gn.Channels, e.Channel)
				}
				nodes = append(nodes, gn)
			}

			out := cmd.OutOrStdout()
			switch format {
			case "text":
				for _, n := range nodes {
					fmt.Fprintf(out, "%s [%s]\n", n.ID, n.Emit)
					for _, dep := range n.Dependencies {
						fmt.Fprintf(out, "  -> %s\n", dep)
					}
				}
				return nil
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(nodes)
			default:
				return fmt.Errorf("unsupported format: %s (supported: text, json)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, json)")
	return cmd
}
