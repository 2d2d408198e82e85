package cmd

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/weft/internal/build"
)

func newBuildCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "build",
		Aliases: []string{"b"},
		Short:   "Build the project into the output directory",
		Long: `Build the module graph from the configured entries, run every asset
through its transform chain and write the result to the output directory.

The output directory is replaced as a whole: the new generation is staged next
to it and swapped in, so a failed build leaves the previous output untouched.

Examples:
  weft build                  # Build using .weft.yml
  weft build -o public        # Write to ./public
  weft build --dry-run        # Stage output but keep the current directory`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, a)
		},
	}

	cmd.Flags().StringP("output", "o", "", "output directory (default from config, \"dist\")")
	cmd.Flags().Int("workers", 0, "graph builder workers (default: number of CPUs)")
	cmd.Flags().Bool("no-clean", false, "write into the output directory without removing stale files")
	cmd.Flags().Bool("dry-run", false, "stage the output but leave the current output directory in place")
	cmd.Flags().BoolP("verbose", "v", false, "log every removed output file")
	bindFlags(a.v, cmd.Flags(), map[string]string{
		"output.path":   "output",
		"build.workers": "workers",
		"clean.dry":     "dry-run",
		"clean.verbose": "verbose",
	})
	return cmd
}

func runBuild(cmd *cobra.Command, a *app) error {
	cfg, logger, err := a.load()
	if err != nil {
		return err
	}
	if noClean, _ := cmd.Flags().GetBool("no-clean"); noClean {
		cfg.Clean.Enabled = false
	}

	engine, err := build.NewEngine(cfg, build.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	res, err := engine.Build(ctx)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	if err := engine.Write(ctx, res); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	out := cmd.OutOrStdout()
	rel, err := filepath.Rel(cfg.Context, cfg.Output.Path)
	if err != nil {
		rel = cfg.Output.Path
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, p := range res.Snapshot.Paths() {
		f, _ := res.Snapshot.Get(p)
		fmt.Fprintf(w, "  %s\t%s\n", filepath.ToSlash(filepath.Join(rel, p)), formatSize(len(f.Content)))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Built generation %d: %d modules, %d files in %s\n",
		res.Generation, len(res.Graph.Nodes), res.Snapshot.Len(), res.Duration.Round(time.Millisecond))
	return nil
}

func formatSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
