// Package cmd provides the weft command-line interface.
//
// Configuration is read from, in increasing priority:
//
//	.weft.yml in the working directory (or the file named by WEFT_CONFIG_FILE)
//	a .env file in the working directory
//	WEFT_<SECTION>_<OPTION> environment variables (WEFT_SERVER_PORT=9000)
//	command-line flags
package cmd

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/weft/internal/config"
	"github.com/conneroisu/weft/internal/logging"
)

// app carries the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	readErr error
}

// NewRootCommand builds the weft command tree around a fresh viper instance.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "weft",
		Short: "Bundle web assets and serve them with live reload",
		Long: `weft builds a module graph from entry points, runs every asset through
the transform chain of its matching rule, and writes bundles, emitted files
and aggregated channels (such as one stylesheet for all CSS) to the output
directory.

Quick Start:
  weft build          Build the project once
  weft serve          Start the dev server with live reload
  weft graph          Show the module graph
  weft config         Show the resolved configuration`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.initConfig()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is .weft.yml, can also use WEFT_CONFIG_FILE env var)")
	root.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "log format (text, json)")
	root.PersistentFlags().String("context", "", "project root (default is the working directory)")
	bindFlags(a.v, root.PersistentFlags(), map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
		"context":    "context",
	})

	root.AddCommand(
		newBuildCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
		newGraphCommand(a),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

func (a *app) initConfig() {
	config.ConfigureViper(a.v, a.cfgFile)

	err := a.v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		fmt.Fprintln(os.Stderr, "Using config file:", a.v.ConfigFileUsed())
	case stderrors.As(err, &notFound):
		// Defaults apply without a config file.
	default:
		a.readErr = fmt.Errorf("reading config file: %w", err)
	}
}

// load returns the validated configuration and a logger configured by it.
func (a *app) load() (*config.Config, logging.Logger, error) {
	if a.readErr != nil {
		return nil, nil, a.readErr
	}
	cfg, err := config.LoadFrom(a.v)
	if err != nil {
		return nil, nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	return cfg, logger, nil
}
