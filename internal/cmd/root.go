// Package cmd defines the CLI commands for the lawharvest executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/socialtoolkit/lawharvest/internal/config"
	"github.com/socialtoolkit/lawharvest/internal/logging"
)

var cfgFile string

// version is stamped at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lawharvest",
		Short: "Acquire and track municipal legal codes",
		Long: `lawharvest discovers municipal code documents through web search,
archives them with a third-party archival service, extracts their text,
and records content changes over time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newLocationsCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the lawharvest version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "lawharvest", version)
		},
	}
}

// loadEnvironment builds the config and logger shared by the commands that
// touch external services.
func loadEnvironment() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute runs the root command and exits nonzero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lawharvest:", err)
		os.Exit(1)
	}
}
