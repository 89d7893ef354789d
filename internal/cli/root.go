// Package cli implements the relay command line.
package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/casedesk/relay/config"
	"github.com/casedesk/relay/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c string) {
	version, commit = v, c
}

type globalFlags struct {
	configFile string
	logLevel   string
	pretty     bool
	lang       string
}

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Send calls to the case-management backend through relay",
		Long: `relay sends API calls through the configured transport profiles with
retries, profile fallback and session recovery, and prints the result.

Configuration is read from relay.yaml in the working directory, the file
given with --config, and RELAY_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "additional YAML config file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level")
	cmd.PersistentFlags().BoolVar(&flags.pretty, "pretty", false, "human readable logs")
	cmd.PersistentFlags().StringVar(&flags.lang, "lang", "en", "language of user-facing error messages")

	cmd.AddCommand(
		newRequestCommand(flags),
		newConfigCommand(flags),
		newVersionCommand(),
	)
	return cmd
}

func (f *globalFlags) loadConfig() (*config.Config, error) {
	var opts []config.Option
	if f.configFile != "" {
		opts = append(opts, config.WithFile(f.configFile))
	}
	return config.Load(opts...)
}

// newLogger writes to w so command output on stdout stays machine readable.
func (f *globalFlags) newLogger(cfg *config.Config, w io.Writer) logger.Logger {
	level := cfg.Log.Level
	if f.logLevel != "" {
		level = f.logLevel
	}
	if f.pretty || cfg.Log.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return logger.NewWithWriter(w, level, nil)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay %s (%s)\n", version, commit)
		},
	}
}
