// Package main provides the trackrec command: the recording API server and
// offline tools for route files.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/trackrec/trackrec/internal/config"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "trackrec"

type rootOptions struct {
	configPath string
	logLevel   string
	pretty     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "trackrec",
		Short:         "GPS track recording engine",
		Long:          `trackrec turns streams of location fixes into smoothed, segmented routes and serves them over HTTP.`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./trackrec.yaml or /etc/trackrec/trackrec.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides log.level")
	cmd.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "human-readable console logs")

	cmd.AddCommand(
		newServeCmd(opts),
		newReplayCmd(opts),
		newInspectCmd(),
		newTokenCmd(opts),
	)
	return cmd
}

// load reads the configuration, applying the persistent flag overrides.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	v := config.New(o.configPath)
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		v.Set("log.level", o.logLevel)
	}
	if f := cmd.Flags().Lookup("pretty"); f != nil && f.Changed {
		v.Set("log.pretty", o.pretty)
	}
	return config.Load(v)
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	if cfg.Log.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(cfg.LogLevel()).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
