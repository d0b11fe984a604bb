package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/MrWong99/minutes/internal/config"
	"github.com/MrWong99/minutes/internal/credentials"
)

// defaultConfigPath is used when --config is not given. A missing default
// file means built-in defaults; a missing explicit file is an error.
const defaultConfigPath = "minutes.yaml"

// shutdownTimeout bounds the graceful teardown after a signal.
const shutdownTimeout = 15 * time.Second

// deps is shared by every subcommand. It is filled in PersistentPreRunE.
type deps struct {
	configPath string
	jq         string
	query      *gojq.Query
	cfg        *config.Config
	level      *slog.LevelVar
}

func newRootCmd() *cobra.Command {
	d := &deps{level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:           "minutes",
		Short:         "Record meetings, transcribe them, and extract summaries and action items",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return d.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&d.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&d.jq, "jq", "", "jq expression applied to JSON output, e.g. '.[].title'")

	root.AddCommand(
		newServeCmd(d),
		newRecordCmd(d),
		newTranscribeCmd(d),
		newDevicesCmd(d),
		newMeetingsCmd(d),
		newActionsCmd(d),
		newMCPCmd(d),
		newAuthCmd(),
	)
	return root
}

// load reads the config and installs the process logger.
func (d *deps) load(cmd *cobra.Command) error {
	if d.jq != "" {
		q, err := gojq.Parse(d.jq)
		if err != nil {
			return fmt.Errorf("invalid --jq expression %q: %w", d.jq, err)
		}
		d.query = q
	}

	cfg, err := config.Load(d.configPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config"):
		cfg, err = config.LoadFromReader(strings.NewReader(""))
		if err != nil {
			return err
		}
	default:
		return err
	}
	cfg.Secrets = credentials.Lookup
	d.cfg = cfg

	d.level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, d.level))
	slog.Debug("configuration loaded", "path", d.configPath, "source", cfg.Audio.Source, "store", cfg.Store.Backend)
	return nil
}

// newLogger writes to w so stdout stays free for command output and the
// MCP stdio transport.
func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
