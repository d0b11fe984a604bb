package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/minutes/internal/app"
	"github.com/MrWong99/minutes/internal/config"
	"github.com/MrWong99/minutes/internal/observe"
)

func newServeCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, live view, MCP endpoint and metrics",
		Long: `Run the long-lived service.

Routes:
  /api/...        REST control and query API
  /ws             live session updates over WebSocket
  /metrics        Prometheus metrics
  /healthz        liveness probe
  /readyz         readiness probe (store and pipeline)
  <mcp.http_path> MCP tools over streamable HTTP when mcp.enabled is set

The config file is watched: log level changes apply immediately, other
changes are logged and take effect after a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
				ServiceName:    "minutes",
				ServiceVersion: version,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdownTelemetry(context.WithoutCancel(ctx)); err != nil {
					slog.Warn("telemetry shutdown error", "err", err)
				}
			}()

			if _, err := os.Stat(d.configPath); err == nil {
				w, err := config.NewWatcher(d.configPath, config.OnReload(d.level))
				if err != nil {
					return err
				}
				defer w.Stop()
			}

			application, err := app.New(ctx, d.cfg,
				app.WithVersion(version),
				app.WithRealtimeFile(true),
			)
			if err != nil {
				return err
			}

			slog.Info("minutes starting",
				"version", version,
				"listen_addr", d.cfg.Server.ListenAddr,
				"mcp", d.cfg.MCP.Enabled,
			)
			serveErr := application.Serve(ctx)
			if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
				slog.Error("serve error", "err", serveErr)
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			slog.Info("shutdown signal received, stopping")
			if err := application.Shutdown(shutdownCtx); err != nil {
				return err
			}
			slog.Info("goodbye")
			return serveErr
		},
	}
}
