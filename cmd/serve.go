package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/pocketrec/internal/config"
	"github.com/audiolibrelab/pocketrec/internal/observe"
	"github.com/audiolibrelab/pocketrec/internal/server"
	"github.com/audiolibrelab/pocketrec/internal/service"
	"github.com/audiolibrelab/pocketrec/internal/session"

	"github.com/spf13/cobra"
)

// version is reported as the service version in telemetry
var version = "dev"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the PocketRec web server to control recording via HTTP.
This allows you to record from your phone or any device on the same network.
A live waveform is streamed over a websocket at /api/waveform and
Prometheus metrics are served at /metrics unless disabled in the config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.Server.Port = port
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return fmt.Errorf("failed to init telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				slog.Warn("Telemetry shutdown failed", "error", err)
			}
		}()

		metrics := observe.DefaultMetrics()
		svc, err := service.NewFromConfig(ctx, cfg, metrics)
		if err != nil {
			return err
		}

		activeProfile := profile
		if cfgFile != "" && activeProfile == "" {
			if _, active, err := config.ProfileNames(cfgFile); err == nil {
				activeProfile = active
			}
		}

		srv := server.New(svc, cfgFile, activeProfile, metrics)
		slog.Info("PocketRec web server starting", "port", cfg.Server.Port, "config", cfgFile, "profile", activeProfile)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Start(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			slog.Info("Shutting down")
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			// An unfinished session is stopped so its audio is not lost
			if st := svc.GetRecordingStatus().State; st != session.StateIdle && st != session.StateStopped {
				if _, err := svc.StopRecording(closeCtx); err != nil {
					slog.Error("Failed to stop recording on shutdown", "error", err)
				}
			}
			return svc.Close(closeCtx)
		})

		if err := g.Wait(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the web server (overrides config)")
}
