package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voicecap/internal/server"
)

var (
	runCycles int
	runPause  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Record and transcribe in a loop",
	Long: `Run capture cycles until interrupted (or --cycles is reached). Between
cycles the transcription connection is kept tidy. When http.enabled is set
the HTTP API is served alongside the loop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, globalConfig, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		var httpServer *server.HTTPServer
		if globalConfig.HTTP.Enabled {
			var hist server.HistoryReader
			if a.history != nil {
				hist = a.history
			}
			httpServer = server.NewHTTPServer(globalConfig.HTTP, logger, globalConfig,
				a.pipeline, a.client, hist, a.registry, a.metrics)
			if err := httpServer.Start(); err != nil {
				return err
			}
		}

		logger.Info("Service started",
			slog.String("service", serviceName),
			slog.String("version", serviceVersion))

		runErr := a.pipeline.Run(ctx, runCycles, runPause)

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			}
		}

		stats := a.pipeline.Stats()
		clientStats := a.client.GetStats()
		logger.Info("Final statistics",
			slog.Uint64("cycles", stats.Cycles),
			slog.Uint64("keepalives", stats.KeepAlives),
			slog.Uint64("transcription_requests", clientStats.TotalRequests),
			slog.Float64("success_rate", clientStats.SuccessRate))

		logger.Info("Service stopped")
		return runErr
	},
}

func init() {
	runCmd.Flags().IntVarP(&runCycles, "cycles", "n", 0, "number of cycles to run (0 = until interrupted)")
	runCmd.Flags().DurationVar(&runPause, "pause", time.Second, "idle time between cycles")
}
