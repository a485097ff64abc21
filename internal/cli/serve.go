package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contrapull/internal/config"
	"github.com/pendergraft/contrapull/internal/observability/metrics"
	"github.com/pendergraft/contrapull/internal/server"
	"github.com/pendergraft/contrapull/internal/storage"
)

func createServeCmd() *cobra.Command {
	var output string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve pulled sources over HTTP",
		Long: `Start a read-only HTTP server over the output directory and run history.

The server exposes pulled source trees, the verbatim explorer responses and
recorded runs as a JSON API, plus Prometheus metrics on /metrics.

EXAMPLES:
  # Serve the default output directory on :8080
  contrapull serve

  # Serve another output directory on another port
  contrapull serve --output ./mainnet-sources --port 9090
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(output, port)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory to serve (default: from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default: from config)")

	return cmd
}

func runServe(output string, port int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Flags and the project file override environment defaults
	project := loadProjectConfigSilent()
	cfg.Storage = storageConfig(project)
	if output == "" && project != nil && project.Output != "" {
		output = project.Output
	}
	if output != "" {
		cfg.Output.Dir = output
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logger := setupLogger(cfg)
	logger.Info("starting contrapull server", "version", cliVersion, "output_dir", cfg.Output.Dir)

	metrics.Init(cfg.Metrics.Enabled, "contrapull")

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	srv := server.New(cfg, store, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
