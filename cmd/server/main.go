package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kdimtricp/modcheck/internal/api"
	"github.com/kdimtricp/modcheck/internal/bootstrap"
	"github.com/kdimtricp/modcheck/internal/config"
	"github.com/kdimtricp/modcheck/internal/logging"
)

func main() {
	var configFile, envFile string

	cmd := &cobra.Command{
		Use:           "modcheck-server",
		Short:         "Serve the media moderation API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, envFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "Path to a config file (yaml, json or toml)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to a .env file; ignored if missing")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, logCloser, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	services, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	app := &api.App{
		Moderator: services.Orchestrator,
		Records:   services.Store,
		Logger:    logger,
	}
	router := api.NewRouter(app, api.RouterConfig{
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     promhttp.HandlerFor(services.Registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server starting",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"cache", cfg.Cache.Backend,
		"poll_interval", cfg.Moderation.PollInterval,
		"poll_budget", cfg.Moderation.PollBudget,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
		}
		if err := services.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}
