package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/brownbaglunch/webhook/internal/rebuild"
	"github.com/brownbaglunch/webhook/internal/trigger"
	"github.com/brownbaglunch/webhook/internal/webhook"
	"github.com/brownbaglunch/webhook/pkg/config"
	"github.com/brownbaglunch/webhook/pkg/kafka"
	"github.com/brownbaglunch/webhook/pkg/metrics"
	"github.com/brownbaglunch/webhook/pkg/middleware"
)

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		Long: `Checks the search backend, then accepts rebuild triggers on the HTTP
webhook and, when Kafka is enabled, on the rebuild-requested topic.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// serve runs until SIGINT/SIGTERM. A run in progress at shutdown is cancelled
// and its queued follow-up dropped.
func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting bblfr webhook",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
		"alias", cfg.Elasticsearch.Alias,
		"source", cfg.Source.URL,
	)
	if cfg.Webhook.Secret == "" {
		slog.Warn("no webhook secret configured, triggers are not authenticated")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("failed to close integrations", "error", err)
		}
	}()

	scheduler := rebuild.NewScheduler(ctx, a.orchestrator)
	h := webhook.NewHandler(cfg, scheduler, a.runs, a.metrics)
	limiter := middleware.NewLimiter(cfg.Webhook.RatePerMinute, cfg.Webhook.Burst)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      webhook.NewRouter(h, a.checker, a.metrics, limiter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("webhook listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, a.registry)
	}

	if cfg.Kafka.Enabled && cfg.Kafka.Topics.RebuildRequested != "" {
		consumer := trigger.NewConsumer(kafka.NewConsumer(
			cfg.Kafka,
			cfg.Kafka.Topics.RebuildRequested,
			trigger.HandleMessage(scheduler),
		))
		g.Go(func() error {
			return consumer.Start(gctx)
		})
		slog.Info("consuming rebuild requests from kafka",
			"topic", cfg.Kafka.Topics.RebuildRequested,
			"group", cfg.Kafka.ConsumerGroup,
		)
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if shutdownMetrics != nil {
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
		return nil
	})

	err = g.Wait()
	// The scheduler runs on ctx, which may still be live if a server failed.
	stop()
	scheduler.Wait()
	slog.Info("bblfr webhook stopped")
	return err
}
