package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/brownbaglunch/webhook/internal/archive"
	"github.com/brownbaglunch/webhook/internal/history"
	"github.com/brownbaglunch/webhook/internal/notify"
	"github.com/brownbaglunch/webhook/internal/rebuild"
	"github.com/brownbaglunch/webhook/internal/webhook"
	"github.com/brownbaglunch/webhook/pkg/config"
	"github.com/brownbaglunch/webhook/pkg/elasticsearch"
	"github.com/brownbaglunch/webhook/pkg/health"
	"github.com/brownbaglunch/webhook/pkg/kafka"
	"github.com/brownbaglunch/webhook/pkg/metrics"
	"github.com/brownbaglunch/webhook/pkg/postgres"
	"github.com/brownbaglunch/webhook/pkg/redis"
	"github.com/brownbaglunch/webhook/pkg/resilience"
)

// app holds the process-wide collaborators shared by the subcommands.
type app struct {
	cfg          *config.Config
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	es           *elasticsearch.Client
	orchestrator *rebuild.Orchestrator
	runs         webhook.RunLister
	checker      *health.Checker

	closers []func() error
}

// newApp connects the search backend (fatal when unreachable) and every
// enabled integration, then builds the orchestrator.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		checker:  health.NewChecker(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	es, err := elasticsearch.New(ctx, cfg.Elasticsearch)
	if err != nil {
		return nil, err
	}
	a.es = es
	a.checker.Register("elasticsearch", health.PingCheck(es.Ping, health.StatusDown))
	slog.Info("connected to elasticsearch", "addresses", cfg.Elasticsearch.Addresses)

	deps := rebuild.Deps{
		Backend: es,
		Metrics: a.metrics,
	}

	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		a.checker.Register("redis", health.PingCheck(rdb.Ping, health.StatusDegraded))
		deps.Locker = rdb
		slog.Info("connected to redis, distributed run lock enabled", "addr", cfg.Redis.Addr)
	}

	if cfg.Postgres.Enabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDegraded))
		store := history.NewPostgresStore(db.DB)
		if err := store.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrating run history: %w", err)
		}
		deps.Recorder = store
		a.runs = store
		slog.Info("connected to postgres, run history persisted", "database", cfg.Postgres.Database)
	} else {
		store := history.NewMemoryStore(cfg.Rebuild.HistorySize)
		deps.Recorder = store
		a.runs = store
	}

	if cfg.Kafka.Enabled && cfg.Kafka.Topics.GenerationSwapped != "" {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.GenerationSwapped)
		a.closers = append(a.closers, producer.Close)
		deps.Notifier = notify.NewKafkaNotifier(producer, resilience.RetryConfig{})
		slog.Info("generation swaps published to kafka", "topic", cfg.Kafka.Topics.GenerationSwapped)
	}

	if cfg.Archive.Enabled {
		client, err := archive.NewMinioClient(cfg.Archive)
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Archiver = archive.NewStore(client, cfg.Archive)
		slog.Info("source payloads archived", "endpoint", cfg.Archive.Endpoint, "bucket", cfg.Archive.Bucket)
	}

	a.orchestrator = rebuild.New(cfg, deps)
	return a, nil
}

// Close releases the integrations in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
