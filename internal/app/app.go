// Package app initializes and holds the long-lived services of the
// crawler, acting as the composition root for the server binary.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/meridianlab/profile-crawler/internal/api"
	"github.com/meridianlab/profile-crawler/internal/blob"
	"github.com/meridianlab/profile-crawler/internal/clock/system"
	"github.com/meridianlab/profile-crawler/internal/config"
	"github.com/meridianlab/profile-crawler/internal/crawler"
	"github.com/meridianlab/profile-crawler/internal/dispatcher"
	"github.com/meridianlab/profile-crawler/internal/escalate"
	"github.com/meridianlab/profile-crawler/internal/fetch"
	"github.com/meridianlab/profile-crawler/internal/hash/sha256"
	"github.com/meridianlab/profile-crawler/internal/id/uuid"
	"github.com/meridianlab/profile-crawler/internal/metrics"
	"github.com/meridianlab/profile-crawler/internal/orchestrator"
	"github.com/meridianlab/profile-crawler/internal/parse"
	publishermemory "github.com/meridianlab/profile-crawler/internal/publisher/memory"
	queuememory "github.com/meridianlab/profile-crawler/internal/queue/memory"
	queuepubsub "github.com/meridianlab/profile-crawler/internal/queue/pubsub"
	"github.com/meridianlab/profile-crawler/internal/ratelimit"
	"github.com/meridianlab/profile-crawler/internal/retry"
	storagememory "github.com/meridianlab/profile-crawler/internal/storage/memory"
	storagepostgres "github.com/meridianlab/profile-crawler/internal/storage/postgres"
)

// App holds the shared services built from configuration. It is
// initialized once at startup, fails fast when a backend cannot be
// reached, and shuts everything down through Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	jobs     crawler.JobStore
	profiles crawler.ProfileStore
	limiter  *ratelimit.HostLimiter
	dispatch *dispatcher.Dispatcher
	server   *api.Server

	// pubsubQueue is set only for the pubsub backend; its Receive
	// loop replaces the dispatcher's pull loop.
	pubsubQueue  *queuepubsub.Queue
	orchestrator *orchestrator.Orchestrator

	closers []func()
}

// NewApp builds every service from the configuration. The config must
// already be validated.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	clock := system.New()

	jobs, profiles, err := a.buildStores(ctx, cfg, clock)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.jobs = jobs
	a.profiles = profiles

	blobs, err := a.buildBlobStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	queue, publisher, err := a.buildQueue(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.limiter = ratelimit.New(cfg.RateLimit.Interval(), logger.Named("ratelimit"))

	fetchers := fetch.NewRegistry()
	fetchers.Register(fetch.NewHTTPStrategy(fetch.HTTPConfig{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
	}, a.limiter, logger.Named("fetch.http")))
	if cfg.Render.Enabled {
		render := fetch.NewRenderStrategy(fetch.RenderConfig{
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Render.NavTimeoutSeconds) * time.Second,
			MaxParallel:       cfg.Render.MaxParallel,
		}, a.limiter, logger.Named("fetch.render"))
		fetchers.Register(render)
		a.closers = append(a.closers, render.Close)
	}

	parsers := parse.NewRegistry()
	parsers.Register(parse.NewGenericStrategy())
	parsers.Register(parse.NewPlatformStrategy())

	retrier := retry.NewExecutor(retry.Options{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay(),
		Multiplier:  cfg.Retry.Multiplier,
	}, logger.Named("retry"))

	processor := orchestrator.NewProcessor(orchestrator.ProcessorDeps{
		Fetchers: fetchers,
		Parsers:  parsers,
		Detector: escalate.NewHeuristic(cfg.Escalate.MinHTMLBytes),
		Retrier:  retrier,
		Jobs:     jobs,
		Profiles: profiles,
		Blobs:    blobs,
		Hasher:   sha256.New(),
		Clock:    clock,
		Logger:   logger.Named("processor"),
	})
	a.orchestrator = orchestrator.New(jobs, processor, publisher, clock, logger.Named("orchestrator"), orchestrator.Options{
		Concurrency:     cfg.Crawler.Concurrency,
		CompletionTopic: cfg.Events.CompletionTopic,
	})

	a.dispatch = dispatcher.New(queue, a.orchestrator, cfg.Crawler.Workers, logger.Named("dispatcher"))
	a.server = api.NewServer(jobs, profiles, a.dispatch, uuid.New(), clock, logger.Named("api"))
	return a, nil
}

func (a *App) buildStores(ctx context.Context, cfg config.Config, clock crawler.Clock) (crawler.JobStore, crawler.ProfileStore, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storagememory.NewJobStore(clock), storagememory.NewProfileStore(), nil
	case "postgres":
		pool, err := storagepostgres.Connect(ctx, storagepostgres.Config{DSN: cfg.Storage.DSN})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := storagepostgres.EnsureSchema(ctx, pool); err != nil {
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		jobs, err := storagepostgres.NewJobStore(pool, clock)
		if err != nil {
			return nil, nil, err
		}
		profiles, err := storagepostgres.NewProfileStore(pool)
		if err != nil {
			return nil, nil, err
		}
		a.logger.Info("connected to postgres")
		return jobs, profiles, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func (a *App) buildBlobStore(ctx context.Context, cfg config.Config) (crawler.BlobStore, error) {
	switch cfg.Blob.Backend {
	case "none":
		a.logger.Info("raw HTML archival disabled")
		return nil, nil
	case "memory":
		return blob.NewMemoryStore(), nil
	case "local":
		return blob.NewLocalStore(cfg.Blob.Dir)
	case "gcs":
		store, err := blob.NewGCSStore(ctx, cfg.Blob.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("connect gcs: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("gcs close failed", zap.Error(err))
			}
		})
		a.logger.Info("using gcs blob store", zap.String("bucket", cfg.Blob.GCSBucket))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}
}

func (a *App) buildQueue(ctx context.Context, cfg config.Config) (crawler.Queue, crawler.Publisher, error) {
	switch cfg.Queue.Backend {
	case "memory":
		q := queuememory.NewQueue(cfg.Queue.Depth)
		a.closers = append(a.closers, q.Close)
		var publisher crawler.Publisher
		if cfg.Events.CompletionTopic != "" {
			publisher = publishermemory.New()
		}
		return q, publisher, nil
	case "pubsub":
		q, err := queuepubsub.NewQueue(ctx, cfg.Queue.ProjectID, cfg.Queue.Topic, cfg.Queue.Subscription, a.logger.Named("pubsub"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect pubsub: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := q.Close(); err != nil {
				a.logger.Warn("pubsub close failed", zap.Error(err))
			}
		})
		a.pubsubQueue = q
		var publisher crawler.Publisher
		if cfg.Events.CompletionTopic != "" {
			publisher = queuepubsub.NewPublisher(q.Client())
		}
		a.logger.Info("connected to pubsub",
			zap.String("topic", cfg.Queue.Topic),
			zap.String("subscription", cfg.Queue.Subscription))
		return q, publisher, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run drives the worker side until the context ends: the per-host
// limiter cleanup and either the dispatcher's pull loop or, for the
// pubsub backend, the subscription receive loop.
func (a *App) Run(ctx context.Context) error {
	go a.limiter.RunCleanup(ctx)

	if a.pubsubQueue != nil {
		return a.pubsubQueue.Receive(ctx, func(ctx context.Context, item crawler.QueueItem) error {
			return a.orchestrator.Run(ctx, item.JobID)
		})
	}
	a.dispatch.Run(ctx)
	return nil
}

// Close shuts down every service in reverse initialization order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
