// Package app builds the long-lived services of a reconciler process from
// configuration and runs the reconciliation phases over them.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/api"
	"github.com/JakeFAU/corpus-reconciler/internal/artifact"
	"github.com/JakeFAU/corpus-reconciler/internal/clock/system"
	"github.com/JakeFAU/corpus-reconciler/internal/config"
	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
	"github.com/JakeFAU/corpus-reconciler/internal/hash/sha256"
	"github.com/JakeFAU/corpus-reconciler/internal/id/uuid"
	"github.com/JakeFAU/corpus-reconciler/internal/ledger"
	"github.com/JakeFAU/corpus-reconciler/internal/metrics"
	"github.com/JakeFAU/corpus-reconciler/internal/policy/ratelimit"
	"github.com/JakeFAU/corpus-reconciler/internal/progress"
	progresssinks "github.com/JakeFAU/corpus-reconciler/internal/progress/sinks"
	"github.com/JakeFAU/corpus-reconciler/internal/publisher"
	memorypublisher "github.com/JakeFAU/corpus-reconciler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/corpus-reconciler/internal/publisher/pubsub"
	"github.com/JakeFAU/corpus-reconciler/internal/source/cntd"
	gcsstorage "github.com/JakeFAU/corpus-reconciler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/corpus-reconciler/internal/storage/local"
	memorystorage "github.com/JakeFAU/corpus-reconciler/internal/storage/memory"
	pgstore "github.com/JakeFAU/corpus-reconciler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/corpus-reconciler/internal/storage/sqlite"
	"github.com/JakeFAU/corpus-reconciler/internal/store"
)

// App contains the process-wide dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	hub       *progress.Hub
	corpus    corpus.CorpusStore
	artifacts *artifact.Repository
	ledger    ledger.Ledger
	runs      store.RunRepository
	publisher corpus.Publisher
	notifier  *publisher.Notifier
	source    *cntd.Client
	content   corpus.ContentExtractor
	retry     corpus.RetryPolicy
	clock     corpus.Clock
	ids       *uuid.Generator
	ready     []api.ReadinessCheck
	http      *metrics.HTTP

	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Build creates the application's dependencies. On failure everything opened
// so far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		clock:    system.New(),
		ids:      uuid.New(),
		retry: corpus.NewExponentialRetryPolicy(corpus.RetryConfig{
			MaxAttempts:         cfg.Retry.MaxAttempts,
			BaseDelay:           cfg.Retry.BaseDelay,
			MaxDelay:            cfg.Retry.MaxDelay,
			RateLimitMultiplier: cfg.Retry.RateLimitMultiplier,
		}),
	}
	defer func() {
		if err == nil {
			return
		}
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
	}()
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if app.http, err = metrics.NewHTTP(app.registry); err != nil {
		return nil, err
	}

	app.logger.Info("building application dependencies",
		zap.String("corpus_backend", cfg.Storage.Backend),
		zap.String("artifacts_backend", cfg.Artifacts.Backend),
		zap.String("ledger_backend", cfg.Ledger.Backend),
	)
	for _, setup := range []func(context.Context, *App) error{
		setupCorpus,
		setupArtifacts,
		setupLedger,
		setupPublisher,
		setupProgress,
		setupSource,
	} {
		if err = setup(ctx, app); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Ledger returns the retry ledger.
func (a *App) Ledger() ledger.Ledger {
	return a.ledger
}

// StatusServer builds the HTTP status server over the app's stores.
func (a *App) StatusServer() *api.Server {
	return api.NewServer(api.Options{
		Runs:     a.runs,
		Ledger:   a.ledger,
		Gatherer: a.registry,
		Metrics:  a.http,
		Ready:    a.ready,
		APIKey:   a.cfg.Server.APIKey,
		Logger:   a.logger.Named("api"),
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) addReady(name string, check func(ctx context.Context) error) {
	a.ready = append(a.ready, api.ReadinessCheck{Name: name, Check: check})
}

func setupCorpus(ctx context.Context, app *App) error {
	switch app.cfg.Storage.Backend {
	case config.BackendPostgres:
		pgCfg := app.cfg.Storage.Postgres
		pool, err := pgstore.NewPool(ctx, pgstore.Config{
			DSN:             pgCfg.DSN,
			Table:           pgCfg.Table,
			MaxConns:        pgCfg.MaxConns,
			MinConns:        pgCfg.MinConns,
			MaxConnLifetime: pgCfg.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres pool init failed: %w", err)
		}
		app.onClose("postgres pool", func(context.Context) error {
			pool.Close()
			return nil
		})
		app.addReady("postgres", pingPool(pool))
		corpusStore, err := pgstore.NewCorpusStore(pool, pgCfg.Table)
		if err != nil {
			return fmt.Errorf("postgres corpus store init failed: %w", err)
		}
		runs, err := pgstore.NewRunStore(pool)
		if err != nil {
			return fmt.Errorf("postgres run store init failed: %w", err)
		}
		app.corpus, app.runs = corpusStore, runs
		app.logger.Info("postgres corpus store initialized", zap.String("table", pgCfg.Table))
	case config.BackendSQLite:
		sqliteStore, err := sqlitestore.Open(ctx, sqlitestore.Config{
			Path:  app.cfg.Storage.SQLite.Path,
			Table: app.cfg.Storage.SQLite.Table,
		})
		if err != nil {
			return fmt.Errorf("sqlite corpus store init failed: %w", err)
		}
		app.onClose("sqlite", func(context.Context) error { return sqliteStore.Close() })
		app.addReady("sqlite", sqliteStore.Ping)
		app.corpus = sqliteStore
		app.runs = memorystorage.NewRunStore()
		app.logger.Info("sqlite corpus store initialized", zap.String("path", app.cfg.Storage.SQLite.Path))
	default:
		app.logger.Warn("using in-memory corpus store; documents are not persisted")
		app.corpus = memorystorage.NewCorpusStore()
		app.runs = memorystorage.NewRunStore()
	}
	return nil
}

func pingPool(pool *pgxpool.Pool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		return nil
	}
}

func setupArtifacts(ctx context.Context, app *App) error {
	var artifactStore corpus.ArtifactStore
	switch app.cfg.Artifacts.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		app.onClose("gcs client", func(context.Context) error { return client.Close() })
		gcsStore, err := gcsstorage.Open(ctx, client, gcsstorage.Config{
			Bucket: app.cfg.Artifacts.GCSBucket,
			Prefix: app.cfg.Artifacts.GCSPrefix,
		})
		if err != nil {
			return fmt.Errorf("gcs artifact store init failed: %w", err)
		}
		artifactStore = gcsStore
		app.logger.Info("using GCS artifact store", zap.String("bucket", app.cfg.Artifacts.GCSBucket))
	case config.BackendLocal:
		localStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Artifacts.Dir})
		if err != nil {
			return fmt.Errorf("local artifact store init failed: %w", err)
		}
		artifactStore = localStore
		app.logger.Info("using local artifact store", zap.String("dir", app.cfg.Artifacts.Dir))
	default:
		app.logger.Info("using in-memory artifact store")
		artifactStore = memorystorage.NewArtifactStore()
	}
	app.artifacts = artifact.NewRepository(artifactStore, sha256.New(), app.logger.Named("artifacts"))
	return nil
}

func setupLedger(ctx context.Context, app *App) error {
	ledgerCfg := app.cfg.Ledger
	switch ledgerCfg.Backend {
	case config.BackendRedis:
		client, err := ledger.NewRedisClient(ctx, ledger.RedisConfig{
			Addr:     ledgerCfg.Redis.Addr,
			Password: ledgerCfg.Redis.Password,
			DB:       ledgerCfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("redis ledger init failed: %w", err)
		}
		app.onClose("redis", func(context.Context) error { return client.Close() })
		app.addReady("redis", pingRedis(client))
		redisLedger, err := ledger.NewRedisLedger(client, ledgerCfg.Redis.Key, app.logger.Named("ledger"))
		if err != nil {
			return fmt.Errorf("redis ledger init failed: %w", err)
		}
		app.ledger = redisLedger
		app.logger.Info("using redis ledger", zap.String("key", ledgerCfg.Redis.Key))
	default:
		fileLedger, err := ledger.NewFileLedger(ledgerCfg.Path, app.logger.Named("ledger"))
		if err != nil {
			return fmt.Errorf("file ledger init failed: %w", err)
		}
		app.ledger = fileLedger
		app.logger.Info("using file ledger", zap.String("path", ledgerCfg.Path))
	}
	return nil
}

func pingRedis(client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		return nil
	}
}

func setupPublisher(ctx context.Context, app *App) error {
	psCfg := app.cfg.PubSub
	if !psCfg.Enabled {
		app.logger.Debug("pub/sub disabled, recording run notifications in memory")
		app.publisher = memorypublisher.New()
		app.notifier = publisher.NewNotifier(app.publisher, psCfg.Topic, app.logger.Named("notify"))
		return nil
	}
	client, err := pubsub.NewClient(ctx, psCfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.onClose("pubsub client", func(context.Context) error { return client.Close() })
	gcp := gcppublisher.New(client.Publisher(psCfg.Topic))
	app.onClose("pubsub publisher", func(context.Context) error {
		gcp.Stop()
		return nil
	})
	app.publisher = gcp
	app.notifier = publisher.NewNotifier(gcp, psCfg.Topic, app.logger.Named("notify"))
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", psCfg.ProjectID),
		zap.String("topic", psCfg.Topic),
	)
	return nil
}

func setupProgress(ctx context.Context, app *App) error {
	promSink, err := progresssinks.NewPrometheusSink(app.registry)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if app.cfg.Progress.PersistRuns {
		sinkList = append(sinkList, progresssinks.NewStoreSink(app.runs, app.logger.Named("progress_store")))
		app.logger.Debug("added run store sink")
	}
	if app.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.BatchEvents,
		MaxBatchWait:   app.cfg.Progress.BatchWait,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.hub = progress.NewHub(hubCfg, sinkList...)
	app.onClose("progress hub", app.hub.Close)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
	)
	return nil
}

func setupSource(_ context.Context, app *App) error {
	srcCfg := app.cfg.Source
	waits := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconciler_ratelimit_wait_seconds",
		Help:    "Time requests spent waiting for the per-host rate limiter.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"host"})
	if err := app.registry.Register(waits); err != nil {
		return fmt.Errorf("register rate limit metrics: %w", err)
	}
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   srcCfg.RatePerSecond,
		Burst: srcCfg.Burst,
		Observe: func(host string, waited time.Duration) {
			waits.WithLabelValues(host).Observe(waited.Seconds())
		},
	})

	client, err := cntd.New(cntd.Config{
		BaseURL:       srcCfg.BaseURL,
		UserAgent:     srcCfg.UserAgent,
		Timeout:       srcCfg.RequestTimeout,
		RatePerSecond: srcCfg.RatePerSecond,
		Burst:         srcCfg.Burst,
		Date:          srcCfg.Date,
	}, limiter, app.logger.Named("cntd"))
	if err != nil {
		return fmt.Errorf("cntd client init failed: %w", err)
	}
	app.source = client
	app.content = client

	if srcCfg.Headless {
		headless, err := cntd.NewHeadless(cntd.HeadlessConfig{
			BaseURL:           srcCfg.BaseURL,
			UserAgent:         srcCfg.UserAgent,
			MaxParallel:       app.cfg.Backfill.Concurrency,
			NavigationTimeout: srcCfg.HeadlessTimeout,
		}, limiter, app.logger.Named("headless"))
		if err != nil {
			return fmt.Errorf("headless extractor init failed: %w", err)
		}
		app.onClose("headless browser", func(context.Context) error {
			headless.Close()
			return nil
		})
		app.content = headless
		app.logger.Info("using headless content extractor", zap.Duration("navigation_timeout", srcCfg.HeadlessTimeout))
	}
	return nil
}
