// Package app builds the long-lived services of the ingestion service and owns their
// shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vacancy-ingest/internal/api"
	"github.com/JakeFAU/vacancy-ingest/internal/clock/system"
	"github.com/JakeFAU/vacancy-ingest/internal/cluster"
	"github.com/JakeFAU/vacancy-ingest/internal/config"
	"github.com/JakeFAU/vacancy-ingest/internal/dispatcher"
	"github.com/JakeFAU/vacancy-ingest/internal/extractor"
	collyfetcher "github.com/JakeFAU/vacancy-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/vacancy-ingest/internal/hash/sha256"
	"github.com/JakeFAU/vacancy-ingest/internal/id/uuid"
	"github.com/JakeFAU/vacancy-ingest/internal/inference"
	"github.com/JakeFAU/vacancy-ingest/internal/metrics"
	"github.com/JakeFAU/vacancy-ingest/internal/normalize"
	"github.com/JakeFAU/vacancy-ingest/internal/pipeline"
	"github.com/JakeFAU/vacancy-ingest/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/vacancy-ingest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/vacancy-ingest/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/vacancy-ingest/internal/queue/memory"
	"github.com/JakeFAU/vacancy-ingest/internal/scraper"
	gcsstorage "github.com/JakeFAU/vacancy-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/vacancy-ingest/internal/storage/local"
	memoryStorage "github.com/JakeFAU/vacancy-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/vacancy-ingest/internal/storage/postgres"
	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
	"github.com/JakeFAU/vacancy-ingest/internal/worker"
)

// Parts selects which services Build creates. Commands only pay for what they use.
type Parts uint8

// Buildable parts. PartPipeline implies PartStore and PartScraper; PartServer implies
// PartPipeline.
const (
	PartStore Parts = 1 << iota
	PartScraper
	PartPipeline
	PartServer
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store     vacancy.Store
	pgStore   *pgstore.VacancyStore
	archive   vacancy.BlobStore
	gcs       *gcsstorage.BlobStore
	publisher vacancy.Publisher
	pubsub    *gcppublisher.Publisher
	scraper   *scraper.Scraper
	pipeline  *pipeline.Pipeline

	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
}

// Build creates the requested services. On error everything already opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, parts Parts) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parts&PartServer != 0 {
		parts |= PartPipeline
	}
	if parts&PartPipeline != 0 {
		parts |= PartStore | PartScraper
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	a.logger.Info("building application dependencies",
		zap.String("store", cfg.Store.Provider),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("publisher", cfg.Publisher.Provider),
	)

	steps := []struct {
		part Parts
		fn   func(context.Context) error
	}{
		{PartStore, a.setupStore},
		{PartScraper, a.setupScraper},
		{PartPipeline, a.setupPipeline},
		{PartServer, a.setupServer},
	}
	for _, step := range steps {
		if parts&step.part == 0 {
			continue
		}
		if err := step.fn(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Provider {
	case config.ProviderPostgres:
		s, err := pgstore.NewVacancyStore(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		}, a.logger.Named("store"))
		if err != nil {
			return fmt.Errorf("vacancy store init failed: %w", err)
		}
		a.pgStore = s
		a.store = s
		a.logger.Info("using postgres vacancy store")
	default:
		a.store = memoryStorage.NewVacancyStore()
		a.logger.Warn("using in-memory vacancy store; data is lost on exit")
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	var err error
	switch a.cfg.Archive.Provider {
	case config.ProviderGCS:
		a.gcs, err = gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket}, a.logger.Named("gcs"))
		if err != nil {
			return fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.archive = a.gcs
		a.logger.Info("archiving detail pages to gcs", zap.String("bucket", a.cfg.Archive.GCSBucket))
	case config.ProviderLocal:
		a.archive, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving detail pages locally", zap.String("path", a.cfg.Archive.BaseDir))
	case config.ProviderMemory:
		a.archive = memoryStorage.NewBlobStore()
	default:
		a.logger.Debug("detail page archive disabled")
	}
	return nil
}

func (a *App) setupScraper(ctx context.Context) error {
	if err := a.setupArchive(ctx); err != nil {
		return err
	}
	fetcher := collyfetcher.New(
		collyfetcher.Config{
			Timeout:          a.cfg.Fetcher.Timeout,
			MaxAttempts:      a.cfg.Fetcher.MaxAttempts,
			RateLimitBackoff: a.cfg.Fetcher.RateLimitBackoff,
			Proxy:            a.cfg.Fetcher.Proxy,
		},
		collyfetcher.WithThrottle(ratelimit.New(ratelimit.Config{
			RequestsPerSecond: a.cfg.Fetcher.RequestsPerSecond,
			Burst:             a.cfg.Fetcher.Burst,
		})),
		collyfetcher.WithLogger(a.logger.Named("fetcher")),
	)
	opts := []scraper.Option{scraper.WithLogger(a.logger.Named("scraper"))}
	if a.archive != nil {
		opts = append(opts, scraper.WithArchive(a.archive, sha256.New(), a.cfg.Archive.Prefix, a.cfg.Archive.ContentType))
	}
	a.scraper = scraper.New(scraper.Config{
		BaseDomain:    a.cfg.Scraper.BaseDomain,
		Scheme:        a.cfg.Scraper.Scheme,
		DefaultRegion: a.cfg.Scraper.DefaultRegion,
		Concurrency:   a.cfg.Scraper.Concurrency,
		AdHosts:       a.cfg.Scraper.AdHosts,
	}, fetcher, opts...)
	a.logger.Info("scraper ready",
		zap.String("domain", a.cfg.Scraper.BaseDomain),
		zap.Int("concurrency", a.cfg.Scraper.Concurrency),
		zap.Float64("requests_per_second", a.cfg.Fetcher.RequestsPerSecond),
	)
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	switch a.cfg.Publisher.Provider {
	case config.ProviderPubSub:
		p, err := gcppublisher.New(ctx, a.cfg.Publisher.ProjectID, a.cfg.Publisher.Topic)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.pubsub = p
		a.publisher = p
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Publisher.ProjectID),
			zap.String("topic", a.cfg.Publisher.Topic),
		)
	case config.ProviderMemory:
		a.publisher = memorypublisher.New(a.eventTopic())
	default:
		a.logger.Debug("event publishing disabled")
	}
	return nil
}

// DefaultEventTopic receives batch and run events when publisher.topic is unset and the
// memory publisher is used.
const DefaultEventTopic = "vacancy-events"

// eventTopic is the topic shared by batch and run events.
func (a *App) eventTopic() string {
	if a.cfg.Publisher.Topic == "" && a.cfg.Publisher.Provider == config.ProviderMemory {
		return DefaultEventTopic
	}
	return a.cfg.Publisher.Topic
}

func (a *App) setupPipeline(ctx context.Context) error {
	if err := a.setupPublisher(ctx); err != nil {
		return err
	}
	models := inference.New(inference.Config{
		LabelerURL:     a.cfg.Inference.LabelerURL,
		EmbedderURL:    a.cfg.Inference.EmbedderURL,
		EmbeddingModel: a.cfg.Inference.EmbeddingModel,
		APIKey:         a.cfg.Inference.APIKey,
		Timeout:        a.cfg.Inference.Timeout,
	}, inference.WithLogger(a.logger.Named("inference")))
	if a.cfg.Inference.LabelerURL == "" || a.cfg.Inference.EmbedderURL == "" {
		a.logger.Warn("inference endpoints not configured; runs will fail at skill extraction")
	}
	canon, err := normalize.New()
	if err != nil {
		return fmt.Errorf("normalizer init failed: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(a.logger.Named("pipeline")),
		pipeline.WithClock(system.New()),
	}
	if a.publisher != nil {
		opts = append(opts, pipeline.WithPublisher(a.publisher))
	}
	a.pipeline = pipeline.New(
		pipeline.Config{
			BatchPages:         a.cfg.Pipeline.BatchPages,
			ExtractConcurrency: a.cfg.Extractor.Concurrency,
			DefaultRegion:      a.cfg.Pipeline.DefaultRegion,
			DefaultQuery:       a.cfg.Pipeline.DefaultQuery,
			Topic:              a.eventTopic(),
		},
		a.scraper,
		extractor.New(models, a.cfg.Extractor.ChunkSize, extractor.WithLogger(a.logger.Named("extractor"))),
		cluster.New(models, cluster.Config{
			Eps:            a.cfg.Cluster.Eps,
			RefineEps:      a.cfg.Cluster.RefineEps,
			MaxClusterSize: a.cfg.Cluster.MaxClusterSize,
			MaxRefineDepth: a.cfg.Cluster.MaxRefineDepth,
		}, cluster.WithLogger(a.logger.Named("cluster"))),
		canon,
		a.store,
		opts...,
	)
	return nil
}

func (a *App) setupServer(_ context.Context) error {
	a.queue = queueMemory.NewQueue(a.cfg.Runs.QueueDepth)
	runs := memoryStorage.NewRunStore()
	registry := worker.NewRegistry()
	clock := system.New()

	workerCfg := worker.Config{Topic: a.eventTopic()}
	workers := make([]*worker.Worker, 0, a.cfg.Runs.Workers)
	for i := 0; i < a.cfg.Runs.Workers; i++ {
		workers = append(workers, worker.New(
			a.queue,
			runs,
			a.pipeline,
			registry,
			a.publisher,
			clock,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("worker", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, registry, workers)
	a.apiServer = api.NewServer(
		runs,
		a.dispatch,
		a.store,
		a.scraper,
		uuid.New(),
		clock,
		*a.cfg,
		a.logger.Named("api"),
	)
	a.logger.Info("run workers ready", zap.Int("workers", a.cfg.Runs.Workers), zap.Int("queue_depth", a.cfg.Runs.QueueDepth))
	return nil
}

// Store returns the vacancy store.
func (a *App) Store() vacancy.Store { return a.store }

// Scraper returns the configured scraper.
func (a *App) Scraper() *scraper.Scraper { return a.scraper }

// Pipeline returns the ingestion pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Migrate creates the relational schema. It is a no-op for the in-memory store.
func (a *App) Migrate(ctx context.Context) error {
	if a.pgStore == nil {
		a.logger.Info("in-memory store needs no migration")
		return nil
	}
	if err := a.pgStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema migrated")
	return nil
}

// Serve runs the HTTP API and the run workers until ctx is canceled, then shuts down.
// Runs in flight stop at their next batch boundary.
func (a *App) Serve(ctx context.Context) error {
	if a.apiServer == nil {
		return errors.New("server part not built")
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()

	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers still running at shutdown deadline")
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every opened client.
func (a *App) Close() {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	a.logger.Info("shutdown complete")
}
