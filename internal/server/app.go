// Package server builds the harvester's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/api"
	"github.com/JakeFAU/review-harvester/internal/clock/system"
	"github.com/JakeFAU/review-harvester/internal/config"
	"github.com/JakeFAU/review-harvester/internal/dispatcher"
	"github.com/JakeFAU/review-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/review-harvester/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/review-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/review-harvester/internal/fetcher/promoting"
	"github.com/JakeFAU/review-harvester/internal/handoff"
	"github.com/JakeFAU/review-harvester/internal/headless/detector"
	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/id/uuid"
	"github.com/JakeFAU/review-harvester/internal/job"
	"github.com/JakeFAU/review-harvester/internal/logging"
	"github.com/JakeFAU/review-harvester/internal/metrics"
	"github.com/JakeFAU/review-harvester/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/review-harvester/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/review-harvester/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/review-harvester/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/review-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/review-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/review-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/review-harvester/internal/storage/postgres"
	"github.com/JakeFAU/review-harvester/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	clock        *system.Clock
	pgPool       *pgxpool.Pool
	gcsClient    *storage.Client
	closePubSub  func() error
	headless     *headlessfetcher.Fetcher
	reviews      harvest.RecordStore
	jobs         job.Store
	registry     *job.Registry
	queue        *queuememory.Queue
	controller   *harvest.Controller
	dispatch     *dispatcher.Dispatcher
	apiServer    *api.Server
	shutdownWait time.Duration
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Controller returns the shared harvest controller.
func (a *App) Controller() *harvest.Controller {
	return a.controller
}

// Handler returns the HTTP handler of the job-control API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Dispatcher returns the job dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatch
}

// Build creates the application's dependencies. On error every resource
// acquired so far is released.
func Build(ctx context.Context, cfg *config.Config) (app *App, err error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	partial := &App{
		cfg:          cfg,
		logger:       logger,
		clock:        system.New(),
		registry:     job.NewRegistry(),
		shutdownWait: time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
	}
	app = partial
	defer func() {
		if err != nil {
			_ = partial.Close(context.WithoutCancel(ctx)) //nolint:errcheck // build error wins
			app = nil
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("base_url", cfg.Crawler.BaseURL),
		zap.String("fetcher", cfg.Fetcher.Mode),
	)

	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}

	deliverer, err := setupHandoff(ctx, app)
	if err != nil {
		return nil, err
	}

	fetcher, err := setupFetcher(app)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
	})
	app.logger.Info("rate limiter configured",
		zap.Float64("requests_per_second", cfg.HTTP.RequestsPerSecond),
		zap.Int("burst", cfg.HTTP.Burst),
	)

	app.controller = harvest.NewController(
		harvest.Config{
			BaseURL: cfg.Crawler.BaseURL,
			Scheduler: harvest.SchedulerConfig{
				Timeout:    cfg.FetchTimeout(),
				MaxFetches: cfg.Crawler.MaxFetches,
				UserAgents: cfg.Crawler.UserAgents,
				Headers:    cfg.RequestHeaders(),
			},
		},
		fetcher,
		extract.New(app.logger.Named("extract")),
		app.reviews,
		deliverer,
		limiter,
		harvest.NewGate(cfg.Crawler.MaxInFlight),
		metrics.Observer{},
		app.clock,
		app.logger.Named("harvest"),
	)

	app.queue = queuememory.NewQueue(cfg.Crawler.QueueDepth)
	app.dispatch = setupDispatcher(app)

	app.apiServer = api.NewServer(
		app.dispatch,
		app.jobs,
		app.reviews,
		app.ready,
		api.Options{
			APIKey:         cfg.Server.APIKey,
			RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		},
		app.logger.Named("api"),
	)
	return app, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, using in-memory review and job stores")
		app.reviews = memorystorage.NewReviewStore()
		app.jobs = memorystorage.NewJobStore()
		return nil
	}
	var err error
	app.pgPool, err = pgstore.Connect(ctx, pgstore.PoolConfig{
		DSN:             app.cfg.DB.DSN,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(app.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	reviews, err := pgstore.NewReviewStoreWithPool(app.pgPool, app.cfg.DB.ReviewsTable)
	if err != nil {
		return fmt.Errorf("review store init failed: %w", err)
	}
	if err := reviews.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("review store schema failed: %w", err)
	}
	jobs, err := pgstore.NewJobStoreWithPool(app.pgPool, app.cfg.DB.JobsTable)
	if err != nil {
		return fmt.Errorf("job store init failed: %w", err)
	}
	if err := jobs.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("job store schema failed: %w", err)
	}
	app.reviews, app.jobs = reviews, jobs
	app.logger.Info("postgres stores initialized",
		zap.String("reviews_table", app.cfg.DB.ReviewsTable),
		zap.String("jobs_table", app.cfg.DB.JobsTable),
	)
	return nil
}

func setupHandoff(ctx context.Context, app *App) (harvest.Handoff, error) {
	if !app.cfg.HandoffEnabled() {
		app.logger.Info("handoff disabled")
		return nil, nil
	}
	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	exporter, err := handoff.NewExporter(blobs, publisher, app.clock, handoff.Config{Prefix: app.cfg.Storage.Prefix}, app.logger.Named("handoff"))
	if err != nil {
		return nil, fmt.Errorf("handoff init failed: %w", err)
	}
	return exporter, nil
}

func setupStorage(ctx context.Context, app *App) (handoff.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.StorageLocal:
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.LocalDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (handoff.Publisher, error) {
	if app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	publisher, closeFn, err := gcppublisher.Connect(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub init failed: %w", err)
	}
	app.closePubSub = closeFn
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return publisher, nil
}

func setupFetcher(app *App) (harvest.Fetcher, error) {
	switch app.cfg.Fetcher.Mode {
	case config.FetcherHeadless:
		return setupHeadless(app)
	case config.FetcherAuto:
		probe, err := setupColly(app)
		if err != nil {
			return nil, err
		}
		rendered, err := setupHeadless(app)
		if err != nil {
			return nil, err
		}
		fetcher, err := promoting.New(probe, rendered, detector.NewHeuristic(0), app.logger.Named("fetcher"))
		if err != nil {
			return nil, fmt.Errorf("promoting fetcher init failed: %w", err)
		}
		return fetcher, nil
	default:
		return setupColly(app)
	}
}

func setupHeadless(app *App) (harvest.Fetcher, error) {
	fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		NavigationTimeout: time.Duration(app.cfg.Headless.NavTimeoutSec) * time.Second,
		WaitSelector:      app.cfg.Headless.WaitSelector,
		SettleDelay:       time.Duration(app.cfg.Headless.SettleDelayMs) * time.Millisecond,
		ProxyURL:          app.cfg.HTTP.ProxyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	app.headless = fetcher
	app.logger.Info("using headless fetcher", zap.String("wait_selector", app.cfg.Headless.WaitSelector))
	return fetcher, nil
}

func setupColly(app *App) (harvest.Fetcher, error) {
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		ProxyURL:      app.cfg.HTTP.ProxyURL,
		RespectRobots: app.cfg.HTTP.RespectRobots,
		Timeout:       app.cfg.FetchTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("colly fetcher init failed: %w", err)
	}
	app.logger.Info("using colly fetcher", zap.Bool("respect_robots", app.cfg.HTTP.RespectRobots))
	return fetcher, nil
}

func setupDispatcher(app *App) *dispatcher.Dispatcher {
	workers := make([]*worker.Worker, 0, app.cfg.Crawler.Concurrency)
	for i := 0; i < app.cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(
			app.queue,
			app.jobs,
			app.registry,
			app.controller,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	app.logger.Info("worker pool configured",
		zap.Int("workers", len(workers)),
		zap.Int("queue_depth", app.cfg.Crawler.QueueDepth),
		zap.Int("max_in_flight", app.cfg.Crawler.MaxInFlight),
	)
	return dispatcher.New(app.queue, app.jobs, app.registry, uuid.New(), app.clock, workers, app.logger.Named("dispatcher"))
}

func (a *App) ready(ctx context.Context) error {
	if a.pgPool == nil {
		return nil
	}
	if err := a.pgPool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Run serves the API and runs the worker pool until ctx is canceled. Active
// harvests are asked to stop so they can dedupe before the workers exit.
// The caller still owns Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(workerCtx)
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
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownWait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	a.queue.Close()
	if stopped := a.dispatch.StopAll(shutdownCtx); len(stopped) > 0 {
		a.logger.Info("waiting for active harvests", zap.Strings("job_ids", stopped))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("harvests did not finish before the shutdown deadline")
	}
	cancelWorkers()
	<-dispatchDone
	return runErr
}

// Harvest runs one harvest in the foreground, outside the job queue.
func (a *App) Harvest(ctx context.Context, subjectID string, stop *harvest.StopToken) (harvest.Summary, error) {
	if err := harvest.ValidateSubjectID(subjectID); err != nil {
		return harvest.Summary{}, err
	}
	summary, err := a.controller.Run(ctx, subjectID, stop)
	status := string(job.StatusDone)
	if err != nil {
		status = string(job.StatusFailed)
	}
	metrics.ObserveHarvest(status, summary.DuplicatesRemoved)
	if err != nil {
		return summary, fmt.Errorf("harvest %s: %w", subjectID, err)
	}
	return summary, nil
}

// Close releases every external resource. It is safe on a partially built App.
func (a *App) Close(_ context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.headless != nil {
		a.headless.Close()
	}
	if a.closePubSub != nil {
		if err := a.closePubSub(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub close: %w", err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
