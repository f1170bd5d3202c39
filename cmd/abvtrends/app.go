package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Stewart-Y/ABVTrends-sub000/config"
	"github.com/Stewart-Y/ABVTrends-sub000/internal/handlers"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/database"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/forecasting"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/graph"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/health"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/kafka"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/locks"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/matching"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/pipeline"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/redis"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/repositories"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/scoring"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/sources"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/startup"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/timeseries"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing/exporters"
)

const (
	depTracing    = "tracing"
	depDatabase   = "database"
	depMigrations = "migrations"
	depRedis      = "redis"
	depKafka      = "kafka"
	depGraph      = "graph"
	depPipeline   = "pipeline"
	depScheduler  = "scheduler"
	depHTTP       = "http"
)

// app holds every component of a running process. Fields are filled in as
// startup dependencies come up.
type app struct {
	cfg    *config.Config
	logger ectologger.Logger

	// inProcessLocks swaps the Redis locker for an in-memory one.
	inProcessLocks bool

	traceShutdown func(context.Context) error
	db            database.DB
	redis         *redis.Client
	locker        locks.Locker
	producer      *kafka.Producer
	graph         *graph.Client
	projector     *graph.Projector

	catalog      *repositories.CatalogRepository
	reviews      *repositories.ReviewRepository
	signals      *repositories.SignalRepository
	observations *repositories.ObservationRepository
	scores       *repositories.ScoreRepository
	runs         *repositories.RunRepository
	sourceRows   *repositories.SourceRepository

	registry     *sources.Registry
	sources      *sources.Set
	series       *timeseries.Accessor
	matcher      *matching.Matcher
	scorer       *scoring.Scorer
	forecaster   *forecasting.Forecaster
	orchestrator *pipeline.Orchestrator
	scheduler    *pipeline.Scheduler

	checker *health.Checker
	server  *http.Server
}

func newApp(cfg *config.Config, logger ectologger.Logger) *app {
	return &app{
		cfg:     cfg,
		logger:  logger,
		checker: health.NewChecker(cfg.Version),
	}
}

// startup registers the core dependencies plus any extras.
func (a *app) startup(extra ...startup.Dependency) *startup.Startup {
	st := startup.NewStartup(a.logger, a.cfg.StartupMaxAttempts)
	st.AddDependency(startup.Func{Name: depTracing, StartFn: a.startTracing, StopFn: a.stopTracing})
	st.AddDependency(startup.Func{Name: depDatabase, StartFn: a.startDatabase, StopFn: a.stopDatabase})
	st.AddDependency(startup.Func{Name: depMigrations, Needs: []string{depDatabase}, StartFn: a.runMigrations})
	st.AddDependency(startup.Func{Name: depRedis, StartFn: a.startRedis, StopFn: a.stopRedis})
	st.AddDependency(startup.Func{Name: depKafka, StartFn: a.startKafka, StopFn: a.stopKafka})
	st.AddDependency(startup.Func{Name: depGraph, StartFn: a.startGraph, StopFn: a.stopGraph})
	st.AddDependency(startup.Func{
		Name:    depPipeline,
		Needs:   []string{depTracing, depMigrations, depRedis, depKafka, depGraph},
		StartFn: a.startPipeline,
		StopFn:  a.stopPipeline,
	})
	for _, dep := range extra {
		st.AddDependency(dep)
	}
	return st
}

func (a *app) schedulerDependency() startup.Dependency {
	return startup.Func{Name: depScheduler, Needs: []string{depPipeline}, StartFn: a.startScheduler, StopFn: a.stopScheduler}
}

func (a *app) httpDependency() startup.Dependency {
	return startup.Func{Name: depHTTP, Needs: []string{depPipeline}, StartFn: a.startHTTP, StopFn: a.stopHTTP}
}

func (a *app) startTracing(ctx context.Context) error {
	if !a.cfg.OTLPEnabled {
		a.traceShutdown = tracing.Init(a.cfg.AppName, nil)
		return nil
	}
	exporter, err := exporters.NewOTLPExporter(ctx, a.cfg.OTLP())
	if err != nil {
		return err
	}
	a.traceShutdown = tracing.Init(a.cfg.AppName, exporter)
	a.logger.Infof("Exporting traces to %s over %s", a.cfg.OTLPEndpoint, a.cfg.OTLPProtocol)
	return nil
}

func (a *app) stopTracing(ctx context.Context) error {
	if a.traceShutdown == nil {
		return nil
	}
	return a.traceShutdown(ctx)
}

func (a *app) startDatabase(ctx context.Context) error {
	db, err := database.Connect(ctx, a.cfg.Database(), a.logger)
	if err != nil {
		return err
	}
	a.db = db
	a.checker.AddCheck(depDatabase, true, db.PingContext)
	return nil
}

func (a *app) stopDatabase(context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *app) runMigrations(context.Context) error {
	return database.NewMigrationService(a.logger, a.cfg.Migration()).Migrate(a.db, a.cfg.DatabaseName)
}

func (a *app) startRedis(ctx context.Context) error {
	if a.inProcessLocks {
		a.locker = locks.NewKeyed()
		a.logger.Warn("Using in-process locks; do not run more than one replica")
		return nil
	}
	client, err := redis.NewClient(ctx, a.cfg.Redis(), a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	a.locker = locks.NewRedisLocker(redis.NewLocker(client, a.cfg.RedisLockPrefix))
	a.checker.AddCheck(depRedis, true, client.Ping)
	return nil
}

func (a *app) stopRedis(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *app) startKafka(context.Context) error {
	if !a.cfg.KafkaEnabled {
		return nil
	}
	a.producer = kafka.NewProducer(a.cfg.Producer(), a.logger)
	return nil
}

func (a *app) stopKafka(context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

func (a *app) startGraph(ctx context.Context) error {
	if !a.cfg.GraphEnabled {
		return nil
	}
	client, err := graph.NewClient(a.cfg.Graph(), a.logger)
	if err != nil {
		return err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return err
	}
	a.graph = client
	a.projector = graph.NewProjector(client, a.logger)
	a.checker.AddCheck(depGraph, false, client.VerifyConnectivity)
	return nil
}

func (a *app) stopGraph(ctx context.Context) error {
	if a.graph == nil {
		return nil
	}
	return a.graph.Close(ctx)
}

// startPipeline builds the stores and domain components and syncs the source
// registry into the database.
func (a *app) startPipeline(ctx context.Context) error {
	a.catalog = repositories.NewCatalogRepository(a.db, a.logger)
	a.reviews = repositories.NewReviewRepository(a.db, a.logger)
	a.signals = repositories.NewSignalRepository(a.db, a.logger)
	a.observations = repositories.NewObservationRepository(a.db, a.logger)
	a.scores = repositories.NewScoreRepository(a.db, a.logger)
	a.runs = repositories.NewRunRepository(a.db, a.logger)
	a.sourceRows = repositories.NewSourceRepository(a.db, a.logger)

	a.series = timeseries.NewAccessor(a.observations, a.logger)

	matchConfig, err := a.cfg.Matching()
	if err != nil {
		return err
	}
	a.matcher = matching.NewMatcher(a.catalog, a.reviews, a.locker, matchConfig, a.logger)
	a.matcher.SetSeries(a.signals, a.series)
	if a.projector != nil {
		a.matcher.SetProjector(a.projector)
	}

	scoreConfig, err := a.cfg.Scoring()
	if err != nil {
		return err
	}
	a.scorer, err = scoring.NewScorer(a.scores, a.catalog, a.series, a.locker, scoreConfig, a.logger)
	if err != nil {
		return err
	}
	if a.producer != nil {
		a.scorer.SetPublisher(a.producer)
	}

	a.forecaster = forecasting.NewForecaster(a.scores, a.cfg.Forecasting(), a.logger)

	a.registry, err = sources.LoadRegistry(a.cfg.SourcesFile)
	if err != nil {
		return err
	}
	a.sources = sources.NewSet(a.registry, sources.Dependencies{
		HTTPClient:   &http.Client{Timeout: a.cfg.SourceHTTPTimeout},
		KafkaBrokers: kafka.ParseBrokers(a.cfg.KafkaBrokers),
		BaseDir:      filepath.Dir(a.cfg.SourcesFile),
		Logger:       a.logger,
	})
	if err := a.syncSources(ctx); err != nil {
		return err
	}

	deps := pipeline.Dependencies{
		Sources:    a.sources,
		Runs:       a.runs,
		Signals:    a.signals,
		Matcher:    a.matcher,
		Series:     a.series,
		Scorer:     a.scorer,
		Forecaster: a.forecaster,
		Forecasts:  a.scores,
	}
	if a.producer != nil {
		deps.Publisher = a.producer
	}
	a.orchestrator = pipeline.NewOrchestrator(deps, a.cfg.Pipeline(), a.logger)
	return nil
}

func (a *app) syncSources(ctx context.Context) error {
	rows := ectolinq.Map(a.registry.List(), func(def sources.Definition) models.Source {
		return def.Model()
	})
	if err := a.sourceRows.SyncSources(ctx, rows); err != nil {
		return err
	}
	a.logger.Infof("Synced %d sources from %s", len(rows), a.cfg.SourcesFile)

	if a.projector != nil {
		if err := a.projector.ProjectSources(ctx, rows); err != nil {
			a.logger.WithError(err).Warn("Failed to project sources to graph")
		}
	}
	return nil
}

func (a *app) stopPipeline(context.Context) error {
	if a.orchestrator != nil {
		a.orchestrator.Wait()
	}
	if a.sources != nil {
		return a.sources.Close()
	}
	return nil
}

func (a *app) startScheduler(ctx context.Context) error {
	if !a.cfg.SchedulerEnabled {
		a.logger.Info("Scheduler disabled")
		return nil
	}
	a.scheduler = pipeline.NewScheduler(a.orchestrator, a.locker, a.cfg.Scheduler(), a.logger)
	return a.scheduler.Start(ctx)
}

func (a *app) stopScheduler(ctx context.Context) error {
	if a.scheduler == nil {
		return nil
	}
	return a.scheduler.Stop(ctx)
}

func (a *app) startHTTP(context.Context) error {
	products := handlers.NewProductHandler(a.catalog, a.scores, a.series)
	if a.projector != nil {
		products.SetListings(a.projector)
	}
	router := handlers.NewRouter(a.cfg.AppName, a.checker, a.logger,
		products,
		handlers.NewReviewHandler(a.matcher),
		handlers.NewSourceHandler(a.registry, a.orchestrator, a.runs),
	)

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	go func() {
		a.logger.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("HTTP server stopped")
		}
	}()
	return nil
}

func (a *app) stopHTTP(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
