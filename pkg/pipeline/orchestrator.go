// Package pipeline drives refresh cycles: sources are ingested in parallel, each
// under its own deadline, then one scoring pass and one forecasting pass run over
// the products the completed sources touched.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Stewart-Y/ABVTrends-sub000/pkg/context"
	apperrors "github.com/Stewart-Y/ABVTrends-sub000/pkg/errors"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/ingest"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/matching"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/metrics"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/scoring"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/sources"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

// SourceProvider hands out built adapters for registry entries.
type SourceProvider interface {
	Registry() *sources.Registry
	Get(id string) (sources.Source, error)
}

// RunStore persists the ScrapeRun audit log.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.ScrapeRun) error
	FinalizeRun(ctx context.Context, run *models.ScrapeRun) error
	// LatestRuns returns the most recent run of every source that has one.
	LatestRuns(ctx context.Context) ([]models.ScrapeRun, error)
	// LastSuccess returns the completion time of each source's latest completed run.
	LastSuccess(ctx context.Context) (map[string]time.Time, error)
}

// SignalStore appends raw signals. InsertSignal reports false when the signal id
// was already stored.
type SignalStore interface {
	InsertSignal(ctx context.Context, signal *models.RawSignal) (bool, error)
}

type Matcher interface {
	Resolve(ctx context.Context, signal models.RawSignal) (matching.MatchOutcome, error)
	ExpireStale(ctx context.Context, limit int) (int, error)
}

type SeriesAppender interface {
	// AppendAll attempts every observation and reports how many failed.
	AppendAll(ctx context.Context, observations []models.Observation) (int, error)
}

type ScorePass interface {
	ScoreProducts(ctx context.Context, productIDs []uuid.UUID, asOf time.Time) scoring.PassResult
}

type ForecastRunner interface {
	Forecast(ctx context.Context, productID uuid.UUID, horizonDays int) ([]models.Forecast, error)
}

// ForecastIndex reports when each product's newest forecast was generated.
type ForecastIndex interface {
	LatestForecastTimes(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]time.Time, error)
}

type RunPublisher interface {
	PublishRunFinalized(ctx context.Context, run models.ScrapeRun) error
}

// Dependencies are the components a cycle sequences. Publisher is optional.
type Dependencies struct {
	Sources    SourceProvider
	Runs       RunStore
	Signals    SignalStore
	Matcher    Matcher
	Series     SeriesAppender
	Scorer     ScorePass
	Forecaster ForecastRunner
	Forecasts  ForecastIndex
	Publisher  RunPublisher
}

type Config struct {
	SourceTimeout       time.Duration
	CycleMaxWait        time.Duration
	ForecastMaxAge      time.Duration
	ForecastDelta       float64
	ForecastHorizon     int
	MatchParallelism    int
	ForecastParallelism int
	ReviewExpiryBatch   int
	Tier1SLA            time.Duration
	Tier2SLA            time.Duration
}

func DefaultConfig() Config {
	return Config{
		SourceTimeout:       5 * time.Minute,
		CycleMaxWait:        15 * time.Minute,
		ForecastMaxAge:      24 * time.Hour,
		ForecastDelta:       2,
		ForecastHorizon:     7,
		MatchParallelism:    4,
		ForecastParallelism: 4,
		ReviewExpiryBatch:   500,
		Tier1SLA:            time.Hour,
		Tier2SLA:            4 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = d.SourceTimeout
	}
	if c.CycleMaxWait <= 0 {
		c.CycleMaxWait = d.CycleMaxWait
	}
	if c.ForecastMaxAge <= 0 {
		c.ForecastMaxAge = d.ForecastMaxAge
	}
	if c.ForecastDelta <= 0 {
		c.ForecastDelta = d.ForecastDelta
	}
	if c.ForecastHorizon <= 0 {
		c.ForecastHorizon = d.ForecastHorizon
	}
	if c.MatchParallelism <= 0 {
		c.MatchParallelism = d.MatchParallelism
	}
	if c.ForecastParallelism <= 0 {
		c.ForecastParallelism = d.ForecastParallelism
	}
	if c.ReviewExpiryBatch <= 0 {
		c.ReviewExpiryBatch = d.ReviewExpiryBatch
	}
	if c.Tier1SLA <= 0 {
		c.Tier1SLA = d.Tier1SLA
	}
	if c.Tier2SLA <= 0 {
		c.Tier2SLA = d.Tier2SLA
	}
	return c
}

// SLA is the freshness target for a source tier.
func (c Config) SLA(tier int) time.Duration {
	if tier == 1 {
		return c.Tier1SLA
	}
	return c.Tier2SLA
}

type Orchestrator struct {
	deps       Dependencies
	config     Config
	normalizer *ingest.Normalizer
	logger     ectologger.Logger
	now        func() time.Time

	mu      sync.Mutex
	running map[string]uuid.UUID

	// scoreMu queues a cycle's scoring pass behind the previous one.
	scoreMu    sync.Mutex
	background sync.WaitGroup
}

func NewOrchestrator(deps Dependencies, config Config, logger ectologger.Logger) *Orchestrator {
	return &Orchestrator{
		deps:       deps,
		config:     config.withDefaults(),
		normalizer: ingest.NewNormalizer(logger),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		running:    make(map[string]uuid.UUID),
	}
}

// CycleResult reports one cycle. Runs are ordered by source id.
type CycleResult struct {
	CycleID        uuid.UUID
	Runs           []models.ScrapeRun
	Skipped        []string
	TimedOut       []*apperrors.CycleTimeoutError
	Scoring        *scoring.PassResult
	Forecasted     int
	ReviewsExpired int
}

func (r *CycleResult) Run(sourceID string) (models.ScrapeRun, bool) {
	for _, run := range r.Runs {
		if run.SourceID == sourceID {
			return run, true
		}
	}
	return models.ScrapeRun{}, false
}

// RunCycle ingests the given sources (every enabled source when empty) and then
// scores and forecasts what they touched. Sources already running in another
// cycle are skipped. Cancelling ctx fails in-flight sources as cancelled and skips
// scoring; data already written is kept.
func (o *Orchestrator) RunCycle(ctx context.Context, sourceIDs []string) (*CycleResult, error) {
	if len(sourceIDs) == 0 {
		for _, def := range o.deps.Sources.Registry().Enabled() {
			sourceIDs = append(sourceIDs, def.ID)
		}
	}
	cycleID := uuid.New()
	defs, skipped := o.reserve(cycleID, sourceIDs)
	return o.runCycle(ctx, cycleID, defs, skipped)
}

// reserve marks sources as running for cycleID, returning the ones it got.
func (o *Orchestrator) reserve(cycleID uuid.UUID, ids []string) ([]sources.Definition, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var defs []sources.Definition
	var skipped []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		def, ok := o.deps.Sources.Registry().Get(id)
		if !ok {
			o.logger.Warnf("Skipping unknown source %s", id)
			skipped = append(skipped, id)
			continue
		}
		if _, busy := o.running[id]; busy {
			skipped = append(skipped, id)
			continue
		}
		o.running[id] = cycleID
		defs = append(defs, def)
	}
	return defs, skipped
}

func (o *Orchestrator) release(cycleID uuid.UUID, defs []sources.Definition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, def := range defs {
		if o.running[def.ID] == cycleID {
			delete(o.running, def.ID)
		}
	}
}

// IsRunning reports whether this process is currently ingesting sourceID.
func (o *Orchestrator) IsRunning(sourceID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[sourceID]
	return ok
}

// Wait blocks until cycles started by TriggerScrape have finished.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

func (o *Orchestrator) runCycle(ctx context.Context, cycleID uuid.UUID, defs []sources.Definition, skipped []string) (*CycleResult, error) {
	defer o.release(cycleID, defs)

	ctx = appctx.SetCycleID(ctx, cycleID.String())
	ctx, span := tracing.StartSpan(ctx, "pipeline.Orchestrator.RunCycle")
	defer span.End()

	start := time.Now()
	log := o.logger.WithContext(ctx).WithField("cycle_id", cycleID)
	log.Infof("Starting cycle over %d sources (%d skipped)", len(defs), len(skipped))

	result := &CycleResult{CycleID: cycleID, Skipped: skipped}
	states := o.ingestAll(ctx, cycleID, defs, result)

	var touched []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	for _, st := range states {
		run, products := st.snapshot()
		result.Runs = append(result.Runs, run)
		if run.Status != models.RunStatusCompleted {
			continue
		}
		for _, id := range products {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				touched = append(touched, id)
			}
		}
	}
	sort.Slice(result.Runs, func(i, j int) bool { return result.Runs[i].SourceID < result.Runs[j].SourceID })

	if err := ctx.Err(); err != nil {
		metrics.RecordCycle("cancelled", time.Since(start).Seconds())
		log.WithError(err).Warn("Cycle cancelled; skipping scoring")
		return result, err
	}

	o.scoreMu.Lock()
	pass := o.deps.Scorer.ScoreProducts(ctx, touched, o.now())
	result.Scoring = &pass
	result.Forecasted = o.forecastPass(ctx, pass)
	o.scoreMu.Unlock()

	expired, err := o.deps.Matcher.ExpireStale(ctx, o.config.ReviewExpiryBatch)
	if err != nil {
		log.WithError(err).Warn("Failed to expire stale review items")
	}
	result.ReviewsExpired = expired

	status := "completed"
	if len(result.TimedOut) > 0 {
		status = "partial"
	}
	metrics.RecordCycle(status, time.Since(start).Seconds())
	log.WithFields(map[string]any{
		"runs":            len(result.Runs),
		"timed_out":       len(result.TimedOut),
		"products":        len(touched),
		"scored":          len(pass.Scored),
		"forecasted":      result.Forecasted,
		"reviews_expired": expired,
		"duration":        time.Since(start).String(),
	}).Info("Cycle finished")
	return result, nil
}
