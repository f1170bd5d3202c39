package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	appctx "github.com/Stewart-Y/ABVTrends-sub000/pkg/context"
	apperrors "github.com/Stewart-Y/ABVTrends-sub000/pkg/errors"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/matching"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/metrics"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/sources"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/timeseries"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

// runState tracks one source's run within a cycle. The run is finalized exactly
// once, either by the source itself or by the barrier.
type runState struct {
	def    sources.Definition
	cancel context.CancelFunc

	mu        sync.Mutex
	run       models.ScrapeRun
	finalized bool
	products  []uuid.UUID
}

func (st *runState) snapshot() (models.ScrapeRun, []uuid.UUID) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.run, append([]uuid.UUID(nil), st.products...)
}

// ingestAll starts every source and waits for them at the barrier. Stragglers
// past CycleMaxWait are cancelled and failed with cycle_timeout.
func (o *Orchestrator) ingestAll(ctx context.Context, cycleID uuid.UUID, defs []sources.Definition, result *CycleResult) []*runState {
	states := make([]*runState, 0, len(defs))
	done := make(chan *runState, len(defs))

	cycleCtx, cancelCycle := context.WithCancel(ctx)
	defer cancelCycle()

	for _, def := range defs {
		st := &runState{
			def: def,
			run: models.ScrapeRun{
				ID:        uuid.New(),
				CycleID:   cycleID,
				SourceID:  def.ID,
				Status:    models.RunStatusRunning,
				StartedAt: o.now(),
			},
		}
		states = append(states, st)

		if err := o.deps.Runs.CreateRun(ctx, &st.run); err != nil {
			o.logger.WithContext(ctx).WithError(err).Errorf("Failed to create scrape run for source %s", def.ID)
			o.finalize(ctx, st, models.RunStatusFailed, models.FailureAdapter, err)
			done <- st
			continue
		}

		srcCtx, cancel := context.WithTimeout(appctx.SetSourceID(cycleCtx, def.ID), o.config.SourceTimeout)
		st.cancel = cancel
		metrics.ScrapeRunsInFlight.Inc()
		go func() {
			defer metrics.ScrapeRunsInFlight.Dec()
			defer cancel()
			o.runSource(ctx, srcCtx, st)
			done <- st
		}()
	}

	timer := time.NewTimer(o.config.CycleMaxWait)
	defer timer.Stop()

	for pending := len(states); pending > 0; {
		select {
		case <-done:
			pending--
		case <-timer.C:
			for _, st := range states {
				cause := &apperrors.CycleTimeoutError{CycleID: cycleID.String(), SourceID: st.def.ID, MaxWait: o.config.CycleMaxWait}
				if o.finalize(ctx, st, models.RunStatusFailed, models.FailureCycleTimeout, cause) {
					result.TimedOut = append(result.TimedOut, cause)
					st.cancel()
				}
			}
			o.logger.WithContext(ctx).Warnf("Cycle barrier expired after %s with %d sources unfinished", o.config.CycleMaxWait, len(result.TimedOut))
			return states
		case <-ctx.Done():
			for _, st := range states {
				if o.finalize(ctx, st, models.RunStatusFailed, models.FailureCancelled, ctx.Err()) {
					st.cancel()
				}
			}
			return states
		}
	}
	return states
}

// runSource ingests one source and finalizes its run. cycleCtx is the caller's
// context, used to tell cancellation apart from the source deadline.
func (o *Orchestrator) runSource(cycleCtx, ctx context.Context, st *runState) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Orchestrator.runSource")
	defer span.End()

	err := o.ingestSource(ctx, st)
	switch {
	case err == nil:
		o.finalize(cycleCtx, st, models.RunStatusCompleted, "", nil)
	case cycleCtx.Err() != nil:
		o.finalize(cycleCtx, st, models.RunStatusFailed, models.FailureCancelled, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		o.finalize(cycleCtx, st, models.RunStatusFailed, models.FailureTimeout,
			fmt.Errorf("source did not finish within %s: %w", o.config.SourceTimeout, err))
	default:
		o.finalize(cycleCtx, st, models.RunStatusFailed, models.FailureAdapter, err)
	}
}

// tally accumulates per-source counts across concurrent signal workers.
type tally struct {
	mu       sync.Mutex
	created  map[uuid.UUID]struct{}
	updated  map[uuid.UUID]struct{}
	errors   int
	reviews  int
	lastErr  error
	products []uuid.UUID
	samples  []models.Observation
}

func newTally() *tally {
	return &tally{created: make(map[uuid.UUID]struct{}), updated: make(map[uuid.UUID]struct{})}
}

func (t *tally) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors++
	t.lastErr = err
}

func (t *tally) record(obs models.Observation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, obs)
}

func (t *tally) touch(id uuid.UUID, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, isNew := t.created[id]
	_, isUpdated := t.updated[id]
	if !isNew && !isUpdated {
		t.products = append(t.products, id)
	}
	if created {
		t.created[id] = struct{}{}
		delete(t.updated, id)
		return
	}
	if !isNew {
		t.updated[id] = struct{}{}
	}
}

func (o *Orchestrator) ingestSource(ctx context.Context, st *runState) error {
	src, err := o.deps.Sources.Get(st.def.ID)
	if err != nil {
		return apperrors.NewAdapterError(st.def.ID, err, "failed to build adapter")
	}

	fetched, err := src.Fetch(ctx)
	if err != nil {
		return err
	}

	signals := o.normalizer.NormalizeBatch(ctx, fetched.Records, st.def.Context(o.now()))
	counts := newTally()

	var g errgroup.Group
	g.SetLimit(o.config.MatchParallelism)
	for _, signal := range signals {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			o.processSignal(ctx, signal, counts)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() == nil && len(counts.samples) > 0 {
		failed, err := o.deps.Series.AppendAll(ctx, counts.samples)
		if failed > 0 {
			counts.mu.Lock()
			counts.errors += failed
			counts.lastErr = err
			counts.mu.Unlock()
		}
	}

	st.mu.Lock()
	if !st.finalized {
		st.run.ProductsFound = len(signals)
		st.run.ProductsNew = len(counts.created)
		st.run.ProductsUpdated = len(counts.updated)
		st.run.ErrorCount = counts.errors
		st.products = counts.products
	}
	st.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := fetched.Commit(ctx); err != nil {
		o.logger.WithContext(ctx).WithError(err).Warnf("Failed to acknowledge batch for source %s; it will be redelivered", st.def.ID)
	}
	if counts.errors > 0 {
		o.logger.WithContext(ctx).WithError(counts.lastErr).Warnf("Source %s finished with %d signal errors", st.def.ID, counts.errors)
	}
	return nil
}

// signalSink applies a match outcome for one signal.
type signalSink struct {
	signal models.RawSignal
	counts *tally
}

func (s *signalSink) Matched(outcome matching.MatchOutcome) error {
	s.counts.touch(outcome.ProductID, false)
	s.record(outcome.ProductID)
	return nil
}

func (s *signalSink) NewProduct(outcome matching.MatchOutcome) error {
	s.counts.touch(outcome.ProductID, true)
	s.record(outcome.ProductID)
	return nil
}

func (s *signalSink) NeedsReview(matching.MatchOutcome) error {
	s.counts.mu.Lock()
	s.counts.reviews++
	s.counts.mu.Unlock()
	return nil
}

// record queues the signal's sample for the source's batch append. Samples are
// keyed by signal id, so a replayed signal is recorded again without doubling.
func (s *signalSink) record(productID uuid.UUID) {
	if obs, ok := timeseries.FromSignal(s.signal, productID); ok {
		s.counts.record(obs)
	}
}

func (o *Orchestrator) processSignal(ctx context.Context, signal models.RawSignal, counts *tally) {
	if _, err := o.deps.Signals.InsertSignal(ctx, &signal); err != nil {
		counts.fail(err)
		return
	}
	if !signal.HasIdentity() {
		return
	}

	outcome, err := o.deps.Matcher.Resolve(ctx, signal)
	if err != nil {
		counts.fail(err)
		return
	}
	if err := outcome.Dispatch(&signalSink{signal: signal, counts: counts}); err != nil {
		counts.fail(err)
	}
}

// finalize moves a run to a terminal state and persists it. It reports false when
// the run was already terminal.
func (o *Orchestrator) finalize(ctx context.Context, st *runState, status models.RunStatus, reason models.FailureReason, cause error) bool {
	st.mu.Lock()
	if st.finalized {
		st.mu.Unlock()
		return false
	}
	st.finalized = true
	now := o.now()
	st.run.Status = status
	st.run.CompletedAt = &now
	if status == models.RunStatusFailed {
		r := reason
		st.run.FailureReason = &r
		if cause != nil {
			msg := cause.Error()
			st.run.ErrorMessage = &msg
		}
		if st.run.ErrorCount == 0 {
			st.run.ErrorCount = 1
		}
	}
	run := st.run
	st.mu.Unlock()

	// the run row must be written even when the cycle was cancelled
	ctx = context.WithoutCancel(ctx)
	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":    run.ID,
		"source_id": run.SourceID,
		"status":    run.Status,
		"found":     run.ProductsFound,
		"new":       run.ProductsNew,
		"updated":   run.ProductsUpdated,
		"errors":    run.ErrorCount,
	})
	if err := o.deps.Runs.FinalizeRun(ctx, &run); err != nil {
		log.WithError(err).Error("Failed to persist scrape run")
	}
	if status == models.RunStatusFailed {
		log.WithField("failure_reason", reason).Warnf("Source run failed: %v", cause)
	} else {
		log.Info("Source run completed")
	}
	metrics.RecordScrapeRun(run.SourceID, string(run.Status), now.Sub(run.StartedAt).Seconds(), run.ProductsFound)

	if o.deps.Publisher != nil {
		if err := o.deps.Publisher.PublishRunFinalized(ctx, run); err != nil {
			log.WithError(err).Warn("Failed to publish scrape run event")
		}
	}
	return true
}
