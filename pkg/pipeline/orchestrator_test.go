package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/scoring"
)

func records(names ...string) []map[string]any {
	out := make([]map[string]any, 0, len(names))
	for _, n := range names {
		out = append(out, listing(n))
	}
	return out
}

func TestRunCycle_OneSourceTimesOutFourComplete(t *testing.T) {
	slow := staticSource("e-slow", 1, records("Slow Gin"))
	slow.Static.Delay = 10 * time.Second

	h := newHarness(t, Config{SourceTimeout: time.Minute, CycleMaxWait: 200 * time.Millisecond},
		staticSource("a", 1, records("Tito's Handmade Vodka")),
		staticSource("b", 1, records("Casamigos Blanco Tequila")),
		staticSource("c", 2, records("Kendall-Jackson Vintner's Reserve Chardonnay")),
		staticSource("d", 2, records("Liquid Death Mountain Water")),
		slow,
	)

	start := time.Now()
	result, err := h.orchestrator.RunCycle(context.Background(), nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, result.Runs, 5)
	for _, id := range []string{"a", "b", "c", "d"} {
		run, ok := result.Run(id)
		require.True(t, ok, id)
		assert.Equal(t, models.RunStatusCompleted, run.Status, id)
		assert.Equal(t, 1, run.ProductsFound, id)
		assert.Equal(t, 1, run.ProductsNew, id)
		assert.Nil(t, run.FailureReason, id)
	}

	slowRun, ok := result.Run("e-slow")
	require.True(t, ok)
	assert.Equal(t, models.RunStatusFailed, slowRun.Status)
	require.NotNil(t, slowRun.FailureReason)
	assert.Equal(t, models.FailureCycleTimeout, *slowRun.FailureReason)
	require.NotNil(t, slowRun.CompletedAt)

	require.Len(t, result.TimedOut, 1)
	assert.Equal(t, "e-slow", result.TimedOut[0].SourceID)

	passes := h.scorer.calls()
	require.Len(t, passes, 1)
	assert.Len(t, passes[0], 4)
	assert.Equal(t, 4, h.series.count())

	for _, run := range h.runs.all() {
		assert.True(t, run.Terminal(), run.SourceID)
	}
	assert.Len(t, h.publisher.runs, 5)
	assert.Equal(t, 1, h.matcher.expired)
}

func TestRunCycle_SourceDeadlineFailsOnlyThatSource(t *testing.T) {
	slow := staticSource("slow", 1, records("Slow Gin"))
	slow.Static.Delay = 5 * time.Second

	h := newHarness(t, Config{SourceTimeout: 50 * time.Millisecond, CycleMaxWait: 5 * time.Second},
		staticSource("fast", 1, records("Aperol")), slow)

	result, err := h.orchestrator.RunCycle(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.TimedOut)

	run, _ := result.Run("slow")
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.FailureReason)
	assert.Equal(t, models.FailureTimeout, *run.FailureReason)

	fast, _ := result.Run("fast")
	assert.Equal(t, models.RunStatusCompleted, fast.Status)
	require.Len(t, h.scorer.calls(), 1)
	assert.Equal(t, []uuid.UUID{h.matcher.productID("Aperol")}, h.scorer.calls()[0])
}

func TestRunCycle_AdapterErrorIsIsolated(t *testing.T) {
	broken := staticSource("broken", 1, nil)
	broken.Static.Error = "401 unauthorized"

	h := newHarness(t, Config{}, broken, staticSource("ok", 1, records("Aperol")))

	result, err := h.orchestrator.RunCycle(context.Background(), nil)
	require.NoError(t, err)

	run, _ := result.Run("broken")
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.FailureReason)
	assert.Equal(t, models.FailureAdapter, *run.FailureReason)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "401 unauthorized")
	assert.Equal(t, 1, run.ErrorCount)

	ok, _ := result.Run("ok")
	assert.Equal(t, models.RunStatusCompleted, ok.Status)
	assert.Len(t, h.scorer.calls()[0], 1)
}

func TestRunCycle_CancellationFailsInFlightAndSkipsScoring(t *testing.T) {
	slow := staticSource("slow", 1, records("Slow Gin"))
	slow.Static.Delay = 5 * time.Second
	h := newHarness(t, Config{}, staticSource("fast", 1, records("Aperol")), slow)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	result, err := h.orchestrator.RunCycle(ctx, nil)
	assert.True(t, errors.Is(err, context.Canceled))

	run, _ := result.Run("slow")
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.FailureReason)
	assert.Equal(t, models.FailureCancelled, *run.FailureReason)

	fast, _ := result.Run("fast")
	assert.Equal(t, models.RunStatusCompleted, fast.Status)
	assert.Equal(t, 1, h.series.count())
	assert.Empty(t, h.scorer.calls())
	assert.Nil(t, result.Scoring)
}

func TestRunCycle_CountsAndReplay(t *testing.T) {
	h := newHarness(t, Config{}, staticSource("sgws", 1,
		records("Tito's Handmade Vodka", "Casamigos Blanco Tequila", "Mystery Bottle?", "!Broken")))

	first, err := h.orchestrator.RunCycle(context.Background(), []string{"sgws"})
	require.NoError(t, err)
	run, _ := first.Run("sgws")
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 4, run.ProductsFound)
	assert.Equal(t, 2, run.ProductsNew)
	assert.Equal(t, 0, run.ProductsUpdated)
	assert.Equal(t, 1, run.ErrorCount)
	assert.Equal(t, 2, h.series.count())
	assert.Len(t, first.Scoring.Scored, 2)
	assert.Equal(t, 2, first.Forecasted)

	second, err := h.orchestrator.RunCycle(context.Background(), []string{"sgws"})
	require.NoError(t, err)
	run, _ = second.Run("sgws")
	assert.Equal(t, 0, run.ProductsNew)
	assert.Equal(t, 2, run.ProductsUpdated)
	assert.Equal(t, 2, h.series.count(), "replayed signals must not add samples")
	assert.Len(t, h.scorer.calls()[1], 2)
}

func TestRunCycle_ReplayAfterFailedMatchRecordsSample(t *testing.T) {
	h := newHarness(t, Config{}, staticSource("sgws", 1, records("Tito's Handmade Vodka")))
	h.matcher.failTimes("Tito's Handmade Vodka", 1)

	first, err := h.orchestrator.RunCycle(context.Background(), []string{"sgws"})
	require.NoError(t, err)
	run, _ := first.Run("sgws")
	assert.Equal(t, 1, run.ErrorCount)
	assert.Equal(t, 0, h.series.count())

	second, err := h.orchestrator.RunCycle(context.Background(), []string{"sgws"})
	require.NoError(t, err)
	run, _ = second.Run("sgws")
	assert.Equal(t, 0, run.ErrorCount)
	assert.Equal(t, 1, run.ProductsNew)
	assert.Equal(t, 1, h.series.count(), "the replayed signal reaches the series")
	assert.Equal(t, h.matcher.productID("Tito's Handmade Vodka"), h.series.obs[0].ProductID)

	_, err = h.orchestrator.RunCycle(context.Background(), []string{"sgws"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.series.count())
}

func TestRunCycle_OverlappingScoringPassesSerialize(t *testing.T) {
	h := newHarness(t, Config{}, staticSource("a", 1, records("Aperol")), staticSource("b", 1, records("Campari")))
	scorer := newBlockingScorer()
	h.orchestrator.deps.Scorer = scorer

	done := make(chan error, 1)
	go func() {
		_, err := h.orchestrator.RunCycle(context.Background(), []string{"a"})
		done <- err
	}()
	<-scorer.entered

	triggered, err := h.orchestrator.TriggerScrape(context.Background(), "b")
	require.NoError(t, err)
	require.True(t, triggered.Accepted)

	// the triggered cycle finishes ingesting and then queues for scoring
	require.Eventually(t, func() bool {
		for _, run := range h.runs.all() {
			if run.SourceID == "b" && run.Status == models.RunStatusCompleted {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return scorer.calls.Load() > 1 }, 200*time.Millisecond, 10*time.Millisecond)

	close(scorer.release)
	require.NoError(t, <-done)
	h.orchestrator.Wait()

	assert.Equal(t, int32(2), scorer.calls.Load())
	assert.Equal(t, int32(1), scorer.peak.Load())
}

func TestRunCycle_SkipsSourcesAlreadyRunning(t *testing.T) {
	h := newHarness(t, Config{}, staticSource("a", 1, records("Aperol")), staticSource("b", 1, records("Campari")))

	defs, _ := h.orchestrator.reserve(uuid.New(), []string{"a"})
	require.Len(t, defs, 1)
	assert.True(t, h.orchestrator.IsRunning("a"))

	result, err := h.orchestrator.RunCycle(context.Background(), []string{"a", "b", "nope"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "nope"}, result.Skipped)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, "b", result.Runs[0].SourceID)
	assert.False(t, h.orchestrator.IsRunning("b"))
}

func TestForecastDue(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	moved, steady, never, old := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	h := newHarness(t, Config{ForecastMaxAge: 24 * time.Hour, ForecastDelta: 2})
	h.orchestrator.now = func() time.Time { return now }
	h.orchestrator.deps.Forecasts = staticForecastIndex{
		moved:  now.Add(-time.Hour),
		steady: now.Add(-time.Hour),
		old:    now.Add(-48 * time.Hour),
	}

	result := func(id uuid.UUID, score float64, prev *float64) scoring.Result {
		r := scoring.Result{Score: models.TrendScore{ProductID: id, Score: score}}
		if prev != nil {
			r.Previous = &models.TrendScore{ProductID: id, Score: *prev}
		}
		return r
	}
	f := func(v float64) *float64 { return &v }

	due := h.orchestrator.forecastDue(context.Background(), scoring.PassResult{Scored: []scoring.Result{
		result(moved, 60, f(55)),
		result(steady, 60, f(59)),
		result(never, 40, nil),
		result(old, 40, f(40)),
	}})
	assert.ElementsMatch(t, []uuid.UUID{moved, never, old}, due)
}

func TestCycleResult_Run(t *testing.T) {
	r := &CycleResult{Runs: []models.ScrapeRun{{SourceID: "a"}}}
	_, ok := r.Run("a")
	assert.True(t, ok)
	_, ok = r.Run("b")
	assert.False(t, ok)
}

func TestConfigSLA(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, time.Hour, c.SLA(1))
	assert.Equal(t, 4*time.Hour, c.SLA(2))
}
