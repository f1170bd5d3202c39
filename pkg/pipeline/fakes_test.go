package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/Stewart-Y/ABVTrends-sub000/pkg/errors"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/locks"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/matching"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/scoring"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/sources"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type memRuns struct {
	mu     sync.Mutex
	runs   map[uuid.UUID]models.ScrapeRun
	order  []uuid.UUID
	seeded []models.ScrapeRun
}

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[uuid.UUID]models.ScrapeRun)}
}

func (m *memRuns) CreateRun(_ context.Context, run *models.ScrapeRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	m.order = append(m.order, run.ID)
	return nil
}

func (m *memRuns) FinalizeRun(_ context.Context, run *models.ScrapeRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *memRuns) all() []models.ScrapeRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.ScrapeRun(nil), m.seeded...)
	for _, id := range m.order {
		out = append(out, m.runs[id])
	}
	return out
}

func (m *memRuns) LatestRuns(_ context.Context) ([]models.ScrapeRun, error) {
	latest := make(map[string]models.ScrapeRun)
	for _, run := range m.all() {
		if cur, ok := latest[run.SourceID]; !ok || !run.StartedAt.Before(cur.StartedAt) {
			latest[run.SourceID] = run
		}
	}
	out := make([]models.ScrapeRun, 0, len(latest))
	for _, run := range latest {
		out = append(out, run)
	}
	return out, nil
}

func (m *memRuns) LastSuccess(_ context.Context) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	for _, run := range m.all() {
		if run.Status != models.RunStatusCompleted || run.CompletedAt == nil {
			continue
		}
		if cur, ok := out[run.SourceID]; !ok || run.CompletedAt.After(cur) {
			out[run.SourceID] = *run.CompletedAt
		}
	}
	return out, nil
}

type memSignals struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newMemSignals() *memSignals {
	return &memSignals{ids: make(map[string]struct{})}
}

func (m *memSignals) InsertSignal(_ context.Context, signal *models.RawSignal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[signal.ID]; ok {
		return false, nil
	}
	m.ids[signal.ID] = struct{}{}
	return true, nil
}

// nameMatcher creates a product per distinct name and matches repeats. Names
// ending in "?" need review; names starting with "!" fail.
type nameMatcher struct {
	mu       sync.Mutex
	products map[string]uuid.UUID
	failing  map[string]int
	expired  int
}

func newNameMatcher() *nameMatcher {
	return &nameMatcher{products: make(map[string]uuid.UUID), failing: make(map[string]int)}
}

// failTimes makes the next n resolutions of name fail on the product lock.
func (m *nameMatcher) failTimes(name string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[name] = n
}

func (m *nameMatcher) Resolve(_ context.Context, signal models.RawSignal) (matching.MatchOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := signal.ProductName
	if m.failing[name] > 0 {
		m.failing[name]--
		return matching.MatchOutcome{}, locks.ErrNotAcquired
	}
	if strings.HasPrefix(name, "!") {
		return matching.MatchOutcome{}, apperrors.NewMatchErrorf(signal.ID, "bad category")
	}
	if strings.HasSuffix(name, "?") {
		return matching.MatchOutcome{Action: matching.ActionNeedsReview, Confidence: 0.7}, nil
	}
	if id, ok := m.products[name]; ok {
		return matching.MatchOutcome{Action: matching.ActionMatched, ProductID: id, Confidence: 1}, nil
	}
	id := uuid.New()
	m.products[name] = id
	return matching.MatchOutcome{Action: matching.ActionNewProduct, ProductID: id, Confidence: 1}, nil
}

func (m *nameMatcher) ExpireStale(_ context.Context, _ int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired++
	return 0, nil
}

func (m *nameMatcher) productID(name string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[name]
}

// memSeries keeps one sample per signal id, like the observation tables.
type memSeries struct {
	mu  sync.Mutex
	obs []models.Observation
	ids map[string]struct{}
}

func (m *memSeries) AppendAll(_ context.Context, observations []models.Observation) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids == nil {
		m.ids = make(map[string]struct{})
	}
	for _, obs := range observations {
		if _, ok := m.ids[*obs.SignalID]; ok {
			continue
		}
		m.ids[*obs.SignalID] = struct{}{}
		m.obs = append(m.obs, obs)
	}
	return 0, nil
}

func (m *memSeries) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.obs)
}

type recordingScorer struct {
	mu     sync.Mutex
	passes [][]uuid.UUID
}

func (s *recordingScorer) ScoreProducts(_ context.Context, ids []uuid.UUID, asOf time.Time) scoring.PassResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes = append(s.passes, append([]uuid.UUID(nil), ids...))
	result := scoring.PassResult{Failed: map[uuid.UUID]error{}}
	for _, id := range ids {
		result.Scored = append(result.Scored, scoring.Result{Score: models.TrendScore{ProductID: id, Score: 55, CalculatedAt: asOf}})
	}
	return result
}

func (s *recordingScorer) calls() [][]uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]uuid.UUID(nil), s.passes...)
}

// blockingScorer holds every pass until release is closed and tracks how many
// passes overlap.
type blockingScorer struct {
	entered chan struct{}
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
}

func newBlockingScorer() *blockingScorer {
	return &blockingScorer{entered: make(chan struct{}, 4), release: make(chan struct{})}
}

func (s *blockingScorer) ScoreProducts(_ context.Context, _ []uuid.UUID, _ time.Time) scoring.PassResult {
	n := s.active.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	s.calls.Add(1)
	s.entered <- struct{}{}
	<-s.release
	s.active.Add(-1)
	return scoring.PassResult{Failed: map[uuid.UUID]error{}}
}

type recordingForecaster struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (f *recordingForecaster) Forecast(_ context.Context, id uuid.UUID, _ int) ([]models.Forecast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return []models.Forecast{{ProductID: id}}, nil
}

type staticForecastIndex map[uuid.UUID]time.Time

func (s staticForecastIndex) LatestForecastTimes(_ context.Context, _ []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	return s, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	runs []models.ScrapeRun
}

func (p *recordingPublisher) PublishRunFinalized(_ context.Context, run models.ScrapeRun) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, run)
	return nil
}

type harness struct {
	orchestrator *Orchestrator
	runs         *memRuns
	signals      *memSignals
	matcher      *nameMatcher
	series       *memSeries
	scorer       *recordingScorer
	forecaster   *recordingForecaster
	publisher    *recordingPublisher
}

func staticSource(id string, tier int, records []map[string]any) sources.Definition {
	return sources.Definition{
		ID:              id,
		Name:            id,
		Tier:            tier,
		Kind:            sources.KindStatic,
		SignalType:      models.SignalRetailListing,
		DefaultCategory: "spirits",
		Static:          &sources.StaticConfig{Records: records},
	}
}

func listing(name string) map[string]any {
	return map[string]any{"name": name, "captured_at": "2026-10-01T12:00:00Z"}
}

func newHarness(t interface{ Fatalf(string, ...any) }, config Config, defs ...sources.Definition) *harness {
	registry, err := sources.NewRegistry(defs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	h := &harness{
		runs:       newMemRuns(),
		signals:    newMemSignals(),
		matcher:    newNameMatcher(),
		series:     &memSeries{},
		scorer:     &recordingScorer{},
		forecaster: &recordingForecaster{},
		publisher:  &recordingPublisher{},
	}
	h.orchestrator = NewOrchestrator(Dependencies{
		Sources:    sources.NewSet(registry, sources.Dependencies{Logger: getTestLogger()}),
		Runs:       h.runs,
		Signals:    h.signals,
		Matcher:    h.matcher,
		Series:     h.series,
		Scorer:     h.scorer,
		Forecaster: h.forecaster,
		Forecasts:  staticForecastIndex{},
		Publisher:  h.publisher,
	}, config, getTestLogger())
	return h
}
