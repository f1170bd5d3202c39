package scoring

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/Stewart-Y/ABVTrends-sub000/pkg/errors"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/locks"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

var asOf = time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)

type fakeDeps struct {
	mu       sync.Mutex
	products map[uuid.UUID]models.Product
	obs      map[uuid.UUID][]models.Observation
	scores   []models.TrendScore
}

func newFakeDeps() *fakeDeps {
	return &fakeDeps{products: make(map[uuid.UUID]models.Product), obs: make(map[uuid.UUID][]models.Observation)}
}

func (f *fakeDeps) addProduct(category models.Category) uuid.UUID {
	id := uuid.New()
	f.products[id] = models.Product{ID: id, Name: "test", Category: category}
	return id
}

func (f *fakeDeps) GetProduct(_ context.Context, id uuid.UUID) (*models.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "product %s not found", id)
	}
	return &p, nil
}

func (f *fakeDeps) Window(_ context.Context, productID uuid.UUID, types []models.SignalType, since, until time.Time) ([]models.Observation, error) {
	out := []models.Observation{}
	for _, o := range f.obs[productID] {
		if o.RecordedAt.Before(since) || o.RecordedAt.After(until) {
			continue
		}
		for _, t := range types {
			if t == o.SignalType {
				out = append(out, o)
			}
		}
	}
	return out, nil
}

func (f *fakeDeps) InsertScore(_ context.Context, score *models.TrendScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, *score)
	return nil
}

func (f *fakeDeps) LatestScore(_ context.Context, productID uuid.UUID) (*models.TrendScore, error) {
	return f.ScoreAtOrBefore(context.Background(), productID, time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))
}

func (f *fakeDeps) ScoreAtOrBefore(_ context.Context, productID uuid.UUID, at time.Time) (*models.TrendScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *models.TrendScore
	for i := range f.scores {
		s := f.scores[i]
		if s.ProductID != productID || s.CalculatedAt.After(at) {
			continue
		}
		if best == nil || s.CalculatedAt.After(best.CalculatedAt) {
			best = &s
		}
	}
	return best, nil
}

func observe(t models.SignalType, distributor string, value float64, age time.Duration) models.Observation {
	return models.Observation{SignalType: t, DistributorID: distributor, Value: value, RecordedAt: asOf.Add(-age)}
}

func newTestScorer(t *testing.T, deps *fakeDeps, locker locks.Locker, cfg Config) *Scorer {
	t.Helper()
	s, err := NewScorer(deps, deps, deps, locker, cfg, getTestLogger())
	require.NoError(t, err)
	return s
}

func TestComposite_EmergingScenario(t *testing.T) {
	c := Components{Media: 80, Social: 60, Retailer: 40, Price: 50, Search: 30, Seasonal: 20}

	composite := Composite(c, DefaultWeights())
	assert.Equal(t, 52.5, composite)
	assert.Equal(t, models.TierEmerging, models.TierFor(composite))
}

func TestComposite_BoundedAndTierMonotone(t *testing.T) {
	w := DefaultWeights()
	assert.Equal(t, 0.0, Composite(Components{}, w))
	assert.Equal(t, 100.0, Composite(Components{100, 100, 100, 100, 100, 100}, w))

	prevRank := -1
	for v := 0.0; v <= 100; v += 0.5 {
		composite := Composite(Components{v, v, v, v, v, v}, w)
		assert.GreaterOrEqual(t, composite, 0.0)
		assert.LessOrEqual(t, composite, 100.0)
		rank := models.TierFor(composite).Rank()
		assert.GreaterOrEqual(t, rank, prevRank)
		prevRank = rank
	}
}

func TestTierBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  models.Tier
	}{
		{90, models.TierViral},
		{89.99, models.TierTrending},
		{70, models.TierTrending},
		{50, models.TierEmerging},
		{49.99, models.TierStable},
		{30, models.TierStable},
		{29.99, models.TierDeclining},
		{0, models.TierDeclining},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, models.TierFor(tt.score), "score %v", tt.score)
	}
}

func TestWeights_Validate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())

	w := DefaultWeights()
	w.Media = 0.30
	assert.Error(t, w.Validate())

	w = Weights{Media: 1.2, Social: -0.2}
	assert.Error(t, w.Validate())

	_, err := NewScorer(newFakeDeps(), newFakeDeps(), newFakeDeps(), locks.NewKeyed(), Config{Weights: Weights{Media: 0.5}}, getTestLogger())
	assert.Error(t, err)
}

func TestComputeComponents(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("no data leaves data components at zero", func(t *testing.T) {
		c := ComputeComponents(Inputs{Category: models.CategoryRTD, AsOf: asOf}, cfg)
		assert.Equal(t, Components{Seasonal: 95}, c)
	})

	t.Run("media saturates at the configured count", func(t *testing.T) {
		var media []models.Observation
		for i := 0; i < 50; i++ {
			media = append(media, observe(models.SignalMedia, "press", 1, 0))
		}
		c := ComputeComponents(Inputs{Category: models.CategorySpirits, AsOf: asOf, Signals: media}, cfg)
		assert.Equal(t, 100.0, c.Media)
	})

	t.Run("older media counts less", func(t *testing.T) {
		fresh := ComputeComponents(Inputs{AsOf: asOf, Signals: []models.Observation{observe(models.SignalMedia, "press", 1, 0)}}, cfg)
		stale := ComputeComponents(Inputs{AsOf: asOf, Signals: []models.Observation{observe(models.SignalMedia, "press", 1, 72*time.Hour)}}, cfg)
		assert.Greater(t, fresh.Media, stale.Media)
		assert.Greater(t, stale.Media, 0.0)
	})

	t.Run("retailer breadth and recency", func(t *testing.T) {
		var listings []models.Observation
		for _, d := range []string{"lwc", "sgws", "rndc", "libdib", "breakthru", "johnson", "fedway", "allied", "reyes", "gallo"} {
			listings = append(listings, observe(models.SignalRetailListing, d, 1, 0))
		}
		c := ComputeComponents(Inputs{AsOf: asOf, Signals: listings}, cfg)
		assert.Equal(t, 100.0, c.Retailer)

		one := ComputeComponents(Inputs{AsOf: asOf, Signals: listings[:1]}, cfg)
		assert.InDelta(t, 28.0, one.Retailer, 1e-9)
	})

	t.Run("price drop beats price rise", func(t *testing.T) {
		drop := ComputeComponents(Inputs{AsOf: asOf, Prices: []models.Observation{
			observe(models.SignalPrice, "lwc", 40, 20*24*time.Hour),
			observe(models.SignalPrice, "lwc", 28, 24*time.Hour),
		}}, cfg)
		rise := ComputeComponents(Inputs{AsOf: asOf, Prices: []models.Observation{
			observe(models.SignalPrice, "lwc", 28, 20*24*time.Hour),
			observe(models.SignalPrice, "lwc", 40, 24*time.Hour),
		}}, cfg)
		flat := ComputeComponents(Inputs{AsOf: asOf, Prices: []models.Observation{
			observe(models.SignalPrice, "lwc", 30, 20*24*time.Hour),
			observe(models.SignalPrice, "lwc", 30, 24*time.Hour),
		}}, cfg)

		assert.Greater(t, drop.Price, flat.Price)
		assert.Less(t, rise.Price, flat.Price)
		assert.Equal(t, 20.0, flat.Price)
		assert.GreaterOrEqual(t, rise.Price, 0.0)
		assert.LessOrEqual(t, drop.Price, 100.0)
	})

	t.Run("search is a decayed mean", func(t *testing.T) {
		c := ComputeComponents(Inputs{AsOf: asOf, Signals: []models.Observation{
			observe(models.SignalSearch, "trends", 60, 0),
			observe(models.SignalSearch, "trends", 60, 48*time.Hour),
		}}, cfg)
		assert.InDelta(t, 60.0, c.Search, 1e-9)
	})
}

func TestSeasonalScore(t *testing.T) {
	july := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	january := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Greater(t, SeasonalScore(models.CategoryRTD, july), SeasonalScore(models.CategoryRTD, january))
	assert.Equal(t, SeasonalScore(models.CategoryWine, july), SeasonalScore(models.CategoryWine, july))
	assert.Equal(t, 50.0, SeasonalScore(models.Category("cider"), july))
}

func TestScore_NoSignalsWritesNothing(t *testing.T) {
	deps := newFakeDeps()
	id := deps.addProduct(models.CategoryWine)
	s := newTestScorer(t, deps, locks.NewKeyed(), DefaultConfig())

	score, err := s.Score(context.Background(), id, asOf)
	require.Error(t, err)
	assert.Nil(t, score)
	assert.True(t, apperrors.IsInsufficientData(err))
	assert.Empty(t, deps.scores)
}

func TestScore_WritesSnapshotWithMomentum(t *testing.T) {
	deps := newFakeDeps()
	id := deps.addProduct(models.CategorySpirits)
	deps.obs[id] = []models.Observation{
		observe(models.SignalMedia, "press", 1, time.Hour),
		observe(models.SignalRetailListing, "lwc", 1, 2*time.Hour),
		observe(models.SignalPrice, "lwc", 30, 3*time.Hour),
	}
	s := newTestScorer(t, deps, locks.NewKeyed(), DefaultConfig())

	first, err := s.Score(context.Background(), id, asOf)
	require.NoError(t, err)
	assert.Nil(t, first.ScoreChange24h, "first scoring has no momentum")
	assert.Nil(t, first.ScoreChange7d)
	assert.Equal(t, 3, first.SignalCount)
	assert.Equal(t, models.TierFor(first.Score), first.Tier)

	later := asOf.Add(25 * time.Hour)
	second, err := s.Score(context.Background(), id, later)
	require.NoError(t, err)
	require.NotNil(t, second.ScoreChange24h)
	assert.InDelta(t, round2((second.Score-first.Score)/first.Score*100), *second.ScoreChange24h, 1e-9)
	assert.Nil(t, second.ScoreChange7d)
	assert.Len(t, deps.scores, 2)
}

func TestScore_ZeroPriorHasNoMomentum(t *testing.T) {
	deps := newFakeDeps()
	id := deps.addProduct(models.CategorySpirits)
	deps.obs[id] = []models.Observation{observe(models.SignalMedia, "press", 1, 0)}
	deps.scores = append(deps.scores, models.TrendScore{ProductID: id, Score: 0, CalculatedAt: asOf.Add(-48 * time.Hour)})
	s := newTestScorer(t, deps, locks.NewKeyed(), DefaultConfig())

	score, err := s.Score(context.Background(), id, asOf)
	require.NoError(t, err)
	assert.Nil(t, score.ScoreChange24h)
}

type recordingPublisher struct {
	mu     sync.Mutex
	scores []models.TrendScore
}

func (p *recordingPublisher) PublishTrendScore(_ context.Context, score models.TrendScore, _ *models.TrendScore) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scores = append(p.scores, score)
	return nil
}

func TestScoreProducts(t *testing.T) {
	deps := newFakeDeps()
	var withData []uuid.UUID
	for i := 0; i < 20; i++ {
		id := deps.addProduct(models.CategoryBeer)
		deps.obs[id] = []models.Observation{observe(models.SignalSocial, "social", 200, time.Hour)}
		withData = append(withData, id)
	}
	empty := deps.addProduct(models.CategoryBeer)
	locked := deps.addProduct(models.CategoryBeer)
	deps.obs[locked] = []models.Observation{observe(models.SignalMedia, "press", 1, 0)}

	locker := locks.NewKeyed()
	held, err := locker.Acquire(context.Background(), locks.ProductKey(locked.String()), time.Minute, 0)
	require.NoError(t, err)
	defer held.Release(context.Background())

	cfg := DefaultConfig()
	cfg.LockWait = 20 * time.Millisecond
	s := newTestScorer(t, deps, locker, cfg)
	publisher := &recordingPublisher{}
	s.SetPublisher(publisher)

	ids := append(append([]uuid.UUID{}, withData...), empty, locked, withData[0])
	result := s.ScoreProducts(context.Background(), ids, asOf)

	assert.Len(t, result.Scored, 20)
	assert.Equal(t, []uuid.UUID{empty}, result.Insufficient)
	assert.Equal(t, []uuid.UUID{locked}, result.Deferred)
	assert.Empty(t, result.Failed)
	assert.Len(t, publisher.scores, 20)
	assert.Len(t, deps.scores, 20)
}

func TestPartition_Stable(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, partition(id, 8), partition(id, 8))
	assert.Less(t, partition(id, 8), 8)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "52.50 (emerging)", Describe(models.TrendScore{Score: 52.5, Tier: models.TierEmerging}))
}
