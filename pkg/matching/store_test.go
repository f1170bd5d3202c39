package matching

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

// memStore is an in-memory Store and ReviewStore.
type memStore struct {
	mu       sync.Mutex
	products map[uuid.UUID]models.Product
	aliases  map[string]models.ProductAlias
	stamps   map[string]uuid.UUID
	reviews  map[uuid.UUID]models.ReviewItem
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[uuid.UUID]models.Product),
		aliases:  make(map[string]models.ProductAlias),
		stamps:   make(map[string]uuid.UUID),
		reviews:  make(map[uuid.UUID]models.ReviewItem),
	}
}

func aliasKey(sourceID, externalKey string) string {
	return sourceID + "|" + externalKey
}

func (s *memStore) addProduct(name string, brand *string, category models.Category, createdAt time.Time) models.Product {
	p := models.Product{
		ID:             uuid.New(),
		Name:           name,
		NormalizedName: NormalizeName(name),
		Brand:          brand,
		Category:       category,
		CreatedAt:      createdAt,
	}
	s.mu.Lock()
	s.products[p.ID] = p
	s.mu.Unlock()
	return p
}

func (s *memStore) FindAlias(_ context.Context, sourceID, externalKey string) (*models.ProductAlias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aliases[aliasKey(sourceID, externalKey)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *memStore) ListCandidates(_ context.Context, category models.Category) ([]models.ProductCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[uuid.UUID]int)
	for _, a := range s.aliases {
		counts[a.ProductID]++
	}
	var out []models.ProductCandidate
	for _, p := range s.products {
		if p.Category == category {
			out = append(out, models.ProductCandidate{Product: p, AliasCount: counts[p.ID]})
		}
	}
	return out, nil
}

func (s *memStore) GetProduct(_ context.Context, id uuid.UUID) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "product %s not found", id)
	}
	return &p, nil
}

func (s *memStore) CreateProduct(_ context.Context, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = *product
	return nil
}

func (s *memStore) CreateAlias(_ context.Context, alias *models.ProductAlias) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := aliasKey(alias.SourceID, alias.ExternalKey)
	if _, ok := s.aliases[key]; ok {
		return false, nil
	}
	s.aliases[key] = *alias
	return true, nil
}

func (s *memStore) StampSignal(_ context.Context, signalID string, productID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stamps[signalID]; !ok {
		s.stamps[signalID] = productID
	}
	return nil
}

func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *memStore) EnqueueReview(_ context.Context, item *models.ReviewItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reviews {
		if r.SignalID == item.SignalID {
			return false, nil
		}
	}
	s.reviews[item.ID] = *item
	return true, nil
}

func (s *memStore) GetReview(_ context.Context, id uuid.UUID) (*models.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "review %s not found", id)
	}
	return &r, nil
}

func (s *memStore) GetReviewBySignal(_ context.Context, signalID string) (*models.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reviews {
		if r.SignalID == signalID {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListReviews(_ context.Context, status models.ReviewStatus, _, _ int) ([]models.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReviewItem
	for _, r := range s.reviews {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) ResolveReview(_ context.Context, id uuid.UUID, status models.ReviewStatus, productID *uuid.UUID, reviewer string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok || r.Status != models.ReviewPending {
		return false, nil
	}
	r.Status = status
	r.ResolvedProductID = productID
	r.ResolvedBy = &reviewer
	r.ResolvedAt = &at
	s.reviews[id] = r
	return true, nil
}

func (s *memStore) ListExpiredReviews(_ context.Context, now time.Time, _ int) ([]models.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReviewItem
	for _, r := range s.reviews {
		if r.Status == models.ReviewPending && r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

type recordingProjector struct {
	mu      sync.Mutex
	aliases []models.ProductAlias
}

func (p *recordingProjector) ProjectAlias(_ context.Context, _ models.Product, alias models.ProductAlias) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aliases = append(p.aliases, alias)
	return nil
}

// memSeries is an in-memory SignalReader and SeriesAppender. Samples are keyed by
// signal id like the observation tables.
type memSeries struct {
	mu      sync.Mutex
	signals map[string]models.RawSignal
	samples map[string]models.Observation
}

func newMemSeries(signals ...models.RawSignal) *memSeries {
	s := &memSeries{signals: make(map[string]models.RawSignal), samples: make(map[string]models.Observation)}
	for _, signal := range signals {
		s.signals[signal.ID] = signal
	}
	return s
}

func (s *memSeries) GetSignal(_ context.Context, id string) (*models.RawSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	signal, ok := s.signals[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "signal %s does not exist", id)
	}
	return &signal, nil
}

func (s *memSeries) Append(_ context.Context, obs models.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.samples[*obs.SignalID]; ok {
		return nil
	}
	s.samples[*obs.SignalID] = obs
	return nil
}
