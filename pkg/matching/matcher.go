// Package matching resolves raw signals onto canonical products through alias
// lookup, normalized-name equality and fuzzy token-set similarity, queueing
// borderline matches for human review.
package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	apperrors "github.com/Stewart-Y/ABVTrends-sub000/pkg/errors"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/locks"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/metrics"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

// Action is the tag of a MatchOutcome.
type Action string

const (
	ActionMatched     Action = "matched"
	ActionNeedsReview Action = "needs_review"
	ActionNewProduct  Action = "new_product"
)

// MatchOutcome is a tagged result: ProductID is the resolved product for
// matched and new_product, and the best candidate for needs_review.
type MatchOutcome struct {
	Action       Action             `json:"action"`
	ProductID    uuid.UUID          `json:"product_id"`
	Confidence   float64            `json:"confidence"`
	Method       models.MatchMethod `json:"method"`
	ReviewItemID *uuid.UUID         `json:"review_item_id,omitempty"`
	AliasCreated bool               `json:"alias_created"`
}

// OutcomeHandler forces callers to handle every outcome variant.
type OutcomeHandler interface {
	Matched(MatchOutcome) error
	NeedsReview(MatchOutcome) error
	NewProduct(MatchOutcome) error
}

// Dispatch calls the handler method for the outcome's tag.
func (o MatchOutcome) Dispatch(h OutcomeHandler) error {
	switch o.Action {
	case ActionMatched:
		return h.Matched(o)
	case ActionNeedsReview:
		return h.NeedsReview(o)
	case ActionNewProduct:
		return h.NewProduct(o)
	default:
		return fmt.Errorf("unknown match action %q", o.Action)
	}
}

// Store is the catalog persistence the matcher needs.
type Store interface {
	// FindAlias returns nil, nil when no alias exists for (sourceID, externalKey).
	FindAlias(ctx context.Context, sourceID, externalKey string) (*models.ProductAlias, error)
	ListCandidates(ctx context.Context, category models.Category) ([]models.ProductCandidate, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	// CreateAlias reports false when the (source, external key) pair already exists.
	CreateAlias(ctx context.Context, alias *models.ProductAlias) (bool, error)
	// StampSignal sets a signal's product id if it is still unset.
	StampSignal(ctx context.Context, signalID string, productID uuid.UUID) error
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SignalReader loads a stored raw signal.
type SignalReader interface {
	GetSignal(ctx context.Context, id string) (*models.RawSignal, error)
}

// SeriesAppender records a resolved signal's sample. Appending the same signal
// twice must be a no-op.
type SeriesAppender interface {
	Append(ctx context.Context, obs models.Observation) error
}

// CatalogProjector mirrors catalog changes elsewhere; failures never fail a match.
type CatalogProjector interface {
	ProjectAlias(ctx context.Context, product models.Product, alias models.ProductAlias) error
}

type Config struct {
	MatchThreshold  float64
	ReviewThreshold float64
	// TieMargin is how close to the top score a candidate must be to enter the tie-break.
	TieMargin float64
	LockTTL   time.Duration
	LockWait  time.Duration
	ReviewTTL time.Duration
	// ExpiryAction decides what happens to review items older than ReviewTTL.
	ExpiryAction ExpiryAction
}

func DefaultConfig() Config {
	return Config{
		MatchThreshold:  0.85,
		ReviewThreshold: 0.60,
		TieMargin:       0.02,
		LockTTL:         30 * time.Second,
		LockWait:        5 * time.Second,
		ReviewTTL:       14 * 24 * time.Hour,
		ExpiryAction:    ExpiryMarkExpired,
	}
}

type Matcher struct {
	store     Store
	reviews   ReviewStore
	locker    locks.Locker
	projector CatalogProjector
	signals   SignalReader
	series    SeriesAppender
	config    Config
	logger    ectologger.Logger
	now       func() time.Time
}

func NewMatcher(store Store, reviews ReviewStore, locker locks.Locker, config Config, logger ectologger.Logger) *Matcher {
	defaults := DefaultConfig()
	if config.MatchThreshold <= 0 {
		config.MatchThreshold = defaults.MatchThreshold
	}
	if config.ReviewThreshold <= 0 {
		config.ReviewThreshold = defaults.ReviewThreshold
	}
	if config.TieMargin <= 0 {
		config.TieMargin = defaults.TieMargin
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}
	if config.LockWait <= 0 {
		config.LockWait = defaults.LockWait
	}
	if config.ExpiryAction == "" {
		config.ExpiryAction = defaults.ExpiryAction
	}
	return &Matcher{
		store:   store,
		reviews: reviews,
		locker:  locker,
		config:  config,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetProjector attaches an optional catalog projection.
func (m *Matcher) SetProjector(p CatalogProjector) {
	m.projector = p
}

// SetSeries lets review decisions record the reviewed signal's sample.
func (m *Matcher) SetSeries(signals SignalReader, series SeriesAppender) {
	m.signals = signals
	m.series = series
}

// scored is a candidate with its similarity to the incoming signal.
type scored struct {
	candidate models.ProductCandidate
	score     float64
}

// decision is the read-only verdict before any write happens.
type decision struct {
	action     Action
	method     models.MatchMethod
	product    *models.Product
	confidence float64
}

// Resolve maps a signal onto the catalog. An unknown category, or a signal with no
// product name that misses the alias lookup, is a MatchError; every other signal
// ends as matched, needs_review or new_product.
func (m *Matcher) Resolve(ctx context.Context, signal models.RawSignal) (MatchOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Matcher.Resolve")
	defer span.End()

	category, ok := models.ParseCategory(signal.Category)
	if !ok {
		metrics.RecordMatch("error", "")
		return MatchOutcome{}, apperrors.NewMatchErrorf(signal.ID, "unknown category %q", signal.Category)
	}

	log := m.logger.WithContext(ctx).WithFields(map[string]any{
		"signal_id": signal.ID,
		"source_id": signal.SourceID,
		"category":  category,
	})

	d, err := m.decide(ctx, signal, category)
	if err != nil {
		if apperrors.IsMatchError(err) {
			metrics.RecordMatch("error", "")
		}
		return MatchOutcome{}, err
	}

	var outcome MatchOutcome
	switch d.action {
	case ActionMatched:
		outcome, err = m.link(ctx, signal, *d.product, d.confidence, d.method)
	case ActionNeedsReview:
		outcome, err = m.queueReview(ctx, signal, category, *d.product, d.confidence)
	default:
		outcome, err = m.createProduct(ctx, signal, category)
	}
	if err != nil {
		return MatchOutcome{}, err
	}

	metrics.RecordMatch(string(outcome.Action), string(outcome.Method))
	log.WithFields(map[string]any{
		"action":     outcome.Action,
		"product_id": outcome.ProductID,
		"confidence": outcome.Confidence,
		"method":     outcome.Method,
	}).Debug("Resolved signal")
	return outcome, nil
}

// decide runs the three lookup steps without writing anything.
func (m *Matcher) decide(ctx context.Context, signal models.RawSignal, category models.Category) (decision, error) {
	key := ExternalKey(signal)
	alias, err := m.store.FindAlias(ctx, signal.SourceID, key)
	if err != nil {
		return decision{}, err
	}
	if alias != nil {
		product, err := m.store.GetProduct(ctx, alias.ProductID)
		if err != nil {
			return decision{}, err
		}
		return decision{action: ActionMatched, method: models.MatchMethodAlias, product: product, confidence: 1.0}, nil
	}

	if displayName(signal.ProductName) == "" {
		return decision{}, apperrors.NewMatchErrorf(signal.ID, "signal has no product name and no known alias for %q", key)
	}

	candidates, err := m.store.ListCandidates(ctx, category)
	if err != nil {
		return decision{}, err
	}

	normalized := NormalizeName(signal.ProductName)
	if normalized != "" {
		var exact []scored
		for _, c := range candidates {
			if c.NormalizedName == normalized && brandsCompatible(c.Brand, signal.Brand) {
				exact = append(exact, scored{candidate: c, score: 1})
			}
		}
		if len(exact) > 0 {
			best := breakTie(exact, 0)
			return decision{action: ActionMatched, method: models.MatchMethodNormalized, product: &best.Product, confidence: 0.95}, nil
		}
	}

	target := MatchString(signal.Brand, signal.ProductName)
	if target == "" {
		return decision{action: ActionNewProduct, method: models.MatchMethodNewProduct, confidence: 1.0}, nil
	}

	var ranked []scored
	for _, c := range candidates {
		ranked = append(ranked, scored{candidate: c, score: Similarity(target, MatchString(c.Brand, c.Name))})
	}
	if len(ranked) == 0 {
		return decision{action: ActionNewProduct, method: models.MatchMethodNewProduct, confidence: 1.0}, nil
	}

	best := breakTie(ranked, m.config.TieMargin)
	top := topScore(ranked)
	switch {
	case top >= m.config.MatchThreshold:
		return decision{action: ActionMatched, method: models.MatchMethodFuzzy, product: &best.Product, confidence: top}, nil
	case top >= m.config.ReviewThreshold:
		return decision{action: ActionNeedsReview, method: models.MatchMethodFuzzy, product: &best.Product, confidence: top}, nil
	default:
		return decision{action: ActionNewProduct, method: models.MatchMethodNewProduct, confidence: 1.0}, nil
	}
}

func topScore(ranked []scored) float64 {
	top := 0.0
	for _, r := range ranked {
		if r.score > top {
			top = r.score
		}
	}
	return top
}

// breakTie picks among candidates within margin of the top score: most aliases,
// then earliest created, then lowest id.
func breakTie(ranked []scored, margin float64) models.ProductCandidate {
	top := topScore(ranked)
	var tied []models.ProductCandidate
	for _, r := range ranked {
		if r.score >= top-margin {
			tied = append(tied, r.candidate)
		}
	}
	sort.SliceStable(tied, func(i, j int) bool {
		a, b := tied[i], tied[j]
		if a.AliasCount != b.AliasCount {
			return a.AliasCount > b.AliasCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return tied[0]
}

// link writes the alias and the signal stamp atomically under the product's lock.
func (m *Matcher) link(ctx context.Context, signal models.RawSignal, product models.Product, confidence float64, method models.MatchMethod) (MatchOutcome, error) {
	outcome := MatchOutcome{Action: ActionMatched, ProductID: product.ID, Confidence: confidence, Method: method}
	alias := m.newAlias(signal, product.ID, confidence, method, false)

	err := locks.WithLock(ctx, m.locker, locks.ProductKey(product.ID.String()), m.config.LockTTL, m.config.LockWait, func(ctx context.Context) error {
		return m.store.WithTx(ctx, func(ctx context.Context) error {
			if method != models.MatchMethodAlias {
				created, err := m.store.CreateAlias(ctx, &alias)
				if err != nil {
					return err
				}
				outcome.AliasCreated = created
			}
			return m.store.StampSignal(ctx, signal.ID, product.ID)
		})
	})
	if err != nil {
		return MatchOutcome{}, fmt.Errorf("link signal %s to product %s: %w", signal.ID, product.ID, err)
	}
	if outcome.AliasCreated {
		m.project(ctx, product, alias)
	}
	return outcome, nil
}

// createProduct adds a product under the category catalog lock, re-running the
// lookup first so two concurrent first sightings do not both create one.
func (m *Matcher) createProduct(ctx context.Context, signal models.RawSignal, category models.Category) (MatchOutcome, error) {
	var outcome MatchOutcome

	err := locks.WithLock(ctx, m.locker, locks.CatalogKey(string(category)), m.config.LockTTL, m.config.LockWait, func(ctx context.Context) error {
		d, err := m.decide(ctx, signal, category)
		if err != nil {
			return err
		}
		switch d.action {
		case ActionMatched:
			outcome, err = m.link(ctx, signal, *d.product, d.confidence, d.method)
			return err
		case ActionNeedsReview:
			outcome, err = m.queueReview(ctx, signal, category, *d.product, d.confidence)
			return err
		}

		product := models.Product{
			ID:             uuid.New(),
			Name:           displayName(signal.ProductName),
			NormalizedName: NormalizeName(signal.ProductName),
			Brand:          signal.Brand,
			Category:       category,
			Subcategory:    signal.Subcategory,
			CreatedAt:      m.now(),
		}
		alias := m.newAlias(signal, product.ID, 1.0, models.MatchMethodNewProduct, false)

		err = m.store.WithTx(ctx, func(ctx context.Context) error {
			if err := m.store.CreateProduct(ctx, &product); err != nil {
				return err
			}
			if _, err := m.store.CreateAlias(ctx, &alias); err != nil {
				return err
			}
			return m.store.StampSignal(ctx, signal.ID, product.ID)
		})
		if err != nil {
			return err
		}

		m.project(ctx, product, alias)
		outcome = MatchOutcome{
			Action:       ActionNewProduct,
			ProductID:    product.ID,
			Confidence:   1.0,
			Method:       models.MatchMethodNewProduct,
			AliasCreated: true,
		}
		return nil
	})
	if err != nil {
		return MatchOutcome{}, fmt.Errorf("create product for signal %s: %w", signal.ID, err)
	}
	return outcome, nil
}

func (m *Matcher) newAlias(signal models.RawSignal, productID uuid.UUID, confidence float64, method models.MatchMethod, confirmed bool) models.ProductAlias {
	return models.ProductAlias{
		ID:          uuid.New(),
		ProductID:   productID,
		SourceID:    signal.SourceID,
		ExternalKey: ExternalKey(signal),
		RawName:     signal.ProductName,
		Confidence:  confidence,
		MatchMethod: method,
		Confirmed:   confirmed,
		CreatedAt:   m.now(),
	}
}

func (m *Matcher) project(ctx context.Context, product models.Product, alias models.ProductAlias) {
	if m.projector == nil {
		return
	}
	if err := m.projector.ProjectAlias(ctx, product, alias); err != nil {
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"product_id": product.ID,
			"alias_id":   alias.ID,
		}).Warn("Failed to project alias to catalog graph")
	}
}

// displayName keeps the source's spelling but drops size and ABV noise.
func displayName(name string) string {
	cleaned := displayABV.ReplaceAllString(name, " ")
	cleaned = displaySize.ReplaceAllString(cleaned, " ")
	return strings.Join(strings.Fields(cleaned), " ")
}
