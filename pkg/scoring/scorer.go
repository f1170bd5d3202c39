// Package scoring computes composite trend scores, tiers and momentum from a
// product's recent observations.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	apperrors "github.com/Stewart-Y/ABVTrends-sub000/pkg/errors"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/locks"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/metrics"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

var (
	signalTypes = []models.SignalType{
		models.SignalMedia, models.SignalSocial, models.SignalSearch,
		models.SignalRetailListing, models.SignalPrice, models.SignalInventory,
	}
	priceTypes = []models.SignalType{models.SignalPrice}
)

// ScoreStore persists score snapshots.
type ScoreStore interface {
	InsertScore(ctx context.Context, score *models.TrendScore) error
	// LatestScore and ScoreAtOrBefore return nil, nil when no snapshot exists.
	LatestScore(ctx context.Context, productID uuid.UUID) (*models.TrendScore, error)
	ScoreAtOrBefore(ctx context.Context, productID uuid.UUID, at time.Time) (*models.TrendScore, error)
}

type ProductReader interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

type SeriesReader interface {
	Window(ctx context.Context, productID uuid.UUID, types []models.SignalType, since, until time.Time) ([]models.Observation, error)
}

// EventPublisher receives every written score with the snapshot it superseded.
type EventPublisher interface {
	PublishTrendScore(ctx context.Context, score models.TrendScore, previous *models.TrendScore) error
}

type Scorer struct {
	scores    ScoreStore
	products  ProductReader
	series    SeriesReader
	locker    locks.Locker
	publisher EventPublisher
	config    Config
	logger    ectologger.Logger
}

func NewScorer(scores ScoreStore, products ProductReader, series SeriesReader, locker locks.Locker, config Config, logger ectologger.Logger) (*Scorer, error) {
	config = config.withDefaults()
	if err := config.Weights.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{
		scores:   scores,
		products: products,
		series:   series,
		locker:   locker,
		config:   config,
		logger:   logger,
	}, nil
}

// SetPublisher attaches an optional event publisher.
func (s *Scorer) SetPublisher(p EventPublisher) {
	s.publisher = p
}

// Result is one product's scoring outcome. Previous is the latest snapshot before
// this pass, if any.
type Result struct {
	Score    models.TrendScore
	Previous *models.TrendScore
}

// Score computes and stores a snapshot for productID as of asOf. A product with no
// signals in any window returns InsufficientDataError and writes nothing.
func (s *Scorer) Score(ctx context.Context, productID uuid.UUID, asOf time.Time) (*models.TrendScore, error) {
	res, err := s.score(ctx, productID, asOf)
	if err != nil {
		return nil, err
	}
	return &res.Score, nil
}

func (s *Scorer) score(ctx context.Context, productID uuid.UUID, asOf time.Time) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "scoring.Scorer.Score")
	defer span.End()

	asOf = asOf.UTC()
	var res *Result
	err := locks.WithLock(ctx, s.locker, locks.ProductKey(productID.String()), s.config.LockTTL, s.config.LockWait, func(ctx context.Context) error {
		var err error
		res, err = s.scoreLocked(ctx, productID, asOf)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Scorer) scoreLocked(ctx context.Context, productID uuid.UUID, asOf time.Time) (*Result, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	signals, err := s.series.Window(ctx, productID, signalTypes, asOf.Add(-s.config.SignalWindow), asOf)
	if err != nil {
		return nil, err
	}
	prices, err := s.series.Window(ctx, productID, priceTypes, asOf.Add(-s.config.PriceWindow), asOf)
	if err != nil {
		return nil, err
	}

	in := Inputs{Category: product.Category, AsOf: asOf, Signals: signals, Prices: prices}
	count := in.SignalCount()
	if count == 0 {
		return nil, &apperrors.InsufficientDataError{ProductID: productID.String(), AsOf: asOf}
	}

	c := ComputeComponents(in, s.config)
	composite := Composite(c, s.config.Weights)

	previous, err := s.scores.LatestScore(ctx, productID)
	if err != nil {
		return nil, err
	}
	change24h, err := s.momentum(ctx, productID, composite, asOf.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	change7d, err := s.momentum(ctx, productID, composite, asOf.Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}

	score := models.TrendScore{
		ID:             uuid.New(),
		ProductID:      productID,
		CalculatedAt:   asOf,
		Score:          composite,
		MediaScore:     c.Media,
		SocialScore:    c.Social,
		RetailerScore:  c.Retailer,
		PriceScore:     c.Price,
		SearchScore:    c.Search,
		SeasonalScore:  c.Seasonal,
		SignalCount:    count,
		Tier:           models.TierFor(composite),
		ScoreChange24h: change24h,
		ScoreChange7d:  change7d,
	}
	if err := s.scores.InsertScore(ctx, &score); err != nil {
		return nil, err
	}

	return &Result{Score: score, Previous: previous}, nil
}

// momentum is the percentage change from the nearest snapshot at or before at,
// or nil when there is none or it scored 0.
func (s *Scorer) momentum(ctx context.Context, productID uuid.UUID, current float64, at time.Time) (*float64, error) {
	prior, err := s.scores.ScoreAtOrBefore(ctx, productID, at)
	if err != nil {
		return nil, err
	}
	if prior == nil || prior.Score == 0 {
		return nil, nil
	}
	change := round2((current - prior.Score) / prior.Score * 100)
	return &change, nil
}

// PassResult summarizes one ScoreProducts pass.
type PassResult struct {
	Scored       []Result
	Insufficient []uuid.UUID
	// Deferred products could not be locked in time and wait for the next cycle.
	Deferred []uuid.UUID
	Failed   map[uuid.UUID]error
}

// ScoreProducts scores every product in parallel. Products are partitioned by id
// hash onto worker queues so one product is never scored twice concurrently
// within a pass.
func (s *Scorer) ScoreProducts(ctx context.Context, productIDs []uuid.UUID, asOf time.Time) PassResult {
	ctx, span := tracing.StartSpan(ctx, "scoring.Scorer.ScoreProducts")
	defer span.End()

	workers := s.config.Parallelism
	queues := make([]chan uuid.UUID, workers)
	for i := range queues {
		queues[i] = make(chan uuid.UUID, len(productIDs))
	}
	seen := make(map[uuid.UUID]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		queues[partition(id, workers)] <- id
	}

	result := PassResult{Failed: make(map[uuid.UUID]error)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, q := range queues {
		close(q)
		wg.Add(1)
		go func(q <-chan uuid.UUID) {
			defer wg.Done()
			for id := range q {
				if ctx.Err() != nil {
					mu.Lock()
					result.Deferred = append(result.Deferred, id)
					mu.Unlock()
					continue
				}
				res, err := s.score(ctx, id, asOf)
				mu.Lock()
				s.record(ctx, &result, id, res, err)
				mu.Unlock()
			}
		}(q)
	}
	wg.Wait()

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"products":     len(seen),
		"scored":       len(result.Scored),
		"insufficient": len(result.Insufficient),
		"deferred":     len(result.Deferred),
		"failed":       len(result.Failed),
	}).Info("Scoring pass finished")
	return result
}

func (s *Scorer) record(ctx context.Context, result *PassResult, id uuid.UUID, res *Result, err error) {
	log := s.logger.WithContext(ctx).WithField("product_id", id)
	switch {
	case err == nil:
		result.Scored = append(result.Scored, *res)
		metrics.RecordScore(string(res.Score.Tier))
		if s.publisher != nil {
			if perr := s.publisher.PublishTrendScore(ctx, res.Score, res.Previous); perr != nil {
				log.WithError(perr).Warn("Failed to publish trend score event")
			}
		}
	case apperrors.IsInsufficientData(err):
		result.Insufficient = append(result.Insufficient, id)
		metrics.RecordScoreSkipped("insufficient_data")
		log.Debug("No signals in scoring windows; no trend score written")
	case errors.Is(err, locks.ErrNotAcquired):
		result.Deferred = append(result.Deferred, id)
		metrics.RecordScoreSkipped("lock_timeout")
		log.WithError(err).Warn("Could not lock product for scoring; deferring to next cycle")
	default:
		result.Failed[id] = err
		metrics.RecordScoreSkipped("error")
		log.WithError(err).Error("Failed to score product")
	}
}

func partition(id uuid.UUID, n int) int {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return int(h.Sum32() % uint32(n))
}

// Describe renders a score for logs and CLI output.
func Describe(score models.TrendScore) string {
	return fmt.Sprintf("%.2f (%s)", score.Score, score.Tier)
}
