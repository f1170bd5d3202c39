package matching

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/locks"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/timeseries"
)

// ExpiryAction is the policy applied to review items left pending past ReviewTTL.
type ExpiryAction string

const (
	ExpiryNone        ExpiryAction = "none"
	ExpiryMarkExpired ExpiryAction = "expire"
	ExpiryNewProduct  ExpiryAction = "new_product"
)

func ParseExpiryAction(raw string) (ExpiryAction, error) {
	switch a := ExpiryAction(raw); a {
	case ExpiryNone, ExpiryMarkExpired, ExpiryNewProduct:
		return a, nil
	case "":
		return ExpiryMarkExpired, nil
	default:
		return "", fmt.Errorf("unknown review expiry action %q", raw)
	}
}

const expiryReviewer = "system:expiry"

type ReviewStore interface {
	// EnqueueReview reports false when the signal already has a review item.
	EnqueueReview(ctx context.Context, item *models.ReviewItem) (bool, error)
	GetReview(ctx context.Context, id uuid.UUID) (*models.ReviewItem, error)
	// GetReviewBySignal returns nil, nil when the signal has no review item.
	GetReviewBySignal(ctx context.Context, signalID string) (*models.ReviewItem, error)
	ListReviews(ctx context.Context, status models.ReviewStatus, limit, offset int) ([]models.ReviewItem, error)
	// ResolveReview moves a pending item to status and reports false if it was not pending.
	ResolveReview(ctx context.Context, id uuid.UUID, status models.ReviewStatus, productID *uuid.UUID, reviewer string, at time.Time) (bool, error)
	ListExpiredReviews(ctx context.Context, now time.Time, limit int) ([]models.ReviewItem, error)
}

func (m *Matcher) queueReview(ctx context.Context, signal models.RawSignal, category models.Category, candidate models.Product, score float64) (MatchOutcome, error) {
	now := m.now()
	item := models.ReviewItem{
		ID:                 uuid.New(),
		SignalID:           signal.ID,
		SourceID:           signal.SourceID,
		ExternalKey:        ExternalKey(signal),
		RawName:            signal.ProductName,
		Brand:              signal.Brand,
		Category:           category,
		CandidateProductID: candidate.ID,
		Score:              score,
		Status:             models.ReviewPending,
		CreatedAt:          now,
	}
	if m.config.ReviewTTL > 0 {
		expires := now.Add(m.config.ReviewTTL)
		item.ExpiresAt = &expires
	}

	created, err := m.reviews.EnqueueReview(ctx, &item)
	if err != nil {
		return MatchOutcome{}, fmt.Errorf("enqueue review for signal %s: %w", signal.ID, err)
	}
	if !created {
		existing, err := m.reviews.GetReviewBySignal(ctx, signal.ID)
		if err != nil {
			return MatchOutcome{}, err
		}
		if existing != nil {
			item = *existing
		}
	}

	reviewID := item.ID
	return MatchOutcome{
		Action:       ActionNeedsReview,
		ProductID:    item.CandidateProductID,
		Confidence:   item.Score,
		Method:       models.MatchMethodFuzzy,
		ReviewItemID: &reviewID,
	}, nil
}

func (m *Matcher) ListReviews(ctx context.Context, status models.ReviewStatus, limit, offset int) ([]models.ReviewItem, error) {
	if status == "" {
		status = models.ReviewPending
	}
	return m.reviews.ListReviews(ctx, status, limit, offset)
}

func (m *Matcher) GetReview(ctx context.Context, id uuid.UUID) (*models.ReviewItem, error) {
	return m.reviews.GetReview(ctx, id)
}

func (m *Matcher) pendingReview(ctx context.Context, id uuid.UUID) (*models.ReviewItem, error) {
	item, err := m.reviews.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.ReviewPending {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "review %s is already %s", id, item.Status)
	}
	return item, nil
}

// Approve confirms a review item, linking its signal to the candidate product or
// to productID when the reviewer picked a different one.
func (m *Matcher) Approve(ctx context.Context, id uuid.UUID, productID *uuid.UUID, reviewer string) (MatchOutcome, error) {
	item, err := m.pendingReview(ctx, id)
	if err != nil {
		return MatchOutcome{}, err
	}
	target := item.CandidateProductID
	if productID != nil {
		target = *productID
	}
	product, err := m.store.GetProduct(ctx, target)
	if err != nil {
		return MatchOutcome{}, err
	}

	outcome := MatchOutcome{Action: ActionMatched, ProductID: product.ID, Confidence: 1.0, Method: models.MatchMethodReview, ReviewItemID: &item.ID}
	alias := m.reviewAlias(item, product.ID)

	err = locks.WithLock(ctx, m.locker, locks.ProductKey(product.ID.String()), m.config.LockTTL, m.config.LockWait, func(ctx context.Context) error {
		return m.store.WithTx(ctx, func(ctx context.Context) error {
			ok, err := m.reviews.ResolveReview(ctx, item.ID, models.ReviewApproved, &product.ID, reviewer, m.now())
			if err != nil {
				return err
			}
			if !ok {
				return httperror.NewHTTPErrorf(http.StatusConflict, "review %s was resolved concurrently", item.ID)
			}
			created, err := m.store.CreateAlias(ctx, &alias)
			if err != nil {
				return err
			}
			outcome.AliasCreated = created
			if err := m.store.StampSignal(ctx, item.SignalID, product.ID); err != nil {
				return err
			}
			return m.recordSample(ctx, item.SignalID, product.ID)
		})
	})
	if err != nil {
		return MatchOutcome{}, err
	}

	if outcome.AliasCreated {
		m.project(ctx, *product, alias)
	}
	m.logger.WithContext(ctx).WithFields(map[string]any{
		"review_id":  item.ID,
		"product_id": product.ID,
		"reviewer":   reviewer,
	}).Info("Review approved")
	return outcome, nil
}

// Reject declines the candidate and creates a new product for the signal.
func (m *Matcher) Reject(ctx context.Context, id uuid.UUID, reviewer string) (MatchOutcome, error) {
	item, err := m.pendingReview(ctx, id)
	if err != nil {
		return MatchOutcome{}, err
	}
	outcome, err := m.splitOff(ctx, item, models.ReviewRejected, reviewer)
	if err != nil {
		return MatchOutcome{}, err
	}
	m.logger.WithContext(ctx).WithFields(map[string]any{
		"review_id":  item.ID,
		"product_id": outcome.ProductID,
		"reviewer":   reviewer,
	}).Info("Review rejected")
	return outcome, nil
}

// splitOff creates a product from a review item and closes the item with status.
func (m *Matcher) splitOff(ctx context.Context, item *models.ReviewItem, status models.ReviewStatus, reviewer string) (MatchOutcome, error) {
	product := models.Product{
		ID:             uuid.New(),
		Name:           displayName(item.RawName),
		NormalizedName: NormalizeName(item.RawName),
		Brand:          item.Brand,
		Category:       item.Category,
		CreatedAt:      m.now(),
	}
	alias := m.reviewAlias(item, product.ID)
	alias.MatchMethod = models.MatchMethodNewProduct

	err := locks.WithLock(ctx, m.locker, locks.CatalogKey(string(item.Category)), m.config.LockTTL, m.config.LockWait, func(ctx context.Context) error {
		return m.store.WithTx(ctx, func(ctx context.Context) error {
			ok, err := m.reviews.ResolveReview(ctx, item.ID, status, &product.ID, reviewer, m.now())
			if err != nil {
				return err
			}
			if !ok {
				return httperror.NewHTTPErrorf(http.StatusConflict, "review %s was resolved concurrently", item.ID)
			}
			if err := m.store.CreateProduct(ctx, &product); err != nil {
				return err
			}
			if _, err := m.store.CreateAlias(ctx, &alias); err != nil {
				return err
			}
			if err := m.store.StampSignal(ctx, item.SignalID, product.ID); err != nil {
				return err
			}
			return m.recordSample(ctx, item.SignalID, product.ID)
		})
	})
	if err != nil {
		return MatchOutcome{}, err
	}

	m.project(ctx, product, alias)
	return MatchOutcome{
		Action:       ActionNewProduct,
		ProductID:    product.ID,
		Confidence:   1.0,
		Method:       models.MatchMethodNewProduct,
		ReviewItemID: &item.ID,
		AliasCreated: true,
	}, nil
}

// recordSample appends the reviewed signal's observation inside the review
// transaction.
func (m *Matcher) recordSample(ctx context.Context, signalID string, productID uuid.UUID) error {
	if m.signals == nil || m.series == nil {
		return nil
	}
	signal, err := m.signals.GetSignal(ctx, signalID)
	if err != nil {
		return err
	}
	obs, ok := timeseries.FromSignal(*signal, productID)
	if !ok {
		return nil
	}
	return m.series.Append(ctx, obs)
}

func (m *Matcher) reviewAlias(item *models.ReviewItem, productID uuid.UUID) models.ProductAlias {
	return models.ProductAlias{
		ID:          uuid.New(),
		ProductID:   productID,
		SourceID:    item.SourceID,
		ExternalKey: item.ExternalKey,
		RawName:     item.RawName,
		Confidence:  1.0,
		MatchMethod: models.MatchMethodReview,
		Confirmed:   true,
		CreatedAt:   m.now(),
	}
}

// ExpireStale applies the expiry policy to pending items past their deadline and
// returns how many were closed.
func (m *Matcher) ExpireStale(ctx context.Context, limit int) (int, error) {
	if m.config.ExpiryAction == ExpiryNone {
		return 0, nil
	}
	if limit <= 0 {
		limit = 500
	}

	items, err := m.reviews.ListExpiredReviews(ctx, m.now(), limit)
	if err != nil {
		return 0, err
	}

	log := m.logger.WithContext(ctx)
	expired := 0
	for i := range items {
		item := &items[i]
		switch m.config.ExpiryAction {
		case ExpiryNewProduct:
			if _, err := m.splitOff(ctx, item, models.ReviewExpired, expiryReviewer); err != nil {
				log.WithError(err).WithField("review_id", item.ID).Warn("Failed to expire review into new product")
				continue
			}
		default:
			ok, err := m.reviews.ResolveReview(ctx, item.ID, models.ReviewExpired, nil, expiryReviewer, m.now())
			if err != nil {
				log.WithError(err).WithField("review_id", item.ID).Warn("Failed to expire review")
				continue
			}
			if !ok {
				continue
			}
		}
		expired++
	}

	if expired > 0 {
		log.WithFields(map[string]any{
			"expired": expired,
			"action":  m.config.ExpiryAction,
		}).Info("Expired stale review items")
	}
	return expired, nil
}
