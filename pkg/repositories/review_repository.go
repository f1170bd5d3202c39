package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/database"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

const reviewTable = "review_queue"

var reviewStruct = database.NewStruct(new(models.ReviewItem))

type ReviewRepository struct {
	*Repository
}

func NewReviewRepository(db database.DB, logger ectologger.Logger) *ReviewRepository {
	return &ReviewRepository{Repository: NewRepository(db, logger)}
}

func (r *ReviewRepository) EnqueueReview(ctx context.Context, item *models.ReviewItem) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "ReviewRepository.EnqueueReview")
	defer span.End()

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = models.ReviewPending
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(reviewTable).
		Cols("id", "signal_id", "source_id", "external_key", "raw_name", "brand", "category",
			"candidate_product_id", "score", "status", "created_at", "expires_at").
		Values(item.ID, item.SignalID, item.SourceID, item.ExternalKey, item.RawName, item.Brand, item.Category,
			item.CandidateProductID, item.Score, item.Status, item.CreatedAt, item.ExpiresAt).
		OnConflictDoNothing("signal_id")

	query, args := ib.Build()
	res, err := r.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		if cerr := constraintError(reviewTable, err); cerr != err {
			return false, cerr
		}
		return false, r.internal(ctx, err, map[string]any{"signal_id": item.SignalID}, "enqueue review")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, r.internal(ctx, err, map[string]any{"signal_id": item.SignalID}, "enqueue review")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"signal_id":    item.SignalID,
		"candidate_id": item.CandidateProductID,
		"inserted":     n == 1,
	}).Debugf("Enqueued %s item", reviewTable)
	return n == 1, nil
}

func (r *ReviewRepository) GetReview(ctx context.Context, id uuid.UUID) (*models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "ReviewRepository.GetReview")
	defer span.End()

	sb := reviewStruct.SelectFrom(reviewTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var item models.ReviewItem
	err := r.exec(ctx).GetContext(ctx, &item, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("review item %s does not exist", id)
	}
	if err != nil {
		return nil, r.internal(ctx, err, map[string]any{"review_id": id}, "get review")
	}
	return &item, nil
}

func (r *ReviewRepository) GetReviewBySignal(ctx context.Context, signalID string) (*models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "ReviewRepository.GetReviewBySignal")
	defer span.End()

	sb := reviewStruct.SelectFrom(reviewTable)
	sb.Where(sb.Equal("signal_id", signalID))

	query, args := sb.Build()
	var item models.ReviewItem
	err := r.exec(ctx).GetContext(ctx, &item, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, r.internal(ctx, err, map[string]any{"signal_id": signalID}, "get review by signal")
	}
	return &item, nil
}

// ListReviews pages through items oldest first. An empty status lists every item.
func (r *ReviewRepository) ListReviews(ctx context.Context, status models.ReviewStatus, limit, offset int) ([]models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "ReviewRepository.ListReviews")
	defer span.End()

	sb := reviewStruct.SelectFrom(reviewTable)
	if status != "" {
		sb.Where(sb.Equal("status", status))
	}
	sb.OrderBy("created_at").Limit(limitOrDefault(limit)).Offset(offset)

	query, args := sb.Build()
	items := []models.ReviewItem{}
	if err := r.exec(ctx).SelectContext(ctx, &items, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"status": status}, "list reviews")
	}
	return items, nil
}

// ResolveReview only transitions items that are still pending.
func (r *ReviewRepository) ResolveReview(ctx context.Context, id uuid.UUID, status models.ReviewStatus, productID *uuid.UUID, reviewer string, at time.Time) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "ReviewRepository.ResolveReview")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(reviewTable).
		Set(
			ub.Assign("status", status),
			ub.Assign("resolved_at", at),
			ub.Assign("resolved_by", reviewer),
			ub.Assign("resolved_product_id", productID),
		).
		Where(ub.Equal("id", id), ub.Equal("status", models.ReviewPending))

	query, args := ub.Build()
	res, err := r.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		if cerr := constraintError(reviewTable, err); cerr != err {
			return false, cerr
		}
		return false, r.internal(ctx, err, map[string]any{"review_id": id, "status": status}, "resolve review")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, r.internal(ctx, err, map[string]any{"review_id": id}, "resolve review")
	}
	return n == 1, nil
}

func (r *ReviewRepository) ListExpiredReviews(ctx context.Context, now time.Time, limit int) ([]models.ReviewItem, error) {
	ctx, span := tracing.StartSpan(ctx, "ReviewRepository.ListExpiredReviews")
	defer span.End()

	sb := reviewStruct.SelectFrom(reviewTable)
	sb.Where(
		sb.Equal("status", models.ReviewPending),
		sb.IsNotNull("expires_at"),
		sb.LessEqualThan("expires_at", now),
	).OrderBy("expires_at").Limit(limitOrDefault(limit))

	query, args := sb.Build()
	items := []models.ReviewItem{}
	if err := r.exec(ctx).SelectContext(ctx, &items, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"now": now}, "list expired reviews")
	}
	return items, nil
}
