package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/database"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

const (
	scoresTable    = "trend_scores"
	forecastsTable = "forecasts"
)

var (
	scoreStruct    = database.NewStruct(new(models.TrendScore))
	forecastStruct = database.NewStruct(new(models.Forecast))
)

// ScoreRepository stores trend score snapshots and the forecasts derived from them.
type ScoreRepository struct {
	*Repository
}

func NewScoreRepository(db database.DB, logger ectologger.Logger) *ScoreRepository {
	return &ScoreRepository{Repository: NewRepository(db, logger)}
}

func (r *ScoreRepository) InsertScore(ctx context.Context, score *models.TrendScore) error {
	ctx, span := tracing.StartSpan(ctx, "ScoreRepository.InsertScore")
	defer span.End()

	if score.ID == uuid.Nil {
		score.ID = uuid.New()
	}

	ib := scoreStruct.InsertInto(scoresTable, score)
	query, args := ib.Build()
	if _, err := r.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		if cerr := constraintError(scoresTable, err); cerr != err {
			return cerr
		}
		return r.internal(ctx, err, map[string]any{"product_id": score.ProductID}, "insert trend score")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"product_id": score.ProductID,
		"score":      score.Score,
		"tier":       score.Tier,
	}).Debugf("Inserted %s snapshot", scoresTable)
	return nil
}

func (r *ScoreRepository) LatestScore(ctx context.Context, productID uuid.UUID) (*models.TrendScore, error) {
	ctx, span := tracing.StartSpan(ctx, "ScoreRepository.LatestScore")
	defer span.End()

	sb := scoreStruct.SelectFrom(scoresTable)
	sb.Where(sb.Equal("product_id", productID)).
		OrderBy("calculated_at").Desc().
		Limit(1)

	return r.getScore(ctx, sb, productID)
}

func (r *ScoreRepository) ScoreAtOrBefore(ctx context.Context, productID uuid.UUID, at time.Time) (*models.TrendScore, error) {
	ctx, span := tracing.StartSpan(ctx, "ScoreRepository.ScoreAtOrBefore")
	defer span.End()

	sb := scoreStruct.SelectFrom(scoresTable)
	sb.Where(sb.Equal("product_id", productID), sb.LessEqualThan("calculated_at", at)).
		OrderBy("calculated_at").Desc().
		Limit(1)

	return r.getScore(ctx, sb, productID)
}

func (r *ScoreRepository) getScore(ctx context.Context, sb *database.SelectBuilder, productID uuid.UUID) (*models.TrendScore, error) {
	query, args := sb.Build()
	var score models.TrendScore
	err := r.exec(ctx).GetContext(ctx, &score, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, r.internal(ctx, err, map[string]any{"product_id": productID}, "get trend score")
	}
	return &score, nil
}

// ScoreHistory returns snapshots calculated at or after since, oldest first.
func (r *ScoreRepository) ScoreHistory(ctx context.Context, productID uuid.UUID, since time.Time) ([]models.TrendScore, error) {
	ctx, span := tracing.StartSpan(ctx, "ScoreRepository.ScoreHistory")
	defer span.End()

	sb := scoreStruct.SelectFrom(scoresTable)
	sb.Where(sb.Equal("product_id", productID), sb.GreaterEqualThan("calculated_at", since)).
		OrderBy("calculated_at")

	query, args := sb.Build()
	scores := []models.TrendScore{}
	if err := r.exec(ctx).SelectContext(ctx, &scores, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"product_id": productID}, "list score history")
	}
	return scores, nil
}

// TrendFilter narrows Trending. Zero values mean no filter.
type TrendFilter struct {
	Category models.Category
	Tier     models.Tier
	MinScore float64
	Limit    int
	Offset   int
}

// Trending joins every product with its newest snapshot, highest score first.
func (r *ScoreRepository) Trending(ctx context.Context, filter TrendFilter) ([]models.TrendingProduct, error) {
	ctx, span := tracing.StartSpan(ctx, "ScoreRepository.Trending")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("p.id", "p.name", "p.normalized_name", "p.brand", "p.category", "p.subcategory", "p.created_at",
		"ts.score", "ts.trend_tier", "ts.score_change_24h", "ts.score_change_7d", "ts.calculated_at").
		From(scoresTable+" ts").
		Join(productsTable+" p", "p.id = ts.product_id").
		Where("ts.calculated_at = (SELECT MAX(latest.calculated_at) FROM " + scoresTable + " latest WHERE latest.product_id = ts.product_id)")
	if filter.Category != "" {
		sb.Where(sb.Equal("p.category", filter.Category))
	}
	if filter.Tier != "" {
		sb.Where(sb.Equal("ts.trend_tier", filter.Tier))
	}
	if filter.MinScore > 0 {
		sb.Where(sb.GreaterEqualThan("ts.score", filter.MinScore))
	}
	sb.OrderBy("ts.score DESC", "p.name").Limit(limitOrDefault(filter.Limit)).Offset(filter.Offset)

	query, args := sb.Build()
	rows := []models.TrendingProduct{}
	if err := r.exec(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"category": filter.Category, "tier": filter.Tier}, "list trending products")
	}
	return rows, nil
}

// InsertForecasts writes one generation of forecast points in a single transaction.
func (r *ScoreRepository) InsertForecasts(ctx context.Context, forecasts []models.Forecast) error {
	ctx, span := tracing.StartSpan(ctx, "ScoreRepository.InsertForecasts")
	defer span.End()

	if len(forecasts) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(forecastsTable).
		Cols("id", "product_id", "forecast_date", "predicted_score", "confidence_lower_80", "confidence_upper_80",
			"confidence_lower_95", "confidence_upper_95", "model_version", "generated_at")
	for i := range forecasts {
		f := &forecasts[i]
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		ib.Values(f.ID, f.ProductID, f.ForecastDate, f.PredictedScore, f.Lower80, f.Upper80,
			f.Lower95, f.Upper95, f.ModelVersion, f.GeneratedAt)
	}

	query, args := ib.Build()
	err := r.WithTx(ctx, func(ctx context.Context) error {
		_, err := r.exec(ctx).ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		if cerr := constraintError(forecastsTable, err); cerr != err {
			return cerr
		}
		return r.internal(ctx, err, map[string]any{"product_id": forecasts[0].ProductID}, "insert forecasts")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"product_id": forecasts[0].ProductID,
		"points":     len(forecasts),
	}).Debugf("Inserted %s", forecastsTable)
	return nil
}

// LatestForecast returns the newest generation for a product ordered by date.
// A product never forecast yields an empty slice.
func (r *ScoreRepository) LatestForecast(ctx context.Context, productID uuid.UUID) ([]models.Forecast, error) {
	ctx, span := tracing.StartSpan(ctx, "ScoreRepository.LatestForecast")
	defer span.End()

	sb := forecastStruct.SelectFrom(forecastsTable)
	sb.Where(
		sb.Equal("product_id", productID),
		"generated_at = (SELECT MAX(generated_at) FROM "+forecastsTable+" WHERE product_id = "+sb.Var(productID)+")",
	).OrderBy("forecast_date")

	query, args := sb.Build()
	forecasts := []models.Forecast{}
	if err := r.exec(ctx).SelectContext(ctx, &forecasts, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"product_id": productID}, "get latest forecast")
	}
	return forecasts, nil
}

type forecastTime struct {
	ProductID   uuid.UUID `db:"product_id"`
	GeneratedAt time.Time `db:"generated_at"`
}

func (r *ScoreRepository) LatestForecastTimes(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	ctx, span := tracing.StartSpan(ctx, "ScoreRepository.LatestForecastTimes")
	defer span.End()

	out := make(map[uuid.UUID]time.Time, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select("product_id", "MAX(generated_at) AS generated_at").
		From(forecastsTable).
		Where(sb.In("product_id", ectolinq.Map(productIDs, func(id uuid.UUID) any { return id })...)).
		GroupBy("product_id")

	query, args := sb.Build()
	var rows []forecastTime
	if err := r.exec(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"products": len(productIDs)}, "get latest forecast times")
	}
	for _, row := range rows {
		out[row.ProductID] = row.GeneratedAt
	}
	return out, nil
}
