package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/database"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

var (
	observationStruct = database.NewStruct(new(models.Observation))

	observationTables = []string{
		models.PriceObservationsTable,
		models.InventoryObservationsTable,
		models.SignalObservationsTable,
	}
)

// ObservationRepository stores samples in the price, inventory and signal series tables.
type ObservationRepository struct {
	*Repository
}

func NewObservationRepository(db database.DB, logger ectologger.Logger) *ObservationRepository {
	return &ObservationRepository{Repository: NewRepository(db, logger)}
}

func checkObservationTable(table string) error {
	if !ectolinq.Contains(observationTables, table) {
		return fmt.Errorf("unknown observation table %q", table)
	}
	return nil
}

// Insert appends a sample. A sample whose signal_id is already stored in the table
// is skipped, leaving obs.ID zero.
func (r *ObservationRepository) Insert(ctx context.Context, table string, obs *models.Observation) error {
	ctx, span := tracing.StartSpan(ctx, "ObservationRepository.Insert")
	defer span.End()

	if err := checkObservationTable(table); err != nil {
		return err
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(table).
		Cols("product_id", "distributor_id", "signal_type", "value", "recorded_at", "signal_id").
		Values(obs.ProductID, obs.DistributorID, obs.SignalType, obs.Value, obs.RecordedAt, obs.SignalID).
		OnConflictDoNothing("signal_id").
		Returning("id")

	query, args := ib.Build()
	err := r.exec(ctx).QueryRowxContext(ctx, query, args...).Scan(&obs.ID)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"table":     table,
			"signal_id": obs.SignalID,
		}).Debug("Observation already recorded for signal")
		return nil
	}
	if err != nil {
		if cerr := constraintError(table, err); cerr != err {
			return cerr
		}
		return r.internal(ctx, err, map[string]any{
			"table":          table,
			"product_id":     obs.ProductID,
			"distributor_id": obs.DistributorID,
		}, "insert observation")
	}
	return nil
}

// Select returns rows in [since, until] ascending by recorded_at.
func (r *ObservationRepository) Select(ctx context.Context, table string, productID uuid.UUID, types []models.SignalType, since, until time.Time) ([]models.Observation, error) {
	ctx, span := tracing.StartSpan(ctx, "ObservationRepository.Select")
	defer span.End()

	if err := checkObservationTable(table); err != nil {
		return nil, err
	}

	sb := observationStruct.SelectFrom(table)
	sb.Where(
		sb.Equal("product_id", productID),
		sb.Between("recorded_at", since, until),
	)
	if len(types) > 0 {
		sb.Where(sb.In("signal_type", ectolinq.Map(types, func(t models.SignalType) any { return t })...))
	}
	sb.OrderBy("recorded_at", "id")

	query, args := sb.Build()
	rows := []models.Observation{}
	if err := r.exec(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"table": table, "product_id": productID}, "select observations")
	}
	return rows, nil
}

// Summaries aggregates a product's samples per distributor since the given time.
func (r *ObservationRepository) Summaries(ctx context.Context, table string, productID uuid.UUID, since time.Time) ([]models.DistributorSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "ObservationRepository.Summaries")
	defer span.End()

	if err := checkObservationTable(table); err != nil {
		return nil, err
	}

	sb := database.NewSelectBuilder()
	sb.Select(
		"distributor_id",
		"(ARRAY_AGG(value ORDER BY recorded_at DESC, id DESC))[1] AS latest",
		"MIN(value) AS min",
		"MAX(value) AS max",
		"COUNT(*) AS samples",
		"MAX(recorded_at) AS last_recorded",
	).From(table).
		Where(sb.Equal("product_id", productID), sb.GreaterEqualThan("recorded_at", since)).
		GroupBy("distributor_id").
		OrderBy("distributor_id")

	query, args := sb.Build()
	rows := []models.DistributorSummary{}
	if err := r.exec(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"table": table, "product_id": productID}, "summarize observations")
	}
	return rows, nil
}
