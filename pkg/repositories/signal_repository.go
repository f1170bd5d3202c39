package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/database"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

var signalStruct = database.NewStruct(new(models.RawSignal))

type SignalRepository struct {
	*Repository
}

func NewSignalRepository(db database.DB, logger ectologger.Logger) *SignalRepository {
	return &SignalRepository{Repository: NewRepository(db, logger)}
}

// InsertSignal stores a signal keyed by its content id and reports false when
// the same signal was already ingested.
func (r *SignalRepository) InsertSignal(ctx context.Context, signal *models.RawSignal) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "SignalRepository.InsertSignal")
	defer span.End()

	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now().UTC()
	}
	malformed := signal.MalformedFields
	if malformed == nil {
		malformed = []string{}
	}
	payload := signal.Payload
	if payload.Data == nil {
		payload = database.NewJSONB(map[string]any{})
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(signalsTable).
		Cols("id", "source_id", "signal_type", "external_id", "product_name", "brand", "category", "subcategory",
			"title", "url", "value", "currency", "captured_at", "malformed_fields", "payload", "created_at").
		Values(signal.ID, signal.SourceID, signal.SignalType, signal.ExternalID, signal.ProductName, signal.Brand,
			signal.Category, signal.Subcategory, signal.Title, signal.URL, signal.Value, signal.Currency,
			signal.CapturedAt, malformed, payload, signal.CreatedAt).
		OnConflictDoNothing("id")

	query, args := ib.Build()
	res, err := r.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		if cerr := constraintError(signalsTable, err); cerr != err {
			return false, cerr
		}
		return false, r.internal(ctx, err, map[string]any{"signal_id": signal.ID, "source_id": signal.SourceID}, "insert signal")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, r.internal(ctx, err, map[string]any{"signal_id": signal.ID}, "insert signal")
	}
	return n == 1, nil
}

func (r *SignalRepository) GetSignal(ctx context.Context, id string) (*models.RawSignal, error) {
	ctx, span := tracing.StartSpan(ctx, "SignalRepository.GetSignal")
	defer span.End()

	sb := signalStruct.SelectFrom(signalsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var signal models.RawSignal
	err := r.exec(ctx).GetContext(ctx, &signal, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("signal %s does not exist", id)
	}
	if err != nil {
		return nil, r.internal(ctx, err, map[string]any{"signal_id": id}, "get signal")
	}
	return &signal, nil
}
