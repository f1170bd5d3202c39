// Package timeseries is the append-only accessor for price, inventory and signal
// observation series.
package timeseries

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/ingest"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

// Store persists observations into the table picked by the accessor.
type Store interface {
	Insert(ctx context.Context, table string, obs *models.Observation) error
	Select(ctx context.Context, table string, productID uuid.UUID, types []models.SignalType, since, until time.Time) ([]models.Observation, error)
	Summaries(ctx context.Context, table string, productID uuid.UUID, since time.Time) ([]models.DistributorSummary, error)
}

type Accessor struct {
	store       Store
	logger      ectologger.Logger
	parallelism int
}

func NewAccessor(store Store, logger ectologger.Logger) *Accessor {
	return &Accessor{store: store, logger: logger, parallelism: 8}
}

// Append inserts one observation. Duplicate timestamps are independent samples and
// never rejected; only constraint violations fail.
func (a *Accessor) Append(ctx context.Context, obs models.Observation) error {
	ctx, span := tracing.StartSpan(ctx, "timeseries.Accessor.Append")
	defer span.End()

	if obs.ProductID == uuid.Nil {
		return fmt.Errorf("observation has no product id")
	}
	if !obs.SignalType.Valid() {
		return fmt.Errorf("observation has unknown signal type %q", obs.SignalType)
	}
	if math.IsNaN(obs.Value) || math.IsInf(obs.Value, 0) {
		return fmt.Errorf("observation value %v is not finite", obs.Value)
	}
	if obs.RecordedAt.IsZero() {
		obs.RecordedAt = time.Now().UTC()
	}

	return a.store.Insert(ctx, models.ObservationTable(obs.SignalType), &obs)
}

// AppendAll inserts observations in parallel. Every insert is attempted; it returns
// how many failed and the first failure.
func (a *Accessor) AppendAll(ctx context.Context, observations []models.Observation) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "timeseries.Accessor.AppendAll")
	defer span.End()

	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(a.parallelism)
	for _, obs := range observations {
		g.Go(func() error {
			if err := a.Append(ctx, obs); err != nil {
				failed.Add(1)
				a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
					"product_id":     obs.ProductID,
					"distributor_id": obs.DistributorID,
					"signal_type":    obs.SignalType,
				}).Warn("Failed to append observation")
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	return int(failed.Load()), err
}

// FromSignal maps a resolved signal onto its series sample, keyed by the signal id
// so re-recording it is a no-op. Count-like signals without a value record one
// occurrence; value-carrying types without a value yield nothing.
func FromSignal(signal models.RawSignal, productID uuid.UUID) (models.Observation, bool) {
	value := 1.0
	if signal.Value != nil {
		value = *signal.Value
	} else if ingest.RequiresValue(signal.SignalType) {
		return models.Observation{}, false
	}
	id := signal.ID
	return models.Observation{
		ProductID:     productID,
		DistributorID: signal.SourceID,
		SignalType:    signal.SignalType,
		Value:         value,
		RecordedAt:    signal.CapturedAt,
		SignalID:      &id,
	}, true
}

// Window returns the observations of the given types recorded in [since, until],
// ascending by recorded_at. No data yields an empty slice.
func (a *Accessor) Window(ctx context.Context, productID uuid.UUID, types []models.SignalType, since, until time.Time) ([]models.Observation, error) {
	ctx, span := tracing.StartSpan(ctx, "timeseries.Accessor.Window")
	defer span.End()

	byTable := make(map[string][]models.SignalType)
	var tables []string
	for _, t := range types {
		table := models.ObservationTable(t)
		if _, ok := byTable[table]; !ok {
			tables = append(tables, table)
		}
		byTable[table] = append(byTable[table], t)
	}

	out := make([]models.Observation, 0)
	for _, table := range tables {
		rows, err := a.store.Select(ctx, table, productID, byTable[table], since, until)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

// PriceSummary aggregates a product's prices per distributor since the given time.
func (a *Accessor) PriceSummary(ctx context.Context, productID uuid.UUID, since time.Time) ([]models.DistributorSummary, error) {
	return a.summary(ctx, models.PriceObservationsTable, productID, since)
}

// InventorySummary aggregates a product's stock levels per distributor since the given time.
func (a *Accessor) InventorySummary(ctx context.Context, productID uuid.UUID, since time.Time) ([]models.DistributorSummary, error) {
	return a.summary(ctx, models.InventoryObservationsTable, productID, since)
}

func (a *Accessor) summary(ctx context.Context, table string, productID uuid.UUID, since time.Time) ([]models.DistributorSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "timeseries.Accessor.summary")
	defer span.End()

	rows, err := a.store.Summaries(ctx, table, productID, since)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.DistributorSummary{}
	}
	return rows, nil
}
