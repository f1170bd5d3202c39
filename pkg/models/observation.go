package models

import (
	"time"

	"github.com/google/uuid"
)

// Observation is one time-series sample. Samples sharing a timestamp are independent.
type Observation struct {
	ID            int64      `db:"id" json:"id"`
	ProductID     uuid.UUID  `db:"product_id" json:"product_id"`
	DistributorID string     `db:"distributor_id" json:"distributor_id"`
	SignalType    SignalType `db:"signal_type" json:"signal_type"`
	Value         float64    `db:"value" json:"value"`
	RecordedAt    time.Time  `db:"recorded_at" json:"recorded_at"`
	SignalID      *string    `db:"signal_id" json:"signal_id,omitempty"`
}

const (
	PriceObservationsTable     = "price_observations"
	InventoryObservationsTable = "inventory_observations"
	SignalObservationsTable    = "signal_observations"
)

// ObservationTable returns the series table a signal type is stored in.
func ObservationTable(t SignalType) string {
	switch t {
	case SignalPrice:
		return PriceObservationsTable
	case SignalInventory:
		return InventoryObservationsTable
	default:
		return SignalObservationsTable
	}
}

// DistributorSummary aggregates one distributor's series for a product.
type DistributorSummary struct {
	DistributorID string    `db:"distributor_id" json:"distributor_id"`
	Latest        float64   `db:"latest" json:"latest"`
	Min           float64   `db:"min" json:"min"`
	Max           float64   `db:"max" json:"max"`
	Samples       int       `db:"samples" json:"samples"`
	LastRecorded  time.Time `db:"last_recorded" json:"last_recorded"`
}
