package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/database"
)

// SignalType classifies what a raw signal observed.
type SignalType string

const (
	SignalMedia         SignalType = "media"
	SignalSocial        SignalType = "social"
	SignalRetailListing SignalType = "retail_listing"
	SignalPrice         SignalType = "price"
	SignalInventory     SignalType = "inventory"
	SignalSearch        SignalType = "search"
)

func (t SignalType) Valid() bool {
	switch t {
	case SignalMedia, SignalSocial, SignalRetailListing, SignalPrice, SignalInventory, SignalSearch:
		return true
	}
	return false
}

// RawSignal is one normalized observation from a source. Rows are append-only;
// ProductID is the only field written after insert.
type RawSignal struct {
	ID              string                          `db:"id" json:"id"`
	SourceID        string                          `db:"source_id" json:"source_id"`
	SignalType      SignalType                      `db:"signal_type" json:"signal_type"`
	ExternalID      *string                         `db:"external_id" json:"external_id,omitempty"`
	ProductName     string                          `db:"product_name" json:"product_name"`
	Brand           *string                         `db:"brand" json:"brand,omitempty"`
	Category        string                          `db:"category" json:"category"`
	Subcategory     *string                         `db:"subcategory" json:"subcategory,omitempty"`
	Title           *string                         `db:"title" json:"title,omitempty"`
	URL             *string                         `db:"url" json:"url,omitempty"`
	Value           *float64                        `db:"value" json:"value,omitempty"`
	Currency        *string                         `db:"currency" json:"currency,omitempty"`
	CapturedAt      time.Time                       `db:"captured_at" json:"captured_at"`
	MalformedFields pq.StringArray                  `db:"malformed_fields" json:"malformed_fields,omitempty"`
	Payload         database.JSONB[map[string]any]  `db:"payload" json:"payload"`
	ProductID       *uuid.UUID                      `db:"product_id" json:"product_id,omitempty"`
	CreatedAt       time.Time                       `db:"created_at" json:"created_at"`
}

func (RawSignal) TableName() string {
	return "raw_signals"
}

// HasIdentity reports whether the signal names a product at all.
func (s RawSignal) HasIdentity() bool {
	return s.ProductName != "" || (s.ExternalID != nil && *s.ExternalID != "")
}
