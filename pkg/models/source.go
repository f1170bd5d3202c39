package models

import "time"

// Source is a registered distributor or media feed.
type Source struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Tier      int       `db:"tier" json:"tier"`
	Kind      string    `db:"kind" json:"kind"`
	Enabled   bool      `db:"enabled" json:"enabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (Source) TableName() string {
	return "distributors"
}

// SourceHealthStatus is the freshness verdict for a source.
type SourceHealthStatus string

const (
	SourceHealthy SourceHealthStatus = "healthy"
	SourceStale   SourceHealthStatus = "stale"
	SourceFailed  SourceHealthStatus = "failed"
	SourceUnknown SourceHealthStatus = "unknown"
)
