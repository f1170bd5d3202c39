package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of one source within one cycle.
// pending is only held in memory before the run row is created.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// FailureReason distinguishes why a run failed.
type FailureReason string

const (
	FailureAdapter      FailureReason = "adapter_error"
	FailureTimeout      FailureReason = "timeout"
	FailureCancelled    FailureReason = "cancelled"
	FailureCycleTimeout FailureReason = "cycle_timeout"
)

type ScrapeRun struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	CycleID         uuid.UUID      `db:"cycle_id" json:"cycle_id"`
	SourceID        string         `db:"distributor_id" json:"source_id"`
	Status          RunStatus      `db:"status" json:"status"`
	ProductsFound   int            `db:"products_found" json:"products_found"`
	ProductsNew     int            `db:"products_new" json:"products_new"`
	ProductsUpdated int            `db:"products_updated" json:"products_updated"`
	ErrorCount      int            `db:"error_count" json:"error_count"`
	ErrorMessage    *string        `db:"error_message" json:"error_message,omitempty"`
	FailureReason   *FailureReason `db:"failure_reason" json:"failure_reason,omitempty"`
	StartedAt       time.Time      `db:"started_at" json:"started_at"`
	CompletedAt     *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

func (ScrapeRun) TableName() string {
	return "scrape_runs"
}

// Terminal reports whether the run has reached completed or failed.
func (r ScrapeRun) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
