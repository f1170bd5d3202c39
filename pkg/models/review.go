package models

import (
	"time"

	"github.com/google/uuid"
)

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
	ReviewExpired  ReviewStatus = "expired"
)

// ReviewItem holds a needs-review match until a human or the expiry policy finalizes it.
type ReviewItem struct {
	ID                 uuid.UUID    `db:"id" json:"id"`
	SignalID           string       `db:"signal_id" json:"signal_id"`
	SourceID           string       `db:"source_id" json:"source_id"`
	ExternalKey        string       `db:"external_key" json:"external_key"`
	RawName            string       `db:"raw_name" json:"raw_name"`
	Brand              *string      `db:"brand" json:"brand,omitempty"`
	Category           Category     `db:"category" json:"category"`
	CandidateProductID uuid.UUID    `db:"candidate_product_id" json:"candidate_product_id"`
	Score              float64      `db:"score" json:"score"`
	Status             ReviewStatus `db:"status" json:"status"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	ExpiresAt          *time.Time   `db:"expires_at" json:"expires_at,omitempty"`
	ResolvedAt         *time.Time   `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy         *string      `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedProductID  *uuid.UUID   `db:"resolved_product_id" json:"resolved_product_id,omitempty"`
}

func (ReviewItem) TableName() string {
	return "review_queue"
}
