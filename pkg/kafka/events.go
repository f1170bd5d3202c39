package kafka

import (
	"time"

	"github.com/google/uuid"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
)

const (
	EventTrendScored        = "trend.scored"
	EventTrendTierChanged   = "trend.tier_changed"
	EventScrapeRunFinalized = "scrape_run.finalized"
)

// TrendEvent is published for every new trend score snapshot.
type TrendEvent struct {
	Type           string       `json:"type"`
	ProductID      uuid.UUID    `json:"product_id"`
	ScoreID        uuid.UUID    `json:"score_id"`
	Score          float64      `json:"score"`
	Tier           models.Tier  `json:"tier"`
	PreviousTier   *models.Tier `json:"previous_tier,omitempty"`
	ScoreChange24h *float64     `json:"score_change_24h,omitempty"`
	ScoreChange7d  *float64     `json:"score_change_7d,omitempty"`
	CalculatedAt   time.Time    `json:"calculated_at"`
	TraceID        string       `json:"trace_id,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// ScrapeRunEvent is published once per finalized scrape run.
type ScrapeRunEvent struct {
	Type            string                `json:"type"`
	RunID           uuid.UUID             `json:"run_id"`
	CycleID         uuid.UUID             `json:"cycle_id"`
	SourceID        string                `json:"source_id"`
	Status          models.RunStatus      `json:"status"`
	FailureReason   *models.FailureReason `json:"failure_reason,omitempty"`
	ProductsFound   int                   `json:"products_found"`
	ProductsNew     int                   `json:"products_new"`
	ProductsUpdated int                   `json:"products_updated"`
	ErrorCount      int                   `json:"error_count"`
	StartedAt       time.Time             `json:"started_at"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	TraceID         string                `json:"trace_id,omitempty"`
	Timestamp       time.Time             `json:"timestamp"`
}

func NewTrendEvent(eventType string, score models.TrendScore, previousTier *models.Tier) *TrendEvent {
	return &TrendEvent{
		Type:           eventType,
		ProductID:      score.ProductID,
		ScoreID:        score.ID,
		Score:          score.Score,
		Tier:           score.Tier,
		PreviousTier:   previousTier,
		ScoreChange24h: score.ScoreChange24h,
		ScoreChange7d:  score.ScoreChange7d,
		CalculatedAt:   score.CalculatedAt,
	}
}

func NewScrapeRunEvent(run models.ScrapeRun) *ScrapeRunEvent {
	return &ScrapeRunEvent{
		Type:            EventScrapeRunFinalized,
		RunID:           run.ID,
		CycleID:         run.CycleID,
		SourceID:        run.SourceID,
		Status:          run.Status,
		FailureReason:   run.FailureReason,
		ProductsFound:   run.ProductsFound,
		ProductsNew:     run.ProductsNew,
		ProductsUpdated: run.ProductsUpdated,
		ErrorCount:      run.ErrorCount,
		StartedAt:       run.StartedAt,
		CompletedAt:     run.CompletedAt,
	}
}
