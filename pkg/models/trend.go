package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the coarse trend classification derived from a composite score.
type Tier string

const (
	TierViral     Tier = "viral"
	TierTrending  Tier = "trending"
	TierEmerging  Tier = "emerging"
	TierStable    Tier = "stable"
	TierDeclining Tier = "declining"
)

// TierFor maps a composite score onto its tier. Higher scores never map to lower tiers.
func TierFor(score float64) Tier {
	switch {
	case score >= 90:
		return TierViral
	case score >= 70:
		return TierTrending
	case score >= 50:
		return TierEmerging
	case score >= 30:
		return TierStable
	default:
		return TierDeclining
	}
}

// Rank orders tiers from declining (0) to viral (4).
func (t Tier) Rank() int {
	switch t {
	case TierViral:
		return 4
	case TierTrending:
		return 3
	case TierEmerging:
		return 2
	case TierStable:
		return 1
	default:
		return 0
	}
}

// TrendScore is an immutable snapshot of a product's composite score.
type TrendScore struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ProductID      uuid.UUID `db:"product_id" json:"product_id"`
	CalculatedAt   time.Time `db:"calculated_at" json:"calculated_at"`
	Score          float64   `db:"score" json:"score"`
	MediaScore     float64   `db:"media_score" json:"media_score"`
	SocialScore    float64   `db:"social_score" json:"social_score"`
	RetailerScore  float64   `db:"retailer_score" json:"retailer_score"`
	PriceScore     float64   `db:"price_score" json:"price_score"`
	SearchScore    float64   `db:"search_score" json:"search_score"`
	SeasonalScore  float64   `db:"seasonal_score" json:"seasonal_score"`
	SignalCount    int       `db:"signal_count" json:"signal_count"`
	Tier           Tier      `db:"trend_tier" json:"trend_tier"`
	ScoreChange24h *float64  `db:"score_change_24h" json:"score_change_24h"`
	ScoreChange7d  *float64  `db:"score_change_7d" json:"score_change_7d"`
}

func (TrendScore) TableName() string {
	return "trend_scores"
}

// TrendingProduct joins a product with its latest score for the trends listing.
type TrendingProduct struct {
	Product
	Score          float64   `db:"score" json:"score"`
	Tier           Tier      `db:"trend_tier" json:"trend_tier"`
	ScoreChange24h *float64  `db:"score_change_24h" json:"score_change_24h"`
	ScoreChange7d  *float64  `db:"score_change_7d" json:"score_change_7d"`
	CalculatedAt   time.Time `db:"calculated_at" json:"calculated_at"`
}
