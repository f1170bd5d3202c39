package models

import (
	"time"

	"github.com/google/uuid"
)

// Forecast is one projected day. A newer GeneratedAt supersedes older rows for the same date.
type Forecast struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ProductID      uuid.UUID `db:"product_id" json:"product_id"`
	ForecastDate   time.Time `db:"forecast_date" json:"forecast_date"`
	PredictedScore float64   `db:"predicted_score" json:"predicted_score"`
	Lower80        float64   `db:"confidence_lower_80" json:"confidence_lower_80"`
	Upper80        float64   `db:"confidence_upper_80" json:"confidence_upper_80"`
	Lower95        float64   `db:"confidence_lower_95" json:"confidence_lower_95"`
	Upper95        float64   `db:"confidence_upper_95" json:"confidence_upper_95"`
	ModelVersion   string    `db:"model_version" json:"model_version"`
	GeneratedAt    time.Time `db:"generated_at" json:"generated_at"`
}

func (Forecast) TableName() string {
	return "forecasts"
}
