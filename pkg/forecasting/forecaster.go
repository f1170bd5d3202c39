// Package forecasting projects trend score history forward with Holt linear
// smoothing and horizon-scaled confidence bands.
package forecasting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	apperrors "github.com/Stewart-Y/ABVTrends-sub000/pkg/errors"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/metrics"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

const (
	z80 = 1.2816
	z95 = 1.96
)

// HistoryStore reads score history and writes forecast generations.
type HistoryStore interface {
	ScoreHistory(ctx context.Context, productID uuid.UUID, since time.Time) ([]models.TrendScore, error)
	InsertForecasts(ctx context.Context, forecasts []models.Forecast) error
}

type Config struct {
	MinPoints      int
	HistoryWindow  time.Duration
	DefaultHorizon int
	MaxHorizon     int
	// MinSigma floors the residual deviation so a perfectly smooth history still
	// yields widening bands.
	MinSigma float64
}

func DefaultConfig() Config {
	return Config{
		MinPoints:      14,
		HistoryWindow:  90 * 24 * time.Hour,
		DefaultHorizon: 7,
		MaxHorizon:     90,
		MinSigma:       0.5,
	}
}

type Forecaster struct {
	store  HistoryStore
	config Config
	grid   []float64
	logger ectologger.Logger
	now    func() time.Time
}

func NewForecaster(store HistoryStore, config Config, logger ectologger.Logger) *Forecaster {
	d := DefaultConfig()
	if config.MinPoints <= 0 {
		config.MinPoints = d.MinPoints
	}
	if config.HistoryWindow <= 0 {
		config.HistoryWindow = d.HistoryWindow
	}
	if config.DefaultHorizon <= 0 {
		config.DefaultHorizon = d.DefaultHorizon
	}
	if config.MaxHorizon <= 0 {
		config.MaxHorizon = d.MaxHorizon
	}
	if config.MinSigma <= 0 {
		config.MinSigma = d.MinSigma
	}
	return &Forecaster{
		store:  store,
		config: config,
		grid:   defaultGrid(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Forecast fits the product's daily score history and stores one row per day of
// the horizon. Fewer than MinPoints days of history is InsufficientHistoryError.
func (f *Forecaster) Forecast(ctx context.Context, productID uuid.UUID, horizonDays int) ([]models.Forecast, error) {
	ctx, span := tracing.StartSpan(ctx, "forecasting.Forecaster.Forecast")
	defer span.End()

	if horizonDays <= 0 {
		horizonDays = f.config.DefaultHorizon
	}
	if horizonDays > f.config.MaxHorizon {
		return nil, fmt.Errorf("horizon %d exceeds maximum of %d days", horizonDays, f.config.MaxHorizon)
	}

	now := f.now()
	history, err := f.store.ScoreHistory(ctx, productID, now.Add(-f.config.HistoryWindow))
	if err != nil {
		return nil, err
	}

	days, series := DailySeries(history)
	if len(series) < f.config.MinPoints {
		metrics.RecordForecast("insufficient_history")
		return nil, &apperrors.InsufficientHistoryError{ProductID: productID.String(), Points: len(series), Required: f.config.MinPoints}
	}

	forecasts := f.project(productID, days[len(days)-1], series, horizonDays, now)
	if err := f.store.InsertForecasts(ctx, forecasts); err != nil {
		metrics.RecordForecast("error")
		return nil, err
	}

	metrics.RecordForecast("success")
	f.logger.WithContext(ctx).WithFields(map[string]any{
		"product_id":    productID,
		"points":        len(series),
		"horizon":       horizonDays,
		"model_version": forecasts[0].ModelVersion,
	}).Debug("Generated forecast")
	return forecasts, nil
}

func (f *Forecaster) project(productID uuid.UUID, lastDay time.Time, series []float64, horizonDays int, generatedAt time.Time) []models.Forecast {
	fit := bestHolt(series, f.grid)
	sigma := math.Max(fit.residualStdDev(), f.config.MinSigma)
	version := fmt.Sprintf("holt-v1(a=%.1f,b=%.1f)", fit.alpha, fit.beta)

	out := make([]models.Forecast, 0, horizonDays)
	for h := 1; h <= horizonDays; h++ {
		raw := fit.predict(h)
		spread := sigma * math.Sqrt(float64(h))
		out = append(out, models.Forecast{
			ID:             uuid.New(),
			ProductID:      productID,
			ForecastDate:   lastDay.AddDate(0, 0, h),
			PredictedScore: round2(clamp(raw, 0, 100)),
			Lower80:        raw - z80*spread,
			Upper80:        raw + z80*spread,
			Lower95:        raw - z95*spread,
			Upper95:        raw + z95*spread,
			ModelVersion:   version,
			GeneratedAt:    generatedAt,
		})
	}
	return out
}

// DailySeries keeps the last snapshot of each UTC day, ascending.
func DailySeries(history []models.TrendScore) ([]time.Time, []float64) {
	latest := make(map[time.Time]models.TrendScore)
	for _, s := range history {
		day := s.CalculatedAt.UTC().Truncate(24 * time.Hour)
		if cur, ok := latest[day]; !ok || s.CalculatedAt.After(cur.CalculatedAt) {
			latest[day] = s
		}
	}

	days := make([]time.Time, 0, len(latest))
	for d := range latest {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	series := make([]float64, len(days))
	for i, d := range days {
		series[i] = latest[d].Score
	}
	return days, series
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
