package pipeline

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/Stewart-Y/ABVTrends-sub000/pkg/errors"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/scoring"
)

// forecastDue selects scored products whose composite moved by more than
// ForecastDelta, or whose newest forecast is missing or older than ForecastMaxAge.
func (o *Orchestrator) forecastDue(ctx context.Context, pass scoring.PassResult) []uuid.UUID {
	if len(pass.Scored) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(pass.Scored))
	for _, r := range pass.Scored {
		ids = append(ids, r.Score.ProductID)
	}

	latest, err := o.deps.Forecasts.LatestForecastTimes(ctx, ids)
	if err != nil {
		o.logger.WithContext(ctx).WithError(err).Warn("Failed to read forecast ages; forecasting every scored product")
		return ids
	}

	cutoff := o.now().Add(-o.config.ForecastMaxAge)
	var due []uuid.UUID
	for _, r := range pass.Scored {
		moved := r.Previous != nil && math.Abs(r.Score.Score-r.Previous.Score) > o.config.ForecastDelta
		generated, ok := latest[r.Score.ProductID]
		if moved || !ok || generated.Before(cutoff) {
			due = append(due, r.Score.ProductID)
		}
	}
	return due
}

func (o *Orchestrator) forecastPass(ctx context.Context, pass scoring.PassResult) int {
	due := o.forecastDue(ctx, pass)
	if len(due) == 0 {
		return 0
	}

	var generated int64
	var g errgroup.Group
	g.SetLimit(o.config.ForecastParallelism)
	for _, id := range due {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			_, err := o.deps.Forecaster.Forecast(ctx, id, o.config.ForecastHorizon)
			switch {
			case err == nil:
				atomic.AddInt64(&generated, 1)
			case apperrors.IsInsufficientHistory(err):
				o.logger.WithContext(ctx).WithField("product_id", id).Debug("Not enough score history to forecast yet")
			default:
				o.logger.WithContext(ctx).WithError(err).WithField("product_id", id).Error("Failed to forecast product")
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(generated)
}
