package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/metrics"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
)

type HealthReport struct {
	OverallHealthy bool                                 `json:"overall_healthy"`
	Sources        map[string]models.SourceHealthStatus `json:"sources"`
	Alerts         []string                             `json:"alerts"`
	CheckedAt      time.Time                            `json:"checked_at"`
}

// Health grades every enabled source. A source is failed when its latest run
// failed, stale when its last success is older than its tier SLA, and unknown when
// it has never completed. Only failed and stale sources make the report unhealthy.
func (o *Orchestrator) Health(ctx context.Context) (*HealthReport, error) {
	latest, err := o.deps.Runs.LatestRuns(ctx)
	if err != nil {
		return nil, err
	}
	success, err := o.deps.Runs.LastSuccess(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.ScrapeRun, len(latest))
	for _, run := range latest {
		byID[run.SourceID] = run
	}

	now := o.now()
	report := &HealthReport{
		OverallHealthy: true,
		Sources:        make(map[string]models.SourceHealthStatus),
		Alerts:         []string{},
		CheckedAt:      now,
	}
	for _, def := range o.deps.Sources.Registry().Enabled() {
		status := models.SourceUnknown
		run, hasRun := byID[def.ID]
		last, hasSuccess := success[def.ID]
		sla := o.config.SLA(def.Tier)

		switch {
		case hasRun && run.Status == models.RunStatusFailed:
			status = models.SourceFailed
			msg := "unknown error"
			if run.ErrorMessage != nil {
				msg = *run.ErrorMessage
			}
			report.Alerts = append(report.Alerts, fmt.Sprintf("source %s failed its last run: %s", def.ID, msg))
		case !hasSuccess:
			status = models.SourceUnknown
		case now.Sub(last) > sla:
			status = models.SourceStale
			report.Alerts = append(report.Alerts, fmt.Sprintf("source %s last succeeded %s ago, over its %s SLA",
				def.ID, now.Sub(last).Truncate(time.Minute), sla))
		default:
			status = models.SourceHealthy
		}

		if status == models.SourceFailed || status == models.SourceStale {
			report.OverallHealthy = false
		}
		report.Sources[def.ID] = status
		metrics.SetSourceHealth(def.ID, string(status))
	}
	return report, nil
}
