package repositories

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/database"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

const runsTable = "scrape_runs"

var runStruct = database.NewStruct(new(models.ScrapeRun))

// RunRepository stores the scrape run audit log.
type RunRepository struct {
	*Repository
}

func NewRunRepository(db database.DB, logger ectologger.Logger) *RunRepository {
	return &RunRepository{Repository: NewRepository(db, logger)}
}

func (r *RunRepository) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.CreateRun")
	defer span.End()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	ib := runStruct.InsertInto(runsTable, run)
	query, args := ib.Build()
	if _, err := r.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		if cerr := constraintError(runsTable, err); cerr != err {
			return cerr
		}
		return r.internal(ctx, err, map[string]any{"source_id": run.SourceID, "cycle_id": run.CycleID}, "create scrape run")
	}
	return nil
}

// FinalizeRun writes the terminal status and counts of a run.
func (r *RunRepository) FinalizeRun(ctx context.Context, run *models.ScrapeRun) error {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.FinalizeRun")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(runsTable).
		Set(
			ub.Assign("status", run.Status),
			ub.Assign("products_found", run.ProductsFound),
			ub.Assign("products_new", run.ProductsNew),
			ub.Assign("products_updated", run.ProductsUpdated),
			ub.Assign("error_count", run.ErrorCount),
			ub.Assign("error_message", run.ErrorMessage),
			ub.Assign("failure_reason", run.FailureReason),
			ub.Assign("completed_at", run.CompletedAt),
		).
		Where(ub.Equal("id", run.ID))

	query, args := ub.Build()
	res, err := r.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return r.internal(ctx, err, map[string]any{"run_id": run.ID, "status": run.Status}, "finalize scrape run")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return NotFound("scrape run %s does not exist", run.ID)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":    run.ID,
		"source_id": run.SourceID,
		"status":    run.Status,
	}).Debugf("Finalized %s row", runsTable)
	return nil
}

// LatestRuns returns the newest run of every distributor that has one.
func (r *RunRepository) LatestRuns(ctx context.Context) ([]models.ScrapeRun, error) {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.LatestRuns")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("DISTINCT ON (distributor_id) *").
		From(runsTable).
		OrderBy("distributor_id", "started_at DESC")

	query, args := sb.Build()
	runs := []models.ScrapeRun{}
	if err := r.exec(ctx).SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, r.internal(ctx, err, nil, "list latest scrape runs")
	}
	return runs, nil
}

type lastSuccess struct {
	SourceID    string    `db:"distributor_id"`
	CompletedAt time.Time `db:"completed_at"`
}

func (r *RunRepository) LastSuccess(ctx context.Context) (map[string]time.Time, error) {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.LastSuccess")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("distributor_id", "MAX(completed_at) AS completed_at").
		From(runsTable).
		Where(sb.Equal("status", models.RunStatusCompleted), sb.IsNotNull("completed_at")).
		GroupBy("distributor_id")

	query, args := sb.Build()
	var rows []lastSuccess
	if err := r.exec(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, r.internal(ctx, err, nil, "get last successful scrape runs")
	}

	out := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		out[row.SourceID] = row.CompletedAt
	}
	return out, nil
}

// RunFilter narrows ListRuns. Zero values mean no filter.
type RunFilter struct {
	SourceID string
	CycleID  uuid.UUID
	Status   models.RunStatus
	Limit    int
	Offset   int
}

func (r *RunRepository) ListRuns(ctx context.Context, filter RunFilter) ([]models.ScrapeRun, error) {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.ListRuns")
	defer span.End()

	sb := runStruct.SelectFrom(runsTable)
	if filter.SourceID != "" {
		sb.Where(sb.Equal("distributor_id", filter.SourceID))
	}
	if filter.CycleID != uuid.Nil {
		sb.Where(sb.Equal("cycle_id", filter.CycleID))
	}
	if filter.Status != "" {
		sb.Where(sb.Equal("status", filter.Status))
	}
	sb.OrderBy("started_at").Desc().Limit(limitOrDefault(filter.Limit)).Offset(filter.Offset)

	query, args := sb.Build()
	runs := []models.ScrapeRun{}
	if err := r.exec(ctx).SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"source_id": filter.SourceID}, "list scrape runs")
	}
	return runs, nil
}
