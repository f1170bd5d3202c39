package repositories

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/database"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

const distributorsTable = "distributors"

var sourceStruct = database.NewStruct(new(models.Source))

// SourceRepository mirrors the source registry into the distributors table so
// observations and runs can reference it.
type SourceRepository struct {
	*Repository
}

func NewSourceRepository(db database.DB, logger ectologger.Logger) *SourceRepository {
	return &SourceRepository{Repository: NewRepository(db, logger)}
}

// SyncSources upserts every source. Rows for sources no longer registered are kept
// because history still references them.
func (r *SourceRepository) SyncSources(ctx context.Context, sources []models.Source) error {
	ctx, span := tracing.StartSpan(ctx, "SourceRepository.SyncSources")
	defer span.End()

	if len(sources) == 0 {
		return nil
	}

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto(distributorsTable).Cols("id", "name", "tier", "kind", "enabled", "created_at")
	for _, s := range sources {
		created := s.CreatedAt
		if created.IsZero() {
			created = now
		}
		ib.Values(s.ID, s.Name, s.Tier, s.Kind, s.Enabled, created)
	}
	ib.OnConflictUpdate([]string{"id"},
		database.Excluded("name"),
		database.Excluded("tier"),
		database.Excluded("kind"),
		database.Excluded("enabled"),
	)

	query, args := ib.Build()
	if _, err := r.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		if cerr := constraintError(distributorsTable, err); cerr != err {
			return cerr
		}
		return r.internal(ctx, err, map[string]any{"sources": len(sources)}, "sync sources")
	}

	r.logger.WithContext(ctx).WithField("sources", len(sources)).Infof("Synced %d sources into %s", len(sources), distributorsTable)
	return nil
}

func (r *SourceRepository) ListSources(ctx context.Context) ([]models.Source, error) {
	ctx, span := tracing.StartSpan(ctx, "SourceRepository.ListSources")
	defer span.End()

	sb := sourceStruct.SelectFrom(distributorsTable)
	sb.OrderBy("id")

	query, args := sb.Build()
	sources := []models.Source{}
	if err := r.exec(ctx).SelectContext(ctx, &sources, query, args...); err != nil {
		return nil, r.internal(ctx, err, nil, "list sources")
	}
	return sources, nil
}
