package repositories

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/database"
	apperrors "github.com/Stewart-Y/ABVTrends-sub000/pkg/errors"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func newMockDB(t *testing.T) (database.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return database.NewDatabaseInstance(sqlx.NewDb(raw, "postgres"), getTestLogger()), mock
}

func TestCatalogRepository_FindAliasMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCatalogRepository(db, getTestLogger())

	mock.ExpectQuery(regexp.QuoteMeta("FROM product_aliases WHERE source_id = $1 AND external_key = $2")).
		WithArgs("total-wine", "sku-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	alias, err := repo.FindAlias(context.Background(), "total-wine", "sku-1")

	require.NoError(t, err)
	assert.Nil(t, alias)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_GetProductNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCatalogRepository(db, getTestLogger())
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetProduct(context.Background(), id)

	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_ListCandidates(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCatalogRepository(db, getTestLogger())
	id := uuid.New()
	created := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN product_aliases a ON a.product_id = p.id WHERE p.category = $1 GROUP BY p.id")).
		WithArgs(models.CategoryWine).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "normalized_name", "brand", "category", "subcategory", "created_at", "alias_count"}).
			AddRow(id.String(), "Kendall-Jackson Vintner's Reserve Chardonnay", "kendall jackson vintners reserve chardonnay", "Kendall-Jackson", "wine", nil, created, 3))

	candidates, err := repo.ListCandidates(context.Background(), models.CategoryWine)

	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, id, candidates[0].ID)
	assert.Equal(t, 3, candidates[0].AliasCount)
	require.NotNil(t, candidates[0].Brand)
	assert.Equal(t, "Kendall-Jackson", *candidates[0].Brand)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_CreateAliasConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCatalogRepository(db, getTestLogger())

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (source_id, external_key) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.CreateAlias(context.Background(), &models.ProductAlias{
		ProductID:   uuid.New(),
		SourceID:    "total-wine",
		ExternalKey: "sku-1",
		RawName:     "KJ Chard",
		MatchMethod: models.MatchMethodFuzzy,
	})

	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_CreateProductCheckViolation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCatalogRepository(db, getTestLogger())

	mock.ExpectExec("INSERT INTO products").
		WillReturnError(&pq.Error{Code: "23514", Constraint: "products_category_check"})

	err := repo.CreateProduct(context.Background(), &models.Product{Name: "Mystery", Category: "mead"})

	require.Error(t, err)
	var storageErr *apperrors.StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "products", storageErr.Table)
	assert.Equal(t, "products_category_check", storageErr.Constraint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_StampSignalOnlyWhenUnset(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCatalogRepository(db, getTestLogger())
	productID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE raw_signals SET product_id = $1 WHERE id = $2 AND product_id IS NULL")).
		WithArgs(productID, "sig-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.StampSignal(context.Background(), "sig-1", productID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepository_WithTxCommits(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCatalogRepository(db, getTestLogger())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO products").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO product_aliases").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.WithTx(context.Background(), func(ctx context.Context) error {
		product := &models.Product{Name: "Tito's Handmade Vodka", Category: models.CategorySpirits}
		if err := repo.CreateProduct(ctx, product); err != nil {
			return err
		}
		_, err := repo.CreateAlias(ctx, &models.ProductAlias{ProductID: product.ID, SourceID: "drizly", ExternalKey: "titos"})
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalRepository_InsertSignalReplay(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSignalRepository(db, getTestLogger())

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 0))

	signal := &models.RawSignal{
		ID:          "abc123",
		SourceID:    "total-wine",
		SignalType:  models.SignalRetailListing,
		ProductName: "KJ Chard",
		CapturedAt:  time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}

	first, err := repo.InsertSignal(context.Background(), signal)
	require.NoError(t, err)
	second, err := repo.InsertSignal(context.Background(), signal)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_ResolveReviewNotPending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReviewRepository(db, getTestLogger())
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE review_queue SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ResolveReview(context.Background(), id, models.ReviewApproved, nil, "analyst", time.Now())

	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepository_GetReviewBySignalMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReviewRepository(db, getTestLogger())

	mock.ExpectQuery(regexp.QuoteMeta("FROM review_queue WHERE signal_id = $1")).
		WithArgs("sig-9").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	item, err := repo.GetReviewBySignal(context.Background(), "sig-9")

	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestObservationRepository_InsertReturnsID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewObservationRepository(db, getTestLogger())

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO price_observations")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	obs := &models.Observation{
		ProductID:     uuid.New(),
		DistributorID: "total-wine",
		SignalType:    models.SignalPrice,
		Value:         14.99,
		RecordedAt:    time.Now().UTC(),
	}
	require.NoError(t, repo.Insert(context.Background(), models.PriceObservationsTable, obs))

	assert.Equal(t, int64(42), obs.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObservationRepository_InsertSkipsRecordedSignal(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewObservationRepository(db, getTestLogger())

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (signal_id) DO NOTHING RETURNING id")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	signalID := "sig-7"
	obs := &models.Observation{
		ProductID:     uuid.New(),
		DistributorID: "total-wine",
		SignalType:    models.SignalPrice,
		Value:         14.99,
		RecordedAt:    time.Now().UTC(),
		SignalID:      &signalID,
	}
	require.NoError(t, repo.Insert(context.Background(), models.PriceObservationsTable, obs))

	assert.Zero(t, obs.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObservationRepository_InsertUnknownDistributor(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewObservationRepository(db, getTestLogger())

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO signal_observations")).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "signal_observations_distributor_id_fkey"})

	err := repo.Insert(context.Background(), models.SignalObservationsTable, &models.Observation{
		ProductID:     uuid.New(),
		DistributorID: "nowhere",
		SignalType:    models.SignalMedia,
		Value:         1,
	})

	assert.True(t, apperrors.IsStorageError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestObservationRepository_RejectsUnknownTable(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewObservationRepository(db, getTestLogger())

	_, err := repo.Select(context.Background(), "products; DROP TABLE products", uuid.New(), nil, time.Time{}, time.Now())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown observation table")
}

func TestObservationRepository_SelectFiltersTypes(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewObservationRepository(db, getTestLogger())
	productID := uuid.New()
	since := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(7 * 24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE product_id = $1 AND recorded_at BETWEEN $2 AND $3 AND signal_type IN ($4, $5) ORDER BY recorded_at, id")).
		WithArgs(productID, since, until, "media", "social").
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "distributor_id", "signal_type", "value", "recorded_at", "signal_id"}).
			AddRow(int64(1), productID.String(), "punch", "media", 1.0, since.Add(time.Hour), nil))

	rows, err := repo.Select(context.Background(), models.SignalObservationsTable, productID,
		[]models.SignalType{models.SignalMedia, models.SignalSocial}, since, until)

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.SignalMedia, rows[0].SignalType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreRepository_LatestScoreNone(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewScoreRepository(db, getTestLogger())
	productID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM trend_scores WHERE product_id = $1 ORDER BY calculated_at DESC")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	score, err := repo.LatestScore(context.Background(), productID)

	require.NoError(t, err)
	assert.Nil(t, score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreRepository_InsertForecastsInOneTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewScoreRepository(db, getTestLogger())
	productID := uuid.New()
	generated := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO forecasts").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	forecasts := []models.Forecast{
		{ProductID: productID, ForecastDate: generated.AddDate(0, 0, 1), PredictedScore: 60, ModelVersion: "holt-v1", GeneratedAt: generated},
		{ProductID: productID, ForecastDate: generated.AddDate(0, 0, 2), PredictedScore: 61, ModelVersion: "holt-v1", GeneratedAt: generated},
	}
	require.NoError(t, repo.InsertForecasts(context.Background(), forecasts))

	assert.NotEqual(t, uuid.Nil, forecasts[0].ID)
	assert.NotEqual(t, forecasts[0].ID, forecasts[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreRepository_InsertForecastsRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewScoreRepository(db, getTestLogger())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO forecasts").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.InsertForecasts(context.Background(), []models.Forecast{{ProductID: uuid.New(), ModelVersion: "holt-v1"}})

	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, httperror.GetStatusCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreRepository_LatestForecastTimes(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewScoreRepository(db, getTestLogger())
	a, b := uuid.New(), uuid.New()
	at := time.Date(2026, 10, 2, 6, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM forecasts WHERE product_id IN ($1, $2) GROUP BY product_id")).
		WithArgs(a, b).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "generated_at"}).AddRow(a.String(), at))

	times, err := repo.LatestForecastTimes(context.Background(), []uuid.UUID{a, b})

	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]time.Time{a: at}, times)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreRepository_LatestForecastTimesEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewScoreRepository(db, getTestLogger())

	times, err := repo.LatestForecastTimes(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, times)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_LastSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, getTestLogger())
	at := time.Date(2026, 10, 1, 11, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT distributor_id, MAX(completed_at) AS completed_at FROM scrape_runs WHERE status = $1")).
		WithArgs("completed").
		WillReturnRows(sqlmock.NewRows([]string{"distributor_id", "completed_at"}).
			AddRow("total-wine", at).
			AddRow("punch", at.Add(-3*time.Hour)))

	last, err := repo.LastSuccess(context.Background())

	require.NoError(t, err)
	assert.Equal(t, at, last["total-wine"])
	assert.Equal(t, at.Add(-3*time.Hour), last["punch"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_FinalizeMissingRun(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, getTestLogger())

	mock.ExpectExec(regexp.QuoteMeta("UPDATE scrape_runs SET")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.FinalizeRun(context.Background(), &models.ScrapeRun{ID: uuid.New(), Status: models.RunStatusCompleted})

	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_LatestRunsDistinctOnDistributor(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunRepository(db, getTestLogger())
	started := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (distributor_id) * FROM scrape_runs ORDER BY distributor_id, started_at DESC")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cycle_id", "distributor_id", "status", "started_at"}).
			AddRow(uuid.NewString(), uuid.NewString(), "total-wine", "failed", started))

	runs, err := repo.LatestRuns(context.Background())

	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "total-wine", runs[0].SourceID)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
}

func TestSourceRepository_SyncSourcesUpserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSourceRepository(db, getTestLogger())

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, tier = EXCLUDED.tier, kind = EXCLUDED.kind, enabled = EXCLUDED.enabled")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.SyncSources(context.Background(), []models.Source{
		{ID: "total-wine", Name: "Total Wine", Tier: 1, Kind: "http_json", Enabled: true},
		{ID: "punch", Name: "Punch", Tier: 2, Kind: "html", Enabled: true},
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLimitOrDefault(t *testing.T) {
	assert.Equal(t, 50, limitOrDefault(0))
	assert.Equal(t, 20, limitOrDefault(20))
	assert.Equal(t, 500, limitOrDefault(10000))
}
