// Package repositories holds the Postgres stores behind the matcher, the
// time-series accessor, the scorer, the forecaster and the orchestrator.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/database"
	apperrors "github.com/Stewart-Y/ABVTrends-sub000/pkg/errors"
)

const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
	checkViolation      = "23514"
)

// NotFound returns a 404 HTTP error with a descriptive message
func NotFound(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf(format, args...))
}

// Repository provides the shared database handle and logger.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) DB() database.DB {
	return r.db
}

// exec returns the transaction on ctx, or the pool when there is none.
func (r *Repository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.db)
}

// WithTx runs fn in a transaction, joining one already on ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithTx(ctx, r.db, fn)
}

// internal logs err and hides it behind a 500.
func (r *Repository) internal(ctx context.Context, err error, fields map[string]any, action string) error {
	r.logger.WithContext(ctx).WithError(err).WithFields(fields).Errorf("failed to %s", action)
	return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to %s", action)
}

// constraintError converts integrity violations into StorageError and leaves
// other errors alone.
func constraintError(table string, err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case foreignKeyViolation, uniqueViolation, checkViolation:
		return &apperrors.StorageError{Table: table, Constraint: pqErr.Constraint, Err: err}
	}
	return err
}
