// Package errors defines the failure taxonomy shared by the ingest, matching,
// scoring, forecasting and pipeline packages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
)

// AdapterError is a source fetch or normalize failure. It is recorded on the
// source's scrape run and never aborts sibling sources.
type AdapterError struct {
	SourceID string
	Message  string
	Err      error
}

func NewAdapterError(sourceID string, err error, format string, args ...any) *AdapterError {
	return &AdapterError{SourceID: sourceID, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source '%s': %s: %v", e.SourceID, e.Message, e.Err)
	}
	return fmt.Sprintf("source '%s': %s", e.SourceID, e.Message)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// MatchError means a signal could not be resolved at all, e.g. an unknown category.
type MatchError struct {
	SignalID string
	Message  string
}

func NewMatchErrorf(signalID string, format string, args ...any) *MatchError {
	return &MatchError{SignalID: signalID, Message: fmt.Sprintf(format, args...)}
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("signal '%s': %s", e.SignalID, e.Message)
}

func (e *MatchError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusUnprocessableEntity, e.Error()).AddMetaValue("signal_id", e.SignalID)
}

// StorageError is a constraint violation on write, such as an unknown product or distributor.
type StorageError struct {
	Table      string
	Constraint string
	Err        error
}

func (e *StorageError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("storage: %s violates %s: %v", e.Table, e.Constraint, e.Err)
	}
	return fmt.Sprintf("storage: %s: %v", e.Table, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// InsufficientDataError is returned when a product has no signals in any scoring window.
type InsufficientDataError struct {
	ProductID string
	AsOf      time.Time
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("product '%s' has no signals as of %s", e.ProductID, e.AsOf.UTC().Format(time.RFC3339))
}

// InsufficientHistoryError is returned when too few daily score points exist to forecast.
type InsufficientHistoryError struct {
	ProductID string
	Points    int
	Required  int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("product '%s' has %d daily score points, need %d", e.ProductID, e.Points, e.Required)
}

// CycleTimeoutError marks a source that had not finished when the cycle barrier expired.
type CycleTimeoutError struct {
	CycleID  string
	SourceID string
	MaxWait  time.Duration
}

func (e *CycleTimeoutError) Error() string {
	return fmt.Sprintf("cycle '%s': source '%s' did not finish within %s", e.CycleID, e.SourceID, e.MaxWait)
}

func IsAdapterError(err error) bool {
	var target *AdapterError
	return errors.As(err, &target)
}

func IsMatchError(err error) bool {
	var target *MatchError
	return errors.As(err, &target)
}

func IsStorageError(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}

func IsInsufficientHistory(err error) bool {
	var target *InsufficientHistoryError
	return errors.As(err, &target)
}

func IsCycleTimeout(err error) bool {
	var target *CycleTimeoutError
	return errors.As(err, &target)
}

// StatusCode maps domain errors onto HTTP status codes for the API layer.
func StatusCode(err error) (int, bool) {
	switch {
	case IsMatchError(err), IsStorageError(err):
		return http.StatusUnprocessableEntity, true
	case IsInsufficientData(err), IsInsufficientHistory(err):
		return http.StatusNotFound, true
	case IsAdapterError(err):
		return http.StatusBadGateway, true
	case IsCycleTimeout(err):
		return http.StatusGatewayTimeout, true
	}
	return 0, false
}
