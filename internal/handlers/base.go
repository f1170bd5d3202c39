// Package handlers exposes the read-only query surface, the review queue and the
// manual scrape trigger over echo under /api/v1.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	defaultLimit    = 50
	defaultDays     = 30
	maxDays         = 365
	noTrendData     = "no trend data yet"
	noForecastData  = "no forecast yet"
	defaultReviewer = "api"
)

var validate = validator.New()

// ParseUUID parses a UUID from a path parameter
func ParseUUID(c echo.Context, param string) (uuid.UUID, error) {
	idStr := c.Param(param)
	if idStr == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusBadRequest, "missing "+param)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a valid UUID", param)
	}

	return id, nil
}

// Page reads limit and offset query parameters.
func Page(c echo.Context) (limit, offset int, err error) {
	limit, err = intQuery(c, "limit", defaultLimit)
	if err != nil {
		return 0, 0, err
	}
	offset, err = intQuery(c, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if limit <= 0 || offset < 0 {
		return 0, 0, BadRequest("limit must be positive and offset must not be negative")
	}
	return limit, offset, nil
}

// Since reads the days query parameter and returns the start of that window.
func Since(c echo.Context, now time.Time) (time.Time, error) {
	days, err := intQuery(c, "days", defaultDays)
	if err != nil {
		return time.Time{}, err
	}
	if days <= 0 || days > maxDays {
		return time.Time{}, httperror.NewHTTPErrorf(http.StatusBadRequest, "days must be between 1 and %d", maxDays)
	}
	return now.AddDate(0, 0, -days), nil
}

func intQuery(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be an integer", name)
	}
	return v, nil
}

func floatQuery(c echo.Context, name string) (float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a number", name)
	}
	return v, nil
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}

// ListResponse wraps a page of results.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newList[T any](items []T, limit, offset int) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Limit: limit, Offset: offset}
}
