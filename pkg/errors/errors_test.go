package errors

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsSurviveWrapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		code  int
	}{
		{"adapter", NewAdapterError("src-a", fmt.Errorf("dial tcp"), "fetch failed"), IsAdapterError, http.StatusBadGateway},
		{"match", NewMatchErrorf("sig-1", "unknown category %q", "cider"), IsMatchError, http.StatusUnprocessableEntity},
		{"storage", &StorageError{Table: "price_observations", Err: fmt.Errorf("fk")}, IsStorageError, http.StatusUnprocessableEntity},
		{"insufficient data", &InsufficientDataError{ProductID: "p1", AsOf: time.Now()}, IsInsufficientData, http.StatusNotFound},
		{"insufficient history", &InsufficientHistoryError{ProductID: "p1", Points: 3, Required: 14}, IsInsufficientHistory, http.StatusNotFound},
		{"cycle timeout", &CycleTimeoutError{CycleID: "c1", SourceID: "s5", MaxWait: time.Minute}, IsCycleTimeout, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.check(wrapped))

			code, ok := StatusCode(wrapped)
			assert.True(t, ok)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestStatusCode_UnknownError(t *testing.T) {
	_, ok := StatusCode(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestAdapterErrorMessage(t *testing.T) {
	err := NewAdapterError("distributor-a", nil, "status %d", 503)
	assert.Equal(t, "source 'distributor-a': status 503", err.Error())
}
