package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NewNotFoundError("summary missing", nil), IsNotFound},
		{"validation", NewValidationError("bad limit", nil), IsInvalidInput},
		{"unauthorized", NewUnauthorizedError("bad token", nil), IsUnauthorized},
		{"rate limit", NewRateLimitError("slow down", nil), IsRateLimit},
		{"wrapped not found", fmt.Errorf("failed to load: %w", NewNotFoundError("x", nil)), IsNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
		})
	}

	assert.False(t, IsNotFound(fmt.Errorf("plain")))
	assert.False(t, IsNotFound(NewInternalError("boom", nil)))
}

func TestAppErrorMessage(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewInternalError("failed to persist", cause)

	assert.Equal(t, "INTERNAL: failed to persist (caused by: connection refused)", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "NOT_FOUND: gone", NewNotFoundError("gone", nil).Error())
}

func TestSyncInProgressError(t *testing.T) {
	started := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)
	err := fmt.Errorf("trigger: %w", NewSyncInProgressError(started))

	assert.True(t, IsSyncInProgress(err))
	assert.Contains(t, err.Error(), "2024-03-20T10:00:00Z")
	assert.Equal(t, "sync already in progress", NewSyncInProgressError(time.Time{}).Error())
	assert.False(t, IsSyncInProgress(fmt.Errorf("other")))
}

func TestFetchErrorKind(t *testing.T) {
	retriable := NewFetchError(KindRetriable, "GET /invoices", fmt.Errorf("status 503"))
	fatal := NewFetchError(KindFatal, "GET /invoices", fmt.Errorf("status 404"))

	assert.True(t, IsRetriable(retriable))
	assert.True(t, IsRetriable(fmt.Errorf("page 3: %w", retriable)))
	assert.False(t, IsRetriable(fatal))
	assert.False(t, IsRetriable(fmt.Errorf("unclassified")))
	assert.Equal(t, "GET /invoices (fatal): status 404", fatal.Error())
}
