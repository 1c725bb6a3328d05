package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewExternalError("notifier", "delivery failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "notifier service error: delivery failed: connection refused", err.Error())
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 502, GetStatusCode(err))
}

func TestIsType(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", NewValidationError("INVALID_BID_VALUE", "bid value is not a number"))

	assert.True(t, IsType(wrapped, ErrorTypeValidation))
	assert.False(t, IsType(wrapped, ErrorTypeNotFound))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeValidation))
	assert.Equal(t, 400, GetStatusCode(wrapped))
	assert.Equal(t, 500, GetStatusCode(errors.New("plain")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))

	base := NewNotFoundError("auction")
	err := Wrap(base, "lookup")
	assert.Equal(t, "lookup: auction not found", err.Error())
	assert.True(t, IsType(err, ErrorTypeNotFound))
}

func TestConstructors_StatusAndRetry(t *testing.T) {
	tests := []struct {
		name      string
		err       *AppError
		status    int
		retryable bool
	}{
		{"validation", NewValidationError("INVALID_TITLE", "title is required"), 400, false},
		{"not found", NewNotFoundError("auction"), 404, false},
		{"conflict", NewConflictError("auction A1 already exists"), 409, false},
		{"unauthorized", NewUnauthorizedError("token expired"), 401, false},
		{"rate limit", NewRateLimitError("too many bids"), 429, true},
		{"internal", NewInternalError("panic in notify.GotIt"), 500, true},
		{"external", NewExternalError("redis", "rpush failed"), 502, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}
