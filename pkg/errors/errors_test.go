package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NotFound("mission", "m-1")
	assert.Contains(t, err.Error(), "NOT_FOUND")
	assert.Contains(t, err.Error(), "m-1")
}

func TestAppError_Unwrap(t *testing.T) {
	err := TransitionNotAllowed("not_started", "submitted")
	assert.True(t, errors.Is(err, ErrTransitionNotAllowed))

	wrapped := fmt.Errorf("submit mission: %w", err)
	var appErr *AppError
	assert.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, "TRANSITION_NOT_ALLOWED", appErr.Code)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("mission", "m-1"), http.StatusNotFound},
		{"invalid input", InvalidInput("no evidence attached"), http.StatusBadRequest},
		{"unauthorized", Unauthorized("token rejected"), http.StatusUnauthorized},
		{"forbidden", Forbidden("not your mission"), http.StatusForbidden},
		{"conflict", Conflict("already submitted"), http.StatusConflict},
		{"transition", TransitionNotAllowed("approved", "in_progress"), http.StatusConflict},
		{"sentinel offline", ErrOffline, http.StatusServiceUnavailable},
		{"sentinel transition", ErrTransitionNotAllowed, http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("disk full")
	err := Wrap(base, "write snapshot")
	assert.True(t, errors.Is(err, base))
	assert.Contains(t, err.Error(), "write snapshot")
}
