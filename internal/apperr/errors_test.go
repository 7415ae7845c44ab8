package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeOf(NotFound("approval", "a1")))
	assert.Equal(t, CodeValidation, CodeOf(InvalidInput("amount", "must be positive")))

	// Wrapped chains still expose the outermost code.
	inner := errors.New("boom")
	wrapped := fmt.Errorf("context: %w", Wrap(inner, CodeRouting, "no approvers"))
	assert.Equal(t, CodeRouting, CodeOf(wrapped))

	// Untagged errors default to internal.
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodePolicyViolation, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusForbidden},
		{CodeLimitExceeded, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeAlreadyResolved, http.StatusConflict},
		{CodeRouting, http.StatusConflict},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatus(New(tt.code, "x")), string(tt.code))
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("pgx: connection refused")
	err := Wrap(inner, CodeInternal, "failed to query")
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "failed to query")
}
