package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeAndHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"invalid input", InvalidInput("note", "required"), ErrCodeInvalidInput, http.StatusBadRequest},
		{"not found", NotFound("approval_workflow", "w1"), ErrCodeNotFound, http.StatusNotFound},
		{"forbidden", Forbidden("not your step"), ErrCodeForbidden, http.StatusForbidden},
		{"conflict", New(ErrCodeConflict, "already released"), ErrCodeConflict, http.StatusConflict},
		{"plain error", stderrors.New("boom"), ErrCodeInternal, http.StatusInternalServerError},
		{"wrapped coded error", fmt.Errorf("outer: %w", New(ErrCodeConflict, "inner")), ErrCodeConflict, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, Code(tt.err))
			assert.Equal(t, tt.wantStatus, HTTPStatus(tt.err))
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, ErrCodeInternal, "failed to load workflow")

	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "failed to load workflow")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "failed to load workflow", Message(err))
}
