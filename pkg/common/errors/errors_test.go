package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", Validation("question is required"), http.StatusBadRequest},
		{"not found", fmt.Errorf("session abc: %w", ErrNotFound), http.StatusNotFound},
		{"not ready", fmt.Errorf("results for abc: %w", ErrNotReady), http.StatusNotFound},
		{"duplicate", fmt.Errorf("session abc: %w", ErrAlreadyExists), http.StatusConflict},
		{"format", fmt.Errorf("%w: image/png", ErrUnsupportedFormat), http.StatusUnprocessableEntity},
		{"busy", fmt.Errorf("store full: %w", ErrUnavailable), http.StatusServiceUnavailable},
		{"provider", Provider(stderrors.New("quota exceeded")), http.StatusBadGateway},
		{"app error passthrough", NewAppError(http.StatusTeapot, "teapot", nil), http.StatusTeapot},
		{"unknown", stderrors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, MapError(tt.err).Code)
		})
	}

	assert.Nil(t, MapError(nil))
}

func TestProviderWrapsOnce(t *testing.T) {
	cause := stderrors.New("deadline exceeded")
	err := Provider(Provider(cause))

	assert.True(t, Is(err, ErrProvider))
	assert.True(t, Is(err, cause))
	assert.Equal(t, "provider error: deadline exceeded", err.Error())
	assert.Nil(t, Provider(nil))
}

func TestAppErrorMessage(t *testing.T) {
	err := NewAppError(http.StatusBadRequest, "Invalid request", stderrors.New("missing field"))
	assert.Equal(t, "Invalid request: missing field", err.Error())
	assert.Equal(t, "Invalid request", NewAppError(http.StatusBadRequest, "Invalid request", nil).Error())
}
