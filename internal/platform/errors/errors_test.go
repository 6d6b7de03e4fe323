package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTypes_HTTPStatus(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")

	tests := []struct {
		name   string
		err    *Error
		typ    ErrorType
		status int
	}{
		{"validation", ValidationError("bad body"), TypeValidation, http.StatusBadRequest},
		{"not found", NotFoundError("no such route"), TypeNotFound, http.StatusNotFound},
		{"rate limited", RateLimitedError("slow down"), TypeRateLimited, http.StatusTooManyRequests},
		{"internal", InternalError("boom", cause), TypeInternal, http.StatusInternalServerError},
		{"unavailable", UnavailableError("store down", cause), TypeUnavailable, http.StatusServiceUnavailable},
		{"unknown type", &Error{Type: "mystery"}, "mystery", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
		})
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := UnavailableError("connection store unavailable", fmt.Errorf("redis: i/o timeout"))

	assert.Equal(t, "unavailable: connection store unavailable: redis: i/o timeout", err.Error())
}

func TestError_MessageWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)

	assert.Equal(t, "internal: something went wrong", err.Error())
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestError_UnwrapSupportsErrorsIs(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := UnavailableError("wrapped", fmt.Errorf("layer: %w", sentinel))

	assert.ErrorIs(t, err, sentinel)
}

func TestError_WithContext(t *testing.T) {
	err := ValidationError("invalid origin").WithContext("origin", "A").WithContext("length", 0)

	assert.Equal(t, "A", err.Context["origin"])
	assert.Equal(t, 0, err.Context["length"])

	bare := &Error{Type: TypeValidation}
	bare.WithContext("k", "v")
	assert.Equal(t, "v", bare.Context["k"])
}

func TestError_ToResponse(t *testing.T) {
	resp := NotFoundError("connection not found").WithContext("connection_id", "A").ToResponse()

	assert.Equal(t, "connection not found", resp.Error)
	assert.Equal(t, TypeNotFound, resp.Type)
	assert.Equal(t, map[string]any{"connection_id": "A"}, resp.Context)
}

func TestAsStructuredError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})

	t.Run("already structured", func(t *testing.T) {
		original := ValidationError("bad")
		assert.Same(t, original, AsStructuredError(original))
	})

	t.Run("wrapped structured", func(t *testing.T) {
		original := UnavailableError("down", nil)
		got := AsStructuredError(fmt.Errorf("handler: %w", original))
		assert.Same(t, original, got)
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		plain := errors.New("boom")
		got := AsStructuredError(plain)
		require.NotNil(t, got)
		assert.Equal(t, TypeInternal, got.Type)
		assert.Equal(t, "internal server error", got.Message)
		assert.ErrorIs(t, got, plain)
	})
}
