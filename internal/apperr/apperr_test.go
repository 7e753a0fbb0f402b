package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := NotFound("comment %s", "c1")

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))

	wrapped := fmt.Errorf("toggle: %w", err)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, "comment c1", MessageOf(wrapped))
}

func TestInternalUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal(cause, "failed to list debates")

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrInternal))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("bad cursor"), http.StatusBadRequest},
		{"not found", NotFound("debate"), http.StatusNotFound},
		{"conflict", Conflict("duplicate like"), http.StatusConflict},
		{"internal", Internal(nil, "boom"), http.StatusInternalServerError},
		{"untyped", errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestMessageOfUntyped(t *testing.T) {
	assert.Equal(t, "internal error", MessageOf(errors.New("secret detail")))
}

func TestWrapKeepsTypedErrors(t *testing.T) {
	nf := NotFound("debate")
	assert.Same(t, nf, Wrap(nf, "ignored"))

	cause := errors.New("dial tcp: refused")
	wrapped := Wrap(fmt.Errorf("list: %w", cause), "failed to list comments")
	assert.True(t, errors.Is(wrapped, ErrInternal))
	assert.True(t, errors.Is(wrapped, cause))
	assert.Equal(t, "failed to list comments", MessageOf(wrapped))

	assert.NoError(t, Wrap(nil, "nothing"))
}
