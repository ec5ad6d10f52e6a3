package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain error", err: base, want: Internal},
		{name: "tagged", err: New(DimensionMismatch, "vector.EnsureCollection", base), want: DimensionMismatch},
		{name: "wrapped tagged", err: fmt.Errorf("initialize: %w", New(NotInitialized, "pipeline.Query", nil)), want: NotInitialized},
		{name: "deadline", err: fmt.Errorf("search: %w", context.DeadlineExceeded), want: ProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(ProviderUnavailable, "embedding.Embed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "embedding.Embed: connection refused", err.Error())
	assert.True(t, Is(err, ProviderUnavailable))
	assert.False(t, Is(err, Configuration))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Configuration))
	assert.Equal(t, http.StatusConflict, HTTPStatus(DimensionMismatch))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(ProviderUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(NotInitialized))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Internal))
}
