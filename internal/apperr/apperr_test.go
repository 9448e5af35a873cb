package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatusCodes(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindAI, http.StatusBadGateway},
		{KindModeration, http.StatusUnprocessableEntity},
		{KindDuplicate, http.StatusConflict},
		{KindSource, http.StatusUnprocessableEntity},
		{KindRateLimit, http.StatusTooManyRequests},
		{KindAuth, http.StatusUnauthorized},
		{KindInternal, http.StatusInternalServerError},
		{Kind("bogus"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.StatusCode())
		})
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := AI(cause, "extraction failed", map[string]any{"stage": 2})

	assert.Equal(t, "ai_error: extraction failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusBadGateway, err.StatusCode())
	assert.False(t, err.Timestamp.IsZero())
	assert.Equal(t, 2, err.Details["stage"])
}

func TestClassify_TypedPassesThrough(t *testing.T) {
	orig := Validation("name is required", nil)
	wrapped := eris.Wrap(orig, "pipeline")

	got := Classify(wrapped)
	assert.Same(t, orig, got)
}

func TestClassify_ForeignErrors(t *testing.T) {
	tests := []struct {
		msg  string
		want Kind
	}{
		{"upstream said: rate limit exceeded", KindRateLimit},
		{"HTTP 429 from upstream", KindRateLimit},
		{"gemini: unexpected status 500", KindAI},
		{"ERROR: duplicate key value violates unique constraint", KindDuplicate},
		{"token unauthorized", KindAuth},
		{"disk full", KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := Classify(errors.New(tt.msg))
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
		})
	}
}

func TestClassify_DeadlineIsAI(t *testing.T) {
	err := fmt.Errorf("call: %w", context.DeadlineExceeded)
	assert.Equal(t, KindAI, KindOf(err))
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.Equal(t, Kind(""), KindOf(nil))
}
