package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderErrorClassification(t *testing.T) {
	tests := []struct {
		kind         ProviderErrorKind
		retryable    bool
		tripsBreaker bool
	}{
		{ProviderErrRateLimited, true, false},
		{ProviderErrTimeout, true, true},
		{ProviderErrInvalidIndicator, false, false},
		{ProviderErrUnavailable, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			pe := NewProviderError("virustotal", tt.kind, nil)
			assert.Equal(t, tt.retryable, pe.Retryable())
			assert.Equal(t, tt.tripsBreaker, pe.TripsBreaker())
		})
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	pe := NewProviderError("otx", ProviderErrUnavailable, cause)

	assert.ErrorIs(t, pe, cause)
	assert.Contains(t, pe.Error(), "otx")
	assert.Contains(t, pe.Error(), "unavailable")
}

func TestAsProviderError(t *testing.T) {
	pe := NewProviderError("abuseipdb", ProviderErrRateLimited, nil)
	wrapped := fmt.Errorf("lookup failed: %w", pe)

	got, ok := AsProviderError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ProviderErrRateLimited, got.Kind)

	_, ok = AsProviderError(errors.New("plain error"))
	assert.False(t, ok)
}
