package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("PRICEFEED_TEST_KEY", "set")

	assert.Equal(t, "set", getEnvWithDefault("PRICEFEED_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", getEnvWithDefault("PRICEFEED_TEST_KEY_MISSING", "fallback"))
}

func TestParseOTLPHeaders(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected map[string]string
	}{
		{
			name:     "empty",
			input:    "",
			expected: map[string]string{},
		},
		{
			name:     "single pair",
			input:    "authorization=Bearer token",
			expected: map[string]string{"authorization": "Bearer token"},
		},
		{
			name:     "multiple pairs with whitespace",
			input:    " a=1 , b = 2 ",
			expected: map[string]string{"a": "1", "b": "2"},
		},
		{
			name:     "malformed pairs skipped",
			input:    "a=1,broken,=nokey,b=2",
			expected: map[string]string{"a": "1", "b": "2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseOTLPHeaders(tt.input))
		})
	}
}

func TestRateLimiterReusesLimiterPerIP(t *testing.T) {
	rl := newRateLimiter()

	first := rl.getLimiter("203.0.113.5")
	second := rl.getLimiter("203.0.113.5")
	other := rl.getLimiter("203.0.113.6")

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
}
