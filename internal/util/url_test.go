package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormaliseBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "plain https URL",
			input:    "https://www.konzum.hr",
			expected: "https://www.konzum.hr",
		},
		{
			name:     "trailing slash removed",
			input:    "https://www.konzum.hr/",
			expected: "https://www.konzum.hr",
		},
		{
			name:     "missing scheme defaults to https",
			input:    "spiza.tommy.hr",
			expected: "https://spiza.tommy.hr",
		},
		{
			name:     "path preserved without trailing slash",
			input:    "https://www.studenac.hr/popisi-cijena/",
			expected: "https://www.studenac.hr/popisi-cijena",
		},
		{
			name:     "surrounding whitespace trimmed",
			input:    "  https://www.konzum.hr  ",
			expected: "https://www.konzum.hr",
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			input:   "ftp://www.konzum.hr",
			wantErr: true,
		},
		{
			name:    "query not allowed",
			input:   "https://www.konzum.hr/cjenici?page=1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormaliseBaseURL(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
