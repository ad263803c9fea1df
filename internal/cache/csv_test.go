package cache

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVBackendRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		records []priceRow
	}{
		{
			name:    "empty",
			records: []priceRow{},
		},
		{
			name: "single record",
			records: []priceRow{
				{Code: "1001", Name: "Jogurt", Price: "0.89"},
			},
		},
		{
			name: "values containing the delimiter and quotes",
			records: []priceRow{
				{Code: "1001", Name: `Sok "naranča"; 1L`, Price: "1.25"},
				{Code: "1002", Name: "Čokolada, mliječna", Price: ""},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := NewCSVBackend(priceSchema, 0)

			var buf bytes.Buffer
			require.NoError(t, backend.Write(&buf, tt.records))

			got, err := backend.Read(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.records, got)
		})
	}
}

func TestCSVBackendLargeRoundTrip(t *testing.T) {
	backend := NewCSVBackend(priceSchema, 0)

	records := make([]priceRow, 10000)
	for i := range records {
		records[i] = priceRow{
			Code:  fmt.Sprintf("%06d", i),
			Name:  fmt.Sprintf("Proizvod %d", i),
			Price: fmt.Sprintf("%d.%02d", i%100, i%100),
		}
	}

	var buf bytes.Buffer
	require.NoError(t, backend.Write(&buf, records))

	got, err := backend.Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestCSVBackendReadShortRows(t *testing.T) {
	backend := NewCSVBackend(priceSchema, 0)

	input := "code;name;price\n1001;Jogurt\n1002\n"
	got, err := backend.Read(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []priceRow{
		{Code: "1001", Name: "Jogurt", Price: ""},
		{Code: "1002", Name: "", Price: ""},
	}, got)
}

func TestCSVBackendReadEmptyFile(t *testing.T) {
	backend := NewCSVBackend(priceSchema, 0)

	got, err := backend.Read(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCSVBackendCustomDelimiter(t *testing.T) {
	backend := NewCSVBackend(priceSchema, ',')

	var buf bytes.Buffer
	require.NoError(t, backend.Write(&buf, []priceRow{{Code: "1", Name: "a", Price: "2"}}))

	assert.True(t, strings.HasPrefix(buf.String(), "code,name,price"))
}

func TestCSVBackendExt(t *testing.T) {
	assert.Equal(t, ".csv", NewCSVBackend(priceSchema, 0).Ext())
}
