package crawler

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velebit-labs/pricefeed/internal/cache"
)

func newTestSnapshots(t *testing.T) *SnapshotStore {
	t.Helper()
	return NewSnapshotStore(cache.NewStore(t.TempDir(), cache.NewCSVBackend(SnapshotSchema, 0)))
}

func dec(s string) decimal.NullDecimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func TestSnapshotKey(t *testing.T) {
	date := time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, "s001-2026-08-31", Key("s001", date))
}

func TestSnapshotRoundTrip(t *testing.T) {
	snapshots := newTestSnapshots(t)
	date := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	records := []PriceRecord{
		{
			ProductCode: "1001",
			Barcode:     "3850102000013",
			Name:        "Mlijeko 2,8%",
			Brand:       "Dukat",
			Unit:        "L",
			Quantity:    "1",
			Price:       dec("1.49"),
			UnitPrice:   dec("1.49"),
			BestPrice30: dec("1.39"),
		},
		{
			ProductCode: "1002",
			Barcode:     "_1002",
			Name:        "Kruh polubijeli",
			// All prices unpublished.
		},
	}

	require.NoError(t, snapshots.Save("konzum", "s001", date, records))
	assert.True(t, snapshots.Exists("konzum", "s001", date))

	got, err := snapshots.Read("konzum", "s001", date)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, records[0].ProductCode, got[0].ProductCode)
	assert.True(t, got[0].Price.Valid)
	assert.True(t, records[0].Price.Decimal.Equal(got[0].Price.Decimal))
	assert.True(t, records[0].BestPrice30.Decimal.Equal(got[0].BestPrice30.Decimal))
	// Unpublished prices stay invalid, never zero.
	assert.False(t, got[0].SpecialPrice.Valid)
	assert.False(t, got[1].Price.Valid)
	assert.False(t, got[1].AnchorPrice.Valid)
}

func TestSnapshotReadMissing(t *testing.T) {
	snapshots := newTestSnapshots(t)

	_, err := snapshots.Read("konzum", "s001", time.Now())
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestSnapshotClearIsChainScoped(t *testing.T) {
	snapshots := newTestSnapshots(t)
	date := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	require.NoError(t, snapshots.Save("konzum", "s001", date, nil))
	require.NoError(t, snapshots.Save("tommy", "t001", date, nil))

	require.NoError(t, snapshots.Clear("konzum", date))

	assert.False(t, snapshots.Exists("konzum", "s001", date))
	assert.True(t, snapshots.Exists("tommy", "t001", date))
}
