package cache

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type priceRow struct {
	Code  string `parquet:"name=code, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name  string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8"`
}

var priceSchema = Schema[priceRow]{
	Columns: []string{"code", "name", "price"},
	Marshal: func(r priceRow) []string {
		return []string{r.Code, r.Name, r.Price}
	},
	Unmarshal: func(fields []string) priceRow {
		return priceRow{Code: fields[0], Name: fields[1], Price: fields[2]}
	},
}

func newTestStore(t *testing.T) *Store[priceRow] {
	t.Helper()
	return NewStore(t.TempDir(), NewCSVBackend(priceSchema, 0))
}

func TestStoreSaveAndRead(t *testing.T) {
	store := newTestStore(t)

	records := []priceRow{
		{Code: "1001", Name: "Mlijeko 2,8%", Price: "1.49"},
		{Code: "1002", Name: "Kruh; polubijeli", Price: "0.99"},
	}

	require.NoError(t, store.Save("konzum", "s001-2026-08-31", records))

	got, err := store.Read("konzum", "s001-2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestStoreReadMissingEntry(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Read("konzum", "missing-2026-08-31")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreExists(t *testing.T) {
	store := newTestStore(t)

	assert.False(t, store.Exists("konzum", "s001-2026-08-31"))

	require.NoError(t, store.Save("konzum", "s001-2026-08-31", nil))
	assert.True(t, store.Exists("konzum", "s001-2026-08-31"))
}

func TestStoreSaveOverwrites(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save("konzum", "s001-2026-08-31", []priceRow{
		{Code: "1001", Name: "Old", Price: "1.00"},
		{Code: "1002", Name: "Old", Price: "2.00"},
	}))
	require.NoError(t, store.Save("konzum", "s001-2026-08-31", []priceRow{
		{Code: "1001", Name: "New", Price: "1.10"},
	}))

	got, err := store.Read("konzum", "s001-2026-08-31")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "New", got[0].Name)
}

func TestStoreClear(t *testing.T) {
	store := newTestStore(t)
	date := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		key := "s00" + strconv.Itoa(i) + "-2026-08-31"
		require.NoError(t, store.Save("konzum", key, []priceRow{{Code: "1", Name: "x", Price: "1"}}))
	}
	require.NoError(t, store.Save("tommy", "t001-2026-08-31", []priceRow{{Code: "1", Name: "x", Price: "1"}}))

	require.NoError(t, store.Clear("konzum", date))

	assert.False(t, store.Exists("konzum", "s000-2026-08-31"))
	assert.False(t, store.Exists("konzum", "s001-2026-08-31"))
	assert.False(t, store.Exists("konzum", "s002-2026-08-31"))
	// Other chains are untouched.
	assert.True(t, store.Exists("tommy", "t001-2026-08-31"))
}

func TestStoreClearMissingFolder(t *testing.T) {
	store := newTestStore(t)

	assert.NoError(t, store.Clear("nonexistent", time.Now()))
}
