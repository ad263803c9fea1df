package crawler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/velebit-labs/pricefeed/internal/cache"
)

// SnapshotRow is the serialisation form of a PriceRecord. The parquet tags
// declare the columnar schema; the CSV schema below declares the delimited
// layout. Prices travel as optional decimal strings so both backends
// round-trip values exactly.
type SnapshotRow struct {
	ProductCode  string  `parquet:"name=product_code, type=BYTE_ARRAY, convertedtype=UTF8"`
	Barcode      string  `parquet:"name=barcode, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name         string  `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Brand        string  `parquet:"name=brand, type=BYTE_ARRAY, convertedtype=UTF8"`
	Unit         string  `parquet:"name=unit, type=BYTE_ARRAY, convertedtype=UTF8"`
	Quantity     string  `parquet:"name=quantity, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price        *string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	UnitPrice    *string `parquet:"name=unit_price, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	SpecialPrice *string `parquet:"name=special_price, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	BestPrice30  *string `parquet:"name=best_price_30, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	AnchorPrice  *string `parquet:"name=anchor_price, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

func decimalOut(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func decimalIn(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	return ParseDecimal(*s)
}

func toSnapshotRow(rec PriceRecord) SnapshotRow {
	return SnapshotRow{
		ProductCode:  rec.ProductCode,
		Barcode:      rec.Barcode,
		Name:         rec.Name,
		Brand:        rec.Brand,
		Unit:         rec.Unit,
		Quantity:     rec.Quantity,
		Price:        decimalOut(rec.Price),
		UnitPrice:    decimalOut(rec.UnitPrice),
		SpecialPrice: decimalOut(rec.SpecialPrice),
		BestPrice30:  decimalOut(rec.BestPrice30),
		AnchorPrice:  decimalOut(rec.AnchorPrice),
	}
}

func fromSnapshotRow(row SnapshotRow) PriceRecord {
	return PriceRecord{
		ProductCode:  row.ProductCode,
		Barcode:      row.Barcode,
		Name:         row.Name,
		Brand:        row.Brand,
		Unit:         row.Unit,
		Quantity:     row.Quantity,
		Price:        decimalIn(row.Price),
		UnitPrice:    decimalIn(row.UnitPrice),
		SpecialPrice: decimalIn(row.SpecialPrice),
		BestPrice30:  decimalIn(row.BestPrice30),
		AnchorPrice:  decimalIn(row.AnchorPrice),
	}
}

// SnapshotSchema is the delimited-text layout registered for SnapshotRow.
var SnapshotSchema = cache.Schema[SnapshotRow]{
	Columns: []string{
		"product_code", "barcode", "name", "brand", "unit", "quantity",
		"price", "unit_price", "special_price", "best_price_30", "anchor_price",
	},
	Marshal: func(row SnapshotRow) []string {
		opt := func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		}
		return []string{
			row.ProductCode, row.Barcode, row.Name, row.Brand, row.Unit, row.Quantity,
			opt(row.Price), opt(row.UnitPrice), opt(row.SpecialPrice), opt(row.BestPrice30), opt(row.AnchorPrice),
		}
	},
	Unmarshal: func(fields []string) SnapshotRow {
		opt := func(s string) *string {
			if s == "" {
				return nil
			}
			return &s
		}
		return SnapshotRow{
			ProductCode:  fields[0],
			Barcode:      fields[1],
			Name:         fields[2],
			Brand:        fields[3],
			Unit:         fields[4],
			Quantity:     fields[5],
			Price:        opt(fields[6]),
			UnitPrice:    opt(fields[7]),
			SpecialPrice: opt(fields[8]),
			BestPrice30:  opt(fields[9]),
			AnchorPrice:  opt(fields[10]),
		}
	},
}

// SnapshotStore caches per-store price snapshots keyed by
// (chain, store code, date) under {root}/{chain}/{storeCode}-{date}{ext}.
type SnapshotStore struct {
	store *cache.Store[SnapshotRow]
}

// NewSnapshotStore wraps the generic cache store for price snapshots.
func NewSnapshotStore(store *cache.Store[SnapshotRow]) *SnapshotStore {
	return &SnapshotStore{store: store}
}

// Key returns the cache key for a store and date.
func Key(storeCode string, date time.Time) string {
	return storeCode + "-" + date.Format("2006-01-02")
}

// Exists reports whether a snapshot is cached for the store and date.
func (s *SnapshotStore) Exists(chain, storeCode string, date time.Time) bool {
	return s.store.Exists(chain, Key(storeCode, date))
}

// Save overwrites the cached snapshot for the store and date.
func (s *SnapshotStore) Save(chain, storeCode string, date time.Time, records []PriceRecord) error {
	rows := make([]SnapshotRow, len(records))
	for i := range records {
		rows[i] = toSnapshotRow(records[i])
	}
	return s.store.Save(chain, Key(storeCode, date), rows)
}

// Read loads the cached snapshot for the store and date.
func (s *SnapshotStore) Read(chain, storeCode string, date time.Time) ([]PriceRecord, error) {
	rows, err := s.store.Read(chain, Key(storeCode, date))
	if err != nil {
		return nil, err
	}
	records := make([]PriceRecord, len(rows))
	for i := range rows {
		records[i] = fromSnapshotRow(rows[i])
	}
	return records, nil
}

// Clear removes every cached snapshot for the chain.
func (s *SnapshotStore) Clear(chain string, date time.Time) error {
	return s.store.Clear(chain, date)
}
