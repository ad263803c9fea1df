package crawler

import (
	"strings"

	"github.com/shopspring/decimal"
)

// syntheticBarcodePrefix marks barcodes derived from a product code when the
// source published none. The prefix keeps synthetic values from ever
// colliding with a real EAN.
const syntheticBarcodePrefix = "_"

// ParseDecimal coerces a locale-formatted price string into a nullable
// decimal. Accepts both "1.234,56" and "1234.56" style inputs; blank or
// unparseable values yield an invalid NullDecimal.
func ParseDecimal(s string) decimal.NullDecimal {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return decimal.NullDecimal{}
	}

	// Comma-decimal locales: the rightmost separator is the decimal point.
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// SyntheticBarcode derives a stand-in barcode from a product code so that
// downstream identity resolution never depends on an empty key.
func SyntheticBarcode(productCode string) string {
	return syntheticBarcodePrefix + productCode
}

// Normalize trims text fields and substitutes a synthetic barcode when the
// published one is blank. Mutates the record in place.
func Normalize(rec *PriceRecord) {
	rec.ProductCode = strings.TrimSpace(rec.ProductCode)
	rec.Barcode = strings.TrimSpace(rec.Barcode)
	rec.Name = strings.TrimSpace(rec.Name)
	rec.Brand = strings.TrimSpace(rec.Brand)
	rec.Unit = strings.TrimSpace(rec.Unit)
	rec.Quantity = strings.TrimSpace(rec.Quantity)

	if rec.Barcode == "" {
		rec.Barcode = SyntheticBarcode(rec.ProductCode)
	}
}

// DedupeLastWins collapses records sharing a product code, keeping the last
// occurrence's values. Source files have been observed to repeat a code.
// First-seen order is preserved.
func DedupeLastWins(records []PriceRecord) []PriceRecord {
	index := make(map[string]int, len(records))
	out := make([]PriceRecord, 0, len(records))

	for _, rec := range records {
		if i, seen := index[rec.ProductCode]; seen {
			out[i] = rec
			continue
		}
		index[rec.ProductCode] = len(out)
		out = append(out, rec)
	}
	return out
}
