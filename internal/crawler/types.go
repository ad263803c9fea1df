package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoData indicates that no source locations resolved for the requested
// date. Distinct from cancellation: a cancelled crawl returns ctx.Err().
var ErrNoData = errors.New("no price data published for date")

// StoreInfo identifies one retail outlet as published by its chain.
// Code is unique within a chain; address fields are refreshed on every
// sighting by the reconciler.
type StoreInfo struct {
	Chain      string
	Code       string
	Name       string
	Address    string
	PostalCode string
	City       string
}

// PriceRecord is one normalised price-list row. All price fields are
// nullable decimals: an invalid NullDecimal means "not published", never
// zero.
type PriceRecord struct {
	ProductCode  string
	Barcode      string
	Name         string
	Brand        string
	Unit         string
	Quantity     string
	Price        decimal.NullDecimal
	UnitPrice    decimal.NullDecimal
	SpecialPrice decimal.NullDecimal
	BestPrice30  decimal.NullDecimal
	AnchorPrice  decimal.NullDecimal
}

// Result maps each store discovered for a date to its ordered price rows.
type Result map[StoreInfo][]PriceRecord

// Records returns the total number of price rows across all stores.
func (r Result) Records() int {
	n := 0
	for _, rows := range r {
		n += len(rows)
	}
	return n
}

// DistinctProducts counts distinct product codes across all stores.
func (r Result) DistinctProducts() int {
	codes := make(map[string]struct{})
	for _, rows := range r {
		for i := range rows {
			codes[rows[i].ProductCode] = struct{}{}
		}
	}
	return len(codes)
}

// Crawler fetches and parses one chain's daily price lists.
type Crawler interface {
	// Chain returns the chain name this crawler serves.
	Chain() string
	// Crawl resolves the per-store source locations for date and returns
	// the parsed, normalised price rows per store. Cancellation is checked
	// before each per-store unit of work.
	Crawl(ctx context.Context, date time.Time) (Result, error)
}
