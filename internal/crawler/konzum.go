package crawler

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
)

// KonzumCrawler reads Konzum's daily price index: paginated HTML pages
// listing one CSV link per store. The filename carries the store identity:
// FORMAT-STORECODE-ADDRESS-CITY-POSTAL-YYYYMMDD-SEQ.csv, fields joined
// by "-" with spaces underscored.
type KonzumCrawler struct {
	baseURL   string
	fetcher   *Fetcher
	snapshots *SnapshotStore
	config    *Config
}

// NewKonzumCrawler creates a Konzum source crawler. baseURL points at the
// price-list index root (no trailing slash).
func NewKonzumCrawler(baseURL string, fetcher *Fetcher, snapshots *SnapshotStore, config *Config) *KonzumCrawler {
	if config == nil {
		config = DefaultConfig()
	}
	return &KonzumCrawler{
		baseURL:   strings.TrimRight(baseURL, "/"),
		fetcher:   fetcher,
		snapshots: snapshots,
		config:    config,
	}
}

// Chain returns the chain name this crawler serves.
func (k *KonzumCrawler) Chain() string { return "konzum" }

// Crawl walks the dated index pages, collects per-store CSV links, and
// runs the shared per-store pipeline over them.
func (k *KonzumCrawler) Crawl(ctx context.Context, date time.Time) (Result, error) {
	sources, err := k.discover(ctx, date)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: konzum %s", ErrNoData, date.Format("2006-01-02"))
	}

	return ProcessStores(ctx, k.snapshots, k.Chain(), date, sources, k.fetchStore)
}

// discover paginates the index until a page yields no CSV links.
func (k *KonzumCrawler) discover(ctx context.Context, date time.Time) ([]StoreSource, error) {
	c := colly.NewCollector(
		colly.UserAgent(k.config.UserAgent),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(k.config.DefaultTimeout)
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	var (
		sources  []StoreSource
		pageHits int
	)
	c.OnHTML("body", func(e *colly.HTMLElement) {
		e.DOM.Find("a[href$='.csv']").Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok {
				return
			}
			src, err := k.parseLink(e.Request.AbsoluteURL(href))
			if err != nil {
				log.Warn().Err(err).Str("href", href).Msg("Skipping unparseable price-list link")
				return
			}
			sources = append(sources, src)
			pageHits++
		})
	})

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageHits = 0
		url := fmt.Sprintf("%s/cjenici?date=%s&page=%d", k.baseURL, date.Format("2006-01-02"), page)
		if err := c.Visit(url); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if page == 1 {
				return nil, fmt.Errorf("failed to fetch konzum index: %w", err)
			}
			break
		}
		c.Wait()
		if pageHits == 0 {
			break
		}
	}

	return sources, nil
}

// parseLink extracts the store identity from a price-list filename.
func (k *KonzumCrawler) parseLink(url string) (StoreSource, error) {
	name := url
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, ".csv")

	parts := strings.Split(name, "-")
	if len(parts) < 7 {
		return StoreSource{}, fmt.Errorf("unexpected price-list filename %q", name)
	}

	unified := func(s string) string { return strings.ReplaceAll(s, "_", " ") }
	return StoreSource{
		Info: StoreInfo{
			Chain:      k.Chain(),
			Code:       parts[1],
			Name:       unified(parts[0]) + " " + parts[1],
			Address:    unified(parts[2]),
			City:       unified(parts[3]),
			PostalCode: parts[4],
		},
		Ref: url,
	}, nil
}

// fetchStore downloads and parses one store's CSV price list.
func (k *KonzumCrawler) fetchStore(ctx context.Context, src StoreSource) ([]PriceRecord, error) {
	body, err := k.fetcher.Get(ctx, src.Ref)
	if err != nil {
		return nil, err
	}

	decoded, err := DecodeWindows1250(body)
	if err != nil {
		return nil, err
	}
	return parsePriceCSV(decoded)
}

// parsePriceCSV parses the semicolon-delimited layout shared by the CSV
// publishing chains: code;barcode;name;brand;unit;quantity;price;
// unit_price;special_price;best_price_30;anchor_price, comma decimals.
func parsePriceCSV(data []byte) ([]PriceRecord, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	// Header row.
	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return []PriceRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var records []PriceRecord
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		for len(fields) < 11 {
			fields = append(fields, "")
		}

		records = append(records, PriceRecord{
			ProductCode:  fields[0],
			Barcode:      fields[1],
			Name:         fields[2],
			Brand:        fields[3],
			Unit:         fields[4],
			Quantity:     fields[5],
			Price:        ParseDecimal(fields[6]),
			UnitPrice:    ParseDecimal(fields[7]),
			SpecialPrice: ParseDecimal(fields[8]),
			BestPrice30:  ParseDecimal(fields[9]),
			AnchorPrice:  ParseDecimal(fields[10]),
		})
	}
	return records, nil
}
