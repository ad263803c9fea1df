package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TommyCrawler reads Tommy's dated JSON manifest, which lists one CSV
// download per store together with the store's metadata.
type TommyCrawler struct {
	baseURL   string
	fetcher   *Fetcher
	snapshots *SnapshotStore
}

type tommyManifest struct {
	Date   string `json:"date"`
	Stores []struct {
		Code       string `json:"code"`
		Name       string `json:"name"`
		Address    string `json:"address"`
		PostalCode string `json:"postal_code"`
		City       string `json:"city"`
		URL        string `json:"url"`
	} `json:"stores"`
}

// NewTommyCrawler creates a Tommy source crawler.
func NewTommyCrawler(baseURL string, fetcher *Fetcher, snapshots *SnapshotStore) *TommyCrawler {
	return &TommyCrawler{
		baseURL:   strings.TrimRight(baseURL, "/"),
		fetcher:   fetcher,
		snapshots: snapshots,
	}
}

// Chain returns the chain name this crawler serves.
func (t *TommyCrawler) Chain() string { return "tommy" }

// Crawl fetches the manifest for date and runs the shared per-store
// pipeline over the listed stores.
func (t *TommyCrawler) Crawl(ctx context.Context, date time.Time) (Result, error) {
	url := fmt.Sprintf("%s/v2/cjenici/%s/manifest.json", t.baseURL, date.Format("2006-01-02"))
	body, err := t.fetcher.Get(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: tommy %s: %v", ErrNoData, date.Format("2006-01-02"), err)
	}

	var manifest tommyManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse tommy manifest: %w", err)
	}
	if len(manifest.Stores) == 0 {
		return nil, fmt.Errorf("%w: tommy %s", ErrNoData, date.Format("2006-01-02"))
	}

	sources := make([]StoreSource, 0, len(manifest.Stores))
	for _, s := range manifest.Stores {
		sources = append(sources, StoreSource{
			Info: StoreInfo{
				Chain:      t.Chain(),
				Code:       s.Code,
				Name:       s.Name,
				Address:    s.Address,
				PostalCode: s.PostalCode,
				City:       s.City,
			},
			Ref: s.URL,
		})
	}

	return ProcessStores(ctx, t.snapshots, t.Chain(), date, sources, t.fetchStore)
}

func (t *TommyCrawler) fetchStore(ctx context.Context, src StoreSource) ([]PriceRecord, error) {
	body, err := t.fetcher.Get(ctx, src.Ref)
	if err != nil {
		return nil, err
	}
	return parsePriceCSV(body)
}
