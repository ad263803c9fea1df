package crawler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/velebit-labs/pricefeed/internal/observability"
)

// StoreSource pairs a discovered store identity with the location its price
// list can be fetched from. Ref is source-specific: a URL, or an entry name
// inside an archive.
type StoreSource struct {
	Info StoreInfo
	Ref  string
}

// DedupeSources collapses sources sharing a store code: the same store must
// not be processed twice, and last-seen metadata wins for duplicates.
func DedupeSources(sources []StoreSource) []StoreSource {
	index := make(map[string]int, len(sources))
	out := make([]StoreSource, 0, len(sources))

	for _, src := range sources {
		if i, seen := index[src.Info.Code]; seen {
			out[i] = src
			continue
		}
		index[src.Info.Code] = len(out)
		out = append(out, src)
	}
	return out
}

// ProcessStores runs the shared per-store crawl pipeline: for each unique
// store it checks cancellation, serves a cache hit without re-fetching, or
// fetches and parses via fetchParse, dedupes rows last-wins by product
// code, normalises them, and saves the snapshot. Per-store failures are
// logged and the store skipped; they never abort the chain's crawl.
func ProcessStores(ctx context.Context, snapshots *SnapshotStore, chain string, date time.Time,
	sources []StoreSource, fetchParse func(ctx context.Context, src StoreSource) ([]PriceRecord, error)) (Result, error) {

	sources = DedupeSources(sources)
	result := make(Result, len(sources))

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if snapshots != nil && snapshots.Exists(chain, src.Info.Code, date) {
			records, err := snapshots.Read(chain, src.Info.Code, date)
			if err == nil {
				observability.RecordFetch(ctx, chain, true)
				log.Debug().
					Str("chain", chain).
					Str("store", src.Info.Code).
					Int("records", len(records)).
					Msg("Cache hit, skipping fetch")
				result[src.Info] = records
				continue
			}
			// A corrupt cache entry falls through to a fresh fetch.
			log.Warn().
				Err(err).
				Str("chain", chain).
				Str("store", src.Info.Code).
				Msg("Failed to read cached snapshot, re-fetching")
		}

		records, err := fetchParse(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Error().
				Err(err).
				Str("chain", chain).
				Str("store", src.Info.Code).
				Str("ref", src.Ref).
				Msg("Failed to fetch store price list, skipping store")
			continue
		}
		observability.RecordFetch(ctx, chain, false)

		records = DedupeLastWins(records)
		for i := range records {
			Normalize(&records[i])
		}

		if snapshots != nil {
			if err := snapshots.Save(chain, src.Info.Code, date, records); err != nil {
				log.Warn().
					Err(err).
					Str("chain", chain).
					Str("store", src.Info.Code).
					Msg("Failed to save snapshot to cache")
			}
		}

		result[src.Info] = records
	}

	return result, nil
}
