package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/velebit-labs/pricefeed/internal/crawler"
	"github.com/velebit-labs/pricefeed/internal/geocode"
)

const (
	// maxQueryParams is the effective bind-parameter budget per statement,
	// kept with headroom under PostgreSQL's 65,535 ceiling.
	maxQueryParams = 65000
	// factParamCount is the number of bound parameters per price fact row.
	factParamCount = 9
	// FactBatchSize is the number of fact rows per INSERT statement.
	FactBatchSize = maxQueryParams / factParamCount
)

// Reconciler atomically replaces a day's price facts for one chain,
// resolving dimension rows as needed. All steps run inside a single
// transaction: on any failure nothing for that chain/date is visible.
type Reconciler struct {
	db       *sql.DB
	resolver geocode.Resolver
}

// NewReconciler creates a reconciler. A nil resolver disables geocoding.
func NewReconciler(client *sql.DB, resolver geocode.Resolver) *Reconciler {
	if resolver == nil {
		resolver = geocode.NopResolver{}
	}
	return &Reconciler{db: client, resolver: resolver}
}

// ReplaceDay deletes and re-inserts all price facts for (chain, date) from
// the crawl result, upserting chain, store and product dimensions. Returns
// the number of fact rows inserted.
func (r *Reconciler) ReplaceDay(ctx context.Context, chain string, date time.Time, result crawler.Result) (int, error) {
	start := time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	chainID, err := upsertChain(ctx, tx, chain)
	if err != nil {
		return 0, err
	}

	deleted, err := deleteDayFacts(ctx, tx, chainID, date)
	if err != nil {
		return 0, err
	}

	storeIDs, err := r.upsertStores(ctx, tx, chainID, result)
	if err != nil {
		return 0, err
	}

	chainProductIDs, err := upsertProducts(ctx, tx, chainID, result)
	if err != nil {
		return 0, err
	}

	inserted, dropped, err := insertFacts(ctx, tx, date, result, storeIDs, chainProductIDs)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reconciliation: %w", err)
	}
	committed = true

	log.Info().
		Str("chain", chain).
		Str("price_date", date.Format("2006-01-02")).
		Int("stores", len(result)).
		Int64("deleted", deleted).
		Int("inserted", inserted).
		Int("dropped", dropped).
		Dur("duration_ms", time.Since(start)).
		Msg("Reconciled price facts")

	return inserted, nil
}

func upsertChain(ctx context.Context, tx *sql.Tx, chain string) (int64, error) {
	var chainID int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO chains (code) VALUES ($1)
		ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
		RETURNING id
	`, chain).Scan(&chainID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert chain %s: %w", chain, err)
	}
	return chainID, nil
}

// deleteDayFacts wipes the day's facts so the reinsert is idempotent even
// after a partial prior run.
func deleteDayFacts(ctx context.Context, tx *sql.Tx, chainID int64, date time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM price_facts
		USING stores
		WHERE price_facts.store_id = stores.id
		  AND stores.chain_id = $1
		  AND price_facts.price_date = $2
	`, chainID, date)
	if err != nil {
		return 0, fmt.Errorf("failed to delete existing price facts: %w", err)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}

// upsertStores inserts unseen stores (geocode-enriched) and refreshes the
// address fields of known ones. Store identity (code) is immutable;
// location metadata is not. Returns store code -> id.
func (r *Reconciler) upsertStores(ctx context.Context, tx *sql.Tx, chainID int64, result crawler.Result) (map[string]int64, error) {
	if len(result) == 0 {
		return map[string]int64{}, nil
	}

	known := make(map[string]bool)
	rows, err := tx.QueryContext(ctx, `SELECT code FROM stores WHERE chain_id = $1`, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing stores: %w", err)
	}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			rows.Close()
			return nil, err
		}
		known[code] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(result))
	names := make([]string, 0, len(result))
	addresses := make([]string, 0, len(result))
	postalCodes := make([]string, 0, len(result))
	cities := make([]string, 0, len(result))
	lats := make([]sql.NullFloat64, 0, len(result))
	lons := make([]sql.NullFloat64, 0, len(result))

	for info := range result {
		postalCode, city := info.PostalCode, info.City
		var lat, lon sql.NullFloat64

		if !known[info.Code] {
			loc, err := r.resolver.Resolve(ctx, info.Address, info.PostalCode, info.City)
			if err != nil {
				log.Warn().
					Err(err).
					Str("store", info.Code).
					Msg("Address resolution failed, keeping crawler-supplied fields")
			} else if loc != nil {
				lat = sql.NullFloat64{Float64: loc.Latitude, Valid: true}
				lon = sql.NullFloat64{Float64: loc.Longitude, Valid: true}
				if loc.City != "" {
					city = loc.City
				}
				if loc.PostalCode != "" {
					postalCode = loc.PostalCode
				}
			}
		}

		codes = append(codes, info.Code)
		names = append(names, info.Name)
		addresses = append(addresses, info.Address)
		postalCodes = append(postalCodes, postalCode)
		cities = append(cities, city)
		lats = append(lats, lat)
		lons = append(lons, lon)
	}

	storeIDs := make(map[string]int64, len(codes))
	upserted, err := tx.QueryContext(ctx, `
		INSERT INTO stores (chain_id, code, name, address, postal_code, city, latitude, longitude)
		SELECT $1, s.code, s.name, s.address, s.postal_code, s.city, s.latitude, s.longitude
		FROM (
			SELECT
				unnest($2::text[]) AS code,
				unnest($3::text[]) AS name,
				unnest($4::text[]) AS address,
				unnest($5::text[]) AS postal_code,
				unnest($6::text[]) AS city,
				unnest($7::float8[]) AS latitude,
				unnest($8::float8[]) AS longitude
		) AS s
		ON CONFLICT (chain_id, code) DO UPDATE
		SET name = EXCLUDED.name,
			address = EXCLUDED.address,
			postal_code = EXCLUDED.postal_code,
			city = EXCLUDED.city,
			updated_at = NOW()
		RETURNING id, code
	`, chainID,
		pq.Array(codes),
		pq.Array(names),
		pq.Array(addresses),
		pq.Array(postalCodes),
		pq.Array(cities),
		pq.Array(lats),
		pq.Array(lons),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert stores: %w", err)
	}
	defer upserted.Close()

	for upserted.Next() {
		var (
			id   int64
			code string
		)
		if err := upserted.Scan(&id, &code); err != nil {
			return nil, err
		}
		storeIDs[code] = id
	}
	return storeIDs, upserted.Err()
}

// upsertProducts resolves the chain-agnostic Product per barcode, then
// upserts the chain's own listings, re-linking each to its product every
// run. Returns product code -> chain product id.
func upsertProducts(ctx context.Context, tx *sql.Tx, chainID int64, result crawler.Result) (map[string]int64, error) {
	// Last-wins grouping by product code across the whole crawl result.
	byCode := make(map[string]crawler.PriceRecord)
	var codes []string
	for _, records := range result {
		for _, rec := range records {
			if _, seen := byCode[rec.ProductCode]; !seen {
				codes = append(codes, rec.ProductCode)
			}
			byCode[rec.ProductCode] = rec
		}
	}
	if len(codes) == 0 {
		return map[string]int64{}, nil
	}

	barcodeSet := make(map[string]struct{}, len(codes))
	barcodes := make([]string, 0, len(codes))
	for _, code := range codes {
		barcode := byCode[code].Barcode
		if _, seen := barcodeSet[barcode]; !seen {
			barcodeSet[barcode] = struct{}{}
			barcodes = append(barcodes, barcode)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO products (barcode)
		SELECT unnest($1::text[])
		ON CONFLICT (barcode) DO NOTHING
	`, pq.Array(barcodes)); err != nil {
		return nil, fmt.Errorf("failed to insert products: %w", err)
	}

	productIDs := make(map[string]int64, len(barcodes))
	rows, err := tx.QueryContext(ctx, `
		SELECT id, barcode FROM products WHERE barcode = ANY($1::text[])
	`, pq.Array(barcodes))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve product ids: %w", err)
	}
	for rows.Next() {
		var (
			id      int64
			barcode string
		)
		if err := rows.Scan(&id, &barcode); err != nil {
			rows.Close()
			return nil, err
		}
		productIDs[barcode] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	linkedProductIDs := make([]int64, len(codes))
	names := make([]string, len(codes))
	brands := make([]string, len(codes))
	units := make([]string, len(codes))
	quantities := make([]string, len(codes))
	for i, code := range codes {
		rec := byCode[code]
		linkedProductIDs[i] = productIDs[rec.Barcode]
		names[i] = rec.Name
		brands[i] = rec.Brand
		units[i] = rec.Unit
		quantities[i] = rec.Quantity
	}

	chainProductIDs := make(map[string]int64, len(codes))
	upserted, err := tx.QueryContext(ctx, `
		INSERT INTO chain_products (chain_id, product_id, code, name, brand, unit, quantity)
		SELECT $1, s.product_id, s.code, s.name, s.brand, s.unit, s.quantity
		FROM (
			SELECT
				unnest($2::int[]) AS product_id,
				unnest($3::text[]) AS code,
				unnest($4::text[]) AS name,
				unnest($5::text[]) AS brand,
				unnest($6::text[]) AS unit,
				unnest($7::text[]) AS quantity
		) AS s
		ON CONFLICT (chain_id, code) DO UPDATE
		SET product_id = EXCLUDED.product_id,
			name = EXCLUDED.name,
			brand = EXCLUDED.brand,
			unit = EXCLUDED.unit,
			quantity = EXCLUDED.quantity,
			updated_at = NOW()
		RETURNING id, code
	`, chainID,
		pq.Array(linkedProductIDs),
		pq.Array(codes),
		pq.Array(names),
		pq.Array(brands),
		pq.Array(units),
		pq.Array(quantities),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert chain products: %w", err)
	}
	defer upserted.Close()

	for upserted.Next() {
		var (
			id   int64
			code string
		)
		if err := upserted.Scan(&id, &code); err != nil {
			return nil, err
		}
		chainProductIDs[code] = id
	}
	return chainProductIDs, upserted.Err()
}

type factRow struct {
	chainProductID int64
	storeID        int64
	record         crawler.PriceRecord
}

// insertFacts bulk-inserts the day's facts in parameter-capped batches.
// Records whose store or product did not resolve are dropped and counted.
// Cancellation is checked before each batch; an uncommitted transaction
// means a cancelled run never publishes partial data.
func insertFacts(ctx context.Context, tx *sql.Tx, date time.Time, result crawler.Result,
	storeIDs, chainProductIDs map[string]int64) (int, int, error) {

	rows := make([]factRow, 0, result.Records())
	dropped := 0
	for info, records := range result {
		storeID, ok := storeIDs[info.Code]
		if !ok {
			dropped += len(records)
			continue
		}
		for _, rec := range records {
			chainProductID, ok := chainProductIDs[rec.ProductCode]
			if !ok {
				dropped++
				continue
			}
			rows = append(rows, factRow{chainProductID: chainProductID, storeID: storeID, record: rec})
		}
	}
	if dropped > 0 {
		log.Warn().
			Int("dropped", dropped).
			Msg("Dropped price records with unresolved store or product")
	}

	createdAt := time.Now()
	inserted := 0
	for start := 0; start < len(rows); start += FactBatchSize {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}

		end := start + FactBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO price_facts (chain_product_id, store_id, price_date, price, unit_price, special_price, best_price_30, anchor_price, created_at) VALUES `)
		args := make([]interface{}, 0, len(batch)*factParamCount)
		for i, row := range batch {
			if i > 0 {
				sb.WriteByte(',')
			}
			base := i * factParamCount
			fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
			args = append(args,
				row.chainProductID,
				row.storeID,
				date,
				row.record.Price,
				row.record.UnitPrice,
				row.record.SpecialPrice,
				row.record.BestPrice30,
				row.record.AnchorPrice,
				createdAt,
			)
		}

		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return 0, 0, fmt.Errorf("failed to insert price facts batch: %w", err)
		}
		inserted += len(batch)
	}

	return inserted, dropped, nil
}
