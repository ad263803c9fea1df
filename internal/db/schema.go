package db

import (
	"database/sql"
	"fmt"
)

// setupSchema creates the dimensional schema in dependency order.
func setupSchema(client *sql.DB) error {
	tables := []struct {
		name string
		ddl  string
	}{
		{"chains", `
			CREATE TABLE IF NOT EXISTS chains (
				id         SERIAL PRIMARY KEY,
				code       TEXT NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`},
		{"stores", `
			CREATE TABLE IF NOT EXISTS stores (
				id          SERIAL PRIMARY KEY,
				chain_id    INTEGER NOT NULL REFERENCES chains(id),
				code        TEXT NOT NULL,
				name        TEXT NOT NULL DEFAULT '',
				address     TEXT NOT NULL DEFAULT '',
				postal_code TEXT NOT NULL DEFAULT '',
				city        TEXT NOT NULL DEFAULT '',
				latitude    DOUBLE PRECISION,
				longitude   DOUBLE PRECISION,
				created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (chain_id, code)
			)`},
		{"products", `
			CREATE TABLE IF NOT EXISTS products (
				id         SERIAL PRIMARY KEY,
				barcode    TEXT NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`},
		{"chain_products", `
			CREATE TABLE IF NOT EXISTS chain_products (
				id         SERIAL PRIMARY KEY,
				chain_id   INTEGER NOT NULL REFERENCES chains(id),
				product_id INTEGER NOT NULL REFERENCES products(id),
				code       TEXT NOT NULL,
				name       TEXT NOT NULL DEFAULT '',
				brand      TEXT NOT NULL DEFAULT '',
				unit       TEXT NOT NULL DEFAULT '',
				quantity   TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (chain_id, code)
			)`},
		{"price_facts", `
			CREATE TABLE IF NOT EXISTS price_facts (
				id               BIGSERIAL PRIMARY KEY,
				chain_product_id INTEGER NOT NULL REFERENCES chain_products(id),
				store_id         INTEGER NOT NULL REFERENCES stores(id),
				price_date       DATE NOT NULL,
				price            NUMERIC(12,2),
				unit_price       NUMERIC(12,4),
				special_price    NUMERIC(12,2),
				best_price_30    NUMERIC(12,2),
				anchor_price     NUMERIC(12,2),
				created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (chain_product_id, store_id, price_date)
			)`},
		{"scraping_job_logs", `
			CREATE TABLE IF NOT EXISTS scraping_job_logs (
				id               TEXT PRIMARY KEY,
				chain            TEXT NOT NULL,
				price_date       DATE NOT NULL,
				status           TEXT NOT NULL DEFAULT 'running',
				initiator        TEXT NOT NULL DEFAULT '',
				forced           BOOLEAN NOT NULL DEFAULT FALSE,
				stores_processed INTEGER NOT NULL DEFAULT 0,
				products_found   INTEGER NOT NULL DEFAULT 0,
				price_changes    INTEGER NOT NULL DEFAULT 0,
				started_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				completed_at     TIMESTAMPTZ,
				duration_ms      BIGINT,
				message          TEXT NOT NULL DEFAULT '',
				error_detail     TEXT NOT NULL DEFAULT ''
			)`},
	}

	for _, table := range tables {
		if _, err := client.Exec(table.ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_price_facts_store_date ON price_facts (store_id, price_date)`,
		`CREATE INDEX IF NOT EXISTS idx_price_facts_date ON price_facts (price_date)`,
		`CREATE INDEX IF NOT EXISTS idx_job_logs_chain_date ON scraping_job_logs (chain, price_date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_job_logs_started ON scraping_job_logs (started_at DESC)`,
	}
	for _, ddl := range indexes {
		if _, err := client.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
