package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements uses the ANSI subset shared by Postgres and SQLite.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS fact_registration (
		year            INTEGER NOT NULL,
		make            TEXT    NOT NULL,
		model           TEXT    NOT NULL,
		fuel_type       TEXT,
		vehicle_type    TEXT,
		make_id         INTEGER,
		model_id        INTEGER,
		fuel_type_id    INTEGER,
		vehicle_type_id INTEGER,
		model_year      INTEGER,
		mass_kg         REAL,
		axle_count      INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fact_year ON fact_registration (year)`,
	`CREATE INDEX IF NOT EXISTS idx_fact_make_model ON fact_registration (make_id, model_id)`,

	`CREATE TABLE IF NOT EXISTS dim_category_value (
		dimension  TEXT    NOT NULL,
		value_id   INTEGER NOT NULL,
		value_text TEXT    NOT NULL,
		PRIMARY KEY (dimension, value_id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_dim_value_text ON dim_category_value (dimension, value_text)`,

	`CREATE TABLE IF NOT EXISTS map_pair (
		pair_key               TEXT PRIMARY KEY,
		canonical_make         TEXT NOT NULL,
		canonical_model        TEXT NOT NULL,
		canonical_fuel_type    TEXT,
		canonical_vehicle_type TEXT,
		mapped_by              TEXT NOT NULL,
		mapped_at              TIMESTAMP NOT NULL
	)`,
}

// EnsureSchema creates the fact, dimension and mapping tables if missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
