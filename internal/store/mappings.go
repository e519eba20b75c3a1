package store

import (
	"context"
	"database/sql"
	"fmt"
)

// MappingStore is the persistence collaborator for pair Mappings.
// The Regularization Engine exclusively owns the mapping lifecycle.
type MappingStore interface {
	LoadMappings(ctx context.Context) ([]Mapping, error)

	// GetMapping returns the mapping for a pair key, or nil when absent.
	GetMapping(ctx context.Context, pairKey string) (*Mapping, error)

	// SaveMapping inserts a new mapping. A duplicate pair key is a
	// PersistenceError; updates go through UpsertMapping explicitly.
	SaveMapping(ctx context.Context, m Mapping) error

	// UpsertMapping inserts or explicitly replaces the mapping for a pair.
	UpsertMapping(ctx context.Context, m Mapping) error

	DeleteMapping(ctx context.Context, pairKey string) error
}

// SQLMappingStore implements MappingStore over the map_pair table.
type SQLMappingStore struct {
	db *sql.DB
}

// NewSQLMappingStore creates a mapping store over an open connection.
func NewSQLMappingStore(db *sql.DB) *SQLMappingStore {
	return &SQLMappingStore{db: db}
}

const mappingColumns = `pair_key, canonical_make, canonical_model,
	canonical_fuel_type, canonical_vehicle_type, mapped_by, mapped_at`

func (s *SQLMappingStore) LoadMappings(ctx context.Context) ([]Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mappingColumns+`
		FROM map_pair
		ORDER BY pair_key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings: %w", err)
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		m, err := scanMapping(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *SQLMappingStore) GetMapping(ctx context.Context, pairKey string) (*Mapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+mappingColumns+`
		FROM map_pair
		WHERE pair_key = $1
	`, pairKey)

	m, err := scanMapping(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping %s: %w", pairKey, err)
	}
	return m, nil
}

func (s *SQLMappingStore) SaveMapping(ctx context.Context, m Mapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO map_pair (`+mappingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.PairKey, m.CanonicalMake, m.CanonicalModel,
		m.CanonicalFuelType, m.CanonicalVehicleType, m.MappedBy, m.MappedAt)
	if err != nil {
		return &PersistenceError{Op: "save", PairKey: m.PairKey, Err: err}
	}
	return nil
}

func (s *SQLMappingStore) UpsertMapping(ctx context.Context, m Mapping) error {
	// ON CONFLICT upsert is shared by Postgres and SQLite.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO map_pair (`+mappingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pair_key) DO UPDATE SET
			canonical_make = excluded.canonical_make,
			canonical_model = excluded.canonical_model,
			canonical_fuel_type = excluded.canonical_fuel_type,
			canonical_vehicle_type = excluded.canonical_vehicle_type,
			mapped_by = excluded.mapped_by,
			mapped_at = excluded.mapped_at
	`, m.PairKey, m.CanonicalMake, m.CanonicalModel,
		m.CanonicalFuelType, m.CanonicalVehicleType, m.MappedBy, m.MappedAt)
	if err != nil {
		return &PersistenceError{Op: "upsert", PairKey: m.PairKey, Err: err}
	}
	return nil
}

func (s *SQLMappingStore) DeleteMapping(ctx context.Context, pairKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM map_pair WHERE pair_key = $1`, pairKey)
	if err != nil {
		return &PersistenceError{Op: "delete", PairKey: pairKey, Err: err}
	}
	return nil
}

func scanMapping(scan func(...any) error) (*Mapping, error) {
	var m Mapping
	var fuel, vehicle sql.NullString
	err := scan(&m.PairKey, &m.CanonicalMake, &m.CanonicalModel,
		&fuel, &vehicle, &m.MappedBy, &m.MappedAt)
	if err != nil {
		return nil, err
	}
	if fuel.Valid {
		m.CanonicalFuelType = &fuel.String
	}
	if vehicle.Valid {
		m.CanonicalVehicleType = &vehicle.String
	}
	return &m, nil
}
