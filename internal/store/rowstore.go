package store

import (
	"context"
	"database/sql"
	"fmt"
)

// RowStore is the read-side collaborator over the registration fact table.
// The import pipeline that populates it is a separate concern; this engine
// only reads.
type RowStore interface {
	// RowsFor returns every registration row for the given year.
	RowsFor(ctx context.Context, year int) ([]Row, error)

	// DistinctValues returns the distinct non-empty raw texts of a
	// dimension column, ordered.
	DistinctValues(ctx context.Context, dimension string) ([]string, error)

	// DistinctPairs returns every distinct enumerated (make, model) pair
	// across all years, ordered by make text then model text.
	DistinctPairs(ctx context.Context) ([]PairRow, error)

	// RelationPairs returns the distinct (parent id, child id) pairs
	// observed between two dimensions, e.g. make -> model.
	RelationPairs(ctx context.Context, parentDim, childDim string) ([][2]uint32, error)

	// Execute runs a prepared aggregate query and returns (key, numeric) rows.
	Execute(ctx context.Context, query string, args ...any) ([]AggregateRow, error)
}

// SQLRowStore implements RowStore over database/sql.
type SQLRowStore struct {
	db *sql.DB
}

// NewSQLRowStore creates a row store over an open connection.
func NewSQLRowStore(db *sql.DB) *SQLRowStore {
	return &SQLRowStore{db: db}
}

func (s *SQLRowStore) RowsFor(ctx context.Context, year int) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT year, make, model,
		       COALESCE(fuel_type, ''), COALESCE(vehicle_type, ''),
		       COALESCE(model_year, 0), COALESCE(mass_kg, 0), axle_count
		FROM fact_registration
		WHERE year = $1
	`, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows for year %d: %w", year, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var axles sql.NullInt64
		if err := rows.Scan(&r.Year, &r.Make, &r.Model, &r.FuelType, &r.VehicleType,
			&r.ModelYear, &r.MassKG, &axles); err != nil {
			return nil, fmt.Errorf("failed to scan registration row: %w", err)
		}
		if axles.Valid {
			n := int(axles.Int64)
			r.AxleCount = &n
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLRowStore) DistinctValues(ctx context.Context, dimension string) ([]string, error) {
	col, err := TextColumn(dimension)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT %s
		FROM fact_registration
		WHERE %s IS NOT NULL AND %s <> ''
		ORDER BY %s
	`, col, col, col, col))
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct %s values: %w", dimension, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLRowStore) DistinctPairs(ctx context.Context) ([]PairRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT make_id, model_id, make, model
		FROM fact_registration
		WHERE make_id IS NOT NULL AND model_id IS NOT NULL
		ORDER BY make, model
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct pairs: %w", err)
	}
	defer rows.Close()

	var out []PairRow
	for rows.Next() {
		var p PairRow
		if err := rows.Scan(&p.MakeID, &p.ModelID, &p.MakeText, &p.ModelText); err != nil {
			return nil, fmt.Errorf("failed to scan pair row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLRowStore) RelationPairs(ctx context.Context, parentDim, childDim string) ([][2]uint32, error) {
	parentCol, err := IDColumn(parentDim)
	if err != nil {
		return nil, err
	}
	childCol, err := IDColumn(childDim)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT %s, %s
		FROM fact_registration
		WHERE %s IS NOT NULL AND %s IS NOT NULL
	`, parentCol, childCol, parentCol, childCol))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s->%s relation: %w", parentDim, childDim, err)
	}
	defer rows.Close()

	var out [][2]uint32
	for rows.Next() {
		var parent, child uint32
		if err := rows.Scan(&parent, &child); err != nil {
			return nil, err
		}
		out = append(out, [2]uint32{parent, child})
	}
	return out, rows.Err()
}

func (s *SQLRowStore) Execute(ctx context.Context, query string, args ...any) ([]AggregateRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate query failed: %w", err)
	}
	defer rows.Close()

	var out []AggregateRow
	for rows.Next() {
		var r AggregateRow
		if err := rows.Scan(&r.Key, &r.Value); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
