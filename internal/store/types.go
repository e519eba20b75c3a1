// Package store holds the SQL collaborators of the reconciliation engine:
// the registration row store (read side) and the mapping store (write side).
// All queries are parameterized with $n placeholders, which both lib/pq and
// modernc sqlite accept.
package store

import (
	"fmt"
	"time"
)

// Dimension names for the categorical columns of fact_registration.
const (
	DimensionMake        = "make"
	DimensionModel       = "model"
	DimensionFuelType    = "fuel_type"
	DimensionVehicleType = "vehicle_type"
)

// Dimensions lists every enumerated categorical dimension, in declaration order.
var Dimensions = []string{DimensionMake, DimensionModel, DimensionFuelType, DimensionVehicleType}

// IsDimension reports whether name is a known categorical dimension.
func IsDimension(name string) bool {
	for _, d := range Dimensions {
		if d == name {
			return true
		}
	}
	return false
}

// TextColumn returns the raw text column of a dimension on fact_registration.
// Dimension names are validated against the closed list above before ever
// being spliced into SQL.
func TextColumn(dimension string) (string, error) {
	if !IsDimension(dimension) {
		return "", fmt.Errorf("unknown dimension %q", dimension)
	}
	return dimension, nil
}

// IDColumn returns the enumerated id column of a dimension on fact_registration.
func IDColumn(dimension string) (string, error) {
	if !IsDimension(dimension) {
		return "", fmt.Errorf("unknown dimension %q", dimension)
	}
	return dimension + "_id", nil
}

// Row is a single registration record as read from fact_registration.
type Row struct {
	Year        int
	Make        string
	Model       string
	FuelType    string
	VehicleType string
	ModelYear   int
	MassKG      float64
	AxleCount   *int
}

// PairRow is a distinct (make, model) combination observed in the data,
// carrying both the enumerated ids and the raw text.
type PairRow struct {
	MakeID    uint32
	ModelID   uint32
	MakeText  string
	ModelText string
}

// AggregateRow is one (group key, numeric) result of an aggregate query.
type AggregateRow struct {
	Key   int64
	Value float64
}

// Mapping ties an uncurated (make, model) pair to the canonical hierarchy.
// PairKey is makeID + "_" + modelID. At most one Mapping exists per PairKey.
type Mapping struct {
	PairKey              string
	CanonicalMake        string
	CanonicalModel       string
	CanonicalFuelType    *string
	CanonicalVehicleType *string
	MappedBy             string
	MappedAt             time.Time
}

// PersistenceError wraps a mapping-store write failure. The regularization
// sweep collects these and keeps going; it never aborts on a single pair.
type PersistenceError struct {
	Op      string
	PairKey string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("mapping %s failed for pair %s: %v", e.Op, e.PairKey, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
