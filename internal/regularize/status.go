// Package regularize maps inconsistent raw (make, model) pairs onto the
// canonical hierarchy: pair discovery, the auto-regularization sweep,
// analyst promotion, and the derived completeness status.
package regularize

import (
	"fmt"

	"github.com/regcanon/internal/store"
)

// PairStatus is the derived completeness of an uncurated pair. It is a pure
// function of the mapping store and the hierarchy, never stored, so it can
// not drift from what is true now.
type PairStatus int

const (
	// StatusUnmapped means no mapping exists and the pair text matches no
	// canonical pair.
	StatusUnmapped PairStatus = iota

	// StatusAutoMapped means a make/model-only mapping exists, or the pair
	// text exactly equals a canonical pair that the sweep has not yet
	// persisted (effectively auto-mapped for presentation).
	StatusAutoMapped

	// StatusComplete means the mapping carries a fuel type or vehicle type.
	StatusComplete
)

func (s PairStatus) String() string {
	switch s {
	case StatusUnmapped:
		return "unmapped"
	case StatusAutoMapped:
		return "auto_mapped"
	case StatusComplete:
		return "complete"
	default:
		return fmt.Sprintf("PairStatus(%d)", int(s))
	}
}

// DeriveStatus computes the status from a mapping (nil when absent) and
// whether the pair text exactly equals a canonical pair.
func DeriveStatus(m *store.Mapping, exactCanonical bool) PairStatus {
	if m == nil {
		if exactCanonical {
			return StatusAutoMapped
		}
		return StatusUnmapped
	}
	if m.CanonicalFuelType != nil || m.CanonicalVehicleType != nil {
		return StatusComplete
	}
	return StatusAutoMapped
}

// ValidationError reports a malformed promotion or request. The operation
// aborts with no partial state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}
