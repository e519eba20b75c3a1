package hierarchy

import (
	"context"
	"fmt"
	"sync"

	"github.com/regcanon/internal/store"
)

// RowSource is the slice of the row store the builder needs.
type RowSource interface {
	RowsFor(ctx context.Context, year int) ([]store.Row, error)
}

// Builder lazily builds and caches the canonical hierarchy for a session.
// Callers that need the tree before it exists trigger the build through
// GetOrBuild instead of failing; Get exposes the not-yet-built state
// explicitly so callers never assume a background task has run.
type Builder struct {
	rows         RowSource
	curatedYears []int

	mu    sync.Mutex
	built *Hierarchy
}

// NewBuilder creates a lazy builder over the curated years.
func NewBuilder(rows RowSource, curatedYears []int) *Builder {
	return &Builder{rows: rows, curatedYears: curatedYears}
}

// Get returns the hierarchy if it has been built. The second return is
// false while the hierarchy is not yet built.
func (b *Builder) Get() (*Hierarchy, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.built, b.built != nil
}

// GetOrBuild returns the hierarchy, building it on first access.
func (b *Builder) GetOrBuild(ctx context.Context) (*Hierarchy, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.built != nil {
		return b.built, nil
	}

	h, err := Build(ctx, b.rows, b.curatedYears)
	if err != nil {
		return nil, err
	}
	b.built = h
	return h, nil
}

// Invalidate drops the cached tree; the next access rebuilds it.
func (b *Builder) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.built = nil
}

// Build constructs the canonical hierarchy from the curated years.
// Deterministic for identical input rows. Empty curated data yields an
// empty hierarchy, not an error.
func Build(ctx context.Context, rows RowSource, curatedYears []int) (*Hierarchy, error) {
	h := newHierarchy()

	for _, year := range curatedYears {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		yearRows, err := rows.RowsFor(ctx, year)
		if err != nil {
			return nil, fmt.Errorf("failed to read curated year %d: %w", year, err)
		}

		for _, r := range yearRows {
			if r.Make == "" || r.Model == "" {
				continue
			}
			h.add(r.Make, r.Model, r.FuelType, r.VehicleType)
		}
	}

	h.finish()
	return h, nil
}
