// Package filtercache holds the per-session snapshot of enumerated filter
// domains and cross-dimension relationships used to populate filter controls
// without scanning rows. The snapshot is immutable; invalidation builds a
// fresh one and swaps an atomic pointer, so a read started before an
// invalidation sees the fully-old or fully-new state, never a mix.
package filtercache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/regcanon/internal/enum"
	"github.com/regcanon/internal/store"
)

// ErrStaleSnapshot signals that the caller's snapshot token has been
// superseded. Consumers transparently retry once against the fresh snapshot;
// it is never surfaced to the end user.
var ErrStaleSnapshot = errors.New("filtercache: snapshot superseded")

// ErrNotWarmed is returned before the first successful Warm.
var ErrNotWarmed = errors.New("filtercache: cache not warmed")

// Value is one selectable filter value.
type Value struct {
	ID   uint32 `json:"id"`
	Text string `json:"text"`
}

// Relation declares a parent -> child dimension dependency whose valid
// combinations the cache pre-materializes, e.g. make -> model.
type Relation struct {
	Parent string
	Child  string
}

// DefaultRelations are the relationships the filter controls depend on.
var DefaultRelations = []Relation{
	{Parent: store.DimensionMake, Child: store.DimensionModel},
	{Parent: store.DimensionVehicleType, Child: store.DimensionFuelType},
}

// RelationSource is the slice of the row store the cache loads from.
type RelationSource interface {
	RelationPairs(ctx context.Context, parentDim, childDim string) ([][2]uint32, error)
}

type snapshot struct {
	token   uuid.UUID
	domains map[string][]Value
	values  map[string]map[uint32]Value
	rank    map[string]map[uint32]int
	// children is keyed by child dimension, then parent id.
	children map[string]map[uint32][]uint32
}

// Cache is the session filter cache. It never originates data; everything
// is derived from the enumerator and the row store in one pass per
// dimension at warm time, never per request.
type Cache struct {
	enum      *enum.Enumerator
	rows      RelationSource
	relations []Relation

	mu   sync.Mutex // serializes rebuilds
	snap atomic.Pointer[snapshot]
}

// New creates an unwarmed cache.
func New(e *enum.Enumerator, rows RelationSource, relations []Relation) *Cache {
	if relations == nil {
		relations = DefaultRelations
	}
	return &Cache{enum: e, rows: rows, relations: relations}
}

// Warm builds the initial snapshot: every dimension's enumerated domain and
// every declared parent->child index, loaded concurrently.
func (c *Cache) Warm(ctx context.Context) error {
	return c.rebuild(ctx)
}

// Invalidate rebuilds the snapshot after a mutation to the row store, the
// enumeration tables, or the mapping store. A cancelled rebuild leaves the
// previous snapshot installed; the swap happens only on full success.
func (c *Cache) Invalidate(ctx context.Context) error {
	return c.rebuild(ctx)
}

// Token returns the current snapshot's identity, or uuid.Nil before Warm.
func (c *Cache) Token() uuid.UUID {
	if s := c.snap.Load(); s != nil {
		return s.token
	}
	return uuid.Nil
}

func (c *Cache) rebuild(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := &snapshot{
		token:    uuid.New(),
		domains:  make(map[string][]Value, len(store.Dimensions)),
		values:   make(map[string]map[uint32]Value, len(store.Dimensions)),
		rank:     make(map[string]map[uint32]int, len(store.Dimensions)),
		children: make(map[string]map[uint32][]uint32, len(c.relations)),
	}

	// Enumeration first: relation loading depends on the backfilled id
	// columns.
	for _, dim := range store.Dimensions {
		if _, err := c.enum.Enumerate(ctx, dim); err != nil {
			return err
		}
	}

	var domainMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, dim := range store.Dimensions {
		dim := dim
		g.Go(func() error {
			domain, ok := c.enum.Domain(dim)
			if !ok {
				return fmt.Errorf("filtercache: dimension %s missing after enumeration", dim)
			}

			values := make([]Value, len(domain))
			byID := make(map[uint32]Value, len(domain))
			rank := make(map[uint32]int, len(domain))
			for i, v := range domain {
				values[i] = Value{ID: v.ID, Text: v.Text}
				byID[v.ID] = values[i]
				rank[v.ID] = i
			}

			domainMu.Lock()
			next.domains[dim] = values
			next.values[dim] = byID
			next.rank[dim] = rank
			domainMu.Unlock()
			return nil
		})
	}

	for _, rel := range c.relations {
		rel := rel
		g.Go(func() error {
			pairs, err := c.rows.RelationPairs(gctx, rel.Parent, rel.Child)
			if err != nil {
				return fmt.Errorf("filtercache: loading %s->%s: %w", rel.Parent, rel.Child, err)
			}

			index := make(map[uint32][]uint32)
			for _, p := range pairs {
				index[p[0]] = append(index[p[0]], p[1])
			}

			domainMu.Lock()
			next.children[rel.Child] = index
			domainMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Roll back: the old snapshot stays installed.
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.snap.Store(next)
	return nil
}

// GetAvailable returns the dimension's selectable values, optionally
// constrained by a parent id set. An empty or nil constraint returns the
// full domain. A constrained lookup touches only the pre-materialized index:
// O(len(constrainedBy) + len(result)), never O(rows).
func (c *Cache) GetAvailable(dimension string, constrainedBy []uint32) ([]Value, error) {
	s := c.snap.Load()
	if s == nil {
		return nil, ErrNotWarmed
	}
	return s.available(dimension, constrainedBy)
}

// GetAvailableAt is GetAvailable pinned to a snapshot token. Holders of a
// superseded token get ErrStaleSnapshot and are expected to retry once with
// the current token.
func (c *Cache) GetAvailableAt(token uuid.UUID, dimension string, constrainedBy []uint32) ([]Value, error) {
	s := c.snap.Load()
	if s == nil {
		return nil, ErrNotWarmed
	}
	if s.token != token {
		return nil, ErrStaleSnapshot
	}
	return s.available(dimension, constrainedBy)
}

func (s *snapshot) available(dimension string, constrainedBy []uint32) ([]Value, error) {
	domain, ok := s.domains[dimension]
	if !ok {
		return nil, fmt.Errorf("filtercache: unknown dimension %q", dimension)
	}

	if len(constrainedBy) == 0 {
		out := make([]Value, len(domain))
		copy(out, domain)
		return out, nil
	}

	index, ok := s.children[dimension]
	if !ok {
		return nil, fmt.Errorf("filtercache: no parent relation declared for dimension %q", dimension)
	}

	seen := make(map[uint32]bool)
	var out []Value
	for _, parentID := range constrainedBy {
		for _, childID := range index[parentID] {
			if seen[childID] {
				continue
			}
			seen[childID] = true
			if v, ok := s.values[dimension][childID]; ok {
				out = append(out, v)
			}
		}
	}

	rank := s.rank[dimension]
	sort.Slice(out, func(i, j int) bool { return rank[out[i].ID] < rank[out[j].ID] })
	return out, nil
}
