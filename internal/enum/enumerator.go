// Package enum assigns stable integer identifiers to the distinct values of
// each categorical dimension. Every downstream component keys on these ids;
// the query builder never compares raw text.
package enum

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/regcanon/internal/store"
)

// ErrUnknownValue is returned by lookups that miss the enumeration table.
// Callers treat it as "absent", not as a failure.
var ErrUnknownValue = errors.New("enum: unknown value")

// CorruptEnumerationError reports a duplicate id for two distinct texts.
// This is unrecoverable: every downstream component depends on id uniqueness.
type CorruptEnumerationError struct {
	Dimension string
	ID        uint32
	TextA     string
	TextB     string
}

func (e *CorruptEnumerationError) Error() string {
	return fmt.Sprintf("enum: dimension %s corrupt: id %d maps to both %q and %q",
		e.Dimension, e.ID, e.TextA, e.TextB)
}

// Value is one enumerated (id, text) entry of a dimension.
type Value struct {
	ID   uint32 `json:"id"`
	Text string `json:"text"`
}

type table struct {
	byText  map[string]uint32
	byID    map[uint32]string
	ordered []Value // sorted by text
}

type snapshot struct {
	tables map[string]*table
}

// Enumerator owns the per-dimension enumeration tables. Ids are persisted in
// dim_category_value so they stay stable across sessions; the in-memory
// snapshot is replaced atomically on re-enumeration so readers never see a
// partially updated table.
type Enumerator struct {
	db *sql.DB

	mu   sync.Mutex // serializes Enumerate; reads go through snap
	snap atomic.Pointer[snapshot]
}

// New creates an enumerator over the given connection.
func New(db *sql.DB) *Enumerator {
	e := &Enumerator{db: db}
	e.snap.Store(&snapshot{tables: map[string]*table{}})
	return e
}

// EnumerateAll enumerates every declared dimension.
func (e *Enumerator) EnumerateAll(ctx context.Context) error {
	for _, dim := range store.Dimensions {
		if _, err := e.Enumerate(ctx, dim); err != nil {
			return err
		}
	}
	return nil
}

// Enumerate assigns ids to every distinct value of the dimension, persists
// new assignments, backfills the fact table's id column, and atomically
// replaces the in-memory table. Existing ids are never reassigned or reused.
func (e *Enumerator) Enumerate(ctx context.Context, dimension string) (map[string]uint32, error) {
	textCol, err := store.TextColumn(dimension)
	if err != nil {
		return nil, err
	}
	idCol, err := store.IDColumn(dimension)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, nextID, err := e.loadPersisted(ctx, dimension)
	if err != nil {
		return nil, err
	}

	distinct, err := e.distinctTexts(ctx, textCol)
	if err != nil {
		return nil, err
	}

	for _, text := range distinct {
		if _, ok := existing[text]; ok {
			continue
		}
		_, err := e.db.ExecContext(ctx, `
			INSERT INTO dim_category_value (dimension, value_id, value_text)
			VALUES ($1, $2, $3)
		`, dimension, nextID, text)
		if err != nil {
			return nil, fmt.Errorf("failed to persist enumeration of %s=%q: %w", dimension, text, err)
		}
		existing[text] = nextID
		nextID++
	}

	// Backfill the fact table so aggregate queries can filter on ids.
	_, err = e.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE fact_registration SET %s = (
			SELECT d.value_id FROM dim_category_value d
			WHERE d.dimension = $1 AND d.value_text = fact_registration.%s
		)
		WHERE %s IS NULL AND %s IS NOT NULL AND %s <> ''
	`, idCol, textCol, idCol, textCol, textCol), dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to backfill %s ids: %w", dimension, err)
	}

	e.swapTable(dimension, existing)

	out := make(map[string]uint32, len(existing))
	for text, id := range existing {
		out[text] = id
	}
	return out, nil
}

// IDFor resolves a text to its id. Returns ErrUnknownValue on a miss.
func (e *Enumerator) IDFor(dimension, text string) (uint32, error) {
	t, ok := e.snap.Load().tables[dimension]
	if !ok {
		return 0, fmt.Errorf("%w: dimension %s not enumerated", ErrUnknownValue, dimension)
	}
	id, ok := t.byText[text]
	if !ok {
		return 0, fmt.Errorf("%w: %s=%q", ErrUnknownValue, dimension, text)
	}
	return id, nil
}

// TextFor resolves an id to its text. Returns ErrUnknownValue on a miss.
func (e *Enumerator) TextFor(dimension string, id uint32) (string, error) {
	t, ok := e.snap.Load().tables[dimension]
	if !ok {
		return "", fmt.Errorf("%w: dimension %s not enumerated", ErrUnknownValue, dimension)
	}
	text, ok := t.byID[id]
	if !ok {
		return "", fmt.Errorf("%w: %s id %d", ErrUnknownValue, dimension, id)
	}
	return text, nil
}

// Domain returns the dimension's values ordered by text, and whether the
// dimension has been enumerated at all.
func (e *Enumerator) Domain(dimension string) ([]Value, bool) {
	t, ok := e.snap.Load().tables[dimension]
	if !ok {
		return nil, false
	}
	out := make([]Value, len(t.ordered))
	copy(out, t.ordered)
	return out, true
}

func (e *Enumerator) loadPersisted(ctx context.Context, dimension string) (map[string]uint32, uint32, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT value_id, value_text
		FROM dim_category_value
		WHERE dimension = $1
		ORDER BY value_id
	`, dimension)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load enumeration of %s: %w", dimension, err)
	}
	defer rows.Close()

	byText := make(map[string]uint32)
	byID := make(map[uint32]string)
	var nextID uint32 = 1

	for rows.Next() {
		var id uint32
		var text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, 0, err
		}
		if prior, ok := byID[id]; ok && prior != text {
			return nil, 0, &CorruptEnumerationError{Dimension: dimension, ID: id, TextA: prior, TextB: text}
		}
		byText[text] = id
		byID[id] = text
		if id >= nextID {
			nextID = id + 1
		}
	}
	return byText, nextID, rows.Err()
}

func (e *Enumerator) distinctTexts(ctx context.Context, textCol string) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT %s
		FROM fact_registration
		WHERE %s IS NOT NULL AND %s <> ''
		ORDER BY %s
	`, textCol, textCol, textCol, textCol))
	if err != nil {
		return nil, fmt.Errorf("failed to scan distinct %s texts: %w", textCol, err)
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

// swapTable installs a rebuilt dimension table via copy-on-write: the other
// dimensions' tables are shared, the snapshot pointer flip is atomic.
func (e *Enumerator) swapTable(dimension string, byText map[string]uint32) {
	t := &table{
		byText: make(map[string]uint32, len(byText)),
		byID:   make(map[uint32]string, len(byText)),
	}
	for text, id := range byText {
		t.byText[text] = id
		t.byID[id] = text
		t.ordered = append(t.ordered, Value{ID: id, Text: text})
	}
	sort.Slice(t.ordered, func(i, j int) bool { return t.ordered[i].Text < t.ordered[j].Text })

	old := e.snap.Load()
	next := &snapshot{tables: make(map[string]*table, len(old.tables)+1)}
	for dim, tab := range old.tables {
		next.tables[dim] = tab
	}
	next.tables[dimension] = t
	e.snap.Store(next)
}
