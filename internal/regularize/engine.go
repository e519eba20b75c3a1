package regularize

import (
	"context"
	"fmt"
	"time"

	"github.com/regcanon/internal/debug"
	"github.com/regcanon/internal/hierarchy"
	"github.com/regcanon/internal/store"
)

// Engine owns the mapping lifecycle. The per-pair state machine is
// Unmapped -> AutoMapped -> Complete, monotonic; only an explicit deletion
// resets a pair.
type Engine struct {
	pairs    PairSource
	hier     *hierarchy.Builder
	mappings store.MappingStore

	suggester Suggester
	debug     bool
}

// NewEngine creates the regularization engine over its collaborators.
func NewEngine(pairs PairSource, hier *hierarchy.Builder, mappings store.MappingStore) *Engine {
	return &Engine{pairs: pairs, hier: hier, mappings: mappings}
}

// WithSuggester installs a fuzzy suggester. Suggestions are advisory; they
// only ever reach the mapping store through PromoteToComplete.
func (e *Engine) WithSuggester(s Suggester) *Engine {
	e.suggester = s
	return e
}

// WithDebug enables per-pair sweep logging.
func (e *Engine) WithDebug(enabled bool) *Engine {
	e.debug = enabled
	return e
}

// SweepFailure records one pair whose mapping write failed during a sweep.
type SweepFailure struct {
	PairKey string `json:"pair_key"`
	Err     string `json:"error"`
}

// SweepReport summarizes one auto-regularization sweep.
type SweepReport struct {
	Scanned       int            `json:"scanned"`
	Created       int            `json:"created"`
	AlreadyMapped int            `json:"already_mapped"`
	NoExactMatch  int            `json:"no_exact_match"`
	Failures      []SweepFailure `json:"failures,omitempty"`
	Elapsed       time.Duration  `json:"-"`
}

// AutoRegularize scans every distinct pair (exact matches always included)
// and creates a make/model-only mapping for each pair whose text exactly
// equals a canonical leaf and that has no mapping yet.
//
// The sweep is idempotent: pairs that already have a mapping are skipped, so
// re-running after a partial sweep only processes the remainder. A single
// pair's persistence failure is recorded and the sweep continues; committed
// mappings survive cancellation, making the sweep safe to resume.
func (e *Engine) AutoRegularize(ctx context.Context) (*SweepReport, error) {
	done := debug.Timing(e.debug, "auto-regularization sweep")
	defer done()

	start := time.Now()
	report := &SweepReport{}

	// Full scan, never the view-filtered pair list.
	pairs, err := e.FindUncuratedPairs(ctx, true)
	if err != nil {
		return nil, err
	}

	h, err := e.hier.GetOrBuild(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := e.mappings.LoadMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings before sweep: %w", err)
	}
	mapped := make(map[string]bool, len(existing))
	for _, m := range existing {
		mapped[m.PairKey] = true
	}

	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			// Committed mappings stay; the report covers progress so far.
			report.Elapsed = time.Since(start)
			return report, err
		}
		report.Scanned++

		key := p.Key()
		if mapped[key] {
			report.AlreadyMapped++
			continue
		}
		if !h.Contains(p.MakeText, p.ModelText) {
			report.NoExactMatch++
			continue
		}

		m := store.Mapping{
			PairKey:        key,
			CanonicalMake:  p.MakeText,
			CanonicalModel: p.ModelText,
			MappedBy:       "auto",
			MappedAt:       time.Now(),
		}
		if err := e.mappings.SaveMapping(ctx, m); err != nil {
			// Partial-failure isolation: record and keep sweeping.
			report.Failures = append(report.Failures, SweepFailure{PairKey: key, Err: err.Error()})
			debug.Output(e.debug, "sweep: pair %s (%s/%s) failed: %v", key, p.MakeText, p.ModelText, err)
			continue
		}
		mapped[key] = true
		report.Created++
		debug.Output(e.debug, "sweep: pair %s mapped to %s/%s", key, p.MakeText, p.ModelText)
	}

	report.Elapsed = time.Since(start)
	return report, nil
}

// ResolveCanonicalForPair returns the canonical (make, model) for a pair,
// for UI pre-population. Lookup order: the stored mapping's canonical
// fields, then a fresh exact-match scan of the hierarchy. The second step
// re-derives the answer independently of whether AutoRegularize has run,
// because mapping persistence and hierarchy availability move through their
// lifecycles at different times.
func (e *Engine) ResolveCanonicalForPair(ctx context.Context, p UncuratedPair) (makeName, modelName string, ok bool, err error) {
	m, err := e.mappings.GetMapping(ctx, p.Key())
	if err != nil {
		return "", "", false, err
	}
	if m != nil {
		return m.CanonicalMake, m.CanonicalModel, true, nil
	}

	h, err := e.hier.GetOrBuild(ctx)
	if err != nil {
		return "", "", false, err
	}
	if h.Contains(p.MakeText, p.ModelText) {
		return p.MakeText, p.ModelText, true, nil
	}
	return "", "", false, nil
}

// Promotion carries the analyst's completion of a pair. CanonicalMake and
// CanonicalModel may be left empty to reuse the stored or exact-match
// resolution; at least one of FuelType and VehicleType must be set, since a
// Complete promotion must add information.
type Promotion struct {
	CanonicalMake  string  `json:"canonical_make,omitempty"`
	CanonicalModel string  `json:"canonical_model,omitempty"`
	FuelType       *string `json:"fuel_type,omitempty"`
	VehicleType    *string `json:"vehicle_type,omitempty"`
}

// PromoteToComplete upserts the pair's mapping with fuel/vehicle type.
// A promotion supplying neither optional field fails with ValidationError
// and leaves any prior mapping unchanged.
func (e *Engine) PromoteToComplete(ctx context.Context, p UncuratedPair, promo Promotion) error {
	if promo.FuelType == nil && promo.VehicleType == nil {
		return &ValidationError{
			Field:  "fuel_type/vehicle_type",
			Reason: "a complete promotion must supply a fuel type or a vehicle type",
		}
	}

	canonicalMake, canonicalModel := promo.CanonicalMake, promo.CanonicalModel
	if canonicalMake == "" || canonicalModel == "" {
		mk, md, ok, err := e.ResolveCanonicalForPair(ctx, p)
		if err != nil {
			return err
		}
		if !ok {
			return &ValidationError{
				Field:  "canonical_make/canonical_model",
				Reason: fmt.Sprintf("pair %s/%s has no canonical resolution; supply the canonical pair explicitly", p.MakeText, p.ModelText),
			}
		}
		canonicalMake, canonicalModel = mk, md
	}

	m := store.Mapping{
		PairKey:              p.Key(),
		CanonicalMake:        canonicalMake,
		CanonicalModel:       canonicalModel,
		CanonicalFuelType:    promo.FuelType,
		CanonicalVehicleType: promo.VehicleType,
		MappedBy:             "analyst",
		MappedAt:             time.Now(),
	}
	if err := e.mappings.UpsertMapping(ctx, m); err != nil {
		return err
	}

	debug.Output(e.debug, "promoted pair %s to complete (%s/%s)", m.PairKey, canonicalMake, canonicalModel)
	return nil
}

// DeleteMapping removes a pair's mapping, resetting it to Unmapped. This is
// the only way a pair's status regresses.
func (e *Engine) DeleteMapping(ctx context.Context, pairKey string) error {
	return e.mappings.DeleteMapping(ctx, pairKey)
}

// StatusFor derives the pair's current status from the mapping store and
// the hierarchy.
func (e *Engine) StatusFor(ctx context.Context, p UncuratedPair) (PairStatus, error) {
	m, err := e.mappings.GetMapping(ctx, p.Key())
	if err != nil {
		return StatusUnmapped, err
	}

	exact := false
	if m == nil {
		h, err := e.hier.GetOrBuild(ctx)
		if err != nil {
			return StatusUnmapped, err
		}
		exact = h.Contains(p.MakeText, p.ModelText)
	}
	return DeriveStatus(m, exact), nil
}
