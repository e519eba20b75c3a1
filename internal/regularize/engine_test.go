package regularize

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/regcanon/internal/fuzzy"
	"github.com/regcanon/internal/hierarchy"
	"github.com/regcanon/internal/store"
)

// fakePairSource serves canned distinct pairs.
type fakePairSource struct {
	pairs []store.PairRow
}

func (f *fakePairSource) DistinctPairs(ctx context.Context) ([]store.PairRow, error) {
	return f.pairs, nil
}

// fakeRowSource feeds the hierarchy builder.
type fakeRowSource struct {
	rows map[int][]store.Row
}

func (f *fakeRowSource) RowsFor(ctx context.Context, year int) ([]store.Row, error) {
	return f.rows[year], nil
}

// memMappingStore is an in-memory MappingStore. failKeys simulates per-pair
// persistence failures.
type memMappingStore struct {
	mappings map[string]store.Mapping
	failKeys map[string]bool
	saves    int
}

func newMemMappingStore() *memMappingStore {
	return &memMappingStore{mappings: map[string]store.Mapping{}, failKeys: map[string]bool{}}
}

func (m *memMappingStore) LoadMappings(ctx context.Context) ([]store.Mapping, error) {
	out := make([]store.Mapping, 0, len(m.mappings))
	for _, v := range m.mappings {
		out = append(out, v)
	}
	return out, nil
}

func (m *memMappingStore) GetMapping(ctx context.Context, pairKey string) (*store.Mapping, error) {
	if v, ok := m.mappings[pairKey]; ok {
		copied := v
		return &copied, nil
	}
	return nil, nil
}

func (m *memMappingStore) SaveMapping(ctx context.Context, mp store.Mapping) error {
	if m.failKeys[mp.PairKey] {
		return &store.PersistenceError{Op: "save", PairKey: mp.PairKey, Err: errors.New("disk full")}
	}
	if _, ok := m.mappings[mp.PairKey]; ok {
		return &store.PersistenceError{Op: "save", PairKey: mp.PairKey, Err: errors.New("duplicate pair key")}
	}
	m.mappings[mp.PairKey] = mp
	m.saves++
	return nil
}

func (m *memMappingStore) UpsertMapping(ctx context.Context, mp store.Mapping) error {
	if m.failKeys[mp.PairKey] {
		return &store.PersistenceError{Op: "upsert", PairKey: mp.PairKey, Err: errors.New("disk full")}
	}
	m.mappings[mp.PairKey] = mp
	m.saves++
	return nil
}

func (m *memMappingStore) DeleteMapping(ctx context.Context, pairKey string) error {
	delete(m.mappings, pairKey)
	return nil
}

// testEngine builds an engine whose canonical hierarchy holds HONDA/CIVIC
// and TOYOTA/COROLLA (curated year 2020), and whose observed pairs add the
// misspelled VOLV0/XC60.
func testEngine(t *testing.T) (*Engine, *memMappingStore) {
	t.Helper()

	rows := &fakeRowSource{rows: map[int][]store.Row{
		2020: {
			{Year: 2020, Make: "HONDA", Model: "CIVIC", FuelType: "PETROL", VehicleType: "PASSENGER CAR"},
			{Year: 2020, Make: "TOYOTA", Model: "COROLLA", FuelType: "HYBRID", VehicleType: "PASSENGER CAR"},
		},
	}}
	pairs := &fakePairSource{pairs: []store.PairRow{
		{MakeID: 1, ModelID: 10, MakeText: "HONDA", ModelText: "CIVIC"},
		{MakeID: 2, ModelID: 20, MakeText: "TOYOTA", ModelText: "COROLLA"},
		{MakeID: 3, ModelID: 30, MakeText: "VOLV0", ModelText: "XC60"},
	}}

	mappings := newMemMappingStore()
	builder := hierarchy.NewBuilder(rows, []int{2020})
	return NewEngine(pairs, builder, mappings), mappings
}

func pairByTexts(makeText, modelText string) UncuratedPair {
	switch makeText + "/" + modelText {
	case "HONDA/CIVIC":
		return UncuratedPair{MakeID: 1, ModelID: 10, MakeText: makeText, ModelText: modelText}
	case "TOYOTA/COROLLA":
		return UncuratedPair{MakeID: 2, ModelID: 20, MakeText: makeText, ModelText: modelText}
	default:
		return UncuratedPair{MakeID: 3, ModelID: 30, MakeText: makeText, ModelText: modelText}
	}
}

func TestAutoRegularizeExactMatchesOnly(t *testing.T) {
	engine, mappings := testEngine(t)
	ctx := context.Background()

	report, err := engine.AutoRegularize(ctx)
	if err != nil {
		t.Fatalf("AutoRegularize failed: %v", err)
	}
	if report.Created != 2 {
		t.Errorf("created = %d, want 2", report.Created)
	}
	if report.NoExactMatch != 1 {
		t.Errorf("no exact match = %d, want 1", report.NoExactMatch)
	}

	// HONDA/CIVIC is auto-mapped, VOLV0/XC60 stays unmapped.
	status, err := engine.StatusFor(ctx, pairByTexts("HONDA", "CIVIC"))
	if err != nil {
		t.Fatalf("StatusFor failed: %v", err)
	}
	if status != StatusAutoMapped {
		t.Errorf("HONDA/CIVIC status = %v, want auto_mapped", status)
	}

	status, err = engine.StatusFor(ctx, pairByTexts("VOLV0", "XC60"))
	if err != nil {
		t.Fatalf("StatusFor failed: %v", err)
	}
	if status != StatusUnmapped {
		t.Errorf("VOLV0/XC60 status = %v, want unmapped", status)
	}

	m := mappings.mappings["1_10"]
	if m.CanonicalMake != "HONDA" || m.CanonicalModel != "CIVIC" {
		t.Errorf("mapping = %s/%s, want HONDA/CIVIC", m.CanonicalMake, m.CanonicalModel)
	}
	if m.CanonicalFuelType != nil || m.CanonicalVehicleType != nil {
		t.Error("auto-created mapping must not carry fuel or vehicle type")
	}
}

func TestAutoRegularizeIdempotent(t *testing.T) {
	engine, _ := testEngine(t)
	ctx := context.Background()

	first, err := engine.AutoRegularize(ctx)
	if err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}
	if first.Created == 0 {
		t.Fatal("first sweep created nothing")
	}

	second, err := engine.AutoRegularize(ctx)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if second.Created != 0 {
		t.Errorf("second sweep created %d mappings, want 0", second.Created)
	}
	if second.AlreadyMapped != first.Created {
		t.Errorf("second sweep already-mapped = %d, want %d", second.AlreadyMapped, first.Created)
	}
}

func TestAutoRegularizeIgnoresViewFilter(t *testing.T) {
	engine, _ := testEngine(t)
	ctx := context.Background()

	// A concurrent view query with includeExactMatches=false must not
	// starve the sweep of its exact matches.
	filtered, err := engine.FindUncuratedPairs(ctx, false)
	if err != nil {
		t.Fatalf("FindUncuratedPairs failed: %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("filtered view = %d pairs, want 1 (only VOLV0/XC60)", len(filtered))
	}

	report, err := engine.AutoRegularize(ctx)
	if err != nil {
		t.Fatalf("AutoRegularize failed: %v", err)
	}
	if report.Created != 2 {
		t.Errorf("sweep created %d, want 2: the view filter must not gate the sweep", report.Created)
	}
}

func TestResolveCanonicalIndependentOfSweep(t *testing.T) {
	ctx := context.Background()
	pair := pairByTexts("HONDA", "CIVIC")

	// Before the sweep.
	engine, _ := testEngine(t)
	mk, md, ok, err := engine.ResolveCanonicalForPair(ctx, pair)
	if err != nil {
		t.Fatalf("resolve before sweep failed: %v", err)
	}
	if !ok || mk != "HONDA" || md != "CIVIC" {
		t.Errorf("resolve before sweep = %q/%q ok=%v, want HONDA/CIVIC", mk, md, ok)
	}

	// After the sweep the answer is identical.
	if _, err := engine.AutoRegularize(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	mk2, md2, ok2, err := engine.ResolveCanonicalForPair(ctx, pair)
	if err != nil {
		t.Fatalf("resolve after sweep failed: %v", err)
	}
	if mk2 != mk || md2 != md || ok2 != ok {
		t.Errorf("resolution changed across sweep: %q/%q vs %q/%q", mk, md, mk2, md2)
	}

	// A pair with no exact match resolves to nothing either way.
	_, _, ok, err = engine.ResolveCanonicalForPair(ctx, pairByTexts("VOLV0", "XC60"))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if ok {
		t.Error("VOLV0/XC60 should not resolve")
	}
}

func TestEffectiveAutoMappedBeforeSweep(t *testing.T) {
	engine, _ := testEngine(t)
	ctx := context.Background()

	// An exact-match pair with no stored mapping presents as auto-mapped.
	status, err := engine.StatusFor(ctx, pairByTexts("HONDA", "CIVIC"))
	if err != nil {
		t.Fatalf("StatusFor failed: %v", err)
	}
	if status != StatusAutoMapped {
		t.Errorf("pre-sweep exact match status = %v, want auto_mapped", status)
	}
}

func TestPromoteToComplete(t *testing.T) {
	engine, mappings := testEngine(t)
	ctx := context.Background()
	pair := pairByTexts("HONDA", "CIVIC")

	fuel := "PETROL"
	if err := engine.PromoteToComplete(ctx, pair, Promotion{FuelType: &fuel}); err != nil {
		t.Fatalf("promotion failed: %v", err)
	}

	status, err := engine.StatusFor(ctx, pair)
	if err != nil {
		t.Fatalf("StatusFor failed: %v", err)
	}
	if status != StatusComplete {
		t.Errorf("status after promotion = %v, want complete", status)
	}

	m := mappings.mappings[pair.Key()]
	if m.CanonicalMake != "HONDA" || m.CanonicalModel != "CIVIC" {
		t.Errorf("promotion resolved %s/%s, want HONDA/CIVIC", m.CanonicalMake, m.CanonicalModel)
	}
	if m.CanonicalFuelType == nil || *m.CanonicalFuelType != "PETROL" {
		t.Error("promotion lost the fuel type")
	}
}

func TestPromoteWithoutInformationFails(t *testing.T) {
	engine, mappings := testEngine(t)
	ctx := context.Background()
	pair := pairByTexts("HONDA", "CIVIC")

	// Seed a prior auto mapping.
	if _, err := engine.AutoRegularize(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	before := mappings.mappings[pair.Key()]

	err := engine.PromoteToComplete(ctx, pair, Promotion{})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("promotion without fields = %v, want ValidationError", err)
	}

	// The prior mapping is untouched.
	after := mappings.mappings[pair.Key()]
	if before != after {
		t.Error("failed promotion must leave the prior mapping unchanged")
	}
	status, _ := engine.StatusFor(ctx, pair)
	if status != StatusAutoMapped {
		t.Errorf("status after failed promotion = %v, want auto_mapped", status)
	}
}

func TestPromoteUnresolvedPairNeedsExplicitCanonical(t *testing.T) {
	engine, mappings := testEngine(t)
	ctx := context.Background()
	pair := pairByTexts("VOLV0", "XC60")
	vehicle := "PASSENGER CAR"

	// No resolution and no explicit canonical pair: refused.
	err := engine.PromoteToComplete(ctx, pair, Promotion{VehicleType: &vehicle})
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("promotion of unresolved pair = %v, want ValidationError", err)
	}

	// With the canonical pair supplied (e.g. picked from a fuzzy
	// suggestion) the promotion goes through the same mapping interface.
	err = engine.PromoteToComplete(ctx, pair, Promotion{
		CanonicalMake:  "VOLVO",
		CanonicalModel: "XC60",
		VehicleType:    &vehicle,
	})
	if err != nil {
		t.Fatalf("explicit promotion failed: %v", err)
	}
	m := mappings.mappings[pair.Key()]
	if m.CanonicalMake != "VOLVO" {
		t.Errorf("canonical make = %q, want VOLVO", m.CanonicalMake)
	}

	status, _ := engine.StatusFor(ctx, pair)
	if status != StatusComplete {
		t.Errorf("status = %v, want complete", status)
	}
}

func TestDeleteMappingResetsToUnmapped(t *testing.T) {
	engine, _ := testEngine(t)
	ctx := context.Background()
	pair := pairByTexts("VOLV0", "XC60")
	vehicle := "PASSENGER CAR"

	err := engine.PromoteToComplete(ctx, pair, Promotion{
		CanonicalMake: "VOLVO", CanonicalModel: "XC60", VehicleType: &vehicle,
	})
	if err != nil {
		t.Fatalf("promotion failed: %v", err)
	}

	if err := engine.DeleteMapping(ctx, pair.Key()); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	status, _ := engine.StatusFor(ctx, pair)
	if status != StatusUnmapped {
		t.Errorf("status after delete = %v, want unmapped", status)
	}
}

func TestSweepPartialFailureIsolation(t *testing.T) {
	engine, mappings := testEngine(t)
	ctx := context.Background()

	mappings.failKeys["1_10"] = true

	report, err := engine.AutoRegularize(ctx)
	if err != nil {
		t.Fatalf("sweep must not fail on a single pair: %v", err)
	}
	if len(report.Failures) != 1 || report.Failures[0].PairKey != "1_10" {
		t.Fatalf("failures = %+v, want exactly pair 1_10", report.Failures)
	}
	if report.Created != 1 {
		t.Errorf("created = %d, want 1 (TOYOTA/COROLLA still mapped)", report.Created)
	}

	// After the store recovers, a re-run picks up only the failed pair.
	mappings.failKeys = map[string]bool{}
	report, err = engine.AutoRegularize(ctx)
	if err != nil {
		t.Fatalf("resume sweep failed: %v", err)
	}
	if report.Created != 1 {
		t.Errorf("resume created = %d, want 1", report.Created)
	}
}

func TestSweepCancellation(t *testing.T) {
	engine, mappings := testEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.AutoRegularize(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled sweep = %v, want context.Canceled", err)
	}
	if len(mappings.mappings) != 0 {
		// Nothing committed before the first pair; if something had been,
		// it would legitimately remain.
		t.Logf("committed mappings survive cancellation: %d", len(mappings.mappings))
	}
}

func TestStatusDerivationTable(t *testing.T) {
	fuel := "PETROL"

	tests := []struct {
		name           string
		mapping        *store.Mapping
		exactCanonical bool
		want           PairStatus
	}{
		{
			name: "no mapping, no exact match",
			want: StatusUnmapped,
		},
		{
			name:           "no mapping, exact match is effectively auto-mapped",
			exactCanonical: true,
			want:           StatusAutoMapped,
		},
		{
			name:    "make/model-only mapping",
			mapping: &store.Mapping{PairKey: "1_10", CanonicalMake: "HONDA", CanonicalModel: "CIVIC"},
			want:    StatusAutoMapped,
		},
		{
			name: "mapping with fuel type",
			mapping: &store.Mapping{
				PairKey: "1_10", CanonicalMake: "HONDA", CanonicalModel: "CIVIC",
				CanonicalFuelType: &fuel,
			},
			want: StatusComplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.mapping, tt.exactCanonical); got != tt.want {
				t.Errorf("DeriveStatus = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSymSpellSuggesterForNearMissPair(t *testing.T) {
	engine, _ := testEngine(t)
	ctx := context.Background()

	h, err := hierarchy.Build(ctx, &fakeRowSource{rows: map[int][]store.Row{
		2020: {
			{Year: 2020, Make: "VOLVO", Model: "XC60"},
			{Year: 2020, Make: "HONDA", Model: "CIVIC"},
		},
	}}, []int{2020})
	if err != nil {
		t.Fatalf("hierarchy build failed: %v", err)
	}
	engine.WithSuggester(NewSymSpellSuggester(h, fuzzy.DefaultConfig()))

	suggestions, err := engine.Suggestions(ctx, pairByTexts("VOLV0", "XC60"), 5)
	if err != nil {
		t.Fatalf("Suggestions failed: %v", err)
	}
	if len(suggestions) == 0 {
		t.Fatal("expected a suggestion for VOLV0/XC60")
	}
	best := suggestions[0]
	if best.Make != "VOLVO" || best.Model != "XC60" {
		t.Errorf("best suggestion = %s/%s, want VOLVO/XC60", best.Make, best.Model)
	}
	if best.Distance != 1 {
		t.Errorf("distance = %d, want 1", best.Distance)
	}

	// Exact-match pairs yield no suggestions.
	suggestions, err = engine.Suggestions(ctx, pairByTexts("HONDA", "CIVIC"), 5)
	if err != nil {
		t.Fatalf("Suggestions failed: %v", err)
	}
	if len(suggestions) != 0 {
		t.Errorf("exact-match pair got suggestions: %v", suggestions)
	}
}

func TestFindUncuratedPairsOrdered(t *testing.T) {
	engine, _ := testEngine(t)

	pairs, err := engine.FindUncuratedPairs(context.Background(), true)
	if err != nil {
		t.Fatalf("FindUncuratedPairs failed: %v", err)
	}
	for i := 1; i < len(pairs); i++ {
		prev := fmt.Sprintf("%s/%s", pairs[i-1].MakeText, pairs[i-1].ModelText)
		curr := fmt.Sprintf("%s/%s", pairs[i].MakeText, pairs[i].ModelText)
		if prev > curr {
			t.Errorf("pairs out of order: %s before %s", prev, curr)
		}
	}
}
