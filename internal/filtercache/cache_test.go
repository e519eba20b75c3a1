package filtercache

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/regcanon/internal/enum"
	"github.com/regcanon/internal/store"
)

func openSeededDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := store.EnsureSchema(ctx, db); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	rows := []struct {
		year                        int
		make_, model, fuel, vehicle string
	}{
		{2020, "HONDA", "CIVIC", "PETROL", "PASSENGER CAR"},
		{2020, "HONDA", "ACCORD", "PETROL", "PASSENGER CAR"},
		{2020, "VOLVO", "XC60", "DIESEL", "PASSENGER CAR"},
		{2021, "VOLVO", "FH16", "DIESEL", "HEAVY TRUCK"},
	}
	for _, r := range rows {
		_, err := db.Exec(`
			INSERT INTO fact_registration (year, make, model, fuel_type, vehicle_type, model_year, mass_kg)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, r.year, r.make_, r.model, r.fuel, r.vehicle, r.year, 1500.0)
		if err != nil {
			t.Fatalf("failed to insert row: %v", err)
		}
	}
	return db
}

func warmCache(t *testing.T, db *sql.DB) (*Cache, *enum.Enumerator) {
	t.Helper()
	e := enum.New(db)
	c := New(e, store.NewSQLRowStore(db), nil)
	if err := c.Warm(context.Background()); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	return c, e
}

func textsOf(values []Value) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.Text
	}
	return out
}

func TestGetAvailableUnconstrained(t *testing.T) {
	db := openSeededDB(t)
	c, _ := warmCache(t, db)

	models, err := c.GetAvailable(store.DimensionModel, nil)
	if err != nil {
		t.Fatalf("GetAvailable failed: %v", err)
	}

	want := []string{"ACCORD", "CIVIC", "FH16", "XC60"}
	got := textsOf(models)
	if len(got) != len(want) {
		t.Fatalf("models = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("models[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGetAvailableConstrainedIsStrictSubset(t *testing.T) {
	db := openSeededDB(t)
	c, e := warmCache(t, db)

	hondaID, err := e.IDFor(store.DimensionMake, "HONDA")
	if err != nil {
		t.Fatalf("IDFor(HONDA) failed: %v", err)
	}

	all, err := c.GetAvailable(store.DimensionModel, nil)
	if err != nil {
		t.Fatalf("unconstrained lookup failed: %v", err)
	}
	constrained, err := c.GetAvailable(store.DimensionModel, []uint32{hondaID})
	if err != nil {
		t.Fatalf("constrained lookup failed: %v", err)
	}

	if len(constrained) >= len(all) {
		t.Fatalf("constrained set (%d) is not a strict subset of the domain (%d)", len(constrained), len(all))
	}

	allIDs := make(map[uint32]bool, len(all))
	for _, v := range all {
		allIDs[v.ID] = true
	}
	for _, v := range constrained {
		if !allIDs[v.ID] {
			t.Errorf("constrained value %v not in the unconstrained domain", v)
		}
	}

	got := textsOf(constrained)
	want := []string{"ACCORD", "CIVIC"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("HONDA models = %v, want %v", got, want)
	}

	// An empty constraint set means unconstrained.
	empty, err := c.GetAvailable(store.DimensionModel, []uint32{})
	if err != nil {
		t.Fatalf("empty-constraint lookup failed: %v", err)
	}
	if len(empty) != len(all) {
		t.Errorf("empty constraint returned %d values, want the full domain %d", len(empty), len(all))
	}
}

func TestGetAvailableMultipleParents(t *testing.T) {
	db := openSeededDB(t)
	c, e := warmCache(t, db)

	hondaID, _ := e.IDFor(store.DimensionMake, "HONDA")
	volvoID, _ := e.IDFor(store.DimensionMake, "VOLVO")

	models, err := c.GetAvailable(store.DimensionModel, []uint32{hondaID, volvoID})
	if err != nil {
		t.Fatalf("GetAvailable failed: %v", err)
	}
	if len(models) != 4 {
		t.Errorf("union of HONDA+VOLVO models = %d values, want 4", len(models))
	}
}

func TestUnknownDimension(t *testing.T) {
	db := openSeededDB(t)
	c, _ := warmCache(t, db)

	if _, err := c.GetAvailable("colour", nil); err == nil {
		t.Error("unknown dimension should fail")
	}
}

func TestNotWarmed(t *testing.T) {
	db := openSeededDB(t)
	e := enum.New(db)
	c := New(e, store.NewSQLRowStore(db), nil)

	if _, err := c.GetAvailable(store.DimensionModel, nil); !errors.Is(err, ErrNotWarmed) {
		t.Errorf("unwarmed GetAvailable = %v, want ErrNotWarmed", err)
	}
}

func TestInvalidationSwapsToken(t *testing.T) {
	db := openSeededDB(t)
	c, _ := warmCache(t, db)
	ctx := context.Background()

	oldToken := c.Token()

	// Snapshot-pinned reads succeed while the token is current.
	if _, err := c.GetAvailableAt(oldToken, store.DimensionModel, nil); err != nil {
		t.Fatalf("pinned read failed: %v", err)
	}

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if c.Token() == oldToken {
		t.Fatal("invalidation did not change the snapshot token")
	}

	// A holder of the superseded token gets ErrStaleSnapshot and succeeds
	// on one retry against the fresh token.
	_, err := c.GetAvailableAt(oldToken, store.DimensionModel, nil)
	if !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("stale read = %v, want ErrStaleSnapshot", err)
	}
	if _, err := c.GetAvailableAt(c.Token(), store.DimensionModel, nil); err != nil {
		t.Errorf("retry against fresh snapshot failed: %v", err)
	}
}

func TestCancelledInvalidationKeepsOldSnapshot(t *testing.T) {
	db := openSeededDB(t)
	c, _ := warmCache(t, db)

	oldToken := c.Token()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Invalidate(ctx); err == nil {
		t.Fatal("cancelled invalidation should report the cancellation")
	}
	if c.Token() != oldToken {
		t.Error("cancelled invalidation must leave the previous snapshot installed")
	}
	if _, err := c.GetAvailable(store.DimensionModel, nil); err != nil {
		t.Errorf("reads after cancelled invalidation failed: %v", err)
	}
}

func TestInvalidationPicksUpNewData(t *testing.T) {
	db := openSeededDB(t)
	c, _ := warmCache(t, db)
	ctx := context.Background()

	before, _ := c.GetAvailable(store.DimensionMake, nil)

	_, err := db.Exec(`
		INSERT INTO fact_registration (year, make, model, fuel_type, vehicle_type, model_year, mass_kg)
		VALUES (2022, 'TOYOTA', 'COROLLA', 'HYBRID', 'PASSENGER CAR', 2022, 1400.0)
	`)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// The cache keeps serving the old snapshot until invalidated.
	stale, _ := c.GetAvailable(store.DimensionMake, nil)
	if len(stale) != len(before) {
		t.Fatal("cache mutated without invalidation")
	}

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	after, err := c.GetAvailable(store.DimensionMake, nil)
	if err != nil {
		t.Fatalf("GetAvailable failed: %v", err)
	}
	if len(after) != len(before)+1 {
		t.Errorf("makes after invalidation = %d, want %d", len(after), len(before)+1)
	}
}
