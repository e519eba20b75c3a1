// Package query turns an analyst's filter selection into parameterized
// aggregate SQL over enumerated integer ids. Categorical constraints compile
// to IN predicates over id columns; raw text never appears in a predicate.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/regcanon/internal/debug"
	"github.com/regcanon/internal/enum"
	"github.com/regcanon/internal/store"
)

// Range is an inclusive numeric constraint. A nil Upper means no upper
// limit. Lower may be negative: vehicles registered before their nominal
// model year legitimately have computed age -1.
type Range struct {
	Lower *float64 `json:"lower,omitempty"`
	Upper *float64 `json:"upper,omitempty"`
}

// FilterConfiguration is the analyst's constraint bag, keyed by dimension
// or numeric field name. The core imposes no defaults beyond what the
// caller supplies.
type FilterConfiguration struct {
	// IDSets selects enumerated ids per categorical dimension.
	IDSets map[string][]uint32 `json:"id_sets,omitempty"`

	// Ranges constrains numeric fields: "age", "year", "model_year", "mass".
	Ranges map[string]Range `json:"ranges,omitempty"`

	// CuratedYearsOnly restricts rows to the curated years.
	CuratedYearsOnly bool `json:"curated_years_only,omitempty"`

	// GroupBy is the result key: a categorical dimension or "year".
	// Defaults to "year".
	GroupBy string `json:"group_by,omitempty"`

	// PercentBaseDimension is the dimension relaxed when computing the
	// percentage-of-base denominator. Required for MetricPercentOfBase.
	PercentBaseDimension string `json:"percent_base_dimension,omitempty"`
}

// MetricKind selects the aggregate computed per group.
type MetricKind int

const (
	// MetricCount is the raw row count.
	MetricCount MetricKind = iota

	// MetricPercentOfBase divides the filtered count by the count with
	// PercentBaseDimension relaxed, per group, as a percentage.
	MetricPercentOfBase

	// MetricRoadWear sums a fourth-power-law wear index from mass and axle
	// count, with a vehicle-type keyed axle fallback when axle count is
	// missing.
	MetricRoadWear
)

func (m MetricKind) String() string {
	switch m {
	case MetricCount:
		return "count"
	case MetricPercentOfBase:
		return "percent_of_base"
	case MetricRoadWear:
		return "road_wear"
	default:
		return fmt.Sprintf("MetricKind(%d)", int(m))
	}
}

// ParseMetric resolves a metric name from the API surface.
func ParseMetric(name string) (MetricKind, error) {
	switch name {
	case "", "count":
		return MetricCount, nil
	case "percent_of_base":
		return MetricPercentOfBase, nil
	case "road_wear":
		return MetricRoadWear, nil
	default:
		return 0, &InvalidFilterError{Dimension: "metric", Reason: fmt.Sprintf("unknown metric %q", name)}
	}
}

// InvalidFilterError reports a filter that cannot be executed, e.g. one
// referencing a dimension with zero enumerated values. The query aborts
// before execution so the caller can tell this apart from a computed zero.
type InvalidFilterError struct {
	Dimension string
	Reason    string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter on %s: %s", e.Dimension, e.Reason)
}

// ResultRow is one (group, value) aggregate result. Label is the group's
// enumerated text, or the year rendered as text.
type ResultRow struct {
	GroupID int64   `json:"group_id"`
	Label   string  `json:"label"`
	Value   float64 `json:"value"`
}

// ResultSet is a completed aggregate query.
type ResultSet struct {
	Metric  string      `json:"metric"`
	GroupBy string      `json:"group_by"`
	Rows    []ResultRow `json:"rows"`
}

// standardAxleKG is the reference axle load of the fourth-power wear law
// (the 8.16 tonne standard axle).
const standardAxleKG = 8160.0

// defaultAxleFallback maps vehicle-type text to the axle count assumed when
// a row's axle_count is null. Unlisted types assume 2.
var defaultAxleFallback = map[string]int{
	"HEAVY TRUCK": 3,
	"TRUCK":       3,
	"BUS":         2,
	"TRAILER":     2,
}

const fallbackAxles = 2

// rangeFields maps a numeric field name to its SQL expression. Age is
// computed from the data year and the nominal model year and can be
// negative.
var rangeFields = map[string]string{
	"age":        "(f.year - f.model_year)",
	"year":       "f.year",
	"model_year": "f.model_year",
	"mass":       "f.mass_kg",
}

// Builder constructs and runs aggregate queries.
type Builder struct {
	rows         store.RowStore
	enum         *enum.Enumerator
	curatedYears []int
	axleFallback map[string]int
	debug        bool
}

// NewBuilder creates a query builder over the row store and enumerator.
func NewBuilder(rows store.RowStore, e *enum.Enumerator, curatedYears []int) *Builder {
	return &Builder{
		rows:         rows,
		enum:         e,
		curatedYears: curatedYears,
		axleFallback: defaultAxleFallback,
	}
}

// WithDebug enables query logging.
func (b *Builder) WithDebug(enabled bool) *Builder {
	b.debug = enabled
	return b
}

// BuildAndRun validates the filter, builds the parameterized aggregate and
// executes it, returning typed results.
func (b *Builder) BuildAndRun(ctx context.Context, f FilterConfiguration, metric MetricKind) (*ResultSet, error) {
	if f.GroupBy == "" {
		f.GroupBy = "year"
	}
	if err := b.validate(f, metric); err != nil {
		return nil, err
	}

	switch metric {
	case MetricCount, MetricRoadWear:
		rows, err := b.run(ctx, f, metric, "")
		if err != nil {
			return nil, err
		}
		return b.resultSet(f, metric, rows), nil

	case MetricPercentOfBase:
		numerator, err := b.run(ctx, f, MetricCount, "")
		if err != nil {
			return nil, err
		}
		denominator, err := b.run(ctx, f, MetricCount, f.PercentBaseDimension)
		if err != nil {
			return nil, err
		}

		base := make(map[int64]float64, len(denominator))
		for _, r := range denominator {
			base[r.Key] = r.Value
		}
		out := make([]store.AggregateRow, 0, len(numerator))
		for _, r := range numerator {
			pct := 0.0
			if d := base[r.Key]; d > 0 {
				pct = r.Value / d * 100
			}
			out = append(out, store.AggregateRow{Key: r.Key, Value: pct})
		}
		return b.resultSet(f, metric, out), nil

	default:
		return nil, &InvalidFilterError{Dimension: "metric", Reason: "unsupported metric kind"}
	}
}

// validate rejects filters that reference unknown or empty dimensions
// before any SQL is built.
func (b *Builder) validate(f FilterConfiguration, metric MetricKind) error {
	checkDimension := func(dim string) error {
		if !store.IsDimension(dim) {
			return &InvalidFilterError{Dimension: dim, Reason: "unknown dimension"}
		}
		domain, ok := b.enum.Domain(dim)
		if !ok || len(domain) == 0 {
			return &InvalidFilterError{Dimension: dim, Reason: "dimension has zero enumerated values"}
		}
		return nil
	}

	for dim := range f.IDSets {
		if err := checkDimension(dim); err != nil {
			return err
		}
	}
	if f.GroupBy != "year" {
		if err := checkDimension(f.GroupBy); err != nil {
			return err
		}
	}
	for field := range f.Ranges {
		if _, ok := rangeFields[field]; !ok {
			return &InvalidFilterError{Dimension: field, Reason: "unknown numeric field"}
		}
	}
	if f.CuratedYearsOnly && len(b.curatedYears) == 0 {
		return &InvalidFilterError{Dimension: "year", Reason: "curated-years-only filter with no curated years configured"}
	}
	if metric == MetricPercentOfBase {
		if f.PercentBaseDimension == "" {
			return &InvalidFilterError{Dimension: "percent_base_dimension", Reason: "percentage-of-base requires the dimension to relax"}
		}
		if _, ok := f.IDSets[f.PercentBaseDimension]; !ok {
			return &InvalidFilterError{Dimension: f.PercentBaseDimension, Reason: "percent base dimension is not constrained by the filter"}
		}
	}
	return nil
}

func (b *Builder) run(ctx context.Context, f FilterConfiguration, metric MetricKind, relaxDimension string) ([]store.AggregateRow, error) {
	sqlText, args, err := b.buildSQL(f, metric, relaxDimension)
	if err != nil {
		return nil, err
	}
	debug.Output(b.debug, "aggregate query: %s args=%v", sqlText, args)
	return b.rows.Execute(ctx, sqlText, args...)
}

// buildSQL assembles the aggregate statement. Every user-influenced value
// travels as a $n argument; identifiers come only from the closed column
// maps above.
func (b *Builder) buildSQL(f FilterConfiguration, metric MetricKind, relaxDimension string) (string, []any, error) {
	var (
		preds []string
		args  []any
	)
	placeholder := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	// Categorical IN predicates, in declared dimension order for
	// deterministic SQL.
	for _, dim := range store.Dimensions {
		ids, ok := f.IDSets[dim]
		if !ok || len(ids) == 0 || dim == relaxDimension {
			continue
		}
		idCol, err := store.IDColumn(dim)
		if err != nil {
			return "", nil, err
		}
		marks := make([]string, len(ids))
		for i, id := range ids {
			marks[i] = placeholder(int64(id))
		}
		preds = append(preds, fmt.Sprintf("f.%s IN (%s)", idCol, strings.Join(marks, ", ")))
	}

	// Numeric ranges, inclusive on both ends; a missing upper bound means
	// unbounded.
	fields := make([]string, 0, len(f.Ranges))
	for field := range f.Ranges {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		expr := rangeFields[field]
		r := f.Ranges[field]
		if r.Lower != nil {
			preds = append(preds, fmt.Sprintf("%s >= %s", expr, placeholder(*r.Lower)))
		}
		if r.Upper != nil {
			preds = append(preds, fmt.Sprintf("%s <= %s", expr, placeholder(*r.Upper)))
		}
	}

	if f.CuratedYearsOnly {
		marks := make([]string, len(b.curatedYears))
		for i, y := range b.curatedYears {
			marks[i] = placeholder(y)
		}
		preds = append(preds, fmt.Sprintf("f.year IN (%s)", strings.Join(marks, ", ")))
	}

	groupExpr := "f.year"
	if f.GroupBy != "year" {
		idCol, err := store.IDColumn(f.GroupBy)
		if err != nil {
			return "", nil, err
		}
		groupExpr = "f." + idCol
		preds = append(preds, groupExpr+" IS NOT NULL")
	}

	var aggExpr string
	switch metric {
	case MetricCount:
		aggExpr = "COUNT(*)"
	case MetricRoadWear:
		// Fourth-power law per axle. Spelled out as repeated
		// multiplication; power() is not available on every backend.
		axleExpr := b.axleExpr(placeholder)
		load := fmt.Sprintf("((f.mass_kg / %s) / %s)", axleExpr, placeholder(standardAxleKG))
		aggExpr = fmt.Sprintf("SUM(%s * %s * %s * %s * %s)", axleExpr, load, load, load, load)
		preds = append(preds, "f.mass_kg IS NOT NULL", "f.mass_kg > 0")
	default:
		return "", nil, &InvalidFilterError{Dimension: "metric", Reason: "metric has no direct SQL form"}
	}

	where := ""
	if len(preds) > 0 {
		where = "\nWHERE " + strings.Join(preds, "\n  AND ")
	}

	sqlText := fmt.Sprintf(`SELECT %s AS grp, %s
FROM fact_registration f%s
GROUP BY %s
ORDER BY %s`, groupExpr, aggExpr, where, groupExpr, groupExpr)

	return sqlText, args, nil
}

// axleExpr yields the effective axle count: the row's axle_count, or the
// vehicle-type fallback when null.
func (b *Builder) axleExpr(placeholder func(any) string) string {
	type fb struct {
		id    uint32
		axles int
	}
	var resolved []fb
	for text, axles := range b.axleFallback {
		if id, err := b.enum.IDFor(store.DimensionVehicleType, text); err == nil {
			resolved = append(resolved, fb{id: id, axles: axles})
		}
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].id < resolved[j].id })

	if len(resolved) == 0 {
		return fmt.Sprintf("COALESCE(f.axle_count, %s)", placeholder(fallbackAxles))
	}

	var sb strings.Builder
	sb.WriteString("COALESCE(f.axle_count, CASE")
	for _, r := range resolved {
		fmt.Fprintf(&sb, " WHEN f.vehicle_type_id = %s THEN %s", placeholder(int64(r.id)), placeholder(r.axles))
	}
	fmt.Fprintf(&sb, " ELSE %s END)", placeholder(fallbackAxles))
	return sb.String()
}

func (b *Builder) resultSet(f FilterConfiguration, metric MetricKind, rows []store.AggregateRow) *ResultSet {
	out := &ResultSet{Metric: metric.String(), GroupBy: f.GroupBy, Rows: make([]ResultRow, 0, len(rows))}
	for _, r := range rows {
		label := fmt.Sprintf("%d", r.Key)
		if f.GroupBy != "year" {
			if text, err := b.enum.TextFor(f.GroupBy, uint32(r.Key)); err == nil {
				label = text
			}
		}
		out.Rows = append(out.Rows, ResultRow{GroupID: r.Key, Label: label, Value: r.Value})
	}
	return out
}
