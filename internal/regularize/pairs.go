package regularize

import (
	"context"
	"fmt"

	"github.com/regcanon/internal/hierarchy"
	"github.com/regcanon/internal/store"
)

// UncuratedPair is a distinct (make, model) combination observed anywhere in
// the data, a candidate for regularization.
type UncuratedPair struct {
	MakeID    uint32 `json:"make_id"`
	ModelID   uint32 `json:"model_id"`
	MakeText  string `json:"make"`
	ModelText string `json:"model"`
}

// Key returns the mapping key for the pair.
func (p UncuratedPair) Key() string {
	return fmt.Sprintf("%d_%d", p.MakeID, p.ModelID)
}

// PairSource is the slice of the row store pair discovery needs.
type PairSource interface {
	DistinctPairs(ctx context.Context) ([]store.PairRow, error)
}

// FindUncuratedPairs returns the distinct pairs across all years, ordered by
// make text then model text.
//
// includeExactMatches=false removes pairs whose text exactly equals a
// canonical pair. That is a view filter for the pair list only: the
// auto-regularization sweep always scans with includeExactMatches=true,
// independent of any UI toggle, because the exact matches are precisely the
// pairs it needs to process.
func (e *Engine) FindUncuratedPairs(ctx context.Context, includeExactMatches bool) ([]UncuratedPair, error) {
	rows, err := e.pairs.DistinctPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("pair discovery failed: %w", err)
	}

	var h *hierarchy.Hierarchy
	if !includeExactMatches {
		h, err = e.hier.GetOrBuild(ctx)
		if err != nil {
			return nil, err
		}
	}

	out := make([]UncuratedPair, 0, len(rows))
	for _, r := range rows {
		if h != nil && h.Contains(r.MakeText, r.ModelText) {
			continue
		}
		out = append(out, UncuratedPair{
			MakeID:    r.MakeID,
			ModelID:   r.ModelID,
			MakeText:  r.MakeText,
			ModelText: r.ModelText,
		})
	}
	return out, nil
}
