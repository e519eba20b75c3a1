package regularize

import (
	"context"
	"strings"

	"github.com/regcanon/internal/fuzzy"
	"github.com/regcanon/internal/hierarchy"
)

// Suggestion is a ranked canonical candidate for a near-miss pair.
type Suggestion struct {
	Make     string `json:"make"`
	Model    string `json:"model"`
	Distance int    `json:"distance"`
}

// Suggester is the pluggable fuzzy-matching extension point. Implementations
// rank canonical candidates for pairs that miss the exact match; they never
// create mappings themselves, so the state machine and status derivation are
// unaffected by which strategy produced a candidate.
type Suggester interface {
	Suggest(makeText, modelText string, limit int) []Suggestion
}

// Suggestions returns fuzzy candidates for a pair, or nil when no suggester
// is installed or the pair resolves exactly.
func (e *Engine) Suggestions(ctx context.Context, p UncuratedPair, limit int) ([]Suggestion, error) {
	if e.suggester == nil {
		return nil, nil
	}
	h, err := e.hier.GetOrBuild(ctx)
	if err != nil {
		return nil, err
	}
	if h.Contains(p.MakeText, p.ModelText) {
		return nil, nil
	}
	return e.suggester.Suggest(p.MakeText, p.ModelText, limit), nil
}

// pairSeparator joins make and model into a single indexed term. "/" cannot
// appear in enumerated category text.
const pairSeparator = "/"

// SymSpellSuggester indexes the canonical (make, model) leaves as combined
// terms in a symmetric-delete dictionary, weighted by curated-row counts.
type SymSpellSuggester struct {
	sp          *fuzzy.SymSpell
	maxDistance int
}

// NewSymSpellSuggester builds the dictionary from a built hierarchy.
func NewSymSpellSuggester(h *hierarchy.Hierarchy, cfg *fuzzy.Config) *SymSpellSuggester {
	if cfg == nil {
		cfg = fuzzy.DefaultConfig()
	}
	sp := fuzzy.New(cfg)
	for _, mk := range h.Makes {
		for _, md := range mk.Models {
			sp.AddTerm(mk.Name+pairSeparator+md.Name, md.CuratedRows)
		}
	}
	return &SymSpellSuggester{sp: sp, maxDistance: cfg.MaxEditDistance}
}

// Suggest ranks canonical pairs by edit distance over the combined
// "MAKE/MODEL" term, then by curated frequency.
func (s *SymSpellSuggester) Suggest(makeText, modelText string, limit int) []Suggestion {
	found := s.sp.Lookup(makeText+pairSeparator+modelText, s.maxDistance)

	out := make([]Suggestion, 0, len(found))
	for _, f := range found {
		if limit > 0 && len(out) >= limit {
			break
		}
		sep := strings.Index(f.Term, pairSeparator)
		if sep < 0 {
			continue
		}
		out = append(out, Suggestion{
			Make:     f.Term[:sep],
			Model:    f.Term[sep+1:],
			Distance: f.Distance,
		})
	}
	return out
}
