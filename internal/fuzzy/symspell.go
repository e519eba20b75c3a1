// Package fuzzy implements a SymSpell-style symmetric-delete dictionary over
// canonical make/model names. It backs the regularization engine's suggester
// extension point: near-miss pairs (truncations, transpositions, single-key
// typos) get ranked canonical candidates without scanning the whole tree.
package fuzzy

import (
	"sort"
	"strings"
)

// Config holds the suggester parameters.
type Config struct {
	// MaxEditDistance is the maximum Damerau-Levenshtein distance.
	// 2 catches most registration typos without false corrections.
	MaxEditDistance int

	// MinTermLength is the minimum term length to index; short codes like
	// "GT" or "X5" are too ambiguous to correct.
	MinTermLength int
}

// DefaultConfig returns the default suggester parameters.
func DefaultConfig() *Config {
	return &Config{
		MaxEditDistance: 2,
		MinTermLength:   3,
	}
}

// Suggestion is one ranked correction candidate.
type Suggestion struct {
	// Term is the canonical term.
	Term string

	// Distance is the edit distance from the input.
	Distance int

	// Frequency is the curated-row count behind the term. Higher
	// frequency wins when distances tie.
	Frequency int64
}

// SymSpell pre-computes every deletion variant of the indexed terms within
// the max edit distance, giving O(1) candidate lookup per input variant.
type SymSpell struct {
	dictionary map[string]int64
	deletes    map[string][]string
	config     *Config
}

// New creates an empty dictionary.
func New(config *Config) *SymSpell {
	if config == nil {
		config = DefaultConfig()
	}
	return &SymSpell{
		dictionary: make(map[string]int64),
		deletes:    make(map[string][]string),
		config:     config,
	}
}

// AddTerm indexes a canonical term with its frequency, generating and
// indexing all delete variants.
func (s *SymSpell) AddTerm(term string, frequency int64) {
	term = strings.ToUpper(strings.TrimSpace(term))
	if len(term) < s.config.MinTermLength {
		return
	}

	s.dictionary[term] += frequency

	for _, del := range s.generateDeletes(term, s.config.MaxEditDistance) {
		s.deletes[del] = append(s.deletes[del], term)
	}
}

// Contains checks if a term exists exactly in the dictionary.
func (s *SymSpell) Contains(term string) bool {
	term = strings.ToUpper(strings.TrimSpace(term))
	_, ok := s.dictionary[term]
	return ok
}

// Len returns the number of indexed terms.
func (s *SymSpell) Len() int {
	return len(s.dictionary)
}

// Lookup finds correction candidates for the input term, sorted by edit
// distance ascending then frequency descending.
func (s *SymSpell) Lookup(input string, maxDistance int) []Suggestion {
	input = strings.ToUpper(strings.TrimSpace(input))
	if len(input) == 0 {
		return nil
	}

	if maxDistance > s.config.MaxEditDistance {
		maxDistance = s.config.MaxEditDistance
	}

	// Exact hit short-circuits.
	if freq, ok := s.dictionary[input]; ok {
		return []Suggestion{{Term: input, Distance: 0, Frequency: freq}}
	}

	seen := make(map[string]bool)
	var candidates []Suggestion

	inputDeletes := s.generateDeletes(input, maxDistance)
	inputDeletes = append(inputDeletes, input)

	for _, del := range inputDeletes {
		if terms, ok := s.deletes[del]; ok {
			for _, term := range terms {
				if seen[term] {
					continue
				}
				seen[term] = true

				dist := s.editDistance(input, term, maxDistance)
				if dist >= 0 && dist <= maxDistance {
					candidates = append(candidates, Suggestion{
						Term:      term,
						Distance:  dist,
						Frequency: s.dictionary[term],
					})
				}
			}
		}

		// The delete itself may be a dictionary term (input has extra
		// characters).
		if freq, ok := s.dictionary[del]; ok && !seen[del] {
			seen[del] = true
			dist := s.editDistance(input, del, maxDistance)
			if dist >= 0 && dist <= maxDistance {
				candidates = append(candidates, Suggestion{
					Term:      del,
					Distance:  dist,
					Frequency: freq,
				})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		if candidates[i].Frequency != candidates[j].Frequency {
			return candidates[i].Frequency > candidates[j].Frequency
		}
		return candidates[i].Term < candidates[j].Term
	})

	return candidates
}

// LookupBest returns the single best suggestion, or nil if none found.
func (s *SymSpell) LookupBest(input string, maxDistance int) *Suggestion {
	suggestions := s.Lookup(input, maxDistance)
	if len(suggestions) == 0 {
		return nil
	}
	return &suggestions[0]
}

func (s *SymSpell) generateDeletes(term string, maxDistance int) []string {
	if maxDistance <= 0 || len(term) == 0 {
		return nil
	}

	deletes := make(map[string]bool)
	s.generateDeletesRecursive(term, maxDistance, deletes)

	result := make([]string, 0, len(deletes))
	for del := range deletes {
		result = append(result, del)
	}
	return result
}

func (s *SymSpell) generateDeletesRecursive(term string, distance int, deletes map[string]bool) {
	if distance <= 0 || len(term) <= 1 {
		return
	}

	for i := 0; i < len(term); i++ {
		del := term[:i] + term[i+1:]
		if !deletes[del] {
			deletes[del] = true
			s.generateDeletesRecursive(del, distance-1, deletes)
		}
	}
}

// editDistance calculates the Damerau-Levenshtein distance between two
// strings. Returns -1 if the distance exceeds maxDistance (early exit).
func (s *SymSpell) editDistance(a, b string, maxDistance int) int {
	lenA, lenB := len(a), len(b)

	if abs(lenA-lenB) > maxDistance {
		return -1
	}
	if lenA == 0 {
		return lenB
	}
	if lenB == 0 {
		return lenA
	}

	// Keep a as the shorter string.
	if lenA > lenB {
		a, b = b, a
		lenA, lenB = lenB, lenA
	}

	prev := make([]int, lenA+1)
	curr := make([]int, lenA+1)
	prevPrev := make([]int, lenA+1) // transposition row

	for i := 0; i <= lenA; i++ {
		prev[i] = i
	}

	for j := 1; j <= lenB; j++ {
		curr[0] = j
		minDist := j

		for i := 1; i <= lenA; i++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}

			curr[i] = min3(
				prev[i]+1,      // deletion
				curr[i-1]+1,    // insertion
				prev[i-1]+cost, // substitution
			)

			if i > 1 && j > 1 && a[i-1] == b[j-2] && a[i-2] == b[j-1] {
				curr[i] = min2(curr[i], prevPrev[i-2]+cost)
			}

			if curr[i] < minDist {
				minDist = curr[i]
			}
		}

		if minDist > maxDistance {
			return -1
		}

		prevPrev, prev, curr = prev, curr, prevPrev
	}

	if prev[lenA] > maxDistance {
		return -1
	}
	return prev[lenA]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func min3(a, b, c int) int {
	return min2(min2(a, b), c)
}
