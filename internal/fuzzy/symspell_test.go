package fuzzy

import (
	"testing"
)

// Dictionary of canonical make/model terms with curated-row frequencies
func buildTestDictionary() *SymSpell {
	entries := []struct {
		term string
		freq int64
	}{
		{"VOLVO", 5000},
		{"VOLKSWAGEN", 4500},
		{"TOYOTA", 6000},
		{"HONDA", 4000},
		{"MERCEDES-BENZ", 3000},
		{"MITSUBISHI", 2000},
		{"CIVIC", 3500},
		{"COROLLA", 4200},
		{"XC60", 1500},
		{"OUTLANDER", 900},
		{"TRANSIT", 2500},
		{"SPRINTER", 1200},
	}

	config := &Config{
		MaxEditDistance: 2,
		MinTermLength:   3,
	}

	sp := New(config)
	for _, e := range entries {
		sp.AddTerm(e.term, e.freq)
	}
	return sp
}

func TestSymSpellLookup(t *testing.T) {
	sp := buildTestDictionary()

	tests := []struct {
		name         string
		input        string
		wantTerm     string
		wantDistance int
	}{
		{
			name:         "exact match make",
			input:        "VOLVO",
			wantTerm:     "VOLVO",
			wantDistance: 0,
		},
		{
			name:         "digit for letter typo",
			input:        "VOLV0",
			wantTerm:     "VOLVO",
			wantDistance: 1,
		},
		{
			name:         "truncated model",
			input:        "COROLL",
			wantTerm:     "COROLLA",
			wantDistance: 1,
		},
		{
			name:         "transposition",
			input:        "CVIIC",
			wantTerm:     "CIVIC",
			wantDistance: 1,
		},
		{
			name:         "extra letter",
			input:        "TOYYOTA",
			wantTerm:     "TOYOTA",
			wantDistance: 1,
		},
		{
			name:         "two errors",
			input:        "MISTUBISH",
			wantTerm:     "MITSUBISHI",
			wantDistance: 2,
		},
		{
			name:         "lowercase input normalized",
			input:        "honda",
			wantTerm:     "HONDA",
			wantDistance: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suggestions := sp.Lookup(tt.input, 2)

			if len(suggestions) == 0 {
				t.Errorf("Lookup(%q) returned no suggestions", tt.input)
				return
			}

			best := suggestions[0]
			if best.Term != tt.wantTerm {
				t.Errorf("Lookup(%q) = %q, want %q", tt.input, best.Term, tt.wantTerm)
			}
			if best.Distance != tt.wantDistance {
				t.Errorf("Lookup(%q) distance = %d, want %d", tt.input, best.Distance, tt.wantDistance)
			}
		})
	}
}

func TestSymSpellNoMatch(t *testing.T) {
	sp := buildTestDictionary()

	tests := []struct {
		name  string
		input string
	}{
		{name: "completely different word", input: "ZZZZZZZZ"},
		{name: "too many errors", input: "VLKWGN"},
		{name: "empty input", input: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sp.Lookup(tt.input, 2); len(got) != 0 {
				t.Errorf("Lookup(%q) = %v, want no suggestions", tt.input, got)
			}
		})
	}
}

func TestSymSpellFrequencyTieBreak(t *testing.T) {
	sp := New(&Config{MaxEditDistance: 2, MinTermLength: 3})
	sp.AddTerm("PASSAT", 100)
	sp.AddTerm("PASSAX", 5000)

	// Both are distance 1 from PASSAZ; the higher-frequency term wins.
	best := sp.LookupBest("PASSAZ", 2)
	if best == nil {
		t.Fatal("LookupBest returned nil")
	}
	if best.Term != "PASSAX" {
		t.Errorf("LookupBest = %q, want PASSAX (higher frequency)", best.Term)
	}
}

func TestSymSpellMaxDistanceCap(t *testing.T) {
	sp := buildTestDictionary()

	// Requesting distance 5 is capped at the configured maximum of 2.
	for _, s := range sp.Lookup("VLVO", 5) {
		if s.Distance > 2 {
			t.Errorf("suggestion %q has distance %d beyond configured max 2", s.Term, s.Distance)
		}
	}
}

func TestSymSpellShortTermsNotIndexed(t *testing.T) {
	sp := New(&Config{MaxEditDistance: 2, MinTermLength: 3})
	sp.AddTerm("X5", 1000)

	if sp.Contains("X5") {
		t.Error("term below MinTermLength should not be indexed")
	}
}
