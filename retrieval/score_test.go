package retrieval

import (
	"testing"

	"github.com/brunobiangulo/goreason/store"
)

func TestKeywordFactor(t *testing.T) {
	content := "the officer relied on probable cause and reasonable suspicion"

	t.Run("all query tokens present", func(t *testing.T) {
		got := keywordFactor(content, []string{"probable", "cause"}, nil)
		if got != 1.0 {
			t.Errorf("expected 1.0, got %v", got)
		}
	})

	t.Run("half query tokens present", func(t *testing.T) {
		got := keywordFactor(content, []string{"probable", "warrant"}, nil)
		if got != 0.5 {
			t.Errorf("expected 0.5, got %v", got)
		}
	})

	t.Run("synonym bonus capped at 1.0", func(t *testing.T) {
		got := keywordFactor(content, []string{"probable"}, []string{"reasonable", "suspicion"})
		if got != 1.0 {
			t.Errorf("expected synonym bonus to cap at 1.0, got %v", got)
		}
	})

	t.Run("empty query tokens", func(t *testing.T) {
		if got := keywordFactor(content, nil, nil); got != 0 {
			t.Errorf("expected 0 for no query tokens, got %v", got)
		}
	})
}

func TestJurisdictionFactor(t *testing.T) {
	tests := []struct {
		name         string
		jurisdiction string
		content      string
		preferred    string
		want         float64
	}{
		{"exact match", "federal", "", "federal", 1.0},
		{"mismatch", "state", "", "federal", 0.3},
		{"unknown falls back to content inference", "", "no jurisdiction markers here", "federal", 0.5},
		{"default preference is federal", "federal", "", "", 1.0},
		{"state preference exact match", "state", "", "state", 1.0},
		{"state preference bonus from wisconsin content tokens despite mismatched tag", "federal", "pursuant to Wis. Stat. 346.63", "state", 1.0},
		{"state preference infers state from content", "", "pursuant to Wis. Stat. 346.63", "state", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := jurisdictionFactor(tt.jurisdiction, tt.content, tt.preferred)
			if got != tt.want {
				t.Errorf("jurisdictionFactor(%q, %q, %q) = %v, want %v",
					tt.jurisdiction, tt.content, tt.preferred, got, tt.want)
			}
		})
	}
}

func TestLawStatusFactor(t *testing.T) {
	tests := map[string]float64{
		"current":    1.0,
		"superseded": 0.3,
		"pending":    0.7,
		"":           0.7,
		"unknown":    0.7,
	}
	for status, want := range tests {
		if got := lawStatusFactor(status); got != want {
			t.Errorf("lawStatusFactor(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestDocTypeFactor(t *testing.T) {
	tests := map[string]float64{
		"case_law": 1.0,
		"policy":   0.8,
		"training": 0.6,
		"general":  0.5,
		"":         0.5,
	}
	for docType, want := range tests {
		if got := docTypeFactor(docType); got != want {
			t.Errorf("docTypeFactor(%q) = %v, want %v", docType, got, want)
		}
	}
}

func TestClamp01(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0}, {0, 0}, {0.5, 0.5}, {1, 1}, {1.5, 1},
	}
	for _, tt := range tests {
		if got := clamp01(tt.in); got != tt.want {
			t.Errorf("clamp01(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMergeByChunkID(t *testing.T) {
	a := []store.RetrievalResult{{ChunkID: 1, Score: 0.2}}
	b := []store.RetrievalResult{{ChunkID: 1, Score: 0.9}, {ChunkID: 2, Score: 0.4}}

	merged := mergeByChunkID(a, b)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged entries, got %d", len(merged))
	}
	if merged[1].Score != 0.9 {
		t.Errorf("expected chunk 1 to keep the higher score 0.9, got %v", merged[1].Score)
	}
	if merged[2].Score != 0.4 {
		t.Errorf("expected chunk 2 score 0.4, got %v", merged[2].Score)
	}
}

// TestRetrieval_StatuteCitationRanksFirst is scenario S4: with a chunk whose
// content contains the statute citation "18 U.S.C. 2703" alongside an
// unrelated chunk, a search for that citation ranks the matching chunk first
// with a keyword factor of at least 0.5.
func TestRetrieval_StatuteCitationRanksFirst(t *testing.T) {
	candidates := map[int64]store.RetrievalResult{
		1: {ChunkID: 1, Content: "unrelated discussion of traffic stop procedure", DocumentType: "general", LawStatus: "current"},
		2: {ChunkID: 2, Content: "under 18 U.S.C. 2703, a provider may disclose records pursuant to a warrant", DocumentType: "case_law", LawStatus: "current"},
	}
	semantic := map[int64]float64{1: 0.2, 2: 0.2}
	queryTokens := []string{"18", "u.s.c.", "2703"}

	results := rescoreWeightedSum(candidates, semantic, queryTokens, nil, "federal", DefaultScoreWeights(), 10)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != 2 {
		t.Fatalf("expected the citation-bearing chunk to rank first, got chunk %d", results[0].ChunkID)
	}
	if results[0].KeywordFactor < 0.5 {
		t.Errorf("expected keyword factor >= 0.5, got %v", results[0].KeywordFactor)
	}
}

func TestRescoreWeightedSumOrderingAndTruncation(t *testing.T) {
	candidates := map[int64]store.RetrievalResult{
		1: {ChunkID: 1, Content: "probable cause warrant", DocumentType: "case_law", LawStatus: "current"},
		2: {ChunkID: 2, Content: "unrelated text", DocumentType: "general", LawStatus: "superseded"},
		3: {ChunkID: 3, Content: "probable cause search", DocumentType: "case_law", LawStatus: "current"},
	}
	semantic := map[int64]float64{1: 0.9, 2: 0.1, 3: 0.9}

	results := rescoreWeightedSum(candidates, semantic, []string{"probable", "cause"}, nil, "federal", DefaultScoreWeights(), 2)

	if len(results) != 2 {
		t.Fatalf("expected truncation to k=2, got %d results", len(results))
	}
	if results[0].Score < results[1].Score {
		t.Errorf("expected descending score order, got %v then %v", results[0].Score, results[1].Score)
	}
	// Chunks 1 and 3 tie on every factor; the documented tie-break is
	// ascending chunk id once semantic scores also tie.
	if results[0].ChunkID != 1 || results[1].ChunkID != 3 {
		t.Errorf("expected tie-break by ascending chunk id (1, 3), got (%d, %d)", results[0].ChunkID, results[1].ChunkID)
	}
}
