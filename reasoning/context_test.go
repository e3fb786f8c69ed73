package reasoning

import (
	"strings"
	"testing"

	"github.com/brunobiangulo/goreason/store"
)

func TestCitationGraphIndexAndExpand(t *testing.T) {
	g := NewCitationGraph()

	g.Index([]string{"939.05", "940.01"})
	g.Index([]string{"940.01", "941.20"})

	discovered := g.Expand([]string{"939.05"}, 3)
	want := map[string]bool{"940.01": true, "941.20": true}
	if len(discovered) != len(want) {
		t.Fatalf("expected %d discovered citations, got %d (%v)", len(want), len(discovered), discovered)
	}
	for _, c := range discovered {
		if !want[c] {
			t.Errorf("unexpected citation discovered: %s", c)
		}
	}
}

func TestCitationGraphIndexIgnoresSingleCitationChunks(t *testing.T) {
	g := NewCitationGraph()
	g.Index([]string{"939.05"})
	if discovered := g.Expand([]string{"939.05"}, 3); len(discovered) != 0 {
		t.Errorf("expected no edges from a single-citation chunk, got %v", discovered)
	}
}

func TestCitationGraphExpandRespectsDepth(t *testing.T) {
	g := NewCitationGraph()
	g.Index([]string{"a", "b"})
	g.Index([]string{"b", "c"})
	g.Index([]string{"c", "d"})

	if got := g.Expand([]string{"a"}, 1); len(got) != 1 || got[0] != "b" {
		t.Errorf("expected depth-1 expansion to reach only b, got %v", got)
	}
	got3 := g.Expand([]string{"a"}, 3)
	if len(got3) != 3 {
		t.Errorf("expected depth-3 expansion to reach 3 nodes, got %v", got3)
	}
}

func TestAssembleContextPacksAllChunksWithinBudget(t *testing.T) {
	chunks := []store.RetrievalResult{
		{ChunkID: 1, Filename: "a.pdf", Heading: "Intro", PageNumber: 1, Content: "short chunk one"},
		{ChunkID: 2, Filename: "a.pdf", Heading: "Body", PageNumber: 2, Content: "short chunk two"},
	}

	out := AssembleContext(chunks, nil, DefaultMaxContextChars)
	if out.Truncated {
		t.Error("expected no truncation when chunks fit comfortably within the budget")
	}
	if !strings.Contains(out.Text, "short chunk one") || !strings.Contains(out.Text, "short chunk two") {
		t.Errorf("expected both chunks in assembled text, got: %s", out.Text)
	}
	if !strings.Contains(out.Text, "Source 1: a.pdf") || !strings.Contains(out.Text, "Page 2") {
		t.Errorf("expected block headers with filename/page, got: %s", out.Text)
	}
}

func TestAssembleContextTruncatesLastChunk(t *testing.T) {
	chunks := []store.RetrievalResult{
		{ChunkID: 1, Filename: "a.pdf", Content: strings.Repeat("x", 50)},
		{ChunkID: 2, Filename: "b.pdf", Content: strings.Repeat("y", 500)},
	}

	// The first block takes 76 chars, so the second chunk's body gets
	// 250-76-24-1-3 = 146 chars (at least 100) and is truncated.
	out := AssembleContext(chunks, nil, 250)
	if !out.Truncated {
		t.Error("expected truncation when the second chunk overflows the budget")
	}
	if !strings.Contains(out.Text, "…") {
		t.Errorf("expected an ellipsis marking the truncated chunk, got: %s", out.Text)
	}
}

func TestAssembleContextDropsChunkWithoutRoomToTruncate(t *testing.T) {
	chunks := []store.RetrievalResult{
		{ChunkID: 1, Filename: "a.pdf", Content: strings.Repeat("x", 50)},
		{ChunkID: 2, Filename: "b.pdf", Content: strings.Repeat("y", 500)},
	}

	// The first chunk fits in full; the budget leaves under 100 chars for
	// the second chunk after its header, so it is dropped entirely rather
	// than truncated.
	out := AssembleContext(chunks, nil, 130)
	if !strings.Contains(out.Text, strings.Repeat("x", 50)) {
		t.Fatalf("expected the first chunk to be included in full: %s", out.Text)
	}
	if strings.Contains(out.Text, "yyy") {
		t.Errorf("expected the second chunk to be dropped, not partially included: %s", out.Text)
	}
}

func TestAssembleContextAppendsRelatedCitations(t *testing.T) {
	g := NewCitationGraph()
	g.Index([]string{"939.05", "940.01"})

	chunks := []store.RetrievalResult{
		{ChunkID: 1, Filename: "a.pdf", Content: "see Wis. Stat. 939.05 for the base offense"},
	}

	out := AssembleContext(chunks, g, DefaultMaxContextChars)
	if len(out.Citations) == 0 {
		t.Fatal("expected at least one directly-found citation")
	}
	if len(out.RelatedCitations) == 0 || out.RelatedCitations[0] != "940.01" {
		t.Errorf("expected related citation 940.01 via graph expansion, got %v", out.RelatedCitations)
	}
	if !strings.Contains(out.Text, "Related Citations") {
		t.Errorf("expected a Related Citations block in assembled text, got: %s", out.Text)
	}
}

func TestExtractContentCitations(t *testing.T) {
	citations := ExtractContentCitations("The officer cited Wis. Stat. 346.63 during the stop.")
	if len(citations) == 0 {
		t.Error("expected at least one citation extracted from statute-bearing text")
	}
}
