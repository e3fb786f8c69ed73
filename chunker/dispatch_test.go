package chunker

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/brunobiangulo/goreason/parser"
)

// TestIngestion_CaseLawTwoSections is scenario S1: a case-law document with
// an OPINION and a DISSENT marker chunks into exactly two case_law_section
// chunks, one per marker.
func TestIngestion_CaseLawTwoSections(t *testing.T) {
	c := New(Config{})
	sections := []parser.Section{
		{Content: "OPINION\nThe court holds that the search was lawful.\nDISSENT\nI dissent."},
	}

	chunks := c.ChunkDocument(sections, "case_law")

	if len(chunks) != 2 {
		t.Fatalf("expected exactly 2 chunks, got %d", len(chunks))
	}
	for _, ch := range chunks {
		if ch.ChunkType != "case_law_section" {
			t.Errorf("expected chunk_type case_law_section, got %q", ch.ChunkType)
		}
	}
	if !strings.Contains(chunks[0].Content, "OPINION") {
		t.Errorf("expected first chunk to contain OPINION, got: %s", chunks[0].Content)
	}
	if !strings.Contains(chunks[1].Content, "DISSENT") {
		t.Errorf("expected second chunk to contain DISSENT, got: %s", chunks[1].Content)
	}
}

// TestIngestion_PolicyTwoSections is scenario S2: a policy document with two
// numbered sections chunks into at least two chunks, each carrying its
// section_number (1.1 or 1.2) in metadata.
func TestIngestion_PolicyTwoSections(t *testing.T) {
	c := New(Config{})
	sections := []parser.Section{
		{Content: "1.1 Purpose\nThis policy establishes procedure.\n\n1.2 Scope\nApplies to all sworn officers."},
	}

	chunks := c.ChunkDocument(sections, "policy")

	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	allowed := map[string]bool{"1.1": true, "1.2": true}
	for _, ch := range chunks {
		if ch.ChunkType != "policy_section" {
			t.Errorf("expected chunk_type policy_section, got %q", ch.ChunkType)
		}
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(ch.Metadata), &meta); err != nil {
			t.Fatalf("unmarshalling chunk metadata: %v", err)
		}
		sectionNum, _ := meta["section_number"].(string)
		if !allowed[sectionNum] {
			t.Errorf("expected section_number in {1.1, 1.2}, got %q", sectionNum)
		}
	}
}

func TestDetectDocumentTypeCaseLaw(t *testing.T) {
	text := "The plaintiff appealed the holding of the lower court. The defendant argued the opinion was correct."
	if got := DetectDocumentType(text); got != CaseLaw {
		t.Errorf("expected case_law, got %v", got)
	}
}

func TestDetectDocumentTypePolicy(t *testing.T) {
	text := "1.1 Purpose\nThis directive establishes the scope and procedure for compliance with this policy, effective date January 1, 2024."
	if got := DetectDocumentType(text); got != Policy {
		t.Errorf("expected policy, got %v", got)
	}
}

func TestDetectDocumentTypeFallsBackToGeneral(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog near the river bank on a sunny afternoon."
	if got := DetectDocumentType(text); got != General {
		t.Errorf("expected general for unmarked text, got %v", got)
	}
}

func TestChunkDocumentAutoDetectsWhenTypeEmpty(t *testing.T) {
	c := New(Config{})
	sections := []parser.Section{
		{Content: "OPINION\nThe appellant's holding was affirmed by the court. The dissent disagreed with the judge."},
	}

	chunks := c.ChunkDocument(sections, "")
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk from auto-detected dispatch")
	}
	if chunks[0].ChunkType != "case_law_section" {
		t.Errorf("expected auto-detection to pick case_law, got chunk_type %q", chunks[0].ChunkType)
	}
}

func TestChunkDocumentGeneralFallback(t *testing.T) {
	c := New(Config{})
	sections := []parser.Section{
		{Content: "This is a short memo with no structural markers at all."},
	}

	chunks := c.ChunkDocument(sections, "general")
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk for short general text, got %d", len(chunks))
	}
	if chunks[0].ChunkType != "general" {
		t.Errorf("expected chunk_type general, got %q", chunks[0].ChunkType)
	}
}
