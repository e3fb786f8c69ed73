package reasoning

import (
	"testing"

	"github.com/brunobiangulo/goreason/store"
)

func TestEvaluateSafetyNoResults(t *testing.T) {
	a := EvaluateSafety("what is probable cause", nil)
	if !a.LowConfidence {
		t.Error("expected LowConfidence with no results")
	}
	if a.Confidence != 0 {
		t.Errorf("expected zero confidence, got %v", a.Confidence)
	}
}

func TestEvaluateSafetyUseOfForceFlag(t *testing.T) {
	results := []store.RetrievalResult{
		{ChunkID: 1, Content: "officers may use a taser when resistance is active", Score: 0.9, SemanticFactor: 0.9, KeywordFactor: 0.9},
	}

	a := EvaluateSafety("when can an officer use a taser", results)
	if !a.UseOfForce {
		t.Error("expected UseOfForce flag for a taser question")
	}
}

// TestSafety_UseOfForceFlagIgnoresResultContent is scenario S5: the
// use-of-force flag is driven entirely by the question, regardless of the
// content of the admitted retrieval results — it fires even when none of
// the retrieved chunks themselves mention force.
func TestSafety_UseOfForceFlagIgnoresResultContent(t *testing.T) {
	results := []store.RetrievalResult{
		{ChunkID: 1, Content: "public records requests must be submitted in writing to the records custodian", Score: 0.9},
	}

	a := EvaluateSafety("what is the policy on use of force by officers", results)
	if !a.UseOfForce {
		t.Error("expected UseOfForce flag based on the question alone, even though no result mentions force")
	}
}

func TestEvaluateSafetyNoUseOfForceFlag(t *testing.T) {
	results := []store.RetrievalResult{
		{ChunkID: 1, Content: "records requests must be filed in writing", Score: 0.9},
	}
	a := EvaluateSafety("how do I request public records", results)
	if a.UseOfForce {
		t.Error("expected no UseOfForce flag for an unrelated question")
	}
}

func TestEvaluateSafetyJurisdictionSpecific(t *testing.T) {
	federalOnly := []store.RetrievalResult{
		{ChunkID: 1, Jurisdiction: "federal", Content: "x", Score: 0.9},
	}
	if EvaluateSafety("q", federalOnly).JurisdictionSpecific {
		t.Error("expected no jurisdiction flag when every result is federal")
	}

	mixed := []store.RetrievalResult{
		{ChunkID: 1, Jurisdiction: "federal", Content: "x", Score: 0.9},
		{ChunkID: 2, Jurisdiction: "state", Content: "y", Score: 0.9},
	}
	if !EvaluateSafety("q", mixed).JurisdictionSpecific {
		t.Error("expected jurisdiction flag when a non-federal result is present")
	}
}

func TestEvaluateSafetyPotentiallyOutdated(t *testing.T) {
	recent := []store.RetrievalResult{
		{ChunkID: 1, Content: "amended in 2024 per the latest revision", Score: 0.9},
	}
	if EvaluateSafety("q", recent).PotentiallyOutdated {
		t.Error("expected no outdated flag for a recent year")
	}

	stale := []store.RetrievalResult{
		{ChunkID: 1, Content: "this policy was adopted in 1998 and never revised", Score: 0.9},
	}
	if !EvaluateSafety("q", stale).PotentiallyOutdated {
		t.Error("expected outdated flag for a year older than the stale threshold")
	}
}

func TestEvaluateSafetyLowConfidenceFlag(t *testing.T) {
	results := []store.RetrievalResult{
		{ChunkID: 1, Content: "tangentially related text", Score: 0.1},
	}
	a := EvaluateSafety("q", results)
	if !a.LowConfidence {
		t.Errorf("expected low-confidence flag for a weak single result, got confidence %v", a.Confidence)
	}
}

func TestWordPresentWholeWordMatch(t *testing.T) {
	if wordPresent("the canine unit was deployed", "can") {
		t.Error("expected wordPresent to not match a substring inside a larger word")
	}
	if !wordPresent("the canine unit was deployed", "canine") {
		t.Error("expected wordPresent to match the whole word")
	}
	if !wordPresent("use of deadly force is restricted", "deadly force") {
		t.Error("expected wordPresent to match a multi-word phrase via substring containment")
	}
}
