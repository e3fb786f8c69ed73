package reasoning

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/brunobiangulo/goreason/catalog"
	"github.com/brunobiangulo/goreason/store"
)

// SafetyAssessment is the Safety Evaluator's output: a single confidence
// value in [0,1] plus boolean flags (spec.md §4.6).
type SafetyAssessment struct {
	Confidence          float64 `json:"confidence"`
	UseOfForce          bool    `json:"use_of_force"`
	JurisdictionSpecific bool   `json:"jurisdiction_specific"`
	PotentiallyOutdated bool    `json:"potentially_outdated"`
	LowConfidence       bool    `json:"low_confidence"`
}

// staleYearThreshold is how many years back a result's date may be before
// it trips the potentially-outdated flag.
const staleYearThreshold = 10

// lowConfidenceThreshold is the cutoff below which the low-confidence flag
// is set.
const lowConfidenceThreshold = 0.7

var yearPattern = regexp.MustCompile(`\b(1[89]\d{2}|20\d{2})\b`)

// EvaluateSafety computes confidence and safety flags for a question and
// its admitted retrieval results (spec.md §4.6).
func EvaluateSafety(question string, results []store.RetrievalResult) SafetyAssessment {
	var a SafetyAssessment
	if len(results) == 0 {
		a.LowConfidence = true
		return a
	}

	confidence := results[0].Score

	switch {
	case len(results) >= 5:
		confidence *= 1.10
	case len(results) < 2:
		confidence *= 0.80
	}

	if avgSemanticFactor(results) > 0.8 {
		confidence *= 1.05
	}
	if avgKeywordFactor(results) > 0.8 {
		confidence *= 1.05
	}
	if citationFactor(results) < 0.5 {
		confidence *= 0.90
	}

	a.Confidence = clamp01(confidence)
	a.UseOfForce = matchesUseOfForce(question)
	a.JurisdictionSpecific = anyNonFederalJurisdiction(results)
	a.PotentiallyOutdated = anyStaleResult(results)
	a.LowConfidence = a.Confidence < lowConfidenceThreshold

	return a
}

func avgSemanticFactor(results []store.RetrievalResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.SemanticFactor
	}
	return sum / float64(len(results))
}

func avgKeywordFactor(results []store.RetrievalResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.KeywordFactor
	}
	return sum / float64(len(results))
}

// citationFactor is the fraction of admitted results whose content
// contains at least one catalog citation (statute number or case
// citation). Spec.md §4.6 names a "citation factor" without defining it
// elsewhere; resolved (Open Question) as citation coverage across the
// admitted result set, consistent with how the other averaged factors in
// this formula work.
func citationFactor(results []store.RetrievalResult) float64 {
	if len(results) == 0 {
		return 0
	}
	withCitation := 0
	for _, r := range results {
		if len(ExtractContentCitations(r.Content)) > 0 {
			withCitation++
		}
	}
	return float64(withCitation) / float64(len(results))
}

func matchesUseOfForce(question string) bool {
	lower := strings.ToLower(question)
	for _, kw := range catalog.UseOfForceKeywords {
		if wordPresent(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func wordPresent(lowerText, term string) bool {
	if strings.Contains(term, " ") {
		return strings.Contains(lowerText, term)
	}
	for _, tok := range strings.FieldsFunc(lowerText, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if tok == term {
			return true
		}
	}
	return false
}

func anyNonFederalJurisdiction(results []store.RetrievalResult) bool {
	for _, r := range results {
		j := r.Jurisdiction
		if j != "" && j != "federal" {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func anyStaleResult(results []store.RetrievalResult) bool {
	cutoff := time.Now().Year() - staleYearThreshold
	for _, r := range results {
		for _, m := range yearPattern.FindAllString(r.Content, -1) {
			year, err := strconv.Atoi(m)
			if err != nil {
				continue
			}
			if year < cutoff {
				return true
			}
		}
	}
	return false
}
