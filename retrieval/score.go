package retrieval

import (
	"sort"
	"strings"

	"github.com/brunobiangulo/goreason/catalog"
	"github.com/brunobiangulo/goreason/store"
)

// ScoreWeights are the coefficients of the hybrid searcher's weighted-sum
// rescoring formula.
type ScoreWeights struct {
	Semantic     float64
	Keyword      float64
	Jurisdiction float64
	LawStatus    float64
	DocType      float64
}

// DefaultScoreWeights returns the formula's documented coefficients:
// 0.40·semantic + 0.30·keyword + 0.15·jurisdiction + 0.10·law_status + 0.05·doc_type.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Semantic:     0.40,
		Keyword:      0.30,
		Jurisdiction: 0.15,
		LawStatus:    0.10,
		DocType:      0.05,
	}
}

// mergeByChunkID unions several result sets into one, keeping the maximum
// raw score on collision and recording which methods contributed (used for
// the search trace, not the scoring formula itself).
func mergeByChunkID(resultSets ...[]store.RetrievalResult) map[int64]store.RetrievalResult {
	merged := make(map[int64]store.RetrievalResult)
	for _, set := range resultSets {
		for _, r := range set {
			existing, ok := merged[r.ChunkID]
			if !ok || r.Score > existing.Score {
				merged[r.ChunkID] = r
			}
		}
	}
	return merged
}

// rescoreWeightedSum rescores every merged candidate with the hybrid
// searcher's weighted-sum formula (spec §4.4), sorts by final score
// descending with the documented tie-break (semantic score, then chunk id),
// and truncates to k.
func rescoreWeightedSum(
	candidates map[int64]store.RetrievalResult,
	semanticScores map[int64]float64,
	queryTokens []string,
	synonymTokens []string,
	jurisdictionPref string,
	weights ScoreWeights,
	k int,
) []store.RetrievalResult {
	results := make([]store.RetrievalResult, 0, len(candidates))
	for id, r := range candidates {
		semantic := clamp01(semanticScores[id])
		keyword := keywordFactor(r.Content, queryTokens, synonymTokens)
		jurisdiction := jurisdictionFactor(r.Jurisdiction, r.Content, jurisdictionPref)
		lawStatus := lawStatusFactor(r.LawStatus)
		docType := docTypeFactor(r.DocumentType)

		r.SemanticFactor = semantic
		r.KeywordFactor = keyword
		r.JurisdictionFactor = jurisdiction
		r.LawStatusFactor = lawStatus
		r.DocTypeFactor = docType
		r.Score = weights.Semantic*semantic +
			weights.Keyword*keyword +
			weights.Jurisdiction*jurisdiction +
			weights.LawStatus*lawStatus +
			weights.DocType*docType

		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].SemanticFactor != results[j].SemanticFactor {
			return results[i].SemanticFactor > results[j].SemanticFactor
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

// keywordFactor is the fraction of query tokens appearing in the chunk
// content, plus 0.5 per enhanced-synonym token appearing, capped at 1.0.
func keywordFactor(content string, queryTokens, synonymTokens []string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	lower := strings.ToLower(content)

	matched := 0
	for _, t := range queryTokens {
		if t == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(t)) {
			matched++
		}
	}
	score := float64(matched) / float64(len(queryTokens))

	for _, syn := range synonymTokens {
		if syn == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(syn)) {
			score += 0.5
		}
	}

	return clamp01(score)
}

// jurisdictionFactor scores a chunk's jurisdiction against the preferred
// jurisdiction J: 1.0 on match, 0.5 if unknown, 0.3 otherwise, with a
// bonus to 1.0 for explicit Wisconsin content markers when J is "state"
// (a stored jurisdiction is "federal", "state", or empty for unknown; an
// empty tag is first inferred from content and scores 0.5 only if that
// also finds nothing. Wisconsin detection is a scoring heuristic on top,
// never a stored tag).
func jurisdictionFactor(jurisdiction, content, preferred string) float64 {
	if preferred == "" {
		preferred = "federal"
	}
	if jurisdiction == "" {
		jurisdiction = inferJurisdiction(content)
	}
	if jurisdiction == "" {
		return 0.5
	}
	if jurisdiction == preferred {
		return 1.0
	}
	if preferred == "state" {
		lower := strings.ToLower(content)
		for _, tok := range catalog.JurisdictionWisconsinTokens {
			if strings.Contains(lower, tok) {
				return 1.0
			}
		}
	}
	return 0.3
}

// inferJurisdiction infers jurisdiction from content tokens when a chunk's
// document carries no explicit jurisdiction tag. The Wisconsin token set
// takes priority over the federal token set, but both map onto the
// documented "state"/"federal" enum — no finer-grained tag is returned.
func inferJurisdiction(content string) string {
	lower := strings.ToLower(content)
	for _, tok := range catalog.JurisdictionWisconsinTokens {
		if strings.Contains(lower, tok) {
			return "state"
		}
	}
	for _, tok := range catalog.JurisdictionFederalTokens {
		if strings.Contains(lower, tok) {
			return "federal"
		}
	}
	return ""
}

// lawStatusFactor scores current/unspecified/superseded law status.
func lawStatusFactor(status string) float64 {
	switch status {
	case "current":
		return 1.0
	case "superseded":
		return 0.3
	case "pending":
		return 0.7
	default:
		return 0.7
	}
}

// docTypeFactor scores a chunk's document type.
func docTypeFactor(docType string) float64 {
	switch docType {
	case "case_law":
		return 1.0
	case "policy":
		return 0.8
	case "training":
		return 0.6
	default:
		return 0.5
	}
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
