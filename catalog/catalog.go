// Package catalog holds the regular-expression and keyword data shared by
// the chunker, the hybrid searcher, the context assembler, and the
// cross-reference engine. Colocating these patterns keeps statute/citation/
// date extraction consistent across every component that touches chunk
// text, rather than each package growing its own slightly different copy.
package catalog

import "regexp"

// StatuteNumber matches statute-style identifiers: "18 U.S.C. 2703",
// "42 U.S.C. § 1983", or bare section numbers like "12.34A".
var StatuteNumber = regexp.MustCompile(
	`(?i)\b(\d+\s+U\.?S\.?C\.?\s*§?\s*\d+[a-z]*)\b|\b(\d+\.\d+[A-Z]*)\b`,
)

// CaseCitation matches case-name citations: "Smith v. Jones" optionally
// followed by a reporter citation, e.g. "Smith v. Jones, 410 U.S. 113".
var CaseCitation = regexp.MustCompile(
	`\b([A-Z][A-Za-z.'&-]+(?:\s[A-Z][A-Za-z.'&-]+)*\sv\.\s[A-Z][A-Za-z.'&-]+(?:\s[A-Z][A-Za-z.'&-]+)*)(,\s\d+\s[A-Z][A-Za-z.]*\s?\d*\s\d+)?`,
)

// Dates matches three common legal-document date forms: "January 2, 2024",
// "2024-01-02", and "01/02/2024".
var Dates = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},\s+\d{4}\b`),
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
}

// PolicyNumber matches agency policy numbers like "GO-1.02" or "SOP 14-3".
var PolicyNumber = regexp.MustCompile(`(?i)\b(?:GO|SOP|Policy|Directive)[\s-]?\d+(?:[.-]\d+)*\b`)

// Court matches common court-name tokens.
var Court = regexp.MustCompile(`(?i)\b(?:Supreme Court|Court of Appeals|District Court|Circuit Court|Wisconsin Supreme Court)\b`)

// DocketNumber matches docket-style identifiers, e.g. "No. 21-CV-4567".
var DocketNumber = regexp.MustCompile(`(?i)\bNo\.?\s*\d{2,4}-(?:CV|CR|AP)-?\d+\b`)

// PolicySectionHeading matches a policy section heading of the form
// "1.1 Purpose" at the start of a line.
var PolicySectionHeading = regexp.MustCompile(`(?m)^(\d+\.\d+)\s+(.+)$`)

// CaseLawSectionMarker matches the hard section boundaries used in
// appellate opinions.
var CaseLawSectionMarker = regexp.MustCompile(`(?m)^(OPINION|DISSENT|CONCURRENCE)\b`)

// TrainingModuleMarker matches training-material module boundaries.
var TrainingModuleMarker = regexp.MustCompile(`(?mi)^(Module|Topic|Chapter|Lesson)\s+\d+\b.*$`)

// AllCapsLine matches a line that is entirely upper-case words (candidate
// key term line in training material).
var AllCapsLine = regexp.MustCompile(`^[A-Z][A-Z0-9 ,'/&-]{2,}$`)

// LearningObjectiveMarker matches lines that introduce a learning
// objective/outcome/goal.
var LearningObjectiveMarker = regexp.MustCompile(`(?i)\b(objective|outcome|goal)s?\b`)

// SentenceBoundary matches the end of a sentence for sentence-level
// splitting: '.', '?', or '!' followed by one or more whitespace
// characters. Punctuation at the very end of the string is not matched.
var SentenceBoundary = regexp.MustCompile(`[.?!]\s+`)

// CrossRefCategories are the cross-reference relation types recognized when
// building the citation chain (spec: "clause/section/article/schedule/
// appendix/annex").
var CrossRefCategories = []string{"clause", "section", "article", "schedule", "appendix", "annex", "ref"}

// DocumentTypeKeywords and DocumentTypePatterns back auto-detection of
// document type when the caller does not supply one. Each keyword match
// scores 1; each pattern match scores 2. Highest non-zero score wins; ties
// break in the order case_law > policy > training; all-zero falls back to
// general.
var DocumentTypeKeywords = map[string][]string{
	"case_law": {"opinion", "dissent", "concurrence", "plaintiff", "defendant", "appellant", "appellee", "court", "judge", "holding"},
	"policy":   {"policy", "directive", "procedure", "shall", "compliance", "purpose", "scope", "section", "effective date"},
	"training": {"module", "lesson", "objective", "outcome", "training", "curriculum", "instructor", "quiz"},
}

var DocumentTypePatterns = map[string][]*regexp.Regexp{
	"case_law": {CaseLawSectionMarker, CaseCitation},
	"policy":   {PolicySectionHeading, PolicyNumber},
	"training": {TrainingModuleMarker},
}

// JurisdictionWisconsinTokens and JurisdictionFederalTokens are the
// content-token sets used to infer a chunk's jurisdiction when metadata is
// absent. Wisconsin tokens take priority over federal tokens.
var JurisdictionWisconsinTokens = []string{
	"wisconsin", "wis. stat", "wis stat", "badger state", "madison, wi", "milwaukee",
}

var JurisdictionFederalTokens = []string{
	"u.s.c.", "united states code", "federal register", "code of federal regulations", "c.f.r.",
}

// LawStatusMarkers maps each law-status lexical marker token to the status
// it implies. Exposed as data per the spec's design note: the heuristic is
// purely lexical and may later be refined without touching call sites.
var LawStatusMarkers = map[string]string{
	"superseded": "superseded",
	"repealed":   "superseded",
	"amended":    "superseded",
	"replaced":   "superseded",
	"pending":    "pending",
	"proposed":   "pending",
	"draft":      "pending",
}

// UseOfForceKeywords back the Safety Evaluator's use-of-force flag.
var UseOfForceKeywords = []string{
	"use of force", "deadly force", "lethal force", "firearm discharge",
	"taser", "baton", "pepper spray", "chokehold", "restraint technique",
	"non-lethal", "less-lethal",
}
