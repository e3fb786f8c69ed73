// Package enhance implements the query enhancer: a fixed three-stage
// pipeline (abbreviation expansion, spell correction, synonym addition)
// applied to a user's question before it reaches the hybrid searcher.
package enhance

import (
	"regexp"
	"sort"
	"strings"
)

// Enhancement is the transient record of a query-enhancement pass.
type Enhancement struct {
	Original            string            `json:"original"`
	Corrected           string            `json:"corrected"`
	ExpandedAbbrevs     map[string]string `json:"expanded_abbreviations,omitempty"`
	AddedSynonyms       []string          `json:"added_synonyms,omitempty"`
	Enhanced            string            `json:"enhanced"`
}

// abbreviations is the fixed table of legal/law-enforcement abbreviation
// expansions. Loaded once at startup; never mutated.
var abbreviations = map[string]string{
	"leo":      "Law Enforcement Officer",
	"doj":      "Department of Justice",
	"4th am.":  "Fourth Amendment",
	"4th am":   "Fourth Amendment",
	"1st am.":  "First Amendment",
	"1st am":   "First Amendment",
	"sop":      "Standard Operating Procedure",
	"go":       "General Order",
	"da":       "District Attorney",
	"ag":       "Attorney General",
	"usc":      "United States Code",
	"cfr":      "Code of Federal Regulations",
	"miranda":  "Miranda warning",
	"bwc":      "body-worn camera",
	"uof":      "use of force",
}

// misspellings is the fixed table of common misspelling corrections.
var misspellings = map[string]string{
	"juristiction":   "jurisdiction",
	"proceedure":     "procedure",
	"aquitted":       "acquitted",
	"suspicius":      "suspicious",
	"occured":        "occurred",
	"seperate":       "separate",
	"miranda rigths": "miranda rights",
	"recieved":       "received",
	"detainee":       "detainee",
	"persue":         "pursue",
}

// synonyms is the fixed term→synonym-list table used for the final
// synonym-addition stage.
var synonyms = map[string][]string{
	"arrest":      {"detention", "apprehension"},
	"force":       {"coercion", "restraint"},
	"search":      {"inspection", "frisk"},
	"seizure":     {"confiscation", "impoundment"},
	"officer":     {"deputy", "trooper"},
	"warrant":     {"court order", "writ"},
	"evidence":    {"proof", "exhibit"},
	"statute":     {"law", "code"},
	"juvenile":    {"minor", "youth"},
	"custody":     {"detention", "confinement"},
}

var wordBoundary = regexp.MustCompile(`[A-Za-z0-9.']+`)

// multiWordAbbrev pairs a compiled matcher for a multi-word abbreviation
// key (e.g. "4th am.") with its expansion. replaceWholeWords only ever
// sees one token at a time, so multi-word keys need their own phrase-level
// matching pass before the single-token pass runs.
type multiWordAbbrev struct {
	re        *regexp.Regexp
	expansion string
}

// multiWordAbbrevs is built once from the multi-word entries of
// abbreviations, longest key first so "4th am." is tried before the
// shorter "4th am" it would otherwise shadow.
var multiWordAbbrevs = buildMultiWordAbbrevs()

func buildMultiWordAbbrevs() []multiWordAbbrev {
	var keys []string
	for k := range abbreviations {
		if strings.Contains(k, " ") {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	out := make([]multiWordAbbrev, 0, len(keys))
	for _, k := range keys {
		// The trailing group matches the character after the phrase (or
		// end of string) instead of relying on \b, since RE2 word
		// boundaries don't fire between two non-word runes (e.g. a
		// trailing "." immediately followed by a space).
		pattern := `(?i)\b(` + regexp.QuoteMeta(k) + `)([^A-Za-z0-9]|$)`
		out = append(out, multiWordAbbrev{re: regexp.MustCompile(pattern), expansion: abbreviations[k]})
	}
	return out
}

// Enhance runs the three fixed transforms in order: abbreviation
// expansion, spell correction, synonym addition (spec.md §4.3).
func Enhance(query string) Enhancement {
	e := Enhancement{Original: query}

	expanded, expandedMap := expandAbbreviations(query)
	e.ExpandedAbbrevs = expandedMap

	corrected := correctSpelling(expanded)
	e.Corrected = corrected

	enhanced, added := addSynonyms(corrected)
	e.AddedSynonyms = added
	e.Enhanced = enhanced

	return e
}

// expandAbbreviations replaces whole-word, case-insensitive abbreviation
// matches with their expansion, recording each substitution.
func expandAbbreviations(text string) (string, map[string]string) {
	found := map[string]string{}

	result := text
	for _, mw := range multiWordAbbrevs {
		result = mw.re.ReplaceAllStringFunc(result, func(m string) string {
			sub := mw.re.FindStringSubmatch(m)
			found[sub[1]] = mw.expansion
			return mw.expansion + sub[2]
		})
	}

	result = replaceWholeWords(result, func(token string) (string, bool) {
		key := strings.ToLower(token)
		if expansion, ok := abbreviations[key]; ok {
			found[token] = expansion
			return expansion, true
		}
		return token, false
	})
	return result, found
}

// correctSpelling replaces whole-word, case-insensitive misspelling
// matches with their correction.
func correctSpelling(text string) string {
	return replaceWholeWords(text, func(token string) (string, bool) {
		key := strings.ToLower(token)
		if correction, ok := misspellings[key]; ok {
			return correction, true
		}
		return token, false
	})
}

// addSynonyms appends up to two synonyms per matched source term, capped
// at five synonyms total across the whole query, skipping synonyms
// already present in the query. Source terms are considered in the order
// they first appear in the query (not map iteration order, which Go
// randomizes) so identical queries always produce the same Enhanced string.
func addSynonyms(text string) (string, []string) {
	lower := strings.ToLower(text)
	present := func(term string) bool {
		return wordPresent(lower, strings.ToLower(term))
	}

	var added []string
	seenTerm := make(map[string]bool, len(synonyms))
	for _, tok := range wordBoundary.FindAllString(lower, -1) {
		if len(added) >= 5 {
			break
		}
		syns, ok := synonyms[tok]
		if !ok || seenTerm[tok] {
			continue
		}
		seenTerm[tok] = true

		count := 0
		for _, syn := range syns {
			if count >= 2 || len(added) >= 5 {
				break
			}
			if present(syn) {
				continue
			}
			added = append(added, syn)
			count++
		}
	}

	if len(added) == 0 {
		return text, nil
	}
	return text + " " + strings.Join(added, " "), added
}

// replaceWholeWords tokenizes text on word boundaries and replaces each
// token with fn's result, preserving all non-word text (punctuation,
// whitespace) verbatim.
func replaceWholeWords(text string, fn func(token string) (string, bool)) string {
	var b strings.Builder
	last := 0
	for _, loc := range wordBoundary.FindAllStringIndex(text, -1) {
		b.WriteString(text[last:loc[0]])
		token := text[loc[0]:loc[1]]
		if replacement, ok := fn(token); ok {
			b.WriteString(replacement)
		} else {
			b.WriteString(token)
		}
		last = loc[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

// wordPresent reports whether term appears in lowerText (both already
// lowercased): first as a whole token, and failing that as any substring,
// so multi-word terms such as "court order" are found and a single word
// also matches inside a longer word.
func wordPresent(lowerText, term string) bool {
	for _, tok := range wordBoundary.FindAllString(lowerText, -1) {
		if tok == term {
			return true
		}
	}
	return strings.Contains(lowerText, term)
}
