package chunker

import (
	"regexp"
	"sort"
	"strings"

	"github.com/brunobiangulo/goreason/catalog"
	"github.com/brunobiangulo/goreason/parser"
	"github.com/brunobiangulo/goreason/store"
)

// DocumentType identifies which chunking strategy applies to a document.
type DocumentType string

const (
	CaseLaw  DocumentType = "case_law"
	Policy   DocumentType = "policy"
	Training DocumentType = "training"
	General  DocumentType = "general"
)

// LegalConfig controls the character-bounded chunking strategies (§4.2).
// Distinct from Config, which governs the older token-budget hierarchical
// splitter still used for structural (table/definition) content.
type LegalConfig struct {
	Size    int // target chunk size in characters (default 1000)
	Overlap int // overlap in characters (default 200)
}

// DefaultLegalConfig returns the spec's documented defaults.
func DefaultLegalConfig() LegalConfig {
	return LegalConfig{Size: 1000, Overlap: 200}
}

// DetectDocumentType scores the first 4000 characters of text against the
// per-type keyword and pattern catalogs. Each keyword match scores 1, each
// pattern match scores 2. The highest non-zero score wins; ties break in
// the order case_law > policy > training; an all-zero score falls back to
// general.
func DetectDocumentType(text string) DocumentType {
	sample := text
	if len(sample) > 4000 {
		sample = sample[:4000]
	}
	lower := strings.ToLower(sample)

	order := []string{"case_law", "policy", "training"}
	scores := make(map[string]int, len(order))

	for _, t := range order {
		score := 0
		for _, kw := range catalog.DocumentTypeKeywords[t] {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		for _, pat := range catalog.DocumentTypePatterns[t] {
			score += 2 * len(pat.FindAllString(sample, -1))
		}
		scores[t] = score
	}

	best := ""
	bestScore := 0
	for _, t := range order {
		if scores[t] > bestScore {
			bestScore = scores[t]
			best = t
		}
	}
	if best == "" {
		return General
	}
	return DocumentType(best)
}

// legalChunk is the strategy-internal representation before it's lowered
// into a store.Chunk.
type legalChunk struct {
	content   string
	charStart int
	charEnd   int
	metadata  map[string]interface{}
}

// ChunkDocument runs the document-type dispatch chunking strategy (§4.2)
// over a parsed document's sections and lowers the result into store-ready
// chunks. docType may be empty, in which case it is auto-detected from the
// flattened document text.
func (c *Chunker) ChunkDocument(sections []parser.Section, docType string) []store.Chunk {
	text, headingAt := flattenSections(sections)

	dt := DocumentType(docType)
	if dt == "" {
		dt = DetectDocumentType(text)
	}

	var raw []legalChunk
	switch dt {
	case CaseLaw:
		raw = chunkCaseLaw(text, c.legalCfg)
	case Policy:
		raw = chunkPolicy(text, c.legalCfg)
	case Training:
		raw = chunkTraining(text, c.legalCfg)
	default:
		dt = General
		raw = chunkGeneral(text, c.legalCfg)
	}

	chunkClass := chunkClassForType(dt)
	chunks := make([]store.Chunk, len(raw))
	for i, rc := range raw {
		meta := marshalAnyMeta(rc.metadata)
		chunks[i] = store.Chunk{
			ID:            int64(i),
			Content:       rc.content,
			ChunkType:     chunkClass,
			Heading:       headingAt(rc.charStart),
			PositionInDoc: i,
			TokenCount:    estimateTokens(rc.content),
			Metadata:      meta,
			ContentHash:   contentHash(rc.content),
			CharStart:     rc.charStart,
			CharEnd:       rc.charEnd,
		}
	}
	return chunks
}

func chunkClassForType(dt DocumentType) string {
	switch dt {
	case CaseLaw:
		return "case_law_section"
	case Policy:
		return "policy_section"
	case Training:
		return "training_module"
	default:
		return "general"
	}
}

// flattenSections concatenates section content in document order into a
// single text, and returns a lookup function that reports the nearest
// heading in effect at a given character offset.
func flattenSections(sections []parser.Section) (string, func(offset int) string) {
	var b strings.Builder
	type headingMark struct {
		offset  int
		heading string
	}
	var marks []headingMark

	var walk func(sec parser.Section)
	walk = func(sec parser.Section) {
		if sec.Heading != "" {
			marks = append(marks, headingMark{offset: b.Len(), heading: sec.Heading})
		}
		if sec.Content != "" {
			b.WriteString(sec.Content)
			b.WriteString("\n\n")
		}
		for _, child := range sec.Children {
			walk(child)
		}
	}
	for _, sec := range sections {
		walk(sec)
	}

	text := b.String()
	sort.Slice(marks, func(i, j int) bool { return marks[i].offset < marks[j].offset })

	lookup := func(offset int) string {
		heading := ""
		for _, m := range marks {
			if m.offset > offset {
				break
			}
			heading = m.heading
		}
		return heading
	}
	return text, lookup
}

// ---------------------------------------------------------------------
// Case-law strategy
// ---------------------------------------------------------------------

// chunkCaseLaw hard-breaks on OPINION/DISSENT/CONCURRENCE markers, then
// within each section accumulates lines up to cfg.Size, breaking on the
// last sentence boundary and carrying a short trailing sentence forward as
// overlap.
func chunkCaseLaw(text string, cfg LegalConfig) []legalChunk {
	bounds := catalog.CaseLawSectionMarker.FindAllStringIndex(text, -1)
	if len(bounds) == 0 {
		return chunkByCharBudget(text, 0, cfg, extractCaseLawMetadata)
	}

	var out []legalChunk
	for i, b := range bounds {
		start := b[0]
		end := len(text)
		if i+1 < len(bounds) {
			end = bounds[i+1][0]
		}
		section := text[start:end]
		out = append(out, chunkByCharBudget(section, start, cfg, extractCaseLawMetadata)...)
	}
	return out
}

func extractCaseLawMetadata(content string) map[string]interface{} {
	meta := map[string]interface{}{}
	if m := uniqueMatches(catalog.StatuteNumber, content); len(m) > 0 {
		meta["statute_numbers"] = m
	}
	if m := uniqueMatches(catalog.CaseCitation, content); len(m) > 0 {
		meta["case_citations"] = m
	}
	if m := matchAllDates(content); len(m) > 0 {
		meta["dates"] = m
	}
	return meta
}

// ---------------------------------------------------------------------
// Policy strategy
// ---------------------------------------------------------------------

// chunkPolicy hard-breaks on "N.N Title" section headings. Oversize
// sections break on paragraph boundaries, carrying the final paragraph
// forward as overlap when it is shorter than cfg.Overlap.
func chunkPolicy(text string, cfg LegalConfig) []legalChunk {
	locs := catalog.PolicySectionHeading.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return chunkByParagraphBudget(text, 0, cfg, "", extractPolicyMetadata)
	}

	var out []legalChunk
	for i, loc := range locs {
		start := loc[0]
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sectionNum := text[loc[2]:loc[3]]
		section := text[start:end]
		out = append(out, chunkByParagraphBudget(section, start, cfg, sectionNum, extractPolicyMetadata)...)
	}
	return out
}

func extractPolicyMetadata(content string) map[string]interface{} {
	meta := map[string]interface{}{}
	if m := uniqueMatches(catalog.PolicyNumber, content); len(m) > 0 {
		meta["policy_numbers"] = m
	}
	if m := matchAllDates(content); len(m) > 0 {
		meta["dates"] = m
	}
	if m := catalog.PolicySectionHeading.FindStringSubmatch(content); len(m) >= 3 {
		meta["section_number"] = m[1]
		meta["section_title"] = strings.TrimSpace(m[2])
	}
	return meta
}

// ---------------------------------------------------------------------
// Training strategy
// ---------------------------------------------------------------------

// chunkTraining hard-breaks on Module|Topic|Chapter|Lesson N markers.
// Oversize sections break on sentence boundaries. All-caps lines feed
// key_terms; lines mentioning objective/outcome/goal feed
// learning_objectives.
func chunkTraining(text string, cfg LegalConfig) []legalChunk {
	bounds := catalog.TrainingModuleMarker.FindAllStringIndex(text, -1)
	if len(bounds) == 0 {
		return chunkBySentenceBudget(text, 0, cfg, extractTrainingMetadata)
	}

	var out []legalChunk
	for i, b := range bounds {
		start := b[0]
		end := len(text)
		if i+1 < len(bounds) {
			end = bounds[i+1][0]
		}
		section := text[start:end]
		chunks := chunkBySentenceBudget(section, start, cfg, extractTrainingMetadata)
		if len(chunks) > 0 {
			title := strings.TrimSpace(text[b[0]:b[1]])
			chunks[0].metadata["module_title"] = title
		}
		out = append(out, chunks...)
	}
	return out
}

func extractTrainingMetadata(content string) map[string]interface{} {
	meta := map[string]interface{}{}
	var keyTerms []string
	var objectives []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if catalog.AllCapsLine.MatchString(trimmed) {
			keyTerms = append(keyTerms, trimmed)
		}
		if catalog.LearningObjectiveMarker.MatchString(trimmed) {
			objectives = append(objectives, trimmed)
		}
	}
	if len(keyTerms) > 0 {
		meta["key_terms"] = keyTerms
	}
	if len(objectives) > 0 {
		meta["learning_objectives"] = objectives
	}
	return meta
}

// ---------------------------------------------------------------------
// General strategy
// ---------------------------------------------------------------------

// chunkGeneral tokenizes text into sentences and packs them until cfg.Size
// would be exceeded; overlap is the trailing two sentences if shorter than
// cfg.Overlap.
func chunkGeneral(text string, cfg LegalConfig) []legalChunk {
	sentences := sentenceSpans(text)
	if len(sentences) == 0 {
		return nil
	}

	var out []legalChunk
	start := 0
	for start < len(sentences) {
		end := start
		size := 0
		for end < len(sentences) && size+len(sentences[end].text) <= cfg.Size {
			size += len(sentences[end].text) + 1
			end++
		}
		if end == start {
			end = start + 1 // a single oversize sentence still becomes its own chunk
		}

		chunkStart := sentences[start].start
		chunkEnd := sentences[end-1].end
		content := strings.TrimSpace(text[chunkStart:chunkEnd])
		if content != "" {
			out = append(out, legalChunk{
				content:   content,
				charStart: chunkStart,
				charEnd:   chunkEnd,
				metadata:  map[string]interface{}{},
			})
		}

		// Overlap: back up to the trailing two sentences if shorter than cfg.Overlap.
		overlapStart := end
		overlapLen := 0
		for n := 0; n < 2 && overlapStart-1-n >= start; n++ {
			overlapLen += len(sentences[overlapStart-1-n].text)
		}
		if overlapLen > 0 && overlapLen <= cfg.Overlap && end-2 > start {
			start = end - 2
		} else {
			start = end
		}
	}
	return out
}

// ---------------------------------------------------------------------
// shared char/paragraph/sentence budget helpers
// ---------------------------------------------------------------------

// chunkByCharBudget accumulates lines up to cfg.Size characters, breaking
// on the last sentence boundary when the budget would be exceeded; if no
// sentence boundary exists, it breaks at the character limit. The final
// sentence is carried forward as overlap when shorter than cfg.Overlap.
func chunkByCharBudget(text string, baseOffset int, cfg LegalConfig, extractMeta func(string) map[string]interface{}) []legalChunk {
	text = strings.TrimLeft(text, "\n")
	if len(text) <= cfg.Size {
		content := strings.TrimSpace(text)
		if content == "" {
			return nil
		}
		return []legalChunk{{
			content:   content,
			charStart: baseOffset,
			charEnd:   baseOffset + len(text),
			metadata:  extractMeta(content),
		}}
	}

	var out []legalChunk
	pos := 0
	overlapCarry := ""

	for pos < len(text) {
		limit := pos + cfg.Size
		if limit >= len(text) {
			chunkText := overlapCarry + text[pos:]
			content := strings.TrimSpace(chunkText)
			if content != "" {
				out = append(out, legalChunk{
					content:   content,
					charStart: baseOffset + pos,
					charEnd:   baseOffset + len(text),
					metadata:  extractMeta(content),
				})
			}
			break
		}

		window := text[pos:limit]
		breakAt := lastSentenceBoundary(window)
		if breakAt <= 0 {
			breakAt = len(window)
		}

		chunkText := overlapCarry + window[:breakAt]
		content := strings.TrimSpace(chunkText)
		if content != "" {
			out = append(out, legalChunk{
				content:   content,
				charStart: baseOffset + pos,
				charEnd:   baseOffset + pos + breakAt,
				metadata:  extractMeta(content),
			})
		}

		overlapCarry = ""
		if spans := sentenceSpans(window[:breakAt]); len(spans) > 0 {
			if last := spans[len(spans)-1].text; len(last) < cfg.Overlap {
				overlapCarry = last + " "
			}
		}
		pos += breakAt
	}
	return out
}

// chunkByParagraphBudget is chunkByCharBudget's paragraph-boundary analog
// for the policy strategy.
func chunkByParagraphBudget(text string, baseOffset int, cfg LegalConfig, sectionNum string, extractMeta func(string) map[string]interface{}) []legalChunk {
	if len(text) <= cfg.Size {
		content := strings.TrimSpace(text)
		if content == "" {
			return nil
		}
		meta := extractMeta(content)
		if sectionNum != "" {
			meta["section_number"] = sectionNum
		}
		return []legalChunk{{content: content, charStart: baseOffset, charEnd: baseOffset + len(text), metadata: meta}}
	}

	paras := strings.Split(text, "\n\n")
	var out []legalChunk
	var current strings.Builder
	chunkStart := baseOffset
	offset := baseOffset
	overlapCarry := ""

	flush := func(endOffset int) {
		content := strings.TrimSpace(overlapCarry + current.String())
		if content != "" {
			meta := extractMeta(content)
			if sectionNum != "" {
				meta["section_number"] = sectionNum
			}
			out = append(out, legalChunk{content: content, charStart: chunkStart, charEnd: endOffset, metadata: meta})
		}
		last := current.String()
		if idx := strings.LastIndex(last, "\n\n"); idx >= 0 {
			last = last[idx+2:]
		}
		overlapCarry = ""
		if len(last) < cfg.Overlap {
			overlapCarry = last + "\n\n"
		}
		current.Reset()
	}

	for _, p := range paras {
		if current.Len() > 0 && current.Len()+len(p) > cfg.Size {
			flush(offset)
			chunkStart = offset
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
		offset += len(p) + 2
	}
	if current.Len() > 0 {
		flush(offset)
	}
	return out
}

// chunkBySentenceBudget is the sentence-boundary analog used by the
// training strategy.
func chunkBySentenceBudget(text string, baseOffset int, cfg LegalConfig, extractMeta func(string) map[string]interface{}) []legalChunk {
	sentences := sentenceSpans(text)
	var out []legalChunk
	var current strings.Builder
	chunkStart := baseOffset

	flush := func(endOffset int) {
		content := strings.TrimSpace(current.String())
		if content != "" {
			out = append(out, legalChunk{content: content, charStart: chunkStart, charEnd: endOffset, metadata: extractMeta(content)})
		}
		current.Reset()
	}

	lastEnd := baseOffset
	for _, s := range sentences {
		if current.Len() > 0 && current.Len()+len(s.text) > cfg.Size {
			flush(baseOffset + lastEnd)
			chunkStart = baseOffset + s.start
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(s.text)
		lastEnd = s.end
	}
	if current.Len() > 0 {
		flush(baseOffset + lastEnd)
	}
	return out
}

type sentenceSpan struct {
	text  string
	start int
	end   int
}

// sentenceSpans splits text into sentences using catalog.SentenceBoundary,
// recording byte offsets for each sentence within text.
func sentenceSpans(text string) []sentenceSpan {
	var spans []sentenceSpan
	locs := catalog.SentenceBoundary.FindAllStringIndex(text, -1)
	pos := 0
	for _, loc := range locs {
		end := loc[1]
		s := strings.TrimSpace(text[pos:end])
		if s != "" {
			spans = append(spans, sentenceSpan{text: s, start: pos, end: end})
		}
		pos = end
	}
	if pos < len(text) {
		s := strings.TrimSpace(text[pos:])
		if s != "" {
			spans = append(spans, sentenceSpan{text: s, start: pos, end: len(text)})
		}
	}
	return spans
}

// lastSentenceBoundary returns the byte offset just past the last sentence
// boundary within window, or -1 if none exists.
func lastSentenceBoundary(window string) int {
	locs := catalog.SentenceBoundary.FindAllStringIndex(window, -1)
	if len(locs) == 0 {
		return -1
	}
	return locs[len(locs)-1][1]
}

// trailingOverlap returns the trailing substring of text bounded by
// maxChars. When the tail contains a ". ", it starts just after the first
// one; otherwise the raw tail is returned and may begin mid-sentence.
func trailingOverlap(text string, maxChars int) string {
	if len(text) <= maxChars {
		return strings.TrimSpace(text)
	}
	tail := text[len(text)-maxChars:]
	if idx := strings.Index(tail, ". "); idx >= 0 {
		tail = tail[idx+2:]
	}
	return strings.TrimSpace(tail)
}

// uniqueMatches returns the distinct non-empty matches of re against
// content, in first-seen order.
func uniqueMatches(re *regexp.Regexp, content string) []string {
	matches := re.FindAllString(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// matchAllDates returns the distinct date-like substrings of content across
// every pattern in catalog.Dates, in first-seen order.
func matchAllDates(content string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, re := range catalog.Dates {
		for _, m := range re.FindAllString(content, -1) {
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
