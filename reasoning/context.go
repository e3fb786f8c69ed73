package reasoning

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/brunobiangulo/goreason/catalog"
	"github.com/brunobiangulo/goreason/store"
)

// DefaultMaxContextChars is the default character budget (L_max) for a
// single assembled context (spec.md §4.5).
const DefaultMaxContextChars = 4000

// relatedCitationsBudget bounds the "Related Citations" block appended
// after chunk content, when room remains.
const relatedCitationsBudget = 5

// AssembledContext is the output of AssembleContext: the packed context
// text plus the citations it directly contains and the related citations
// discovered via the citation graph.
type AssembledContext struct {
	Text             string
	Citations        []string
	RelatedCitations []string
	Truncated        bool
}

// CitationGraph is an in-process citation adjacency map built at ingestion
// time: the first citation encountered in a chunk is treated as the parent
// of the others in that chunk and linked to each of them in both
// directions; the other citations of the chunk are not linked to each
// other. This gives the context assembler a real,
// ingestion-populated graph to expand through without requiring a full
// legal citation parser. Safe for concurrent use; writes go through a
// single guarded section, matching the graph-building pattern used
// elsewhere for read-mostly shared structures.
type CitationGraph struct {
	mu    sync.RWMutex
	edges map[string]map[string]struct{}
}

// NewCitationGraph returns an empty citation graph.
func NewCitationGraph() *CitationGraph {
	return &CitationGraph{edges: make(map[string]map[string]struct{})}
}

// Index records the citations found in a single chunk's content, linking
// the first citation to every other citation in that chunk (both
// directions, since either may be encountered as the traversal seed).
func (g *CitationGraph) Index(citations []string) {
	if len(citations) < 2 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	parent := citations[0]
	for _, child := range citations[1:] {
		g.link(parent, child)
		g.link(child, parent)
	}
}

func (g *CitationGraph) link(a, b string) {
	if g.edges[a] == nil {
		g.edges[a] = make(map[string]struct{})
	}
	g.edges[a][b] = struct{}{}
}

// Expand performs a breadth-first traversal from seeds out to depth hops,
// returning newly discovered citations (seeds themselves excluded) in
// first-discovered order.
func (g *CitationGraph) Expand(seeds []string, depth int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		visited[s] = true
	}

	frontier := append([]string{}, seeds...)
	var discovered []string
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, node := range frontier {
			for neighbor := range g.edges[node] {
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true
				discovered = append(discovered, neighbor)
				next = append(next, neighbor)
			}
		}
		frontier = next
	}
	return discovered
}

// AssembleContext packs chunks into an L_max-bounded context string in the
// order given (final-score descending, per the caller): it never reorders
// chunks and never drops identifying metadata (filename/heading/page are
// always emitted in the block header, even for a truncated final chunk).
// When the next chunk would exceed the budget, the last admitted chunk is
// truncated with an ellipsis if at least 100 characters remain; otherwise
// packing stops. A "Related Citations" block (at most 5 entries, expanded
// through graph out to depth 3) is appended if room remains.
func AssembleContext(chunks []store.RetrievalResult, graph *CitationGraph, lMax int) AssembledContext {
	if lMax <= 0 {
		lMax = DefaultMaxContextChars
	}

	var b strings.Builder
	var citations []string
	seen := make(map[string]bool)
	truncated := false

	addCitations := func(text string) {
		for _, c := range extractCatalogCitations(text) {
			if !seen[c] {
				seen[c] = true
				citations = append(citations, c)
			}
		}
	}

	for i, c := range chunks {
		header := blockHeader(i, c)
		block := header + c.Content + "\n\n"

		if b.Len()+len(block) <= lMax {
			b.WriteString(block)
			addCitations(c.Content)
			continue
		}

		remaining := lMax - b.Len() - len(header) - 1 - len("…") // trailing newline and ellipsis
		if remaining >= 100 {
			body := c.Content
			if len(body) > remaining {
				body = body[:remaining] + "…"
			}
			b.WriteString(header)
			b.WriteString(body)
			b.WriteString("\n")
			addCitations(body)
			truncated = true
		}
		break
	}

	text := b.String()

	var related []string
	if graph != nil && len(citations) > 0 {
		for _, c := range graph.Expand(citations, 3) {
			if len(related) >= relatedCitationsBudget {
				break
			}
			if !seen[c] {
				seen[c] = true
				related = append(related, c)
			}
		}
	}

	if len(related) > 0 {
		relBlock := formatRelatedCitations(related)
		if len(text)+len(relBlock) <= lMax {
			text += relBlock
		}
	}

	return AssembledContext{
		Text:             text,
		Citations:        citations,
		RelatedCitations: related,
		Truncated:        truncated,
	}
}

func blockHeader(i int, c store.RetrievalResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- Source %d: %s", i+1, c.Filename)
	if c.Heading != "" {
		fmt.Fprintf(&b, " | %s", c.Heading)
	}
	if c.PageNumber > 0 {
		fmt.Fprintf(&b, " | Page %d", c.PageNumber)
	}
	b.WriteString(" ---\n")
	return b.String()
}

func formatRelatedCitations(related []string) string {
	var b strings.Builder
	b.WriteString("--- Related Citations ---\n")
	for _, c := range related {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	return b.String()
}

// ExtractContentCitations returns the distinct statute numbers and case
// citations found in a chunk's content, using the same regex catalog as
// the chunker's metadata extraction and the cross-reference engine. Used
// by the ingestion path to populate a CitationGraph.
func ExtractContentCitations(text string) []string {
	return extractCatalogCitations(text)
}

// extractCatalogCitations returns the distinct statute numbers and case
// citations found in text, using the same regex catalog as the chunker's
// metadata extraction and the cross-reference engine.
func extractCatalogCitations(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, re := range []*regexp.Regexp{catalog.StatuteNumber, catalog.CaseCitation} {
		for _, m := range re.FindAllString(text, -1) {
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
