package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/goreason/catalog"
	"github.com/brunobiangulo/goreason/llm"
	"github.com/brunobiangulo/goreason/store"
)

// similarityWeights are the per-category weights of the weighted
// Jaccard-like document similarity metric (spec.md §4.9).
var similarityWeights = map[string]float64{
	"keywords":  0.40,
	"citations": 0.20,
	"locations": 0.20,
	"dates":     0.15,
	"names":     0.10,
}

// ingestThreshold and suggestThreshold are the two acceptance thresholds
// named in spec.md §4.9: pairs scoring at or above ingestThreshold are
// recorded in the persisted graph; free-text query suggestions use the
// lower suggestThreshold.
const (
	ingestThreshold  = 0.3
	suggestThreshold = 0.2
)

// legalKeywordVocabulary is the fixed legal-term vocabulary that seeds the
// "keywords" entity category, on top of the teacher's document-type
// keyword lists in catalog.DocumentTypeKeywords.
var legalKeywordVocabulary = []string{
	"probable cause", "reasonable suspicion", "search warrant", "due process",
	"use of force", "arrest", "custody", "miranda", "exigent circumstances",
	"consent search", "chain of custody", "evidence", "suppression",
	"qualified immunity", "excessive force", "detention", "seizure",
}

// locationVocabulary backs the "locations" entity category: common
// jurisdiction/place tokens already catalogued for jurisdiction inference,
// plus a short list of generic venue words.
var locationVocabulary = append(append([]string{
	"precinct", "district", "county", "municipal", "courthouse",
}, catalog.JurisdictionWisconsinTokens...), catalog.JurisdictionFederalTokens...)

// EntityBag is a document's extracted cross-reference entities, grouped
// into the five categories spec.md §4.9 names.
type EntityBag struct {
	Locations []string `json:"locations"`
	Citations []string `json:"citations"`
	Dates     []string `json:"dates"`
	Names     []string `json:"names"`
	Keywords  []string `json:"keywords"`
}

// ExtractEntities builds a document's EntityBag from its full text using
// regex catalogs plus the fixed legal-term vocabulary (spec.md §4.9).
// Names draws on the teacher's LLM-free heuristic for proper-noun-like
// capitalized phrases, since no LLM call is available at this extraction
// point (it runs synchronously during ingestion and for free-text
// suggestion queries).
func ExtractEntities(text string) EntityBag {
	lower := strings.ToLower(text)

	var bag EntityBag
	bag.Citations = dedupStrings(append(
		catalog.StatuteNumber.FindAllString(text, -1),
		catalog.CaseCitation.FindAllString(text, -1)...,
	))

	var dates []string
	for _, re := range catalog.Dates {
		dates = append(dates, re.FindAllString(text, -1)...)
	}
	bag.Dates = dedupStrings(dates)

	for _, loc := range locationVocabulary {
		if loc == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(loc)) {
			bag.Locations = append(bag.Locations, loc)
		}
	}
	bag.Locations = dedupStrings(bag.Locations)

	for _, kw := range legalKeywordVocabulary {
		if strings.Contains(lower, kw) {
			bag.Keywords = append(bag.Keywords, kw)
		}
	}
	for _, keywords := range catalog.DocumentTypeKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				bag.Keywords = append(bag.Keywords, kw)
			}
		}
	}
	bag.Keywords = dedupStrings(bag.Keywords)

	bag.Names = dedupStrings(capitalizedPhrases(text))

	return bag
}

// capitalizedPhrases extracts runs of two or more consecutive
// capitalized words as a cheap proper-noun heuristic, excluding matches
// already captured as case citations.
func capitalizedPhrases(text string) []string {
	words := strings.Fields(text)
	var names []string
	var run []string
	flush := func() {
		if len(run) >= 2 {
			names = append(names, strings.Join(run, " "))
		}
		run = nil
	}
	for _, w := range words {
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return r == ',' || r == '.' || r == ';' || r == ':' || r == '(' || r == ')'
		})
		if trimmed == "" {
			flush()
			continue
		}
		first := rune(trimmed[0])
		if first >= 'A' && first <= 'Z' && trimmed != strings.ToUpper(trimmed) {
			run = append(run, trimmed)
		} else {
			flush()
		}
	}
	flush()
	return names
}

func dedupStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, it := range items {
		key := strings.ToLower(strings.TrimSpace(it))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}

// EdgeDetail is the shared-entity breakdown recorded for one graph edge.
type EdgeDetail struct {
	Similarity     float64             `json:"similarity"`
	CommonEntities map[string][]string `json:"common_entities"`
	Timestamp      string              `json:"timestamp"`
}

// CrossRefGraph is the undirected weighted graph over document ids
// described in spec.md's Data Model: "Cross-Reference Graph... persisted
// as a single document between runs". Guarded by a mutex per
// SPEC_FULL.md §13's resolution of the graph-concurrency Open Question.
type CrossRefGraph struct {
	mu sync.RWMutex

	// CrossReferences mirrors the persisted file's "cross_references" key:
	// document id -> set of document ids it's linked to.
	crossReferences map[int64]map[int64]struct{}
	// RelationshipGraph mirrors the persisted file's "relationship_graph"
	// key: document id -> document id -> edge detail.
	relationshipGraph map[int64]map[int64]EdgeDetail

	path string
}

// crossRefDocument is the on-disk JSON shape spec.md §6 names: two
// top-level keys, "cross_references" (id -> id-set) and
// "relationship_graph" (id -> id -> {similarity, common_entities,
// timestamp}).
type crossRefDocument struct {
	CrossReferences   map[string][]int64                  `json:"cross_references"`
	RelationshipGraph map[string]map[string]EdgeDetail     `json:"relationship_graph"`
}

// NewCrossRefGraph creates an empty in-memory graph persisted to path.
func NewCrossRefGraph(path string) *CrossRefGraph {
	return &CrossRefGraph{
		crossReferences:   make(map[int64]map[int64]struct{}),
		relationshipGraph: make(map[int64]map[int64]EdgeDetail),
		path:              path,
	}
}

// LoadCrossRefGraph reads a persisted graph from path. A missing file
// yields an empty graph rather than an error, matching the teacher's
// "try, return empty on absence" style used for optional on-disk state.
func LoadCrossRefGraph(path string) (*CrossRefGraph, error) {
	g := NewCrossRefGraph(path)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return g, nil
	}
	if err != nil {
		return nil, fmt.Errorf("goreason: read cross-reference graph: %w", err)
	}

	var doc crossRefDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("goreason: parse cross-reference graph: %w", err)
	}
	for idStr, peers := range doc.CrossReferences {
		id := parseDocID(idStr)
		set := make(map[int64]struct{}, len(peers))
		for _, p := range peers {
			set[p] = struct{}{}
		}
		g.crossReferences[id] = set
	}
	for fromStr, peers := range doc.RelationshipGraph {
		from := parseDocID(fromStr)
		edges := make(map[int64]EdgeDetail, len(peers))
		for toStr, detail := range peers {
			edges[parseDocID(toStr)] = detail
		}
		g.relationshipGraph[from] = edges
	}
	return g, nil
}

func parseDocID(s string) int64 {
	var id int64
	fmt.Sscanf(s, "%d", &id)
	return id
}

// Save persists the graph to its configured path as the two-key JSON
// document spec.md §6 names.
func (g *CrossRefGraph) Save() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	doc := crossRefDocument{
		CrossReferences:   make(map[string][]int64, len(g.crossReferences)),
		RelationshipGraph: make(map[string]map[string]EdgeDetail, len(g.relationshipGraph)),
	}
	for id, peers := range g.crossReferences {
		ids := make([]int64, 0, len(peers))
		for p := range peers {
			ids = append(ids, p)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		doc.CrossReferences[fmt.Sprintf("%d", id)] = ids
	}
	for from, edges := range g.relationshipGraph {
		m := make(map[string]EdgeDetail, len(edges))
		for to, detail := range edges {
			m[fmt.Sprintf("%d", to)] = detail
		}
		doc.RelationshipGraph[fmt.Sprintf("%d", from)] = m
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("goreason: marshal cross-reference graph: %w", err)
	}
	if err := os.WriteFile(g.path, data, 0644); err != nil {
		return fmt.Errorf("goreason: write cross-reference graph: %w", err)
	}
	return nil
}

// recordEdge links two document ids bidirectionally with the given edge
// detail, overwriting any existing entry for the pair.
func (g *CrossRefGraph) recordEdge(a, b int64, detail EdgeDetail) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.crossReferences[a] == nil {
		g.crossReferences[a] = make(map[int64]struct{})
	}
	if g.crossReferences[b] == nil {
		g.crossReferences[b] = make(map[int64]struct{})
	}
	g.crossReferences[a][b] = struct{}{}
	g.crossReferences[b][a] = struct{}{}

	if g.relationshipGraph[a] == nil {
		g.relationshipGraph[a] = make(map[int64]EdgeDetail)
	}
	if g.relationshipGraph[b] == nil {
		g.relationshipGraph[b] = make(map[int64]EdgeDetail)
	}
	g.relationshipGraph[a][b] = detail
	g.relationshipGraph[b][a] = detail
}

// Neighbors returns the document ids linked to id and their edge details.
func (g *CrossRefGraph) Neighbors(id int64) map[int64]EdgeDetail {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := g.relationshipGraph[id]
	out := make(map[int64]EdgeDetail, len(edges))
	for k, v := range edges {
		out[k] = v
	}
	return out
}

// RelationshipNode is one document's position in a relationship map: its
// id plus the edges leading to it (empty for the root) and its own
// connections, recursed up to the map's requested depth.
type RelationshipNode struct {
	DocumentID     int64                      `json:"document_id"`
	Similarity     float64                    `json:"similarity,omitempty"`
	CommonEntities map[string][]string        `json:"common_entities,omitempty"`
	Connections    map[int64]*RelationshipNode `json:"connections,omitempty"`
}

// RelationshipMap builds a depth-limited, cycle-safe traversal of the
// graph starting at rootID, mirroring the original cross-reference
// system's recursive relationship map: each node's connections expand
// until depth is exhausted or a document is revisited along that branch.
func (g *CrossRefGraph) RelationshipMap(rootID int64, depth int) *RelationshipNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[int64]struct{}{rootID: {}}
	return &RelationshipNode{
		DocumentID:  rootID,
		Connections: g.expand(rootID, depth, visited),
	}
}

func (g *CrossRefGraph) expand(id int64, remaining int, visited map[int64]struct{}) map[int64]*RelationshipNode {
	if remaining <= 0 {
		return nil
	}
	edges := g.relationshipGraph[id]
	if len(edges) == 0 {
		return nil
	}

	out := make(map[int64]*RelationshipNode)
	for peer, detail := range edges {
		if _, seen := visited[peer]; seen {
			continue
		}
		childVisited := make(map[int64]struct{}, len(visited)+1)
		for v := range visited {
			childVisited[v] = struct{}{}
		}
		childVisited[peer] = struct{}{}

		out[peer] = &RelationshipNode{
			DocumentID:     peer,
			Similarity:     detail.Similarity,
			CommonEntities: detail.CommonEntities,
			Connections:    g.expand(peer, remaining-1, childVisited),
		}
	}
	return out
}

// PatternReport summarizes cross-document patterns across the whole
// persisted graph, mirroring the original cross-reference system's
// pattern analyzer: which documents are the most connected, and which
// locations/citations/keywords recur most often across recorded edges.
type PatternReport struct {
	MostConnectedDocuments []ConnectionCount `json:"most_connected_documents"`
	CommonLocations        map[string]int    `json:"common_locations"`
	CommonCitations        map[string]int    `json:"common_citations"`
	CommonKeywords         map[string]int    `json:"common_keywords"`
}

// ConnectionCount pairs a document id with its neighbor count, used for
// PatternReport's most-connected ranking.
type ConnectionCount struct {
	DocumentID int64 `json:"document_id"`
	Count      int   `json:"count"`
}

// AnalyzePatterns aggregates the persisted graph's edges into a
// PatternReport: the 10 documents with the most recorded cross-references,
// and frequency counts of the shared locations/citations/keywords recorded
// on every edge.
func (g *CrossRefGraph) AnalyzePatterns() PatternReport {
	g.mu.RLock()
	defer g.mu.RUnlock()

	report := PatternReport{
		CommonLocations: make(map[string]int),
		CommonCitations: make(map[string]int),
		CommonKeywords:  make(map[string]int),
	}

	counts := make([]ConnectionCount, 0, len(g.crossReferences))
	for id, peers := range g.crossReferences {
		counts = append(counts, ConnectionCount{DocumentID: id, Count: len(peers)})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].DocumentID < counts[j].DocumentID
	})
	if len(counts) > 10 {
		counts = counts[:10]
	}
	report.MostConnectedDocuments = counts

	seenEdge := make(map[[2]int64]struct{})
	for from, peers := range g.relationshipGraph {
		for to, detail := range peers {
			key := [2]int64{from, to}
			if from > to {
				key = [2]int64{to, from}
			}
			if _, dup := seenEdge[key]; dup {
				continue
			}
			seenEdge[key] = struct{}{}

			for _, loc := range detail.CommonEntities["locations"] {
				report.CommonLocations[loc]++
			}
			for _, cit := range detail.CommonEntities["citations"] {
				report.CommonCitations[cit]++
			}
			for _, kw := range detail.CommonEntities["keywords"] {
				report.CommonKeywords[kw]++
			}
		}
	}

	return report
}

// Similarity computes the weighted Jaccard-like similarity between two
// entity bags per spec.md §4.9: each category contributes
// weight·|A∩B|/max(|A|,|B|) when both sides are non-empty, except dates,
// which additionally credit weight·(1-Δdays/30) for any pair of dates
// within 30 days of each other.
func Similarity(a, b EntityBag) (float64, map[string][]string) {
	common := make(map[string][]string)
	var total float64

	categories := map[string][2][]string{
		"keywords":  {a.Keywords, b.Keywords},
		"citations": {a.Citations, b.Citations},
		"locations": {a.Locations, b.Locations},
		"names":     {a.Names, b.Names},
	}
	for name, pair := range categories {
		weight := similarityWeights[name]
		shared := intersect(pair[0], pair[1])
		if len(shared) > 0 {
			common[name] = shared
		}
		if len(pair[0]) == 0 || len(pair[1]) == 0 {
			continue
		}
		denom := len(pair[0])
		if len(pair[1]) > denom {
			denom = len(pair[1])
		}
		total += weight * float64(len(shared)) / float64(denom)
	}

	dateScore, sharedDates := dateProximityScore(a.Dates, b.Dates)
	if dateScore > 0 {
		total += similarityWeights["dates"] * dateScore
	}
	if len(sharedDates) > 0 {
		common["dates"] = sharedDates
	}

	return total, common
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[strings.ToLower(v)] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, v := range b {
		key := strings.ToLower(v)
		if _, ok := set[key]; ok {
			if _, dup := seen[key]; !dup {
				out = append(out, v)
				seen[key] = struct{}{}
			}
		}
	}
	return out
}

// dateProximityScore finds the closest pair of parseable dates across the
// two sets and returns the proximity credit (1-Δdays/30, floored at 0) for
// the closest pair, along with the string forms of any dates within 30
// days of one another.
func dateProximityScore(a, b []string) (float64, []string) {
	const layout30 = 30 * 24 * time.Hour

	var best float64
	var sharedSet = make(map[string]struct{})
	for _, da := range a {
		ta, ok := parseCatalogDate(da)
		if !ok {
			continue
		}
		for _, db := range b {
			tb, ok := parseCatalogDate(db)
			if !ok {
				continue
			}
			delta := ta.Sub(tb)
			if delta < 0 {
				delta = -delta
			}
			if delta > layout30 {
				continue
			}
			credit := 1 - float64(delta)/float64(layout30)
			if credit > best {
				best = credit
			}
			sharedSet[da] = struct{}{}
			sharedSet[db] = struct{}{}
		}
	}
	var shared []string
	for d := range sharedSet {
		shared = append(shared, d)
	}
	sort.Strings(shared)
	return best, shared
}

var dateLayouts = []string{
	"January 2, 2006",
	"2006-01-02",
	"1/2/2006",
}

func parseCatalogDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Engine ties together entity extraction, similarity scoring, and the
// persisted cross-reference graph for a running instance.
type Engine struct {
	store *store.Store
	embed llm.Provider
	graph *CrossRefGraph
}

// NewEngine creates a cross-reference engine backed by s, an embedding
// provider for similarity-candidate lookups, and a graph persisted at
// graphPath.
func NewEngine(s *store.Store, embed llm.Provider, graphPath string) (*Engine, error) {
	g, err := LoadCrossRefGraph(graphPath)
	if err != nil {
		return nil, err
	}
	return &Engine{store: s, embed: embed, graph: g}, nil
}

// Graph exposes the engine's persisted cross-reference graph.
func (e *Engine) Graph() *CrossRefGraph {
	return e.graph
}

// IndexDocument extracts id's entity bag from its full text, finds
// similarity candidates by searching the vector index for related
// documents, records any pair scoring at or above ingestThreshold, and
// persists the graph best-effort: a failed write is logged, not returned
// (spec.md §4.9).
func (e *Engine) IndexDocument(ctx context.Context, id int64, text string) error {
	bag := ExtractEntities(text)

	embeddings, err := e.embed.Embed(ctx, []string{text})
	if err != nil || len(embeddings) == 0 {
		return fmt.Errorf("goreason: embed document for cross-reference: %w", err)
	}

	candidates, err := e.store.VectorSearch(ctx, embeddings[0], 20)
	if err != nil {
		return fmt.Errorf("goreason: vector search for cross-reference candidates: %w", err)
	}

	seen := map[int64]struct{}{id: {}}
	for _, c := range candidates {
		if _, dup := seen[c.DocumentID]; dup {
			continue
		}
		seen[c.DocumentID] = struct{}{}

		doc, err := e.store.GetDocument(ctx, c.DocumentID)
		if err != nil {
			slog.Warn("crossref: skipping candidate, document lookup failed",
				"document_id", c.DocumentID, "error", err)
			continue
		}
		chunks, err := e.store.GetChunksByDocument(ctx, c.DocumentID)
		if err != nil {
			slog.Warn("crossref: skipping candidate, chunk lookup failed",
				"document_id", c.DocumentID, "error", err)
			continue
		}
		var sb strings.Builder
		for _, ch := range chunks {
			sb.WriteString(ch.Content)
			sb.WriteString("\n")
		}
		candidateBag := ExtractEntities(sb.String())

		score, common := Similarity(bag, candidateBag)
		if score < ingestThreshold {
			continue
		}
		e.graph.recordEdge(id, doc.ID, EdgeDetail{
			Similarity:     score,
			CommonEntities: common,
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
		})
	}

	if err := e.graph.Save(); err != nil {
		slog.Warn("crossref: graph flush failed (non-fatal)", "path", e.graph.path, "error", err)
	}
	return nil
}

// Suggestion is one candidate document returned by Suggest, with its
// similarity score and shared-entity breakdown.
type Suggestion struct {
	DocumentID     int64               `json:"document_id"`
	Filename       string              `json:"filename"`
	Similarity     float64             `json:"similarity"`
	CommonEntities map[string][]string `json:"common_entities"`
	WhyRelevant    string              `json:"why_relevant"`
}

// explainRelevance renders a human-readable reason a candidate document
// was suggested, one clause per entity category with shared members,
// falling back to "Semantic similarity" when no category overlaps.
func explainRelevance(common map[string][]string) string {
	var reasons []string
	if locs := common["locations"]; len(locs) > 0 {
		reasons = append(reasons, "Same locations: "+strings.Join(locs, ", "))
	}
	if cites := common["citations"]; len(cites) > 0 {
		reasons = append(reasons, "Same legal citations: "+strings.Join(cites, ", "))
	}
	if kws := common["keywords"]; len(kws) > 0 {
		reasons = append(reasons, "Same legal topics: "+strings.Join(kws, ", "))
	}
	if names := common["names"]; len(names) > 0 {
		reasons = append(reasons, "Same individuals mentioned: "+strings.Join(names, ", "))
	}
	if len(reasons) == 0 {
		return "Semantic similarity"
	}
	return strings.Join(reasons, "; ")
}

// Suggest reuses the entity extractor and the same similarity metric to
// find documents related to a free-text query, using the lower
// suggestThreshold acceptance bar (spec.md §4.9).
func (e *Engine) Suggest(ctx context.Context, query string, limit int) ([]Suggestion, error) {
	queryBag := ExtractEntities(query)

	embeddings, err := e.embed.Embed(ctx, []string{query})
	if err != nil || len(embeddings) == 0 {
		return nil, fmt.Errorf("goreason: embed query for cross-reference suggestion: %w", err)
	}

	candidates, err := e.store.VectorSearch(ctx, embeddings[0], limit*4)
	if err != nil {
		return nil, fmt.Errorf("goreason: vector search for cross-reference suggestion: %w", err)
	}

	seen := make(map[int64]struct{})
	var suggestions []Suggestion
	for _, c := range candidates {
		if _, dup := seen[c.DocumentID]; dup {
			continue
		}
		seen[c.DocumentID] = struct{}{}

		chunks, err := e.store.GetChunksByDocument(ctx, c.DocumentID)
		if err != nil {
			continue
		}
		var sb strings.Builder
		for _, ch := range chunks {
			sb.WriteString(ch.Content)
			sb.WriteString("\n")
		}
		candidateBag := ExtractEntities(sb.String())

		score, common := Similarity(queryBag, candidateBag)
		if score < suggestThreshold {
			continue
		}
		doc, err := e.store.GetDocument(ctx, c.DocumentID)
		if err != nil {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			DocumentID:     doc.ID,
			Filename:       doc.Filename,
			Similarity:     score,
			CommonEntities: common,
			WhyRelevant:    explainRelevance(common),
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		return suggestions[i].Similarity > suggestions[j].Similarity
	})
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}
