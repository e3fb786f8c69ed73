package graph

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractEntitiesCitationsAndDates(t *testing.T) {
	text := "See Wis. Stat. 939.05, decided January 2, 2024, citing Smith v. Jones, 410 U.S. 113."
	bag := ExtractEntities(text)

	if len(bag.Citations) == 0 {
		t.Error("expected at least one citation extracted")
	}
	if len(bag.Dates) == 0 {
		t.Error("expected at least one date extracted")
	}
}

func TestExtractEntitiesKeywords(t *testing.T) {
	bag := ExtractEntities("the officer relied on probable cause before the search")
	found := false
	for _, kw := range bag.Keywords {
		if kw == "probable cause" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected \"probable cause\" keyword, got %v", bag.Keywords)
	}
}

func TestExtractEntitiesDocumentTypeKeywords(t *testing.T) {
	bag := ExtractEntities("the dissent argued the appellant's holding was wrong")
	found := false
	for _, kw := range bag.Keywords {
		if kw == "dissent" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected document-type keyword \"dissent\" picked up, got %v", bag.Keywords)
	}
}

func TestExtractEntitiesLocations(t *testing.T) {
	bag := ExtractEntities("filed at the county courthouse pursuant to Wis. Stat. 346.63")
	want := map[string]bool{"county": false, "courthouse": false}
	for _, loc := range bag.Locations {
		if _, ok := want[loc]; ok {
			want[loc] = true
		}
	}
	for loc, ok := range want {
		if !ok {
			t.Errorf("expected location token %q extracted, got %v", loc, bag.Locations)
		}
	}
}

func TestExtractEntitiesNames(t *testing.T) {
	bag := ExtractEntities("Officer John Smith responded to the call with Detective Jane Roe.")
	if len(bag.Names) == 0 {
		t.Errorf("expected capitalized-phrase names extracted, got none")
	}
}

func TestExtractEntitiesDedup(t *testing.T) {
	bag := ExtractEntities("probable cause, probable cause, and more probable cause")
	count := 0
	for _, kw := range bag.Keywords {
		if kw == "probable cause" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected \"probable cause\" deduped to a single entry, got %d", count)
	}
}

func TestSimilarityWeightedJaccard(t *testing.T) {
	a := EntityBag{Keywords: []string{"probable cause", "arrest"}, Citations: []string{"939.05"}}
	b := EntityBag{Keywords: []string{"probable cause"}, Citations: []string{"939.05"}}

	score, common := Similarity(a, b)
	// keywords: shared 1 / max(2,1) = 0.5 * 0.40 = 0.20
	// citations: shared 1 / max(1,1) = 1.0 * 0.20 = 0.20
	want := 0.40
	if diff := score - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected similarity %v, got %v", want, score)
	}
	if len(common["keywords"]) != 1 || common["keywords"][0] != "probable cause" {
		t.Errorf("expected shared keyword \"probable cause\", got %v", common["keywords"])
	}
	if len(common["citations"]) != 1 {
		t.Errorf("expected shared citation, got %v", common["citations"])
	}
}

func TestSimilarityEmptyCategorySkipped(t *testing.T) {
	a := EntityBag{Keywords: []string{"arrest"}}
	b := EntityBag{Citations: []string{"939.05"}}

	score, common := Similarity(a, b)
	if score != 0 {
		t.Errorf("expected zero similarity when no category overlaps, got %v", score)
	}
	if len(common) != 0 {
		t.Errorf("expected no common entities, got %v", common)
	}
}

func TestSimilarityDateProximity(t *testing.T) {
	a := EntityBag{Dates: []string{"2024-01-02"}}
	b := EntityBag{Dates: []string{"2024-01-10"}}

	score, common := Similarity(a, b)
	if score <= 0 {
		t.Errorf("expected a positive date-proximity contribution, got %v", score)
	}
	if len(common["dates"]) != 2 {
		t.Errorf("expected both dates recorded as shared, got %v", common["dates"])
	}
}

func TestSimilarityDatesBeyondWindowNotShared(t *testing.T) {
	a := EntityBag{Dates: []string{"2024-01-02"}}
	b := EntityBag{Dates: []string{"2024-06-01"}}

	score, common := Similarity(a, b)
	if score != 0 {
		t.Errorf("expected no date credit beyond the 30-day window, got %v", score)
	}
	if len(common["dates"]) != 0 {
		t.Errorf("expected no shared dates beyond the window, got %v", common["dates"])
	}
}

func TestCrossRefGraphRecordEdgeAndNeighbors(t *testing.T) {
	g := NewCrossRefGraph(filepath.Join(t.TempDir(), "graph.json"))

	g.recordEdge(1, 2, EdgeDetail{Similarity: 0.5, CommonEntities: map[string][]string{"keywords": {"arrest"}}})

	neighbors := g.Neighbors(1)
	detail, ok := neighbors[2]
	if !ok {
		t.Fatal("expected document 1 to have document 2 as a neighbor")
	}
	if detail.Similarity != 0.5 {
		t.Errorf("expected similarity 0.5, got %v", detail.Similarity)
	}

	reverse := g.Neighbors(2)
	if _, ok := reverse[1]; !ok {
		t.Error("expected the edge to be recorded bidirectionally")
	}
}

func TestCrossRefGraphSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	g := NewCrossRefGraph(path)
	g.recordEdge(10, 20, EdgeDetail{Similarity: 0.7, CommonEntities: map[string][]string{"citations": {"939.05"}}, Timestamp: "2024-01-02T00:00:00Z"})

	if err := g.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadCrossRefGraph(path)
	if err != nil {
		t.Fatalf("LoadCrossRefGraph failed: %v", err)
	}

	neighbors := loaded.Neighbors(10)
	detail, ok := neighbors[20]
	if !ok {
		t.Fatal("expected document 10 to have document 20 as a neighbor after reload")
	}
	if detail.Similarity != 0.7 {
		t.Errorf("expected similarity 0.7 after reload, got %v", detail.Similarity)
	}
}

func TestExplainRelevanceNamesReasons(t *testing.T) {
	common := map[string][]string{"keywords": {"probable cause"}, "citations": {"939.05"}}
	got := explainRelevance(common)
	if !strings.Contains(got, "Same legal topics: probable cause") {
		t.Errorf("expected keyword reason in explanation, got %q", got)
	}
	if !strings.Contains(got, "Same legal citations: 939.05") {
		t.Errorf("expected citation reason in explanation, got %q", got)
	}
}

func TestExplainRelevanceFallsBackToSemanticSimilarity(t *testing.T) {
	if got := explainRelevance(nil); got != "Semantic similarity" {
		t.Errorf("expected fallback reason for no shared entities, got %q", got)
	}
}

func TestCrossRefGraphRelationshipMapRespectsDepthAndCycles(t *testing.T) {
	g := NewCrossRefGraph(filepath.Join(t.TempDir(), "graph.json"))
	g.recordEdge(1, 2, EdgeDetail{Similarity: 0.5})
	g.recordEdge(2, 3, EdgeDetail{Similarity: 0.4})
	g.recordEdge(3, 1, EdgeDetail{Similarity: 0.3}) // cycle back to root

	mapAtDepth1 := g.RelationshipMap(1, 1)
	// Edges are undirected, so the 3-1 edge makes 3 a direct neighbour of 1.
	if len(mapAtDepth1.Connections) != 2 {
		t.Fatalf("expected 2 direct connections at depth 1, got %d", len(mapAtDepth1.Connections))
	}
	node2, ok := mapAtDepth1.Connections[2]
	if !ok {
		t.Fatal("expected document 2 as a direct connection")
	}
	if len(node2.Connections) != 0 {
		t.Errorf("expected no further expansion at depth 1, got %v", node2.Connections)
	}

	mapAtDepth2 := g.RelationshipMap(1, 2)
	node2Depth2, ok := mapAtDepth2.Connections[2]
	if !ok {
		t.Fatal("expected document 2 as a direct connection at depth 2")
	}
	if _, back := node2Depth2.Connections[1]; back {
		t.Error("expected the cycle back to the root to be excluded from the map")
	}
	if _, ok := node2Depth2.Connections[3]; !ok {
		t.Error("expected document 3 reached through document 2 at depth 2")
	}
}

func TestCrossRefGraphAnalyzePatterns(t *testing.T) {
	g := NewCrossRefGraph(filepath.Join(t.TempDir(), "graph.json"))
	g.recordEdge(1, 2, EdgeDetail{Similarity: 0.5, CommonEntities: map[string][]string{
		"keywords": {"probable cause"}, "locations": {"county"},
	}})
	g.recordEdge(1, 3, EdgeDetail{Similarity: 0.4, CommonEntities: map[string][]string{
		"keywords": {"probable cause"},
	}})

	report := g.AnalyzePatterns()

	if len(report.MostConnectedDocuments) == 0 || report.MostConnectedDocuments[0].DocumentID != 1 {
		t.Fatalf("expected document 1 to be the most connected, got %+v", report.MostConnectedDocuments)
	}
	if report.MostConnectedDocuments[0].Count != 2 {
		t.Errorf("expected document 1 to have 2 connections, got %d", report.MostConnectedDocuments[0].Count)
	}
	if report.CommonKeywords["probable cause"] != 2 {
		t.Errorf("expected \"probable cause\" counted once per edge (2), got %d", report.CommonKeywords["probable cause"])
	}
	if report.CommonLocations["county"] != 1 {
		t.Errorf("expected \"county\" counted once, got %d", report.CommonLocations["county"])
	}
}

func TestLoadCrossRefGraphMissingFileReturnsEmpty(t *testing.T) {
	g, err := LoadCrossRefGraph(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("expected no error for a missing graph file, got %v", err)
	}
	if len(g.Neighbors(1)) != 0 {
		t.Error("expected an empty graph for a missing file")
	}
}
