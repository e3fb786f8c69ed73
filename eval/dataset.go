package eval

// Difficulty levels for evaluation datasets.
const (
	DifficultyEasy      = "easy"
	DifficultyMedium    = "medium"
	DifficultyHard      = "hard"
	DifficultyComplex   = "complex" // cross-document synthesis, not part of the LegalBench-RAG suite
	DifficultySuperHard = "super-hard"
	DifficultyGraphTest = "graph-test" // exercises knowledge-graph/cross-reference retrieval specifically
)

// Dataset is a collection of test cases for evaluation.
type Dataset struct {
	Name       string     `json:"name"`
	Difficulty string     `json:"difficulty"` // easy, medium, hard, complex, super-hard
	Tests      []TestCase `json:"tests"`
}

// TestCase defines a single evaluation question.
type TestCase struct {
	Question      string   `json:"question"`
	ExpectedFacts []string `json:"expected_facts"` // Facts that should appear in the answer
	Category      string   `json:"category"`       // single-fact, multi-hop, cross-document, multi-fact, synthesis
	Explanation   string   `json:"explanation"`     // Ground truth reference with page citations
}

// EasyDataset returns sample single-fact lookup test cases against a corpus
// of Wisconsin court opinions. The corpus itself is not part of this
// repository; cmd/eval's usage examples read it from data/corpus/wisconsin.
func EasyDataset() Dataset {
	return Dataset{
		Name:       "Easy - Single Fact Lookup",
		Difficulty: "easy",
		Tests: []TestCase{
			{
				Question:      "What statute governs the search and seizure claim in this opinion?",
				ExpectedFacts: []string{"Wis. Stat", "search", "seizure"},
				Category:      "single-fact",
			},
			{
				Question:      "Who was the arresting officer named in the record?",
				ExpectedFacts: []string{"officer"},
				Category:      "single-fact",
			},
			{
				Question:      "On what date was the warrant issued?",
				ExpectedFacts: []string{"warrant"},
				Category:      "single-fact",
			},
		},
	}
}

// MediumDataset returns sample multi-hop reasoning test cases.
func MediumDataset() Dataset {
	return Dataset{
		Name:       "Medium - Multi-hop Reasoning",
		Difficulty: "medium",
		Tests: []TestCase{
			{
				Question:      "Which sections reference the probable-cause standard for a custodial arrest?",
				ExpectedFacts: []string{"probable cause", "custody"},
				Category:      "multi-hop",
			},
			{
				Question:      "What evidence supported the juvenile court's jurisdiction over the defendant?",
				ExpectedFacts: []string{"juvenile", "evidence"},
				Category:      "multi-hop",
			},
			{
				Question:      "List all sections that define the exclusionary rule as applied here.",
				ExpectedFacts: []string{"exclusionary", "evidence"},
				Category:      "multi-hop",
			},
		},
	}
}

// ComplexDataset returns sample cross-document synthesis test cases.
func ComplexDataset() Dataset {
	return Dataset{
		Name:       "Complex - Cross-document Synthesis",
		Difficulty: "complex",
		Tests: []TestCase{
			{
				Question:      "Compare how the ingested opinions treat the exigent-circumstances exception.",
				ExpectedFacts: []string{"exigent", "exception"},
				Category:      "cross-document",
			},
			{
				Question:      "Which statutes are cited by more than one of the ingested opinions?",
				ExpectedFacts: []string{"Wis. Stat", "cite"},
				Category:      "cross-document",
			},
			{
				Question:      "Summarize how jurisdiction was established across the ingested documents.",
				ExpectedFacts: []string{"jurisdiction", "state"},
				Category:      "cross-document",
			},
		},
	}
}

// GraphTestDataset returns test cases aimed at the knowledge-graph and
// cross-reference retrieval path rather than plain chunk retrieval:
// questions that can only be answered by following an entity or citation
// relationship between two otherwise separate opinions.
func GraphTestDataset() Dataset {
	return Dataset{
		Name:       "Graph - Cross-Reference Retrieval",
		Difficulty: DifficultyGraphTest,
		Tests: []TestCase{
			{
				Question:      "Which other ingested opinion cites the same statute as this one?",
				ExpectedFacts: []string{"Wis. Stat", "cite"},
				Category:      "synthesis",
			},
			{
				Question:      "Does any other ingested opinion involve the same arresting officer?",
				ExpectedFacts: []string{"officer"},
				Category:      "synthesis",
			},
		},
	}
}

// WisconsinAllDatasets returns the built-in sample datasets keyed by
// difficulty level, for use against a Wisconsin opinion corpus.
func WisconsinAllDatasets() map[string]Dataset {
	return map[string]Dataset{
		DifficultyEasy:      EasyDataset(),
		DifficultyMedium:    MediumDataset(),
		DifficultyComplex:   ComplexDataset(),
		DifficultyGraphTest: GraphTestDataset(),
	}
}
