package reasoning

import (
	"strings"
	"testing"
)

func TestSelectTemplate(t *testing.T) {
	tests := []struct {
		name     string
		question string
		history  []HistoryTurn
		want     TemplateKind
	}{
		{"citation keyword wins regardless of history", "what statute covers this", nil, TemplateCitation},
		{"follow-up opener with history", "what about the federal version", []HistoryTurn{{Question: "q", Answer: "a"}}, TemplateFollowUp},
		{"follow-up opener without history falls back to general", "what about the federal version", nil, TemplateGeneral},
		{"plain question with no markers", "how do officers handle this", nil, TemplateGeneral},
		{"citation keyword beats follow-up opener", "also, which case is the legal basis here", []HistoryTurn{{Question: "q", Answer: "a"}}, TemplateCitation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectTemplate(tt.question, tt.history); got != tt.want {
				t.Errorf("SelectTemplate(%q) = %v, want %v", tt.question, got, tt.want)
			}
		})
	}
}

func TestAppendHistoryEvictsOldest(t *testing.T) {
	var history []HistoryTurn
	for i := 0; i < MaxHistoryTurns+3; i++ {
		history = AppendHistory(history, "q", "a")
	}
	if len(history) != MaxHistoryTurns {
		t.Fatalf("expected history capped at %d turns, got %d", MaxHistoryTurns, len(history))
	}
}

func TestRenderTemplateFillsPlaceholders(t *testing.T) {
	out := RenderTemplate(TemplateGeneral, "CTX", "METRICS", "HIST", "QUESTION?")
	for _, want := range []string{"CTX", "METRICS", "QUESTION?"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected rendered template to contain %q, got: %s", want, out)
		}
	}
}

func TestRenderTemplateUnknownKindFallsBackToGeneral(t *testing.T) {
	out := RenderTemplate(TemplateKind("nonsense"), "CTX", "METRICS", "HIST", "Q")
	general := RenderTemplate(TemplateGeneral, "CTX", "METRICS", "HIST", "Q")
	if out != general {
		t.Error("expected an unknown template kind to render the general template")
	}
}

func TestFormatHistory(t *testing.T) {
	if got := FormatHistory(nil); got != "(none)" {
		t.Errorf("expected \"(none)\" for empty history, got %q", got)
	}

	history := []HistoryTurn{
		{Question: "first question", Answer: "first answer"},
		{Question: "second question", Answer: "second answer"},
	}
	out := FormatHistory(history)
	if !strings.Contains(out, "Q1: first question") || !strings.Contains(out, "A2: second answer") {
		t.Errorf("expected numbered Q/A pairs in order, got: %s", out)
	}
}
