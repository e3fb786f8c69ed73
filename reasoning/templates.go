package reasoning

import (
	"fmt"
	"regexp"
	"strings"
)

// TemplateKind identifies one of the three fixed prompt templates
// selectable by the answer orchestrator (spec.md §4.7).
type TemplateKind string

const (
	TemplateCitation TemplateKind = "citation"
	TemplateFollowUp TemplateKind = "follow_up"
	TemplateGeneral  TemplateKind = "general"
)

// HistoryTurn is a single (question, answer) pair in the bounded
// conversation history FIFO.
type HistoryTurn struct {
	Question string
	Answer   string
}

// MaxHistoryTurns bounds the conversation history FIFO (spec.md §4.7:
// "last ten (question, answer) pairs").
const MaxHistoryTurns = 10

// AppendHistory appends a turn to history, evicting the oldest entry once
// MaxHistoryTurns is exceeded.
func AppendHistory(history []HistoryTurn, question, answer string) []HistoryTurn {
	history = append(history, HistoryTurn{Question: question, Answer: answer})
	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}
	return history
}

var citationTrigger = regexp.MustCompile(`(?i)\b(cite|citation|statute|case|authority|legal basis|what law|which law)\b`)
var followUpOpener = regexp.MustCompile(`(?i)^\s*(also|additionally|furthermore|moreover|what about|how about|and|but)\b`)

// SelectTemplate deterministically chooses a prompt template (spec.md
// §4.7): citation template if the question references citation-bearing
// terms; else follow-up template if history is non-empty and the question
// opens with a continuation word; else general template.
func SelectTemplate(question string, history []HistoryTurn) TemplateKind {
	if citationTrigger.MatchString(question) {
		return TemplateCitation
	}
	if len(history) > 0 && followUpOpener.MatchString(question) {
		return TemplateFollowUp
	}
	return TemplateGeneral
}

// templates are data, not code: each has placeholders for context, a
// search-metric summary, chat history, and the question (spec.md §4.7).
var templates = map[TemplateKind]string{
	TemplateCitation: `Context:
{{context}}

Search metrics: {{metrics}}

Question: {{question}}

Answer using only the context above. Every factual claim must be backed by a specific statute, case citation, or policy section from the context — name it explicitly. If the context does not contain a citable authority for a claim, say so rather than asserting it.`,

	TemplateFollowUp: `Conversation so far:
{{history}}

Context:
{{context}}

Search metrics: {{metrics}}

Follow-up question: {{question}}

Answer the follow-up question using the context above, resolving pronouns and implicit references against the prior conversation turns.`,

	TemplateGeneral: `Context:
{{context}}

Search metrics: {{metrics}}

Question: {{question}}

Provide a detailed answer based only on the context above. Cite specific sources.`,
}

// RenderTemplate fills the selected template's placeholders.
func RenderTemplate(kind TemplateKind, context, metrics, history, question string) string {
	tmpl, ok := templates[kind]
	if !ok {
		tmpl = templates[TemplateGeneral]
	}
	r := strings.NewReplacer(
		"{{context}}", context,
		"{{metrics}}", metrics,
		"{{history}}", history,
		"{{question}}", question,
	)
	return r.Replace(tmpl)
}

// FormatHistory renders a conversation history FIFO as plain text, most
// recent turn last.
func FormatHistory(history []HistoryTurn) string {
	if len(history) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, h := range history {
		fmt.Fprintf(&b, "Q%d: %s\nA%d: %s\n", i+1, h.Question, i+1, h.Answer)
	}
	return b.String()
}
