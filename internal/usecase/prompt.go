package usecase

import (
	"fmt"
	"strings"

	"paincoach-agent/internal/domain"
)

// noObservationsLine is rendered when the caller has no pain diary entries
// (or the observation fetch failed and the pipeline degraded to an empty set).
const noObservationsLine = "The user has no pain observations recorded yet."

// PromptTemplate holds the three independently substitutable sections of the
// system instruction. The assembly algorithm in buildSystemInstruction never
// changes when a section is swapped out.
type PromptTemplate struct {
	Persona             string
	SafetyDirective     string
	FormattingDirective string
}

func DefaultPromptTemplate() PromptTemplate {
	return PromptTemplate{
		Persona: "You are an empathetic, professional AI physiotherapy coach. " +
			"Your task is to help the user make sense of their physical complaints " +
			"and to offer gentle, general advice.",
		SafetyDirective: "NEVER give medical diagnoses. For acute or severe pain, " +
			"always advise seeing a doctor in person.",
		FormattingDirective: "Answer in English, stay encouraging, and write short, " +
			"easy-to-read paragraphs. Avoid markdown special characters where possible.",
	}
}

// buildSystemInstruction renders the system instruction for a turn. Pure and
// deterministic: the same template and observation sequence always produce
// byte-identical output. Observations are rendered in the order given
// (newest first).
func buildSystemInstruction(tpl PromptTemplate, observations []domain.Observation) string {
	return strings.Join([]string{
		strings.TrimSpace(tpl.Persona),
		"",
		"Here are the user's most recent pain observations from their tracking diary:",
		observationHistoryText(observations),
		"",
		"Important rules:",
		"1. Refer to these diary entries naturally and proactively in your answers " +
			"(e.g. \"I see your lower back was at level 7 yesterday...\").",
		"2. " + strings.TrimSpace(tpl.SafetyDirective),
		"3. " + strings.TrimSpace(tpl.FormattingDirective),
	}, "\n")
}

func observationHistoryText(observations []domain.Observation) string {
	if len(observations) == 0 {
		return noObservationsLine
	}
	lines := make([]string, 0, len(observations))
	for _, o := range observations {
		lines = append(lines, formatObservation(o))
	}
	return strings.Join(lines, "\n")
}

func formatObservation(o domain.Observation) string {
	return fmt.Sprintf("On %s: pain level %d/10 at '%s'.",
		o.CreatedAt.UTC().Format("2006-01-02"), o.Level, o.Location)
}
