package adjudicator

import (
	"fmt"
	"strings"
	"time"

	"jurisflow/proceeding"
)

// maxDocumentRunes bounds how much of each document is sent upstream.
const maxDocumentRunes = 6000

// ClosedMarker is the line the model is asked to end with when it considers
// the matter resolved before a final judgment was requested.
const ClosedMarker = "[CASE CLOSED]"

func closingInstruction() string {
	return fmt.Sprintf("If the material before you fully resolves the dispute and no further argument could change the outcome, end your response with the line %s. Otherwise do not use that marker.", ClosedMarker)
}

// BuildPrompt renders the case materials for one verdict request under j.
func BuildPrompt(req proceeding.VerdictRequest, j Jurisdiction) string {
	var b strings.Builder
	c := req.Case

	fmt.Fprintf(&b, "**SIMULATED PROCEEDING - CASE %s**\n", c.ID)
	if j.Name != "" {
		fmt.Fprintf(&b, "**%s**\n", j.label())
	}
	fmt.Fprintf(&b, "**CASE TYPE:** %s\n", strings.ToUpper(c.CaseType))
	fmt.Fprintf(&b, "**REQUEST TYPE:** %s DECISION\n\n", strings.ToUpper(string(req.RequestType)))
	fmt.Fprintf(&b, "**CASE TITLE:** %s\n", c.Title)
	if req.ContextNote != "" {
		fmt.Fprintf(&b, "**SPECIAL INSTRUCTIONS:** %s\n", req.ContextNote)
	}

	b.WriteString("\n**DOCUMENTARY EVIDENCE:**\n")
	if len(c.Documents) == 0 {
		b.WriteString("None filed.\n")
	}
	for i, doc := range c.Documents {
		fmt.Fprintf(&b, "\n**Document %d** [Filed by: %s]\n", i+1, strings.ToUpper(string(doc.Side)))
		fmt.Fprintf(&b, "Filename: %s\n", doc.Filename)
		content, truncated := truncateRunes(doc.Content, maxDocumentRunes)
		fmt.Fprintf(&b, "Content: %s\n", content)
		if truncated {
			b.WriteString("[Content truncated for analysis]\n")
		}
	}

	prior := adjudicated(req.PriorDecisions)
	if len(prior) > 0 {
		b.WriteString("\n**PREVIOUS DECISIONS IN THIS CASE:**\n")
		for i, d := range prior {
			fmt.Fprintf(&b, "\n**Decision %d** [%s, %s]\n", i+1, d.Type, d.CreatedAt.Format(time.RFC3339))
			b.WriteString(d.Text)
			fmt.Fprintf(&b, "\n--- End of Decision %d ---\n", i+1)
		}
		b.WriteString("\n**NOTE:** Consider the previous decisions when analysing new arguments.\n")
	}

	if len(req.Arguments) > 0 {
		b.WriteString("\n**ARGUMENTS PRESENTED (Chronological Order):**\n")
		for i, arg := range req.Arguments {
			label := "COUNTER-ARGUMENT"
			if arg.Type == proceeding.ArgumentInitial {
				label = "INITIAL ARGUMENT"
			}
			fmt.Fprintf(&b, "\n**%s %d** [%s] - %s\n", label, i+1, strings.ToUpper(string(arg.Side)), arg.CreatedAt.Format(time.RFC3339))
			b.WriteString(arg.Text)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n**ANALYSIS REQUIRED:**\n")
	switch req.RequestType {
	case proceeding.DecisionInterim:
		b.WriteString("Analyse the new counter-arguments against the previous decision. Determine whether the previous ruling should be modified or upheld, or whether the case requires further argument.\n")
		b.WriteString(closingInstruction() + "\n")
	case proceeding.DecisionFinal:
		b.WriteString("Provide the final judgment considering all evidence, arguments and any previous interim decisions.\n")
	default:
		b.WriteString("Provide an initial legal assessment based on the documents and initial arguments.\n")
		b.WriteString(closingInstruction() + "\n")
	}

	b.WriteString("\n" + j.closingDirection() + "\n")
	b.WriteString("\n**END OF CASE MATERIALS**")
	return b.String()
}

// splitConclusion strips the closing marker and reports whether it was present.
func splitConclusion(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	idx := strings.LastIndex(trimmed, ClosedMarker)
	if idx < 0 {
		return trimmed, false
	}
	if strings.TrimSpace(trimmed[idx+len(ClosedMarker):]) != "" {
		return trimmed, false
	}
	return strings.TrimSpace(trimmed[:idx]), true
}

func adjudicated(decisions []proceeding.Decision) []proceeding.Decision {
	out := make([]proceeding.Decision, 0, len(decisions))
	for _, d := range decisions {
		if d.Type.Adjudicated() {
			out = append(out, d)
		}
	}
	return out
}

func truncateRunes(s string, limit int) (string, bool) {
	r := []rune(s)
	if len(r) <= limit {
		return s, false
	}
	return string(r[:limit]), true
}
