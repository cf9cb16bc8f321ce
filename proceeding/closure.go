package proceeding

import (
	"encoding/json"
	"strings"
)

// ClosurePolicy configures the read-side closure heuristic.
type ClosurePolicy struct {
	// ArgumentCeiling treats a case with at least this many arguments as
	// closed for presentation. Zero disables the rule. The engine keeps
	// admitting arguments past it, so it is off by default.
	ArgumentCeiling int
	// Markers are matched case-insensitively against untyped decision text.
	Markers []string
}

// DefaultClosurePolicy reports closure from recorded state and legacy markers only.
func DefaultClosurePolicy() ClosurePolicy {
	return ClosurePolicy{
		Markers: []string{"final decision", "case closed", "verdict"},
	}
}

// IsClosed evaluates the default closure policy.
func IsClosed(s Snapshot) bool {
	return DefaultClosurePolicy().IsClosed(s)
}

// IsClosed decides whether a case should be presented as closed. Structured
// state wins; text sniffing only applies to decisions written before the
// decision type was recorded.
func (c ClosurePolicy) IsClosed(s Snapshot) bool {
	if s.Case.Closed() {
		return true
	}
	if c.ArgumentCeiling > 0 && len(s.Arguments) >= c.ArgumentCeiling {
		return true
	}

	latest, ok := s.LatestDecision()
	if !ok {
		return false
	}
	if latest.Type != "" {
		return latest.Final || latest.Type == DecisionSurrender || latest.Type == DecisionFinal
	}

	if provenanceType(latest.Provenance) == string(DecisionSurrender) {
		return true
	}
	text := strings.ToLower(latest.Text)
	for _, m := range c.Markers {
		if m != "" && strings.Contains(text, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func provenanceType(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.Type
}
