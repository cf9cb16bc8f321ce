package adjudicator

import (
	"context"
	"fmt"
	"time"

	"jurisflow/proceeding"
)

// Mock answers every request with a fixed development notice so the rest of
// the system can run without upstream credentials.
type Mock struct {
	jur Jurisdiction
	now func() time.Time
}

// NewMock returns the development stand-in framed for India.
func NewMock() *Mock {
	return NewMockFor(India)
}

// NewMockFor returns the development stand-in framed for j.
func NewMockFor(j Jurisdiction) *Mock {
	return &Mock{jur: j, now: func() time.Time { return time.Now().UTC() }}
}

// GenerateVerdict implements proceeding.Adjudicator.
func (m *Mock) GenerateVerdict(ctx context.Context, req proceeding.VerdictRequest) (proceeding.VerdictResult, error) {
	if err := ctx.Err(); err != nil {
		return proceeding.VerdictResult{}, err
	}
	opinion := "This is a simulated proceeding for development purposes."
	if m.jur.Name != "" {
		opinion = fmt.Sprintf("This is a simulated %s legal proceeding for development purposes. A configured judge would analyse the evidence and arguments according to %s jurisprudence.", m.jur.Adjective, m.jur.Adjective)
	}
	text := fmt.Sprintf(`**SIMULATED VERDICT - CASE %s**
**%s**

**REQUEST TYPE:** %s

**CASE SUMMARY:** Adjudicator API key not set (development mode).

**OPINION:** %s %d argument(s) and %d document(s) are on file. Configure an API key to receive a generated judgment.

**ORDER:** Development mode active.`,
		req.Case.ID, m.jur.label(), req.RequestType, opinion, len(req.Arguments), len(req.Case.Documents))

	return proceeding.VerdictResult{
		Text: text,
		Provenance: map[string]any{
			"mocked":       true,
			"jurisdiction": m.jur.Name,
			"requestType":  string(req.RequestType),
			"timestamp":    m.now().Format(time.RFC3339Nano),
		},
	}, nil
}
