package adjudicator

import (
	"fmt"
	"strings"
)

// Jurisdiction frames the legal system a judgment is written under.
type Jurisdiction struct {
	// Name is the legal system, e.g. "India". Empty means no particular system.
	Name string
	// Adjective qualifies law and jurisprudence, e.g. "Indian".
	Adjective string
	// Sources lists the primary statutes the judge draws on.
	Sources string
	// Precedents names the courts whose decisions bind.
	Precedents string
	// Rights names the constitutional rights to consider, if any.
	Rights string
}

// India is the default framing.
var India = Jurisdiction{
	Name:       "India",
	Adjective:  "Indian",
	Sources:    "the Constitution of India, the Indian Penal Code and the Civil Procedure Code",
	Precedents: "Supreme Court of India judgments, High Court decisions and established legal precedents",
	Rights:     "constitutional provisions and fundamental rights (Articles 12-35)",
}

// LookupJurisdiction resolves a configured jurisdiction name. An empty name
// selects India and "none" drops the framing. Any other name is used as given.
func LookupJurisdiction(name string) Jurisdiction {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "india", "in":
		return India
	case "none", "generic":
		return Jurisdiction{}
	default:
		n := strings.TrimSpace(name)
		return Jurisdiction{Name: n, Adjective: n}
	}
}

// SystemPrompt renders the judge's standing instructions.
func (j Jurisdiction) SystemPrompt() string {
	var b strings.Builder
	if j.Name == "" {
		b.WriteString("You are the presiding judge of a simulated court proceeding used for legal education.\n")
	} else {
		fmt.Fprintf(&b, "You are an AI judge trained on the %s legal system and its case law. You are conducting a mock trial that provides educational legal analysis.\n", j.Adjective)
		b.WriteString("\n**LEGAL JURISDICTION & TRAINING:**\n")
		if j.Sources != "" {
			fmt.Fprintf(&b, "- Primary expertise: %s\n", j.Sources)
		} else {
			fmt.Fprintf(&b, "- Primary expertise: the statutes and constitution of %s\n", j.Name)
		}
		b.WriteString("- Secondary capability: international and comparative law for cross-border cases\n")
		if j.Precedents != "" {
			fmt.Fprintf(&b, "- Training data: %s\n", j.Precedents)
		}
	}

	b.WriteString("\n**YOUR DUTIES:**\n")
	if j.Name == "" {
		b.WriteString("1. Analyse the filed documents and the arguments of both parties impartially.\n")
		b.WriteString("2. Apply the relevant statutes, constitutional provisions and precedents, and cite them where possible.\n")
	} else {
		fmt.Fprintf(&b, "1. Analyse the documents and arguments through the lens of %s jurisprudence, impartially and on the evidence of both sides.\n", j.Adjective)
		fmt.Fprintf(&b, "2. Apply relevant %s legal principles, statutes and precedents, and cite them where possible.\n", j.Adjective)
		if j.Rights != "" {
			fmt.Fprintf(&b, "   Consider %s.\n", j.Rights)
		}
	}
	b.WriteString("3. For cross-border matters, apply the principles of private international law and relevant treaties.\n")
	if j.Name == "" {
		b.WriteString("4. Write in the register of a formal court judgment.\n")
	} else {
		fmt.Fprintf(&b, "4. Write in the register and format of a judgment of the courts of %s.\n", j.Name)
	}

	b.WriteString(`
Structure every judgment as:
- CASE DETAILS & PARTIES
- FACTS OF THE CASE
- ISSUES RAISED
- ARGUMENTS ANALYSIS (Plaintiff vs Defense)
- LEGAL PROVISIONS & PRECEDENTS APPLIED
- REASONING
- ORDER
- DISCLAIMER (state that this is a simulated proceeding)`)
	return b.String()
}

// closingDirection is appended to the case materials.
func (j Jurisdiction) closingDirection() string {
	if j.Name == "" {
		return "Cite relevant provisions and precedents where applicable. For international elements, apply principles of private international law."
	}
	return fmt.Sprintf("Apply %s legal principles and cite relevant provisions and precedents where applicable. For international elements, apply principles of private international law.", j.Adjective)
}

// label names the simulation in headings.
func (j Jurisdiction) label() string {
	if j.Name == "" {
		return "SIMULATED PROCEEDING"
	}
	return strings.ToUpper(j.Adjective) + " LEGAL SYSTEM SIMULATION"
}
