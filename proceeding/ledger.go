package proceeding

import "strings"

// SideCounts summarises one side's ledger entries.
type SideCounts struct {
	InitialPresent bool
	CounterCount   int
}

// CountsFor tallies the arguments submitted by side.
func CountsFor(args []Argument, side Side) SideCounts {
	var c SideCounts
	for _, a := range args {
		if a.Side != side {
			continue
		}
		switch a.Type {
		case ArgumentInitial:
			c.InitialPresent = true
		case ArgumentCounter:
			c.CounterCount++
		}
	}
	return c
}

// NextArgumentType classifies the next entry of a side: the first one is
// initial, everything after it is a counter-argument.
func NextArgumentType(c SideCounts) ArgumentType {
	if c.InitialPresent {
		return ArgumentCounter
	}
	return ArgumentInitial
}

// ArgumentsBySide splits the chronological ledger per side, preserving order.
func ArgumentsBySide(args []Argument) map[Side][]Argument {
	out := map[Side][]Argument{
		SidePlaintiff: {},
		SideDefense:   {},
	}
	for _, a := range args {
		out[a.Side] = append(out[a.Side], a)
	}
	return out
}

func normalizeArgument(side Side, text string) (string, error) {
	if !side.Valid() {
		return "", validationError("unknown side %q", side)
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", validationError("argument text required")
	}
	return trimmed, nil
}
