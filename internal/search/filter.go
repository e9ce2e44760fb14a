package search

import (
	"fmt"
	"strings"
)

// stateAbbrev maps manual-bearing state names to their postal abbreviations.
// Indexed documents may carry either form in the state field.
var stateAbbrev = map[string]string{
	"california":     "CA",
	"texas":          "TX",
	"florida":        "FL",
	"new york":       "NY",
	"pennsylvania":   "PA",
	"illinois":       "IL",
	"ohio":           "OH",
	"georgia":        "GA",
	"north carolina": "NC",
	"michigan":       "MI",
}

// StateFilter builds an OData filter restricting hits to one state's manual.
// Known state names match both the full name and the abbreviation; a bare
// two-letter abbreviation or an unknown name filters on the value as given.
func StateFilter(state string) string {
	state = strings.TrimSpace(state)
	if state == "" {
		return ""
	}
	if abbrev, ok := stateAbbrev[strings.ToLower(state)]; ok {
		return fmt.Sprintf("state eq '%s' or state eq '%s'", titleCase(state), abbrev)
	}
	return fmt.Sprintf("state eq '%s'", state)
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
