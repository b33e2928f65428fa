package pipeline

import "strings"

// Outcome classifies a raw backend status string
type Outcome int

const (
	OutcomeNonTerminal Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "non_terminal"
	}
}

// The backend and the client-level synthetic states (TIMEOUT, ABORTED)
// use different vocabularies; the two alias sets below unify them and
// must stay disjoint.
var successTokens = map[string]struct{}{
	"SUCCEEDED": {},
	"COMPLETED": {},
	"DONE":      {},
}

var failureTokens = map[string]struct{}{
	"FAILED":    {},
	"ERROR":     {},
	"CANCELLED": {},
	"CANCELED":  {},
	"ABORTED":   {},
	"TIMEOUT":   {},
}

// Classify maps a raw status string to exactly one outcome. Any token in
// neither alias set is non-terminal, so the function is total.
func Classify(state string) Outcome {
	token := strings.ToUpper(strings.TrimSpace(state))
	if _, ok := successTokens[token]; ok {
		return OutcomeSuccess
	}
	if _, ok := failureTokens[token]; ok {
		return OutcomeFailure
	}
	return OutcomeNonTerminal
}

// IsTerminalToken reports whether the state maps to either terminal outcome
func IsTerminalToken(state string) bool {
	return Classify(state) != OutcomeNonTerminal
}
