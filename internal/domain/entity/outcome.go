package entity

// OutcomeStatus reports how a single extraction strategy ended
type OutcomeStatus string

// Outcome status constants
const (
	OutcomeClaimed     OutcomeStatus = "claimed"
	OutcomeEmpty       OutcomeStatus = "empty"
	OutcomeFailed      OutcomeStatus = "failed"
	OutcomeUnavailable OutcomeStatus = "unavailable"
)

// StrategyOutcome is what one strategy produced for a document.
// Candidates are ordered best first.
type StrategyOutcome struct {
	Strategy     string            `json:"strategy"`
	Status       OutcomeStatus     `json:"status"`
	Candidates   []CandidateAmount `json:"candidates"`
	Confidence   float64           `json:"confidence"`
	Reasons      []string          `json:"reasons"`
	DecodeFailed bool              `json:"decode_failed"`
	// Agreements counts additional distinct rules that produced the primary value
	Agreements int `json:"agreements"`
}

// Claimed reports whether the outcome carries at least one candidate
func (o StrategyOutcome) Claimed() bool {
	return o.Status == OutcomeClaimed && len(o.Candidates) > 0
}

// Primary returns the best candidate. Only valid when Claimed.
func (o StrategyOutcome) Primary() CandidateAmount {
	return o.Candidates[0]
}
