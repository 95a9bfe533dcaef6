package contracts

import "github.com/google/uuid"

// Outcome is the result of one jurisdiction validator over one action.
type Outcome string

const (
	OutcomeCompliant     Outcome = "COMPLIANT"
	OutcomeViolation     Outcome = "VIOLATION"
	OutcomeIndeterminate Outcome = "INDETERMINATE"
)

// Severity ranks how urgently a verdict needs attention. Alerts fan out
// at SeverityWarning and above.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// severityRank orders severities for threshold comparisons.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// AtLeast reports whether s is at or above the given threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return severityRank[s] >= severityRank[threshold]
}

// Verdict is one (action, jurisdiction) evaluation result. A validator
// that does not apply to an action produces no Verdict at all rather
// than a synthetic compliant one.
type Verdict struct {
	ActionID     uuid.UUID `json:"action_id"`
	Jurisdiction string    `json:"jurisdiction"`
	Outcome      Outcome   `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	Severity     Severity  `json:"severity"`
}

// MaxSeverity returns the highest severity across verdicts, or
// SeverityInfo when the slice is empty.
func MaxSeverity(verdicts []Verdict) Severity {
	max := SeverityInfo
	for _, v := range verdicts {
		if v.Severity.AtLeast(max) {
			max = v.Severity
		}
	}
	return max
}
