// Package alert fans compliance alerts out to live subscribers.
//
// This is deliberately not a general pub/sub broker: one producer (the
// ledger append path) and N subscribers with bounded per-connection
// queues. A slow subscriber drains instead of blocking the producer or
// growing memory without bound, and reconnecting subscribers replay
// missed alerts from the ledger itself, which is what makes delivery
// at-least-once.
package alert

import (
	"time"

	"github.com/caretrust/auditchain/pkg/contracts"
	"github.com/caretrust/auditchain/pkg/ledger"
)

// Alert is one notification frame pushed to subscribers.
type Alert struct {
	Sequence uint64             `json:"sequence"`
	Verdict  contracts.Verdict  `json:"verdict"`
	Severity contracts.Severity `json:"severity"`
	// ActionRequired marks alerts that need human follow-up rather
	// than just a record on a dashboard.
	ActionRequired bool      `json:"action_required"`
	EmittedAt      time.Time `json:"emitted_at"`
}

// FromEntry derives an alert from a ledger entry, or false when the
// entry's worst verdict sits below the threshold. The carried verdict is
// the highest-severity one, with earlier verdicts winning ties so the
// choice is deterministic.
func FromEntry(entry ledger.Entry, threshold contracts.Severity) (Alert, bool) {
	worst := contracts.MaxSeverity(entry.Verdicts)
	if !worst.AtLeast(threshold) {
		return Alert{}, false
	}
	var pick contracts.Verdict
	for _, v := range entry.Verdicts {
		if v.Severity == worst {
			pick = v
			break
		}
	}
	return Alert{
		Sequence:       entry.Sequence,
		Verdict:        pick,
		Severity:       worst,
		ActionRequired: worst == contracts.SeverityCritical,
		EmittedAt:      time.Now().UTC(),
	}, true
}
