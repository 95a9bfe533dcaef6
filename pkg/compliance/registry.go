// Package compliance runs jurisdiction validators over candidate actions.
//
// Validators are polymorphic over a single capability: evaluate an action
// into a verdict, or report "not applicable" by returning nil. The
// registry is fail-closed: a validator that errors or panics yields an
// Indeterminate/Critical verdict for its jurisdiction instead of being
// skipped, so an unevaluable action always surfaces for human review.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/caretrust/auditchain/pkg/contracts"
)

// Validator evaluates one jurisdiction's rules over an action.
// A nil verdict with nil error means the validator does not apply.
type Validator interface {
	Jurisdiction() string
	Evaluate(ctx context.Context, action contracts.Action) (*contracts.Verdict, error)
}

// Registry holds an ordered set of jurisdiction validators. Evaluation
// order is registration order, so downstream consumers see stable,
// reproducible verdict sequences for identical input.
type Registry struct {
	mu         sync.RWMutex
	validators []Validator
	log        *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log}
}

// Register appends a validator. New jurisdictions need no registry
// changes; they implement Validator and register here.
func (r *Registry) Register(v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators = append(r.validators, v)
}

// Jurisdictions lists registered jurisdictions in evaluation order.
func (r *Registry) Jurisdictions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.validators))
	for i, v := range r.validators {
		out[i] = v.Jurisdiction()
	}
	return out
}

// EvaluateAll runs every applicable validator over the action, preserving
// registration order. Validator faults never abort the sweep: they are
// recorded as Indeterminate/Critical verdicts. Safe to cancel via ctx
// before the subsequent ledger append; evaluation has no side effects.
func (r *Registry) EvaluateAll(ctx context.Context, action contracts.Action) []contracts.Verdict {
	r.mu.RLock()
	validators := make([]Validator, len(r.validators))
	copy(validators, r.validators)
	r.mu.RUnlock()

	verdicts := make([]contracts.Verdict, 0, len(validators))
	for _, v := range validators {
		verdict := r.evaluateOne(ctx, v, action)
		if verdict != nil {
			verdicts = append(verdicts, *verdict)
		}
	}
	return verdicts
}

// evaluateOne isolates a single validator, converting errors and panics
// into fail-closed verdicts.
func (r *Registry) evaluateOne(ctx context.Context, v Validator, action contracts.Action) (verdict *contracts.Verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("validator panicked",
				"jurisdiction", v.Jurisdiction(),
				"action_id", action.ID.String(),
				"panic", fmt.Sprint(rec))
			verdict = failClosed(v.Jurisdiction(), action, fmt.Sprintf("validator panic: %v", rec))
		}
	}()

	out, err := v.Evaluate(ctx, action)
	if err != nil {
		r.log.Warn("validator fault",
			"jurisdiction", v.Jurisdiction(),
			"action_id", action.ID.String(),
			"error", err)
		return failClosed(v.Jurisdiction(), action, "validator fault: "+err.Error())
	}
	return out
}

func failClosed(jurisdiction string, action contracts.Action, reason string) *contracts.Verdict {
	return &contracts.Verdict{
		ActionID:     action.ID,
		Jurisdiction: jurisdiction,
		Outcome:      contracts.OutcomeIndeterminate,
		Reason:       reason,
		Severity:     contracts.SeverityCritical,
	}
}
