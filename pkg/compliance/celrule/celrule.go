// Package celrule adapts operator-supplied CEL expressions to the
// Validator capability, so a new jurisdiction's rule content can ship in
// configuration without code changes. The expression sees the action's
// attributes and must evaluate to a boolean: true means compliant.
package celrule

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/caretrust/auditchain/pkg/contracts"
)

// Rule is one compiled jurisdiction rule.
type Rule struct {
	Name     string
	Severity contracts.Severity // severity when the rule denies
	prg      cel.Program
}

// Validator evaluates a set of CEL rules for one jurisdiction. All rules
// must allow the action; the first denial wins and its rule name is
// carried in the verdict reason.
type Validator struct {
	jurisdiction string
	rules        []Rule
}

// Env constructs the CEL environment shared by all rules: the action's
// attributes as top-level variables.
func Env() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("actor_id", cel.StringType),
		cel.Variable("actor_role", cel.StringType),
		cel.Variable("subject_id", cel.StringType),
		cel.Variable("purpose", cel.StringType),
	)
}

// New compiles the named rules for a jurisdiction. Compilation failures
// are configuration errors and surface at startup, not per action.
func New(jurisdiction string, sources map[string]string, severity contracts.Severity) (*Validator, error) {
	env, err := Env()
	if err != nil {
		return nil, fmt.Errorf("celrule: environment construction failed: %w", err)
	}

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names) // rule order must be reproducible

	v := &Validator{jurisdiction: jurisdiction}
	for _, name := range names {
		src := sources[name]
		ast, issues := env.Compile(src)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("celrule: rule %q compilation failed: %w", name, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("celrule: rule %q program construction failed: %w", name, err)
		}
		v.rules = append(v.rules, Rule{Name: name, Severity: severity, prg: prg})
	}
	return v, nil
}

func (v *Validator) Jurisdiction() string { return v.jurisdiction }

// Evaluate runs every rule. A non-boolean result or evaluation error is
// a validator fault; the registry fails it closed.
func (v *Validator) Evaluate(ctx context.Context, action contracts.Action) (*contracts.Verdict, error) {
	if len(v.rules) == 0 {
		return nil, nil
	}

	input := map[string]any{
		"kind":       string(action.Kind),
		"actor_id":   action.ActorID,
		"actor_role": action.ActorRole,
		"subject_id": action.SubjectID,
		"purpose":    action.Purpose,
	}

	for _, rule := range v.rules {
		out, _, err := rule.prg.Eval(input)
		if err != nil {
			return nil, fmt.Errorf("celrule: rule %q evaluation failed: %w", rule.Name, err)
		}
		allowed, ok := out.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("celrule: rule %q returned non-boolean %T", rule.Name, out.Value())
		}
		if !allowed {
			return &contracts.Verdict{
				ActionID:     action.ID,
				Jurisdiction: v.jurisdiction,
				Outcome:      contracts.OutcomeViolation,
				Reason:       fmt.Sprintf("rule %q denied action", rule.Name),
				Severity:     rule.Severity,
			}, nil
		}
	}

	return &contracts.Verdict{
		ActionID:     action.ID,
		Jurisdiction: v.jurisdiction,
		Outcome:      contracts.OutcomeCompliant,
		Severity:     contracts.SeverityInfo,
	}, nil
}
