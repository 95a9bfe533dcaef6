package compliance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretrust/auditchain/pkg/contracts"
)

type stubValidator struct {
	name    string
	verdict *contracts.Verdict
	err     error
	panics  bool
}

func (s *stubValidator) Jurisdiction() string { return s.name }

func (s *stubValidator) Evaluate(ctx context.Context, action contracts.Action) (*contracts.Verdict, error) {
	if s.panics {
		panic("rule table corrupted")
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.verdict == nil {
		return nil, nil
	}
	v := *s.verdict
	v.ActionID = action.ID
	return &v, nil
}

func TestEvaluateAllPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubValidator{name: "HIPAA", verdict: &contracts.Verdict{Jurisdiction: "HIPAA", Outcome: contracts.OutcomeCompliant, Severity: contracts.SeverityInfo}})
	r.Register(&stubValidator{name: "GDPR", verdict: &contracts.Verdict{Jurisdiction: "GDPR", Outcome: contracts.OutcomeCompliant, Severity: contracts.SeverityInfo}})
	r.Register(&stubValidator{name: "NMC", verdict: &contracts.Verdict{Jurisdiction: "NMC", Outcome: contracts.OutcomeCompliant, Severity: contracts.SeverityInfo}})

	action := contracts.NewAction("a", "s", contracts.KindAccess, nil)

	for i := 0; i < 10; i++ {
		verdicts := r.EvaluateAll(context.Background(), action)
		require.Len(t, verdicts, 3)
		assert.Equal(t, "HIPAA", verdicts[0].Jurisdiction)
		assert.Equal(t, "GDPR", verdicts[1].Jurisdiction)
		assert.Equal(t, "NMC", verdicts[2].Jurisdiction)
	}
}

func TestNotApplicableProducesNoVerdict(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubValidator{name: "HIPAA"}) // always not applicable
	r.Register(&stubValidator{name: "GDPR", verdict: &contracts.Verdict{Jurisdiction: "GDPR", Outcome: contracts.OutcomeCompliant, Severity: contracts.SeverityInfo}})

	verdicts := r.EvaluateAll(context.Background(), contracts.NewAction("a", "s", contracts.KindAccess, nil))
	require.Len(t, verdicts, 1)
	assert.Equal(t, "GDPR", verdicts[0].Jurisdiction)
}

func TestValidatorFaultFailsClosed(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubValidator{name: "HIPAA", err: errors.New("rule store offline")})
	r.Register(&stubValidator{name: "GDPR", verdict: &contracts.Verdict{Jurisdiction: "GDPR", Outcome: contracts.OutcomeCompliant, Severity: contracts.SeverityInfo}})

	verdicts := r.EvaluateAll(context.Background(), contracts.NewAction("a", "s", contracts.KindAccess, nil))
	require.Len(t, verdicts, 2)

	assert.Equal(t, contracts.OutcomeIndeterminate, verdicts[0].Outcome)
	assert.Equal(t, contracts.SeverityCritical, verdicts[0].Severity)
	assert.Contains(t, verdicts[0].Reason, "rule store offline")

	// The fault did not block the other validator.
	assert.Equal(t, contracts.OutcomeCompliant, verdicts[1].Outcome)
}

func TestValidatorPanicFailsClosed(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubValidator{name: "NMC", panics: true})
	r.Register(&stubValidator{name: "GDPR", verdict: &contracts.Verdict{Jurisdiction: "GDPR", Outcome: contracts.OutcomeCompliant, Severity: contracts.SeverityInfo}})

	verdicts := r.EvaluateAll(context.Background(), contracts.NewAction("a", "s", contracts.KindAccess, nil))
	require.Len(t, verdicts, 2)
	assert.Equal(t, contracts.OutcomeIndeterminate, verdicts[0].Outcome)
	assert.Equal(t, contracts.SeverityCritical, verdicts[0].Severity)
	assert.Contains(t, verdicts[0].Reason, "panic")
	assert.Equal(t, "GDPR", verdicts[1].Jurisdiction)
}
