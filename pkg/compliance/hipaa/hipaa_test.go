package hipaa

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caretrust/auditchain/pkg/contracts"
)

func TestClassifyPHI(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		types []PHIType
		risk  RiskLevel
	}{
		{"clean", "no identifiers here", nil, RiskLow},
		{"email only", "contact alice@example.org", []PHIType{PHIEmail}, RiskLow},
		{"email and phone", "alice@example.org 555-123-4567", []PHIType{PHIEmail, PHIPhone}, RiskMedium},
		{"ssn is critical", "ssn 123-45-6789", []PHIType{PHISSN}, RiskCritical},
		{"mrn detected", "chart MRN: 8675309", []PHIType{PHIMRN}, RiskLow},
		{"three types high", "alice@example.org 555-123-4567 born 1/2/1980", []PHIType{PHIEmail, PHIPhone, PHIDateOfBirth}, RiskHigh},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := ClassifyPHI(tc.text)
			assert.Equal(t, tc.risk, c.Risk)
			assert.ElementsMatch(t, tc.types, c.Types)
		})
	}
}

func evaluate(t *testing.T, action contracts.Action) *contracts.Verdict {
	t.Helper()
	v, err := New().Evaluate(context.Background(), action)
	require.NoError(t, err)
	require.NotNil(t, v)
	return v
}

func TestEmergencyOverrideIsCriticalViolation(t *testing.T) {
	action := contracts.NewAction("dr-strange", "patient-1", contracts.KindEmergencyOverride, nil)
	v := evaluate(t, action)
	assert.Equal(t, contracts.OutcomeViolation, v.Outcome)
	assert.Equal(t, contracts.SeverityCritical, v.Severity)
	assert.Contains(t, v.Reason, "no consent on file")
}

func TestMinimumNecessaryAccess(t *testing.T) {
	action := contracts.NewAction("tech-9", "patient-1", contracts.KindAccess, nil)
	action.ActorRole = "technician"
	action.Purpose = "billing_info"

	v := evaluate(t, action)
	assert.Equal(t, contracts.OutcomeViolation, v.Outcome)
	assert.Contains(t, v.Reason, `not authorized to access "billing_info"`)

	action.Purpose = "lab_results"
	v = evaluate(t, action)
	assert.Equal(t, contracts.OutcomeCompliant, v.Outcome)
}

func TestUnknownRoleIsIndeterminate(t *testing.T) {
	action := contracts.NewAction("x", "patient-1", contracts.KindAccess, nil)
	action.ActorRole = "janitor"
	action.Purpose = "lab_results"

	v := evaluate(t, action)
	assert.Equal(t, contracts.OutcomeIndeterminate, v.Outcome)
	assert.Equal(t, contracts.SeverityCritical, v.Severity)
}

func TestCriticalPHIPayloadIsViolation(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"note": "patient SSN 123-45-6789"})
	action := contracts.NewAction("dr-who", "patient-1", contracts.KindExport, payload)

	v := evaluate(t, action)
	assert.Equal(t, contracts.OutcomeViolation, v.Outcome)
	assert.Equal(t, contracts.SeverityCritical, v.Severity)
}
