// Package hipaa implements the HIPAA jurisdiction validator: PHI
// classification of action payloads and the minimum-necessary access rule.
package hipaa

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/caretrust/auditchain/pkg/contracts"
)

// Jurisdiction identifier carried on every HIPAA verdict.
const Jurisdiction = "HIPAA"

// PHIType identifies a category of Protected Health Information found in
// a payload.
type PHIType string

const (
	PHIEmail       PHIType = "EMAIL"
	PHIPhone       PHIType = "PHONE_NUMBER"
	PHISSN         PHIType = "SSN"
	PHIDateOfBirth PHIType = "DATE_OF_BIRTH"
	PHIMRN         PHIType = "MEDICAL_RECORD_NUMBER"
)

// RiskLevel ranks PHI exposure risk.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var phiPatterns = []struct {
	phiType PHIType
	re      *regexp.Regexp
}{
	{PHIEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{PHIPhone, regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)},
	{PHISSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{PHIDateOfBirth, regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)},
	{PHIMRN, regexp.MustCompile(`\bMRN[-:]?\s*\d+\b`)},
}

// Classification is the result of scanning a payload for PHI.
type Classification struct {
	ContainsPHI bool      `json:"contains_phi"`
	Types       []PHIType `json:"phi_types,omitempty"`
	Risk        RiskLevel `json:"risk_level"`
}

// ClassifyPHI scans text for PHI markers and ranks the exposure risk.
// An SSN is always critical; otherwise risk grows with the number of
// distinct PHI types present.
func ClassifyPHI(text string) Classification {
	c := Classification{Risk: RiskLow}
	for _, p := range phiPatterns {
		if p.re.MatchString(text) {
			c.Types = append(c.Types, p.phiType)
			c.ContainsPHI = true
		}
	}
	switch {
	case contains(c.Types, PHISSN):
		c.Risk = RiskCritical
	case len(c.Types) >= 3:
		c.Risk = RiskHigh
	case len(c.Types) >= 2:
		c.Risk = RiskMedium
	}
	return c
}

func contains(types []PHIType, t PHIType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// roleAccess is the minimum-necessary matrix: which data categories each
// role may touch. Purposes outside a role's column are violations.
var roleAccess = map[string][]string{
	"physician":  {"medical_history", "current_medications", "lab_results", "imaging", "vital_signs", "treatment_notes", "patient_demographics"},
	"nurse":      {"vital_signs", "current_medications", "treatment_notes", "care_plans", "patient_demographics"},
	"technician": {"lab_results", "imaging", "vital_signs"},
	"admin":      {"patient_demographics", "insurance_info", "billing_info"},
	"patient":    {"own_medical_history", "own_medications", "own_lab_results", "own_imaging", "own_vital_signs", "own_treatment_notes"},
}

// Validator evaluates HIPAA rules over regulated actions.
type Validator struct{}

// New creates the HIPAA validator.
func New() *Validator { return &Validator{} }

func (v *Validator) Jurisdiction() string { return Jurisdiction }

// Evaluate applies to every action kind. Emergency overrides are always
// flagged Critical for after-the-fact review; otherwise the actor's role
// must be authorized for the requested purpose, and PHI concentration in
// the payload raises the severity floor.
func (v *Validator) Evaluate(ctx context.Context, action contracts.Action) (*contracts.Verdict, error) {
	if action.Kind == contracts.KindEmergencyOverride {
		return &contracts.Verdict{
			ActionID:     action.ID,
			Jurisdiction: Jurisdiction,
			Outcome:      contracts.OutcomeViolation,
			Reason:       "emergency override of access controls requires review: no consent on file",
			Severity:     contracts.SeverityCritical,
		}, nil
	}

	if action.ActorRole != "" && action.Purpose != "" {
		allowed, known := roleAccess[action.ActorRole]
		if !known {
			return &contracts.Verdict{
				ActionID:     action.ID,
				Jurisdiction: Jurisdiction,
				Outcome:      contracts.OutcomeIndeterminate,
				Reason:       fmt.Sprintf("unknown role %q", action.ActorRole),
				Severity:     contracts.SeverityCritical,
			}, nil
		}
		if !authorized(allowed, action.Purpose) {
			return &contracts.Verdict{
				ActionID:     action.ID,
				Jurisdiction: Jurisdiction,
				Outcome:      contracts.OutcomeViolation,
				Reason: fmt.Sprintf("role %q not authorized to access %q",
					action.ActorRole, action.Purpose),
				Severity: contracts.SeverityWarning,
			}, nil
		}
	}

	c := ClassifyPHI(string(action.Payload))
	if c.Risk == RiskCritical {
		return &contracts.Verdict{
			ActionID:     action.ID,
			Jurisdiction: Jurisdiction,
			Outcome:      contracts.OutcomeViolation,
			Reason:       "payload carries critical-risk PHI (" + joinTypes(c.Types) + ")",
			Severity:     contracts.SeverityCritical,
		}, nil
	}

	severity := contracts.SeverityInfo
	if c.Risk == RiskHigh {
		severity = contracts.SeverityWarning
	}
	return &contracts.Verdict{
		ActionID:     action.ID,
		Jurisdiction: Jurisdiction,
		Outcome:      contracts.OutcomeCompliant,
		Severity:     severity,
	}, nil
}

func authorized(allowed []string, purpose string) bool {
	for _, a := range allowed {
		if a == purpose {
			return true
		}
	}
	return false
}

func joinTypes(types []PHIType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
