// Package gdpr implements the GDPR jurisdiction validator: processing of
// a data subject's records requires a valid consent for the purpose, with
// expiry and withdrawal honored.
package gdpr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caretrust/auditchain/pkg/contracts"
)

// Jurisdiction identifier carried on every GDPR verdict.
const Jurisdiction = "GDPR"

// Purpose is a data processing purpose under GDPR Article 6.
type Purpose string

const (
	PurposeHealthcare    Purpose = "HEALTHCARE"
	PurposeResearch      Purpose = "RESEARCH"
	PurposeCommunication Purpose = "COMMUNICATION"
	PurposeEmergency     Purpose = "EMERGENCY"
)

// Consent is one recorded consent grant for a data subject.
type Consent struct {
	ID          uuid.UUID  `json:"consent_id"`
	SubjectID   string     `json:"subject_id"`
	Purpose     Purpose    `json:"purpose"`
	GrantedAt   time.Time  `json:"granted_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	WithdrawnAt *time.Time `json:"withdrawn_at,omitempty"`
}

// ValidAt reports whether the consent covers processing at instant t.
func (c Consent) ValidAt(t time.Time) bool {
	if c.WithdrawnAt != nil {
		return false
	}
	return c.ExpiresAt == nil || c.ExpiresAt.After(t)
}

// ConsentStore tracks consent grants per data subject.
type ConsentStore struct {
	mu       sync.RWMutex
	bySubject map[string][]Consent
}

// NewConsentStore creates an empty store.
func NewConsentStore() *ConsentStore {
	return &ConsentStore{bySubject: make(map[string][]Consent)}
}

// Grant records a consent for subjectID. A nil expiry means open-ended.
func (s *ConsentStore) Grant(subjectID string, purpose Purpose, expiresAt *time.Time) Consent {
	c := Consent{
		ID:        uuid.New(),
		SubjectID: subjectID,
		Purpose:   purpose,
		GrantedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	s.mu.Lock()
	s.bySubject[subjectID] = append(s.bySubject[subjectID], c)
	s.mu.Unlock()
	return c
}

// Withdraw marks a consent withdrawn. Returns false if unknown.
func (s *ConsentStore) Withdraw(subjectID string, consentID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	consents := s.bySubject[subjectID]
	for i := range consents {
		if consents[i].ID == consentID {
			now := time.Now().UTC()
			consents[i].WithdrawnAt = &now
			return true
		}
	}
	return false
}

// WithdrawPurpose marks every live consent the subject holds for the
// purpose withdrawn. Returns the number withdrawn.
func (s *ConsentStore) WithdrawPurpose(subjectID string, purpose Purpose) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	consents := s.bySubject[subjectID]
	for i := range consents {
		if consents[i].Purpose == purpose && consents[i].WithdrawnAt == nil {
			consents[i].WithdrawnAt = &now
			n++
		}
	}
	return n
}

// Status reports whether subjectID holds a valid consent for purpose at
// instant t, and whether an expired (not withdrawn) one exists.
func (s *ConsentStore) Status(subjectID string, purpose Purpose, t time.Time) (valid, expired bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.bySubject[subjectID] {
		if c.Purpose != purpose {
			continue
		}
		if c.ValidAt(t) {
			return true, false
		}
		if c.WithdrawnAt == nil {
			expired = true
		}
	}
	return false, expired
}

// ConsentPayload is the payload shape of CONSENT kind actions. The
// subject it applies to is the action's subject_id.
type ConsentPayload struct {
	Op        string     `json:"op"` // "grant" or "withdraw"
	Purpose   Purpose    `json:"purpose,omitempty"`
	ConsentID uuid.UUID  `json:"consent_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Apply folds a recorded consent action into the store, so consent
// granted or withdrawn through the chain governs every later action.
// Non-consent kinds are a no-op. Register it as a ledger append handler:
// the chain is the system of record and the store just its projection.
func (s *ConsentStore) Apply(action contracts.Action) error {
	if action.Kind != contracts.KindConsent {
		return nil
	}
	var p ConsentPayload
	if err := json.Unmarshal(action.Payload, &p); err != nil {
		return fmt.Errorf("gdpr: consent payload for %s: %w", action.ID, err)
	}
	if p.Purpose == "" {
		p.Purpose = PurposeHealthcare
	}

	switch p.Op {
	case "grant":
		s.Grant(action.SubjectID, p.Purpose, p.ExpiresAt)
		return nil
	case "withdraw":
		if p.ConsentID != uuid.Nil {
			if !s.Withdraw(action.SubjectID, p.ConsentID) {
				return fmt.Errorf("gdpr: consent %s not on file for subject %s", p.ConsentID, action.SubjectID)
			}
			return nil
		}
		if s.WithdrawPurpose(action.SubjectID, p.Purpose) == 0 {
			return fmt.Errorf("gdpr: no live consent for purpose %s to withdraw for subject %s", p.Purpose, action.SubjectID)
		}
		return nil
	default:
		return fmt.Errorf("gdpr: unknown consent op %q", p.Op)
	}
}

// purposeForKind maps action kinds to the consent purpose they require.
// Consent-management actions themselves need no prior consent.
var purposeForKind = map[contracts.ActionKind]Purpose{
	contracts.KindAccess: PurposeHealthcare,
	contracts.KindModify: PurposeHealthcare,
	contracts.KindExport: PurposeHealthcare,
	contracts.KindShare:  PurposeCommunication,
}

// Validator evaluates GDPR consent rules.
type Validator struct {
	consents *ConsentStore
}

// New creates a GDPR validator over the given consent store.
func New(consents *ConsentStore) *Validator {
	return &Validator{consents: consents}
}

func (v *Validator) Jurisdiction() string { return Jurisdiction }

// Evaluate checks that a valid consent covers the action's purpose.
// Emergency overrides process under vital interest (Art 6(1)(d)) and are
// compliant with Warning severity so they still alert. Kinds with no
// consent requirement are not applicable.
func (v *Validator) Evaluate(ctx context.Context, action contracts.Action) (*contracts.Verdict, error) {
	if action.Kind == contracts.KindEmergencyOverride {
		return &contracts.Verdict{
			ActionID:     action.ID,
			Jurisdiction: Jurisdiction,
			Outcome:      contracts.OutcomeCompliant,
			Reason:       "vital interest basis (Art 6(1)(d)); consent bypassed",
			Severity:     contracts.SeverityWarning,
		}, nil
	}

	purpose, applicable := purposeForKind[action.Kind]
	if !applicable {
		return nil, nil
	}

	valid, expired := v.consents.Status(action.SubjectID, purpose, action.Timestamp)
	switch {
	case valid:
		return &contracts.Verdict{
			ActionID:     action.ID,
			Jurisdiction: Jurisdiction,
			Outcome:      contracts.OutcomeCompliant,
			Severity:     contracts.SeverityInfo,
		}, nil
	case expired:
		return &contracts.Verdict{
			ActionID:     action.ID,
			Jurisdiction: Jurisdiction,
			Outcome:      contracts.OutcomeViolation,
			Reason:       fmt.Sprintf("consent for purpose %s expired and was not renewed", purpose),
			Severity:     contracts.SeverityWarning,
		}, nil
	default:
		return &contracts.Verdict{
			ActionID:     action.ID,
			Jurisdiction: Jurisdiction,
			Outcome:      contracts.OutcomeViolation,
			Reason:       fmt.Sprintf("no consent on file for purpose %s", purpose),
			Severity:     contracts.SeverityCritical,
		}, nil
	}
}
