// Package nmc implements the NMC (National Medical Commission, India)
// telemedicine jurisdiction validator: practitioners must hold a current
// registration, and schedule-restricted drug actions require a prior
// in-person consultation on record.
package nmc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/caretrust/auditchain/pkg/contracts"
)

// Jurisdiction identifier carried on every NMC verdict.
const Jurisdiction = "NMC"

// PractitionerRegistry tracks registration ids known to be current.
type PractitionerRegistry struct {
	mu         sync.RWMutex
	registered map[string]bool
}

// NewPractitionerRegistry creates an empty registry.
func NewPractitionerRegistry() *PractitionerRegistry {
	return &PractitionerRegistry{registered: make(map[string]bool)}
}

// Register marks an actor id as a currently registered practitioner.
func (r *PractitionerRegistry) Register(actorID string) {
	r.mu.Lock()
	r.registered[actorID] = true
	r.mu.Unlock()
}

// IsRegistered reports whether the actor holds a current registration.
func (r *PractitionerRegistry) IsRegistered(actorID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registered[actorID]
}

// prescriptionPayload is the slice of the opaque payload NMC rules need.
// Unknown fields are ignored; the payload stays opaque otherwise.
type prescriptionPayload struct {
	DrugSchedule        string `json:"drug_schedule,omitempty"`
	InPersonConsultedAt string `json:"in_person_consulted_at,omitempty"`
}

// Validator evaluates NMC telemedicine rules. It applies only to roles
// that prescribe or modify treatment.
type Validator struct {
	registry *PractitionerRegistry
}

// New creates an NMC validator over the practitioner registry.
func New(registry *PractitionerRegistry) *Validator {
	return &Validator{registry: registry}
}

func (v *Validator) Jurisdiction() string { return Jurisdiction }

func (v *Validator) Evaluate(ctx context.Context, action contracts.Action) (*contracts.Verdict, error) {
	// NMC rules bind practitioners, not patients or admin staff.
	if action.ActorRole != "physician" && action.ActorRole != "nurse" {
		return nil, nil
	}

	if !v.registry.IsRegistered(action.ActorID) {
		return &contracts.Verdict{
			ActionID:     action.ID,
			Jurisdiction: Jurisdiction,
			Outcome:      contracts.OutcomeViolation,
			Reason:       fmt.Sprintf("practitioner %q has no current registration", action.ActorID),
			Severity:     contracts.SeverityCritical,
		}, nil
	}

	if action.Kind == contracts.KindModify && len(action.Payload) > 0 {
		var p prescriptionPayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return nil, fmt.Errorf("nmc: payload not inspectable: %w", err)
		}
		// Telemedicine guideline 4.2: schedule-restricted drugs only after
		// an in-person consultation.
		if p.DrugSchedule == "H" && p.InPersonConsultedAt == "" {
			return &contracts.Verdict{
				ActionID:     action.ID,
				Jurisdiction: Jurisdiction,
				Outcome:      contracts.OutcomeViolation,
				Reason:       "schedule H prescription requires prior in-person consultation",
				Severity:     contracts.SeverityWarning,
			}, nil
		}
	}

	return &contracts.Verdict{
		ActionID:     action.ID,
		Jurisdiction: Jurisdiction,
		Outcome:      contracts.OutcomeCompliant,
		Severity:     contracts.SeverityInfo,
	}, nil
}
