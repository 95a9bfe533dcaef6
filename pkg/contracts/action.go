// Package contracts defines the shared wire types of the audit chain:
// regulated Actions submitted by callers and the compliance Verdicts
// rendered over them. Everything here is immutable once created and
// serializes with a stable field order so digests are reproducible.
package contracts

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionKind categorizes a regulated healthcare action.
type ActionKind string

const (
	KindAccess            ActionKind = "ACCESS"
	KindModify            ActionKind = "MODIFY"
	KindConsent           ActionKind = "CONSENT"
	KindExport            ActionKind = "EXPORT"
	KindShare             ActionKind = "SHARE"
	KindEmergencyOverride ActionKind = "EMERGENCY_OVERRIDE"
)

// knownKinds is the closed set accepted at the ingestion edge.
var knownKinds = map[ActionKind]bool{
	KindAccess:            true,
	KindModify:            true,
	KindConsent:           true,
	KindExport:            true,
	KindShare:             true,
	KindEmergencyOverride: true,
}

// Valid reports whether k is a recognized action kind.
func (k ActionKind) Valid() bool { return knownKinds[k] }

// Action is a candidate regulated action submitted for evaluation and
// recording. The payload is opaque to the chain: patient, provider and
// appointment records pass through as serialized bytes and are never
// interpreted here.
type Action struct {
	ID        uuid.UUID       `json:"id"`
	ActorID   string          `json:"actor_id"`
	ActorRole string          `json:"actor_role,omitempty"`
	SubjectID string          `json:"subject_id"`
	Kind      ActionKind      `json:"kind"`
	Purpose   string          `json:"purpose,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewAction builds an Action stamped with a fresh id and UTC timestamp.
func NewAction(actorID, subjectID string, kind ActionKind, payload json.RawMessage) Action {
	return Action{
		ID:        uuid.New(),
		ActorID:   actorID,
		SubjectID: subjectID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
