package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateAction is returned when an action id has already been
	// sequenced. Recoverable: the caller should read the prior result
	// instead of retrying.
	ErrDuplicateAction = errors.New("ledger: action already recorded")

	// ErrSequenceOverflow is returned when the next sequence number would
	// wrap. Fatal: wrapping would alias digests and destroy tamper
	// evidence, so the ledger refuses further appends.
	ErrSequenceOverflow = errors.New("ledger: sequence space exhausted")

	// ErrEntryNotFound is returned by range reads for missing sequences.
	ErrEntryNotFound = errors.New("ledger: entry not found")

	// ErrEmptyLedger is returned by Head when nothing has been persisted.
	ErrEmptyLedger = errors.New("ledger: no entries persisted")
)

// PersistenceError wraps a failed durable write. Recoverable at the
// caller's discretion: retrying with the same action id is safe because
// duplicates are rejected.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger: persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IntegrityViolation reports the first broken link, digest mismatch or
// bad signature found in a verified range. Fatal to trust in the
// affected range; surfaced to operators, never auto-repaired.
type IntegrityViolation struct {
	Sequence uint64
	Reason   string
}

func (e *IntegrityViolation) Error() string {
	return fmt.Sprintf("ledger: integrity violation at sequence %d: %s", e.Sequence, e.Reason)
}
