// Package store provides the durable backends for the audit ledger: an
// in-memory store for tests and ephemeral runs, and a database/sql store
// that works against both Postgres and SQLite.
package store

import (
	"context"
	"sync"

	"github.com/caretrust/auditchain/pkg/ledger"
)

// MemoryStore keeps the chain in process memory. Entries survive for the
// lifetime of the process only; the SQL store is the durable option.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []ledger.Entry
	byAction map[string]uint64 // action id -> sequence
	head     ledger.Head
	hasHead  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byAction: make(map[string]uint64)}
}

// Append records the entry, rejecting duplicate action ids and any
// attempt to rewrite an existing sequence.
func (s *MemoryStore) Append(ctx context.Context, entry ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byAction[entry.Action.ID.String()]; dup {
		return ledger.ErrDuplicateAction
	}
	if entry.Sequence != uint64(len(s.entries))+1 {
		return ledger.ErrEntryNotFound
	}

	s.entries = append(s.entries, entry)
	s.byAction[entry.Action.ID.String()] = entry.Sequence
	s.head = ledger.Head{
		LastSequence: entry.Sequence,
		LastDigest:   entry.Digest,
		KeyID:        entry.Signature.KeyID,
	}
	s.hasHead = true
	return nil
}

// Range returns entries with from <= sequence <= to.
func (s *MemoryStore) Range(ctx context.Context, from, to uint64) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if from == 0 {
		from = 1
	}
	if to > uint64(len(s.entries)) {
		to = uint64(len(s.entries))
	}
	if from > to {
		return []ledger.Entry{}, nil
	}
	out := make([]ledger.Entry, to-from+1)
	copy(out, s.entries[from-1:to])
	return out, nil
}

// Head returns the resume point or ErrEmptyLedger.
func (s *MemoryStore) Head(ctx context.Context) (ledger.Head, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasHead {
		return ledger.Head{}, ledger.ErrEmptyLedger
	}
	return s.head, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

// Tamper overwrites a stored entry in place. Test hook only: it exists so
// integrity tests can corrupt a persisted byte and watch VerifyChain
// report the exact sequence.
func (s *MemoryStore) Tamper(seq uint64, mutate func(*ledger.Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq == 0 || seq > uint64(len(s.entries)) {
		return false
	}
	mutate(&s.entries[seq-1])
	return true
}
