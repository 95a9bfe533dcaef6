package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/caretrust/auditchain/pkg/contracts"
	"github.com/caretrust/auditchain/pkg/crypto"
)

// Store is the durable record store backing the ledger: an append-only
// sequence of entries keyed by sequence number plus a small head record
// that lets ChainState resume after restart without replaying history.
type Store interface {
	// Append persists the entry durably. Must reject an already-sequenced
	// action id with ErrDuplicateAction and never overwrite an existing
	// sequence.
	Append(ctx context.Context, entry Entry) error
	// Range returns entries with from <= sequence <= to, ascending.
	Range(ctx context.Context, from, to uint64) ([]Entry, error)
	// Head returns the resume point, or ErrEmptyLedger.
	Head(ctx context.Context) (Head, error)
	Close() error
}

// Head is the persisted chain resume point.
type Head struct {
	LastSequence uint64
	LastDigest   string
	KeyID        string
}

// Handler observes successfully appended entries. Handlers run after the
// durable write, in sequence order, and must not block.
type Handler func(Entry)

// Ledger owns ChainState and enforces the single-writer discipline around
// (lastSequence, lastDigest) plus the durable write. Validators run before
// Append and are free to execute in parallel; only the append itself is
// serialized.
type Ledger struct {
	mu         sync.RWMutex
	store      Store
	signer     crypto.Signer
	ring       *crypto.KeyRing
	lastSeq    uint64
	lastDigest string

	handlerMu sync.RWMutex
	handlers  []Handler

	log   *slog.Logger
	clock func() time.Time
}

// Open constructs the ledger, resuming ChainState from the store head or
// starting at genesis when nothing has been persisted.
func Open(ctx context.Context, store Store, signer crypto.Signer, ring *crypto.KeyRing, log *slog.Logger) (*Ledger, error) {
	if log == nil {
		log = slog.Default()
	}
	l := &Ledger{
		store:      store,
		signer:     signer,
		ring:       ring,
		lastDigest: GenesisDigest,
		log:        log,
		clock:      time.Now,
	}

	head, err := store.Head(ctx)
	switch {
	case err == nil:
		l.lastSeq = head.LastSequence
		l.lastDigest = head.LastDigest
		log.Info("ledger resumed",
			"last_sequence", head.LastSequence,
			"key_id", head.KeyID)
	case err == ErrEmptyLedger:
		log.Info("ledger starting at genesis")
	default:
		return nil, fmt.Errorf("ledger: loading head failed: %w", err)
	}
	return l, nil
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// RegisterHandler adds an observer for appended entries.
func (l *Ledger) RegisterHandler(h Handler) {
	l.handlerMu.Lock()
	defer l.handlerMu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Append evaluates nothing and trusts its inputs: the action has already
// been through the validator registry. It computes the next sequence and
// digest, signs the digest, persists durably, and only then advances
// ChainState in memory. A persisted-but-unacknowledged entry is
// recoverable from the store head; an acknowledged-but-unpersisted entry
// cannot be observed. Not cancellable once the durable write begins.
func (l *Ledger) Append(ctx context.Context, action contracts.Action, verdicts []contracts.Verdict) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastSeq == math.MaxUint64 {
		return nil, ErrSequenceOverflow
	}
	seq := l.lastSeq + 1

	digest, err := ComputeDigest(seq, l.lastDigest, action, verdicts)
	if err != nil {
		return nil, err
	}

	sig, err := l.signer.Sign([]byte(digest))
	if err != nil {
		// KeyUnavailable is fatal: refuse to append unsigned entries.
		return nil, fmt.Errorf("ledger: refusing unsigned append: %w", err)
	}

	if verdicts == nil {
		verdicts = []contracts.Verdict{}
	}
	entry := Entry{
		Sequence:   seq,
		Action:     action,
		Verdicts:   verdicts,
		PrevDigest: l.lastDigest,
		Digest:     digest,
		Signature:  sig,
		RecordedAt: l.clock().UTC(),
	}

	if err := l.store.Append(ctx, entry); err != nil {
		if err == ErrDuplicateAction {
			return nil, ErrDuplicateAction
		}
		return nil, &PersistenceError{Op: "append", Err: err}
	}

	// Durable write succeeded; now the entry may be acknowledged.
	l.lastSeq = seq
	l.lastDigest = digest

	l.log.Info("ledger append",
		"sequence", seq,
		"action_id", action.ID.String(),
		"kind", string(action.Kind),
		"verdicts", len(verdicts),
		"severity", string(contracts.MaxSeverity(verdicts)))

	// Handlers run under the writer lock so they observe entries in
	// sequence order. They must not block; the alert distributor's
	// enqueue is non-blocking by design.
	l.notify(entry)
	return &entry, nil
}

func (l *Ledger) notify(entry Entry) {
	l.handlerMu.RLock()
	handlers := make([]Handler, len(l.handlers))
	copy(handlers, l.handlers)
	l.handlerMu.RUnlock()
	for _, h := range handlers {
		h(entry)
	}
}

// Head returns the current chain position.
func (l *Ledger) Head() (uint64, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeq, l.lastDigest
}

// ReadRange returns entries in [from, to], clamped to the chain head at
// call time. It never takes the writer lock beyond snapshotting the head,
// so it is safe to run concurrently with appends.
func (l *Ledger) ReadRange(ctx context.Context, from, to uint64) ([]Entry, error) {
	head, _ := l.Head()
	if from == 0 {
		from = 1
	}
	if to == 0 || to > head {
		to = head
	}
	if head == 0 || from > to {
		return []Entry{}, nil
	}
	entries, err := l.store.Range(ctx, from, to)
	if err != nil {
		return nil, &PersistenceError{Op: "range", Err: err}
	}
	return entries, nil
}

// VerifyChain recomputes every digest, signature and prev-digest link in
// [from, to] and returns the first IntegrityViolation found, or nil.
func (l *Ledger) VerifyChain(ctx context.Context, from, to uint64) error {
	if from <= 1 {
		from = 1
	}
	entries, err := l.ReadRange(ctx, from, to)
	if err != nil {
		return err
	}

	// The expected predecessor digest for the first entry of the range.
	prev := GenesisDigest
	if from > 1 {
		before, err := l.ReadRange(ctx, from-1, from-1)
		if err != nil {
			return err
		}
		if len(before) != 1 {
			return &IntegrityViolation{Sequence: from - 1, Reason: "predecessor entry missing"}
		}
		prev = before[0].Digest
	}

	expectSeq := from
	for _, e := range entries {
		if e.Sequence != expectSeq {
			return &IntegrityViolation{Sequence: expectSeq, Reason: fmt.Sprintf("sequence gap: found %d", e.Sequence)}
		}
		if e.PrevDigest != prev {
			return &IntegrityViolation{Sequence: e.Sequence, Reason: "prev_digest does not match predecessor digest"}
		}
		recomputed, err := ComputeDigest(e.Sequence, e.PrevDigest, e.Action, e.Verdicts)
		if err != nil {
			return &IntegrityViolation{Sequence: e.Sequence, Reason: "digest recomputation failed: " + err.Error()}
		}
		if recomputed != e.Digest {
			return &IntegrityViolation{Sequence: e.Sequence, Reason: "stored digest does not match content"}
		}
		if l.ring != nil && !l.ring.Verify([]byte(e.Digest), e.Signature) {
			return &IntegrityViolation{Sequence: e.Sequence, Reason: "signature verification failed"}
		}
		prev = e.Digest
		expectSeq++
	}
	return nil
}

// Close flushes and releases the store. The ledger must not be used
// afterwards.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Close()
}
