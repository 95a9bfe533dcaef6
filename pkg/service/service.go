// Package service is the recording pipeline: an action is evaluated by
// every registered jurisdiction validator, then appended to the ledger
// together with its verdicts in one atomic step. Recording never blocks
// on the action's compliance outcome; a violating action is recorded
// exactly like a compliant one, with the violation in its verdicts.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caretrust/auditchain/pkg/compliance"
	"github.com/caretrust/auditchain/pkg/contracts"
	"github.com/caretrust/auditchain/pkg/ledger"
)

// ErrInvalidAction is returned when a submitted action is missing
// required attributes.
var ErrInvalidAction = errors.New("service: invalid action")

// Metrics receives verification sweep outcomes. The observability
// provider satisfies it; nil disables.
type Metrics interface {
	RecordVerify(ctx context.Context, intact bool)
}

// Service wires the validator registry to the ledger.
type Service struct {
	ledger   *ledger.Ledger
	registry *compliance.Registry
	metrics  Metrics
	log      *slog.Logger
}

func New(l *ledger.Ledger, r *compliance.Registry, m Metrics, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{ledger: l, registry: r, metrics: m, log: log}
}

// Record runs the full pipeline for one action: validate shape, collect
// verdicts from every applicable jurisdiction, append. The returned
// entry is durable by the time Record returns.
func (s *Service) Record(ctx context.Context, action contracts.Action) (*ledger.Entry, error) {
	if err := validate(action); err != nil {
		return nil, err
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}

	verdicts := s.registry.EvaluateAll(ctx, action)

	entry, err := s.ledger.Append(ctx, action, verdicts)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Entries reads a range of persisted entries. Zero bounds clamp to the
// chain's extent.
func (s *Service) Entries(ctx context.Context, from, to uint64) ([]ledger.Entry, error) {
	return s.ledger.ReadRange(ctx, from, to)
}

// Head returns the current chain position.
func (s *Service) Head() (uint64, string) {
	return s.ledger.Head()
}

// VerifyReport is the outcome of a chain verification sweep.
type VerifyReport struct {
	Intact       bool   `json:"intact"`
	HeadSequence uint64 `json:"head_sequence"`
	HeadDigest   string `json:"head_digest"`
	// First violation found, when not intact.
	Violation *ledger.IntegrityViolation `json:"violation,omitempty"`
}

// Verify recomputes digests, links and signatures over [from, to] and
// reports the first violation. A verification error that is not an
// integrity violation (a failed read, say) is returned as an error.
func (s *Service) Verify(ctx context.Context, from, to uint64) (VerifyReport, error) {
	seq, digest := s.ledger.Head()
	report := VerifyReport{Intact: true, HeadSequence: seq, HeadDigest: digest}

	err := s.ledger.VerifyChain(ctx, from, to)
	if err == nil {
		s.recordSweep(ctx, true)
		return report, nil
	}

	var iv *ledger.IntegrityViolation
	if errors.As(err, &iv) {
		report.Intact = false
		report.Violation = iv
		s.log.Error("chain integrity violation",
			"sequence", iv.Sequence,
			"reason", iv.Reason)
		s.recordSweep(ctx, false)
		return report, nil
	}
	return report, fmt.Errorf("service: verification sweep failed: %w", err)
}

// recordSweep counts completed sweeps only; sweeps that fail on a read
// error produced no verdict on the chain and are not counted.
func (s *Service) recordSweep(ctx context.Context, intact bool) {
	if s.metrics != nil {
		s.metrics.RecordVerify(ctx, intact)
	}
}

func validate(action contracts.Action) error {
	switch {
	case action.ActorID == "":
		return fmt.Errorf("%w: actor_id is required", ErrInvalidAction)
	case action.SubjectID == "":
		return fmt.Errorf("%w: subject_id is required", ErrInvalidAction)
	case !action.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, action.Kind)
	}
	return nil
}
