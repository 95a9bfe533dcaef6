// Package ledger — the tamper-evident audit ledger.
//
// Every appended entry is hash-chained to its predecessor and signed with
// the active post-quantum key. Append-only: no mutation or deletion is
// expressible through this package, and the chain can be independently
// re-verified by recomputing every digest from persisted content.
package ledger

import (
	"fmt"
	"time"

	"github.com/caretrust/auditchain/pkg/canonicalize"
	"github.com/caretrust/auditchain/pkg/contracts"
	"github.com/caretrust/auditchain/pkg/crypto"
)

// ChainVersion tags the digest input so a future serialization change
// cannot silently collide with digests computed under this scheme.
const ChainVersion = "chain_v1"

// GenesisDigest is the fixed predecessor digest of the first entry.
const GenesisDigest = "genesis"

// Entry is an immutable, signed, hash-chained ledger record.
type Entry struct {
	Sequence   uint64              `json:"sequence"`
	Action     contracts.Action    `json:"action"`
	Verdicts   []contracts.Verdict `json:"verdicts"`
	PrevDigest string              `json:"prev_digest"`
	Digest     string              `json:"digest"`
	Signature  crypto.Signature    `json:"signature"`
	RecordedAt time.Time           `json:"recorded_at"`
}

// digestEnvelope is the canonical digest input. Field names are part of
// the chain format; changing them requires a new ChainVersion.
type digestEnvelope struct {
	Version    string              `json:"version"`
	Sequence   uint64              `json:"sequence"`
	PrevDigest string              `json:"prev_digest"`
	Action     contracts.Action    `json:"action"`
	Verdicts   []contracts.Verdict `json:"verdicts"`
}

// ComputeDigest binds an entry's content and chain position into a single
// digest: SHA-256 over the RFC 8785 canonical JSON of the versioned
// envelope. Deterministic by construction.
func ComputeDigest(sequence uint64, prevDigest string, action contracts.Action, verdicts []contracts.Verdict) (string, error) {
	if verdicts == nil {
		verdicts = []contracts.Verdict{}
	}
	env := digestEnvelope{
		Version:    ChainVersion,
		Sequence:   sequence,
		PrevDigest: prevDigest,
		Action:     action,
		Verdicts:   verdicts,
	}
	h, err := canonicalize.CanonicalHash(env)
	if err != nil {
		return "", fmt.Errorf("ledger: digest computation failed: %w", err)
	}
	return "sha256:" + h, nil
}
