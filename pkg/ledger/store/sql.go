package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/caretrust/auditchain/pkg/ledger"
)

// SQLStore implements ledger.Store over database/sql. It works against
// both Postgres (lib/pq) and SQLite (modernc.org/sqlite); both accept the
// $N placeholder form.
//
// Layout: an append-only ledger_entries table keyed by sequence with a
// unique index on action_id for duplicate detection, plus a single-row
// ledger_head table updated in the same transaction as each insert so a
// restart resumes ChainState without replaying history.
type SQLStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	sequence    BIGINT PRIMARY KEY,
	action_id   TEXT NOT NULL UNIQUE,
	prev_digest TEXT NOT NULL,
	digest      TEXT NOT NULL,
	key_id      TEXT NOT NULL,
	entry       TEXT NOT NULL,
	recorded_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_head (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	last_sequence BIGINT NOT NULL,
	last_digest   TEXT NOT NULL,
	key_id        TEXT NOT NULL
);
`

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Init creates the schema if missing.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: schema init failed: %w", err)
		}
	}
	return nil
}

// Append persists the entry and advances the head row in one transaction.
// The commit is the durability point: the ledger only acknowledges the
// entry after this returns nil.
func (s *SQLStore) Append(ctx context.Context, entry ledger.Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: entry serialization failed: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin failed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (sequence, action_id, prev_digest, digest, key_id, entry, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.Sequence, entry.Action.ID.String(), entry.PrevDigest, entry.Digest,
		entry.Signature.KeyID, string(raw), entry.RecordedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateAction
		}
		return fmt.Errorf("store: insert failed: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_head (id, last_sequence, last_digest, key_id)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET last_sequence = $1, last_digest = $2, key_id = $3`,
		entry.Sequence, entry.Digest, entry.Signature.KeyID,
	)
	if err != nil {
		return fmt.Errorf("store: head update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit failed: %w", err)
	}
	return nil
}

// Range returns entries with from <= sequence <= to, ascending.
func (s *SQLStore) Range(ctx context.Context, from, to uint64) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry FROM ledger_entries
		WHERE sequence >= $1 AND sequence <= $2
		ORDER BY sequence ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("store: range query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]ledger.Entry, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: scan failed: %w", err)
		}
		var e ledger.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("store: entry deserialization failed: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: range iteration failed: %w", err)
	}
	return entries, nil
}

// Head returns the persisted resume point or ErrEmptyLedger.
func (s *SQLStore) Head(ctx context.Context) (ledger.Head, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT last_sequence, last_digest, key_id FROM ledger_head WHERE id = 1`)

	var h ledger.Head
	err := row.Scan(&h.LastSequence, &h.LastDigest, &h.KeyID)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Head{}, ledger.ErrEmptyLedger
	}
	if err != nil {
		return ledger.Head{}, fmt.Errorf("store: head query failed: %w", err)
	}
	return h, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// isUniqueViolation matches constraint errors from both supported
// drivers: lib/pq reports SQLSTATE 23505, modernc sqlite reports
// "UNIQUE constraint failed".
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "23505")
}
