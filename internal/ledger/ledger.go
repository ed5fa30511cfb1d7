// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ledger provides the append-only store of unlock attempts.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/YanDao0313/lockit/internal/audit"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrRecordNotFound is returned when deleting a record id that does not
	// exist. The caller reports it as a no-op failure, not a fault.
	ErrRecordNotFound = errors.New("unlock record not found")

	// ErrClearDenied is returned when the re-verification gating ClearAll
	// fails. The ledger is untouched.
	ErrClearDenied = errors.New("records clear denied: password verification failed")
)

// =============================================================================
// RECORD
// =============================================================================

// Record is one unlock attempt. Records are immutable once appended;
// the only mutations the store supports are Delete and ClearAll.
type Record struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Success      bool      `json:"success"`
	AttemptCount int       `json:"attempt_count"`
	Method       string    `json:"unlock_method,omitempty"`
	PhotoPath    string    `json:"photo_path,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// CredentialCheck gates destructive ledger operations behind the owner's
// fixed password. TOTP codes are deliberately not accepted here: clearing
// the ledger is a higher-risk action that requires the static secret.
type CredentialCheck interface {
	VerifyFixed(password string) (bool, error)
}

// =============================================================================
// STORE
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS unlock_records (
	id            TEXT PRIMARY KEY,
	ts            INTEGER NOT NULL,
	success       INTEGER NOT NULL,
	attempt_count INTEGER NOT NULL,
	method        TEXT NOT NULL DEFAULT '',
	photo_path    TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT ''
);
`

// Store persists unlock records in a SQLite database. All mutating
// operations run to completion under a single writer lock, so an Append can
// never interleave with a ClearAll.
type Store struct {
	db     *sql.DB
	check  CredentialCheck
	logger *audit.Logger
	mu     sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithAuditLogger attaches an audit trail for destructive ledger operations.
func WithAuditLogger(logger *audit.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (creating if necessary) a ledger database at path.
func Open(path string, check CredentialCheck, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	// The ledger has a single logical owner; one connection keeps SQLite's
	// writer semantics simple.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	s := &Store{db: db, check: check}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Append stores a new record, assigning an ID and timestamp when absent.
// Insertion order is preserved; growth is unbounded here, retention being a
// concern of the hosting application.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unlock_records (id, ts, success, attempt_count, method, photo_path, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixNano(), boolToInt(rec.Success),
		rec.AttemptCount, rec.Method, rec.PhotoPath, rec.Error)
	if err != nil {
		return fmt.Errorf("failed to append unlock record: %w", err)
	}
	return nil
}

// List returns all records, most recent first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, success, attempt_count, method, photo_path, error
		 FROM unlock_records ORDER BY rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlock records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var ts int64
		var success int
		if err := rows.Scan(&rec.ID, &ts, &success, &rec.AttemptCount,
			&rec.Method, &rec.PhotoPath, &rec.Error); err != nil {
			return nil, fmt.Errorf("failed to scan unlock record: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts)
		rec.Success = success != 0
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unlock records: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM unlock_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unlock records: %w", err)
	}
	return n, nil
}

// Delete removes one record by id. Returns ErrRecordNotFound when the id is
// absent; other records are untouched either way.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM unlock_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete unlock record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}

	_ = s.logger.LogEvent(audit.EventRecordDelete, true, map[string]string{
		"record_id": id,
	})
	return nil
}

// ClearAll empties the ledger after re-verifying the owner's fixed password.
// On verification failure the ledger is untouched and ErrClearDenied is
// returned; a missing fixed password surfaces as the verifier's
// configuration error, never as a silent success or failure.
func (s *Store) ClearAll(ctx context.Context, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.check.VerifyFixed(password)
	if err != nil {
		return err
	}
	if !ok {
		_ = s.logger.LogEvent(audit.EventRecordsClear, false, map[string]string{
			"error": "verification failed",
		})
		return ErrClearDenied
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clear transaction: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM unlock_records`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear unlock records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear transaction: %w", err)
	}

	cleared, _ := res.RowsAffected()
	_ = s.logger.LogEvent(audit.EventRecordsClear, true, map[string]string{
		"cleared": fmt.Sprintf("%d", cleared),
	})
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
