// Package sqlite is the concrete persistence backend: a single SQLite file
// (via the pure-Go modernc.org/sqlite driver) backing the authz, audit,
// approval, and identity stores, guarded against double-start by an
// exclusive file lock on a sidecar ".lock" file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// DB wraps the shared *sql.DB plus the lock file guarding it. Every
// domain store (Rules, Audit, Approvals, Identity) is a thin view over
// the same DB.
type DB struct {
	sql      *sql.DB
	lockFile *os.File
}

// Open opens (creating if needed) the SQLite database at path, takes an
// exclusive lock on path+".lock" to guard against a second "serve" process
// starting against the same file, and runs migrations.
func Open(path string) (*DB, error) {
	lockFile, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flockLock(lockFile.Fd()); err != nil {
		_ = lockFile.Close()
		return nil, fmt.Errorf("lock database: another tollgate process may be running against %s: %w", path, err)
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		_ = flockUnlock(lockFile.Fd())
		_ = lockFile.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sql: sqlDB, lockFile: lockFile}
	if err := db.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the file lock and closes the underlying connection.
func (db *DB) Close() error {
	sqlErr := db.sql.Close()
	lockErr := flockUnlock(db.lockFile.Fd())
	closeErr := db.lockFile.Close()
	if sqlErr != nil {
		return sqlErr
	}
	if lockErr != nil {
		return lockErr
	}
	return closeErr
}

func (db *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			workspace TEXT NOT NULL,
			name TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			effect TEXT NOT NULL,
			action_class TEXT NOT NULL,
			upstream_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			domain_pattern TEXT NOT NULL DEFAULT '',
			domain_match_type TEXT NOT NULL DEFAULT '',
			recipient TEXT NOT NULL DEFAULT '',
			smart_condition TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_workspace_enabled ON rules(workspace, enabled)`,
		`CREATE TABLE IF NOT EXISTS leases (
			id TEXT PRIMARY KEY,
			workspace TEXT NOT NULL,
			creator TEXT NOT NULL,
			action_class TEXT NOT NULL,
			upstream_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			domain_pattern TEXT NOT NULL DEFAULT '',
			domain_match_type TEXT NOT NULL DEFAULT '',
			recipient TEXT NOT NULL DEFAULT '',
			expires_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_leases_workspace_expires ON leases(workspace, expires_at)`,
		`CREATE TABLE IF NOT EXISTS audit_requests (
			id TEXT PRIMARY KEY,
			workspace TEXT NOT NULL,
			agent TEXT NOT NULL DEFAULT '',
			upstream_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			action_class TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			risk_flags TEXT NOT NULL,
			resource TEXT NOT NULL,
			args_redacted TEXT NOT NULL,
			args_hash TEXT NOT NULL,
			request_hash TEXT NOT NULL,
			decision TEXT NOT NULL,
			denial_reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_requests_workspace ON audit_requests(workspace)`,
		`CREATE TABLE IF NOT EXISTS approval_requests (
			id TEXT PRIMARY KEY,
			workspace TEXT NOT NULL,
			agent TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL,
			status TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			acted_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approval_requests_workspace ON approval_requests(workspace)`,
		`CREATE TABLE IF NOT EXISTS approval_tokens (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			hashed_token TEXT NOT NULL UNIQUE,
			raw_token TEXT NOT NULL DEFAULT '',
			request_hash TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			upstream_id TEXT NOT NULL,
			args_hash TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			consumed_at TEXT,
			retrieved_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approval_tokens_request_id ON approval_tokens(request_id)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			workspace TEXT NOT NULL,
			name TEXT NOT NULL,
			key_hash TEXT NOT NULL,
			last_seen_at TEXT,
			UNIQUE(workspace, key_hash)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.sql.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
