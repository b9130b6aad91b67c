package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tollgate/tollgate/internal/domain/identity"
)

// IdentityStore implements identity.Store against the shared DB.
type IdentityStore struct {
	db *DB
}

// NewIdentityStore builds an IdentityStore backed by db.
func NewIdentityStore(db *DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) GetAgentByKeyHash(ctx context.Context, workspace, keyHash string) (*identity.Agent, error) {
	row := s.db.sql.QueryRowContext(ctx, `
		SELECT id, workspace, name, key_hash, last_seen_at
		FROM agents WHERE workspace = ? AND key_hash = ?`, workspace, keyHash)

	var (
		a          identity.Agent
		lastSeenAt sql.NullString
	)
	err := row.Scan(&a.ID, &a.Workspace, &a.Name, &a.KeyHash, &lastSeenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrInvalidKey
		}
		return nil, fmt.Errorf("get agent by key hash: %w", err)
	}
	if lastSeenAt.Valid {
		a.LastSeenAt = parseTime(lastSeenAt.String)
	}
	return &a, nil
}

func (s *IdentityStore) TouchLastSeen(ctx context.Context, agentID string, at time.Time) error {
	_, err := s.db.sql.ExecContext(ctx, `UPDATE agents SET last_seen_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), agentID)
	if err != nil {
		return fmt.Errorf("touch agent last seen: %w", err)
	}
	return nil
}

// SaveAgent inserts or updates an agent record (upsert on id). The seed
// loader does not provision agents.
func (s *IdentityStore) SaveAgent(ctx context.Context, a *identity.Agent) error {
	_, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO agents (id, workspace, name, key_hash, last_seen_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, key_hash=excluded.key_hash`,
		a.ID, a.Workspace, a.Name, a.KeyHash, nullableTime(a.LastSeenAt))
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}
