// Package identity authenticates agents against their hashed client key
// and enforces workspace isolation (spec §4.8 steps 1-3).
package identity

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"
)

// ErrInvalidKey is returned for any authentication failure: unknown
// agent, workspace mismatch, or wrong key. The gateway collapses all of
// these into a single 401 to avoid leaking which part was wrong.
var ErrInvalidKey = errors.New("identity: invalid agent key")

// Agent is the Agent entity (spec §3). The raw client key is never
// stored; only its hash is.
type Agent struct {
	ID           string
	Workspace    string
	Name         string
	KeyHash      string
	LastSeenAt   time.Time
}

// Store resolves an agent by workspace and key hash, and records
// last-seen activity.
type Store interface {
	GetAgentByKeyHash(ctx context.Context, workspace, keyHash string) (*Agent, error)
	TouchLastSeen(ctx context.Context, agentID string, at time.Time) error
}

// HashKey returns the SHA-256 hex digest of a raw agent key. Mirrors the
// teacher's auth.HashKey fast-path hash, generalized as the only hashing
// mode agent keys use in this spec (no Argon2id tier -- see SPEC_FULL.md
// DOMAIN STACK for why that dependency was dropped).
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// Service authenticates agents.
type Service struct {
	store Store
}

// NewService builds a Service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Authenticate verifies headerKey equals bodyKey (defense in depth, spec
// §4.8 step 1) and resolves the matching agent by workspace and key
// hash (step 2), then touches last-seen (step 3).
func (s *Service) Authenticate(ctx context.Context, workspace, headerKey, bodyKey string, now time.Time) (*Agent, error) {
	if subtle.ConstantTimeCompare([]byte(headerKey), []byte(bodyKey)) != 1 {
		return nil, ErrInvalidKey
	}
	if headerKey == "" {
		return nil, ErrInvalidKey
	}

	agent, err := s.store.GetAgentByKeyHash(ctx, workspace, HashKey(headerKey))
	if err != nil {
		return nil, ErrInvalidKey
	}

	if err := s.store.TouchLastSeen(ctx, agent.ID, now); err != nil {
		return nil, err
	}
	agent.LastSeenAt = now
	return agent, nil
}
