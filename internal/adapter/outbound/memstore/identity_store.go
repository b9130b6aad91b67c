package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/tollgate/tollgate/internal/domain/identity"
)

// IdentityStore implements identity.Store with a mutex-guarded map
// keyed by agent ID; key lookups scan it for a workspace+keyHash match.
type IdentityStore struct {
	mu     sync.RWMutex
	agents map[string]*identity.Agent // id -> agent
}

// NewIdentityStore builds an empty IdentityStore.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{agents: make(map[string]*identity.Agent)}
}

func (s *IdentityStore) GetAgentByKeyHash(_ context.Context, workspace, keyHash string) (*identity.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agents {
		if a.Workspace == workspace && a.KeyHash == keyHash {
			cp := *a
			return &cp, nil
		}
	}
	return nil, identity.ErrInvalidKey
}

func (s *IdentityStore) TouchLastSeen(_ context.Context, agentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[agentID]; ok {
		a.LastSeenAt = at
	}
	return nil
}

// SaveAgent inserts or updates an agent record, for seeding dev-mode
// workspaces without a real database.
func (s *IdentityStore) SaveAgent(_ context.Context, a *identity.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.agents[a.ID] = &cp
	return nil
}

var _ identity.Store = (*IdentityStore)(nil)
