package memstore

import (
	"context"
	"sync"

	"github.com/tollgate/tollgate/internal/domain/audit"
)

// AuditStore implements audit.Store with a mutex-guarded map.
type AuditStore struct {
	mu      sync.RWMutex
	records map[string]*audit.Request
}

// NewAuditStore builds an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{records: make(map[string]*audit.Request)}
}

func (s *AuditStore) InsertRequest(_ context.Context, r *audit.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.records[r.ID] = &cp
	return nil
}

func (s *AuditStore) GetRequest(_ context.Context, workspace, id string) (*audit.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok || r.Workspace != workspace {
		return nil, audit.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

var _ audit.Store = (*AuditStore)(nil)
