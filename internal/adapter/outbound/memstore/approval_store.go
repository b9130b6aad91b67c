package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/tollgate/tollgate/internal/domain/approval"
)

// ApprovalStore implements approval.Store with mutex-guarded maps,
// mirroring the in-memory CAS semantics approval's own test suite
// exercises against its package-private memStore.
type ApprovalStore struct {
	mu       sync.Mutex
	requests map[string]*approval.Request
	tokens   map[string]*approval.Token // by id
	byHash   map[string]string          // hashedToken -> id
}

// NewApprovalStore builds an empty ApprovalStore.
func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{
		requests: make(map[string]*approval.Request),
		tokens:   make(map[string]*approval.Token),
		byHash:   make(map[string]string),
	}
}

func (s *ApprovalStore) InsertRequest(_ context.Context, r *approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *ApprovalStore) GetRequest(_ context.Context, workspace, id string) (*approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Workspace != workspace {
		return nil, approval.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *ApprovalStore) UpdateRequestStatus(_ context.Context, workspace, id string, status approval.Status, actor string, actedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.Workspace != workspace {
		return approval.ErrNotFound
	}
	if r.EffectiveStatus(actedAt) != approval.StatusPending {
		return &approval.ErrAlreadyResolved{Status: r.Status}
	}
	r.Status = status
	r.Actor = actor
	r.ActedAt = actedAt
	return nil
}

func (s *ApprovalStore) InsertToken(_ context.Context, t *approval.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tokens[t.ID] = &cp
	s.byHash[t.HashedToken] = t.ID
	return nil
}

func (s *ApprovalStore) GetTokenByHash(_ context.Context, hashedToken string) (*approval.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHash[hashedToken]
	if !ok {
		return nil, approval.ErrNotFound
	}
	cp := *s.tokens[id]
	return &cp, nil
}

func (s *ApprovalStore) ConsumeToken(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return false, approval.ErrNotFound
	}
	if t.ConsumedAt != nil {
		return false, nil
	}
	t.ConsumedAt = &now
	return true, nil
}

func (s *ApprovalStore) MarkTokenRetrieved(_ context.Context, requestID string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.RequestID != requestID {
			continue
		}
		if t.RetrievedAt != nil {
			return "", nil
		}
		raw := t.RawToken
		t.RawToken = ""
		t.RetrievedAt = &now
		return raw, nil
	}
	return "", nil
}

var _ approval.Store = (*ApprovalStore)(nil)
