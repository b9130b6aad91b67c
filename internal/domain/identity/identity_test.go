package identity

import (
	"context"
	"testing"
	"time"
)

type memStore struct {
	agents map[string]*Agent // keyHash -> agent
}

func (m *memStore) GetAgentByKeyHash(_ context.Context, workspace, keyHash string) (*Agent, error) {
	a, ok := m.agents[keyHash]
	if !ok || a.Workspace != workspace {
		return nil, ErrInvalidKey
	}
	return a, nil
}

func (m *memStore) TouchLastSeen(_ context.Context, agentID string, at time.Time) error {
	return nil
}

func TestAuthenticateSuccess(t *testing.T) {
	store := &memStore{agents: map[string]*Agent{
		HashKey("raw-key-1"): {ID: "a1", Workspace: "ws1", Name: "agent-1"},
	}}
	s := NewService(store)

	agent, err := s.Authenticate(context.Background(), "ws1", "raw-key-1", "raw-key-1", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agent.ID != "a1" {
		t.Fatalf("expected agent a1, got %+v", agent)
	}
}

func TestAuthenticateRejectsHeaderBodyMismatch(t *testing.T) {
	store := &memStore{agents: map[string]*Agent{
		HashKey("raw-key-1"): {ID: "a1", Workspace: "ws1"},
	}}
	s := NewService(store)

	_, err := s.Authenticate(context.Background(), "ws1", "raw-key-1", "raw-key-2", time.Now())
	if err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestAuthenticateRejectsUnknownKey(t *testing.T) {
	store := &memStore{agents: map[string]*Agent{}}
	s := NewService(store)

	_, err := s.Authenticate(context.Background(), "ws1", "raw-key-1", "raw-key-1", time.Now())
	if err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestAuthenticateRejectsWorkspaceMismatch(t *testing.T) {
	store := &memStore{agents: map[string]*Agent{
		HashKey("raw-key-1"): {ID: "a1", Workspace: "ws-other"},
	}}
	s := NewService(store)

	_, err := s.Authenticate(context.Background(), "ws1", "raw-key-1", "raw-key-1", time.Now())
	if err != ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
