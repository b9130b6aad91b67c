package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tollgate/tollgate/internal/domain/approval"
	"github.com/tollgate/tollgate/internal/domain/audit"
	"github.com/tollgate/tollgate/internal/domain/authz"
	"github.com/tollgate/tollgate/internal/domain/classify"
	"github.com/tollgate/tollgate/internal/domain/hashutil"
	"github.com/tollgate/tollgate/internal/domain/identity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// identityMemStore backs identity.Service in tests.
type identityMemStore struct {
	agents map[string]*identity.Agent
}

func (m *identityMemStore) GetAgentByKeyHash(_ context.Context, workspace, keyHash string) (*identity.Agent, error) {
	a, ok := m.agents[keyHash]
	if !ok || a.Workspace != workspace {
		return nil, identity.ErrInvalidKey
	}
	return a, nil
}

func (m *identityMemStore) TouchLastSeen(_ context.Context, agentID string, at time.Time) error {
	return nil
}

// authzMemStore backs authz.Store in tests.
type authzMemStore struct {
	rules  map[string][]authz.Rule
	leases map[string][]authz.Lease
}

func (m *authzMemStore) ListEnabledRules(_ context.Context, workspace string) ([]authz.Rule, error) {
	return m.rules[workspace], nil
}
func (m *authzMemStore) ListActiveLeases(_ context.Context, workspace string) ([]authz.Lease, error) {
	return m.leases[workspace], nil
}
func (m *authzMemStore) SaveRule(context.Context, *authz.Rule) error                { return nil }
func (m *authzMemStore) DeleteRule(context.Context, string, string) error           { return nil }
func (m *authzMemStore) SaveLease(context.Context, *authz.Lease) error              { return nil }
func (m *authzMemStore) DeleteLease(context.Context, string, string) error          { return nil }

// approvalMemStore backs approval.Store in tests.
type approvalMemStore struct {
	requests map[string]*approval.Request
	tokens   map[string]*approval.Token
	byHash   map[string]string
}

func newApprovalMemStore() *approvalMemStore {
	return &approvalMemStore{
		requests: map[string]*approval.Request{},
		tokens:   map[string]*approval.Token{},
		byHash:   map[string]string{},
	}
}

func (m *approvalMemStore) InsertRequest(_ context.Context, r *approval.Request) error {
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}
func (m *approvalMemStore) GetRequest(_ context.Context, workspace, id string) (*approval.Request, error) {
	r, ok := m.requests[id]
	if !ok || r.Workspace != workspace {
		return nil, approval.ErrNotFound
	}
	cp := *r
	return &cp, nil
}
func (m *approvalMemStore) UpdateRequestStatus(_ context.Context, workspace, id string, status approval.Status, actor string, actedAt time.Time) error {
	r, ok := m.requests[id]
	if !ok || r.Workspace != workspace {
		return approval.ErrNotFound
	}
	r.Status = status
	r.Actor = actor
	r.ActedAt = actedAt
	return nil
}
func (m *approvalMemStore) InsertToken(_ context.Context, t *approval.Token) error {
	cp := *t
	m.tokens[t.ID] = &cp
	m.byHash[t.HashedToken] = t.ID
	return nil
}
func (m *approvalMemStore) GetTokenByHash(_ context.Context, hashedToken string) (*approval.Token, error) {
	id, ok := m.byHash[hashedToken]
	if !ok {
		return nil, approval.ErrNotFound
	}
	cp := *m.tokens[id]
	return &cp, nil
}
func (m *approvalMemStore) ConsumeToken(_ context.Context, id string, now time.Time) (bool, error) {
	t, ok := m.tokens[id]
	if !ok {
		return false, approval.ErrNotFound
	}
	if t.ConsumedAt != nil {
		return false, nil
	}
	t.ConsumedAt = &now
	return true, nil
}
func (m *approvalMemStore) MarkTokenRetrieved(_ context.Context, requestID string, now time.Time) (string, error) {
	for _, t := range m.tokens {
		if t.RequestID == requestID {
			if t.RetrievedAt != nil {
				return "", nil
			}
			raw := t.RawToken
			t.RawToken = ""
			t.RetrievedAt = &now
			return raw, nil
		}
	}
	return "", nil
}

// auditMemStore backs audit.Store in tests.
type auditMemStore struct {
	records []*audit.Request
}

func (m *auditMemStore) InsertRequest(_ context.Context, r *audit.Request) error {
	m.records = append(m.records, r)
	return nil
}

func (m *auditMemStore) GetRequest(_ context.Context, workspace, id string) (*audit.Request, error) {
	for _, r := range m.records {
		if r.Workspace == workspace && r.ID == id {
			return r, nil
		}
	}
	return nil, audit.ErrNotFound
}

func newTestAuthorizeService(t *testing.T, denyAll bool) (*AuthorizeService, *auditMemStore) {
	t.Helper()
	idStore := &identityMemStore{agents: map[string]*identity.Agent{
		identity.HashKey("agent-key-1"): {ID: "agent1", Workspace: "ws1"},
	}}
	idSvc := identity.NewService(idStore)

	authzStore := &authzMemStore{rules: map[string][]authz.Rule{}, leases: map[string][]authz.Lease{}}
	if denyAll {
		authzStore.rules["ws1"] = []authz.Rule{{
			ID: "deny-all", Workspace: "ws1", Enabled: true,
			Effect: authz.EffectDeny, ActionClass: classify.ActionAny,
		}}
	}
	evaluator := authz.NewEvaluator(authzStore, nil, testLogger())

	approvalStore := newApprovalMemStore()
	approvals := approval.NewManager(approvalStore)

	auditStore := &auditMemStore{}

	svc := NewAuthorizeService(idSvc, evaluator, approvals, auditStore, nil, testLogger())
	return svc, auditStore
}

func TestAuthorizeFreshAllowDefault(t *testing.T) {
	svc, auditStore := newTestAuthorizeService(t, false)

	resp, err := svc.Authorize(context.Background(), AuthorizeRequest{
		WorkspaceID:  "ws1",
		AgentKey:     "agent-key-1",
		BodyAgentKey: "agent-key-1",
		ToolName:     "notes_read",
		ActionClass:  classify.ActionRead,
		ArgsHash:     hashutil.ArgsHash(map[string]interface{}{"noteId": "n-1"}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Decision != audit.DecisionAllowed {
		t.Fatalf("expected allowed, got %+v", resp)
	}
	if len(auditStore.records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(auditStore.records))
	}
}

func TestAuthorizeRejectsUnknownAgent(t *testing.T) {
	svc, _ := newTestAuthorizeService(t, false)

	_, err := svc.Authorize(context.Background(), AuthorizeRequest{
		WorkspaceID:  "ws1",
		AgentKey:     "wrong-key",
		BodyAgentKey: "wrong-key",
		ToolName:     "notes_read",
		ActionClass:  classify.ActionRead,
	})
	if err == nil {
		t.Fatalf("expected error for unknown agent key")
	}
}

func TestAuthorizeFreshDenyWritesAuditRecord(t *testing.T) {
	svc, auditStore := newTestAuthorizeService(t, true)

	resp, err := svc.Authorize(context.Background(), AuthorizeRequest{
		WorkspaceID:  "ws1",
		AgentKey:     "agent-key-1",
		BodyAgentKey: "agent-key-1",
		ToolName:     "notes_read",
		ActionClass:  classify.ActionRead,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Decision != audit.DecisionDenied {
		t.Fatalf("expected denied, got %+v", resp)
	}
	if auditStore.records[0].DenialReason == "" {
		t.Fatalf("expected denial reason recorded")
	}
}

func TestAuthorizeTokenRetryAllowsOnValidToken(t *testing.T) {
	idStore := &identityMemStore{agents: map[string]*identity.Agent{
		identity.HashKey("agent-key-1"): {ID: "agent1", Workspace: "ws1"},
	}}
	idSvc := identity.NewService(idStore)

	authzStore := &authzMemStore{rules: map[string][]authz.Rule{}, leases: map[string][]authz.Lease{}}
	evaluator := authz.NewEvaluator(authzStore, nil, testLogger())

	approvalStore := newApprovalMemStore()
	approvals := approval.NewManager(approvalStore)
	auditStore := &auditMemStore{}
	svc := NewAuthorizeService(idSvc, evaluator, approvals, auditStore, nil, testLogger())

	now := time.Now()
	req, err := approvals.Create(context.Background(), "ws1", "agent1", "orig-req", now)
	if err != nil {
		t.Fatalf("create approval: %v", err)
	}
	binding := approval.Binding{ToolName: "email_send", UpstreamID: "up1", ArgsHash: "ah1", RequestHash: "rh1"}
	tok, err := approvals.Approve(context.Background(), "ws1", req.ID, "human1", binding, now)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	resp, err := svc.Authorize(context.Background(), AuthorizeRequest{
		WorkspaceID:   "ws1",
		AgentKey:      "agent-key-1",
		BodyAgentKey:  "agent-key-1",
		ToolName:      "email_send",
		UpstreamID:    "up1",
		ArgsHash:      "ah1",
		RequestHash:   "rh1",
		ApprovalToken: tok.RawToken,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Decision != audit.DecisionAllowed {
		t.Fatalf("expected allowed on valid token retry, got %+v", resp)
	}
}

func TestAuthorizeTokenRetryDeniesOnBindingMismatch(t *testing.T) {
	idStore := &identityMemStore{agents: map[string]*identity.Agent{
		identity.HashKey("agent-key-1"): {ID: "agent1", Workspace: "ws1"},
	}}
	idSvc := identity.NewService(idStore)
	authzStore := &authzMemStore{rules: map[string][]authz.Rule{}, leases: map[string][]authz.Lease{}}
	evaluator := authz.NewEvaluator(authzStore, nil, testLogger())
	approvalStore := newApprovalMemStore()
	approvals := approval.NewManager(approvalStore)
	auditStore := &auditMemStore{}
	svc := NewAuthorizeService(idSvc, evaluator, approvals, auditStore, nil, testLogger())

	now := time.Now()
	req, _ := approvals.Create(context.Background(), "ws1", "agent1", "orig-req", now)
	binding := approval.Binding{ToolName: "email_send", UpstreamID: "up1", ArgsHash: "ah1", RequestHash: "rh1"}
	tok, _ := approvals.Approve(context.Background(), "ws1", req.ID, "human1", binding, now)

	resp, err := svc.Authorize(context.Background(), AuthorizeRequest{
		WorkspaceID:   "ws1",
		AgentKey:      "agent-key-1",
		BodyAgentKey:  "agent-key-1",
		ToolName:      "email_send",
		UpstreamID:    "up1",
		ArgsHash:      "tampered",
		RequestHash:   "rh1",
		ApprovalToken: tok.RawToken,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Decision != audit.DecisionDenied {
		t.Fatalf("expected denied on binding mismatch, got %+v", resp)
	}
	if !strings.Contains(resp.Reason, "args_hash") {
		t.Fatalf("expected denial reason to name args_hash, got %q", resp.Reason)
	}
}
