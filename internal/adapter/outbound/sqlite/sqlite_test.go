package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tollgate/tollgate/internal/domain/approval"
	"github.com/tollgate/tollgate/internal/domain/audit"
	"github.com/tollgate/tollgate/internal/domain/authz"
	"github.com/tollgate/tollgate/internal/domain/classify"
	"github.com/tollgate/tollgate/internal/domain/identity"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tollgate.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRuleStoreSaveAndList(t *testing.T) {
	db := openTestDB(t)
	store := NewRuleStore(db)
	ctx := context.Background()
	now := time.Now()

	rule := &authz.Rule{
		ID:          "r1",
		Workspace:   "ws1",
		Name:        "allow reads",
		Priority:    10,
		Enabled:     true,
		Effect:      authz.EffectAllow,
		ActionClass: classify.ActionRead,
		CreatedAt:   now,
	}
	if err := store.SaveRule(ctx, rule); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}

	rules, err := store.ListEnabledRules(ctx, "ws1")
	if err != nil {
		t.Fatalf("ListEnabledRules: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != "r1" {
		t.Fatalf("got %+v, want one rule r1", rules)
	}

	lease := &authz.Lease{
		ID:          "l1",
		Workspace:   "ws1",
		Creator:     "human1",
		ActionClass: classify.ActionSend,
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
	}
	if err := store.SaveLease(ctx, lease); err != nil {
		t.Fatalf("SaveLease: %v", err)
	}
	leases, err := store.ListActiveLeases(ctx, "ws1")
	if err != nil {
		t.Fatalf("ListActiveLeases: %v", err)
	}
	if len(leases) != 1 || leases[0].ID != "l1" {
		t.Fatalf("got %+v, want one lease l1", leases)
	}

	if err := store.DeleteRule(ctx, "ws1", "r1"); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	rules, _ = store.ListEnabledRules(ctx, "ws1")
	if len(rules) != 0 {
		t.Fatalf("rule not deleted: %+v", rules)
	}
}

func TestAuditStoreInsertAndGet(t *testing.T) {
	db := openTestDB(t)
	store := NewAuditStore(db)
	ctx := context.Background()

	req := &audit.Request{
		ID:          "req1",
		Workspace:   "ws1",
		Agent:       "agent1",
		UpstreamID:  "upstream1",
		ToolName:    "send_email",
		ActionClass: classify.ActionSend,
		RiskLevel:   classify.RiskMedium,
		RiskFlags:   classify.RiskFlags{ExternalDomain: true},
		Resource:    classify.Resource{Domain: "example.com"},
		ArgsRedacted: map[string]interface{}{
			"to": "***@example.com",
		},
		ArgsHash:    "argshash",
		RequestHash: "reqhash",
		Decision:    audit.DecisionApprovalRequired,
		CreatedAt:   time.Now(),
	}
	if err := store.InsertRequest(ctx, req); err != nil {
		t.Fatalf("InsertRequest: %v", err)
	}

	got, err := store.GetRequest(ctx, "ws1", "req1")
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.ToolName != "send_email" || got.Decision != audit.DecisionApprovalRequired {
		t.Fatalf("got %+v", got)
	}
	if !got.RiskFlags.ExternalDomain {
		t.Fatalf("risk flags not round-tripped: %+v", got.RiskFlags)
	}
	if got.Resource.Domain != "example.com" {
		t.Fatalf("resource not round-tripped: %+v", got.Resource)
	}

	if _, err := store.GetRequest(ctx, "ws1", "missing"); err != audit.ErrNotFound {
		t.Fatalf("got err %v, want audit.ErrNotFound", err)
	}
}

func TestApprovalStoreLifecycle(t *testing.T) {
	db := openTestDB(t)
	store := NewApprovalStore(db)
	ctx := context.Background()
	now := time.Now()

	req := &approval.Request{
		ID:        "appr1",
		Workspace: "ws1",
		Agent:     "agent1",
		RequestID: "req1",
		Status:    approval.StatusPending,
		ExpiresAt: now.Add(24 * time.Hour),
		CreatedAt: now,
	}
	if err := store.InsertRequest(ctx, req); err != nil {
		t.Fatalf("InsertRequest: %v", err)
	}

	tok := &approval.Token{
		ID:          "tok1",
		RequestID:   "appr1",
		HashedToken: "hashed1",
		RawToken:    "raw1",
		RequestHash: "rh",
		ToolName:    "send_email",
		UpstreamID:  "upstream1",
		ArgsHash:    "ah",
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
	}
	if err := store.InsertToken(ctx, tok); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}

	if err := store.UpdateRequestStatus(ctx, "ws1", "appr1", approval.StatusApproved, "human1", now); err != nil {
		t.Fatalf("UpdateRequestStatus: %v", err)
	}
	if err := store.UpdateRequestStatus(ctx, "ws1", "appr1", approval.StatusDenied, "human2", now); err == nil {
		t.Fatal("expected ErrAlreadyResolved transitioning out of approved")
	}

	raw, err := store.MarkTokenRetrieved(ctx, "appr1", now)
	if err != nil {
		t.Fatalf("MarkTokenRetrieved: %v", err)
	}
	if raw != "raw1" {
		t.Fatalf("raw = %q, want raw1", raw)
	}
	raw, err = store.MarkTokenRetrieved(ctx, "appr1", now)
	if err != nil {
		t.Fatalf("MarkTokenRetrieved second call: %v", err)
	}
	if raw != "" {
		t.Fatalf("second retrieval returned %q, want empty", raw)
	}

	got, err := store.GetTokenByHash(ctx, "hashed1")
	if err != nil {
		t.Fatalf("GetTokenByHash: %v", err)
	}
	if got.RawToken != "" {
		t.Fatalf("raw token not cleared: %q", got.RawToken)
	}
}

// TestApprovalStoreConsumeTokenExactlyOneWinsUnderRace exercises the CAS
// this store must provide under real concurrent writers, the same
// guarantee approval.Manager relies on in-memory (spec §4.7 step 3).
func TestApprovalStoreConsumeTokenExactlyOneWinsUnderRace(t *testing.T) {
	db := openTestDB(t)
	store := NewApprovalStore(db)
	ctx := context.Background()
	now := time.Now()

	req := &approval.Request{
		ID: "appr1", Workspace: "ws1", RequestID: "req1",
		Status: approval.StatusPending, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}
	if err := store.InsertRequest(ctx, req); err != nil {
		t.Fatalf("InsertRequest: %v", err)
	}
	tok := &approval.Token{
		ID: "tok1", RequestID: "appr1", HashedToken: "hashed1",
		ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}
	if err := store.InsertToken(ctx, tok); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	var successCount int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ConsumeToken(ctx, "tok1", now)
			if err != nil {
				t.Errorf("ConsumeToken: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&successCount, 1)
			}
		}()
	}
	wg.Wait()

	if successCount != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", successCount)
	}
}

func TestIdentityStoreGetAndTouch(t *testing.T) {
	db := openTestDB(t)
	store := NewIdentityStore(db)
	ctx := context.Background()
	now := time.Now()

	agent := &identity.Agent{
		ID: "agent1", Workspace: "ws1", Name: "ops-bot", KeyHash: identity.HashKey("rawkey"),
	}
	if err := store.SaveAgent(ctx, agent); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	got, err := store.GetAgentByKeyHash(ctx, "ws1", identity.HashKey("rawkey"))
	if err != nil {
		t.Fatalf("GetAgentByKeyHash: %v", err)
	}
	if got.Name != "ops-bot" {
		t.Fatalf("got %+v", got)
	}

	if err := store.TouchLastSeen(ctx, "agent1", now); err != nil {
		t.Fatalf("TouchLastSeen: %v", err)
	}
	got, _ = store.GetAgentByKeyHash(ctx, "ws1", identity.HashKey("rawkey"))
	if got.LastSeenAt.IsZero() {
		t.Fatal("last seen not updated")
	}

	if _, err := store.GetAgentByKeyHash(ctx, "ws1", "nope"); err != identity.ErrInvalidKey {
		t.Fatalf("got err %v, want identity.ErrInvalidKey", err)
	}
}
