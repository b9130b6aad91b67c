// Package approval implements the ApprovalRequest/ApprovalToken state
// machine: creation, human approve/deny, single-use token issuance, and
// atomic token consumption under concurrency (spec §4.7).
package approval

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tollgate/tollgate/internal/domain/hashutil"
)

// Status is a position in the ApprovalRequest state machine.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// terminal reports whether a status never transitions further.
func (s Status) terminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusExpired
}

// DefaultRequestTTL is how long a pending approval request lives before it
// is treated as expired at read time (spec §3, §4.7).
const DefaultRequestTTL = 24 * time.Hour

// DefaultTokenTTL is how long an issued approval token remains valid.
const DefaultTokenTTL = time.Hour

// ErrNotFound is returned when a request or token lookup finds nothing.
var ErrNotFound = errors.New("approval: not found")

// ErrAlreadyResolved is returned when approving or denying a request that
// already left the pending state. It wraps the request's current status.
type ErrAlreadyResolved struct {
	Status Status
}

func (e *ErrAlreadyResolved) Error() string {
	return fmt.Sprintf("already %s", e.Status)
}

// ErrTokenInvalid covers every way a presented token fails validation:
// unknown, consumed, expired, or bound to a different call.
var ErrTokenInvalid = errors.New("approval: token invalid")

// ErrTokenRaced is returned when the atomic consume CAS affected zero
// rows -- another concurrent retry consumed the token first.
var ErrTokenRaced = errors.New("approval: token already used")

// BindingMismatchError names the binding field(s) that differ between a
// retry's recomputed binding and the token's stored one (spec §7
// "BindingMismatch: Denied with specific field named").
type BindingMismatchError struct {
	Fields []string
}

func (e *BindingMismatchError) Error() string {
	return fmt.Sprintf("approval: binding mismatch: %s", strings.Join(e.Fields, ", "))
}

// Is reports a BindingMismatchError as a form of ErrTokenInvalid so
// existing errors.Is(err, ErrTokenInvalid) callers still recognize it.
func (e *BindingMismatchError) Is(target error) bool {
	return target == ErrTokenInvalid
}

// Request is the ApprovalRequest entity (spec §3).
type Request struct {
	ID          string
	Workspace   string
	Agent       string // empty if not agent-scoped
	RequestID   string // audit.Request.ID this approval covers
	Status      Status
	ExpiresAt   time.Time
	Actor       string // approver/denier identity, set on transition
	ActedAt     time.Time
	CreatedAt   time.Time
}

// EffectiveStatus resolves lazy pending->expired transition at read time
// without requiring a background sweeper (spec §4.7 "Expiry").
func (r Request) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusPending && now.After(r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}

// Token is the ApprovalToken entity (spec §3). RawToken is populated only
// in the narrow window between issuance and first polling retrieval; the
// store is responsible for clearing it thereafter.
type Token struct {
	ID          string
	RequestID   string // ApprovalRequest.ID
	HashedToken string
	RawToken    string // cleared after first retrieval; see Store.MarkTokenRetrieved
	RequestHash string
	ToolName    string
	UpstreamID  string
	ArgsHash    string
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
	RetrievedAt *time.Time
	CreatedAt   time.Time
}

// Binding is the (tool, upstream, args) quadruple a token is bound to.
// A retry's recomputed binding must match the token's stored binding
// exactly before consumption is attempted (spec §4.7 step 3).
type Binding struct {
	ToolName    string
	UpstreamID  string
	ArgsHash    string
	RequestHash string
}

// Mismatches returns the names of the binding fields that differ from b,
// using constant-time comparison per field. An empty result means the
// binding matches exactly.
func (t Token) Mismatches(b Binding) []string {
	eq := func(a, c string) bool {
		return subtle.ConstantTimeCompare([]byte(a), []byte(c)) == 1
	}
	fields := []struct {
		name       string
		got, want  string
	}{
		{"tool_name", t.ToolName, b.ToolName},
		{"upstream_id", t.UpstreamID, b.UpstreamID},
		{"args_hash", t.ArgsHash, b.ArgsHash},
		{"request_hash", t.RequestHash, b.RequestHash},
	}
	var mismatched []string
	for _, f := range fields {
		if !eq(f.got, f.want) {
			mismatched = append(mismatched, f.name)
		}
	}
	return mismatched
}

// Matches reports whether the token's binding equals b using constant-time
// comparison, consistent with the teacher's approach to secret comparison
// in auth/api_key.go.
func (t Token) Matches(b Binding) bool {
	return len(t.Mismatches(b)) == 0
}

// Store persists approval requests and tokens with the transactional
// guarantees spec §4.4/§4.7 require, most importantly the atomic
// consumed_at compare-and-swap.
type Store interface {
	InsertRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, workspace, id string) (*Request, error)
	// UpdateRequestStatus transitions a request out of pending. Implementations
	// must reject the update (ErrAlreadyResolved) if the current stored status
	// is already terminal.
	UpdateRequestStatus(ctx context.Context, workspace, id string, status Status, actor string, actedAt time.Time) error

	InsertToken(ctx context.Context, t *Token) error
	// GetTokenByHash looks up a token by its hashed value.
	GetTokenByHash(ctx context.Context, hashedToken string) (*Token, error)
	// ConsumeToken atomically sets consumed_at = now where id matches and
	// consumed_at IS NULL. Returns (true, nil) if the row was updated,
	// (false, nil) if it was already consumed by a concurrent caller.
	ConsumeToken(ctx context.Context, id string, now time.Time) (bool, error)
	// MarkTokenRetrieved clears the stored raw token and sets retrieved_at,
	// but only on the first call; subsequent calls are no-ops that return
	// an empty raw token.
	MarkTokenRetrieved(ctx context.Context, requestID string, now time.Time) (rawToken string, err error)
}

// Manager orchestrates the approval state machine on top of a Store.
type Manager struct {
	store      Store
	requestTTL time.Duration
	tokenTTL   time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithRequestTTL overrides DefaultRequestTTL for newly created approval
// requests (spec §9 "[AMBIENT] Configuration" approval.request_ttl).
func WithRequestTTL(d time.Duration) Option {
	return func(m *Manager) { m.requestTTL = d }
}

// WithTokenTTL overrides DefaultTokenTTL for newly issued tokens
// (approval.token_ttl).
func WithTokenTTL(d time.Duration) Option {
	return func(m *Manager) { m.tokenTTL = d }
}

// NewManager builds a Manager backed by store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{store: store, requestTTL: DefaultRequestTTL, tokenTTL: DefaultTokenTTL}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create inserts a new pending ApprovalRequest for an audited tool call.
func (m *Manager) Create(ctx context.Context, workspace, agent, requestID string, now time.Time) (*Request, error) {
	req := &Request{
		ID:        uuid.NewString(),
		Workspace: workspace,
		Agent:     agent,
		RequestID: requestID,
		Status:    StatusPending,
		ExpiresAt: now.Add(m.requestTTL),
		CreatedAt: now,
	}
	if err := m.store.InsertRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("insert approval request: %w", err)
	}
	return req, nil
}

// Lookup returns the raw ApprovalRequest, letting callers outside this
// package (e.g. the service layer resolving a token's binding) read the
// RequestID it covers without reaching into the store directly.
func (m *Manager) Lookup(ctx context.Context, workspace, id string) (*Request, error) {
	return m.store.GetRequest(ctx, workspace, id)
}

// Approve transitions a pending request to approved and issues a single-use
// token bound to b. It returns the raw token exactly once; callers must
// relay it to the polling response and never log it.
func (m *Manager) Approve(ctx context.Context, workspace, id, actor string, b Binding, now time.Time) (*Token, error) {
	req, err := m.store.GetRequest(ctx, workspace, id)
	if err != nil {
		return nil, err
	}
	if status := req.EffectiveStatus(now); status != StatusPending {
		return nil, &ErrAlreadyResolved{Status: status}
	}

	raw, err := newRawToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	tok := &Token{
		ID:          uuid.NewString(),
		RequestID:   req.ID,
		HashedToken: hashutil.HashToken(raw),
		RawToken:    raw,
		RequestHash: b.RequestHash,
		ToolName:    b.ToolName,
		UpstreamID:  b.UpstreamID,
		ArgsHash:    b.ArgsHash,
		ExpiresAt:   now.Add(m.tokenTTL),
		CreatedAt:   now,
	}
	if err := m.store.InsertToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("insert token: %w", err)
	}
	if err := m.store.UpdateRequestStatus(ctx, workspace, id, StatusApproved, actor, now); err != nil {
		return nil, fmt.Errorf("mark approved: %w", err)
	}
	return tok, nil
}

// Deny transitions a pending request to denied.
func (m *Manager) Deny(ctx context.Context, workspace, id, actor string, now time.Time) error {
	req, err := m.store.GetRequest(ctx, workspace, id)
	if err != nil {
		return err
	}
	if status := req.EffectiveStatus(now); status != StatusPending {
		return &ErrAlreadyResolved{Status: status}
	}
	return m.store.UpdateRequestStatus(ctx, workspace, id, StatusDenied, actor, now)
}

// PollResult is the shape returned to clients polling an approval request
// (spec §4.7 "Polling interface for clients").
type PollResult struct {
	Status    Status
	Token     string // non-empty only on the first read after approval
	ExpiresAt time.Time
}

// Poll reports a request's current status, releasing the raw token at most
// once.
func (m *Manager) Poll(ctx context.Context, workspace, id string, now time.Time) (PollResult, error) {
	req, err := m.store.GetRequest(ctx, workspace, id)
	if err != nil {
		return PollResult{}, err
	}
	status := req.EffectiveStatus(now)
	result := PollResult{Status: status, ExpiresAt: req.ExpiresAt}

	if status == StatusApproved {
		raw, err := m.store.MarkTokenRetrieved(ctx, req.ID, now)
		if err != nil {
			return PollResult{}, fmt.Errorf("retrieve token: %w", err)
		}
		result.Token = raw
	}
	return result, nil
}

// ValidateAndConsume implements the §4.7 token-retry path: lookup,
// validate binding/expiry/consumption state, then attempt the atomic CAS.
func (m *Manager) ValidateAndConsume(ctx context.Context, raw string, b Binding, now time.Time) (*Token, error) {
	tok, err := m.store.GetTokenByHash(ctx, hashutil.HashToken(raw))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if tok.ConsumedAt != nil {
		return nil, ErrTokenInvalid
	}
	if now.After(tok.ExpiresAt) {
		return nil, ErrTokenInvalid
	}
	if mismatched := tok.Mismatches(b); len(mismatched) > 0 {
		return nil, &BindingMismatchError{Fields: mismatched}
	}

	ok, err := m.store.ConsumeToken(ctx, tok.ID, now)
	if err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	if !ok {
		return nil, ErrTokenRaced
	}
	return tok, nil
}

// newRawToken generates a 32-byte cryptographically random token, hex
// encoded, mirroring the random-ID generation the pack uses for
// capability-bearing identifiers (e.g. KafClaw's approval manager).
func newRawToken() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
