package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tollgate/tollgate/internal/domain/approval"
)

// ApprovalStore implements approval.Store against the shared DB.
type ApprovalStore struct {
	db *DB
}

// NewApprovalStore builds an ApprovalStore backed by db.
func NewApprovalStore(db *DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

func (s *ApprovalStore) InsertRequest(ctx context.Context, r *approval.Request) error {
	_, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO approval_requests (id, workspace, agent, request_id, status, expires_at,
			actor, acted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Workspace, r.Agent, r.RequestID, string(r.Status),
		r.ExpiresAt.UTC().Format(time.RFC3339Nano), r.Actor, nullableTime(r.ActedAt),
		r.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

func (s *ApprovalStore) GetRequest(ctx context.Context, workspace, id string) (*approval.Request, error) {
	row := s.db.sql.QueryRowContext(ctx, `
		SELECT id, workspace, agent, request_id, status, expires_at, actor, acted_at, created_at
		FROM approval_requests WHERE workspace = ? AND id = ?`, workspace, id)

	var (
		r         approval.Request
		status    string
		expiresAt string
		actedAt   sql.NullString
		createdAt string
	)
	err := row.Scan(&r.ID, &r.Workspace, &r.Agent, &r.RequestID, &status, &expiresAt, &r.Actor, &actedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, approval.ErrNotFound
		}
		return nil, fmt.Errorf("get approval request: %w", err)
	}
	r.Status = approval.Status(status)
	r.ExpiresAt = parseTime(expiresAt)
	r.CreatedAt = parseTime(createdAt)
	if actedAt.Valid {
		r.ActedAt = parseTime(actedAt.String)
	}
	return &r, nil
}

func (s *ApprovalStore) UpdateRequestStatus(ctx context.Context, workspace, id string, status approval.Status, actor string, actedAt time.Time) error {
	current, err := s.GetRequest(ctx, workspace, id)
	if err != nil {
		return err
	}
	if current.EffectiveStatus(actedAt) != approval.StatusPending {
		return &approval.ErrAlreadyResolved{Status: current.Status}
	}

	res, err := s.db.sql.ExecContext(ctx, `
		UPDATE approval_requests SET status = ?, actor = ?, acted_at = ?
		WHERE workspace = ? AND id = ? AND status = ?`,
		string(status), actor, actedAt.UTC().Format(time.RFC3339Nano),
		workspace, id, string(approval.StatusPending))
	if err != nil {
		return fmt.Errorf("update approval request status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update approval request status: %w", err)
	}
	if n == 0 {
		return &approval.ErrAlreadyResolved{Status: current.Status}
	}
	return nil
}

func (s *ApprovalStore) InsertToken(ctx context.Context, t *approval.Token) error {
	_, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO approval_tokens (id, request_id, hashed_token, raw_token, request_hash,
			tool_name, upstream_id, args_hash, expires_at, consumed_at, retrieved_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RequestID, t.HashedToken, t.RawToken, t.RequestHash, t.ToolName, t.UpstreamID,
		t.ArgsHash, t.ExpiresAt.UTC().Format(time.RFC3339Nano), nullableTimePtr(t.ConsumedAt),
		nullableTimePtr(t.RetrievedAt), t.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert approval token: %w", err)
	}
	return nil
}

func (s *ApprovalStore) GetTokenByHash(ctx context.Context, hashedToken string) (*approval.Token, error) {
	row := s.db.sql.QueryRowContext(ctx, `
		SELECT id, request_id, hashed_token, raw_token, request_hash, tool_name, upstream_id,
			args_hash, expires_at, consumed_at, retrieved_at, created_at
		FROM approval_tokens WHERE hashed_token = ?`, hashedToken)
	return scanToken(row)
}

// ConsumeToken atomically sets consumed_at where id matches and consumed_at
// IS NULL, the single-use guarantee spec §4.7 requires under concurrent
// retries racing for the same token.
func (s *ApprovalStore) ConsumeToken(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE approval_tokens SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		now.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return false, fmt.Errorf("consume token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume token: %w", err)
	}
	return n == 1, nil
}

// MarkTokenRetrieved clears the stored raw token and sets retrieved_at on
// the first call for a request, returning the raw token it cleared; later
// calls see raw_token already empty and return "".
func (s *ApprovalStore) MarkTokenRetrieved(ctx context.Context, requestID string, now time.Time) (string, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT id, raw_token FROM approval_tokens WHERE request_id = ?`, requestID)
	var id, raw string
	if err := row.Scan(&id, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", approval.ErrNotFound
		}
		return "", fmt.Errorf("lookup token for retrieval: %w", err)
	}
	if raw == "" {
		return "", nil
	}

	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE approval_tokens SET raw_token = '', retrieved_at = ? WHERE id = ? AND raw_token != ''`,
		now.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return "", fmt.Errorf("mark token retrieved: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("mark token retrieved: %w", err)
	}
	if n == 0 {
		return "", nil
	}
	return raw, nil
}

func scanToken(row *sql.Row) (*approval.Token, error) {
	var (
		t           approval.Token
		rawToken    string
		expiresAt   string
		consumedAt  sql.NullString
		retrievedAt sql.NullString
		createdAt   string
	)
	err := row.Scan(&t.ID, &t.RequestID, &t.HashedToken, &rawToken, &t.RequestHash, &t.ToolName,
		&t.UpstreamID, &t.ArgsHash, &expiresAt, &consumedAt, &retrievedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, approval.ErrNotFound
		}
		return nil, fmt.Errorf("scan approval token: %w", err)
	}
	t.RawToken = rawToken
	t.ExpiresAt = parseTime(expiresAt)
	t.CreatedAt = parseTime(createdAt)
	if consumedAt.Valid {
		ts := parseTime(consumedAt.String)
		t.ConsumedAt = &ts
	}
	if retrievedAt.Valid {
		ts := parseTime(retrievedAt.String)
		t.RetrievedAt = &ts
	}
	return &t, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
