package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tollgate/tollgate/internal/domain/audit"
	"github.com/tollgate/tollgate/internal/domain/classify"
)

// AuditStore implements audit.Store against the shared DB.
type AuditStore struct {
	db *DB
}

// NewAuditStore builds an AuditStore backed by db.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) InsertRequest(ctx context.Context, r *audit.Request) error {
	riskFlagsJSON, err := json.Marshal(r.RiskFlags)
	if err != nil {
		return fmt.Errorf("marshal risk flags: %w", err)
	}
	resourceJSON, err := json.Marshal(r.Resource)
	if err != nil {
		return fmt.Errorf("marshal resource: %w", err)
	}
	argsJSON, err := json.Marshal(r.ArgsRedacted)
	if err != nil {
		return fmt.Errorf("marshal redacted args: %w", err)
	}

	_, err = s.db.sql.ExecContext(ctx, `
		INSERT INTO audit_requests (id, workspace, agent, upstream_id, tool_name, action_class,
			risk_level, risk_flags, resource, args_redacted, args_hash, request_hash, decision,
			denial_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Workspace, r.Agent, r.UpstreamID, r.ToolName, string(r.ActionClass),
		string(r.RiskLevel), string(riskFlagsJSON), string(resourceJSON), string(argsJSON),
		r.ArgsHash, r.RequestHash, string(r.Decision), r.DenialReason,
		r.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert audit request: %w", err)
	}
	return nil
}

func (s *AuditStore) GetRequest(ctx context.Context, workspace, id string) (*audit.Request, error) {
	row := s.db.sql.QueryRowContext(ctx, `
		SELECT id, workspace, agent, upstream_id, tool_name, action_class, risk_level, risk_flags,
			resource, args_redacted, args_hash, request_hash, decision, denial_reason, created_at
		FROM audit_requests WHERE workspace = ? AND id = ?`, workspace, id)

	var (
		r             audit.Request
		actionClass   string
		riskLevel     string
		riskFlagsJSON string
		resourceJSON  string
		argsJSON      string
		decision      string
		createdAt     string
	)
	err := row.Scan(&r.ID, &r.Workspace, &r.Agent, &r.UpstreamID, &r.ToolName, &actionClass, &riskLevel,
		&riskFlagsJSON, &resourceJSON, &argsJSON, &r.ArgsHash, &r.RequestHash, &decision, &r.DenialReason, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, audit.ErrNotFound
		}
		return nil, fmt.Errorf("get audit request: %w", err)
	}

	r.ActionClass = classify.ActionClass(actionClass)
	r.RiskLevel = classify.RiskLevel(riskLevel)
	r.Decision = audit.Decision(decision)
	r.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(riskFlagsJSON), &r.RiskFlags); err != nil {
		return nil, fmt.Errorf("unmarshal risk flags: %w", err)
	}
	if err := json.Unmarshal([]byte(resourceJSON), &r.Resource); err != nil {
		return nil, fmt.Errorf("unmarshal resource: %w", err)
	}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &r.ArgsRedacted); err != nil {
			return nil, fmt.Errorf("unmarshal redacted args: %w", err)
		}
	}
	return &r, nil
}
