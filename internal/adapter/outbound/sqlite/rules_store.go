package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/tollgate/tollgate/internal/domain/authz"
	"github.com/tollgate/tollgate/internal/domain/classify"
)

// RuleStore implements authz.Store against the shared DB.
type RuleStore struct {
	db *DB
}

// NewRuleStore builds a RuleStore backed by db.
func NewRuleStore(db *DB) *RuleStore {
	return &RuleStore{db: db}
}

func (s *RuleStore) ListEnabledRules(ctx context.Context, workspace string) ([]authz.Rule, error) {
	rows, err := s.db.sql.QueryContext(ctx, `
		SELECT id, workspace, name, priority, enabled, effect, action_class, upstream_id,
			tool_name, domain_pattern, domain_match_type, recipient, smart_condition, created_at
		FROM rules WHERE workspace = ? AND enabled = 1 ORDER BY created_at ASC`, workspace)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []authz.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RuleStore) ListActiveLeases(ctx context.Context, workspace string) ([]authz.Lease, error) {
	rows, err := s.db.sql.QueryContext(ctx, `
		SELECT id, workspace, creator, action_class, upstream_id, tool_name, domain_pattern,
			domain_match_type, recipient, expires_at, created_at
		FROM leases WHERE workspace = ? AND expires_at > ? ORDER BY created_at ASC`,
		workspace, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("list active leases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []authz.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *RuleStore) SaveRule(ctx context.Context, r *authz.Rule) error {
	_, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO rules (id, workspace, name, priority, enabled, effect, action_class, upstream_id,
			tool_name, domain_pattern, domain_match_type, recipient, smart_condition, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, priority=excluded.priority, enabled=excluded.enabled,
			effect=excluded.effect, action_class=excluded.action_class, upstream_id=excluded.upstream_id,
			tool_name=excluded.tool_name, domain_pattern=excluded.domain_pattern,
			domain_match_type=excluded.domain_match_type, recipient=excluded.recipient,
			smart_condition=excluded.smart_condition`,
		r.ID, r.Workspace, r.Name, r.Priority, boolToInt(r.Enabled), string(r.Effect), string(r.ActionClass),
		r.UpstreamID, r.ToolName, r.DomainPattern, string(r.DomainMatchType), r.Recipient, r.SmartCondition,
		r.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	return nil
}

func (s *RuleStore) DeleteRule(ctx context.Context, workspace, ruleID string) error {
	_, err := s.db.sql.ExecContext(ctx, `DELETE FROM rules WHERE workspace = ? AND id = ?`, workspace, ruleID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

func (s *RuleStore) SaveLease(ctx context.Context, l *authz.Lease) error {
	_, err := s.db.sql.ExecContext(ctx, `
		INSERT INTO leases (id, workspace, creator, action_class, upstream_id, tool_name,
			domain_pattern, domain_match_type, recipient, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Workspace, l.Creator, string(l.ActionClass), l.UpstreamID, l.ToolName,
		l.DomainPattern, string(l.DomainMatchType), l.Recipient,
		l.ExpiresAt.UTC().Format(time.RFC3339Nano), l.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save lease: %w", err)
	}
	return nil
}

func (s *RuleStore) DeleteLease(ctx context.Context, workspace, leaseID string) error {
	_, err := s.db.sql.ExecContext(ctx, `DELETE FROM leases WHERE workspace = ? AND id = ?`, workspace, leaseID)
	if err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (authz.Rule, error) {
	var (
		r         authz.Rule
		enabled   int
		effect    string
		class     string
		matchType string
		createdAt string
	)
	err := row.Scan(&r.ID, &r.Workspace, &r.Name, &r.Priority, &enabled, &effect, &class, &r.UpstreamID,
		&r.ToolName, &r.DomainPattern, &matchType, &r.Recipient, &r.SmartCondition, &createdAt)
	if err != nil {
		return authz.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	r.Enabled = enabled != 0
	r.Effect = authz.Effect(effect)
	r.ActionClass = classify.ActionClass(class)
	r.DomainMatchType = authz.MatchType(matchType)
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

func scanLease(row rowScanner) (authz.Lease, error) {
	var (
		l         authz.Lease
		class     string
		matchType string
		expiresAt string
		createdAt string
	)
	err := row.Scan(&l.ID, &l.Workspace, &l.Creator, &class, &l.UpstreamID, &l.ToolName,
		&l.DomainPattern, &matchType, &l.Recipient, &expiresAt, &createdAt)
	if err != nil {
		return authz.Lease{}, fmt.Errorf("scan lease: %w", err)
	}
	l.ActionClass = classify.ActionClass(class)
	l.DomainMatchType = authz.MatchType(matchType)
	l.ExpiresAt = parseTime(expiresAt)
	l.CreatedAt = parseTime(createdAt)
	return l, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseTime parses the RFC3339Nano timestamps this package writes,
// falling back to plain RFC3339 for values written by other tools.
func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
