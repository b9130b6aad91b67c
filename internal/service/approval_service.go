package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tollgate/tollgate/internal/domain/approval"
	"github.com/tollgate/tollgate/internal/domain/audit"
	"github.com/tollgate/tollgate/internal/domain/authz"
)

// ApprovalService resolves a pending approval's binding quadruple from its
// originating audit record before delegating to approval.Manager, and
// invalidates the evaluator's rule/lease snapshot cache when an approval
// creates a lease (spec §4.7, §6 "POST /approve").
type ApprovalService struct {
	approvals  *approval.Manager
	auditStore audit.Store
	authzStore authz.Store
	evaluator  *authz.Evaluator
}

// NewApprovalService builds an ApprovalService from its collaborators.
func NewApprovalService(approvals *approval.Manager, auditStore audit.Store, authzStore authz.Store, evaluator *authz.Evaluator) *ApprovalService {
	return &ApprovalService{
		approvals:  approvals,
		auditStore: auditStore,
		authzStore: authzStore,
		evaluator:  evaluator,
	}
}

// Approve resolves the approval request's binding from its audit record,
// issues a token, and optionally creates a PolicyLease with the same
// scope for leaseDuration (spec §4.7 "Approving").
func (s *ApprovalService) Approve(ctx context.Context, workspace, approvalID, actor string, createLease bool, leaseDuration time.Duration) (*approval.Token, error) {
	// The approval.Request itself only carries the audit RequestID; the
	// binding quadruple lives on the audit record it refers to.
	approvalReq, err := s.approvalManagerRequest(ctx, workspace, approvalID)
	if err != nil {
		return nil, fmt.Errorf("lookup approval request: %w", err)
	}
	auditRec, err := s.auditStore.GetRequest(ctx, workspace, approvalReq.RequestID)
	if err != nil {
		return nil, fmt.Errorf("lookup audit record: %w", err)
	}

	binding := approval.Binding{
		ToolName:    auditRec.ToolName,
		UpstreamID:  auditRec.UpstreamID,
		ArgsHash:    auditRec.ArgsHash,
		RequestHash: auditRec.RequestHash,
	}

	now := time.Now()
	tok, err := s.approvals.Approve(ctx, workspace, approvalID, actor, binding, now)
	if err != nil {
		return nil, err
	}

	if createLease && leaseDuration > 0 {
		lease := &authz.Lease{
			ID:          tok.ID + "-lease",
			Workspace:   workspace,
			Creator:     actor,
			ActionClass: auditRec.ActionClass,
			UpstreamID:  auditRec.UpstreamID,
			ToolName:    auditRec.ToolName,
			ExpiresAt:   now.Add(leaseDuration),
			CreatedAt:   now,
		}
		if err := s.authzStore.SaveLease(ctx, lease); err != nil {
			return tok, fmt.Errorf("token issued but lease creation failed: %w", err)
		}
		s.evaluator.InvalidateWorkspace(workspace)
	}

	return tok, nil
}

// Deny transitions a pending approval request to denied, optionally
// inserting a matching deny rule (spec §6 "Deny with createDenyRule").
func (s *ApprovalService) Deny(ctx context.Context, workspace, approvalID, actor string, createDenyRule bool) error {
	approvalReq, err := s.approvalManagerRequest(ctx, workspace, approvalID)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := s.approvals.Deny(ctx, workspace, approvalID, actor, now); err != nil {
		return err
	}

	if createDenyRule {
		auditRec, err := s.auditStore.GetRequest(ctx, workspace, approvalReq.RequestID)
		if err != nil {
			return fmt.Errorf("denied but deny-rule lookup failed: %w", err)
		}
		rule := &authz.Rule{
			ID:          approvalID + "-deny-rule",
			Workspace:   workspace,
			Name:        "deny rule from approval " + approvalID,
			Priority:    100,
			Enabled:     true,
			Effect:      authz.EffectDeny,
			ActionClass: auditRec.ActionClass,
			UpstreamID:  auditRec.UpstreamID,
			ToolName:    auditRec.ToolName,
			CreatedAt:   now,
		}
		if err := s.authzStore.SaveRule(ctx, rule); err != nil {
			return fmt.Errorf("denied but deny-rule creation failed: %w", err)
		}
		s.evaluator.InvalidateWorkspace(workspace)
	}

	return nil
}

// approvalManagerRequest fetches the raw ApprovalRequest so both Approve
// and Deny can read its RequestID through one lookup path.
func (s *ApprovalService) approvalManagerRequest(ctx context.Context, workspace, approvalID string) (*approval.Request, error) {
	return s.approvals.Lookup(ctx, workspace, approvalID)
}
