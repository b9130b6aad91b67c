// Package service wires the domain packages into the gateway's single
// entry point, the authorize pipeline (spec §4.8).
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tollgate/tollgate/internal/domain/approval"
	"github.com/tollgate/tollgate/internal/domain/audit"
	"github.com/tollgate/tollgate/internal/domain/authz"
	"github.com/tollgate/tollgate/internal/domain/authzerr"
	"github.com/tollgate/tollgate/internal/domain/classify"
	"github.com/tollgate/tollgate/internal/domain/hashutil"
	"github.com/tollgate/tollgate/internal/domain/identity"
	"github.com/tollgate/tollgate/internal/domain/notify"
)

// tracer emits spans around the authorize pipeline (spec §4.8). It's a
// package-level otel.Tracer the way the teacher's services hold a
// package-level logger default; with no TracerProvider registered
// (tests, --dev without one wired) it's a no-op, costing nothing.
var tracer = otel.Tracer("github.com/tollgate/tollgate/internal/service")

// AuthorizeRequest is the inbound payload of POST /authorize (spec §4.8),
// already schema-validated by the HTTP adapter.
type AuthorizeRequest struct {
	WorkspaceID    string
	AgentKey       string // X-Agent-Key header value
	BodyAgentKey   string // agent_key field from the request body; must equal AgentKey
	UpstreamID     string
	ToolName       string
	ActionClass    classify.ActionClass
	RiskLevel      classify.RiskLevel
	RiskFlags      classify.RiskFlags
	Resource       classify.Resource
	ArgsHash       string
	RequestHash    string
	ArgsRedacted   map[string]interface{}
	ApprovalToken  string // optional; non-empty selects the token-retry path
}

// AuthorizeResponse is the outbound shape for both the fresh-evaluation
// and token-retry paths (spec §6).
type AuthorizeResponse struct {
	Decision          audit.Decision
	Reason            string
	RequestID         string
	ApprovalRequestID string
	ExpiresAt         time.Time
}

// AuthorizeService is the gateway's single entry point: authenticate,
// dispatch fresh-vs-retry, evaluate, write the audit record, respond.
// It plays the orchestration role the teacher's
// PolicyEvaluationService.Evaluate plays for a single CEL-backed
// decision, generalized to this spec's token-retry branch and
// approval-request creation.
type AuthorizeService struct {
	identity   *identity.Service
	evaluator  *authz.Evaluator
	approvals  *approval.Manager
	auditStore audit.Store
	notifier   notify.Notifier
	logger     *slog.Logger
}

// NewAuthorizeService builds an AuthorizeService from its collaborators.
func NewAuthorizeService(
	identitySvc *identity.Service,
	evaluator *authz.Evaluator,
	approvals *approval.Manager,
	auditStore audit.Store,
	notifier notify.Notifier,
	logger *slog.Logger,
) *AuthorizeService {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &AuthorizeService{
		identity:   identitySvc,
		evaluator:  evaluator,
		approvals:  approvals,
		auditStore: auditStore,
		notifier:   notifier,
		logger:     logger,
	}
}

// Authorize implements spec §4.8 steps 1-5.
func (s *AuthorizeService) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error) {
	ctx, span := tracer.Start(ctx, "AuthorizeService.Authorize", trace.WithAttributes(
		attribute.String("workspace_id", req.WorkspaceID),
		attribute.String("tool_name", req.ToolName),
		attribute.String("action_class", string(req.ActionClass)),
		attribute.Bool("token_retry", req.ApprovalToken != ""),
	))
	defer span.End()

	now := time.Now()

	agent, err := s.identity.Authenticate(ctx, req.WorkspaceID, req.AgentKey, req.BodyAgentKey, now)
	if err != nil {
		span.SetStatus(codes.Error, "authentication failed")
		return nil, authzerr.Wrap(authzerr.KindUnauthorized, "agent key missing, mismatched, or unrecognized", err)
	}

	var resp *AuthorizeResponse
	if req.ApprovalToken != "" {
		resp, err = s.authorizeRetry(ctx, req, agent.ID, now)
	} else {
		resp, err = s.authorizeFresh(ctx, req, agent.ID, now)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authorize pipeline failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("decision", string(resp.Decision)))
	return resp, nil
}

// authorizeRetry implements the token-retry branch (spec §4.7, §4.8 step 4).
func (s *AuthorizeService) authorizeRetry(ctx context.Context, req AuthorizeRequest, agentID string, now time.Time) (*AuthorizeResponse, error) {
	binding := approval.Binding{
		ToolName:    req.ToolName,
		UpstreamID:  req.UpstreamID,
		ArgsHash:    req.ArgsHash,
		RequestHash: req.RequestHash,
	}

	requestID := uuid.NewString()
	resp := &AuthorizeResponse{RequestID: requestID}

	_, err := s.approvals.ValidateAndConsume(ctx, req.ApprovalToken, binding, now)
	switch {
	case err == nil:
		resp.Decision = audit.DecisionAllowed
		resp.Reason = "approval token consumed"
	case isRaced(err):
		resp.Decision = audit.DecisionDenied
		resp.Reason = "token already used"
	default:
		resp.Decision = audit.DecisionDenied
		var mismatch *approval.BindingMismatchError
		if errors.As(err, &mismatch) {
			resp.Reason = "binding mismatch: " + strings.Join(mismatch.Fields, ", ")
		} else {
			resp.Reason = "token invalid: " + err.Error()
		}
	}

	record := s.buildAuditRecord(req, requestID, agentID, resp.Decision, resp.Reason, now)
	if err := s.auditStore.InsertRequest(ctx, record); err != nil {
		return nil, authzerr.Wrap(authzerr.KindInternal, "failed to persist audit record", err)
	}
	return resp, nil
}

func isRaced(err error) bool {
	return err == approval.ErrTokenRaced
}

// authorizeFresh implements the no-token branch (spec §4.8 step 5).
func (s *AuthorizeService) authorizeFresh(ctx context.Context, req AuthorizeRequest, agentID string, now time.Time) (*AuthorizeResponse, error) {
	requestID := uuid.NewString()

	evalCtx, evalSpan := tracer.Start(ctx, "authz.Evaluator.Evaluate")
	decision, err := s.evaluator.Evaluate(evalCtx, authz.EvaluationContext{
		Workspace:   req.WorkspaceID,
		ToolName:    req.ToolName,
		UpstreamID:  req.UpstreamID,
		ActionClass: req.ActionClass,
		Resource:    req.Resource,
		RiskFlags:   req.RiskFlags,
		Arguments:   req.ArgsRedacted,
	})
	if err != nil {
		evalSpan.RecordError(err)
		evalSpan.SetStatus(codes.Error, "policy evaluation failed")
		evalSpan.End()
		return nil, authzerr.Wrap(authzerr.KindInternal, "policy evaluation failed", err)
	}
	evalSpan.SetAttributes(attribute.String("outcome", string(decision.Outcome)))
	evalSpan.End()

	auditDecision := audit.FromOutcome(decision.Outcome)
	record := s.buildAuditRecord(req, requestID, agentID, auditDecision, decision.Reason, now)
	if err := s.auditStore.InsertRequest(ctx, record); err != nil {
		return nil, authzerr.Wrap(authzerr.KindInternal, "failed to persist audit record", err)
	}

	resp := &AuthorizeResponse{
		Decision:  auditDecision,
		Reason:    decision.Reason,
		RequestID: requestID,
	}

	if decision.Outcome != authz.DecisionApprovalRequired {
		return resp, nil
	}

	approvalReq, err := s.approvals.Create(ctx, req.WorkspaceID, agentID, requestID, now)
	if err != nil {
		return nil, authzerr.Wrap(authzerr.KindInternal, "failed to create approval request", err)
	}
	resp.ApprovalRequestID = approvalReq.ID
	resp.ExpiresAt = approvalReq.ExpiresAt

	s.fireNotifier(approvalReq.ID)

	return resp, nil
}

// fireNotifier dispatches the notifier detached from the request's
// lifetime (spec §5 "Notifier calls are fully detached"); its own
// background context is independent of the authorize request's ctx so
// client cancellation never aborts the notification.
func (s *AuthorizeService) fireNotifier(approvalRequestID string) {
	go func() {
		if err := s.notifier.Notify(context.Background(), approvalRequestID); err != nil {
			s.logger.Warn("notifier failed", "approval_request_id", approvalRequestID, "error", err)
		}
	}()
}

func (s *AuthorizeService) buildAuditRecord(req AuthorizeRequest, requestID, agentID string, decision audit.Decision, reason string, now time.Time) *audit.Request {
	record := &audit.Request{
		ID:           requestID,
		Workspace:    req.WorkspaceID,
		Agent:        agentID,
		UpstreamID:   req.UpstreamID,
		ToolName:     req.ToolName,
		ActionClass:  req.ActionClass,
		RiskLevel:    req.RiskLevel,
		RiskFlags:    req.RiskFlags,
		Resource:     req.Resource,
		ArgsRedacted: req.ArgsRedacted,
		ArgsHash:     req.ArgsHash,
		RequestHash:  req.RequestHash,
		Decision:     decision,
		CreatedAt:    now,
	}
	if decision == audit.DecisionDenied {
		record.DenialReason = reason
	}
	return record
}

// RecomputeRequestHash is a defense-in-depth re-derivation the authorize
// path may use to catch a client that sent a hash inconsistent with its
// own tool_name/upstream_id/args_hash triple (spec §4.1 contract).
func RecomputeRequestHash(toolName, upstreamID, argsHash string) string {
	return hashutil.RequestHash(toolName, upstreamID, argsHash)
}
