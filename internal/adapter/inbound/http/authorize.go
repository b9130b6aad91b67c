package http

import (
	"net/http"
	"time"

	"github.com/tollgate/tollgate/internal/domain/audit"
	"github.com/tollgate/tollgate/internal/domain/authzerr"
	"github.com/tollgate/tollgate/internal/domain/classify"
	"github.com/tollgate/tollgate/internal/domain/redact"
	"github.com/tollgate/tollgate/internal/service"
)

// authorizeRequestBody is the POST /authorize payload (spec §4.8).
type authorizeRequestBody struct {
	WorkspaceID   string                 `json:"workspace_id" validate:"required"`
	AgentKey      string                 `json:"agent_key" validate:"required"`
	UpstreamID    string                 `json:"upstream_id"`
	ToolName      string                 `json:"tool_name" validate:"required"`
	ActionClass   string                 `json:"action_class" validate:"required"`
	RiskLevel     string                 `json:"risk_level"`
	RiskFlags     classify.RiskFlags     `json:"risk_flags"`
	Resource      classify.Resource      `json:"resource"`
	ArgsHash      string                 `json:"args_hash" validate:"required"`
	RequestHash   string                 `json:"request_hash" validate:"required"`
	ArgsRedacted  map[string]interface{} `json:"args_redacted"`
	ApprovalToken string                 `json:"approval_token"`
}

type authorizeResponseBody struct {
	Decision          string `json:"decision"`
	Reason            string `json:"reason"`
	RequestID         string `json:"request_id"`
	ApprovalRequestID string `json:"approval_request_id,omitempty"`
	ExpiresAt         string `json:"expires_at,omitempty"`
}

// handleAuthorize implements POST /authorize.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var body authorizeRequestBody
	if err := h.readJSON(r, &body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	headerKey := r.Header.Get("X-Agent-Key")
	if headerKey == "" {
		h.respondError(w, http.StatusUnauthorized, "missing X-Agent-Key header")
		return
	}

	// Defense in depth: the client SDK is expected to redact sensitive
	// argument values before they ever leave the agent process, but a
	// buggy or malicious client could submit raw args under the
	// args_redacted field. Re-redacting server-side guarantees invariant
	// 8 (redaction safety) holds for whatever ends up in the audit trail
	// regardless of what the client actually sent.
	redacted, _ := redact.Redact(body.ArgsRedacted)

	resp, err := h.authorize.Authorize(r.Context(), service.AuthorizeRequest{
		WorkspaceID:   body.WorkspaceID,
		AgentKey:      headerKey,
		BodyAgentKey:  body.AgentKey,
		UpstreamID:    body.UpstreamID,
		ToolName:      body.ToolName,
		ActionClass:   classify.ActionClass(body.ActionClass),
		RiskLevel:     classify.RiskLevel(body.RiskLevel),
		RiskFlags:     body.RiskFlags,
		Resource:      body.Resource,
		ArgsHash:      body.ArgsHash,
		RequestHash:   body.RequestHash,
		ArgsRedacted:  redacted,
		ApprovalToken: body.ApprovalToken,
	})
	if err != nil {
		h.respondAuthorizeError(w, err)
		return
	}

	out := authorizeResponseBody{
		Decision:          string(resp.Decision),
		Reason:            resp.Reason,
		RequestID:         resp.RequestID,
		ApprovalRequestID: resp.ApprovalRequestID,
	}
	if resp.Decision == audit.DecisionApprovalRequired {
		out.ExpiresAt = resp.ExpiresAt.Format(time.RFC3339)
	}
	h.respondJSON(w, http.StatusOK, out)
}

// respondAuthorizeError maps a service-layer error to the authorize
// endpoint's status codes. Per spec §7, a policy outcome is never a 5xx;
// only genuine auth/infra faults are.
func (h *Handler) respondAuthorizeError(w http.ResponseWriter, err error) {
	if authErr, ok := err.(*authzerr.Error); ok {
		switch authErr.Kind {
		case authzerr.KindUnauthorized:
			h.respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		case authzerr.KindBadRequest:
			h.respondError(w, http.StatusBadRequest, authErr.Reason)
			return
		}
	}
	h.logger.Error("authorize failed", "error", err)
	h.respondError(w, http.StatusInternalServerError, "internal error")
}

// approvalStatusResponseBody is the GET /approval-status payload (spec §6).
type approvalStatusResponseBody struct {
	Status         string `json:"status"`
	Token          string `json:"token,omitempty"`
	TokenAvailable bool   `json:"token_available,omitempty"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	Message        string `json:"message,omitempty"`
}

// handleApprovalStatus implements GET /approval-status?approval_request_id=<id>.
func (h *Handler) handleApprovalStatus(w http.ResponseWriter, r *http.Request) {
	workspace := r.Header.Get("X-Workspace-Id")
	id := r.URL.Query().Get("approval_request_id")
	if id == "" {
		h.respondError(w, http.StatusBadRequest, "approval_request_id is required")
		return
	}

	result, err := h.approvals.Poll(r.Context(), workspace, id, time.Now())
	if err != nil {
		h.respondError(w, http.StatusNotFound, "approval request not found")
		return
	}

	h.respondJSON(w, http.StatusOK, approvalStatusResponseBody{
		Status:         string(result.Status),
		Token:          result.Token,
		TokenAvailable: result.Token != "",
		ExpiresAt:      result.ExpiresAt.Format(time.RFC3339),
	})
}
