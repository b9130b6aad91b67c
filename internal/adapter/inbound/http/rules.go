package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tollgate/tollgate/internal/domain/authz"
	"github.com/tollgate/tollgate/internal/domain/classify"
)

// createRuleRequestBody is the POST /rules payload (spec §6, §3 PolicyRule).
type createRuleRequestBody struct {
	Name            string `json:"name" validate:"required"`
	Priority        int    `json:"priority"`
	Enabled         *bool  `json:"enabled"`
	Effect          string `json:"effect" validate:"required,oneof=allow deny require_approval"`
	ActionClass     string `json:"action_class"`
	UpstreamID      string `json:"upstream_id"`
	ToolName        string `json:"tool_name"`
	DomainPattern   string `json:"domain_pattern"`
	DomainMatchType string `json:"domain_match_type"`
	Recipient       string `json:"recipient"`
	SmartCondition  string `json:"smart_condition"`
}

type ruleResponseBody struct {
	ID string `json:"id"`
}

// handleCreateRule implements POST /rules.
func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var body createRuleRequestBody
	if err := h.readJSON(r, &body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	workspace := r.Header.Get("X-Workspace-Id")
	if workspace == "" {
		h.respondError(w, http.StatusBadRequest, "X-Workspace-Id header is required")
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}
	matchType := authz.MatchExact
	if body.DomainMatchType == string(authz.MatchSuffix) {
		matchType = authz.MatchSuffix
	}

	rule := &authz.Rule{
		ID:              uuid.NewString(),
		Workspace:       workspace,
		Name:            body.Name,
		Priority:        body.Priority,
		Enabled:         enabled,
		Effect:          authz.Effect(body.Effect),
		ActionClass:     classify.ActionClass(body.ActionClass),
		UpstreamID:      body.UpstreamID,
		ToolName:        body.ToolName,
		DomainPattern:   body.DomainPattern,
		DomainMatchType: matchType,
		Recipient:       body.Recipient,
		SmartCondition:  body.SmartCondition,
		CreatedAt:       time.Now(),
	}
	if err := h.rules.SaveRule(r.Context(), rule); err != nil {
		h.logger.Error("save rule failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}
	h.evaluator.InvalidateWorkspace(workspace)

	h.respondJSON(w, http.StatusCreated, ruleResponseBody{ID: rule.ID})
}

// handleDeleteRule implements DELETE /rules/{id}.
func (h *Handler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	workspace := r.Header.Get("X-Workspace-Id")
	if workspace == "" {
		h.respondError(w, http.StatusBadRequest, "X-Workspace-Id header is required")
		return
	}
	id := h.pathParam(r, "id")
	if err := h.rules.DeleteRule(r.Context(), workspace, id); err != nil {
		h.logger.Error("delete rule failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	h.evaluator.InvalidateWorkspace(workspace)
	w.WriteHeader(http.StatusNoContent)
}

// createLeaseRequestBody is the POST /leases payload (spec §6, §3 PolicyLease).
type createLeaseRequestBody struct {
	Creator         string `json:"creator" validate:"required"`
	ActionClass     string `json:"action_class" validate:"required"`
	UpstreamID      string `json:"upstream_id"`
	ToolName        string `json:"tool_name"`
	DomainPattern   string `json:"domain_pattern"`
	DomainMatchType string `json:"domain_match_type"`
	Recipient       string `json:"recipient"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,gt=0"`
}

// handleCreateLease implements POST /leases.
func (h *Handler) handleCreateLease(w http.ResponseWriter, r *http.Request) {
	var body createLeaseRequestBody
	if err := h.readJSON(r, &body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	workspace := r.Header.Get("X-Workspace-Id")
	if workspace == "" {
		h.respondError(w, http.StatusBadRequest, "X-Workspace-Id header is required")
		return
	}

	matchType := authz.MatchExact
	if body.DomainMatchType == string(authz.MatchSuffix) {
		matchType = authz.MatchSuffix
	}
	now := time.Now()
	lease := &authz.Lease{
		ID:              uuid.NewString(),
		Workspace:       workspace,
		Creator:         body.Creator,
		ActionClass:     classify.ActionClass(body.ActionClass),
		UpstreamID:      body.UpstreamID,
		ToolName:        body.ToolName,
		DomainPattern:   body.DomainPattern,
		DomainMatchType: matchType,
		Recipient:       body.Recipient,
		ExpiresAt:       now.Add(time.Duration(body.DurationMinutes) * time.Minute),
		CreatedAt:       now,
	}
	if err := h.rules.SaveLease(r.Context(), lease); err != nil {
		h.logger.Error("save lease failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to save lease")
		return
	}
	h.evaluator.InvalidateWorkspace(workspace)

	h.respondJSON(w, http.StatusCreated, ruleResponseBody{ID: lease.ID})
}

// handleDeleteLease implements DELETE /leases/{id}.
func (h *Handler) handleDeleteLease(w http.ResponseWriter, r *http.Request) {
	workspace := r.Header.Get("X-Workspace-Id")
	if workspace == "" {
		h.respondError(w, http.StatusBadRequest, "X-Workspace-Id header is required")
		return
	}
	id := h.pathParam(r, "id")
	if err := h.rules.DeleteLease(r.Context(), workspace, id); err != nil {
		h.logger.Error("delete lease failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to delete lease")
		return
	}
	h.evaluator.InvalidateWorkspace(workspace)
	w.WriteHeader(http.StatusNoContent)
}
