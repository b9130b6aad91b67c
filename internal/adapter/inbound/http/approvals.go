package http

import (
	"net/http"
	"time"

	"github.com/tollgate/tollgate/internal/domain/approval"
)

// approveRequestBody is the POST /approve payload (spec §6).
type approveRequestBody struct {
	ApprovalID           string `json:"approval_id" validate:"required"`
	CreateLease          bool   `json:"createLease"`
	LeaseDurationMinutes int    `json:"leaseDurationMinutes"`
}

// handleApprove implements POST /approve (workspace-authenticated human).
// The binding quadruple a token is issued against comes from the audit
// record the approval request covers, resolved by the service layer.
func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body approveRequestBody
	if err := h.readJSON(r, &body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	workspace := r.Header.Get("X-Workspace-Id")
	actor := r.Header.Get("X-Actor")

	leaseDuration := time.Duration(body.LeaseDurationMinutes) * time.Minute
	tok, err := h.approvalSvc.Approve(r.Context(), workspace, body.ApprovalID, actor, body.CreateLease, leaseDuration)
	if err != nil {
		if _, ok := err.(*approval.ErrAlreadyResolved); ok {
			h.respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.respondError(w, http.StatusNotFound, "approval request not found")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{
		"status": "approved",
		"id":     body.ApprovalID,
		"token":  tok.RawToken,
	})
}

// denyRequestBody is the POST /deny payload (spec §6).
type denyRequestBody struct {
	ApprovalID     string `json:"approval_id" validate:"required"`
	CreateDenyRule bool   `json:"createDenyRule"`
}

// handleDeny implements POST /deny (workspace-authenticated human).
func (h *Handler) handleDeny(w http.ResponseWriter, r *http.Request) {
	var body denyRequestBody
	if err := h.readJSON(r, &body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	workspace := r.Header.Get("X-Workspace-Id")
	actor := r.Header.Get("X-Actor")

	if err := h.approvalSvc.Deny(r.Context(), workspace, body.ApprovalID, actor, body.CreateDenyRule); err != nil {
		if _, ok := err.(*approval.ErrAlreadyResolved); ok {
			h.respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.respondError(w, http.StatusNotFound, "approval request not found")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{
		"status": "denied",
		"id":     body.ApprovalID,
	})
}
