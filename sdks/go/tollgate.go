// Package tollgate provides a Go SDK for the tollgate Policy Decision API.
//
// tollgate is a governance layer for AI agent tool calls. This SDK enables Go
// developers to programmatically authorize a tool call before executing it:
// the call is classified locally (action class, risk level, risk flags), its
// arguments are canonically hashed, and the result is sent to the gateway's
// /authorize endpoint. It uses only the Go standard library (net/http) with
// zero external dependencies.
//
// Quick start:
//
//	// Set TOLLGATE_SERVER_ADDR and TOLLGATE_AGENT_KEY env vars, then:
//	client := tollgate.NewClient()
//
//	resp, err := client.Authorize(ctx, tollgate.AuthorizeRequest{
//	    WorkspaceID: "ws-1",
//	    UpstreamID:  "mcp-server-1",
//	    ToolName:    "send_email",
//	    Args:        map[string]any{"to": "alice@example.com"},
//	})
//	if err != nil {
//	    var denied *tollgate.DeniedError
//	    if errors.As(err, &denied) {
//	        fmt.Printf("denied: %s\n", denied.Reason)
//	    }
//	}
package tollgate

// Decision is the outcome of an authorize call.
type Decision string

const (
	// DecisionAllow indicates the tool call may proceed.
	DecisionAllow Decision = "allowed"

	// DecisionDeny indicates the tool call is blocked by policy.
	DecisionDeny Decision = "denied"

	// DecisionApprovalRequired indicates a human must approve the call
	// before it may proceed.
	DecisionApprovalRequired Decision = "approval_required"
)

// RiskFlags mirrors the gateway's classify.RiskFlags: a fixed record of
// boolean signals derived from a tool call's arguments.
type RiskFlags struct {
	ExternalDomain bool `json:"external_domain"`
	NewRecipient   bool `json:"new_recipient"`
	Attachment     bool `json:"attachment"`
	FormSubmit     bool `json:"form_submit"`
	ShellExec      bool `json:"shell_exec"`
	Destructive    bool `json:"destructive"`
}

// Resource mirrors the gateway's classify.Resource: optional destination
// metadata extracted from a tool call's arguments.
type Resource struct {
	Domain          string `json:"domain,omitempty"`
	RecipientDomain string `json:"recipientDomain,omitempty"`
	Recipient       string `json:"recipient,omitempty"`
	URLHost         string `json:"urlHost,omitempty"`
	URLPath         string `json:"urlPath,omitempty"`
}

// AuthorizeRequest is a tool call awaiting a policy decision. Args is the
// raw argument tree the caller intends to pass to the tool; the client
// classifies it and computes its canonical hash before sending the
// request, so callers never need to set ArgsHash/RequestHash themselves.
type AuthorizeRequest struct {
	WorkspaceID   string
	UpstreamID    string
	ToolName      string
	Args          map[string]interface{}
	ApprovalToken string
}

// AuthorizeResponse is the gateway's verdict on an AuthorizeRequest.
type AuthorizeResponse struct {
	Decision          Decision `json:"decision"`
	Reason            string   `json:"reason"`
	RequestID         string   `json:"request_id"`
	ApprovalRequestID string   `json:"approval_request_id,omitempty"`
	ExpiresAt         string   `json:"expires_at,omitempty"`
}

// approvalStatus is the gateway's GET /approval-status payload.
type approvalStatus struct {
	Status         string `json:"status"`
	Token          string `json:"token,omitempty"`
	TokenAvailable bool   `json:"token_available,omitempty"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	Message        string `json:"message,omitempty"`
}
