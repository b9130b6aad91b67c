package tollgate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client is the tollgate SDK client. It classifies and hashes a tool call
// locally, then calls the gateway's Policy Decision API to authorize it.
type Client struct {
	serverAddr   string
	agentKey     string
	workspaceID  string
	failMode     string
	timeout      time.Duration
	pollInterval time.Duration
	maxPolls     int
	httpClient   *http.Client

	logger *slog.Logger
}

// NewClient creates a new tollgate SDK client. It reads configuration from
// TOLLGATE_* environment variables by default; Options override the
// defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr:   os.Getenv("TOLLGATE_SERVER_ADDR"),
		agentKey:     os.Getenv("TOLLGATE_AGENT_KEY"),
		workspaceID:  os.Getenv("TOLLGATE_WORKSPACE_ID"),
		failMode:     envOrDefault("TOLLGATE_FAIL_MODE", "open"),
		timeout:      parseDurationEnv("TOLLGATE_TIMEOUT", 5*time.Second),
		pollInterval: parseDurationEnv("TOLLGATE_POLL_INTERVAL", 2*time.Second),
		maxPolls:     parseIntEnv("TOLLGATE_MAX_POLLS", 30),
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}

	return c
}

// Authorize classifies a tool call, hashes its arguments, and asks the
// gateway whether it may proceed. On deny it returns a *DeniedError. On
// approval_required it polls /approval-status until the request resolves or
// polling is exhausted. On server unreachable with fail_mode=open, it
// returns an allow response instead of failing the caller.
func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error) {
	workspace := req.WorkspaceID
	if workspace == "" {
		workspace = c.workspaceID
	}

	class, level, flags, resource := classify(req.ToolName, req.Args)
	aHash := argsHash(req.Args)
	rHash := requestHash(req.ToolName, req.UpstreamID, aHash)

	body := authorizeRequestBody{
		WorkspaceID:   workspace,
		UpstreamID:    req.UpstreamID,
		ToolName:      req.ToolName,
		ActionClass:   string(class),
		RiskLevel:     string(level),
		RiskFlags:     flags,
		Resource:      resource,
		ArgsHash:      aHash,
		RequestHash:   rHash,
		ArgsRedacted:  redactArgs(req.Args),
		ApprovalToken: req.ApprovalToken,
	}

	resp, err := c.doAuthorize(ctx, body)
	if err != nil {
		if isConnectionError(err) {
			if c.failMode == "closed" {
				return nil, &ServerUnreachableError{Cause: err}
			}
			c.logger.Warn("tollgate server unreachable, failing open",
				"server_addr", c.serverAddr,
				"error", err,
			)
			return &AuthorizeResponse{
				Decision: DecisionAllow,
				Reason:   "server unreachable, fail-open",
			}, nil
		}
		return nil, err
	}

	switch resp.Decision {
	case DecisionAllow:
		return resp, nil

	case DecisionDeny:
		return nil, &DeniedError{
			Reason:            resp.Reason,
			RequestID:         resp.RequestID,
			ApprovalRequestID: resp.ApprovalRequestID,
		}

	case DecisionApprovalRequired:
		return c.pollApprovalStatus(ctx, workspace, resp.ApprovalRequestID)

	default:
		return resp, nil
	}
}

// Check is a convenience wrapper around Authorize that reports whether the
// call may proceed. It does not return an error on policy denial.
func (c *Client) Check(ctx context.Context, req AuthorizeRequest) (bool, error) {
	resp, err := c.Authorize(ctx, req)
	if err != nil {
		var denied *DeniedError
		if errors.As(err, &denied) {
			return false, nil
		}
		return false, err
	}
	return resp.Decision == DecisionAllow, nil
}

func (c *Client) doAuthorize(ctx context.Context, body authorizeRequestBody) (*AuthorizeResponse, error) {
	var resp AuthorizeResponse
	if err := c.doRequest(ctx, http.MethodPost, "/authorize", "", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// pollApprovalStatus polls GET /approval-status until the approval request
// resolves to approved or denied, or polling is exhausted.
func (c *Client) pollApprovalStatus(ctx context.Context, workspace, approvalRequestID string) (*AuthorizeResponse, error) {
	path := "/approval-status?approval_request_id=" + url.QueryEscape(approvalRequestID)

	for i := 0; i < c.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		var status approvalStatus
		if err := c.doRequest(ctx, http.MethodGet, path, workspace, nil, &status); err != nil {
			c.logger.Warn("approval status poll failed",
				"approval_request_id", approvalRequestID,
				"error", err,
			)
			continue
		}

		switch status.Status {
		case "approved":
			return &AuthorizeResponse{
				Decision:          DecisionAllow,
				Reason:            "approved",
				ApprovalRequestID: approvalRequestID,
			}, nil
		case "denied":
			return nil, &DeniedError{
				Reason:            "approval denied",
				ApprovalRequestID: approvalRequestID,
			}
		case "expired":
			return nil, &ApprovalTimeoutError{ApprovalRequestID: approvalRequestID}
		}
		// Still pending, continue polling.
	}

	return nil, &ApprovalTimeoutError{ApprovalRequestID: approvalRequestID}
}

// doRequest performs an HTTP request against the tollgate server, attaching
// the agent key (and, for workspace-scoped reads, the workspace header).
func (c *Client) doRequest(ctx context.Context, method, path, workspace string, body any, result any) error {
	fullURL := strings.TrimRight(c.serverAddr, "/") + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.agentKey != "" {
		httpReq.Header.Set("X-Agent-Key", c.agentKey)
	}
	if workspace != "" {
		httpReq.Header.Set("X-Workspace-Id", workspace)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &ClientError{
			Code: fmt.Sprintf("HTTP_%d", httpResp.StatusCode),
			Err:  fmt.Errorf("server returned %d: %s", httpResp.StatusCode, string(respBody)),
		}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// isConnectionError reports whether err is a transport-level failure
// (DNS, connection refused, TLS, timeout) rather than a well-formed HTTP
// error response.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return false
	}
	return true
}

// authorizeRequestBody is the wire shape of POST /authorize.
type authorizeRequestBody struct {
	WorkspaceID   string                 `json:"workspace_id"`
	UpstreamID    string                 `json:"upstream_id"`
	ToolName      string                 `json:"tool_name"`
	ActionClass   string                 `json:"action_class"`
	RiskLevel     string                 `json:"risk_level"`
	RiskFlags     RiskFlags              `json:"risk_flags"`
	Resource      Resource               `json:"resource"`
	ArgsHash      string                 `json:"args_hash"`
	RequestHash   string                 `json:"request_hash"`
	ArgsRedacted  map[string]interface{} `json:"args_redacted"`
	ApprovalToken string                 `json:"approval_token,omitempty"`
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}

func parseIntEnv(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return defaultVal
}
