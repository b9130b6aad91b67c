package tollgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestAuthorizeAllow(t *testing.T) {
	var receivedBody authorizeRequestBody

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/authorize" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Header.Get("X-Agent-Key") != "test-key" {
			t.Errorf("unexpected agent key header: %s", r.Header.Get("X-Agent-Key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&receivedBody); err != nil {
			t.Fatalf("decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AuthorizeResponse{
			Decision:  DecisionAllow,
			Reason:    "matched allow rule",
			RequestID: "req-123",
		})
	}))
	defer server.Close()

	client := NewClient(
		WithServerAddr(server.URL),
		WithAgentKey("test-key"),
	)

	resp, err := client.Authorize(context.Background(), AuthorizeRequest{
		WorkspaceID: "ws-1",
		UpstreamID:  "mcp-1",
		ToolName:    "read_file",
		Args:        map[string]interface{}{"path": "/tmp/test.txt"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Decision != DecisionAllow {
		t.Errorf("expected allow, got %s", resp.Decision)
	}
	if receivedBody.ToolName != "read_file" {
		t.Errorf("expected tool_name=read_file, got %s", receivedBody.ToolName)
	}
	if receivedBody.ActionClass != string(ActionRead) {
		t.Errorf("expected action_class=read, got %s", receivedBody.ActionClass)
	}
	if receivedBody.ArgsHash == "" {
		t.Error("expected args_hash to be computed")
	}
	if receivedBody.RequestHash == "" {
		t.Error("expected request_hash to be computed")
	}
}

func TestAuthorizeDeny(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AuthorizeResponse{
			Decision:  DecisionDeny,
			Reason:    "destructive write blocked",
			RequestID: "req-456",
		})
	}))
	defer server.Close()

	client := NewClient(WithServerAddr(server.URL), WithAgentKey("test-key"))

	_, err := client.Authorize(context.Background(), AuthorizeRequest{
		WorkspaceID: "ws-1",
		ToolName:    "delete_database",
	})
	if err == nil {
		t.Fatal("expected error on deny, got nil")
	}
	if !errors.Is(err, ErrDenied) {
		t.Errorf("expected errors.Is(err, ErrDenied), got false: %v (%T)", err, err)
	}

	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected errors.As(err, *DeniedError)")
	}
	if denied.Reason != "destructive write blocked" {
		t.Errorf("unexpected reason: %s", denied.Reason)
	}
}

func TestCheck(t *testing.T) {
	t.Run("allow", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(AuthorizeResponse{Decision: DecisionAllow, RequestID: "req-1"})
		}))
		defer server.Close()

		client := NewClient(WithServerAddr(server.URL), WithAgentKey("key"))
		ok, err := client.Check(context.Background(), AuthorizeRequest{WorkspaceID: "ws-1", ToolName: "read_file"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Error("expected true for allow")
		}
	})

	t.Run("deny", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(AuthorizeResponse{Decision: DecisionDeny, Reason: "denied", RequestID: "req-2"})
		}))
		defer server.Close()

		client := NewClient(WithServerAddr(server.URL), WithAgentKey("key"))
		ok, err := client.Check(context.Background(), AuthorizeRequest{WorkspaceID: "ws-1", ToolName: "write_file"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("expected false for deny")
		}
	})
}

func TestEnvVarConfiguration(t *testing.T) {
	envVars := []string{
		"TOLLGATE_SERVER_ADDR", "TOLLGATE_AGENT_KEY", "TOLLGATE_WORKSPACE_ID",
		"TOLLGATE_FAIL_MODE", "TOLLGATE_TIMEOUT", "TOLLGATE_POLL_INTERVAL", "TOLLGATE_MAX_POLLS",
	}
	saved := make(map[string]string)
	for _, k := range envVars {
		saved[k] = os.Getenv(k)
	}
	defer func() {
		for k, v := range saved {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	os.Setenv("TOLLGATE_SERVER_ADDR", "http://test-server:8080")
	os.Setenv("TOLLGATE_AGENT_KEY", "env-key-123")
	os.Setenv("TOLLGATE_WORKSPACE_ID", "ws-env")
	os.Setenv("TOLLGATE_FAIL_MODE", "closed")
	os.Setenv("TOLLGATE_TIMEOUT", "10")
	os.Setenv("TOLLGATE_POLL_INTERVAL", "1s")
	os.Setenv("TOLLGATE_MAX_POLLS", "5")

	client := NewClient()

	if client.serverAddr != "http://test-server:8080" {
		t.Errorf("expected server_addr from env, got %s", client.serverAddr)
	}
	if client.agentKey != "env-key-123" {
		t.Errorf("expected agent_key from env, got %s", client.agentKey)
	}
	if client.workspaceID != "ws-env" {
		t.Errorf("expected workspace_id from env, got %s", client.workspaceID)
	}
	if client.failMode != "closed" {
		t.Errorf("expected fail_mode=closed from env, got %s", client.failMode)
	}
	if client.timeout != 10*time.Second {
		t.Errorf("expected timeout=10s from env, got %v", client.timeout)
	}
	if client.pollInterval != 1*time.Second {
		t.Errorf("expected poll_interval=1s from env, got %v", client.pollInterval)
	}
	if client.maxPolls != 5 {
		t.Errorf("expected max_polls=5 from env, got %d", client.maxPolls)
	}
}

func TestFailOpen(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().String()
	listener.Close()

	client := NewClient(
		WithServerAddr("http://"+addr),
		WithAgentKey("key"),
		WithFailMode("open"),
		WithTimeout(500*time.Millisecond),
	)

	resp, err := client.Authorize(context.Background(), AuthorizeRequest{WorkspaceID: "ws-1", ToolName: "read_file"})
	if err != nil {
		t.Fatalf("fail-open should not return error, got: %v", err)
	}
	if resp.Decision != DecisionAllow {
		t.Errorf("fail-open should return allow, got %s", resp.Decision)
	}
}

func TestFailClosed(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().String()
	listener.Close()

	client := NewClient(
		WithServerAddr("http://"+addr),
		WithAgentKey("key"),
		WithFailMode("closed"),
		WithTimeout(500*time.Millisecond),
	)

	_, err = client.Authorize(context.Background(), AuthorizeRequest{WorkspaceID: "ws-1", ToolName: "read_file"})
	if err == nil {
		t.Fatal("fail-closed should return error")
	}
	if !errors.Is(err, ErrServerUnreachable) {
		t.Errorf("expected ErrServerUnreachable, got: %v (%T)", err, err)
	}

	var srvErr *ServerUnreachableError
	if !errors.As(err, &srvErr) {
		t.Fatalf("expected errors.As(*ServerUnreachableError)")
	}
	if srvErr.Cause == nil {
		t.Error("expected Cause to be set")
	}
}

func TestApprovalPolling(t *testing.T) {
	var pollCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Path == "/authorize" {
			json.NewEncoder(w).Encode(AuthorizeResponse{
				Decision:          DecisionApprovalRequired,
				RequestID:         "req-approval-1",
				ApprovalRequestID: "appr-1",
			})
			return
		}

		if r.Header.Get("X-Workspace-Id") != "ws-1" {
			t.Errorf("expected X-Workspace-Id header, got %q", r.Header.Get("X-Workspace-Id"))
		}

		count := pollCount.Add(1)
		if count >= 2 {
			json.NewEncoder(w).Encode(map[string]any{"status": "approved", "token": "raw-token-abc"})
		} else {
			json.NewEncoder(w).Encode(map[string]any{"status": "pending"})
		}
	}))
	defer server.Close()

	client := NewClient(
		WithServerAddr(server.URL),
		WithAgentKey("key"),
		WithPollInterval(10*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Authorize(ctx, AuthorizeRequest{WorkspaceID: "ws-1", ToolName: "deploy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Decision != DecisionAllow {
		t.Errorf("expected allow after approval, got %s", resp.Decision)
	}
}

func TestApprovalDenied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/authorize" {
			json.NewEncoder(w).Encode(AuthorizeResponse{
				Decision:          DecisionApprovalRequired,
				RequestID:         "req-1",
				ApprovalRequestID: "appr-1",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "denied"})
	}))
	defer server.Close()

	client := NewClient(WithServerAddr(server.URL), WithAgentKey("key"), WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Authorize(ctx, AuthorizeRequest{WorkspaceID: "ws-1", ToolName: "deploy"})
	if !errors.Is(err, ErrDenied) {
		t.Errorf("expected ErrDenied, got %v (%T)", err, err)
	}
}

func TestApprovalTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/authorize" {
			json.NewEncoder(w).Encode(AuthorizeResponse{Decision: DecisionApprovalRequired, RequestID: "req-1", ApprovalRequestID: "appr-1"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "pending"})
	}))
	defer server.Close()

	client := NewClient(
		WithServerAddr(server.URL),
		WithAgentKey("key"),
		WithPollInterval(5*time.Millisecond),
		WithMaxPolls(3),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Authorize(ctx, AuthorizeRequest{WorkspaceID: "ws-1", ToolName: "deploy"})
	if !errors.Is(err, ErrApprovalTimeout) {
		t.Errorf("expected ErrApprovalTimeout, got %v (%T)", err, err)
	}
}

func TestClassificationFields(t *testing.T) {
	var receivedBody authorizeRequestBody

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&receivedBody)
		json.NewEncoder(w).Encode(AuthorizeResponse{Decision: DecisionAllow, RequestID: "req-1"})
	}))
	defer server.Close()

	client := NewClient(WithServerAddr(server.URL), WithAgentKey("key"))

	_, err := client.Authorize(context.Background(), AuthorizeRequest{
		WorkspaceID: "ws-1",
		ToolName:    "send_email",
		Args:        map[string]interface{}{"to": "alice@external-corp.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedBody.ActionClass != string(ActionSend) {
		t.Errorf("expected action_class=send, got %s", receivedBody.ActionClass)
	}
	if !receivedBody.RiskFlags.ExternalDomain {
		t.Error("expected external_domain flag to be set")
	}
	if receivedBody.Resource.RecipientDomain != "external-corp.com" {
		t.Errorf("unexpected recipient domain: %s", receivedBody.Resource.RecipientDomain)
	}
}

func TestArgsHashStable(t *testing.T) {
	a := argsHash(map[string]interface{}{"b": 1, "a": 2})
	b := argsHash(map[string]interface{}{"a": 2, "b": 1})
	if a != b {
		t.Errorf("expected stable hash regardless of key order, got %s != %s", a, b)
	}
}

func TestArgsHashStripsApprovalToken(t *testing.T) {
	withToken := argsHash(map[string]interface{}{"a": 1, "approvalToken": "tok"})
	withoutToken := argsHash(map[string]interface{}{"a": 1})
	if withToken != withoutToken {
		t.Errorf("expected approvalToken to be stripped before hashing")
	}
}

func TestErrorTypes(t *testing.T) {
	t.Run("DeniedError", func(t *testing.T) {
		err := &DeniedError{Reason: "test reason"}
		if err.Error() != "tool call denied: test reason" {
			t.Errorf("unexpected error message: %s", err.Error())
		}
		if !errors.Is(err, ErrDenied) {
			t.Error("DeniedError should match ErrDenied")
		}
	})

	t.Run("ApprovalTimeoutError", func(t *testing.T) {
		err := &ApprovalTimeoutError{ApprovalRequestID: "appr-2"}
		if err.Error() != "approval timeout for request appr-2" {
			t.Errorf("unexpected error message: %s", err.Error())
		}
		if !errors.Is(err, ErrApprovalTimeout) {
			t.Error("ApprovalTimeoutError should match ErrApprovalTimeout")
		}
	})

	t.Run("ServerUnreachableError", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		err := &ServerUnreachableError{Cause: cause}
		if err.Error() != "server unreachable: connection refused" {
			t.Errorf("unexpected error message: %s", err.Error())
		}
		if !errors.Is(err, ErrServerUnreachable) {
			t.Error("ServerUnreachableError should match ErrServerUnreachable")
		}
		if errors.Unwrap(err) != cause {
			t.Error("Unwrap should return cause")
		}
	})

	t.Run("ClientError", func(t *testing.T) {
		inner := fmt.Errorf("bad request")
		err := &ClientError{Code: "HTTP_400", Err: inner}
		if err.Error() != "tollgate [HTTP_400]: bad request" {
			t.Errorf("unexpected error message: %s", err.Error())
		}
		if errors.Unwrap(err) != inner {
			t.Error("Unwrap should return inner error")
		}
	})
}

func TestWithHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AuthorizeResponse{Decision: DecisionAllow, RequestID: "req-custom-client"})
	}))
	defer server.Close()

	customClient := &http.Client{Timeout: 30 * time.Second}

	client := NewClient(
		WithServerAddr(server.URL),
		WithAgentKey("key"),
		WithHTTPClient(customClient),
	)

	if client.httpClient != customClient {
		t.Error("expected custom http client to be used")
	}

	resp, err := client.Authorize(context.Background(), AuthorizeRequest{WorkspaceID: "ws-1", ToolName: "read_file"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Decision != DecisionAllow {
		t.Errorf("expected allow, got %s", resp.Decision)
	}
}
