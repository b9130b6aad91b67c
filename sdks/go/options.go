package tollgate

import (
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithServerAddr sets the tollgate server address.
// If not set, defaults to the TOLLGATE_SERVER_ADDR environment variable.
func WithServerAddr(addr string) Option {
	return func(c *Client) {
		c.serverAddr = addr
	}
}

// WithAgentKey sets the agent API key sent as the X-Agent-Key header.
// If not set, defaults to the TOLLGATE_AGENT_KEY environment variable.
func WithAgentKey(key string) Option {
	return func(c *Client) {
		c.agentKey = key
	}
}

// WithWorkspaceID sets the default workspace id used when an
// AuthorizeRequest does not specify one.
func WithWorkspaceID(id string) Option {
	return func(c *Client) {
		c.workspaceID = id
	}
}

// WithFailMode sets the fail mode when the server is unreachable.
// Valid values are "open" (allow on failure) and "closed" (deny on failure).
// If not set, defaults to the TOLLGATE_FAIL_MODE environment variable or "open".
func WithFailMode(mode string) Option {
	return func(c *Client) {
		c.failMode = mode
	}
}

// WithTimeout sets the HTTP request timeout. If not set, defaults to 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithPollInterval sets the interval between approval-status polls.
// If not set, defaults to 2 seconds.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithMaxPolls sets the maximum number of approval-status polls before
// giving up with an ApprovalTimeoutError. If not set, defaults to 30.
func WithMaxPolls(n int) Option {
	return func(c *Client) {
		c.maxPolls = n
	}
}

// WithHTTPClient sets a custom http.Client for making requests. Useful for
// testing, proxying, or custom transport configurations.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}
