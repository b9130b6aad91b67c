// Package config provides configuration types for the tollgate gateway.
package config

import (
	"os"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for the tollgate server.
type Config struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Database configures the SQLite policy/approval/audit store.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Policy configures evaluator defaults.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Approval configures the request/token lifecycle durations.
	Approval ApprovalConfig `yaml:"approval" mapstructure:"approval"`

	// SmartRule configures the LLM backing smart-rule evaluation.
	SmartRule SmartRuleConfig `yaml:"smart_rule" mapstructure:"smart_rule"`

	// Notifier configures how pending approvals are announced.
	Notifier NotifierConfig `yaml:"notifier" mapstructure:"notifier"`

	// SeedFile optionally points at a seed.yaml pre-populating a
	// workspace's rules and leases each time serve starts; entries get
	// new IDs on every run.
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`

	// DevMode enables permissive defaults and verbose logging.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// Tracing enables otel tracing spans around the authorize pipeline,
	// exported via stdouttrace. Off by default to keep production logs
	// quiet; --dev turns it on.
	Tracing bool `yaml:"tracing" mapstructure:"tracing"`
}

// DatabaseConfig configures the SQLite-backed policy store.
type DatabaseConfig struct {
	// Path is the SQLite database file path (e.g., "/var/lib/tollgate/tollgate.db").
	// Defaults to "./tollgate.db" if empty.
	Path string `yaml:"path" mapstructure:"path"`
}

// PolicyConfig configures the evaluator's default behavior.
type PolicyConfig struct {
	// DefaultDecision is the outcome when no rule or lease matches
	// (spec §4.5 step 8). Valid values: "allow", "deny", "approval_required".
	DefaultDecision string `yaml:"default_decision" mapstructure:"default_decision" validate:"omitempty,oneof=allow deny approval_required"`

	// SnapshotTTL is how long the evaluator caches a workspace's
	// rule/lease listing before reloading (e.g., "5s").
	SnapshotTTL string `yaml:"snapshot_ttl" mapstructure:"snapshot_ttl" validate:"omitempty"`
}

// ApprovalConfig configures approval request/token lifecycle durations.
type ApprovalConfig struct {
	// RequestTTL is how long a pending approval request lives before it
	// reads as expired (e.g., "24h").
	RequestTTL string `yaml:"request_ttl" mapstructure:"request_ttl" validate:"omitempty"`

	// TokenTTL is how long an issued approval token remains valid (e.g., "1h").
	TokenTTL string `yaml:"token_ttl" mapstructure:"token_ttl" validate:"omitempty"`

	// DefaultLeaseDuration is loaded and validated (e.g., "15m") but not
	// read by the approval path: an approve call with createLease and no
	// leaseDurationMinutes creates no lease.
	DefaultLeaseDuration string `yaml:"default_lease_duration" mapstructure:"default_lease_duration" validate:"omitempty"`
}

// SmartRuleConfig configures the LLM backing natural-language rule
// conditions (spec §4.6).
type SmartRuleConfig struct {
	// Enabled turns on LLM-backed smart-rule evaluation. When false, smart
	// rules always fall through to the keyword-overlap fallback heuristic.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// APIKey is the Anthropic API key. May also be set via the
	// ANTHROPIC_API_KEY environment variable.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// Model is the Anthropic model ID to call (e.g., "claude-3-5-haiku-latest").
	Model string `yaml:"model" mapstructure:"model" validate:"omitempty"`

	// Timeout bounds each smart-rule evaluation call (e.g., "5s").
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`

	// MaxTokens caps the model's response length.
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens" validate:"omitempty,min=1"`
}

// NotifierConfig configures where pending-approval notifications go
// (spec §4.9).
type NotifierConfig struct {
	// Kind selects the notifier implementation. Valid values: "noop",
	// "webhook", "queue".
	Kind string `yaml:"kind" mapstructure:"kind" validate:"omitempty,oneof=noop webhook queue"`

	// WebhookURL is the target URL when Kind is "webhook".
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
}

// SetDevDefaults applies permissive defaults for development mode. Applied
// before validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Policy.DefaultDecision == "" {
		c.Policy.DefaultDecision = "allow"
	}
	if c.Notifier.Kind == "" {
		c.Notifier.Kind = "noop"
	}
	c.Server.Tracing = true
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Database.Path == "" {
		c.Database.Path = "./tollgate.db"
	}

	if c.Policy.DefaultDecision == "" {
		c.Policy.DefaultDecision = "allow"
	}
	if c.Policy.SnapshotTTL == "" {
		c.Policy.SnapshotTTL = "5s"
	}

	if c.Approval.RequestTTL == "" {
		c.Approval.RequestTTL = "24h"
	}
	if c.Approval.TokenTTL == "" {
		c.Approval.TokenTTL = "1h"
	}
	if c.Approval.DefaultLeaseDuration == "" {
		c.Approval.DefaultLeaseDuration = "15m"
	}

	if c.SmartRule.APIKey == "" {
		c.SmartRule.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.SmartRule.Model == "" {
		c.SmartRule.Model = "claude-3-5-haiku-latest"
	}
	if c.SmartRule.Timeout == "" {
		c.SmartRule.Timeout = "5s"
	}
	if c.SmartRule.MaxTokens == 0 {
		c.SmartRule.MaxTokens = 256
	}

	if c.Notifier.Kind == "" {
		c.Notifier.Kind = "noop"
	}

	// Only apply the default when the user hasn't explicitly set it in
	// YAML/env. viper.IsSet distinguishes "not set" from "explicitly false".
	if !viper.IsSet("smart_rule.enabled") {
		c.SmartRule.Enabled = c.SmartRule.APIKey != ""
	}
}
