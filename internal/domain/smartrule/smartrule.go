// Package smartrule evaluates a rule's free-text condition against a
// specific tool call: an LLM-backed primary path with a deterministic
// keyword-overlap fallback (spec §4.6). It implements
// authz.SmartRuleEvaluator.
package smartrule

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tollgate/tollgate/internal/domain/authz"
)

// systemPrompt fixes the LLM's output contract to strict-schema JSON, per
// spec §4.6.
const systemPrompt = `You are a policy condition evaluator for an AI agent tool-call gateway. ` +
	`Given a tool name, its arguments, and a natural-language condition, decide whether the ` +
	`condition applies to this specific call. Respond with ONLY a JSON object of the exact ` +
	`shape {"matches": bool, "reason": string} and nothing else.`

// LLMClient is the subset of an LLM chat API the evaluator needs. The
// concrete implementation (internal/adapter/outbound/llm) wraps
// github.com/anthropics/anthropic-sdk-go; this interface keeps that
// dependency out of the domain package, mirroring goa-ai's
// anthropic.MessagesClient seam.
type LLMClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (text string, err error)
}

// DefaultTimeout bounds the LLM call; on timeout the evaluator falls back
// to the keyword heuristic (spec §5 "a few seconds").
const DefaultTimeout = 5 * time.Second

// sensitivePatterns are the fixed "sensitive" substrings the fallback
// heuristic looks for when the condition itself mentions one of them.
var sensitivePatterns = []string{
	".env", "password", "credential", "api key", "apikey", "ssh",
	"private key", "/etc/passwd", "/etc/shadow", "id_rsa", ".pem", ".pfx",
}

// stoplist is excluded from the fallback's content-word overlap check.
var stoplist = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"will": true, "shall": true, "must": true, "should": true, "which": true,
	"about": true, "into": true, "such": true, "when": true, "where": true,
	"block": true, "deny": true, "allow": true, "targeting": true, "access": true,
}

// Evaluator implements authz.SmartRuleEvaluator.
type Evaluator struct {
	client  LLMClient
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.timeout = d }
}

// NewEvaluator builds an Evaluator. client may be nil, in which case every
// evaluation uses the fallback heuristic -- this is the configuration when
// no LLM endpoint is set (spec §4.6 "If an LLM endpoint is configured").
func NewEvaluator(client LLMClient, logger *slog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{client: client, logger: logger, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// llmResponse is the strict-schema JSON shape the system prompt demands.
type llmResponse struct {
	Matches bool   `json:"matches"`
	Reason  string `json:"reason"`
}

// Evaluate implements authz.SmartRuleEvaluator. It is cancellation-aware:
// ctx cancellation aborts the LLM call and returns the (synchronous,
// short) fallback result immediately.
func (e *Evaluator) Evaluate(ctx context.Context, toolName string, args map[string]interface{}, condition string) (authz.SmartRuleVerdict, error) {
	if e.client == nil {
		return e.fallback(toolName, args, condition), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := e.client.Complete(callCtx, systemPrompt, userPrompt(toolName, args, condition))
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("smart rule LLM call failed, using fallback", "error", err)
		}
		return e.fallback(toolName, args, condition), nil
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		if e.logger != nil {
			e.logger.Warn("smart rule LLM returned non-matching schema, using fallback", "error", err)
		}
		return e.fallback(toolName, args, condition), nil
	}

	return authz.SmartRuleVerdict{Matches: resp.Matches, Reason: resp.Reason}, nil
}

func userPrompt(toolName string, args map[string]interface{}, condition string) string {
	argsJSON, _ := json.Marshal(args)
	var b strings.Builder
	b.WriteString("tool_name: ")
	b.WriteString(toolName)
	b.WriteString("\narguments: ")
	b.Write(argsJSON)
	b.WriteString("\ncondition: ")
	b.WriteString(condition)
	return b.String()
}

// extractJSON trims any surrounding prose the model may have added despite
// the system prompt, returning the first top-level JSON object found.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// fallback implements the deterministic keyword-overlap heuristic (spec
// §4.6). It never returns an error and runs synchronously.
func (e *Evaluator) fallback(toolName string, args map[string]interface{}, condition string) authz.SmartRuleVerdict {
	haystack := strings.ToLower(toolName + " " + stringifyArgs(args))
	lowerCondition := strings.ToLower(condition)

	for _, pattern := range sensitivePatterns {
		if strings.Contains(lowerCondition, pattern) {
			if strings.Contains(haystack, pattern) {
				return authz.SmartRuleVerdict{
					Matches: true,
					Reason:  "fallback heuristic: condition and call both reference " + pattern,
				}
			}
		}
	}

	words := contentWords(lowerCondition)
	for _, w := range words {
		if strings.Contains(haystack, w) {
			return authz.SmartRuleVerdict{
				Matches: true,
				Reason:  "fallback heuristic: condition word " + w + " appears in call",
			}
		}
	}

	return authz.SmartRuleVerdict{Matches: false, Reason: "fallback heuristic: no overlap found"}
}

// contentWords extracts condition words of length >= 4 after removing the
// stoplist, sorted for deterministic iteration order.
func contentWords(condition string) []string {
	fields := strings.FieldsFunc(condition, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	seen := map[string]bool{}
	var out []string
	for _, f := range fields {
		if len(f) < 4 || stoplist[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func stringifyArgs(args map[string]interface{}) string {
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(b)
}

var _ authz.SmartRuleEvaluator = (*Evaluator)(nil)
