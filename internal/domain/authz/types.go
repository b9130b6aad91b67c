// Package authz contains the policy rule/lease domain types and the
// evaluator that combines them (plus smart rules) into an authorization
// decision for a classified tool call.
package authz

import (
	"time"

	"github.com/tollgate/tollgate/internal/domain/classify"
)

// Effect is the outcome a matching rule or lease produces.
type Effect string

const (
	EffectAllow           Effect = "allow"
	EffectDeny            Effect = "deny"
	EffectRequireApproval Effect = "require_approval"
)

// MatchType controls how a rule's DomainPattern is compared.
type MatchType string

const (
	MatchExact  MatchType = "exact"
	MatchSuffix MatchType = "suffix"
)

// Rule is a single PolicyRule (spec §3). A rule with a non-empty
// SmartCondition is a "smart rule": its DomainPattern and Recipient scope
// filters are ignored, and only UpstreamID/ToolName act as a cheap
// pre-filter before the smart-rule evaluator is invoked.
type Rule struct {
	ID              string
	Workspace       string
	Name            string
	Priority        int // 0-100
	Enabled         bool
	Effect          Effect
	ActionClass     classify.ActionClass
	UpstreamID      string // empty = unset
	ToolName        string // empty = unset
	DomainPattern   string // empty = unset
	DomainMatchType MatchType
	Recipient       string // empty = unset
	SmartCondition  string // empty = not a smart rule
	CreatedAt       time.Time
}

// IsSmart reports whether this rule's match predicate is a natural-language
// condition evaluated by the smart-rule evaluator rather than scalar filters.
func (r Rule) IsSmart() bool {
	return r.SmartCondition != ""
}

// Lease is a time-bounded bypass of the approval requirement (spec §3).
// A lease always constrains ActionClass (never "any") and always means
// "allow" when it matches.
type Lease struct {
	ID              string
	Workspace       string
	Creator         string
	ActionClass     classify.ActionClass
	UpstreamID      string
	ToolName        string
	DomainPattern   string
	DomainMatchType MatchType
	Recipient       string
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// Expired reports whether the lease is past its expiry at the given time.
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// EvaluationContext carries everything the evaluator needs to judge a
// single classified tool call (spec §4.5).
type EvaluationContext struct {
	Workspace   string
	ToolName    string
	UpstreamID  string
	ActionClass classify.ActionClass
	Resource    classify.Resource
	RiskFlags   classify.RiskFlags
	// Arguments carries the redacted argument tree, available to the
	// smart-rule evaluator for natural-language matching.
	Arguments map[string]interface{}
}

// DecisionOutcome is the gateway's terminal verdict for a tool call.
type DecisionOutcome string

const (
	DecisionAllowed          DecisionOutcome = "allowed"
	DecisionDenied           DecisionOutcome = "denied"
	DecisionApprovalRequired DecisionOutcome = "approval_required"
)

// Decision is the result of evaluating an EvaluationContext.
type Decision struct {
	Outcome   DecisionOutcome
	Reason    string
	MatchedID string // rule or lease ID that produced the decision, if any
}
