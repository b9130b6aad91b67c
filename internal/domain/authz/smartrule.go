package authz

import "context"

// SmartRuleVerdict is the outcome of evaluating one smart rule's free-text
// condition against a specific tool call.
type SmartRuleVerdict struct {
	Matches bool
	Reason  string
}

// SmartRuleEvaluator evaluates a smart rule's natural-language condition
// against a tool call. Implementations live in package smartrule; this
// interface exists here so the evaluator can depend on the contract without
// importing the LLM client.
type SmartRuleEvaluator interface {
	Evaluate(ctx context.Context, toolName string, args map[string]interface{}, condition string) (SmartRuleVerdict, error)
}
