// Package policy contains domain types for method call authorization.
package policy

// Action represents the result of a policy rule evaluation.
type Action string

const (
	// ActionAllow permits the method call to proceed.
	ActionAllow Action = "allow"
	// ActionDeny rejects the method call.
	ActionDeny Action = "deny"
)

// Rule defines a single call-policy rule. Rules are evaluated in
// configuration order; the first rule whose condition holds decides.
type Rule struct {
	// Name is a human-readable identifier for this rule.
	Name string
	// Condition is a CEL expression over the evaluation context.
	Condition string
	// Action is the result when the condition holds.
	Action Action
}

// Decision represents the outcome of policy evaluation for one call.
type Decision struct {
	// Allowed is true if the call is permitted.
	Allowed bool
	// RuleName names the rule that produced this decision; empty when no
	// rule matched and the default applied.
	RuleName string
}

// EvaluationContext carries the variables a rule condition may reference.
type EvaluationContext struct {
	// Method is the JSON-RPC method name being called.
	Method string
	// Transport identifies how the call arrived ("http" or "ws").
	Transport string
	// Origin is the request's Origin header, empty for non-browser clients.
	Origin string
}
