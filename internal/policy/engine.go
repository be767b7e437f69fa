// Package policy gates tool calls with an OPA policy.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Input is the document the policy is evaluated against.
type Input struct {
	ToolName      string         `json:"tool_name"`
	UserID        string         `json:"user_id"`
	ThreadID      string         `json:"thread_id"`
	Args          map[string]any `json:"args"`
	DisabledTools []string       `json:"disabled_tools"`
}

// Decision is the policy verdict for one tool call.
type Decision struct {
	Decision string
	Reason   string
}

// Allowed reports whether the call may proceed.
func (d Decision) Allowed() bool {
	return d.Decision != DecisionBlock
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.result"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine builds the engine from a policy file, or the default policy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks the tool policy. An undefined result allows the call.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	if input.Args == nil {
		input.Args = map[string]any{}
	}
	if input.DisabledTools == nil {
		input.DisabledTools = []string{}
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Decision: DecisionAllow, Reason: "default"}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}
	d := Decision{Decision: DecisionAllow}
	if s, ok := obj["decision"].(string); ok && s != "" {
		d.Decision = s
	}
	if s, ok := obj["reason"].(string); ok {
		d.Reason = s
	}
	return d, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package tool_policy

import rego.v1

default decision := "allow"

decision := "block" if {
	input.tool_name in input.disabled_tools
}

default reason := ""

reason := sprintf("tool %s is disabled", [input.tool_name]) if {
	decision == "block"
}

result := {"decision": decision, "reason": reason}
`
