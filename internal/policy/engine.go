// Package policy evaluates chat admission rules with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the chat policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// Input is the document a chat request is evaluated against.
type Input struct {
	Message         string `json:"message"`
	ModelName       string `json:"model_name"`
	GenerationStyle string `json:"generation_style"`
	MaxMessageChars int    `json:"max_message_chars"`
}

// Result is the outcome of a policy evaluation.
type Result struct {
	Decision string
	Reason   string
}

// Allowed reports whether the request may proceed.
func (r Result) Allowed() bool {
	return r.Decision != DecisionBlock
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.chat_policy"),
		rego.Module("chat_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks a chat request against the policy.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Result, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"message":           input.Message,
		"model_name":        input.ModelName,
		"generation_style":  input.GenerationStyle,
		"max_message_chars": input.MaxMessageChars,
	}))
	if err != nil {
		return Result{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Result{Decision: DecisionAllow, Reason: "default"}, nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Result{Decision: DecisionAllow, Reason: "unexpected return type"}, nil
	}

	res := Result{Decision: DecisionAllow}
	if d, ok := doc["decision"].(string); ok {
		res.Decision = d
	}
	if r, ok := doc["reason"].(string); ok {
		res.Reason = r
	}
	return res, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package chat_policy

default decision = "allow"

decision = "block" {
	trim_space(input.message) == ""
}

decision = "block" {
	count(input.message) > input.max_message_chars
}

reason = "message is empty" {
	trim_space(input.message) == ""
}

reason = "message exceeds the maximum length" {
	count(input.message) > input.max_message_chars
}
`
