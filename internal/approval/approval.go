// Package approval resolves, for any tool-call attempt, whether execution
// may proceed without explicit human approval. Per-tool rules are consulted
// before the server's default policy, so operators can carve out exceptions
// without weakening the default for every other tool on the same server.
package approval

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arcline-ai/toolgate/internal/fault"
)

// Policy is the per-server default approval policy.
type Policy string

const (
	PolicyAlwaysAsk   Policy = "always_ask"
	PolicyFineGrained Policy = "fine_grained"
	PolicyNoApproval  Policy = "no_approval"
)

// ValidPolicy reports whether p is a known policy value.
func ValidPolicy(p Policy) bool {
	switch p {
	case PolicyAlwaysAsk, PolicyFineGrained, PolicyNoApproval:
		return true
	}
	return false
}

// Mode is the per-tool rule mode.
type Mode string

const (
	ModeAlways      Mode = "always"
	ModeNever       Mode = "never"
	ModeConditional Mode = "conditional"
)

// Op is a condition comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpLt       Op = "lt"
	OpGt       Op = "gt"
	OpContains Op = "contains"
	OpExists   Op = "exists"
)

// Condition is a predicate over call arguments. When it evaluates true the
// call requires approval.
type Condition struct {
	Param string `json:"param"`
	Op    Op     `json:"op"`
	Value string `json:"value,omitempty"`
}

// Validate checks the condition definition.
func (c *Condition) Validate() error {
	if c.Param == "" {
		return fault.Validationf("condition requires a param")
	}
	switch c.Op {
	case OpEq, OpNe, OpLt, OpGt, OpContains:
		if c.Value == "" {
			return fault.Validationf("condition op %q requires a value", c.Op)
		}
	case OpExists:
	default:
		return fault.Validationf("unknown condition op %q", c.Op)
	}
	return nil
}

// Eval evaluates the condition against call arguments. An absent argument
// satisfies only the negative: exists is false, comparisons are false.
func (c *Condition) Eval(args map[string]any) bool {
	val, present := args[c.Param]
	if c.Op == OpExists {
		return present
	}
	if !present {
		return false
	}
	got := stringify(val)
	switch c.Op {
	case OpEq:
		return got == c.Value
	case OpNe:
		return got != c.Value
	case OpLt:
		return compare(got, c.Value) < 0
	case OpGt:
		return compare(got, c.Value) > 0
	case OpContains:
		return strings.Contains(got, c.Value)
	}
	return false
}

// compare orders numerically when both sides parse as numbers, otherwise
// lexicographically. Lexicographic order makes ISO-8601 date comparisons
// work without a date type.
func compare(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Rule is a per-tool approval override. At most one rule exists per
// (server, tool_name) pair; setting a new one replaces the old.
type Rule struct {
	ToolName  string     `json:"tool_name"`
	Mode      Mode       `json:"mode"`
	Condition *Condition `json:"condition,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Validate checks the rule definition.
func (r *Rule) Validate() error {
	if r.ToolName == "" {
		return fault.Validationf("rule requires a tool_name")
	}
	switch r.Mode {
	case ModeAlways, ModeNever:
		if r.Condition != nil {
			return fault.Validationf("rule mode %q does not take a condition", r.Mode)
		}
	case ModeConditional:
		if r.Condition == nil {
			return fault.Validationf("conditional rule requires a condition")
		}
		return r.Condition.Validate()
	default:
		return fault.Validationf("unknown rule mode %q", r.Mode)
	}
	return nil
}

// Decision is the engine's verdict. The engine never executes the call;
// the caller must honor the verdict before invoking the API client.
type Decision struct {
	Allowed bool
	Reason  string
}

// Engine renders approval verdicts. Verdicts are computed fresh per call
// and never memoized, so a rule change applies to the next call.
type Engine struct {
	serverless Policy // policy for tools with no backing server
	logger     *zap.Logger
}

// NewEngine creates an Engine. serverless is the policy applied to
// first-class tools (webhook, transfer) that have no server integration;
// these are operator-registered, so no_approval is the usual choice.
func NewEngine(serverless Policy, logger *zap.Logger) *Engine {
	if !ValidPolicy(serverless) {
		serverless = PolicyNoApproval
	}
	return &Engine{serverless: serverless, logger: logger}
}

// ServerlessPolicy returns the policy applied to tools without a server.
func (e *Engine) ServerlessPolicy() Policy {
	return e.serverless
}

// Resolve applies the rule (if any) and falls back to the server policy.
// fine_grained with no matching rule requires approval: fail safe, not
// fail open.
func (e *Engine) Resolve(policy Policy, rule *Rule, toolName string, args map[string]any) Decision {
	if rule != nil {
		switch rule.Mode {
		case ModeAlways:
			return Decision{Allowed: false, Reason: fmt.Sprintf("rule for %q always requires approval", toolName)}
		case ModeNever:
			return Decision{Allowed: true}
		case ModeConditional:
			if rule.Condition.Eval(args) {
				return Decision{
					Allowed: false,
					Reason: fmt.Sprintf("condition %s %s %q matched for %q",
						rule.Condition.Param, rule.Condition.Op, rule.Condition.Value, toolName),
				}
			}
			return Decision{Allowed: true}
		}
	}

	switch policy {
	case PolicyNoApproval:
		return Decision{Allowed: true}
	case PolicyAlwaysAsk:
		return Decision{Allowed: false, Reason: "server policy always_ask"}
	case PolicyFineGrained:
		return Decision{Allowed: false, Reason: fmt.Sprintf("no rule matches %q under fine_grained policy", toolName)}
	}

	e.logger.Warn("unknown approval policy, requiring approval",
		zap.String("policy", string(policy)),
		zap.String("tool_name", toolName),
	)
	return Decision{Allowed: false, Reason: "unknown server policy"}
}
