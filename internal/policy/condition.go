package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxConditionDepth bounds recursion through nested And/Or/Not so a
// maliciously deep policy document cannot blow the goroutine stack.
const maxConditionDepth = 50

// epsilon is the tolerance used when comparing two numeric Values for
// equality, avoiding float round-trip false negatives.
const epsilon = 1e-9

// Condition is the single AST node type backing both rule patterns and rule
// exceptions. Exactly one field is populated; which one is the discriminant.
// Modeled as a flat struct rather than an interface hierarchy so policy
// documents can be decoded directly from JSON/YAML without a custom
// union-type decoder for the node itself (Value still needs one, below).
type Condition struct {
	And []Condition `json:"and,omitempty" yaml:"and,omitempty"`
	Or  []Condition `json:"or,omitempty" yaml:"or,omitempty"`
	Not *Condition  `json:"not,omitempty" yaml:"not,omitempty"`

	Eq  []Value `json:"==,omitempty" yaml:"==,omitempty"`
	Neq []Value `json:"!=,omitempty" yaml:"!=,omitempty"`
	Gt  []Value `json:">,omitempty" yaml:">,omitempty"`
	Lt  []Value `json:"<,omitempty" yaml:"<,omitempty"`

	ToolArgsMatch map[string]any `json:"tool_args_match,omitempty" yaml:"tool_args_match,omitempty"`

	CurrentTool      string `json:"current_tool,omitempty" yaml:"current_tool,omitempty"`
	CurrentToolClass string `json:"current_tool_class,omitempty" yaml:"current_tool_class,omitempty"`
	SessionHasTool   string `json:"session_has_tool,omitempty" yaml:"session_has_tool,omitempty"`
	SessionHasClass  string `json:"session_has_class,omitempty" yaml:"session_has_class,omitempty"`
	SessionHasTaint  string `json:"session_has_taint,omitempty" yaml:"session_has_taint,omitempty"`

	Literal *bool `json:"literal,omitempty" yaml:"literal,omitempty"`
}

// Value is either a variable reference (resolved against EvalContext at
// evaluation time) or an inline literal.
type Value struct {
	Var     string
	Literal any
	isVar   bool
}

// UnmarshalJSON implements the untagged `{"var": "..."}` vs. literal split
// the condition language's comparison operands use.
func (v *Value) UnmarshalJSON(data []byte) error {
	var probe struct {
		Var *string `json:"var"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.Var != nil {
		v.Var = *probe.Var
		v.isVar = true
		return nil
	}
	var lit any
	if err := json.Unmarshal(data, &lit); err != nil {
		return fmt.Errorf("policy: invalid condition value: %w", err)
	}
	v.Literal = lit
	v.isVar = false
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON's var-vs-literal probe for YAML policy
// documents, since yaml.v3 does not fall back to encoding/json.Unmarshaler.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var probe struct {
		Var *string `yaml:"var"`
	}
	if err := node.Decode(&probe); err == nil && probe.Var != nil {
		v.Var = *probe.Var
		v.isVar = true
		return nil
	}
	var lit any
	if err := node.Decode(&lit); err != nil {
		return fmt.Errorf("policy: invalid condition value: %w", err)
	}
	v.Literal = lit
	v.isVar = false
	return nil
}

// EvalContext supplies the atomic facts a Condition is checked against.
type EvalContext struct {
	CurrentTool   string
	CurrentClasses []string
	ToolArgs      map[string]any
	SessionTools  map[string]bool
	SessionClasses map[string]bool
	Taints        map[string]bool
}

func (c EvalContext) resolve(v Value) any {
	if !v.isVar {
		return v.Literal
	}
	switch v.Var {
	case "current_tool":
		return c.CurrentTool
	default:
		if strings.HasPrefix(v.Var, "args.") {
			return c.ToolArgs[strings.TrimPrefix(v.Var, "args.")]
		}
		return nil
	}
}

// Evaluate walks the Condition tree against ctx, enforcing the recursion
// depth cap and returning an error for a malformed (empty atomic, unknown
// operator) node rather than silently matching.
func Evaluate(cond *Condition, ctx EvalContext) (bool, error) {
	return evaluate(cond, ctx, 0)
}

func evaluate(cond *Condition, ctx EvalContext, depth int) (bool, error) {
	if cond == nil {
		return false, fmt.Errorf("policy: nil condition")
	}
	if depth > maxConditionDepth {
		return false, fmt.Errorf("policy: condition nesting exceeds max depth %d", maxConditionDepth)
	}

	switch {
	case cond.And != nil:
		if len(cond.And) == 0 {
			return true, nil
		}
		for _, sub := range cond.And {
			ok, err := evaluate(&sub, ctx, depth+1)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case cond.Or != nil:
		if len(cond.Or) == 0 {
			return false, nil
		}
		for _, sub := range cond.Or {
			ok, err := evaluate(&sub, ctx, depth+1)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case cond.Not != nil:
		ok, err := evaluate(cond.Not, ctx, depth+1)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case cond.Eq != nil:
		return cmpEq(cond.Eq, ctx)
	case cond.Neq != nil:
		ok, err := cmpEq(cond.Neq, ctx)
		return !ok, err
	case cond.Gt != nil:
		return cmpOrdered(cond.Gt, ctx, func(a, b float64) bool { return a > b })
	case cond.Lt != nil:
		return cmpOrdered(cond.Lt, ctx, func(a, b float64) bool { return a < b })

	case cond.ToolArgsMatch != nil:
		return evalToolArgsMatch(cond.ToolArgsMatch, ctx)

	case cond.Literal != nil:
		return *cond.Literal, nil

	case cond.CurrentTool != "":
		return ctx.CurrentTool == cond.CurrentTool, nil
	case cond.CurrentToolClass != "":
		for _, c := range ctx.CurrentClasses {
			if c == cond.CurrentToolClass {
				return true, nil
			}
		}
		return false, nil
	case cond.SessionHasTool != "":
		return ctx.SessionTools[cond.SessionHasTool], nil
	case cond.SessionHasClass != "":
		return ctx.SessionClasses[cond.SessionHasClass], nil
	case cond.SessionHasTaint != "":
		return ctx.Taints[cond.SessionHasTaint], nil
	}

	return false, fmt.Errorf("policy: condition node has no recognized operator")
}

func cmpEq(operands []Value, ctx EvalContext) (bool, error) {
	if len(operands) != 2 {
		return false, fmt.Errorf("policy: == requires exactly two operands, got %d", len(operands))
	}
	a := ctx.resolve(operands[0])
	b := ctx.resolve(operands[1])
	return valuesEqual(a, b), nil
}

func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return math.Abs(af-bf) < epsilon
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func cmpOrdered(operands []Value, ctx EvalContext, cmp func(a, b float64) bool) (bool, error) {
	if len(operands) != 2 {
		return false, fmt.Errorf("policy: ordered comparison requires exactly two operands, got %d", len(operands))
	}
	a, aok := toFloat(ctx.resolve(operands[0]))
	b, bok := toFloat(ctx.resolve(operands[1]))
	if !aok || !bok {
		return false, fmt.Errorf("policy: ordered comparison requires numeric operands")
	}
	return cmp(a, b), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// evalToolArgsMatch checks ctx.ToolArgs against pattern, supporting
// wildcard("*") string matching on each named argument via MatchWildcard.
// Forbidden on tool_class-targeted rules/exceptions — enforced by Validate,
// not here, since this function has no rule context.
func evalToolArgsMatch(pattern map[string]any, ctx EvalContext) (bool, error) {
	for key, want := range pattern {
		got, ok := ctx.ToolArgs[key]
		if !ok {
			return false, nil
		}
		wantStr, wOk := want.(string)
		gotStr, gOk := got.(string)
		if wOk && gOk {
			if !MatchWildcard(wantStr, gotStr) {
				return false, nil
			}
			continue
		}
		if !valuesEqual(got, want) {
			return false, nil
		}
	}
	return true, nil
}
