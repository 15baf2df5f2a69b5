// Package policy implements the condition evaluator, policy evaluator and
// policy validator that decide whether a tool call may proceed.
//
// A Policy is a declarative document: a static access-control list plus an
// ordered set of Rules. Rules may block a call outright, gate it on the
// taints currently carried by the session, or mutate that taint set. The
// same Condition AST backs both rule patterns and rule exceptions.
package policy

import "fmt"

// Action is the effect a matched Rule has on evaluation.
type Action string

const (
	ActionAddTaint    Action = "ADD_TAINT"
	ActionCheckTaint  Action = "CHECK_TAINT"
	ActionRemoveTaint Action = "REMOVE_TAINT"
	ActionBlock       Action = "BLOCK"
	ActionBlockCurrent Action = "BLOCK_CURRENT"
	ActionBlockSecond Action = "BLOCK_SECOND"
)

// Permission is the static ACL verdict for a tool.
type Permission string

const (
	PermissionAllow Permission = "ALLOW"
	PermissionDeny  Permission = "DENY"
)

// Policy is a single customer's complete security policy document.
type Policy struct {
	ID                   string            `json:"id" yaml:"id"`
	CustomerID           string            `json:"customer_id" yaml:"customer_id"`
	Name                 string            `json:"name" yaml:"name"`
	Version              string            `json:"version" yaml:"version"`
	StaticRules          map[string]Permission `json:"static_rules" yaml:"static_rules"`
	TaintRules           []Rule            `json:"taint_rules" yaml:"taint_rules"`
	ResourceRules        []ResourceRule    `json:"resource_rules,omitempty" yaml:"resource_rules,omitempty"`
	ProtectLethalTrifecta bool             `json:"protect_lethal_trifecta,omitempty" yaml:"protect_lethal_trifecta,omitempty"`
	SuspiciousEndpoints  []string          `json:"suspicious_endpoints,omitempty" yaml:"suspicious_endpoints,omitempty"`
}

// Rule gates or mutates taint state for calls matching Tool or ToolClass.
// Exactly one of Tool/ToolClass must be set.
type Rule struct {
	Tool            string          `json:"tool,omitempty" yaml:"tool,omitempty"`
	ToolClass       string          `json:"tool_class,omitempty" yaml:"tool_class,omitempty"`
	Action          Action          `json:"action" yaml:"action"`
	Tag             string          `json:"tag,omitempty" yaml:"tag,omitempty"`
	ForbiddenTags   []string        `json:"forbidden_tags,omitempty" yaml:"forbidden_tags,omitempty"`
	RequiredTaints  []string        `json:"required_taints,omitempty" yaml:"required_taints,omitempty"`
	Error           string          `json:"error,omitempty" yaml:"error,omitempty"`
	Pattern         *Condition      `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Sequence        *SequencePattern `json:"sequence,omitempty" yaml:"sequence,omitempty"`
	Exceptions      []RuleException `json:"exceptions,omitempty" yaml:"exceptions,omitempty"`
}

// MatchesTool reports whether the rule targets tool by exact name, or
// targets any of classes by its ToolClass.
func (r *Rule) MatchesTool(tool string, classes []string) bool {
	if r.Tool != "" {
		return r.Tool == tool
	}
	if r.ToolClass != "" {
		for _, c := range classes {
			if c == r.ToolClass {
				return true
			}
		}
	}
	return false
}

// RuleException suppresses a deny when Condition holds.
type RuleException struct {
	Condition Condition `json:"when" yaml:"when"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// SequencePattern describes an ordered run of tool calls, supplementing the
// logic-condition Pattern. The evaluator matches only its last step, against
// the current call's tool and declared classes; earlier steps, the session
// history and MaxDistance are not consulted.
type SequencePattern struct {
	Steps       []SequenceStep `json:"steps" yaml:"steps"`
	MaxDistance int            `json:"max_distance,omitempty" yaml:"max_distance,omitempty"`
}

// SequenceStep matches a single history entry by tool name or class.
type SequenceStep struct {
	Tool  string `json:"tool,omitempty" yaml:"tool,omitempty"`
	Class string `json:"class,omitempty" yaml:"class,omitempty"`
}

// Matches reports whether entry satisfies this step.
func (s SequenceStep) Matches(tool string, classes []string) bool {
	if s.Tool != "" {
		return s.Tool == tool
	}
	if s.Class != "" {
		for _, c := range classes {
			if c == s.Class {
				return true
			}
		}
	}
	return false
}

// ResourceRule gates `resources/read` access by a glob-style URI pattern.
type ResourceRule struct {
	URIPattern  string     `json:"uri_pattern" yaml:"uri_pattern"`
	Action      Action     `json:"action" yaml:"action"`
	TaintsToAdd []string   `json:"taints_to_add,omitempty" yaml:"taints_to_add,omitempty"`
	Exceptions  []RuleException `json:"exceptions,omitempty" yaml:"exceptions,omitempty"`
}

// Decision is the outcome of evaluating a Policy against a tool call.
type Decision struct {
	Allowed bool
	// DeniedReason holds the human-readable reason; empty when Allowed is true.
	DeniedReason string
	TaintsToAdd    []string
	TaintsToRemove []string
}

// AllowDecision builds a plain allow with no side effects.
func AllowDecision() Decision { return Decision{Allowed: true} }

// DenyDecision builds a deny carrying reason.
func DenyDecision(reason string) Decision { return Decision{Allowed: false, DeniedReason: reason} }

// AllowWithSideEffects builds an allow that also mutates taint state.
func AllowWithSideEffects(adds, removes []string) Decision {
	return Decision{Allowed: true, TaintsToAdd: adds, TaintsToRemove: removes}
}

func (d Decision) String() string {
	if d.Allowed {
		if len(d.TaintsToAdd) == 0 && len(d.TaintsToRemove) == 0 {
			return "Allowed"
		}
		return fmt.Sprintf("AllowedWithSideEffects{add=%v remove=%v}", d.TaintsToAdd, d.TaintsToRemove)
	}
	return fmt.Sprintf("Denied{%s}", d.DeniedReason)
}

// HistoryEntry records one past tool call in a session's history. The
// evaluator does not read it: session_has_tool/session_has_class use the
// session's tool and class sets, and sequence patterns look only at the
// current call.
type HistoryEntry struct {
	Tool      string
	Classes   []string
	Timestamp float64
}
