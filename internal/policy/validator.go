package policy

import "fmt"

var validActions = map[Action]bool{
	ActionAddTaint:     true,
	ActionCheckTaint:   true,
	ActionRemoveTaint:  true,
	ActionBlock:        true,
	ActionBlockCurrent: true,
	ActionBlockSecond:  true,
}

var validAtomicConditions = []func(*Condition) bool{
	func(c *Condition) bool { return c.CurrentTool != "" },
	func(c *Condition) bool { return c.CurrentToolClass != "" },
	func(c *Condition) bool { return c.SessionHasTool != "" },
	func(c *Condition) bool { return c.SessionHasClass != "" },
	func(c *Condition) bool { return c.SessionHasTaint != "" },
	func(c *Condition) bool { return c.ToolArgsMatch != nil },
}

// Validator performs fail-fast structural validation of a Policy document at
// load time, before a SecurityCore is ever allowed to use it for decisions.
type Validator struct {
	// KnownToolClasses, if non-empty, restricts a rule's ToolClass to a known
	// registry; class names inside conditions (CurrentToolClass,
	// SessionHasClass) are not checked against it. Empty means unrestricted
	// (no registry configured).
	KnownToolClasses map[string]bool
}

// Validate checks p for structural errors and returns every one found; a
// nil/empty return means p is safe to load.
func (v *Validator) Validate(p *Policy) []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, fmt.Errorf("policy: name must not be empty"))
	}

	for tool, perm := range p.StaticRules {
		if perm != PermissionAllow && perm != PermissionDeny {
			errs = append(errs, fmt.Errorf("policy: static_rules[%s]: permission must be ALLOW or DENY, got %q", tool, perm))
		}
	}

	for i := range p.TaintRules {
		errs = append(errs, v.validateRule(&p.TaintRules[i], i)...)
	}

	for i, rr := range p.ResourceRules {
		if rr.URIPattern == "" {
			errs = append(errs, fmt.Errorf("resource_rules[%d]: uri_pattern must not be empty", i))
		}
		if rr.Action != ActionBlock && rr.Action != "ALLOW" {
			errs = append(errs, fmt.Errorf("resource_rules[%d]: action must be ALLOW or BLOCK, got %q", i, rr.Action))
		}
	}

	return errs
}

func (v *Validator) validateRule(r *Rule, idx int) []error {
	var errs []error
	prefix := fmt.Sprintf("taint_rules[%d]", idx)

	hasTool := r.Tool != ""
	hasClass := r.ToolClass != ""
	if hasTool == hasClass {
		errs = append(errs, fmt.Errorf("%s: must specify either 'tool' or 'tool_class', not both or neither", prefix))
	}
	if hasClass && v.KnownToolClasses != nil && len(v.KnownToolClasses) > 0 && !v.KnownToolClasses[r.ToolClass] {
		errs = append(errs, fmt.Errorf("%s: unknown tool_class %q", prefix, r.ToolClass))
	}

	if !validActions[r.Action] {
		errs = append(errs, fmt.Errorf("%s: invalid action %q", prefix, r.Action))
		return errs
	}

	switch r.Action {
	case ActionCheckTaint:
		if len(r.ForbiddenTags) == 0 && len(r.RequiredTaints) == 0 {
			errs = append(errs, fmt.Errorf("%s: CHECK_TAINT requires 'forbidden_tags' or 'required_taints'", prefix))
		}
	case ActionAddTaint, ActionRemoveTaint:
		if r.Tag == "" {
			errs = append(errs, fmt.Errorf("%s: %s requires 'tag'", prefix, r.Action))
		}
	}

	if r.Pattern != nil {
		errs = append(errs, v.validateCondition(r.Pattern, prefix+".pattern", 0)...)
		if hasClass && conditionContainsToolArgsMatch(r.Pattern, 0) {
			errs = append(errs, fmt.Errorf("%s: tool_args_match is only allowed in tool-specific rules (a class-targeted rule cannot use tool_args_match)", prefix))
		}
	}
	if r.Sequence != nil && len(r.Sequence.Steps) == 0 {
		errs = append(errs, fmt.Errorf("%s: sequence pattern requires at least one step", prefix))
	}
	for i, step := range r.Sequence.stepsOrEmpty() {
		if step.Tool == "" && step.Class == "" {
			errs = append(errs, fmt.Errorf("%s: sequence step %d must specify 'tool' or 'class'", prefix, i))
		}
	}

	for i, ex := range r.Exceptions {
		errs = append(errs, v.validateCondition(&ex.Condition, fmt.Sprintf("%s.exceptions[%d]", prefix, i), 0)...)
		if hasClass && conditionContainsToolArgsMatch(&ex.Condition, 0) {
			errs = append(errs, fmt.Errorf("%s.exceptions[%d]: tool_args_match is forbidden when the rule targets tool_class; it requires 'tool' to be set", prefix, i))
		}
	}

	return errs
}

func (sp *SequencePattern) stepsOrEmpty() []SequenceStep {
	if sp == nil {
		return nil
	}
	return sp.Steps
}

func (v *Validator) validateCondition(c *Condition, path string, depth int) []error {
	if depth > maxConditionDepth {
		return []error{fmt.Errorf("%s: nesting exceeds max depth %d", path, maxConditionDepth)}
	}
	var errs []error

	switch {
	case c.And != nil:
		if len(c.And) == 0 {
			errs = append(errs, fmt.Errorf("%s.and: must not be empty", path))
		}
		for i := range c.And {
			errs = append(errs, v.validateCondition(&c.And[i], fmt.Sprintf("%s.and[%d]", path, i), depth+1)...)
		}
	case c.Or != nil:
		if len(c.Or) == 0 {
			errs = append(errs, fmt.Errorf("%s.or: must not be empty", path))
		}
		for i := range c.Or {
			errs = append(errs, v.validateCondition(&c.Or[i], fmt.Sprintf("%s.or[%d]", path, i), depth+1)...)
		}
	case c.Not != nil:
		errs = append(errs, v.validateCondition(c.Not, path+".not", depth+1)...)
	case c.Eq != nil, c.Neq != nil, c.Gt != nil, c.Lt != nil:
		// structurally fine; operand count checked at evaluation time
	case c.Literal != nil:
	default:
		matched := false
		for _, isAtomic := range validAtomicConditions {
			if isAtomic(c) {
				matched = true
				break
			}
		}
		if !matched {
			errs = append(errs, fmt.Errorf("%s: condition node has no recognized operator", path))
		}
	}

	return errs
}

// conditionContainsToolArgsMatch recursively checks whether c (or any
// descendant) uses tool_args_match, which is only meaningful for a
// single-tool rule — a tool_class rule has no single fixed arg schema.
func conditionContainsToolArgsMatch(c *Condition, depth int) bool {
	if c == nil || depth > maxConditionDepth {
		return false
	}
	if c.ToolArgsMatch != nil {
		return true
	}
	for i := range c.And {
		if conditionContainsToolArgsMatch(&c.And[i], depth+1) {
			return true
		}
	}
	for i := range c.Or {
		if conditionContainsToolArgsMatch(&c.Or[i], depth+1) {
			return true
		}
	}
	if c.Not != nil && conditionContainsToolArgsMatch(c.Not, depth+1) {
		return true
	}
	return false
}
