package policy

import (
	"fmt"
	"regexp"
)

// CallContext is everything the evaluator needs to know about a single tool
// call: the tool being invoked, its classification, the arguments it was
// invoked with, and the session it belongs to.
type CallContext struct {
	Tool          string
	ToolClasses   []string
	ToolArgs      map[string]any
	SessionTools  map[string]bool
	SessionClasses map[string]bool
	CurrentTaints map[string]bool
}

// Evaluator applies a Policy's rules to a CallContext.
type Evaluator struct{}

// NewEvaluator constructs an Evaluator. It carries no state: every Evaluate
// call is a pure function of (policy, ctx).
func NewEvaluator() *Evaluator { return &Evaluator{} }

// Evaluate runs the full static-ACL + taint-rule pipeline against a single
// tool call and returns the resulting Decision.
//
// Order, matching lilith-zero's evaluate_with_args (the richer of the two
// prototype evaluators, and the one this mediator standardizes on):
//
//  1. Static ACL: an explicit DENY or an unlisted tool denies immediately.
//     Fail-closed — only an explicit ALLOW proceeds.
//  2. Pre-scan: every ADD_TAINT rule matching this call's tool/classes
//     contributes its tag to augmented_classes, so later rules in the same
//     pass can react to a taint this very call is about to acquire.
//  3. Main pass over taint_rules, in document order:
//     - a BLOCK/BLOCK_CURRENT/BLOCK_SECOND rule with a logic-condition
//       Pattern is evaluated against augmented_classes + args; one with a
//       Sequence has only its last step matched against the call's declared
//       tool/classes; a match denies unless an exception fires. Patterns on
//       rules with other actions are not evaluated.
//     - CHECK_TAINT: forbidden_tags present (OR) denies unless excepted;
//       then required_taints all present (AND) denies unless excepted.
//     - REMOVE_TAINT: collected, applied only once the call is allowed.
//     - BLOCK: denies unless excepted.
//  4. Exceptions are evaluated against the *non-augmented* tool classes —
//     an exception reasons about the call's declared nature, not about
//     taint state this same call is about to introduce.
func (e *Evaluator) Evaluate(p *Policy, ctx CallContext) Decision {
	if d, denied := e.checkStaticACL(p, ctx.Tool); denied {
		return d
	}

	if ctx.ToolArgs != nil && checkSuspiciousEndpoints(p.SuspiciousEndpoints, ctx.ToolArgs) {
		return DenyDecision("Tool arguments reference a suspicious endpoint")
	}

	augmented := make(map[string]bool, len(ctx.ToolClasses))
	for _, c := range ctx.ToolClasses {
		augmented[c] = true
	}
	var pendingAdds []string
	for _, rule := range p.TaintRules {
		if rule.Action != ActionAddTaint {
			continue
		}
		if rule.MatchesTool(ctx.Tool, ctx.ToolClasses) {
			augmented[rule.Tag] = true
			pendingAdds = append(pendingAdds, rule.Tag)
		}
	}
	augmentedClasses := make([]string, 0, len(augmented))
	for c := range augmented {
		augmentedClasses = append(augmentedClasses, c)
	}

	evalCtx := EvalContext{
		CurrentTool:    ctx.Tool,
		CurrentClasses: augmentedClasses,
		ToolArgs:       ctx.ToolArgs,
		SessionTools:   ctx.SessionTools,
		SessionClasses: ctx.SessionClasses,
		Taints:         ctx.CurrentTaints,
	}

	var pendingRemoves []string

	for _, rule := range p.TaintRules {
		switch rule.Action {
		case ActionAddTaint:
			continue

		case ActionRemoveTaint:
			if rule.MatchesTool(ctx.Tool, augmentedClasses) {
				pendingRemoves = append(pendingRemoves, rule.Tag)
			}

		case ActionCheckTaint:
			if !rule.MatchesTool(ctx.Tool, augmentedClasses) {
				continue
			}
			if len(rule.ForbiddenTags) > 0 && anyTaintPresent(ctx.CurrentTaints, rule.ForbiddenTags) {
				if !e.exceptionApplies(rule.Exceptions, ctx, evalCtx) {
					return DenyDecision(denialReason(rule.Error, "Forbidden taint detected"))
				}
			}
			if len(rule.RequiredTaints) > 0 && allTaintsPresent(ctx.CurrentTaints, rule.RequiredTaints) {
				if !e.exceptionApplies(rule.Exceptions, ctx, evalCtx) {
					return DenyDecision(denialReason(rule.Error, "Required taints detected"))
				}
			}

		case ActionBlock, ActionBlockCurrent, ActionBlockSecond:
			var matched bool
			switch {
			case rule.Pattern != nil:
				// A pattern rule fires purely on its logic-condition match,
				// independent of MatchesTool — a rule whose declared
				// tool_class isn't among the current classes but whose
				// pattern matches the call must still block.
				ok, err := Evaluate(rule.Pattern, evalCtx)
				if err != nil {
					return DenyDecision("Internal evaluation error")
				}
				matched = ok
			case rule.Sequence != nil:
				matched = matchSequence(*rule.Sequence, ctx)
			default:
				matched = rule.MatchesTool(ctx.Tool, augmentedClasses)
			}
			if matched {
				if !e.exceptionApplies(rule.Exceptions, ctx, evalCtx) {
					return DenyDecision(denialReason(rule.Error, "Tool block"))
				}
			}
		}
	}

	if len(pendingAdds) == 0 && len(pendingRemoves) == 0 {
		return AllowDecision()
	}
	return AllowWithSideEffects(pendingAdds, pendingRemoves)
}

func (e *Evaluator) checkStaticACL(p *Policy, tool string) (Decision, bool) {
	perm, ok := p.StaticRules[tool]
	if !ok {
		return DenyDecision(fmt.Sprintf("tool %q is not present in the static allow list and is forbidden by default", tool)), true
	}
	if perm != PermissionAllow {
		return DenyDecision(fmt.Sprintf("tool %q is forbidden by static policy", tool)), true
	}
	return Decision{}, false
}

// exceptionApplies evaluates exceptions against the call's *declared*
// (non-augmented) classes, per lilith-zero's check_exceptions; the first
// exception whose condition holds suppresses the deny.
func (e *Evaluator) exceptionApplies(exceptions []RuleException, ctx CallContext, augmentedEvalCtx EvalContext) bool {
	if len(exceptions) == 0 {
		return false
	}
	plain := augmentedEvalCtx
	plain.CurrentClasses = ctx.ToolClasses
	for _, ex := range exceptions {
		ok, err := Evaluate(&ex.Condition, plain)
		if err == nil && ok {
			return true
		}
	}
	return false
}

func anyTaintPresent(taints map[string]bool, tags []string) bool {
	for _, t := range tags {
		if taints[t] {
			return true
		}
	}
	return false
}

func allTaintsPresent(taints map[string]bool, tags []string) bool {
	for _, t := range tags {
		if !taints[t] {
			return false
		}
	}
	return true
}

func denialReason(custom, fallback string) string {
	if custom != "" {
		return custom
	}
	return fallback
}

func matchSequence(seq SequencePattern, ctx CallContext) bool {
	if len(seq.Steps) == 0 {
		return false
	}
	last := seq.Steps[len(seq.Steps)-1]
	return last.Matches(ctx.Tool, ctx.ToolClasses)
}

var urlPattern = regexp.MustCompile(`https?://[^\s"']+`)

// checkSuspiciousEndpoints scans every string-valued tool argument for a URL
// matching one of the policy's suspicious_endpoints substrings — an
// always-on pre-check grounded in the teacher's
// internal/security/flow/policy.go CheckArgsForSuspiciousURLs, absent from
// the Rust prototypes.
func checkSuspiciousEndpoints(endpoints []string, args map[string]any) bool {
	if len(endpoints) == 0 {
		return false
	}
	for _, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, url := range urlPattern.FindAllString(s, -1) {
			for _, bad := range endpoints {
				if bad != "" && regexpContains(url, bad) {
					return true
				}
			}
		}
	}
	return false
}

func regexpContains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// EvaluateResource applies a Policy's resource_rules to a `resources/read`
// URI, fail-closed: the first rule whose uri_pattern matches decides, and no
// matching rule denies. A matching BLOCK denies unless one of its exceptions
// holds (evaluated against the session taints only, with no tool context),
// in which case the URI is allowed; a matching ALLOW passes and applies
// TaintsToAdd (exceptions on ALLOW rules are not consulted).
func (e *Evaluator) EvaluateResource(p *Policy, uri string, taints map[string]bool) Decision {
	for _, rule := range p.ResourceRules {
		if !MatchWildcard(rule.URIPattern, uri) {
			continue
		}
		switch rule.Action {
		case ActionBlock:
			if exceptionHolds(rule.Exceptions, taints) {
				return AllowDecision()
			}
			return DenyDecision("Resource access blocked by policy")
		case "ALLOW":
			if len(rule.TaintsToAdd) == 0 {
				return AllowDecision()
			}
			return AllowWithSideEffects(rule.TaintsToAdd, nil)
		}
	}
	return DenyDecision("No resource rule matched; default deny")
}

func exceptionHolds(exceptions []RuleException, taints map[string]bool) bool {
	ctx := EvalContext{Taints: taints}
	for _, ex := range exceptions {
		ok, err := Evaluate(&ex.Condition, ctx)
		if err == nil && ok {
			return true
		}
	}
	return false
}
