package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateStaticDeny(t *testing.T) {
	p := &Policy{
		Name:        "s1",
		StaticRules: map[string]Permission{"delete_db": PermissionDeny},
	}
	d := NewEvaluator().Evaluate(p, CallContext{Tool: "delete_db"})
	assert.False(t, d.Allowed)
	assert.Contains(t, d.DeniedReason, "delete_db")
	assert.Contains(t, d.DeniedReason, "forbidden")
}

func TestEvaluateImplicitDeny(t *testing.T) {
	p := &Policy{Name: "s2", StaticRules: map[string]Permission{}}
	d := NewEvaluator().Evaluate(p, CallContext{Tool: "any_tool"})
	assert.False(t, d.Allowed)
}

func TestEvaluateAddTaint(t *testing.T) {
	p := &Policy{
		Name:        "s3",
		StaticRules: map[string]Permission{"read_file": PermissionAllow},
		TaintRules: []Rule{
			{Tool: "read_file", Action: ActionAddTaint, Tag: "sensitive"},
		},
	}
	d := NewEvaluator().Evaluate(p, CallContext{Tool: "read_file"})
	require.True(t, d.Allowed)
	assert.Equal(t, []string{"sensitive"}, d.TaintsToAdd)
	assert.Empty(t, d.TaintsToRemove)
}

func TestEvaluateCheckTaintBlocks(t *testing.T) {
	p := &Policy{
		Name:        "s4",
		StaticRules: map[string]Permission{"web_search": PermissionAllow},
		TaintRules: []Rule{
			{
				ToolClass:     "CONSEQUENTIAL_WRITE",
				Action:        ActionCheckTaint,
				ForbiddenTags: []string{"sensitive"},
				Error:         "Exfiltration blocked",
			},
		},
	}
	ctx := CallContext{
		Tool:          "web_search",
		ToolClasses:   []string{"CONSEQUENTIAL_WRITE"},
		CurrentTaints: map[string]bool{"sensitive": true},
	}
	d := NewEvaluator().Evaluate(p, ctx)
	require.False(t, d.Allowed)
	assert.Equal(t, "Exfiltration blocked", d.DeniedReason)
}

// TestEvaluateLethalTrifectaRuleEnforcement exercises the taint-combination
// semantics (S5's AND-logic and per-call taint ordering) that the
// auto-injected lethal-trifecta rule relies on, using a hand-written
// equivalent rule. The auto-injection itself — Policy.ProtectLethalTrifecta
// actually causing this rule to exist with no policy author writing it — is
// security.Core's responsibility and is exercised end-to-end in
// security.TestToolRequestLethalTrifectaProtectionAutoInjected, since the
// Evaluator here never reads ProtectLethalTrifecta; only security.Core.SetPolicy
// does.
func TestEvaluateLethalTrifectaRuleEnforcement(t *testing.T) {
	p := &Policy{
		Name: "s5",
		StaticRules: map[string]Permission{
			"read_db":    PermissionAllow,
			"fetch_url":  PermissionAllow,
			"send_email": PermissionAllow,
		},
		TaintRules: []Rule{
			{Tool: "read_db", Action: ActionAddTaint, Tag: "ACCESS_PRIVATE"},
			{Tool: "fetch_url", Action: ActionAddTaint, Tag: "UNTRUSTED_SOURCE"},
			{
				ToolClass:      "EXFILTRATION",
				Action:         ActionCheckTaint,
				RequiredTaints: []string{"ACCESS_PRIVATE", "UNTRUSTED_SOURCE"},
				Error:          "Blocked by lethal trifecta protection",
			},
		},
	}
	eval := NewEvaluator()
	taints := map[string]bool{}

	d := eval.Evaluate(p, CallContext{Tool: "read_db", CurrentTaints: taints})
	require.True(t, d.Allowed)
	for _, tg := range d.TaintsToAdd {
		taints[tg] = true
	}

	d = eval.Evaluate(p, CallContext{Tool: "fetch_url", CurrentTaints: taints})
	require.True(t, d.Allowed)
	for _, tg := range d.TaintsToAdd {
		taints[tg] = true
	}

	d = eval.Evaluate(p, CallContext{Tool: "send_email", ToolClasses: []string{"EXFILTRATION"}, CurrentTaints: taints})
	require.False(t, d.Allowed)
	assert.Contains(t, d.DeniedReason, "lethal trifecta")

	onlyOne := map[string]bool{"ACCESS_PRIVATE": true}
	d = eval.Evaluate(p, CallContext{Tool: "send_email", ToolClasses: []string{"EXFILTRATION"}, CurrentTaints: onlyOne})
	assert.True(t, d.Allowed)
}

func TestEvaluateArgumentWildcardException(t *testing.T) {
	p := &Policy{
		Name:        "s6",
		StaticRules: map[string]Permission{"send_email": PermissionAllow},
		TaintRules: []Rule{
			{
				Tool:          "send_email",
				Action:        ActionCheckTaint,
				ForbiddenTags: []string{"sensitive"},
				Exceptions: []RuleException{
					{Condition: Condition{ToolArgsMatch: map[string]any{"to": "*@company.com"}}},
				},
			},
		},
	}
	taints := map[string]bool{"sensitive": true}
	eval := NewEvaluator()

	d := eval.Evaluate(p, CallContext{
		Tool:          "send_email",
		ToolArgs:      map[string]any{"to": "user@company.com"},
		CurrentTaints: taints,
	})
	assert.True(t, d.Allowed)

	d = eval.Evaluate(p, CallContext{
		Tool:          "send_email",
		ToolArgs:      map[string]any{"to": "user@external.com"},
		CurrentTaints: taints,
	})
	assert.False(t, d.Allowed)
}

func TestEvaluateResourceDefaultDeny(t *testing.T) {
	p := &Policy{Name: "resources", ResourceRules: []ResourceRule{
		{URIPattern: "file:///safe/*", Action: "ALLOW"},
	}}
	eval := NewEvaluator()

	d := eval.EvaluateResource(p, "file:///safe/report.txt", nil)
	assert.True(t, d.Allowed)

	d = eval.EvaluateResource(p, "file:///etc/passwd", nil)
	assert.False(t, d.Allowed)
}

func TestEvaluateResourceBlockWithException(t *testing.T) {
	p := &Policy{Name: "resources", ResourceRules: []ResourceRule{
		{
			URIPattern: "file:///secrets/*",
			Action:     ActionBlock,
			Exceptions: []RuleException{
				{Condition: Condition{SessionHasTaint: "ADMIN_APPROVED"}},
			},
		},
	}}
	eval := NewEvaluator()

	d := eval.EvaluateResource(p, "file:///secrets/keys.pem", nil)
	assert.False(t, d.Allowed)

	d = eval.EvaluateResource(p, "file:///secrets/keys.pem", map[string]bool{"ADMIN_APPROVED": true})
	assert.True(t, d.Allowed)
}

func TestEvaluateSuspiciousEndpoint(t *testing.T) {
	p := &Policy{
		Name:                "endpoints",
		StaticRules:         map[string]Permission{"fetch_url": PermissionAllow},
		SuspiciousEndpoints: []string{"evil.example"},
	}
	d := NewEvaluator().Evaluate(p, CallContext{
		Tool:     "fetch_url",
		ToolArgs: map[string]any{"url": "https://evil.example/collect"},
	})
	assert.False(t, d.Allowed)
}
