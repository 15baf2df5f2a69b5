package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateAtomicPredicates(t *testing.T) {
	ctx := EvalContext{
		CurrentTool:    "read_file",
		CurrentClasses: []string{"READ"},
		SessionTools:   map[string]bool{"curl": true},
		SessionClasses: map[string]bool{"NETWORK": true},
		Taints:         map[string]bool{"UNTRUSTED_CONTENT": true},
	}

	cases := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"current_tool match", &Condition{CurrentTool: "read_file"}, true},
		{"current_tool mismatch", &Condition{CurrentTool: "write_file"}, false},
		{"current_tool_class match", &Condition{CurrentToolClass: "READ"}, true},
		{"session_has_tool", &Condition{SessionHasTool: "curl"}, true},
		{"session_has_tool missing", &Condition{SessionHasTool: "wget"}, false},
		{"session_has_class", &Condition{SessionHasClass: "NETWORK"}, true},
		{"session_has_taint", &Condition{SessionHasTaint: "UNTRUSTED_CONTENT"}, true},
		{"session_has_taint missing", &Condition{SessionHasTaint: "SECRET"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(tc.cond, ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateAndOrNot(t *testing.T) {
	ctx := EvalContext{CurrentTool: "read_file", CurrentClasses: []string{"READ"}}

	and := &Condition{And: []Condition{
		{CurrentTool: "read_file"},
		{CurrentToolClass: "READ"},
	}}
	ok, err := Evaluate(and, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	or := &Condition{Or: []Condition{
		{CurrentTool: "write_file"},
		{CurrentToolClass: "READ"},
	}}
	ok, err = Evaluate(or, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	not := &Condition{Not: &Condition{CurrentTool: "write_file"}}
	ok, err = Evaluate(not, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	emptyAnd := &Condition{And: []Condition{}}
	ok, err = Evaluate(emptyAnd, ctx)
	require.NoError(t, err)
	assert.True(t, ok, "empty And is vacuously true")

	emptyOr := &Condition{Or: []Condition{}}
	ok, err = Evaluate(emptyOr, ctx)
	require.NoError(t, err)
	assert.False(t, ok, "empty Or is vacuously false")
}

func TestEvaluateComparisons(t *testing.T) {
	ctx := EvalContext{ToolArgs: map[string]any{"size": 42.0, "name": "report.pdf"}}

	eq := &Condition{Eq: []Value{{Var: "args.size", isVar: true}, {Literal: 42.0}}}
	ok, err := Evaluate(eq, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	gt := &Condition{Gt: []Value{{Var: "args.size", isVar: true}, {Literal: 10.0}}}
	ok, err = Evaluate(gt, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	lt := &Condition{Lt: []Value{{Var: "args.size", isVar: true}, {Literal: 10.0}}}
	ok, err = Evaluate(lt, ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	neq := &Condition{Neq: []Value{{Var: "args.name", isVar: true}, {Literal: "invoice.pdf"}}}
	ok, err = Evaluate(neq, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateWrongOperandCountErrors(t *testing.T) {
	cond := &Condition{Eq: []Value{{Literal: 1.0}}}
	_, err := Evaluate(cond, EvalContext{})
	assert.Error(t, err)
}

func TestEvaluateDepthCapped(t *testing.T) {
	cond := &Condition{Literal: boolPtr(true)}
	for i := 0; i < maxConditionDepth+5; i++ {
		cond = &Condition{Not: cond}
	}
	_, err := Evaluate(cond, EvalContext{})
	assert.Error(t, err)
}

func TestToolArgsMatchWildcard(t *testing.T) {
	ctx := EvalContext{ToolArgs: map[string]any{"url": "https://internal.corp/api/secrets"}}
	cond := &Condition{ToolArgsMatch: map[string]any{"url": "https://internal.corp/*"}}
	ok, err := Evaluate(cond, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	cond2 := &Condition{ToolArgsMatch: map[string]any{"url": "https://evil.example/*"}}
	ok, err = Evaluate(cond2, ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func boolPtr(b bool) *bool { return &b }
