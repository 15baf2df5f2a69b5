package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sentinel-mediator/sentinel/internal/policy"
	"github.com/sentinel-mediator/sentinel/internal/signer"
)

func newTestCore(t *testing.T, cfg Config) *Core {
	t.Helper()
	c, _ := newTestCoreWithSigner(t, cfg)
	return c
}

// newTestCoreWithSigner also returns the Signer backing c, so tests that
// need to mint a handshake audience token use the exact key Core validates
// against.
func newTestCoreWithSigner(t *testing.T, cfg Config) (*Core, *signer.Signer) {
	t.Helper()
	hmacKey, priv, err := signer.GenerateKey()
	require.NoError(t, err)
	sgn, err := signer.New(hmacKey, priv)
	require.NoError(t, err)
	return New(cfg, sgn, zap.NewNop()), sgn
}

func TestHandshakeNoAudienceConfiguredAllows(t *testing.T) {
	c := newTestCore(t, Config{})
	d := c.Evaluate(Event{Kind: EventHandshake})
	assert.Equal(t, CodeAllow, d.Code)
}

func TestHandshakeMissingAudienceToken(t *testing.T) {
	c := newTestCore(t, Config{ExpectedAudience: "expected-aud"})
	d := c.Evaluate(Event{Kind: EventHandshake})
	assert.Equal(t, CodeAuth, d.Code)
}

func TestHandshakeAudienceMismatch(t *testing.T) {
	c, sgn := newTestCoreWithSigner(t, Config{ExpectedAudience: "expected-aud"})
	token, err := sgn.MintAudienceToken("wrong-aud")
	require.NoError(t, err)
	d := c.Evaluate(Event{Kind: EventHandshake, AudienceToken: token})
	assert.Equal(t, CodeAuth, d.Code)
}

func TestHandshakeAudienceTamperedSignatureRejected(t *testing.T) {
	c, sgn := newTestCoreWithSigner(t, Config{ExpectedAudience: "expected-aud"})
	token, err := sgn.MintAudienceToken("expected-aud")
	require.NoError(t, err)
	// Change the second-to-last character: the last base64url character of
	// the signature carries padding bits, so changing it may leave the
	// decoded signature unchanged.
	i := len(token) - 2
	c := "A"
	if token[i] == 'A' {
		c = "B"
	}
	tampered := token[:i] + c + token[i+1:]
	d := c.Evaluate(Event{Kind: EventHandshake, AudienceToken: tampered})
	assert.Equal(t, CodeAuth, d.Code)
}

func TestHandshakeAudienceMatch(t *testing.T) {
	c, sgn := newTestCoreWithSigner(t, Config{ExpectedAudience: "expected-aud"})
	token, err := sgn.MintAudienceToken("expected-aud")
	require.NoError(t, err)
	d := c.Evaluate(Event{Kind: EventHandshake, AudienceToken: token})
	assert.Equal(t, CodeAllow, d.Code)
}

func TestToolRequestMissingSessionID(t *testing.T) {
	c := newTestCore(t, Config{RequireSessionAuth: true})
	d := c.Evaluate(Event{Kind: EventToolRequest, ToolName: "read_file"})
	assert.Equal(t, CodeAuth, d.Code)
	assert.Equal(t, "Missing Session ID", d.Reason)
}

func TestToolRequestSessionIDMismatch(t *testing.T) {
	c := newTestCore(t, Config{RequireSessionAuth: true})
	d := c.Evaluate(Event{Kind: EventToolRequest, ToolName: "read_file", SessionToken: "not-the-session"})
	assert.Equal(t, CodeAuth, d.Code)
	assert.Equal(t, "Session ID mismatch", d.Reason)
}

// TestToolRequestTamperedHMAC covers S8: a session token that matches the
// core's own session id string-for-string always passes the exact-match
// check before the HMAC recomputation ever runs, so the HMAC tamper check is
// exercised here directly against Signer.ValidateSessionID instead (see
// signer_test.go TestValidateSessionIDRejectsTamperedHMAC) and end-to-end via
// this mismatch path, since a tampered id is by definition a different
// string than the core's own id.
func TestToolRequestTamperedHMACIsAMismatch(t *testing.T) {
	c := newTestCore(t, Config{RequireSessionAuth: true})
	tampered := c.SessionID()[:len(c.SessionID())-1] + "x"
	d := c.Evaluate(Event{Kind: EventToolRequest, ToolName: "read_file", SessionToken: tampered})
	assert.Equal(t, CodeAuth, d.Code)
}

func TestToolRequestValidSessionIDNoPolicyFailsClosed(t *testing.T) {
	c := newTestCore(t, Config{RequireSessionAuth: true})
	d := c.Evaluate(Event{Kind: EventToolRequest, ToolName: "read_file", SessionToken: c.SessionID()})
	assert.Equal(t, CodeSecurityBlock, d.Code)
	assert.Contains(t, d.Reason, "Deny-All")
}

func TestToolRequestAuditOnlyAllowsWithNoPolicy(t *testing.T) {
	c := newTestCore(t, Config{RequireSessionAuth: true, AuditOnly: true})
	d := c.Evaluate(Event{Kind: EventToolRequest, ToolName: "read_file", SessionToken: c.SessionID()})
	assert.Equal(t, CodeAllow, d.Code)
}

func TestToolRequestWithPolicyAllow(t *testing.T) {
	c := newTestCore(t, Config{RequireSessionAuth: true})
	c.SetPolicy(&policy.Policy{
		Name:        "p",
		StaticRules: map[string]policy.Permission{"read_file": policy.PermissionAllow},
	})
	d := c.Evaluate(Event{Kind: EventToolRequest, ToolName: "read_file", SessionToken: c.SessionID()})
	assert.Equal(t, CodeAllow, d.Code)
}

func TestToolRequestWithPolicyDeny(t *testing.T) {
	c := newTestCore(t, Config{RequireSessionAuth: true})
	c.SetPolicy(&policy.Policy{
		Name:        "p",
		StaticRules: map[string]policy.Permission{"delete_db": policy.PermissionDeny},
	})
	d := c.Evaluate(Event{Kind: EventToolRequest, ToolName: "delete_db", SessionToken: c.SessionID()})
	assert.Equal(t, CodeSecurityBlock, d.Code)
}

// TestToolRequestLethalTrifectaProtectionAutoInjected is the true S5
// end-to-end check: the policy document carries no CHECK_TAINT rule at all,
// only ProtectLethalTrifecta: true and the two ADD_TAINT rules that build up
// the taint set. SetPolicy must auto-inject the EXFILTRATION-blocking rule
// for the deny to occur.
func TestToolRequestLethalTrifectaProtectionAutoInjected(t *testing.T) {
	c := newTestCore(t, Config{})
	c.SetPolicy(&policy.Policy{
		Name: "s5-auto",
		StaticRules: map[string]policy.Permission{
			"read_db":    policy.PermissionAllow,
			"fetch_url":  policy.PermissionAllow,
			"curl_exfil": policy.PermissionAllow,
		},
		ProtectLethalTrifecta: true,
		TaintRules: []policy.Rule{
			{Tool: "read_db", Action: policy.ActionAddTaint, Tag: "ACCESS_PRIVATE"},
			{Tool: "fetch_url", Action: policy.ActionAddTaint, Tag: "UNTRUSTED_SOURCE"},
		},
	})

	d := c.Evaluate(Event{Kind: EventToolRequest, ToolName: "read_db"})
	require.Equal(t, CodeAllow, d.Code)

	d = c.Evaluate(Event{Kind: EventToolRequest, ToolName: "fetch_url"})
	require.Equal(t, CodeAllow, d.Code)

	d = c.Evaluate(Event{Kind: EventToolRequest, ToolName: "curl_exfil"})
	assert.Equal(t, CodeSecurityBlock, d.Code)
	assert.Contains(t, d.Reason, "lethal trifecta")
}

// TestToolRequestLethalTrifectaProtectionRequiresBothTaints checks the
// auto-injected rule still applies AND-logic: only one of the two taints
// present must not trip the block.
func TestToolRequestLethalTrifectaProtectionRequiresBothTaints(t *testing.T) {
	c := newTestCore(t, Config{})
	c.SetPolicy(&policy.Policy{
		Name: "s5-auto-partial",
		StaticRules: map[string]policy.Permission{
			"read_db":    policy.PermissionAllow,
			"curl_exfil": policy.PermissionAllow,
		},
		ProtectLethalTrifecta: true,
		TaintRules: []policy.Rule{
			{Tool: "read_db", Action: policy.ActionAddTaint, Tag: "ACCESS_PRIVATE"},
		},
	})

	d := c.Evaluate(Event{Kind: EventToolRequest, ToolName: "read_db"})
	require.Equal(t, CodeAllow, d.Code)

	d = c.Evaluate(Event{Kind: EventToolRequest, ToolName: "curl_exfil"})
	assert.Equal(t, CodeAllow, d.Code)
}

// TestToolRequestDeniedCallDoesNotPolluteHistory guards against a denied
// call being recorded into session history/taint-membership state, which
// would let a later session_has_tool/session_has_class check see a call
// that never actually happened.
func TestToolRequestDeniedCallDoesNotPolluteHistory(t *testing.T) {
	c := newTestCore(t, Config{})
	c.SetPolicy(&policy.Policy{
		Name:        "deny-history",
		StaticRules: map[string]policy.Permission{"delete_db": policy.PermissionDeny},
	})

	d := c.Evaluate(Event{Kind: EventToolRequest, ToolName: "delete_db"})
	require.Equal(t, CodeSecurityBlock, d.Code)

	assert.False(t, c.state.Tools()["delete_db"])
}

func TestResourceRequestDefaultDenyNoPolicy(t *testing.T) {
	c := newTestCore(t, Config{RequireSessionAuth: false})
	d := c.Evaluate(Event{Kind: EventResourceRequest, ResourceURI: "file:///etc/passwd"})
	assert.Equal(t, CodeSecurityBlock, d.Code)
}

func TestResourceRequestAllowedByPolicy(t *testing.T) {
	c := newTestCore(t, Config{})
	c.SetPolicy(&policy.Policy{
		Name: "p",
		ResourceRules: []policy.ResourceRule{
			{URIPattern: "file:///safe/*", Action: "ALLOW"},
		},
	})
	d := c.Evaluate(Event{Kind: EventResourceRequest, ResourceURI: "file:///safe/readme.txt"})
	assert.Equal(t, CodeAllow, d.Code)
}

func TestPassthroughAlwaysAllows(t *testing.T) {
	c := newTestCore(t, Config{RequireSessionAuth: true})
	d := c.Evaluate(Event{Kind: EventPassthrough})
	assert.Equal(t, CodeAllow, d.Code)
}

func TestClassifyTool(t *testing.T) {
	assert.Equal(t, []string{"READ"}, ClassifyTool("read_file"))
	assert.Equal(t, []string{"READ"}, ClassifyTool("get_weather"))
	assert.Equal(t, []string{"WRITE"}, ClassifyTool("write_file"))
	assert.Equal(t, []string{"WRITE"}, ClassifyTool("delete_record"))
	assert.Equal(t, []string{"EXFILTRATION", "NETWORK"}, ClassifyTool("curl_request"))
	assert.Nil(t, ClassifyTool("list_tools"))
}
