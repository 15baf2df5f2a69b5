package signer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	hmacKey, priv, err := GenerateKey()
	require.NoError(t, err)
	s, err := New(hmacKey, priv)
	require.NoError(t, err)
	return s
}

func TestNewSessionIDShapeAndEntropy(t *testing.T) {
	s := newTestSigner(t)
	id := s.NewSessionID()
	assert.GreaterOrEqual(t, len(id), 101)
	assert.Equal(t, byte('.'), id[36])
}

func TestValidateSessionIDRoundTrip(t *testing.T) {
	s := newTestSigner(t)
	id := s.NewSessionID()
	assert.True(t, s.ValidateSessionID(id))
}

func TestValidateSessionIDRejectsTamperedHMAC(t *testing.T) {
	s := newTestSigner(t)
	id := s.NewSessionID()
	tampered := id[:len(id)-1] + flip(id[len(id)-1])
	assert.False(t, s.ValidateSessionID(tampered))
}

func TestValidateSessionIDRejectsWrongSigner(t *testing.T) {
	a := newTestSigner(t)
	b := newTestSigner(t)
	id := a.NewSessionID()
	assert.False(t, b.ValidateSessionID(id))
}

func TestValidateSessionIDRejectsShortInput(t *testing.T) {
	s := newTestSigner(t)
	assert.False(t, s.ValidateSessionID("too-short"))
}

func TestMintAndValidateToken(t *testing.T) {
	s := newTestSigner(t)
	sessionID := s.NewSessionID()
	args := map[string]any{"path": "/tmp/report.txt"}

	token, err := s.MintToken(sessionID, "read_file", args)
	require.NoError(t, err)

	subject, err := s.ValidateToken(token, "read_file", args)
	require.NoError(t, err)
	assert.Equal(t, sessionID, subject)
}

func TestValidateTokenRejectsWrongTool(t *testing.T) {
	s := newTestSigner(t)
	sessionID := s.NewSessionID()
	token, err := s.MintToken(sessionID, "read_file", nil)
	require.NoError(t, err)

	_, err = s.ValidateToken(token, "delete_file", nil)
	assert.Error(t, err)
}

func TestValidateTokenRejectsMutatedArgs(t *testing.T) {
	s := newTestSigner(t)
	sessionID := s.NewSessionID()
	token, err := s.MintToken(sessionID, "send_email", map[string]any{"to": "a@company.com"})
	require.NoError(t, err)

	_, err = s.ValidateToken(token, "send_email", map[string]any{"to": "attacker@evil.example"})
	assert.Error(t, err)
}

func TestValidateAudienceClaimRoundTrip(t *testing.T) {
	s := newTestSigner(t)
	token, err := s.MintAudienceToken("agent-orchestrator")
	require.NoError(t, err)

	err = s.ValidateAudienceClaim(token, "agent-orchestrator")
	assert.NoError(t, err)
}

func TestValidateAudienceClaimRejectsWrongAudience(t *testing.T) {
	s := newTestSigner(t)
	token, err := s.MintAudienceToken("agent-orchestrator")
	require.NoError(t, err)

	err = s.ValidateAudienceClaim(token, "someone-else")
	assert.Error(t, err)
}

func TestValidateAudienceClaimRejectsWrongSigner(t *testing.T) {
	a := newTestSigner(t)
	b := newTestSigner(t)
	token, err := a.MintAudienceToken("agent-orchestrator")
	require.NoError(t, err)

	err = b.ValidateAudienceClaim(token, "agent-orchestrator")
	assert.Error(t, err)
}

func TestValidateAudienceClaimRejectsTamperedSignature(t *testing.T) {
	s := newTestSigner(t)
	token, err := s.MintAudienceToken("agent-orchestrator")
	require.NoError(t, err)

	// Change the second-to-last character: the last base64url character of
	// the signature carries padding bits, so changing it may leave the
	// decoded signature unchanged.
	i := len(token) - 2
	tampered := token[:i] + flip(token[i]) + token[i+1:]
	err = s.ValidateAudienceClaim(tampered, "agent-orchestrator")
	assert.Error(t, err)
}

func TestHashParamsCanonicalization(t *testing.T) {
	a := HashParams(map[string]any{"b": 1, "a": 2})
	b := HashParams(map[string]any{"a": 2, "b": 1})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	empty := HashParams(nil)
	emptyMap := HashParams(map[string]any{})
	assert.Equal(t, empty, emptyMap)
	assert.Len(t, empty, 64)
}

func flip(b byte) string {
	if b == 'a' {
		return "b"
	}
	return "a"
}
