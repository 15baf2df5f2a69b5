// Package signer mints the session id a handshake binds to and the
// short-lived, scoped bearer tokens the HTTP interceptor returns for an
// allowed tool call.
package signer

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// tokenTTL is how long a minted tool-call token remains valid. Deliberately
// short: the token authorizes exactly one forwarded call, not a session.
const tokenTTL = 5 * time.Second

const issuer = "sentinel-interceptor"

// Signer binds session ids to an HMAC key and mints Ed25519-signed,
// short-lived bearer tokens scoped to a single tool call.
type Signer struct {
	hmacKey    []byte
	signingKey ed25519.PrivateKey
}

// New constructs a Signer from an HMAC key (session-id binding) and an
// Ed25519 private key (token signing). Both must be non-empty.
func New(hmacKey []byte, signingKey ed25519.PrivateKey) (*Signer, error) {
	if len(hmacKey) == 0 {
		return nil, fmt.Errorf("signer: hmac key must not be empty")
	}
	if len(signingKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signer: ed25519 private key must be %d bytes", ed25519.PrivateKeySize)
	}
	return &Signer{hmacKey: hmacKey, signingKey: signingKey}, nil
}

// NewSessionID mints a session id of the form "<uuidv4>.<hmac_hex>", giving
// 128 bits of UUID entropy plus 256 bits of HMAC entropy (384 total) and a
// minimum length of 36+1+64 = 101 characters.
func (s *Signer) NewSessionID() string {
	id := uuid.New().String()
	mac := hmac.New(sha256.New, s.hmacKey)
	mac.Write([]byte(id))
	return id + "." + hex.EncodeToString(mac.Sum(nil))
}

// ValidateSessionID recomputes the HMAC over the UUID half of id and
// compares it against the carried HMAC half in constant time.
func (s *Signer) ValidateSessionID(id string) bool {
	if len(id) < 36+1+64 {
		return false
	}
	uuidPart := id[:36]
	if id[36] != '.' {
		return false
	}
	hmacPart := id[37:]

	mac := hmac.New(sha256.New, s.hmacKey)
	mac.Write([]byte(uuidPart))
	expected := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(hmacPart)) == 1
}

// sentinelClaims is the claim set carried by a minted tool-call token.
type sentinelClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
	PHash string `json:"p_hash"`
}

// audienceClaims is the claim set carried by an audience-binding token
// presented at handshake time.
type audienceClaims struct {
	jwt.RegisteredClaims
}

// MintAudienceToken mints an HMAC-signed JWT carrying aud as its audience
// claim, for bootstrapping/testing handshake audience binding — in
// production the audience token is minted by whichever system configures
// the shared expected-audience secret on the mediator's behalf.
func (s *Signer) MintAudienceToken(aud string) (string, error) {
	now := time.Now()
	claims := audienceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{aud},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.hmacKey)
}

// ValidateAudienceClaim implements C6: it decodes token, verifies its HMAC
// signature against the signer's key, and checks that expected appears
// among the token's audience claims. A token that fails to parse, fails
// signature verification, or lacks expected in its audience is rejected.
func (s *Signer) ValidateAudienceClaim(tokenStr, expected string) error {
	var claims audienceClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("signer: unexpected signing method %v", t.Header["alg"])
		}
		return s.hmacKey, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return fmt.Errorf("signer: audience token validation failed: %w", err)
	}
	for _, aud := range claims.Audience {
		if aud == expected {
			return nil
		}
	}
	return fmt.Errorf("signer: audience claim does not contain expected %q", expected)
}

// MintToken produces a short-lived EdDSA-signed bearer token scoping exactly
// one tool call: subject is the session id, scope is "tool:<name>", and
// p_hash binds the token to the exact canonicalized argument set so a
// captured token cannot be replayed against different arguments.
func (s *Signer) MintToken(sessionID, toolName string, args map[string]any) (string, error) {
	now := time.Now()
	claims := sentinelClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sessionID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
		Scope: "tool:" + toolName,
		PHash: HashParams(args),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(s.signingKey)
}

// ValidateToken verifies signature, issuer, expiry, and that the token's
// scope/p_hash match the call currently being made, returning the embedded
// session id (subject) on success.
func (s *Signer) ValidateToken(tokenStr, toolName string, args map[string]any) (string, error) {
	pub, ok := s.signingKey.Public().(ed25519.PublicKey)
	if !ok {
		return "", fmt.Errorf("signer: invalid public key")
	}

	parsed, err := jwt.ParseWithClaims(tokenStr, &sentinelClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("signer: unexpected signing method %v", t.Header["alg"])
		}
		return pub, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return "", fmt.Errorf("signer: token validation failed: %w", err)
	}

	claims, ok := parsed.Claims.(*sentinelClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("signer: invalid token claims")
	}
	if claims.Scope != "tool:"+toolName {
		return "", fmt.Errorf("signer: token scope %q does not match tool %q", claims.Scope, toolName)
	}
	if claims.PHash != HashParams(args) {
		return "", fmt.Errorf("signer: token parameter hash mismatch")
	}

	return claims.Subject, nil
}

// HashParams returns the hex SHA-256 of the RFC 8785-style canonical JSON
// encoding of args — a nil map canonicalizes to "{}".
func HashParams(args map[string]any) string {
	canonical := Canonicalize(args)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Canonicalize produces a deterministic, compact JSON encoding of v: object
// keys sorted, no insignificant whitespace, nil encodes as "{}". This is a
// minimal JCS-style canonicalizer sufficient for hashing tool arguments; it
// does not implement every RFC 8785 number-formatting edge case.
func Canonicalize(v any) []byte {
	if v == nil {
		return []byte("{}")
	}
	var buf []byte
	buf = appendCanonical(buf, v)
	return buf
}

func appendCanonical(buf []byte, v any) []byte {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return append(buf, '{', '}')
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonicalString(buf, k)
			buf = append(buf, ':')
			buf = appendCanonical(buf, val[k])
		}
		return append(buf, '}')
	case []any:
		buf = append(buf, '[')
		for i, e := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonical(buf, e)
		}
		return append(buf, ']')
	case string:
		return appendCanonicalString(buf, val)
	case nil:
		return append(buf, 'n', 'u', 'l', 'l')
	case bool:
		if val {
			return append(buf, 't', 'r', 'u', 'e')
		}
		return append(buf, 'f', 'a', 'l', 's', 'e')
	case float64:
		return append(buf, []byte(formatNumber(val))...)
	default:
		return append(buf, []byte(fmt.Sprint(val))...)
	}
}

func appendCanonicalString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for _, r := range s {
		switch r {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		default:
			buf = append(buf, string(r)...)
		}
	}
	return append(buf, '"')
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// GenerateKey is a convenience for tests and bootstrap tooling: it produces
// a fresh random HMAC key and Ed25519 key pair.
func GenerateKey() (hmacKey []byte, priv ed25519.PrivateKey, err error) {
	hmacKey = make([]byte, 32)
	if _, err := rand.Read(hmacKey); err != nil {
		return nil, nil, fmt.Errorf("signer: generating hmac key: %w", err)
	}
	_, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("signer: generating ed25519 key: %w", err)
	}
	return hmacKey, priv, nil
}
