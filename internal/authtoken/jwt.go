// Package authtoken issues and validates the bearer token that binds an
// HTTP request to an established SRP session, and the per-request
// Proof-of-Possession (PoP) header that accompanies it.
//
// No JWT library appears anywhere in this project's reference material, so
// the HS256 compact-token format is assembled directly from
// crypto/hmac/encoding/json/encoding/base64 — the same register the rest of
// this codebase uses for its own hand-built wire formats (ExEF, the SRP
// transcript hashes) rather than reaching for an unvetted dependency.
package authtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/photonicgluon/excalibur-server/internal/session"
)

// ErrInvalidToken is returned for any structurally malformed or
// signature-invalid token.
var ErrInvalidToken = errors.New("authtoken: invalid token")

// ErrTokenExpired is returned when a structurally valid token's exp claim
// has passed (or now equals exp, which spec treats as expired).
var ErrTokenExpired = errors.New("authtoken: token expired")

// ErrTokenNotYetValid is returned when a structurally valid token's iat
// claim is still in the future.
var ErrTokenNotYetValid = errors.New("authtoken: token not yet valid")

var header = struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}{Alg: "HS256", Typ: "JWT"}

// Claims is the bearer token payload: subject, session UUID, and validity
// window.
type Claims struct {
	Sub string `json:"sub"`
	UUID string `json:"uuid"`
	IAT  int64  `json:"iat"`
	EXP  int64  `json:"exp"`
}

// SigningKey derives the per-user JWT signing subkey: SHA3-256(username |
// serverSecret). Binding the key to the subject means a token for one user
// can never verify under another user's key, even if both were somehow
// signed with the same process-wide secret.
func SigningKey(username string, serverSecret []byte) []byte {
	h := sha3.New256()
	h.Write([]byte(username))
	h.Write(serverSecret)
	return h.Sum(nil)
}

// Issue creates a signed compact JWT for username/uuid, valid for ttl from
// now.
func Issue(username string, uuid session.ID, serverSecret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Sub:  username,
		UUID: uuid.String(),
		IAT:  now.Unix(),
		EXP:  now.Add(ttl).Unix(),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("authtoken: marshal header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("authtoken: marshal claims: %w", err)
	}

	signingInput := b64(headerJSON) + "." + b64(claimsJSON)
	sig := sign(signingInput, SigningKey(username, serverSecret))

	return signingInput + "." + b64(sig), nil
}

// Verify checks the signature and expiry of a compact JWT. The signing key
// is derived via SigningKey from expectedUsername (typically the subject
// read first with UnverifiedSubject), and the token's sub claim must equal
// expectedUsername, so a token signed for one user never verifies as
// another's.
func Verify(token string, expectedUsername string, serverSecret []byte) (Claims, error) {
	parts := splitCompact(token)
	if parts == nil {
		return Claims{}, ErrInvalidToken
	}
	headerB64, claimsB64, sigB64 := parts[0], parts[1], parts[2]

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	signingInput := headerB64 + "." + claimsB64
	expected := sign(signingInput, SigningKey(expectedUsername, serverSecret))
	if !hmac.Equal(sig, expected) {
		return Claims{}, ErrInvalidToken
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(claimsB64)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}

	if claims.Sub != expectedUsername {
		return Claims{}, ErrInvalidToken
	}
	now := time.Now().Unix()
	if now < claims.IAT {
		return Claims{}, ErrTokenNotYetValid
	}
	if now >= claims.EXP {
		return Claims{}, ErrTokenExpired
	}

	return claims, nil
}

// UnverifiedSubject reads the sub claim from token without checking its
// signature, per the verification order spec.md §4.E requires: the subject
// is needed first to derive the per-user key the signature is then checked
// against. Callers must not trust the returned value for anything beyond
// that key derivation before Verify has succeeded.
func UnverifiedSubject(token string) (string, error) {
	parts := splitCompact(token)
	if parts == nil {
		return "", ErrInvalidToken
	}
	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return "", ErrInvalidToken
	}
	return claims.Sub, nil
}

func sign(signingInput string, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(signingInput))
	return mac.Sum(nil)
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func splitCompact(token string) []string {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			parts = append(parts, token[start:i])
			start = i + 1
		}
	}
	parts = append(parts, token[start:])
	if len(parts) != 3 {
		return nil
	}
	return parts
}
