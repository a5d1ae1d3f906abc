package authtoken

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"
)

// NonceSize is the length of a PoP nonce in bytes.
const NonceSize = 16

// Failure kinds for PoP validation. internal/middleware answers every one
// of them with the same 401 credentials-failure response; it does not
// report which kind occurred.
var (
	ErrPoPMalformed        = errors.New("authtoken: malformed X-SRP-PoP header")
	ErrPoPInvalidTimestamp = errors.New("authtoken: invalid timestamp")
	ErrPoPReusedNonce      = errors.New("authtoken: nonce reused")
	ErrPoPBadHMAC          = errors.New("authtoken: PoP HMAC mismatch")
)

// headerPattern matches "<timestamp> <base64-nonce> <base64-hmac>".
var headerPattern = regexp.MustCompile(`^(\d+) ([A-Za-z0-9+/=]+) ([A-Za-z0-9+/=]+)$`)

// PoP is a parsed X-SRP-PoP header.
type PoP struct {
	Timestamp int64
	Nonce     [NonceSize]byte
	HMAC      []byte
}

// BuildPoPHeader constructs the X-SRP-PoP header value for method and path,
// signed with the session master key.
func BuildPoPHeader(masterKey []byte, method, path string) (string, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("authtoken: generate nonce: %w", err)
	}
	ts := time.Now().Unix()

	mac := popHMAC(masterKey, method, path, ts, nonce)

	return fmt.Sprintf("%d %s %s", ts,
		base64.StdEncoding.EncodeToString(nonce[:]),
		base64.StdEncoding.EncodeToString(mac)), nil
}

// ParsePoPHeader parses the raw X-SRP-PoP header value.
func ParsePoPHeader(header string) (PoP, error) {
	m := headerPattern.FindStringSubmatch(header)
	if m == nil {
		return PoP{}, ErrPoPMalformed
	}

	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return PoP{}, ErrPoPMalformed
	}

	nonceBytes, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil || len(nonceBytes) != NonceSize {
		return PoP{}, ErrPoPMalformed
	}

	mac, err := base64.StdEncoding.DecodeString(m[3])
	if err != nil || len(mac) != sha256.Size {
		return PoP{}, ErrPoPMalformed
	}

	var nonce [NonceSize]byte
	copy(nonce[:], nonceBytes)

	return PoP{Timestamp: ts, Nonce: nonce, HMAC: mac}, nil
}

// NonceStore reports and records PoP-nonce usage, satisfied by
// *session.NonceCache.
type NonceStore interface {
	CheckAndSet(nonce [NonceSize]byte) bool
}

// Validate runs the §4.E validation steps against a parsed PoP header:
// timestamp freshness, the HMAC itself, and only then nonce replay.
// hmacEnabled lets the process-wide debug flag bypass the HMAC check only;
// timestamp and nonce checks always run. The nonce is recorded into nonces
// only once the request has otherwise fully validated, so a forged or
// stale-keyed request can't burn a nonce a legitimate retry would need.
func Validate(p PoP, masterKey []byte, method, path string, nonces NonceStore, validity time.Duration, hmacEnabled bool) error {
	now := time.Now().Unix()
	if p.Timestamp < now-int64(validity.Seconds()) {
		return ErrPoPInvalidTimestamp
	}

	if hmacEnabled {
		expected := popHMAC(masterKey, method, path, p.Timestamp, p.Nonce)
		if !hmac.Equal(p.HMAC, expected) {
			return ErrPoPBadHMAC
		}
	}

	if !nonces.CheckAndSet(p.Nonce) {
		return ErrPoPReusedNonce
	}

	return nil
}

func popHMAC(masterKey []byte, method, path string, ts int64, nonce [NonceSize]byte) []byte {
	mac := hmac.New(sha256.New, masterKey)
	fmt.Fprintf(mac, "%s %s %d ", method, path, ts)
	mac.Write(nonce[:])
	return mac.Sum(nil)
}
