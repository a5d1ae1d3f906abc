package authtoken

import (
	"testing"
	"time"
)

type fakeNonceStore struct {
	used map[[NonceSize]byte]bool
}

func newFakeNonceStore() *fakeNonceStore {
	return &fakeNonceStore{used: make(map[[NonceSize]byte]bool)}
}

func (f *fakeNonceStore) CheckAndSet(nonce [NonceSize]byte) bool {
	if f.used[nonce] {
		return false
	}
	f.used[nonce] = true
	return true
}

func TestBuildParsePoPHeader_Roundtrip(t *testing.T) {
	masterKey := []byte("0123456789abcdef0123456789abcdef")

	header, err := BuildPoPHeader(masterKey, "GET", "/api/files/list")
	if err != nil {
		t.Fatalf("BuildPoPHeader() error = %v", err)
	}

	parsed, err := ParsePoPHeader(header)
	if err != nil {
		t.Fatalf("ParsePoPHeader() error = %v", err)
	}

	nonces := newFakeNonceStore()
	if err := Validate(parsed, masterKey, "GET", "/api/files/list", nonces, 60*time.Second, true); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidate_RejectsReplay(t *testing.T) {
	masterKey := []byte("master-key-bytes")
	header, _ := BuildPoPHeader(masterKey, "GET", "/api/files/list")
	parsed, _ := ParsePoPHeader(header)
	nonces := newFakeNonceStore()

	if err := Validate(parsed, masterKey, "GET", "/api/files/list", nonces, 60*time.Second, true); err != nil {
		t.Fatalf("first Validate() error = %v", err)
	}
	if err := Validate(parsed, masterKey, "GET", "/api/files/list", nonces, 60*time.Second, true); err != ErrPoPReusedNonce {
		t.Errorf("Validate() error = %v, want ErrPoPReusedNonce", err)
	}
}

func TestValidate_StaleTimestamp(t *testing.T) {
	masterKey := []byte("master-key-bytes")
	header, _ := BuildPoPHeader(masterKey, "GET", "/api/files/list")
	parsed, _ := ParsePoPHeader(header)
	parsed.Timestamp -= 120 // older than a 60s window

	nonces := newFakeNonceStore()
	if err := Validate(parsed, masterKey, "GET", "/api/files/list", nonces, 60*time.Second, true); err != ErrPoPInvalidTimestamp {
		t.Errorf("Validate() error = %v, want ErrPoPInvalidTimestamp", err)
	}
}

func TestValidate_BadHMAC(t *testing.T) {
	masterKey := []byte("master-key-bytes")
	header, _ := BuildPoPHeader(masterKey, "GET", "/api/files/list")
	parsed, _ := ParsePoPHeader(header)

	nonces := newFakeNonceStore()
	// Validate against a different path than the one actually signed.
	if err := Validate(parsed, masterKey, "GET", "/api/files/delete", nonces, 60*time.Second, true); err != ErrPoPBadHMAC {
		t.Errorf("Validate() error = %v, want ErrPoPBadHMAC", err)
	}
}

func TestValidate_BadHMACDoesNotBurnNonce(t *testing.T) {
	masterKey := []byte("master-key-bytes")
	header, _ := BuildPoPHeader(masterKey, "GET", "/api/files/list")
	parsed, _ := ParsePoPHeader(header)
	nonces := newFakeNonceStore()

	// Wrong path fails the HMAC check; the nonce must still be free for the
	// legitimate request carrying the same nonce to use afterwards.
	if err := Validate(parsed, masterKey, "GET", "/api/files/delete", nonces, 60*time.Second, true); err != ErrPoPBadHMAC {
		t.Fatalf("Validate() error = %v, want ErrPoPBadHMAC", err)
	}

	if err := Validate(parsed, masterKey, "GET", "/api/files/list", nonces, 60*time.Second, true); err != nil {
		t.Errorf("Validate() after failed HMAC error = %v, want nil (nonce should not have been consumed)", err)
	}
}

func TestValidate_HMACDisabled(t *testing.T) {
	masterKey := []byte("master-key-bytes")
	header, _ := BuildPoPHeader(masterKey, "GET", "/api/files/list")
	parsed, _ := ParsePoPHeader(header)

	nonces := newFakeNonceStore()
	// Wrong path, but HMAC check disabled by the debug flag: should pass.
	if err := Validate(parsed, masterKey, "GET", "/api/files/delete", nonces, 60*time.Second, false); err != nil {
		t.Errorf("Validate() with hmacEnabled=false error = %v, want nil", err)
	}
}

func TestParsePoPHeader_Malformed(t *testing.T) {
	cases := []string{
		"",
		"not-a-valid-header",
		"123 onlytwoparts",
		"abc base64nonce base64hmac",
	}
	for _, c := range cases {
		if _, err := ParsePoPHeader(c); err != ErrPoPMalformed {
			t.Errorf("ParsePoPHeader(%q) error = %v, want ErrPoPMalformed", c, err)
		}
	}
}
