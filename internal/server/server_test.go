package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/photonicgluon/excalibur-server/internal/authtoken"
	"github.com/photonicgluon/excalibur-server/internal/config"
	"github.com/photonicgluon/excalibur-server/internal/crypto"
	"github.com/photonicgluon/excalibur-server/internal/exef"
	"github.com/photonicgluon/excalibur-server/internal/filestore"
	"github.com/photonicgluon/excalibur-server/internal/logging"
	"github.com/photonicgluon/excalibur-server/internal/session"
	"github.com/photonicgluon/excalibur-server/internal/srp"
	"github.com/photonicgluon/excalibur-server/internal/userstore"
)

const atRestKey = "0123456789abcdef0123456789abcdef" // 32 bytes

func newTestServer(t *testing.T) (*Server, []byte, string) {
	t.Helper()

	cfg := config.Default()
	cfg.RateLimit.Capacity = 1000
	cfg.RateLimit.RefillRate = 1000

	sessions := session.NewCache(10, time.Hour)
	nonces := session.NewNonceCache(10, time.Minute)

	masterKey := []byte(atRestKey)
	uuid, err := session.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	sessions.Put(uuid, masterKey)

	secret := []byte("server-secret")
	token, err := authtoken.Issue("alice", uuid, secret, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	deps := Deps{
		Config:       cfg,
		Logger:       logging.NopLogger(),
		Group:        srp.MediumGroup,
		ServerSecret: secret,
		Sessions:     sessions,
		Nonces:       nonces,
		Users:        userstore.New(),
		Files:        filestore.New([]byte(atRestKey)),
	}

	return New(deps), masterKey, token
}

func authedRequest(method, target string, masterKey []byte, token string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	pop, _ := authtoken.BuildPoPHeader(masterKey, method, req.URL.EscapedPath())
	req.Header.Set("X-SRP-PoP", pop)
	return req
}

func TestHandleGroupSize(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/auth/group-size", nil)
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rw.Code)
	}
	var body struct {
		Bits int `json:"bits"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Bits != srp.MediumGroup.Bits {
		t.Errorf("bits = %d, want %d", body.Bits, srp.MediumGroup.Bits)
	}
}

func TestHandleFilesUpload_DownloadRoundTrip(t *testing.T) {
	s, masterKey, token := newTestServer(t)

	plaintext := []byte("hello vault")
	container, err := exef.Encrypt(masterKey, nil, plaintext)
	if err != nil {
		t.Fatalf("exef.Encrypt() error = %v", err)
	}

	uploadReq := authedRequest("POST", "/api/files/upload/docs?name=note.txt", masterKey, token)
	uploadReq.Body = io.NopCloser(bytes.NewReader(container))
	uploadReq.Header.Set("X-Encrypted", "true")
	uploadReq.Header.Set("X-Content-Type", "text/plain")

	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, uploadReq)
	if rw.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201; body=%s", rw.Code, rw.Body.String())
	}

	downloadReq := authedRequest("GET", "/api/files/download/docs/note.txt", masterKey, token)
	rw = httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, downloadReq)
	if rw.Code != http.StatusOK {
		t.Fatalf("download status = %d, want 200; body=%s", rw.Code, rw.Body.String())
	}
	if rw.Header().Get("X-Encrypted") != "true" {
		t.Fatal("expected encrypted download response")
	}
	got, err := exef.Decrypt(masterKey, rw.Body.Bytes())
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("downloaded = %q, want %q", got, plaintext)
	}
}

func TestHandleFilesCheck_BearerOnlyNoPoP(t *testing.T) {
	s, masterKey, token := newTestServer(t)

	plaintext := []byte("x")
	container, _ := exef.Encrypt(masterKey, nil, plaintext)
	uploadReq := authedRequest("POST", "/api/files/upload/?name=a.txt", masterKey, token)
	uploadReq.Body = io.NopCloser(bytes.NewReader(container))
	uploadReq.Header.Set("X-Encrypted", "true")
	s.Handler().ServeHTTP(httptest.NewRecorder(), uploadReq)

	req := httptest.NewRequest("HEAD", "/api/files/check/path/a.txt", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for an existing file with only a bearer token", rw.Code)
	}
}

func TestHandleFilesCheck_NotFound(t *testing.T) {
	s, _, token := newTestServer(t)

	req := httptest.NewRequest("HEAD", "/api/files/check/path/nope.txt", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rw.Code)
	}
}

func TestHandleUsersAdd_SealedBoxEnvelope(t *testing.T) {
	priv, pub := newKeypair(t)

	cfg := config.Default()
	deps := Deps{
		Config:        cfg,
		Logger:        logging.NopLogger(),
		Group:         srp.MediumGroup,
		ServerSecret:  []byte("server-secret"),
		Sessions:      session.NewCache(10, time.Hour),
		Nonces:        session.NewNonceCache(10, time.Minute),
		Users:         userstore.New(),
		Files:         filestore.New([]byte(atRestKey)),
		ManagementBox: crypto.NewSealedBoxWithPrivate(pub, priv),
	}
	s := New(deps)

	envelope := accountCreationEnvelope{
		AUKSalt:     []byte("auk-salt-16bytes"),
		SRPSalt:     []byte("srp-salt-16bytes"),
		SRPVerifier: "12345",
		KeyEnc:      []byte("opaque-key-blob"),
	}
	plaintext, _ := json.Marshal(envelope)

	sealer := crypto.NewSealedBox(pub)
	sealed, err := sealer.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	req := httptest.NewRequest("POST", "/api/users/add/alice", bytes.NewReader(sealed))
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body=%s", rw.Code, rw.Body.String())
	}

	rec, ok := deps.Users.Get("alice")
	if !ok {
		t.Fatal("expected alice to be created")
	}
	if rec.SRPVerifier.String() != "12345" {
		t.Errorf("SRPVerifier = %v, want 12345", rec.SRPVerifier)
	}
}

func TestHandleAuthLogin_UnknownUUIDPassesThroughCleartext(t *testing.T) {
	s, _, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"uuid": "deadbeefdeadbeefdeadbeefdeadbeef"})
	req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewReader(body))
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	if rw.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rw.Code)
	}
	if rw.Header().Get("X-Encrypted") == "true" {
		t.Error("excluded 404 should not be encrypted")
	}
}

func newKeypair(t *testing.T) (priv, pub [crypto.KeySize]byte) {
	t.Helper()
	priv, pub, err := crypto.GenerateEphemeralKeypair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeypair() error = %v", err)
	}
	return priv, pub
}
