package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/photonicgluon/excalibur-server/internal/authtoken"
	"github.com/photonicgluon/excalibur-server/internal/exef"
	"github.com/photonicgluon/excalibur-server/internal/routes"
	"github.com/photonicgluon/excalibur-server/internal/session"
)

const testMasterKey = "0123456789abcdef0123456789abcdef" // 32 bytes

func newTestSetup(t *testing.T) (*Middleware, []byte, string) {
	t.Helper()

	tree := routes.New()
	tree.Add("POST", "/api/files/upload", true, routes.EncryptedRoute{EncryptedBody: true, EncryptedResponse: true, RequiresAuth: true, RequiresPoP: true})
	tree.Add("GET", "/api/files/list", true, routes.EncryptedRoute{EncryptedResponse: true, RequiresAuth: true, RequiresPoP: true})
	tree.Add("DELETE", "/api/files/delete", true, routes.EncryptedRoute{RequiresAuth: true, RequiresPoP: true})
	tree.Add("HEAD", "/api/files/check/path", true, routes.EncryptedRoute{RequiresAuth: true, RequiresPoP: false})
	tree.Add("POST", "/api/auth/login", false, routes.EncryptedRoute{
		EncryptedResponse: true,
		ExcludedStatuses:  map[int]bool{404: true},
	})

	sessions := session.NewCache(10, time.Hour)
	nonces := session.NewNonceCache(10, time.Minute)

	masterKey := []byte(testMasterKey)
	uuid, _ := session.NewID()
	sessions.Put(uuid, masterKey)

	secret := []byte("server-secret")
	token, err := authtoken.Issue("alice", uuid, secret, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	mw := New(Config{
		Routes:       tree,
		Sessions:     sessions,
		Nonces:       nonces,
		ServerSecret: secret,
		PoPValidity:  time.Minute,
		HMACEnabled:  true,
	})

	return mw, masterKey, token
}

func TestWrap_PassThroughUnregisteredRoute(t *testing.T) {
	mw, _, _ := newTestSetup(t)

	called := false
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/unregistered", nil)
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	if !called {
		t.Error("expected handler to be called for an unregistered route")
	}
	if rw.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rw.Code)
	}
}

func TestWrap_EncryptedUploadRoundTrip(t *testing.T) {
	mw, masterKey, token := newTestSetup(t)

	var receivedBody []byte
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		receivedBody = b
		w.Write([]byte(`{"ok":true}`))
	}))

	plaintext := []byte(`{"name":"report.pdf"}`)
	container, err := exef.Encrypt(masterKey, nil, plaintext)
	if err != nil {
		t.Fatalf("exef.Encrypt() error = %v", err)
	}

	req := httptest.NewRequest("POST", "/api/files/upload/report.pdf", nil)
	req.Body = io.NopCloser(bytes.NewReader(container))
	req.Header.Set("X-Encrypted", "true")
	req.Header.Set("Authorization", "Bearer "+token)

	popHeader, err := authtoken.BuildPoPHeader(masterKey, "POST", req.URL.EscapedPath())
	if err != nil {
		t.Fatalf("BuildPoPHeader() error = %v", err)
	}
	req.Header.Set("X-SRP-PoP", popHeader)

	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	if string(receivedBody) != string(plaintext) {
		t.Errorf("handler received %q, want %q", receivedBody, plaintext)
	}

	if rw.Header().Get("X-Encrypted") != "true" {
		t.Error("expected X-Encrypted response header")
	}
	respPlain, err := exef.Decrypt(masterKey, rw.Body.Bytes())
	if err != nil {
		t.Fatalf("decrypt response: %v", err)
	}
	if string(respPlain) != `{"ok":true}` {
		t.Errorf("response plaintext = %q", respPlain)
	}
}

func TestWrap_MissingTokenRejectedWithCredentialsFailure(t *testing.T) {
	mw, masterKey, _ := newTestSetup(t)

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without valid credentials")
	}))

	plaintext := []byte(`{}`)
	container, _ := exef.Encrypt(masterKey, nil, plaintext)

	req := httptest.NewRequest("POST", "/api/files/upload/x", nil)
	req.Body = io.NopCloser(bytes.NewReader(container))
	req.Header.Set("X-Encrypted", "true")

	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	if rw.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rw.Code)
	}
	if rw.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Error("expected WWW-Authenticate: Bearer header")
	}
}

func TestWrap_LoginUsesSyntheticSessionHeader(t *testing.T) {
	mw, masterKey, _ := newTestSetup(t)

	uuid, _ := session.NewID()
	// Install a freshly "just established" session the login handler
	// announces via the synthetic header.
	newSessionKey := []byte("fedcba9876543210fedcba9876543210")
	mw.cfg.Sessions.(*session.Cache).Put(uuid, newSessionKey)

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(SessionUUIDHeader, uuid.String())
		w.Write([]byte(`{"token":"..."}`))
	}))

	req := httptest.NewRequest("POST", "/api/auth/login", nil)
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	if rw.Header().Get("X-Encrypted") != "true" {
		t.Fatal("expected encrypted login response")
	}
	plain, err := exef.Decrypt(newSessionKey, rw.Body.Bytes())
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plain) != `{"token":"..."}` {
		t.Errorf("plaintext = %q", plain)
	}
	_ = masterKey
}

func TestWrap_LoginNotFoundPassesThroughCleartext(t *testing.T) {
	mw, _, _ := newTestSetup(t)

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))

	req := httptest.NewRequest("POST", "/api/auth/login", nil)
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	if rw.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rw.Code)
	}
	if rw.Header().Get("X-Encrypted") == "true" {
		t.Error("excluded-status response should not be encrypted")
	}
	if rw.Body.String() != `{"error":"not found"}` {
		t.Errorf("body = %q, want cleartext passthrough", rw.Body.String())
	}
}

func TestWrap_UnencryptedRouteStillRequiresAuth(t *testing.T) {
	mw, _, _ := newTestSetup(t)

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without a valid bearer token + PoP")
	}))

	req := httptest.NewRequest("DELETE", "/api/files/delete/report.pdf", nil)
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	if rw.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for an unencrypted route missing credentials", rw.Code)
	}
}

func TestWrap_UnencryptedRouteSucceedsWithValidCredentials(t *testing.T) {
	mw, masterKey, token := newTestSetup(t)

	called := false
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("DELETE", "/api/files/delete/report.pdf", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	popHeader, err := authtoken.BuildPoPHeader(masterKey, "DELETE", req.URL.EscapedPath())
	if err != nil {
		t.Fatalf("BuildPoPHeader() error = %v", err)
	}
	req.Header.Set("X-SRP-PoP", popHeader)

	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	if !called {
		t.Fatal("expected handler to run with valid bearer token and PoP")
	}
	if rw.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rw.Code)
	}
}

func TestWrap_BearerOnlyRouteSkipsPoPCheck(t *testing.T) {
	mw, _, token := newTestSetup(t)

	called := false
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("HEAD", "/api/files/check/path/report.pdf", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	// Deliberately no X-SRP-PoP header: this route only requires the
	// bearer token per spec.md §6.

	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	if !called {
		t.Fatal("expected handler to run with only a bearer token")
	}
	if rw.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rw.Code)
	}
}
