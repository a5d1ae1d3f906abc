package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/photonicgluon/excalibur-server/internal/authchannel"
	"github.com/photonicgluon/excalibur-server/internal/filestore"
	"github.com/photonicgluon/excalibur-server/internal/logging"
	"github.com/photonicgluon/excalibur-server/internal/middleware"
	"github.com/photonicgluon/excalibur-server/internal/session"
	"github.com/photonicgluon/excalibur-server/internal/userstore"

	"nhooyr.io/websocket"
)

// writeJSON writes v as a JSON response with the given status, grounded on
// the teacher's internal/health/server.go helper of the same name.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// pathParam strips prefix from r.URL.Path, returning the remaining
// path-parameter segment the routing tree's "has param" node captures.
func pathParam(r *http.Request, prefix string) string {
	return strings.TrimPrefix(r.URL.Path, prefix)
}

// handleGroupSize serves GET /api/auth/group-size: a public, unencrypted
// endpoint a client queries before it can even compute A, so it cannot be
// gated on anything this server would have to encrypt.
func (s *Server) handleGroupSize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"bits": s.deps.Group.Bits})
}

// handleAuth upgrades GET /api/auth to a WebSocket and runs the SRP
// handshake state machine to completion, grounded on the teacher's
// internal/transport/ws.go handleWebSocket accept/upgrade idiom.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.deps.Logger.Warn("auth channel upgrade failed",
			logging.KeyComponent, "authchannel",
			logging.KeyRemoteAddr, r.RemoteAddr,
			logging.KeyError, err)
		return
	}

	wsConn := authchannel.NewWSConn(conn)
	cfg := authchannel.Config{
		Group:           s.deps.Group,
		ServerSecret:    s.deps.ServerSecret,
		SessionDuration: s.deps.Config.SessionDuration,
		HandshakeBudget: handshakeBudget,
	}

	if err := authchannel.RunServer(r.Context(), wsConn, s.deps.Users, s.deps.Sessions, cfg); err != nil {
		s.deps.Logger.Info("auth channel closed",
			logging.KeyComponent, "authchannel",
			logging.KeyRemoteAddr, r.RemoteAddr,
			logging.KeyError, err)
	}
}

// handleFilesUpload serves POST /api/files/upload/{path}: the request body
// has already been decrypted by internal/middleware by the time this runs.
func (s *Server) handleFilesUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	dir := pathParam(r, "/api/files/upload/")
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "missing name query parameter", http.StatusBadRequest)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	plaintext, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	mimeType := r.Header.Get("Content-Type")

	filePath := path.Join("/", dir, name)
	if err := s.deps.Files.Upload(filePath, mimeType, plaintext, force); err != nil {
		writeFileStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": filePath})
}

// handleFilesMkdir serves POST /api/files/mkdir/{path}.
func (s *Server) handleFilesMkdir(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	dir := pathParam(r, "/api/files/mkdir/")

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		http.Error(w, "missing name in body", http.StatusBadRequest)
		return
	}

	dirPath := path.Join("/", dir, body.Name)
	if err := s.deps.Files.Mkdir(dirPath); err != nil {
		writeFileStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": dirPath})
}

// handleFilesDownload serves GET /api/files/download/{path}: the response
// plaintext is encrypted by internal/middleware after this handler returns.
func (s *Server) handleFilesDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	filePath := "/" + pathParam(r, "/api/files/download/")

	plaintext, mimeType, err := s.deps.Files.Download(filePath)
	if err != nil {
		writeFileStoreError(w, err)
		return
	}
	if mimeType != "" {
		w.Header().Set("X-Content-Type", mimeType)
	}
	w.Write(plaintext)
}

// handleFilesList serves GET /api/files/list/{path}.
func (s *Server) handleFilesList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	dirPath := "/" + pathParam(r, "/api/files/list/")

	entries, err := s.deps.Files.List(dirPath)
	if err != nil {
		writeFileStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleFilesDelete serves DELETE /api/files/delete/{path}: neither
// direction is encrypted, only the bearer token + PoP gate it.
func (s *Server) handleFilesDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	filePath := "/" + pathParam(r, "/api/files/delete/")

	if err := s.deps.Files.Delete(filePath); err != nil {
		writeFileStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFilesRename serves POST /api/files/rename/{path}.
func (s *Server) handleFilesRename(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	filePath := "/" + pathParam(r, "/api/files/rename/")

	var body struct {
		NewName string `json:"new_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NewName == "" {
		http.Error(w, "missing new_name in body", http.StatusBadRequest)
		return
	}

	if err := s.deps.Files.Rename(filePath, body.NewName); err != nil {
		writeFileStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFilesCheck serves HEAD /api/files/check/path/{path}: 200 for a
// file, 202 for a directory, 404 for neither, per spec.md §6.
func (s *Server) handleFilesCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	filePath := "/" + pathParam(r, "/api/files/check/path/")

	exists, isDir := s.deps.Files.Check(filePath)
	switch {
	case !exists:
		w.WriteHeader(http.StatusNotFound)
	case isDir:
		w.WriteHeader(http.StatusAccepted)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// accountCreationEnvelope is the plaintext an out-of-band account-creation
// key seals for /api/users/add: everything this server needs to accept a
// new SRP account without ever seeing the password it was derived from.
type accountCreationEnvelope struct {
	AUKSalt     []byte `json:"auk_salt"`
	SRPSalt     []byte `json:"srp_salt"`
	SRPVerifier string `json:"srp_verifier"` // decimal big.Int
	KeyEnc      []byte `json:"key_enc"`
}

// handleUsersAdd serves POST /api/users/add/{username}: the body is sealed
// with the account-creation key (§6), not ExEF, so it bypasses
// internal/middleware entirely — this route is intentionally absent from
// the routing tree.
func (s *Server) handleUsersAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	username := pathParam(r, "/api/users/add/")
	if username == "" {
		http.Error(w, "missing username", http.StatusBadRequest)
		return
	}

	if s.deps.ManagementBox == nil || !s.deps.ManagementBox.CanDecrypt() {
		http.Error(w, "account creation not configured", http.StatusServiceUnavailable)
		return
	}

	sealed, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	plaintext, err := s.deps.ManagementBox.Open(sealed)
	if err != nil {
		http.Error(w, "failed to open account creation envelope", http.StatusBadRequest)
		return
	}

	var env accountCreationEnvelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		http.Error(w, "malformed account creation envelope", http.StatusBadRequest)
		return
	}

	verifier, ok := new(big.Int).SetString(env.SRPVerifier, 10)
	if !ok {
		http.Error(w, "malformed srp_verifier", http.StatusBadRequest)
		return
	}

	rec := userstore.Record{
		Username:    username,
		AUKSalt:     env.AUKSalt,
		Group:       s.deps.Group,
		SRPSalt:     env.SRPSalt,
		SRPVerifier: verifier,
		KeyEnc:      env.KeyEnc,
	}
	if err := s.deps.Users.Create(rec); err != nil {
		if errors.Is(err, userstore.ErrUserExists) {
			http.Error(w, "user already exists", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// handleUsersVault serves GET /api/users/vault/{username}: returns the
// opaque, client-encrypted vault key blob so the client can unwrap its
// own vault key locally.
func (s *Server) handleUsersVault(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	username := pathParam(r, "/api/users/vault/")

	rec, ok := s.deps.Users.Get(username)
	if !ok {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key_enc": base64.StdEncoding.EncodeToString(rec.KeyEnc)})
}

// handleAuthLogin serves POST /api/auth/login: an HTTP-side confirmation of
// a session the WebSocket auth channel already established (S8 delivers the
// actual bearer token over the socket itself). A client that lost the token
// envelope, or a second tab resuming a live session, presents the uuid
// S8 returned; an unknown uuid yields the cleartext 404 the routing table
// excludes from encryption (spec.md §4.G), everything else is wrapped by
// internal/middleware via the synthetic X-Session-UUID header.
func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		UUID string `json:"uuid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UUID == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	uuid, err := session.ParseID(body.UUID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	if _, ok := s.deps.Sessions.Get(uuid); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	w.Header().Set(middleware.SessionUUIDHeader, uuid.String())
	s.deps.Logger.Info("session confirmed",
		logging.KeyRoute, r.URL.Path,
		logging.KeySessionUUID, uuid.String())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeFileStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, filestore.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, filestore.ErrExists):
		http.Error(w, "already exists", http.StatusConflict)
	case errors.Is(err, filestore.ErrIsDirectory):
		http.Error(w, "is a directory", http.StatusBadRequest)
	case errors.Is(err, filestore.ErrNotDirectory):
		http.Error(w, "not a directory", http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
