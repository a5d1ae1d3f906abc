// Package server wires the routing table (internal/routes), the
// encryption middleware (internal/middleware), and the file/user
// collaborators into a conventional HTTP server, grounded on the
// http.NewServeMux() + writeJSON/http.Error handler idiom the teacher's
// internal/health/server.go uses for its own HTTP surface.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/photonicgluon/excalibur-server/internal/config"
	"github.com/photonicgluon/excalibur-server/internal/crypto"
	"github.com/photonicgluon/excalibur-server/internal/filestore"
	"github.com/photonicgluon/excalibur-server/internal/middleware"
	"github.com/photonicgluon/excalibur-server/internal/routes"
	"github.com/photonicgluon/excalibur-server/internal/session"
	"github.com/photonicgluon/excalibur-server/internal/srp"
	"github.com/photonicgluon/excalibur-server/internal/userstore"
)

// handshakeBudget bounds one auth-channel run's S0-S8 wall-clock time
// (spec.md §5 "Cancellation and timeouts"); not user-configurable since no
// deployment has ever needed more than a few round trips' worth of slack.
const handshakeBudget = 30 * time.Second

// Deps bundles every external collaborator the HTTP surface (spec.md §6)
// needs. UserStore and VaultFileStore are the out-of-core collaborators
// named in §6; internal/userstore and internal/filestore are this
// repository's in-memory stand-ins for them.
type Deps struct {
	Config        *config.Config
	Logger        *slog.Logger
	Group         *srp.Group
	ServerSecret  []byte
	Sessions      *session.Cache
	Nonces        *session.NonceCache
	Users         *userstore.Store
	Files         *filestore.Store
	ManagementBox *crypto.SealedBox // nil, or a box without the private key, disables /api/users/add
}

// Server is the assembled Excalibur Server HTTP surface.
type Server struct {
	deps    Deps
	handler http.Handler
}

// New builds a Server from deps, mounting the rate-limit → CORS →
// encryption-middleware chain ahead of the route table (spec.md §4.H).
func New(deps Deps) *Server {
	s := &Server{deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/group-size", s.handleGroupSize)
	mux.HandleFunc("/api/auth", s.handleAuth)
	mux.HandleFunc("/api/auth/login", s.handleAuthLogin)
	mux.HandleFunc("/api/files/upload/", s.handleFilesUpload)
	mux.HandleFunc("/api/files/mkdir/", s.handleFilesMkdir)
	mux.HandleFunc("/api/files/download/", s.handleFilesDownload)
	mux.HandleFunc("/api/files/list/", s.handleFilesList)
	mux.HandleFunc("/api/files/delete/", s.handleFilesDelete)
	mux.HandleFunc("/api/files/rename/", s.handleFilesRename)
	mux.HandleFunc("/api/files/check/path/", s.handleFilesCheck)
	mux.HandleFunc("/api/users/add/", s.handleUsersAdd)
	mux.HandleFunc("/api/users/vault/", s.handleUsersVault)

	mw := middleware.New(middleware.Config{
		Routes:                    routes.BuildDefault(),
		Sessions:                  deps.Sessions,
		Nonces:                    deps.Nonces,
		ServerSecret:              deps.ServerSecret,
		PoPValidity:               deps.Config.PoP.TimestampValidity,
		HMACEnabled:               deps.Config.HMACEnabled,
		DisableResponseEncryption: !deps.Config.EncryptResponses,
	})

	limiter := NewRateLimiter(deps.Config.RateLimit.Capacity, deps.Config.RateLimit.RefillRate)

	s.handler = limiter.Wrap(cors(deps.Config.Server.AllowOrigins, mw.Wrap(mux)))
	return s
}

// Handler returns the fully-wrapped http.Handler, exposed separately from
// HTTPServer so tests can drive it directly with httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HTTPServer returns an *http.Server bound to deps.Config.Server.Address,
// ready for ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:    s.deps.Config.Server.Address,
		Handler: s.handler,
	}
}
