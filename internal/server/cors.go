package server

import "net/http"

// cors wraps next with the configured allow-list of origins. Unlike the
// teacher codebase (a peer-to-peer agent with no browser-facing surface),
// this server fronts a browser PWA client, so CORS is part of the ambient
// HTTP stack every handler sits behind.
func cors(allowOrigins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowOrigins))
	for _, o := range allowOrigins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, X-SRP-PoP, X-Encrypted, X-Content-Type, Content-Type")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
