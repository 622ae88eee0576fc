package util

import (
	"net/http"
	"strings"
)

// Origins is a browser origin allowlist. An empty allowlist allows any origin.
type Origins map[string]struct{}

// NewOrigins builds an allowlist, skipping blank entries.
func NewOrigins(entries []string) Origins {
	o := make(Origins, len(entries))
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			o[e] = struct{}{}
		}
	}
	return o
}

// Allows reports whether origin may call the API. Requests without an
// Origin header come from non-browser clients and are allowed.
func (o Origins) Allows(origin string) bool {
	if len(o) == 0 || origin == "" {
		return true
	}
	_, ok := o[origin]
	return ok
}

// WithCORS adds CORS headers for the mobile/web clients.
func WithCORS(allowed Origins, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(allowed) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed.Allows(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
