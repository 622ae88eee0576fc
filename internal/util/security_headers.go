package util

import (
	"net/http"
	"strconv"
	"strings"
)

// SecurityHeaders configures WithSecurityHeaders.
type SecurityHeaders struct {
	// MediaPrefixes are URL path prefixes that serve image bytes. Responses
	// under them may be embedded cross-origin and get an image-only CSP.
	MediaPrefixes []string
	HSTSMaxAge    int
}

const apiCSP = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"
const mediaCSP = "default-src 'none'; img-src 'self'; sandbox"

// WithSecurityHeaders adds security response headers for JSON endpoints and
// uploaded media.
func WithSecurityHeaders(opts SecurityHeaders, next http.Handler) http.Handler {
	if opts.HSTSMaxAge <= 0 {
		opts.HSTSMaxAge = 31536000
	}
	hsts := "max-age=" + strconv.Itoa(opts.HSTSMaxAge) + "; includeSubDomains"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		// Location comes from the client app; served pages never ask for it.
		h.Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")
		if opts.isMedia(r.URL.Path) {
			h.Set("Content-Security-Policy", mediaCSP)
			h.Set("Cross-Origin-Resource-Policy", "cross-origin")
		} else {
			h.Set("Content-Security-Policy", apiCSP)
			h.Set("Cross-Origin-Resource-Policy", "same-site")
			h.Set("Cache-Control", "no-store")
		}
		if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
			h.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func (o SecurityHeaders) isMedia(path string) bool {
	for _, p := range o.MediaPrefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
