package middleware

import "net/http"

// apiHeaders apply to every response. The API only ever returns JSON to
// machine clients, so nothing may be framed, sniffed, cached or referred.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Cache-Control", "no-store"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	// Responses depend on the caller's token.
	{"Vary", "Authorization"},
}

// ResponseHeaders stamps the API headers and the running build version.
// HSTS is only sent over TLS.
func ResponseHeaders(serverVersion string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range apiHeaders {
				h.Set(kv[0], kv[1])
			}
			if serverVersion != "" {
				h.Set("X-Sentinel-Version", serverVersion)
			}
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=31536000")
			}
			next.ServeHTTP(w, r)
		})
	}
}
