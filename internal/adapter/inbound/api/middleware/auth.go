package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Principal is a named API token.
type Principal struct {
	Name  string
	Token string
}

type principalKey struct{}

// PrincipalFrom returns the name of the authenticated caller, if any.
func PrincipalFrom(ctx context.Context) string {
	name, _ := ctx.Value(principalKey{}).(string)
	return name
}

// BearerAuth returns middleware that validates a Bearer token against the
// configured principals and stores the matching name in the request context.
func BearerAuth(principals []Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeUnauthorized(w, "invalid authorization header format")
				return
			}

			token := strings.TrimSpace(parts[1])
			for _, p := range principals {
				if p.Token != "" && hmac.Equal([]byte(token), []byte(p.Token)) {
					ctx := context.WithValue(r.Context(), principalKey{}, p.Name)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}
			writeUnauthorized(w, "invalid bearer token")
		})
	}
}

// HMACAuth validates an HMAC-SHA256 signature of the raw body, expected in the
// X-Sentinel-Signature header as "sha256=<hex>". Used by host applications
// pushing activity events. Requires BodyReader upstream.
func HMACAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sigHeader := r.Header.Get("X-Sentinel-Signature")
			if sigHeader == "" {
				writeUnauthorized(w, "missing signature header")
				return
			}

			const prefix = "sha256="
			if !strings.HasPrefix(sigHeader, prefix) {
				writeUnauthorized(w, "invalid signature format")
				return
			}

			providedSig, err := hex.DecodeString(strings.TrimPrefix(sigHeader, prefix))
			if err != nil {
				writeUnauthorized(w, "invalid signature encoding")
				return
			}

			body, ok := RawBody(r.Context())
			if !ok {
				http.Error(w, "request body not available for signature verification", http.StatusInternalServerError)
				return
			}

			mac := hmac.New(sha256.New, []byte(secret))
			mac.Write(body)
			if !hmac.Equal(mac.Sum(nil), providedSig) {
				writeUnauthorized(w, "invalid HMAC signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="sentinel"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"error":{"code":401,"message":"` + msg + `"}}`))
}
