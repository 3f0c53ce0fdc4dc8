package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// rawBodyKey is used to store the raw request body in context.
type rawBodyKey struct{}

// RawBody returns the buffered body stored by BodyReader.
func RawBody(ctx context.Context) ([]byte, bool) {
	b, ok := ctx.Value(rawBodyKey{}).([]byte)
	return b, ok
}

// BodyReader buffers the request body up to limit bytes so it can be read
// twice (signature check, then JSON decoding). Larger bodies get 413.
func BodyReader(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
			if err != nil {
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			r.Body.Close()
			if int64(len(body)) > limit {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			ctx := context.WithValue(r.Context(), rawBodyKey{}, body)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
