package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, PrincipalFrom(r.Context()))
	})
}

func TestBearerAuth(t *testing.T) {
	h := BearerAuth([]Principal{{Name: "alice", Token: "t-alice"}, {Name: "ci", Token: "t-ci"}})(okHandler())

	tests := []struct {
		header string
		code   int
		body   string
	}{
		{"", http.StatusUnauthorized, ""},
		{"Basic abc", http.StatusUnauthorized, ""},
		{"Bearer wrong", http.StatusUnauthorized, ""},
		{"Bearer t-alice", http.StatusOK, "alice"},
		{"bearer  t-ci", http.StatusOK, "ci"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.code {
			t.Errorf("%q: code = %d, want %d", tt.header, rec.Code, tt.code)
		}
		if tt.code == http.StatusOK && rec.Body.String() != tt.body {
			t.Errorf("%q: principal = %q, want %q", tt.header, rec.Body.String(), tt.body)
		}
	}
}

func TestHMACAuth(t *testing.T) {
	h := BodyReader(1 << 10)(HMACAuth("s3cret")(okHandler()))
	body := `{"user_id":"u1"}`

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("X-Sentinel-Signature", Sign("s3cret", []byte(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid signature: code = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("X-Sentinel-Signature", Sign("other", []byte(body)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: code = %d", rec.Code)
	}
}

func TestBodyReader_Limit(t *testing.T) {
	var seen string
	h := BodyReader(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("12345678")))
	if rec.Code != http.StatusOK || seen != "12345678" {
		t.Errorf("at limit: code %d body %q", rec.Code, seen)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("123456789")))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("over limit: code %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2, false)
	h := rl.Middleware(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Errorf("separate IPs have separate buckets, got %d", rec.Code)
	}

	rl.EvictStale(0)
	if len(rl.visitors) != 0 {
		t.Errorf("expected eviction, %d left", len(rl.visitors))
	}
}

func TestRemoteIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := RemoteIP(req, false); got != "::1" {
		t.Errorf("untrusted = %q", got)
	}
	if got := RemoteIP(req, true); got != "203.0.113.9" {
		t.Errorf("trusted = %q", got)
	}
}

func TestResponseHeadersAndLogging(t *testing.T) {
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)))(ResponseHeaders("1.4.0")(okHandler()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Frame-Options") != "DENY" || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("headers = %v", rec.Header())
	}
	if rec.Header().Get("X-Sentinel-Version") != "1.4.0" || rec.Header().Get("Vary") != "Authorization" {
		t.Errorf("expected version and Vary headers, got %v", rec.Header())
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}

	tlsReq := httptest.NewRequest(http.MethodGet, "https://sentinel.example/", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, tlsReq)
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS over TLS")
	}
}
