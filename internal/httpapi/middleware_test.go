package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"starterkit.dev/internal/audit"
	"starterkit.dev/internal/obs"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	limiter := NewMemoryLimiter(1, 1)
	defer limiter.Close()
	handler := RequestID(RateLimit(base, limiter, false))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if rr2.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}

	var body envelope
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body.Success || body.Message == "" {
		t.Fatalf("unexpected body: %+v", body)
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("other clients must keep their own budget, got %d", rr3.Code)
	}
}

func TestRateLimitIgnoresForwardedForByDefault(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	limiter := NewMemoryLimiter(1, 1)
	defer limiter.Close()
	handler := RateLimit(base, limiter, false)

	admitted := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.1.0.%d", i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusOK {
			admitted++
		}
	}
	if admitted != 1 {
		t.Fatalf("rotating X-Forwarded-For admitted %d requests, want 1", admitted)
	}
}

func TestClientIPTrustedProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 203.0.113.7")

	if got := clientIP(req, false); got != "10.0.0.1" {
		t.Fatalf("untrusted clientIP=%q", got)
	}
	if got := clientIP(req, true); got != "203.0.113.7" {
		t.Fatalf("trusted clientIP=%q", got)
	}

	req.Header.Del("X-Forwarded-For")
	if got := clientIP(req, true); got != "10.0.0.1" {
		t.Fatalf("trusted clientIP without header=%q", got)
	}
}

func TestMemoryLimiterDisabled(t *testing.T) {
	limiter := NewMemoryLimiter(0, 0)
	defer limiter.Close()
	for i := 0; i < 50; i++ {
		if ok, _ := limiter.Allow(context.Background(), "k"); !ok {
			t.Fatalf("call %d rejected by disabled limiter", i)
		}
	}
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	limiter := newRedisLimiter(client, 1, time.Second, nil)
	defer limiter.Close()

	for i := 0; i < 3; i++ {
		if ok, _ := limiter.Allow(context.Background(), "10.0.0.1"); !ok {
			t.Fatalf("call %d rejected while redis is unreachable", i)
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := map[time.Duration]string{
		0:                       "1",
		300 * time.Millisecond:  "1",
		time.Second:             "1",
		1500 * time.Millisecond: "2",
	}
	for in, want := range cases {
		if got := retryAfterSeconds(in); got != want {
			t.Fatalf("retryAfterSeconds(%v) = %s, want %s", in, got, want)
		}
	}
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = audit.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != "req-42" || rr.Header().Get(requestIDHeader) != "req-42" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rr.Header().Get(requestIDHeader))
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "req-42" {
		t.Fatalf("expected a fresh request id, got %q", seen)
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	prev := obs.SetLogger(obs.NewLogger(&buf, slog.LevelDebug))
	defer obs.SetLogger(prev)

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.RemoteAddr = "127.0.0.1:1234"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.Clone(context.Background()))

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	for _, key := range []string{"time", "level", "msg", "request_id", "method", "path", "status", "duration_ms", "remote_ip", "user_agent"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if entry["msg"] != "request_complete" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", entry["status"])
	}
	if entry["level"] != "WARN" {
		t.Fatalf("4xx should log at WARN, got %v", entry["level"])
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/users", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if called || rr.Code != http.StatusNoContent {
		t.Fatalf("preflight should short-circuit with 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("unexpected allow-origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Fatalf("Authorization must be an allowed header")
	}
}
