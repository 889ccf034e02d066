package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/apphost/internal/httputil"
	"github.com/R3E-Network/apphost/pkg/logger"
)

var testSecret = []byte("test-secret")

func principalHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserID(r.Context())))
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorBody {
	t.Helper()
	var body httputil.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestAuthMiddleware(t *testing.T) {
	valid, err := IssueToken(testSecret, "apphost", "alice", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	expired, _ := IssueToken(testSecret, "apphost", "alice", -time.Hour)
	wrongIssuer, _ := IssueToken(testSecret, "other", "alice", time.Hour)
	wrongKey, _ := IssueToken([]byte("other-secret"), "apphost", "alice", time.Hour)
	subjectOnly, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "bob",
		Issuer:  "apphost",
	}).SignedString(testSecret)
	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "mallory"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name      string
		anonymous bool
		header    string
		path      string
		status    int
		principal string
		code      string
	}{
		{name: "valid token", header: "Bearer " + valid, status: http.StatusOK, principal: "alice"},
		{name: "subject claim", header: "Bearer " + subjectOnly, status: http.StatusOK, principal: "bob"},
		{name: "lowercase scheme", header: "bearer " + valid, status: http.StatusOK, principal: "alice"},
		{name: "missing header", status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "missing header anonymous", anonymous: true, status: http.StatusOK},
		{name: "bad format", header: "Token abc", status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "expired", header: "Bearer " + expired, status: http.StatusUnauthorized, code: "INVALID_TOKEN"},
		{name: "wrong issuer", header: "Bearer " + wrongIssuer, status: http.StatusUnauthorized, code: "INVALID_TOKEN"},
		{name: "wrong key", header: "Bearer " + wrongKey, status: http.StatusUnauthorized, code: "INVALID_TOKEN"},
		{name: "none algorithm", header: "Bearer " + noneAlg, status: http.StatusUnauthorized, code: "INVALID_TOKEN"},
		{name: "invalid token anonymous", anonymous: true, header: "Bearer junk", status: http.StatusUnauthorized, code: "INVALID_TOKEN"},
		{name: "skip path", path: "/healthz", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewAuthMiddleware(AuthConfig{
				Secret:    testSecret,
				Issuer:    "apphost",
				Anonymous: tt.anonymous,
				SkipPaths: []string{"/healthz"},
			}, logger.NewDefault("test"))

			path := tt.path
			if path == "" {
				path = "/modules"
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			m.Handler(principalHandler()).ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.code != "" {
				if got := decodeError(t, rec).Code; got != tt.code {
					t.Errorf("code = %q, want %q", got, tt.code)
				}
				return
			}
			if got := rec.Body.String(); got != tt.principal {
				t.Errorf("principal = %q, want %q", got, tt.principal)
			}
		})
	}
}

func TestAuthMiddlewareWithoutSecret(t *testing.T) {
	token, _ := IssueToken(testSecret, "", "alice", time.Hour)
	m := NewAuthMiddleware(AuthConfig{Anonymous: true}, nil)

	req := httptest.NewRequest(http.MethodGet, "/modules", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	m.Handler(principalHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireUserID(t *testing.T) {
	h := RequireUserID(principalHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/id", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/user/id", nil)
	req = req.WithContext(logger.WithUserID(req.Context(), "carol"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "carol" {
		t.Fatalf("got %d %q, want 200 carol", rec.Code, rec.Body.String())
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	h := rl.Handler(principalHandler())

	do := func(remote, user string) int {
		req := httptest.NewRequest(http.MethodGet, "/deployments", nil)
		req.RemoteAddr = remote
		if user != "" {
			req = req.WithContext(logger.WithUserID(req.Context(), user))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if got := do("10.0.0.1:1000", ""); got != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, got)
		}
	}
	if got := do("10.0.0.1:2000", ""); got != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", got)
	}
	if got := do("10.0.0.2:1000", ""); got != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", got)
	}
	if got := do("10.0.0.1:1000", "alice"); got != http.StatusOK {
		t.Fatalf("authenticated client status = %d, want 200", got)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, nil)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	rl.getLimiter("old")
	now = now.Add(time.Hour)
	rl.getLimiter("fresh")

	if remaining := rl.Cleanup(); remaining != 1 {
		t.Fatalf("remaining = %d, want 1", remaining)
	}
	if _, ok := rl.limiters["fresh"]; !ok {
		t.Fatal("fresh limiter was evicted")
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var seen string
	h := LoggingMiddleware(logger.NewDefault("test"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.GetTraceID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set(httputil.TraceIDHeader, "trace-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "trace-123" {
		t.Errorf("trace in context = %q, want trace-123", seen)
	}
	if got := rec.Header().Get(httputil.TraceIDHeader); got != "trace-123" {
		t.Errorf("trace header = %q, want trace-123", got)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Header().Get(httputil.TraceIDHeader) == "" {
		t.Error("expected a generated trace id")
	}
}

func TestCORSMiddleware(t *testing.T) {
	m := NewCORSMiddleware([]string{"https://admin.example.com", ".apps.example.com"})
	h := m.Handler(principalHandler())

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://admin.example.com", true},
		{"https://shop.apps.example.com", true},
		{"https://evil.com", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/modules", nil)
		req.Header.Set("Origin", tt.origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		got := rec.Header().Get("Access-Control-Allow-Origin") == tt.origin
		if got != tt.allowed {
			t.Errorf("origin %s allowed = %v, want %v", tt.origin, got, tt.allowed)
		}
		wantStatus := http.StatusForbidden
		if tt.allowed {
			wantStatus = http.StatusNoContent
		}
		if rec.Code != wantStatus {
			t.Errorf("origin %s status = %d, want %d", tt.origin, rec.Code, wantStatus)
		}
	}
}
