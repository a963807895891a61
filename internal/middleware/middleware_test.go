package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
})

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth(map[string]string{"mobile": "s3cret"}, "/health")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(GetClientFromContext(r.Context())))
		}))

	tests := []struct {
		name     string
		path     string
		header   map[string]string
		wantCode int
		wantBody string
	}{
		{"skipped path", "/health", nil, http.StatusOK, ""},
		{"missing header", "/analyze", nil, http.StatusUnauthorized, ""},
		{"wrong key", "/analyze", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
		{"bearer", "/analyze", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK, "mobile"},
		{"x-api-key", "/analyze", map[string]string{"X-API-Key": "s3cret"}, http.StatusOK, "mobile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestAPIKeyAuth_DisabledWithoutKeys(t *testing.T) {
	rec := httptest.NewRecorder()
	APIKeyAuth(nil)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Stop()
	h := RateLimit(rl, "/health")(okHandler)

	do := func(path, ip string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("/analyze", "10.0.0.1"))
	assert.Equal(t, http.StatusOK, do("/analyze", "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("/analyze", "10.0.0.1"))
	assert.Equal(t, http.StatusOK, do("/analyze", "10.0.0.2"), "budgets are per client")
	assert.Equal(t, http.StatusOK, do("/health", "10.0.0.1"), "skipped paths are not limited")
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	defer rl.Stop()
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	rl.Allow("b")
	require.Equal(t, 2, rl.size())

	now = now.Add(11 * time.Minute)
	rl.Allow("b")
	rl.evictIdle()
	assert.Equal(t, 1, rl.size())
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := Recovery(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := Logging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/pot", nil))

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "/pot", fields["path"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, int64(15), fields["bytes"])
}

func TestHealthHandler(t *testing.T) {
	checkers := map[string]HealthChecker{
		"ytdlp": HealthCheckFunc(func(ctx context.Context) error { return nil }),
		"redis": HealthCheckFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	}
	rec := httptest.NewRecorder()
	HealthHandler(checkers)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "healthy", body.Checks["ytdlp"].Status)
	assert.Equal(t, "connection refused", body.Checks["redis"].Message)
}

func TestHealthHandler_NoCheckers(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(nil)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type stubResolver map[string][]string

func (s stubResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := s[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	out := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

func TestValidateURLWith(t *testing.T) {
	resolver := stubResolver{
		"www.youtube.com":   {"142.250.185.78", "2a00:1450:4001:82b::200e"},
		"vimeo.com":         {"162.159.138.23"},
		"127.0.0.1.nip.io":  {"127.0.0.1"},
		"intranet.corp.com": {"10.20.30.40"},
		"mixed.example.com": {"93.184.216.34", "192.168.0.10"},
		"metadata.evil.com": {"169.254.169.254"},
		"v6loop.evil.com":   {"::1"},
		"empty.example.com": {},
	}

	valid := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"http://vimeo.com/123",
		"https://8.8.8.8/v.mp4",
	}
	for _, u := range valid {
		assert.NoError(t, ValidateURLWith(context.Background(), resolver, u), u)
	}

	invalid := []string{
		"",
		"ftp://example.com/v",
		"file:///etc/passwd",
		"https://localhost/v",
		"http://127.0.0.1:8080/",
		"http://[::1]/",
		"http://[::ffff:127.0.0.1]/",
		"http://10.1.2.3/",
		"http://172.20.0.5/",
		"http://192.168.1.1/",
		"http://169.254.169.254/latest/meta-data",
		"http://user:pw@example.com/",
		"https:///nohost",
		"--exec=rm",
		// integer and hex encodings of loopback
		"http://2130706433/",
		"http://0x7f000001/",
		"http://0x7f.1/",
		"http://0177.0.0.1/",
		"http://127.1/",
		// names resolving to blocked ranges
		"http://127.0.0.1.nip.io/",
		"http://intranet.corp.com/",
		"http://mixed.example.com/",
		"http://metadata.evil.com/",
		"http://v6loop.evil.com/",
		// unresolvable or empty answers
		"http://does-not-exist.invalid/",
		"http://empty.example.com/",
	}
	for _, u := range invalid {
		assert.Error(t, ValidateURLWith(context.Background(), resolver, u), u)
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "abc\tdef", SanitizeString("  a\x00bc\tdef\x07  "))
}

func TestValidateLimitAndPage(t *testing.T) {
	assert.Equal(t, 20, ValidateLimit(0))
	assert.Equal(t, 100, ValidateLimit(1000))
	assert.Equal(t, 5, ValidateLimit(5))
	assert.Equal(t, 1, ValidatePage(-3))
	assert.Equal(t, 4, ValidatePage(4))
}
