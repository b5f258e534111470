package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JonMunkholm/billing/internal/logging"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"no trusted proxies", nil, "10.0.0.5:1234", map[string]string{"X-Real-IP": "1.2.3.4"}, "10.0.0.5:1234"},
		{"untrusted source", []string{"10.0.0.0/8"}, "192.168.1.5:1234", map[string]string{"X-Real-IP": "1.2.3.4"}, "192.168.1.5:1234"},
		{"trusted real ip", []string{"10.0.0.0/8"}, "10.0.0.5:1234", map[string]string{"X-Real-IP": "1.2.3.4"}, "1.2.3.4"},
		{"trusted forwarded for", []string{"10.0.0.0/8"}, "10.0.0.5:1234", map[string]string{"X-Forwarded-For": "5.6.7.8, 10.0.0.7"}, "5.6.7.8"},
		{"single address", []string{"127.0.0.1"}, "127.0.0.1:80", map[string]string{"X-Real-IP": "9.9.9.9"}, "9.9.9.9"},
		{"invalid header ignored", []string{"10.0.0.0/8"}, "10.0.0.5:1234", map[string]string{"X-Real-IP": "not-an-ip"}, "10.0.0.5:1234"},
		{"bad cidr skipped", []string{"nonsense", "10.0.0.0/8"}, "10.0.0.5:1234", map[string]string{"X-Real-IP": "1.2.3.4"}, "1.2.3.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(logging.New(&buf, "info", "text"))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/customers/9", nil))

	out := buf.String()
	for _, want := range []string{"level=WARN", "status=404", "bytes=7", "path=/api/customers/9"} {
		if !strings.Contains(out, want) {
			t.Errorf("log entry missing %q: %s", want, out)
		}
	}
}

func TestLogger_Flushes(t *testing.T) {
	rec := httptest.NewRecorder()
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: x\n\n"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush through wrapper: %v", err)
		}
	}))
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !rec.Flushed {
		t.Error("underlying recorder was not flushed")
	}
}
