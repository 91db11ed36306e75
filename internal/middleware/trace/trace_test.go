package trace

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"savings/internal/log"
)

func TestMiddlewareAssignsRequestID(t *testing.T) {
	var seen string
	var ctxLogger *log.Logger
	h := NewMiddleware(nil, log.New(log.Config{Output: &bytes.Buffer{}})).Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
			ctxLogger = log.FromContext(r.Context())
		}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/goals", nil))

	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("request id %q is not a UUID", seen)
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("response header = %q, want %q", rec.Header().Get(RequestIDHeader), seen)
	}
	if ctxLogger == nil || ctxLogger.Component() != log.ComponentHTTP {
		t.Error("handler should see the request logger in its context")
	}
}

func TestMiddlewareKeepsValidIncomingID(t *testing.T) {
	incoming := uuid.NewString()
	h := NewMiddleware(nil, nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != incoming {
		t.Errorf("request id = %q, want incoming %q", got, incoming)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got == "<script>" {
		t.Error("malformed incoming id should be replaced")
	}
}

func TestMiddlewareLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	h := NewMiddleware(func(*http.Request) string { return "10.0.0.1" }, log.New(log.Config{Output: &buf})).Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.WriteHeader(http.StatusInternalServerError) // ignored by net/http
		}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	out := buf.String()
	for _, want := range []string{"HTTP request completed", "status_code=404", "level=WARN", "client_ip=10.0.0.1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
