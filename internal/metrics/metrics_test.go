package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/":                               "/",
		"/health":                         "/health",
		"/api/auth/login":                 "/api/auth/login",
		"/api/conversations":              "/api/conversations",
		"/api/conversations/abc123":       "/api/conversations/:id",
		"/api/conversations/abc123/extra": "/api/conversations/:id",
		"/a/b/c/d/e":                      "/a/b/c",
	}
	for in, want := range cases {
		if got := CanonicalPath(in); got != want {
			t.Fatalf("CanonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	m := New()
	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/conversations/x1", nil)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/conversations/:id", "418"))
	if got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
}

func TestHandlerExposesCustomMetrics(t *testing.T) {
	m := New()
	m.ObserveProvider("text", "ok", 20*time.Millisecond)
	m.AuthEvent("auth.login", "fail")
	m.Message("general")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		"chatbot_provider_calls_total",
		"chatbot_auth_events_total",
		"chatbot_chat_messages_total",
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("expected %s in exposition", name)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveProvider("text", "ok", time.Second)
	m.AuthEvent("auth.login", "success")
	m.Message("faq")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if got := m.Instrument(next); got == nil {
		t.Fatalf("expected passthrough handler")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil metrics handler, got %d", rec.Code)
	}
}
