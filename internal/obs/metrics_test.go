package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                 "/",
		"/metrics":                         "/metrics",
		"/api/requests/user/42":            "/api/requests/user/:id",
		"/api/requests/updateStatus/7":     "/api/requests/updateStatus/:id",
		"/api/admin/requests/3/assign":     "/api/admin/requests/:id/assign",
		"/api/admin/requests/3/assign?c=7": "/api/admin/requests/:id/assign",
		"/api/rewards/catalog":             "/api/rewards/catalog",
		"/api/ml/score/user/12/recalculate": "/api/ml/score/user/:id/recalculate",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentPassesStatusThrough(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/requests/user/1", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rr.Code)
	}
}

func TestLogEmitsJSON(t *testing.T) {
	l := Logger()
	orig := l.Writer()
	var buf bytes.Buffer
	l.SetOutput(&buf)
	defer l.SetOutput(orig)

	Warn("api_call", map[string]any{"status": 503, "msg": "ignored"})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if entry["level"] != "warn" || entry["msg"] != "api_call" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["status"] != float64(503) {
		t.Fatalf("unexpected status field: %v", entry["status"])
	}
}
