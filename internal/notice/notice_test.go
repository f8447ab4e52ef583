package notice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/obs"
	"smartwaste.org/internal/session"
)

func TestLogNotifier(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := WithRequestID(context.Background(), "req-123")
	LogNotifier{}.Notify(ctx, Failure(ctx, "assign", &api.Error{Status: 400, Message: "Collector not found"}, ""))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "notice" || entry["action"] != "assign" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["notice"] != "Collector not found" {
		t.Fatalf("server reason missing: %v", entry["notice"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["level"] != "warn" {
		t.Fatalf("unexpected level: %v", entry["level"])
	}
}

func TestFailureMessages(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		err  error
		want string
	}{
		{&api.Error{Status: 409, Message: "Email already registered"}, "Email already registered"},
		{&api.Error{Status: 403}, "Access denied - You don't have permission"},
		{api.ErrRateLimited, "Too many requests - Please try again later"},
		{errors.New("boom"), "redeem failed"},
	}
	for _, tc := range cases {
		if got := Failure(ctx, "redeem", tc.err, "").Message; got != tc.want {
			t.Fatalf("Failure(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestWriters(t *testing.T) {
	var text, js bytes.Buffer
	n := Multi{NewWriter(&text), NewJSONWriter(&js), nil}
	n.Notify(context.Background(), Success(context.Background(), "submit", "Request created"))

	if got := strings.TrimSpace(text.String()); got != "[success] submit: Request created" {
		t.Fatalf("text = %q", got)
	}
	var decoded Notice
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil || decoded.Action != "submit" {
		t.Fatalf("json = %s (%v)", js.String(), err)
	}
}

func TestWatchSessionOncePerTeardown(t *testing.T) {
	events := make(chan session.Event, 4)
	events <- session.Event{State: session.Authenticated}
	events <- session.Event{State: session.Unauthenticated, Reason: api.ErrSessionExpired}
	events <- session.Event{State: session.Unauthenticated, Reason: session.ErrLoggedOut}
	events <- session.Event{State: session.Unauthenticated, Reason: api.ErrUnauthorized}
	close(events)

	var rec Recorder
	WatchSession(context.Background(), events, &rec)
	got := rec.Notices()
	if len(got) != 2 {
		t.Fatalf("expected 2 notices, got %+v", got)
	}
	if got[0].Message != "Session expired. Please login again." || got[1].Message != api.ErrUnauthorized.Error() {
		t.Fatalf("unexpected notices %+v", got)
	}
	if last, ok := rec.Last(); !ok || last.Action != ActionSessionExpired {
		t.Fatalf("Last = %+v", last)
	}
}
