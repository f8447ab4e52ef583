// Package notice delivers user-visible outcomes of dashboard actions.
package notice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/obs"
	"smartwaste.org/internal/session"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Notice is one message for the user. Action names the operation it
// reports on.
type Notice struct {
	Level     Level     `json:"level"`
	Action    string    `json:"action"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
	RequestID string    `json:"request_id,omitempty"`
}

func (n Notice) String() string {
	if n.Action == "" {
		return fmt.Sprintf("[%s] %s", n.Level, n.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", n.Level, n.Action, n.Message)
}

type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

type ctxKey string

const requestIDKey ctxKey = "notice_request_id"

// WithRequestID tags notices raised under ctx with a correlation id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Success builds a success notice.
func Success(ctx context.Context, action, message string) Notice {
	return Notice{Level: LevelSuccess, Action: action, Message: message, At: time.Now(), RequestID: requestIDFromContext(ctx)}
}

// Failure builds an error notice carrying the server reason when there is
// one, otherwise fallback.
func Failure(ctx context.Context, action string, err error, fallback string) Notice {
	if fallback == "" {
		fallback = action + " failed"
	}
	return Notice{Level: LevelError, Action: action, Message: api.Message(err, fallback), At: time.Now(), RequestID: requestIDFromContext(ctx)}
}

// LogNotifier writes notices as JSON lines through the shared logger.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notice) {
	level := "info"
	if n.Level == LevelError {
		level = "warn"
	}
	fields := map[string]any{"type": "notice", "action": n.Action, "notice": n.Message, "notice_level": string(n.Level)}
	if n.RequestID != "" {
		fields["request_id"] = n.RequestID
	}
	obs.Log(level, "notice", fields)
}

// Writer prints notices for a terminal, one per line.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewWriter(out io.Writer) *Writer { return &Writer{out: out} }

func (w *Writer) Notify(_ context.Context, n Notice) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, n.String())
}

// JSONWriter prints notices as JSON lines.
type JSONWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func NewJSONWriter(out io.Writer) *JSONWriter { return &JSONWriter{out: out} }

func (w *JSONWriter) Notify(_ context.Context, n Notice) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, string(data))
}

// Recorder keeps notices in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Last returns the most recent notice.
func (r *Recorder) Last() (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, x := range m {
		if x != nil {
			x.Notify(ctx, n)
		}
	}
}

// ActionSessionExpired is the action name of the teardown notice.
const ActionSessionExpired = "session"

// WatchSession emits one notice per teardown caused by an authorization
// failure or an expired credential. A plain logout stays silent. It
// returns when events is closed.
func WatchSession(ctx context.Context, events <-chan session.Event, n Notifier) {
	for ev := range events {
		if ev.State != session.Unauthenticated || ev.Reason == nil {
			continue
		}
		if !errors.Is(ev.Reason, api.ErrUnauthorized) {
			continue
		}
		msg := "Session expired. Please login again."
		if !errors.Is(ev.Reason, api.ErrSessionExpired) {
			msg = api.ErrUnauthorized.Error()
		}
		n.Notify(ctx, Notice{Level: LevelInfo, Action: ActionSessionExpired, Message: msg, At: time.Now()})
	}
}
