package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the client.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stderr, "", 0)
	})
	return logger
}

// Log emits one JSON line with ts, level and msg plus the given fields.
// Fields never override the three base keys.
func Log(level, msg string, fields map[string]any) {
	LogTo(Logger(), level, msg, fields)
}

// LogTo is Log writing to l instead of the shared logger.
func LogTo(l *log.Logger, level, msg string, fields map[string]any) {
	if l == nil {
		l = Logger()
	}
	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["msg"] = msg
	data, err := json.Marshal(entry)
	if err != nil {
		l.Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	l.Println(string(data))
}

func Info(msg string, fields map[string]any)  { Log("info", msg, fields) }
func Warn(msg string, fields map[string]any)  { Log("warn", msg, fields) }
func Error(msg string, fields map[string]any) { Log("error", msg, fields) }
