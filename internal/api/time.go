package api

import (
	"bytes"
	"fmt"
	"time"
)

// zone-less layouts produced by the backend's LocalDateTime serializer.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Time is a backend timestamp. It decodes RFC 3339 as well as zone-less
// local date-times (interpreted in time.Local); null and "" decode to zero.
type Time struct {
	time.Time
}

func NewTime(t time.Time) Time { return Time{Time: t} }

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format(time.RFC3339Nano) + `"`), nil
}

func (t *Time) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		t.Time = time.Time{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("api: timestamp must be a string, got %s", data)
	}
	raw := string(data[1 : len(data)-1])
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range localLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("api: unrecognized timestamp %q", raw)
}
