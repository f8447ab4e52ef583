package ids

import (
	"testing"
	"time"
)

func TestRequestIDsAreSortable(t *testing.T) {
	now := time.Now()
	a := newAt(now)
	b := newAt(now)
	c := newAt(now.Add(time.Second))
	if len(a) != 26 {
		t.Fatalf("unexpected id length %d", len(a))
	}
	if !(a < b && b < c) {
		t.Fatalf("ids not monotonic: %s %s %s", a, b, c)
	}
	if RequestID() == "" {
		t.Fatal("empty request id")
	}
}
