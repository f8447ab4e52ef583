package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New[string]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.Subscribe(ctx)
	b := h.Subscribe(ctx)
	h.Publish("refreshed")

	for _, ch := range []<-chan string{a, b} {
		select {
		case v := <-ch:
			if v != "refreshed" {
				t.Fatalf("unexpected value %q", v)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive value")
		}
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	h := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if h.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Len())
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	h := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = h.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBuffer*4; i++ {
			h.Publish(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
}

func TestPublishWaitDeliversToFullSubscriber(t *testing.T) {
	h := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := h.Subscribe(ctx)
	for i := 0; i < defaultBuffer; i++ {
		h.Publish(i)
	}

	delivered := make(chan bool, 1)
	go func() { delivered <- h.PublishWait(context.Background(), -1) }()

	var last int
	for i := 0; i <= defaultBuffer; i++ {
		select {
		case last = <-ch:
		case <-time.After(time.Second):
			t.Fatalf("value %d not received", i)
		}
	}
	if last != -1 {
		t.Fatalf("last value = %d, want -1", last)
	}
	if !<-delivered {
		t.Fatal("PublishWait reported a miss")
	}
}

func TestPublishWaitGivesUpWithContext(t *testing.T) {
	h := New[int]()
	subCtx, cancelSub := context.WithCancel(context.Background())
	defer cancelSub()
	_ = h.Subscribe(subCtx)
	for i := 0; i < defaultBuffer; i++ {
		h.Publish(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if h.PublishWait(ctx, -1) {
		t.Fatal("PublishWait reported delivery to a full, idle subscriber")
	}
}
