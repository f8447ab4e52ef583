package requests

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/obs"
)

var (
	ErrNotEligible  = errors.New("requests: complaint not available for this request")
	ErrEmptyMessage = errors.New("requests: complaint message is required")
)

// ComplaintBackend is the API surface ComplaintBook needs.
type ComplaintBackend interface {
	CreateComplaint(ctx context.Context, in api.NewComplaint) (api.Complaint, error)
	MyComplaints(ctx context.Context) ([]api.Complaint, error)
	AllComplaints(ctx context.Context) ([]api.Complaint, error)
}

// ComplaintBook is the locally known complaint list. It gates the raise
// action to one complaint per request.
type ComplaintBook struct {
	backend ComplaintBackend
	all     bool
	now     func() time.Time

	mu      sync.Mutex
	items   []api.Complaint
	issued  uint64
	applied uint64
	// raised maps a request to the refresh count when Raise marked it.
	// Only a refresh issued after that may clear the mark.
	raised map[int64]uint64
}

// NewComplaintBook lists the caller's complaints, or every complaint when
// all is set (admin).
func NewComplaintBook(backend ComplaintBackend, all bool) *ComplaintBook {
	return &ComplaintBook{backend: backend, all: all, now: time.Now, raised: make(map[int64]uint64)}
}

// SetClock overrides the clock used for delay checks.
func (b *ComplaintBook) SetClock(now func() time.Time) {
	if now != nil {
		b.now = now
	}
}

// Refresh replaces the list. Like Store.Refresh it drops a response
// overtaken by a newer applied refresh or whose ctx ended in flight. Marks
// set by Raise are forgotten only by a refresh issued after them, so only
// the server list decides from then on.
func (b *ComplaintBook) Refresh(ctx context.Context) error {
	b.mu.Lock()
	b.issued++
	seq := b.issued
	b.mu.Unlock()

	var (
		items []api.Complaint
		err   error
	)
	if b.all {
		items, err = b.backend.AllComplaints(ctx)
	} else {
		items, err = b.backend.MyComplaints(ctx)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if seq < b.applied {
		obs.Log("debug", "complaints_stale_refresh", map[string]any{"seq": seq})
		return nil
	}
	b.applied = seq
	b.items = items
	for id, mark := range b.raised {
		if seq > mark {
			delete(b.raised, id)
		}
	}
	return nil
}

func (b *ComplaintBook) Snapshot() []api.Complaint {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]api.Complaint, len(b.items))
	copy(out, b.items)
	return out
}

// Has reports whether a complaint for requestID is known locally.
func (b *ComplaintBook) Has(requestID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.raised[requestID]; ok {
		return true
	}
	for _, c := range b.items {
		if c.RequestID == requestID {
			return true
		}
	}
	return false
}

// CanRaise reports whether the raise action is offered for r at now.
func (b *ComplaintBook) CanRaise(r api.PickupRequest, now time.Time) bool {
	return IsDelayed(r, now) && !b.Has(r.ID)
}

// Raise files a complaint for r and refreshes the list. The request is
// marked at once so the action disappears even if the refresh fails.
func (b *ComplaintBook) Raise(ctx context.Context, r api.PickupRequest, message string) (api.Complaint, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return api.Complaint{}, ErrEmptyMessage
	}
	if !b.CanRaise(r, b.now()) {
		return api.Complaint{}, ErrNotEligible
	}
	c, err := b.backend.CreateComplaint(ctx, api.NewComplaint{RequestID: r.ID, Message: message})
	if err != nil {
		return api.Complaint{}, err
	}
	b.mark(r.ID)

	if err := b.Refresh(ctx); err != nil {
		obs.Warn("complaints_refresh_failed", map[string]any{"request_id": r.ID, "error": err.Error()})
		return c, nil
	}
	// The server list may lag; keep the mark until it catches up.
	if !b.Has(r.ID) {
		b.mark(r.ID)
	}
	return c, nil
}

func (b *ComplaintBook) mark(requestID int64) {
	b.mu.Lock()
	b.raised[requestID] = b.issued
	b.mu.Unlock()
}
