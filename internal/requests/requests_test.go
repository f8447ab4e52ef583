package requests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/session"
)

type fakeBackend struct {
	mu       sync.Mutex
	requests []api.PickupRequest
	calls    map[string]int
	listHook func(ctx context.Context) ([]api.PickupRequest, error)
	fail     error

	lastAssign     [2]int64
	complaints     []api.Complaint
	complaintsHook func(ctx context.Context, snapshot []api.Complaint) ([]api.Complaint, error)
}

func newFake(rs ...api.PickupRequest) *fakeBackend {
	return &fakeBackend{requests: rs, calls: map[string]int{}}
}

func (f *fakeBackend) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) snapshot() []api.PickupRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.PickupRequest(nil), f.requests...)
}

func (f *fakeBackend) CreateRequest(_ context.Context, in api.NewRequest) (api.PickupRequest, error) {
	f.hit("create")
	if f.fail != nil {
		return api.PickupRequest{}, f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r := api.PickupRequest{
		ID: int64(len(f.requests) + 1), UserID: in.UserID, ZoneID: in.ZoneID, Category: in.Category,
		WeightKg: in.WeightKg, Address: in.Address, Status: api.StatusPending,
	}
	f.requests = append(f.requests, r)
	return r, nil
}

func (f *fakeBackend) list(ctx context.Context, name string) ([]api.PickupRequest, error) {
	f.hit(name)
	if f.listHook != nil {
		return f.listHook(ctx)
	}
	return f.snapshot(), nil
}

func (f *fakeBackend) RequestsMine(ctx context.Context) ([]api.PickupRequest, error) {
	return f.list(ctx, "mine")
}

func (f *fakeBackend) RequestsByCollector(ctx context.Context, _ int64) ([]api.PickupRequest, error) {
	return f.list(ctx, "by-collector")
}

func (f *fakeBackend) RequestsAssignedToMe(ctx context.Context) ([]api.PickupRequest, error) {
	return f.list(ctx, "assigned")
}

func (f *fakeBackend) AdminRequests(ctx context.Context) ([]api.PickupRequest, error) {
	return f.list(ctx, "all")
}

func (f *fakeBackend) UpdateStatus(_ context.Context, id int64, status api.Status, _ *api.Attachment) (api.PickupRequest, error) {
	f.hit("status")
	if f.fail != nil {
		return api.PickupRequest{}, f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.requests {
		if f.requests[i].ID == id {
			f.requests[i].Status = status
			return f.requests[i], nil
		}
	}
	return api.PickupRequest{}, &api.Error{Status: 404, Message: "Request not found"}
}

func (f *fakeBackend) AssignCollector(_ context.Context, requestID, collectorID int64) (api.PickupRequest, error) {
	f.hit("assign")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAssign = [2]int64{requestID, collectorID}
	for i := range f.requests {
		if f.requests[i].ID == requestID {
			id := collectorID
			f.requests[i].CollectorID = &id
			return f.requests[i], nil
		}
	}
	return api.PickupRequest{}, &api.Error{Status: 404, Message: "Request not found"}
}

func (f *fakeBackend) CreateComplaint(_ context.Context, in api.NewComplaint) (api.Complaint, error) {
	f.hit("complaint")
	f.mu.Lock()
	defer f.mu.Unlock()
	c := api.Complaint{ID: int64(len(f.complaints) + 1), RequestID: in.RequestID, Message: in.Message, Status: "OPEN"}
	f.complaints = append(f.complaints, c)
	return c, nil
}

func (f *fakeBackend) MyComplaints(ctx context.Context) ([]api.Complaint, error) {
	f.hit("my-complaints")
	f.mu.Lock()
	snapshot := append([]api.Complaint(nil), f.complaints...)
	hook := f.complaintsHook
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, snapshot)
	}
	return snapshot, nil
}

func (f *fakeBackend) AllComplaints(ctx context.Context) ([]api.Complaint, error) {
	return f.MyComplaints(ctx)
}

type fakeProfile struct {
	collector bool
	fetched   int
}

func (p *fakeProfile) IsCollector() bool { return p.collector }
func (p *fakeProfile) FetchProfile(context.Context) (session.Identity, error) {
	p.fetched++
	return session.Identity{}, nil
}

func weight(v float64) *float64 { return &v }

func TestIsDelayedBoundary(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	eps := time.Second
	cases := []struct {
		name    string
		status  api.Status
		age     time.Duration
		delayed bool
	}{
		{"pending just past", api.StatusPending, DelayThreshold + eps, true},
		{"pending exactly at threshold", api.StatusPending, DelayThreshold, true},
		{"pending just before", api.StatusPending, DelayThreshold - eps, false},
		{"in progress past", api.StatusInProgress, DelayThreshold + eps, true},
		{"in progress before", api.StatusInProgress, DelayThreshold - eps, false},
		{"collected old", api.StatusCollected, 30 * 24 * time.Hour, false},
		{"rejected old", api.StatusRejected, 30 * 24 * time.Hour, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := api.PickupRequest{Status: tc.status, CreatedAt: api.NewTime(now.Add(-tc.age))}
			if got := IsDelayed(r, now); got != tc.delayed {
				t.Fatalf("IsDelayed=%v, want %v", got, tc.delayed)
			}
		})
	}
	if IsDelayed(api.PickupRequest{Status: api.StatusPending}, now) {
		t.Fatal("request without creation time must not be delayed")
	}
}

func TestDraftValidation(t *testing.T) {
	valid := Draft{ZoneID: 3, Category: api.CategoryPlastic, WeightKg: weight(2.5), Address: "12 Elm St"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid draft rejected: %v", err)
	}
	zero := valid
	zero.WeightKg = weight(0)
	if err := zero.Validate(); err != nil {
		t.Fatalf("zero weight rejected: %v", err)
	}
	cases := map[string]func(d *Draft){
		"no zone":      func(d *Draft) { d.ZoneID = 0 },
		"bad category": func(d *Draft) { d.Category = "GLASS" },
		"no weight":    func(d *Draft) { d.WeightKg = nil },
		"negative":     func(d *Draft) { d.WeightKg = weight(-1) },
		"blank addr":   func(d *Draft) { d.Address = "   " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := valid
			mutate(&d)
			if err := d.Validate(); !errors.Is(err, ErrInvalidDraft) {
				t.Fatalf("expected ErrInvalidDraft, got %v", err)
			}
		})
	}
}

func TestCreateAppendsAndPublishes(t *testing.T) {
	fb := newFake()
	s := NewStore(fb, ScopeMine)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := s.Subscribe(ctx)

	r, err := s.Create(ctx, Draft{ZoneID: 3, Category: api.CategoryPlastic, WeightKg: weight(2.5), Address: " 12 Elm St "})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Status != api.StatusPending || r.Assignment() != api.Unassigned || r.Address != "12 Elm St" {
		t.Fatalf("unexpected request %+v", r)
	}
	if got := s.Snapshot(); len(got) != 1 || got[0].ID != r.ID {
		t.Fatalf("snapshot %+v", got)
	}
	select {
	case c := <-changes:
		if c.Action != "create" || c.RequestID != r.ID {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no change published")
	}

	fb.fail = &api.Error{Status: 400, Message: "Weight too large"}
	if _, err := s.Create(ctx, Draft{ZoneID: 3, Category: api.CategoryMetal, WeightKg: weight(900), Address: "x"}); err == nil {
		t.Fatal("expected server failure")
	}
	if len(s.Snapshot()) != 1 {
		t.Fatal("failed create mutated local state")
	}
	if _, err := s.Create(ctx, Draft{}); !errors.Is(err, ErrInvalidDraft) {
		t.Fatalf("expected ErrInvalidDraft, got %v", err)
	}
	if fb.count("create") != 2 {
		t.Fatalf("invalid draft reached backend: %d creates", fb.count("create"))
	}
}

func TestRefreshScopes(t *testing.T) {
	fb := newFake(api.PickupRequest{ID: 1, Status: api.StatusPending})
	for _, tc := range []struct {
		store *Store
		call  string
	}{
		{NewStore(fb, ScopeMine), "mine"},
		{NewStore(fb, ScopeAssigned), "assigned"},
		{NewStore(fb, ScopeAssigned, WithCollector(7)), "by-collector"},
		{NewStore(fb, ScopeAll), "all"},
	} {
		if err := tc.store.Refresh(context.Background()); err != nil {
			t.Fatalf("%s: %v", tc.call, err)
		}
		if fb.count(tc.call) != 1 {
			t.Fatalf("scope %s did not call %s", tc.store.Scope(), tc.call)
		}
		if len(tc.store.Snapshot()) != 1 {
			t.Fatalf("scope %s snapshot not replaced", tc.store.Scope())
		}
	}
}

func TestRefreshDiscardsStaleResponse(t *testing.T) {
	fb := newFake()
	release := make(chan struct{})
	started := make(chan struct{})
	var n int
	var mu sync.Mutex
	fb.listHook = func(ctx context.Context) ([]api.PickupRequest, error) {
		mu.Lock()
		n++
		first := n == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
			return []api.PickupRequest{{ID: 1, Status: api.StatusPending}}, nil
		}
		return []api.PickupRequest{{ID: 1, Status: api.StatusCollected}}, nil
	}
	s := NewStore(fb, ScopeMine)

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background()) }()
	<-started
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	got := s.Snapshot()
	if len(got) != 1 || got[0].Status != api.StatusCollected {
		t.Fatalf("stale response overwrote newer snapshot: %+v", got)
	}
}

func TestRefreshIgnoredAfterCancel(t *testing.T) {
	fb := newFake(api.PickupRequest{ID: 9})
	ctx, cancel := context.WithCancel(context.Background())
	fb.listHook = func(context.Context) ([]api.PickupRequest, error) {
		cancel()
		return []api.PickupRequest{{ID: 9}}, nil
	}
	s := NewStore(fb, ScopeMine)
	if err := s.Refresh(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(s.Snapshot()) != 0 {
		t.Fatal("cancelled refresh was applied")
	}
}

func TestNextActions(t *testing.T) {
	cases := map[api.Status][]api.Status{
		api.StatusPending:    {api.StatusInProgress},
		api.StatusInProgress: {api.StatusCollected, api.StatusRejected},
		api.StatusCollected:  nil,
		api.StatusRejected:   nil,
	}
	for from, want := range cases {
		got := NextActions(api.PickupRequest{Status: from})
		if len(got) != len(want) {
			t.Fatalf("%s: got %v want %v", from, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: got %v want %v", from, got, want)
			}
		}
	}
}

func TestAdvanceStatusRefreshesAndFetchesCollectorProfile(t *testing.T) {
	fb := newFake(api.PickupRequest{ID: 4, Status: api.StatusInProgress})
	profile := &fakeProfile{collector: true}
	s := NewStore(fb, ScopeAssigned, WithProfile(profile))

	if _, err := s.AdvanceStatus(context.Background(), 4, api.StatusCollected, nil); err != nil {
		t.Fatalf("AdvanceStatus: %v", err)
	}
	if fb.count("assigned") != 1 {
		t.Fatal("no refresh after status change")
	}
	if profile.fetched != 1 {
		t.Fatal("collector profile not refreshed")
	}
	if r, _ := s.Get(4); r.Status != api.StatusCollected {
		t.Fatalf("refreshed status %s", r.Status)
	}

	user := &fakeProfile{}
	s2 := NewStore(fb, ScopeMine, WithProfile(user))
	if _, err := s2.AdvanceStatus(context.Background(), 4, api.StatusRejected, nil); err != nil {
		t.Fatalf("AdvanceStatus: %v", err)
	}
	if user.fetched != 0 {
		t.Fatal("non-collector profile refreshed")
	}
}

func TestAssignRequiresSelection(t *testing.T) {
	fb := newFake(api.PickupRequest{ID: 1, Status: api.StatusPending})
	s := NewStore(fb, ScopeAll)
	ctx := context.Background()

	if _, err := s.Assign(ctx, 1); !errors.Is(err, ErrNoCollector) {
		t.Fatalf("expected ErrNoCollector, got %v", err)
	}
	if fb.count("assign") != 0 {
		t.Fatal("assign without selection reached backend")
	}

	s.Select(1, 7)
	if id, ok := s.Selection(1); !ok || id != 7 {
		t.Fatalf("selection = %d, %v", id, ok)
	}
	if _, err := s.Assign(ctx, 1); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if fb.lastAssign != [2]int64{1, 7} {
		t.Fatalf("assigned %v", fb.lastAssign)
	}
	if _, ok := s.Selection(1); ok {
		t.Fatal("selection not cleared after assign")
	}
	r, ok := s.Get(1)
	if !ok || r.Assignment() != api.Assigned || r.CollectorID == nil || *r.CollectorID != 7 {
		t.Fatalf("refresh after assign: %+v", r)
	}

	if _, err := NewStore(fb, ScopeMine).Assign(ctx, 1); !errors.Is(err, ErrScope) {
		t.Fatalf("expected ErrScope, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	seven := int64(7)
	old := api.NewTime(now.Add(-72 * time.Hour))
	rs := []api.PickupRequest{
		{ID: 1, Status: api.StatusPending, CreatedAt: old},
		{ID: 2, Status: api.StatusInProgress, CollectorID: &seven, CreatedAt: api.NewTime(now)},
		{ID: 3, Status: api.StatusCollected, CollectorID: &seven, RewardPoints: 25, CreatedAt: old},
		{ID: 4, Status: api.StatusRejected, RewardPoints: 99},
	}
	got := Summarize(rs, now)
	want := Summary{Total: 4, Pending: 1, InProgress: 1, Collected: 1, Rejected: 1, Assigned: 2, Unassigned: 2, Delayed: 1, Points: 25}
	if got != want {
		t.Fatalf("Summarize = %+v, want %+v", got, want)
	}
}

func TestComplaintGate(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	fb := newFake()
	book := NewComplaintBook(fb, false)
	book.SetClock(func() time.Time { return now })
	ctx := context.Background()

	delayed := api.PickupRequest{ID: 11, Status: api.StatusPending, CreatedAt: api.NewTime(now.Add(-49 * time.Hour))}
	fresh := api.PickupRequest{ID: 12, Status: api.StatusPending, CreatedAt: api.NewTime(now.Add(-time.Hour))}

	if !book.CanRaise(delayed, now) {
		t.Fatal("delayed request should be eligible")
	}
	if book.CanRaise(fresh, now) {
		t.Fatal("fresh request should not be eligible")
	}
	if _, err := book.Raise(ctx, fresh, "late"); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
	if _, err := book.Raise(ctx, delayed, "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	if _, err := book.Raise(ctx, delayed, "Nobody came"); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	if book.CanRaise(delayed, now) {
		t.Fatal("action still offered after raising")
	}
	if _, err := book.Raise(ctx, delayed, "again"); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("duplicate raise: %v", err)
	}
	if fb.count("complaint") != 1 {
		t.Fatalf("complaints sent: %d", fb.count("complaint"))
	}

	// Still present server-side: remains gated after refresh.
	if err := book.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if book.CanRaise(delayed, now) {
		t.Fatal("action offered while complaint is listed")
	}

	// Gone server-side: reappears after the next refresh.
	fb.mu.Lock()
	fb.complaints = nil
	fb.mu.Unlock()
	if err := book.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if !book.CanRaise(delayed, now) {
		t.Fatal("action should reappear once the list no longer has the request")
	}
}

func TestComplaintRefreshIssuedBeforeRaiseIsDiscarded(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	fb := newFake()
	release := make(chan struct{})
	started := make(chan struct{})
	var n int
	fb.complaintsHook = func(_ context.Context, snapshot []api.Complaint) ([]api.Complaint, error) {
		fb.mu.Lock()
		n++
		first := n == 1
		fb.mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return snapshot, nil
	}
	book := NewComplaintBook(fb, false)
	book.SetClock(func() time.Time { return now })
	delayed := api.PickupRequest{ID: 21, Status: api.StatusInProgress, CreatedAt: api.NewTime(now.Add(-50 * time.Hour))}

	done := make(chan error, 1)
	go func() { done <- book.Refresh(context.Background()) }()
	<-started

	if _, err := book.Raise(context.Background(), delayed, "Still waiting"); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("early refresh: %v", err)
	}

	if book.CanRaise(delayed, now) {
		t.Fatal("refresh issued before Raise re-offered the complaint action")
	}
	if got := book.Snapshot(); len(got) != 1 || got[0].RequestID != delayed.ID {
		t.Fatalf("stale response overwrote newer list: %+v", got)
	}
	if _, err := book.Raise(context.Background(), delayed, "again"); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("duplicate raise: %v", err)
	}
	if fb.count("complaint") != 1 {
		t.Fatalf("complaints sent: %d", fb.count("complaint"))
	}
}

func TestComplaintRefreshIgnoredAfterCancel(t *testing.T) {
	fb := newFake()
	fb.complaints = []api.Complaint{{ID: 1, RequestID: 3, Status: "OPEN"}}
	ctx, cancel := context.WithCancel(context.Background())
	fb.complaintsHook = func(_ context.Context, snapshot []api.Complaint) ([]api.Complaint, error) {
		cancel()
		return snapshot, nil
	}
	book := NewComplaintBook(fb, false)
	if err := book.Refresh(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if book.Has(3) || len(book.Snapshot()) != 0 {
		t.Fatal("cancelled refresh was applied")
	}
}
