// Package requests keeps the client's working set of pickup requests for
// one scope and drives create, status and assignment actions against it.
package requests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/obs"
	"smartwaste.org/internal/session"
	"smartwaste.org/internal/stream"
)

// Scope selects which requests a Store lists.
type Scope int

const (
	ScopeMine Scope = iota
	ScopeAssigned
	ScopeAll
)

func (s Scope) String() string {
	switch s {
	case ScopeAssigned:
		return "assigned"
	case ScopeAll:
		return "all"
	}
	return "mine"
}

var (
	ErrInvalidDraft = errors.New("requests: invalid draft")
	ErrNoCollector  = errors.New("requests: please select a collector")
	ErrScope        = errors.New("requests: action not available in this scope")
)

// Backend is the API surface the store needs.
type Backend interface {
	CreateRequest(ctx context.Context, in api.NewRequest) (api.PickupRequest, error)
	RequestsMine(ctx context.Context) ([]api.PickupRequest, error)
	RequestsByCollector(ctx context.Context, collectorID int64) ([]api.PickupRequest, error)
	RequestsAssignedToMe(ctx context.Context) ([]api.PickupRequest, error)
	AdminRequests(ctx context.Context) ([]api.PickupRequest, error)
	UpdateStatus(ctx context.Context, requestID int64, status api.Status, proof *api.Attachment) (api.PickupRequest, error)
	AssignCollector(ctx context.Context, requestID, collectorID int64) (api.PickupRequest, error)
}

// Profile refreshes the session identity after a status change credits
// a collector's earnings.
type Profile interface {
	IsCollector() bool
	FetchProfile(ctx context.Context) (session.Identity, error)
}

// Change is published whenever the working set is replaced or modified.
type Change struct {
	Scope     Scope
	Action    string
	RequestID int64
}

// Draft is a pickup request before submission. WeightKg is a pointer so
// a missing weight can be told apart from zero.
type Draft struct {
	UserID   int64
	ZoneID   int64
	Category api.Category
	WeightKg *float64
	Address  string
	Image    *api.Attachment
}

// Validate checks shape only; the backend owns business rules.
func (d Draft) Validate() error {
	switch {
	case d.ZoneID <= 0:
		return fmt.Errorf("%w: zone is required", ErrInvalidDraft)
	case !d.Category.Valid():
		return fmt.Errorf("%w: waste type is required", ErrInvalidDraft)
	case d.WeightKg == nil:
		return fmt.Errorf("%w: weight is required", ErrInvalidDraft)
	case *d.WeightKg < 0:
		return fmt.Errorf("%w: weight must not be negative", ErrInvalidDraft)
	case strings.TrimSpace(d.Address) == "":
		return fmt.Errorf("%w: pickup address is required", ErrInvalidDraft)
	}
	return nil
}

// Store holds the latest snapshot for its scope. Refreshes replace the
// snapshot in full; a response is applied only when no refresh issued
// after it has already been applied.
type Store struct {
	backend     Backend
	scope       Scope
	collectorID int64
	profile     Profile
	now         func() time.Time
	hub         *stream.Hub[Change]

	mu        sync.Mutex
	items     []api.PickupRequest
	issued    uint64
	applied   uint64
	selection map[int64]int64
}

type Option func(*Store)

// WithCollector lists a specific collector's requests in ScopeAssigned
// instead of the caller's own.
func WithCollector(id int64) Option {
	return func(s *Store) { s.collectorID = id }
}

// WithProfile sets the identity refreshed after a collector advances a
// request.
func WithProfile(p Profile) Option {
	return func(s *Store) { s.profile = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(backend Backend, scope Scope, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		scope:     scope,
		now:       time.Now,
		hub:       stream.New[Change](),
		selection: make(map[int64]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Scope() Scope { return s.scope }

// Subscribe streams changes until ctx ends.
func (s *Store) Subscribe(ctx context.Context) <-chan Change {
	return s.hub.Subscribe(ctx)
}

// Snapshot returns a copy of the working set.
func (s *Store) Snapshot() []api.PickupRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.PickupRequest, len(s.items))
	copy(out, s.items)
	return out
}

// Get finds a request in the working set.
func (s *Store) Get(id int64) (api.PickupRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.items {
		if r.ID == id {
			return r, true
		}
	}
	return api.PickupRequest{}, false
}

// Refresh replaces the working set from the scope's endpoint. A refresh
// whose ctx ends while in flight is discarded, as is one overtaken by a
// newer applied refresh.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	items, err := s.list(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	if seq < s.applied {
		s.mu.Unlock()
		obs.Log("debug", "requests_stale_refresh", map[string]any{"scope": s.scope.String(), "seq": seq})
		return nil
	}
	s.applied = seq
	s.items = items
	s.mu.Unlock()

	s.hub.Publish(Change{Scope: s.scope, Action: "refresh"})
	return nil
}

func (s *Store) list(ctx context.Context) ([]api.PickupRequest, error) {
	switch s.scope {
	case ScopeAssigned:
		if s.collectorID > 0 {
			return s.backend.RequestsByCollector(ctx, s.collectorID)
		}
		return s.backend.RequestsAssignedToMe(ctx)
	case ScopeAll:
		return s.backend.AdminRequests(ctx)
	}
	return s.backend.RequestsMine(ctx)
}

// Create submits a draft. On success the returned request is appended to
// the working set; on failure nothing local changes.
func (s *Store) Create(ctx context.Context, d Draft) (api.PickupRequest, error) {
	if err := d.Validate(); err != nil {
		return api.PickupRequest{}, err
	}
	created, err := s.backend.CreateRequest(ctx, api.NewRequest{
		UserID:   d.UserID,
		ZoneID:   d.ZoneID,
		Category: d.Category,
		WeightKg: *d.WeightKg,
		Address:  strings.TrimSpace(d.Address),
		Image:    d.Image,
	})
	if err != nil {
		return api.PickupRequest{}, err
	}

	s.mu.Lock()
	s.items = append(s.items, created)
	s.mu.Unlock()
	s.hub.Publish(Change{Scope: s.scope, Action: "create", RequestID: created.ID})
	return created, nil
}

// NextActions lists the statuses a request may be advanced to from the
// interface. The store does not enforce this table on send.
func NextActions(r api.PickupRequest) []api.Status {
	switch r.Status {
	case api.StatusPending:
		return []api.Status{api.StatusInProgress}
	case api.StatusInProgress:
		return []api.Status{api.StatusCollected, api.StatusRejected}
	}
	return nil
}

// AdvanceStatus sends a status change and then refreshes the working set.
// Collectors also get their profile refreshed for the earnings balance.
func (s *Store) AdvanceStatus(ctx context.Context, id int64, next api.Status, proof *api.Attachment) (api.PickupRequest, error) {
	if !next.Valid() {
		return api.PickupRequest{}, fmt.Errorf("requests: unknown status %q", next)
	}
	updated, err := s.backend.UpdateStatus(ctx, id, next, proof)
	if err != nil {
		return api.PickupRequest{}, err
	}
	s.hub.Publish(Change{Scope: s.scope, Action: "status", RequestID: id})
	s.refreshAfter(ctx, "status")
	if s.profile != nil && s.profile.IsCollector() {
		if _, err := s.profile.FetchProfile(ctx); err != nil {
			obs.Warn("profile_refresh_failed", map[string]any{"request_id": id, "error": err.Error()})
		}
	}
	return updated, nil
}

// Select records the collector chosen for a request in the admin view.
// A zero collector clears the selection.
func (s *Store) Select(requestID, collectorID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if collectorID <= 0 {
		delete(s.selection, requestID)
		return
	}
	s.selection[requestID] = collectorID
}

func (s *Store) Selection(requestID int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.selection[requestID]
	return id, ok
}

// Assign sends the selected collector for a request. Without a selection
// it fails with ErrNoCollector and sends nothing.
func (s *Store) Assign(ctx context.Context, requestID int64) (api.PickupRequest, error) {
	if s.scope != ScopeAll {
		return api.PickupRequest{}, ErrScope
	}
	collectorID, ok := s.Selection(requestID)
	if !ok {
		return api.PickupRequest{}, ErrNoCollector
	}
	updated, err := s.backend.AssignCollector(ctx, requestID, collectorID)
	if err != nil {
		return api.PickupRequest{}, err
	}
	s.Select(requestID, 0)
	s.hub.Publish(Change{Scope: s.scope, Action: "assign", RequestID: requestID})
	s.refreshAfter(ctx, "assign")
	return updated, nil
}

func (s *Store) refreshAfter(ctx context.Context, action string) {
	if err := s.Refresh(ctx); err != nil {
		obs.Warn("requests_refresh_failed", map[string]any{"scope": s.scope.String(), "after": action, "error": err.Error()})
	}
}

// Summary counts the working set against the store clock.
func (s *Store) Summary() Summary {
	return Summarize(s.Snapshot(), s.now())
}
