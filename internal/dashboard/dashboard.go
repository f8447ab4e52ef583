// Package dashboard composes the session, request, rewards, analytics and
// ML components into role-specific views and user actions.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"smartwaste.org/internal/analytics"
	"smartwaste.org/internal/api"
	"smartwaste.org/internal/auth"
	"smartwaste.org/internal/ids"
	"smartwaste.org/internal/ml"
	"smartwaste.org/internal/notice"
	"smartwaste.org/internal/obs"
	"smartwaste.org/internal/requests"
	"smartwaste.org/internal/rewards"
	"smartwaste.org/internal/session"
)

// Optional panels reported by View.Degraded.
const (
	PanelProfile   = "profile"
	PanelRewards   = "rewards"
	PanelAnalytics = "analytics"
	PanelML        = "ml"
)

// Action names used in notices.
const (
	ActionSubmit       = "submit"
	ActionAdvance      = "advance"
	ActionAssign       = "assign"
	ActionRedeem       = "redeem"
	ActionFulfill      = "fulfill"
	ActionComplaint    = "complaint"
	ActionAddCollector = "add-collector"
)

var (
	ErrRole          = errors.New("dashboard: action not available for this role")
	ErrUnknownReward = errors.New("dashboard: reward not in catalog")
	ErrUnknownReq    = errors.New("dashboard: request not in the current list")
)

// Dashboard owns the per-role stores of one client session.
type Dashboard struct {
	client   *api.Client
	session  *session.Manager
	notifier notice.Notifier
	now      func() time.Time
	period   analytics.Period
	topUsers int

	mine        *requests.Store
	assigned    *requests.Store
	all         *requests.Store
	complaints  *requests.ComplaintBook
	allComplain *requests.ComplaintBook
	ledger      *rewards.Ledger
	analytics   *analytics.Service
	advisor     *ml.Advisor

	mu         sync.Mutex
	collectors []api.Collector
}

type Option func(*Dashboard)

func WithNotifier(n notice.Notifier) Option {
	return func(d *Dashboard) {
		if n != nil {
			d.notifier = n
		}
	}
}

// WithClock sets the clock used for delay flags.
func WithClock(now func() time.Time) Option {
	return func(d *Dashboard) {
		if now != nil {
			d.now = now
		}
	}
}

// WithPeriod sets the analytics period of the admin view.
func WithPeriod(p analytics.Period) Option {
	return func(d *Dashboard) { d.period = p }
}

// WithAdvisorTimeout bounds each ML advisory call.
func WithAdvisorTimeout(timeout time.Duration) Option {
	return func(d *Dashboard) { d.advisor = ml.NewAdvisor(d.client, timeout) }
}

// New wires the stores over client. The session must already be the
// client's credential source (session.NewManager does that).
func New(client *api.Client, sess *session.Manager, opts ...Option) *Dashboard {
	d := &Dashboard{
		client:   client,
		session:  sess,
		notifier: notice.LogNotifier{},
		now:      time.Now,
		topUsers: 10,
	}
	d.advisor = ml.NewAdvisor(client, 0)
	for _, opt := range opts {
		opt(d)
	}
	clock := requests.WithClock(d.now)
	d.mine = requests.NewStore(client, requests.ScopeMine, clock)
	d.assigned = requests.NewStore(client, requests.ScopeAssigned, clock, requests.WithProfile(sess))
	d.all = requests.NewStore(client, requests.ScopeAll, clock)
	d.complaints = requests.NewComplaintBook(client, false)
	d.complaints.SetClock(d.now)
	d.allComplain = requests.NewComplaintBook(client, true)
	d.allComplain.SetClock(d.now)
	d.ledger = rewards.NewLedger(client, sess)
	d.analytics = analytics.NewService(client)
	return d
}

func (d *Dashboard) Session() *session.Manager           { return d.session }
func (d *Dashboard) Ledger() *rewards.Ledger             { return d.ledger }
func (d *Dashboard) Analytics() *analytics.Service       { return d.analytics }
func (d *Dashboard) Advisor() *ml.Advisor                { return d.advisor }
func (d *Dashboard) Complaints() *requests.ComplaintBook { return d.complaints }

// Requests returns the store of a scope.
func (d *Dashboard) Requests(scope requests.Scope) *requests.Store {
	switch scope {
	case requests.ScopeAssigned:
		return d.assigned
	case requests.ScopeAll:
		return d.all
	}
	return d.mine
}

// Load builds the view for the session's role. Critical reads fail the
// load as a whole; optional panels fail on their own and are listed in
// Degraded.
func (d *Dashboard) Load(ctx context.Context) (View, error) {
	id, ok := d.session.Identity()
	if !ok {
		return nil, session.ErrNotAuthenticated
	}
	if !d.session.IsAuthenticated() {
		d.session.Invalidate(api.ErrSessionExpired)
		return nil, api.ErrSessionExpired
	}
	switch id.Role {
	case auth.RoleUser:
		return d.loadUser(ctx, id)
	case auth.RoleCollector:
		return d.loadCollector(ctx, id)
	case auth.RoleAdmin:
		return d.loadAdmin(ctx, id)
	}
	return nil, fmt.Errorf("dashboard: unknown role %q", id.Role)
}

// batch runs critical reads under one errgroup and optional reads beside
// it. Optional failures are only recorded.
type batch struct {
	critical *errgroup.Group
	ctx      context.Context
	optional errgroup.Group

	mu       sync.Mutex
	degraded []string
}

func newBatch(ctx context.Context) *batch {
	g, gctx := errgroup.WithContext(ctx)
	return &batch{critical: g, ctx: gctx}
}

func (b *batch) must(fn func(ctx context.Context) error) {
	b.critical.Go(func() error { return fn(b.ctx) })
}

func (b *batch) may(ctx context.Context, panel string, fn func(ctx context.Context) error) {
	b.optional.Go(func() error {
		if err := fn(ctx); err != nil {
			obs.Warn("dashboard_panel_failed", map[string]any{"panel": panel, "error": err.Error()})
			b.mu.Lock()
			if !contains(b.degraded, panel) {
				b.degraded = append(b.degraded, panel)
			}
			b.mu.Unlock()
		}
		return nil
	})
}

func (b *batch) wait() ([]string, error) {
	err := b.critical.Wait()
	_ = b.optional.Wait()
	sort.Strings(b.degraded)
	return b.degraded, err
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func (d *Dashboard) loadUser(ctx context.Context, id session.Identity) (View, error) {
	var eco *api.EcoScore
	b := newBatch(ctx)
	b.must(d.mine.Refresh)
	b.must(d.complaints.Refresh)
	b.may(ctx, PanelProfile, func(ctx context.Context) error {
		_, err := d.session.FetchProfile(ctx)
		return err
	})
	b.may(ctx, PanelRewards, d.ledger.RefreshCatalog)
	b.may(ctx, PanelRewards, d.ledger.RefreshRedemptions)
	b.may(ctx, PanelRewards, d.ledger.RefreshTransactions)
	b.may(ctx, PanelML, func(ctx context.Context) error {
		score, ok := d.advisor.EcoScore(ctx, id.UserID)
		if !ok {
			return errors.New("eco score unavailable")
		}
		eco = &score
		return nil
	})
	degraded, err := b.wait()
	if err != nil {
		return nil, err
	}
	if fresh, ok := d.session.Identity(); ok {
		id = fresh
	}

	now := d.now()
	v := &UserView{
		base:         base{Identity: id, LoadedAt: now, degraded: degraded},
		Complaints:   d.complaints.Snapshot(),
		Catalog:      d.ledger.Catalog(),
		Redemptions:  d.ledger.Redemptions(),
		Transactions: d.ledger.Transactions(),
		EcoScore:     eco,
		Points:       id.Points,
	}
	for _, r := range d.mine.Snapshot() {
		v.Requests = append(v.Requests, Row{
			Request:     r,
			Delayed:     requests.IsDelayed(r, now),
			CanComplain: d.complaints.CanRaise(r, now),
		})
		v.Total++
		if r.Status == api.StatusCollected {
			v.Collected++
		}
	}
	return v, nil
}

func (d *Dashboard) loadCollector(ctx context.Context, id session.Identity) (View, error) {
	b := newBatch(ctx)
	b.must(d.assigned.Refresh)
	b.may(ctx, PanelProfile, func(ctx context.Context) error {
		_, err := d.session.FetchProfile(ctx)
		return err
	})
	degraded, err := b.wait()
	if err != nil {
		return nil, err
	}
	if fresh, ok := d.session.Identity(); ok {
		id = fresh
	}

	now := d.now()
	v := &CollectorView{base: base{Identity: id, LoadedAt: now, degraded: degraded}}
	for _, r := range d.assigned.Snapshot() {
		v.Requests = append(v.Requests, Row{Request: r, Delayed: requests.IsDelayed(r, now), Next: requests.NextActions(r)})
		switch r.Status {
		case api.StatusPending:
			v.Pending++
		case api.StatusInProgress:
			v.InProgress++
		case api.StatusCollected:
			v.Completed++
		}
	}
	return v, nil
}

func (d *Dashboard) loadAdmin(ctx context.Context, id session.Identity) (View, error) {
	var (
		collectors []api.Collector
		snap       analytics.Snapshot
	)
	b := newBatch(ctx)
	b.must(d.all.Refresh)
	b.must(d.allComplain.Refresh)
	b.must(func(ctx context.Context) (err error) {
		collectors, err = d.client.AdminCollectors(ctx)
		return err
	})
	b.may(ctx, PanelRewards, d.ledger.RefreshAllRedemptions)
	b.may(ctx, PanelAnalytics, func(ctx context.Context) (err error) {
		snap, err = d.analytics.Load(ctx, d.period, 0, d.topUsers)
		return err
	})
	degraded, err := b.wait()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.collectors = collectors
	d.mu.Unlock()

	now := d.now()
	items := d.all.Snapshot()
	v := &AdminView{
		base:        base{Identity: id, LoadedAt: now, degraded: degraded},
		Collectors:  collectors,
		Complaints:  d.allComplain.Snapshot(),
		Redemptions: d.ledger.AllRedemptions(),
		Summary:     requests.Summarize(items, now),
	}
	if !contains(degraded, PanelAnalytics) {
		v.Analytics = &snap
	}
	for _, r := range items {
		sel, _ := d.all.Selection(r.ID)
		v.Requests = append(v.Requests, AdminRow{Request: r, Assignment: r.Assignment(), Delayed: requests.IsDelayed(r, now), Selected: sel})
	}
	return v, nil
}

// Collectors returns the collector list of the last admin load.
func (d *Dashboard) Collectors() []api.Collector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]api.Collector(nil), d.collectors...)
}

func (d *Dashboard) actionContext(ctx context.Context) context.Context {
	return notice.WithRequestID(ctx, ids.RequestID())
}

func (d *Dashboard) report(ctx context.Context, action, success string, err error) error {
	if err != nil {
		d.notifier.Notify(ctx, notice.Failure(ctx, action, err, ""))
		return err
	}
	d.notifier.Notify(ctx, notice.Success(ctx, action, success))
	return nil
}

// Submit creates a pickup request for the session user.
func (d *Dashboard) Submit(ctx context.Context, draft requests.Draft) (api.PickupRequest, error) {
	ctx = d.actionContext(ctx)
	if draft.UserID == 0 {
		if id, ok := d.session.Identity(); ok {
			draft.UserID = id.UserID
		}
	}
	r, err := d.mine.Create(ctx, draft)
	return r, d.report(ctx, ActionSubmit, fmt.Sprintf("Pickup request #%d submitted", r.ID), err)
}

// Advance moves one of the collector's requests to next.
func (d *Dashboard) Advance(ctx context.Context, requestID int64, next api.Status, proof *api.Attachment) (api.PickupRequest, error) {
	ctx = d.actionContext(ctx)
	r, err := d.assigned.AdvanceStatus(ctx, requestID, next, proof)
	return r, d.report(ctx, ActionAdvance, fmt.Sprintf("Request #%d is now %s", requestID, next), err)
}

// Select records the admin's collector choice for a request.
func (d *Dashboard) Select(requestID, collectorID int64) {
	d.all.Select(requestID, collectorID)
}

// Assign sends the selected collector for a request.
func (d *Dashboard) Assign(ctx context.Context, requestID int64) (api.PickupRequest, error) {
	ctx = d.actionContext(ctx)
	var (
		r   api.PickupRequest
		err = ErrRole
	)
	if d.session.IsAdmin() {
		r, err = d.all.Assign(ctx, requestID)
	}
	return r, d.report(ctx, ActionAssign, fmt.Sprintf("Collector assigned to request #%d", requestID), err)
}

// AddCollector creates a collector account (admin).
func (d *Dashboard) AddCollector(ctx context.Context, in api.NewCollector) (api.Collector, error) {
	ctx = d.actionContext(ctx)
	var (
		c   api.Collector
		err = ErrRole
	)
	if d.session.IsAdmin() {
		c, err = d.client.CreateCollector(ctx, in)
	}
	return c, d.report(ctx, ActionAddCollector, fmt.Sprintf("Collector %s created", in.Email), err)
}

// Redeem exchanges points for a catalog reward.
func (d *Dashboard) Redeem(ctx context.Context, rewardID int64) (api.RedeemResult, error) {
	ctx = d.actionContext(ctx)
	reward, ok := d.ledger.Reward(rewardID)
	if !ok {
		if err := d.ledger.RefreshCatalog(ctx); err == nil {
			reward, ok = d.ledger.Reward(rewardID)
		}
	}
	var (
		res api.RedeemResult
		err = ErrUnknownReward
	)
	if ok {
		res, err = d.ledger.Redeem(ctx, reward)
	}
	if errors.Is(err, rewards.ErrInsufficientPoints) {
		d.notifier.Notify(ctx, notice.Failure(ctx, ActionRedeem, err, "Insufficient points for this reward"))
		return res, err
	}
	return res, d.report(ctx, ActionRedeem, fmt.Sprintf("Redeemed %s", reward.Name), err)
}

// Fulfill marks a redemption as handed out (admin).
func (d *Dashboard) Fulfill(ctx context.Context, redemptionID int64) (api.Redemption, error) {
	ctx = d.actionContext(ctx)
	var (
		r   api.Redemption
		err = ErrRole
	)
	if d.session.IsAdmin() {
		r, err = d.ledger.Fulfill(ctx, redemptionID)
	}
	return r, d.report(ctx, ActionFulfill, fmt.Sprintf("Redemption #%d fulfilled", redemptionID), err)
}

// RaiseComplaint files a complaint against one of the user's delayed
// requests.
func (d *Dashboard) RaiseComplaint(ctx context.Context, requestID int64, message string) (api.Complaint, error) {
	ctx = d.actionContext(ctx)
	var (
		c   api.Complaint
		err = ErrUnknownReq
	)
	if r, ok := d.mine.Get(requestID); ok {
		c, err = d.complaints.Raise(ctx, r, message)
	}
	return c, d.report(ctx, ActionComplaint, fmt.Sprintf("Complaint filed for request #%d", requestID), err)
}
