// Package session holds the authenticated identity and bearer credential
// of one client, persists them through a kv.Store and publishes every
// state change to subscribers.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/auth"
	"smartwaste.org/internal/kv"
	"smartwaste.org/internal/obs"
	"smartwaste.org/internal/stream"
)

// Persisted keys.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

const loginFallback = "Login failed. Please check your credentials."

// teardownDeliveryTimeout bounds how long teardown waits on a full
// subscriber.
const teardownDeliveryTimeout = 2 * time.Second

var (
	ErrNoToken          = errors.New("session: no token received")
	ErrNotAuthenticated = errors.New("session: not authenticated")
	ErrNotRegistrable   = errors.New("session: only USER or COLLECTOR accounts can be registered")
	ErrLoggedOut        = errors.New("session: logged out")
)

type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	}
	return "unauthenticated"
}

// Identity is the cached profile of the logged-in account.
type Identity struct {
	UserID int64     `json:"userId"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
	Role   auth.Role `json:"role"`
	Points int       `json:"points"`
}

// Session is a point-in-time copy of the held state.
type Session struct {
	State     State
	Identity  Identity
	Token     string
	ExpiresAt time.Time
}

// Event is published on every transition. Reason is set on teardown.
type Event struct {
	State    State
	Identity *Identity
	Reason   error
}

// Result is the outcome of Login. Message is user-facing.
type Result struct {
	OK       bool
	Message  string
	Err      error
	Identity Identity
}

// Backend is the subset of the API client the session drives.
type Backend interface {
	Login(ctx context.Context, email, password string) (api.LoginResponse, error)
	Register(ctx context.Context, in api.RegisterRequest) (api.RegisterResponse, error)
	Me(ctx context.Context) (api.Profile, error)
}

// Manager owns the single session of a client instance.
type Manager struct {
	backend Backend
	store   kv.Store
	now     func() time.Time
	hub     *stream.Hub[Event]

	mu       sync.RWMutex
	state    State
	token    string
	identity *Identity
}

var _ api.Credentials = (*Manager)(nil)

type Option func(*Manager)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a Manager. When backend accepts credentials (as
// *api.Client does) the manager registers itself as the bearer source.
func NewManager(backend Backend, store kv.Store, opts ...Option) *Manager {
	if store == nil {
		store = kv.NewMemory()
	}
	m := &Manager{
		backend: backend,
		store:   store,
		now:     time.Now,
		hub:     stream.New[Event](),
	}
	for _, opt := range opts {
		opt(m)
	}
	if c, ok := backend.(interface{ UseCredentials(api.Credentials) }); ok {
		c.UseCredentials(m)
	}
	return m
}

// Subscribe streams state changes until ctx ends.
func (m *Manager) Subscribe(ctx context.Context) <-chan Event {
	return m.hub.Subscribe(ctx)
}

// Token returns the held bearer credential, or "".
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Invalidate tears the session down. The API client calls it on 401 and on
// a locally expired credential; repeated calls are no-ops.
func (m *Manager) Invalidate(reason error) {
	m.teardown(context.Background(), reason)
}

// Logout clears the credential and identity, in memory and persisted.
func (m *Manager) Logout(ctx context.Context) {
	m.teardown(ctx, ErrLoggedOut)
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Identity returns a copy of the held identity.
func (m *Manager) Identity() (Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity == nil {
		return Identity{}, false
	}
	return *m.identity, true
}

// Snapshot returns the whole held state.
func (m *Manager) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Session{State: m.state, Token: m.token}
	if m.identity != nil {
		s.Identity = *m.identity
	}
	if exp, err := auth.ExpiresAt(m.token); err == nil {
		s.ExpiresAt = exp
	}
	return s
}

// IsAuthenticated is true iff an identity and a credential are held and
// the credential's exp claim lies in the future.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity != nil && m.token != "" && !auth.Expired(m.token, m.now())
}

func (m *Manager) HasRole(role auth.Role) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity != nil && m.identity.Role == role
}

func (m *Manager) IsAdmin() bool     { return m.HasRole(auth.RoleAdmin) }
func (m *Manager) IsCollector() bool { return m.HasRole(auth.RoleCollector) }
func (m *Manager) IsUser() bool      { return m.HasRole(auth.RoleUser) }

// Login authenticates and then refreshes the profile for the point balance.
// Any failure, the profile fetch included, leaves the manager
// Unauthenticated with nothing persisted.
func (m *Manager) Login(ctx context.Context, email, password string) Result {
	m.mu.Lock()
	m.state = Authenticating
	m.token = ""
	m.identity = nil
	m.mu.Unlock()
	m.hub.Publish(Event{State: Authenticating})

	fail := func(err error) Result {
		m.teardown(ctx, err)
		msg := api.Message(err, loginFallback)
		if errors.Is(err, ErrNoToken) {
			msg = "No token received"
		}
		obs.Warn("login_failed", map[string]any{"email": email, "error": err.Error()})
		return Result{Message: msg, Err: err}
	}

	resp, err := m.backend.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return fail(err)
	}
	if resp.Token == "" {
		return fail(ErrNoToken)
	}
	role, err := auth.ParseRole(resp.Role)
	if err != nil {
		return fail(err)
	}
	initial := Identity{UserID: resp.UserID, Name: resp.Name, Email: resp.Email, Role: role}

	m.mu.Lock()
	m.token = resp.Token
	m.identity = &initial
	m.mu.Unlock()
	m.persist(ctx, resp.Token, initial)

	id, err := m.FetchProfile(ctx)
	if err != nil {
		return fail(err)
	}

	m.mu.Lock()
	if m.token != resp.Token {
		m.mu.Unlock()
		return fail(ErrLoggedOut)
	}
	m.state = Authenticated
	m.mu.Unlock()
	m.hub.Publish(Event{State: Authenticated, Identity: &id})
	obs.Info("login", map[string]any{"user_id": id.UserID, "role": string(id.Role)})
	return Result{OK: true, Identity: id}
}

// FetchProfile replaces the identity from GET /users/me. An unauthorized
// response tears the session down; a network failure keeps it.
func (m *Manager) FetchProfile(ctx context.Context) (Identity, error) {
	if m.Token() == "" {
		return Identity{}, ErrNotAuthenticated
	}
	p, err := m.backend.Me(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			m.teardown(ctx, err)
		}
		return Identity{}, err
	}
	role, err := auth.ParseRole(p.Role)
	if err != nil {
		return Identity{}, fmt.Errorf("session: profile: %w", err)
	}
	id := Identity{UserID: p.UserID, Name: p.Name, Email: p.Email, Role: role, Points: p.Points}

	m.mu.Lock()
	if m.token == "" {
		m.mu.Unlock()
		return Identity{}, ErrNotAuthenticated
	}
	token := m.token
	m.identity = &id
	state := m.state
	m.mu.Unlock()

	m.persist(ctx, token, id)
	if state == Authenticated {
		m.hub.Publish(Event{State: state, Identity: &id})
	}
	return id, nil
}

// Restore loads a persisted session. A present but expired or unreadable
// credential is removed.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	token, hasToken, err := m.store.Get(ctx, KeyToken)
	if err != nil {
		return false, err
	}
	raw, hasUser, err := m.store.Get(ctx, KeyUser)
	if err != nil {
		return false, err
	}
	if hasToken && hasUser && !auth.Expired(token, m.now()) {
		var id Identity
		if err := json.Unmarshal([]byte(raw), &id); err == nil {
			if _, err := auth.ParseRole(string(id.Role)); err == nil {
				m.mu.Lock()
				m.token = token
				m.identity = &id
				m.state = Authenticated
				m.mu.Unlock()
				m.hub.Publish(Event{State: Authenticated, Identity: &id})
				return true, nil
			}
		}
	}
	if hasToken {
		m.clearPersisted(ctx)
	}
	return false, nil
}

// Resume restores a persisted session and verifies it with FetchProfile,
// so the identity reflects the server's current points. A rejected
// credential is torn down; other failures keep the cached identity.
func (m *Manager) Resume(ctx context.Context) (bool, error) {
	ok, err := m.Restore(ctx)
	if err != nil || !ok {
		return false, err
	}
	if _, err := m.FetchProfile(ctx); err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return false, nil
		}
		obs.Warn("session_verify_failed", map[string]any{"error": err.Error()})
	}
	return true, nil
}

// Register creates a USER or COLLECTOR account. ADMIN is rejected locally.
func (m *Manager) Register(ctx context.Context, name, email, password string, role auth.Role) (api.RegisterResponse, error) {
	if !role.Registrable() {
		return api.RegisterResponse{}, ErrNotRegistrable
	}
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name == "" || email == "" {
		return api.RegisterResponse{}, errors.New("session: name and email are required")
	}
	if len(password) < auth.MinPasswordLength {
		return api.RegisterResponse{}, auth.ErrWeakPassword
	}
	return m.backend.Register(ctx, api.RegisterRequest{Name: name, Email: email, Password: password, Role: string(role)})
}

func (m *Manager) teardown(ctx context.Context, reason error) {
	m.mu.Lock()
	held := m.token != "" || m.identity != nil || m.state != Unauthenticated
	m.token = ""
	m.identity = nil
	m.state = Unauthenticated
	m.mu.Unlock()

	m.clearPersisted(ctx)
	if held {
		// Unauthenticated events are never dropped on a full buffer.
		waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownDeliveryTimeout)
		if !m.hub.PublishWait(waitCtx, Event{State: Unauthenticated, Reason: reason}) {
			obs.Warn("session_teardown_undelivered", map[string]any{"reason": fmt.Sprint(reason)})
		}
		cancel()
		obs.Info("session_teardown", map[string]any{"reason": fmt.Sprint(reason)})
	}
}

func (m *Manager) persist(ctx context.Context, token string, id Identity) {
	data, err := json.Marshal(id)
	if err != nil {
		obs.Warn("session_persist_failed", map[string]any{"error": err.Error()})
		return
	}
	if err := m.store.Set(ctx, KeyToken, token); err != nil {
		obs.Warn("session_persist_failed", map[string]any{"key": KeyToken, "error": err.Error()})
	}
	if err := m.store.Set(ctx, KeyUser, string(data)); err != nil {
		obs.Warn("session_persist_failed", map[string]any{"key": KeyUser, "error": err.Error()})
	}
}

func (m *Manager) clearPersisted(ctx context.Context) {
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	for _, key := range []string{KeyToken, KeyUser} {
		if err := m.store.Remove(ctx, key); err != nil {
			obs.Warn("session_clear_failed", map[string]any{"key": key, "error": err.Error()})
		}
	}
}
