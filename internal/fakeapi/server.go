// Package fakeapi is an in-memory stand-in for the smartwaste REST backend.
// It serves the same paths, bodies and error shapes so the client can be
// exercised end to end without the real service.
package fakeapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"smartwaste.org/internal/auth"
	"smartwaste.org/internal/obs"
)

const maxBody = 8 << 20

// Options configures Server. Zero values take the defaults.
type Options struct {
	Secret    []byte
	TokenTTL  time.Duration
	MLOffline bool
	// LoginPerMinute and ReportPerMinute bound calls per client IP.
	LoginPerMinute  int
	ReportPerMinute int
	Clock           func() time.Time
}

// Server is the fake backend.
type Server struct {
	mux     *http.ServeMux
	st      *state
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
	offline atomic.Bool
	login   *ipLimiter
	reports *ipLimiter
}

// New seeds the demo accounts, zones and catalog and registers all routes.
func New(opts Options) (*Server, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("fakeapi: secret is required")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.LoginPerMinute <= 0 {
		opts.LoginPerMinute = 5
	}
	if opts.ReportPerMinute <= 0 {
		opts.ReportPerMinute = 10
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s := &Server{
		mux:     http.NewServeMux(),
		st:      newState(),
		secret:  opts.Secret,
		ttl:     opts.TokenTTL,
		now:     opts.Clock,
		login:   newIPLimiter(opts.LoginPerMinute, time.Minute),
		reports: newIPLimiter(opts.ReportPerMinute, time.Minute),
	}
	s.offline.Store(opts.MLOffline)
	if err := s.st.seed(s.now()); err != nil {
		return nil, err
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	m := s.mux
	m.HandleFunc("GET /healthz", s.handleHealthz)
	m.Handle("GET /metrics", obs.Handler())

	m.Handle("POST /api/auth/login", RateLimit(http.HandlerFunc(s.handleLogin), s.login, "Too many login attempts. Please try again later."))
	m.HandleFunc("POST /api/auth/register", s.handleRegister)
	m.HandleFunc("GET /api/users/me", s.handleMe)

	m.HandleFunc("POST /api/requests/create", requireRole(s.handleCreateRequest, auth.RoleUser, auth.RoleAdmin))
	m.HandleFunc("GET /api/requests/me", s.handleMyRequests)
	m.HandleFunc("GET /api/requests/user/{id}", s.handleUserRequests)
	m.HandleFunc("GET /api/requests/collector/me", requireRole(s.handleAssignedToMe, auth.RoleCollector))
	m.HandleFunc("GET /api/requests/collector/{id}", requireRole(s.handleCollectorRequests, auth.RoleCollector, auth.RoleAdmin))
	m.HandleFunc("PUT /api/requests/updateStatus/{id}", s.handleUpdateStatus)

	admin := func(h http.HandlerFunc) http.HandlerFunc { return requireRole(h, auth.RoleAdmin) }
	m.HandleFunc("GET /api/admin/requests", admin(s.handleAdminRequests))
	m.HandleFunc("GET /api/admin/requests/delayed", admin(s.handleDelayedRequests))
	m.HandleFunc("PUT /api/admin/requests/{id}/assign", admin(s.handleAssign))
	m.HandleFunc("GET /api/admin/collectors", admin(s.handleCollectors))
	m.HandleFunc("POST /api/admin/collectors", admin(s.handleCreateCollector))
	m.HandleFunc("GET /api/admin/collectors/zones", admin(s.handleZones))
	m.HandleFunc("GET /api/admin/users", admin(s.handleUsers))
	m.HandleFunc("GET /api/admin/complaints", admin(s.handleAllComplaints))
	m.HandleFunc("GET /api/admin/rewards/redemptions", admin(s.handleAllRedemptions))
	m.HandleFunc("PUT /api/admin/rewards/redemptions/{id}/fulfill", admin(s.handleFulfill))

	m.HandleFunc("GET /api/rewards/catalog", s.handleCatalog)
	m.HandleFunc("POST /api/rewards/redeem/{id}", requireRole(s.handleRedeem, auth.RoleUser))
	m.HandleFunc("GET /api/rewards/my-redemptions", s.handleMyRedemptions)
	m.HandleFunc("GET /api/rewards/my-transactions", s.handleMyTransactions)

	m.HandleFunc("POST /api/complaints", requireRole(s.handleCreateComplaint, auth.RoleUser, auth.RoleAdmin))
	m.HandleFunc("GET /api/complaints/me", s.handleMyComplaints)

	m.HandleFunc("GET /api/admin/analytics/overview", admin(s.handleOverview))
	m.HandleFunc("GET /api/admin/analytics/waste-by-zone", admin(s.handleWasteByZone))
	m.HandleFunc("GET /api/admin/analytics/waste-by-type", admin(s.handleWasteByType))
	m.HandleFunc("GET /api/admin/analytics/prediction-vs-actual", admin(s.handlePredictionVsActual))
	m.HandleFunc("GET /api/admin/analytics/collector-performance", admin(s.handleCollectorPerformance))
	m.HandleFunc("GET /api/admin/analytics/top-eco-users", admin(s.handleTopEcoUsers))
	for _, kind := range []string{"waste", "users", "collectors"} {
		h := RateLimit(admin(s.reportHandler(kind)), s.reports, "Too many report requests. Please try again later.")
		m.Handle("GET /api/admin/reports/"+kind, h)
	}

	m.HandleFunc("POST /api/ml/predict/waste", s.ml(s.handlePredict))
	m.HandleFunc("GET /api/ml/predictions/zone/{id}", s.handleZonePredictions)
	m.HandleFunc("POST /api/ml/classify/waste", s.ml(s.handleClassify))
	m.HandleFunc("POST /api/ml/classify/waste/{id}", s.ml(s.handleClassify))
	scorer := func(h http.HandlerFunc) http.HandlerFunc { return requireRole(s.ml(h), auth.RoleUser, auth.RoleAdmin) }
	m.HandleFunc("POST /api/ml/score/user", scorer(s.handleCalculateScore))
	m.HandleFunc("GET /api/ml/score/user/{id}", scorer(s.handleGetScore))
	m.HandleFunc("POST /api/ml/score/user/{id}/recalculate", scorer(s.handleRecalculateScore))
}

// Handler returns the full middleware chain around the routes.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withAuth(h)
	h = MaxBodyBytes(h, maxBody)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// SetMLOffline toggles the ML advisory endpoints between serving and 503.
func (s *Server) SetMLOffline(offline bool) { s.offline.Store(offline) }

// Backdate moves a request's creation time age into the past. It reports
// false when the request does not exist.
func (s *Server) Backdate(requestID int64, age time.Duration) bool {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	r, ok := s.st.requests[requestID]
	if !ok {
		return false
	}
	r.CreatedAt = s.now().Add(-age)
	return true
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "smartwaste-fakeapi"})
}

// caller resolves the authenticated account. s.st.mu must be held.
func (s *Server) caller(r *http.Request) (*account, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return nil, false
	}
	acc := s.st.accountByEmail(claims.Subject)
	return acc, acc != nil
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the backend's error envelope.
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"status":    code,
		"error":     http.StatusText(code),
		"message":   msg,
		"path":      r.URL.Path,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	return nil
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	return n, nil
}
