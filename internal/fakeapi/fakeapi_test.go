package fakeapi

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smartwaste.org/internal/api"
)

type testEnv struct {
	t   *testing.T
	srv *Server
	url string
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("test-secret")
	}
	if opts.LoginPerMinute == 0 {
		opts.LoginPerMinute = 100
	}
	if opts.ReportPerMinute == 0 {
		opts.ReportPerMinute = 100
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(hs.Close)
	return &testEnv{t: t, srv: s, url: hs.URL}
}

type tokenCreds string

func (c tokenCreds) Token() string  { return string(c) }
func (tokenCreds) Invalidate(error) {}

// client logs in as email and returns an authenticated API client.
func (e *testEnv) client(email, password string) *api.Client {
	e.t.Helper()
	c := api.New(e.url + "/api")
	resp, err := c.Login(context.Background(), email, password)
	if err != nil {
		e.t.Fatalf("login %s: %v", email, err)
	}
	c.UseCredentials(tokenCreds(resp.Token))
	return c
}

func (e *testEnv) raw(method, path, token string, body any) *http.Response {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.url+path, rd)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("do: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func apiStatus(t *testing.T, err error, want int) *api.Error {
	t.Helper()
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Status != want {
		t.Fatalf("expected status %d, got %v", want, err)
	}
	return apiErr
}

func TestLoginReturnsIdentity(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp, err := api.New(env.url+"/api").Login(context.Background(), "ADMIN@system.com", "Admin@123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Token == "" || resp.Role != "ADMIN" || resp.UserID != 1 || resp.Email != "admin@system.com" {
		t.Fatalf("unexpected login response %+v", resp)
	}
}

func TestLoginFailureUsesErrorEnvelope(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp := env.raw(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "user@system.com", "password": "nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	for _, key := range []string{"timestamp", "status", "error", "message", "path"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("missing %q in %v", key, body)
		}
	}
	if body["message"] != "Invalid credentials" || body["path"] != "/api/auth/login" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t, Options{LoginPerMinute: 2})
	c := api.New(env.url + "/api")
	for i := 0; i < 2; i++ {
		if _, err := c.Login(context.Background(), "user@system.com", "wrong"); api.StatusOf(err) != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %v", i, err)
		}
	}
	_, err := c.Login(context.Background(), "user@system.com", "User@123")
	apiErr := apiStatus(t, err, http.StatusTooManyRequests)
	if apiErr.Message != "Too many login attempts. Please try again later." {
		t.Fatalf("unexpected message %q", apiErr.Message)
	}
	if !errors.Is(err, api.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited class")
	}
}

func TestRegisterRules(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := api.New(env.url + "/api")
	ctx := context.Background()

	cases := []struct {
		name    string
		in      api.RegisterRequest
		status  int
		message string
		role    string
	}{
		{"admin refused", api.RegisterRequest{Name: "Eve", Email: "eve@example.com", Password: "secret1", Role: "ADMIN"}, http.StatusForbidden, "Admin accounts cannot be created through registration", ""},
		{"duplicate email", api.RegisterRequest{Name: "Dup", Email: "user@system.com", Password: "secret1", Role: "USER"}, http.StatusConflict, "Email already registered", ""},
		{"short password", api.RegisterRequest{Name: "Shorty", Email: "short@example.com", Password: "abc", Role: "USER"}, http.StatusBadRequest, "", ""},
		{"unknown role defaults to user", api.RegisterRequest{Name: "Neha", Email: "neha@example.com", Password: "secret1", Role: "MANAGER"}, 0, "", "USER"},
		{"collector", api.RegisterRequest{Name: "Vik", Email: "vik@example.com", Password: "secret1", Role: "collector"}, 0, "", "COLLECTOR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := c.Register(ctx, tc.in)
			if tc.status != 0 {
				apiErr := apiStatus(t, err, tc.status)
				if tc.message != "" && apiErr.Message != tc.message {
					t.Fatalf("message = %q", apiErr.Message)
				}
				return
			}
			if err != nil {
				t.Fatalf("Register: %v", err)
			}
			if out.Role != tc.role || out.UserID == 0 {
				t.Fatalf("unexpected response %+v", out)
			}
		})
	}

	if _, err := c.Login(ctx, "neha@example.com", "secret1"); err != nil {
		t.Fatalf("registered user cannot log in: %v", err)
	}
}

func TestAuthGate(t *testing.T) {
	env := newTestEnv(t, Options{})
	if resp := env.raw(http.MethodGet, "/api/users/me", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp := env.raw(http.MethodGet, "/api/users/me", "garbage", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}

	user := env.client("user@system.com", "User@123")
	_, err := user.AdminRequests(context.Background())
	apiStatus(t, err, http.StatusForbidden)

	me, err := user.Me(context.Background())
	if err != nil || me.Role != "USER" || me.Email != "user@system.com" {
		t.Fatalf("Me = %+v, %v", me, err)
	}
}

func TestRequestLifecycleAwardsPointsOnce(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	user := env.client("user@system.com", "User@123")
	admin := env.client("admin@system.com", "Admin@123")
	collector := env.client("karan@example.com", "Collector@123")

	created, err := user.CreateRequest(ctx, api.NewRequest{ZoneID: 3, Category: api.CategoryOrganic, WeightKg: 3, Address: "4 Lake Rd", Image: &api.Attachment{Name: "bin.jpg", Data: []byte("jpg")}})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if created.Status != api.StatusPending || created.CollectorID != nil || created.ImageURL == "" {
		t.Fatalf("unexpected created request %+v", created)
	}

	_, err = collector.UpdateStatus(ctx, created.ID, api.StatusInProgress, nil)
	if apiErr := apiStatus(t, err, http.StatusForbidden); apiErr.Message != "Request is not assigned to this collector" {
		t.Fatalf("message = %q", apiErr.Message)
	}

	assigned, err := admin.AssignCollector(ctx, created.ID, 7)
	if err != nil {
		t.Fatalf("AssignCollector: %v", err)
	}
	if assigned.Assignment() != api.Assigned || *assigned.CollectorID != 7 || assigned.CollectorName != "Karan Shah" {
		t.Fatalf("unexpected assignment %+v", assigned)
	}

	_, err = user.UpdateStatus(ctx, created.ID, api.StatusInProgress, nil)
	if apiErr := apiStatus(t, err, http.StatusForbidden); apiErr.Message != "Users cannot modify request status" {
		t.Fatalf("message = %q", apiErr.Message)
	}
	_, err = collector.UpdateStatus(ctx, created.ID, api.StatusCollected, nil)
	if apiErr := apiStatus(t, err, http.StatusBadRequest); apiErr.Message != "Invalid status transition for collector: PENDING -> COLLECTED" {
		t.Fatalf("message = %q", apiErr.Message)
	}

	if _, err := collector.UpdateStatus(ctx, created.ID, api.StatusInProgress, nil); err != nil {
		t.Fatalf("IN_PROGRESS: %v", err)
	}
	done, err := collector.UpdateStatus(ctx, created.ID, api.StatusCollected, &api.Attachment{Name: "proof.jpg", Data: []byte("p")})
	if err != nil {
		t.Fatalf("COLLECTED: %v", err)
	}
	if done.RewardPoints != 12 || done.CollectedTime.IsZero() || done.ProofURL == "" {
		t.Fatalf("unexpected collected request %+v", done)
	}

	_, err = collector.UpdateStatus(ctx, created.ID, api.StatusRejected, nil)
	if apiErr := apiStatus(t, err, http.StatusBadRequest); apiErr.Message != "Cannot modify a completed or closed request" {
		t.Fatalf("message = %q", apiErr.Message)
	}
	_, err = admin.AssignCollector(ctx, created.ID, 5)
	apiStatus(t, err, http.StatusBadRequest)

	me, err := user.Me(ctx)
	if err != nil || me.Points != 12 {
		t.Fatalf("points = %d, %v", me.Points, err)
	}
	txs, err := user.MyTransactions(ctx)
	if err != nil || len(txs) != 1 {
		t.Fatalf("transactions = %+v, %v", txs, err)
	}
	if txs[0].Type != api.TransactionAdd || txs[0].Description != "Waste request #1 (ORGANIC) collected - 12 points" {
		t.Fatalf("unexpected transaction %+v", txs[0])
	}

	mine, err := collector.RequestsAssignedToMe(ctx)
	if err != nil || len(mine) != 1 {
		t.Fatalf("assigned = %+v, %v", mine, err)
	}
	// A collector asking for another collector's list gets its own.
	other, err := collector.RequestsByCollector(ctx, 5)
	if err != nil || len(other) != 1 || other[0].ID != created.ID {
		t.Fatalf("by collector = %+v, %v", other, err)
	}
}

func TestAssignValidation(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	admin := env.client("admin@system.com", "Admin@123")

	_, err := admin.AssignCollector(ctx, 99, 7)
	if apiErr := apiStatus(t, err, http.StatusNotFound); apiErr.Message != "Request not found: 99" {
		t.Fatalf("message = %q", apiErr.Message)
	}
	req, err := admin.CreateRequest(ctx, api.NewRequest{UserID: 2, ZoneID: 1, Category: api.CategoryPaper, WeightKg: 1, Address: "x"})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if req.UserID != 2 {
		t.Fatalf("admin create on behalf of user 2, got owner %d", req.UserID)
	}
	_, err = admin.AssignCollector(ctx, req.ID, 2)
	if apiErr := apiStatus(t, err, http.StatusNotFound); apiErr.Message != "Collector not found: 2" {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestRedeemAndFulfill(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.srv.st.mu.Lock()
	env.srv.st.accounts[2].Points = 60
	env.srv.st.mu.Unlock()

	user := env.client("user@system.com", "User@123")
	admin := env.client("admin@system.com", "Admin@123")

	res, err := user.Redeem(ctx, 1)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if res.UpdatedPoints != 10 || res.Status != api.RedemptionRequested || res.RewardName != "Reusable Tote Bag" {
		t.Fatalf("unexpected redeem result %+v", res)
	}
	_, err = user.Redeem(ctx, 1)
	if apiErr := apiStatus(t, err, http.StatusBadRequest); !strings.HasPrefix(apiErr.Message, "Insufficient points") {
		t.Fatalf("message = %q", apiErr.Message)
	}

	all, err := admin.AllRedemptions(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("all = %+v, %v", all, err)
	}
	if all[0].RewardName != "Reusable Tote Bag" || all[0].UserEmail != "user@system.com" {
		t.Fatalf("nested form not flattened: %+v", all[0])
	}
	done, err := admin.FulfillRedemption(ctx, all[0].ID)
	if err != nil || done.Status != api.RedemptionFulfilled || done.FulfilledAt.IsZero() {
		t.Fatalf("fulfill = %+v, %v", done, err)
	}
	_, err = admin.FulfillRedemption(ctx, all[0].ID)
	apiStatus(t, err, http.StatusBadRequest)

	txs, err := user.MyTransactions(ctx)
	if err != nil || len(txs) != 1 || txs[0].Delta() != -50 {
		t.Fatalf("transactions = %+v, %v", txs, err)
	}
	mine, err := user.MyRedemptions(ctx)
	if err != nil || len(mine) != 1 || mine[0].RewardID != 1 {
		t.Fatalf("my redemptions = %+v, %v", mine, err)
	}
}

func TestComplaintsAreOwnerScoped(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	user := env.client("user@system.com", "User@123")
	other := env.client("asha@example.com", "User@123")
	admin := env.client("admin@system.com", "Admin@123")

	req, err := user.CreateRequest(ctx, api.NewRequest{ZoneID: 2, Category: api.CategoryMetal, WeightKg: 5, Address: "9 Hill St"})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	_, err = other.CreateComplaint(ctx, api.NewComplaint{RequestID: req.ID, Message: "late"})
	apiStatus(t, err, http.StatusForbidden)

	c, err := user.CreateComplaint(ctx, api.NewComplaint{RequestID: req.ID, Message: "Still waiting"})
	if err != nil {
		t.Fatalf("CreateComplaint: %v", err)
	}
	if c.RequestID != req.ID || c.UserEmail != "user@system.com" || c.Status != "OPEN" {
		t.Fatalf("unexpected complaint %+v", c)
	}
	mine, err := user.MyComplaints(ctx)
	if err != nil || len(mine) != 1 {
		t.Fatalf("mine = %+v, %v", mine, err)
	}
	all, err := admin.AllComplaints(ctx)
	if err != nil || len(all) != 1 || all[0].UserName != "Demo User" {
		t.Fatalf("all = %+v, %v", all, err)
	}
}

func TestDelayedRequests(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	user := env.client("user@system.com", "User@123")
	admin := env.client("admin@system.com", "Admin@123")

	fresh, _ := user.CreateRequest(ctx, api.NewRequest{ZoneID: 1, Category: api.CategoryPlastic, WeightKg: 1, Address: "a"})
	old, _ := user.CreateRequest(ctx, api.NewRequest{ZoneID: 1, Category: api.CategoryPlastic, WeightKg: 1, Address: "b"})
	if !env.srv.Backdate(old.ID, 49*time.Hour) {
		t.Fatalf("Backdate failed")
	}
	delayed, err := admin.AdminDelayedRequests(ctx)
	if err != nil {
		t.Fatalf("AdminDelayedRequests: %v", err)
	}
	if len(delayed) != 1 || delayed[0].ID != old.ID || delayed[0].ID == fresh.ID {
		t.Fatalf("delayed = %+v", delayed)
	}
}

func TestEcoScoreRule(t *testing.T) {
	cases := []struct {
		name string
		in   api.EcoScoreInput
		want int
	}{
		{"empty", api.EcoScoreInput{}, 7},
		{"typical", api.EcoScoreInput{UserActivity: 10, SegregationAccuracy: 80, RequestFrequency: 3, AvgWeight: 4}, 59},
		{"capped", api.EcoScoreInput{UserActivity: 50, SegregationAccuracy: 100, RequestFrequency: 12, AvgWeight: 12}, 100},
		{"boundaries", api.EcoScoreInput{UserActivity: 1, RequestFrequency: 5, AvgWeight: 2}, 22},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got, _ := ecoScoreOf(tc.in); got != tc.want {
				t.Fatalf("ecoScoreOf(%+v) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestClassifyKeywords(t *testing.T) {
	if c, conf := classify("old phone battery and charger", ""); c != api.CategoryEWaste || conf < 0.85 {
		t.Fatalf("classify = %s %.2f", c, conf)
	}
	if c, conf := classify("mixed stuff", "paper"); c != api.CategoryPaper || conf != 0.5 {
		t.Fatalf("hint fallback = %s %.2f", c, conf)
	}
}

func TestMLOffline(t *testing.T) {
	env := newTestEnv(t, Options{MLOffline: true})
	ctx := context.Background()
	user := env.client("user@system.com", "User@123")

	_, err := user.MLClassify(ctx, api.ClassificationInput{Description: "plastic bottle"})
	apiErr := apiStatus(t, err, http.StatusServiceUnavailable)
	if !strings.HasPrefix(apiErr.Message, "ML advisory service is currently offline") {
		t.Fatalf("message = %q", apiErr.Message)
	}

	env.srv.SetMLOffline(false)
	got, err := user.MLClassify(ctx, api.ClassificationInput{Description: "plastic bottle"})
	if err != nil || got.WasteType != "PLASTIC" {
		t.Fatalf("classify = %+v, %v", got, err)
	}
	score, err := user.MLEcoScore(ctx, 2)
	if err != nil || score.UserID != 2 || score.EcoScore != 7 {
		t.Fatalf("eco score = %+v, %v", score, err)
	}
	calc, err := user.MLCalculateEcoScore(ctx, api.EcoScoreInput{UserID: 2, UserActivity: 10, SegregationAccuracy: 80, RequestFrequency: 3, AvgWeight: 4})
	if err != nil || calc.EcoScore != 59 || calc.Breakdown == nil || calc.Breakdown.FrequencyScore != 10 {
		t.Fatalf("calculate = %+v, %v", calc, err)
	}
}

func TestReportsCSVAndRateLimit(t *testing.T) {
	env := newTestEnv(t, Options{ReportPerMinute: 1})
	ctx := context.Background()
	admin := env.client("admin@system.com", "Admin@123")

	data, err := admin.Report(ctx, api.ReportCollectors, api.Filter{})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if strings.Join(records[0], "|") != strings.Join(reportHeaders["collectors"], "|") {
		t.Fatalf("header = %v", records[0])
	}
	if len(records) != 4 {
		t.Fatalf("expected 3 collector rows, got %d", len(records)-1)
	}

	_, err = admin.Report(ctx, api.ReportWaste, api.Filter{})
	if apiErr := apiStatus(t, err, http.StatusTooManyRequests); apiErr.Message != "Too many report requests. Please try again later." {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

func TestAnalyticsOverview(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	admin := env.client("admin@system.com", "Admin@123")

	ov, err := admin.AnalyticsOverview(ctx, api.Filter{})
	if err != nil {
		t.Fatalf("AnalyticsOverview: %v", err)
	}
	if ov.TotalUsers != len(seedAccounts) || ov.TotalCollectors != 3 || ov.TotalRequests != 0 {
		t.Fatalf("unexpected overview %+v", ov)
	}
	_, err = admin.AnalyticsWasteByZone(ctx, api.Filter{Start: time.Now(), End: time.Now().AddDate(0, 0, 1)})
	if err != nil {
		t.Fatalf("AnalyticsWasteByZone: %v", err)
	}
}
