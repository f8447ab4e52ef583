package fakeapi

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/auth"
)

type account struct {
	ID        int64
	Name      string
	Email     string
	Hash      string
	Role      auth.Role
	Points    int
	CreatedAt time.Time
}

type collectorProfile struct {
	ID            int64
	Contact       string
	VehicleNumber string
	ZoneID        int64
	Active        bool
}

type request struct {
	ID            int64
	UserID        int64
	CollectorID   *int64
	ZoneID        int64
	Category      api.Category
	WeightKg      float64
	Address       string
	Status        api.Status
	RewardPoints  int
	ImageName     string
	ProofName     string
	CreatedAt     time.Time
	CollectedTime time.Time
}

type complaint struct {
	ID        int64
	RequestID int64
	UserID    int64
	Message   string
	Status    string
	CreatedAt time.Time
}

type redemption struct {
	ID          int64
	RewardID    int64
	UserID      int64
	PointsUsed  int
	Status      api.RedemptionStatus
	CreatedAt   time.Time
	FulfilledAt time.Time
}

type transaction struct {
	ID          int64
	UserID      int64
	RequestID   *int64
	PointsAdded int
	PointsSpent int
	Type        api.TransactionType
	Description string
	CreatedAt   time.Time
}

type ecoScore struct {
	ID        int64
	Input     api.EcoScoreInput
	Score     int
	Breakdown api.EcoBreakdown
	At        time.Time
}

// state is the whole in-memory backend. All access goes through mu.
type state struct {
	mu sync.Mutex

	accounts     map[int64]*account
	collectors   map[int64]*collectorProfile
	zones        []api.Zone
	requests     map[int64]*request
	complaints   []*complaint
	rewards      []api.Reward
	redemptions  map[int64]*redemption
	transactions []*transaction
	predictions  []api.Prediction
	scores       map[int64]*ecoScore

	nextAccount     int64
	nextRequest     int64
	nextComplaint   int64
	nextRedemption  int64
	nextTransaction int64
	nextPrediction  int64
	nextScore       int64
	nextClassify    int64
}

func newState() *state {
	return &state{
		accounts:        make(map[int64]*account),
		collectors:      make(map[int64]*collectorProfile),
		requests:        make(map[int64]*request),
		redemptions:     make(map[int64]*redemption),
		scores:          make(map[int64]*ecoScore),
		nextAccount:     1,
		nextRequest:     1,
		nextComplaint:   1,
		nextRedemption:  1,
		nextTransaction: 1,
		nextPrediction:  1,
		nextScore:       1,
		nextClassify:    1,
	}
}

// Seed accounts. Collector ids equal their account ids.
type seedAccount struct {
	name, email, password string
	role                  auth.Role
	zoneID                int64
	vehicle               string
}

var seedAccounts = []seedAccount{
	{name: "System Admin", email: "admin@system.com", password: "Admin@123", role: auth.RoleAdmin},
	{name: "Demo User", email: "user@system.com", password: "User@123", role: auth.RoleUser},
	{name: "Asha Verma", email: "asha@example.com", password: "User@123", role: auth.RoleUser},
	{name: "Ravi Iyer", email: "ravi@example.com", password: "User@123", role: auth.RoleUser},
	{name: "Demo Collector", email: "collector@system.com", password: "Collector@123", role: auth.RoleCollector, zoneID: 1, vehicle: "KA-01-1234"},
	{name: "Meera Nair", email: "meera@example.com", password: "Collector@123", role: auth.RoleCollector, zoneID: 2, vehicle: "KA-02-4521"},
	{name: "Karan Shah", email: "karan@example.com", password: "Collector@123", role: auth.RoleCollector, zoneID: 3, vehicle: "KA-03-7788"},
}

func (s *state) seed(now time.Time) error {
	s.zones = []api.Zone{
		{ID: 1, Name: "Central", City: "Bengaluru", State: "Karnataka"},
		{ID: 2, Name: "North", City: "Bengaluru", State: "Karnataka"},
		{ID: 3, Name: "East", City: "Bengaluru", State: "Karnataka"},
		{ID: 4, Name: "South", City: "Bengaluru", State: "Karnataka"},
	}
	s.rewards = []api.Reward{
		{ID: 1, Name: "Reusable Tote Bag", Details: "Cotton tote made from recycled fibre", PointsRequired: 50, Active: true},
		{ID: 2, Name: "Compost Starter Kit", Details: "Bin, starter culture and guide", PointsRequired: 150, Active: true},
		{ID: 3, Name: "Metro Card Top-up", Details: "Rs 200 transit credit", PointsRequired: 300, Active: true},
		{ID: 4, Name: "Tree Planting Certificate", Details: "One sapling planted in your name", PointsRequired: 500, Active: true},
	}
	for _, sa := range seedAccounts {
		hash, err := auth.HashPassword(sa.password)
		if err != nil {
			return err
		}
		acc := s.addAccount(sa.name, sa.email, hash, sa.role, now)
		if sa.role == auth.RoleCollector {
			s.collectors[acc.ID] = &collectorProfile{ID: acc.ID, ZoneID: sa.zoneID, VehicleNumber: sa.vehicle, Contact: fmt.Sprintf("+91-80-5550-%04d", acc.ID), Active: true}
		}
	}
	s.predictions = []api.Prediction{
		{ID: 1, ZoneID: 1, PredictedWasteKg: 120.5, HistoricalWasteKg: 110, DayOfWeek: 1, Month: int(now.Month()), PredictionDate: api.NewTime(now.AddDate(0, 0, -1))},
		{ID: 2, ZoneID: 3, PredictedWasteKg: 86.2, HistoricalWasteKg: 80, DayOfWeek: 1, Month: int(now.Month()), PredictionDate: api.NewTime(now.AddDate(0, 0, -1))},
	}
	s.nextPrediction = 3
	return nil
}

func (s *state) addAccount(name, email, hash string, role auth.Role, now time.Time) *account {
	acc := &account{ID: s.nextAccount, Name: name, Email: strings.ToLower(email), Hash: hash, Role: role, CreatedAt: now}
	s.nextAccount++
	s.accounts[acc.ID] = acc
	return acc
}

func (s *state) addTransaction(t *transaction) {
	t.ID = s.nextTransaction
	s.nextTransaction++
	s.transactions = append(s.transactions, t)
}

func (s *state) accountByEmail(email string) *account {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range s.accounts {
		if a.Email == email {
			return a
		}
	}
	return nil
}

func (s *state) zone(id int64) (api.Zone, bool) {
	for _, z := range s.zones {
		if z.ID == id {
			return z, true
		}
	}
	return api.Zone{}, false
}

func (s *state) reward(id int64) (api.Reward, bool) {
	for _, r := range s.rewards {
		if r.ID == id {
			return r, true
		}
	}
	return api.Reward{}, false
}

func (s *state) sortedRequests(keep func(*request) bool) []*request {
	out := make([]*request, 0, len(s.requests))
	for _, r := range s.requests {
		if keep == nil || keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) sortedAccounts() []*account {
	out := make([]*account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) sortedRedemptions(keep func(*redemption) bool) []*redemption {
	out := make([]*redemption, 0, len(s.redemptions))
	for _, r := range s.redemptions {
		if keep == nil || keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// pointsFor is 10 base points times the category multiplier.
func pointsFor(c api.Category) int {
	switch c {
	case api.CategoryOrganic:
		return 12
	case api.CategoryEWaste:
		return 20
	}
	return 10
}

// Wire forms.

func (s *state) requestJSON(r *request, detailed bool) api.PickupRequest {
	out := api.PickupRequest{
		ID:            r.ID,
		UserID:        r.UserID,
		CollectorID:   r.CollectorID,
		ZoneID:        r.ZoneID,
		Category:      r.Category,
		WeightKg:      r.WeightKg,
		Address:       r.Address,
		Status:        r.Status,
		RewardPoints:  r.RewardPoints,
		CreatedAt:     api.NewTime(r.CreatedAt),
		CollectedTime: api.NewTime(r.CollectedTime),
	}
	if r.ImageName != "" {
		out.ImageURL = "uploads/requests/" + r.ImageName
	}
	if r.ProofName != "" {
		out.ProofURL = "uploads/proof/" + r.ProofName
	}
	if detailed {
		if u := s.accounts[r.UserID]; u != nil {
			out.UserName, out.UserEmail = u.Name, u.Email
		}
		if r.CollectorID != nil {
			if c := s.accounts[*r.CollectorID]; c != nil {
				out.CollectorName = c.Name
			}
			out.DisplayStatus = string(api.Assigned)
		} else {
			out.DisplayStatus = string(api.Unassigned)
		}
		if z, ok := s.zone(r.ZoneID); ok {
			out.ZoneName = z.Name
		}
	}
	return out
}

type userRefJSON struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type complaintJSON struct {
	ID        int64       `json:"complaintId"`
	Message   string      `json:"message"`
	Status    string      `json:"status"`
	CreatedAt api.Time    `json:"createdAt"`
	User      userRefJSON `json:"user"`
	Request   struct {
		RequestID int64 `json:"requestId"`
	} `json:"request"`
}

func (s *state) complaintJSON(c *complaint) complaintJSON {
	out := complaintJSON{ID: c.ID, Message: c.Message, Status: c.Status, CreatedAt: api.NewTime(c.CreatedAt)}
	out.Request.RequestID = c.RequestID
	if u := s.accounts[c.UserID]; u != nil {
		out.User = userRefJSON{UserID: u.ID, Name: u.Name, Email: u.Email}
	}
	return out
}

type redemptionJSON struct {
	ID          int64                `json:"redemptionId"`
	PointsUsed  int                  `json:"pointsUsed"`
	Status      api.RedemptionStatus `json:"status"`
	CreatedAt   api.Time             `json:"createdAt"`
	FulfilledAt api.Time             `json:"fulfilledAt"`
	RewardID    int64                `json:"rewardId,omitempty"`
	RewardName  string               `json:"rewardName,omitempty"`
	Reward      *struct {
		RewardID   int64  `json:"rewardId"`
		RewardName string `json:"rewardName"`
	} `json:"reward,omitempty"`
	User *userRefJSON `json:"user,omitempty"`
}

// redemptionJSON renders the flat user form, or the nested admin form.
func (s *state) redemptionJSON(r *redemption, nested bool) redemptionJSON {
	out := redemptionJSON{ID: r.ID, PointsUsed: r.PointsUsed, Status: r.Status, CreatedAt: api.NewTime(r.CreatedAt), FulfilledAt: api.NewTime(r.FulfilledAt)}
	rw, _ := s.reward(r.RewardID)
	if !nested {
		out.RewardID, out.RewardName = rw.ID, rw.Name
		return out
	}
	out.Reward = &struct {
		RewardID   int64  `json:"rewardId"`
		RewardName string `json:"rewardName"`
	}{rw.ID, rw.Name}
	if u := s.accounts[r.UserID]; u != nil {
		out.User = &userRefJSON{UserID: u.ID, Name: u.Name, Email: u.Email}
	}
	return out
}

func (s *state) transactionJSON(t *transaction) api.Transaction {
	return api.Transaction{
		ID:          t.ID,
		RequestID:   t.RequestID,
		PointsAdded: t.PointsAdded,
		PointsSpent: t.PointsSpent,
		Type:        t.Type,
		Description: t.Description,
		CreatedAt:   api.NewTime(t.CreatedAt),
	}
}

func (s *state) collectorJSON(id int64) (api.Collector, bool) {
	acc, c := s.accounts[id], s.collectors[id]
	if acc == nil || c == nil {
		return api.Collector{}, false
	}
	out := api.Collector{ID: id, Name: acc.Name, Email: acc.Email, Contact: c.Contact, VehicleNumber: c.VehicleNumber, Active: c.Active}
	if z, ok := s.zone(c.ZoneID); ok {
		out.Zone = &z
	}
	return out, true
}
