package fakeapi

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/auth"
	"smartwaste.org/internal/obs"
)

// delayAfter is the age at which an open request counts as overdue.
const delayAfter = 48 * time.Hour

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, "multipart form expected")
		return
	}
	zoneID, err := strconv.ParseInt(r.FormValue("zoneId"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "zoneId is required")
		return
	}
	category, err := api.ParseCategory(r.FormValue("wasteType"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid waste type: "+r.FormValue("wasteType"))
		return
	}
	weight, err := strconv.ParseFloat(r.FormValue("weightKg"), 64)
	if err != nil || weight <= 0 {
		writeError(w, r, http.StatusBadRequest, "Weight must be greater than 0")
		return
	}
	address := strings.TrimSpace(r.FormValue("pickupAddress"))
	if address == "" {
		writeError(w, r, http.StatusBadRequest, "Pickup address is required")
		return
	}
	var imageName string
	if _, header, err := r.FormFile("image"); err == nil {
		imageName = filepath.Base(header.Filename)
	}

	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	acc, ok := s.caller(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "User not found")
		return
	}
	owner := acc.ID
	if raw := r.FormValue("userId"); raw != "" && acc.Role == auth.RoleAdmin {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || s.st.accounts[id] == nil {
			writeError(w, r, http.StatusNotFound, "User not found: "+raw)
			return
		}
		owner = id
	}
	if _, ok := s.st.zone(zoneID); !ok {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Zone not found: %d", zoneID))
		return
	}

	req := &request{
		ID:        s.st.nextRequest,
		UserID:    owner,
		ZoneID:    zoneID,
		Category:  category,
		WeightKg:  weight,
		Address:   address,
		Status:    api.StatusPending,
		CreatedAt: s.now(),
	}
	if imageName != "" {
		req.ImageName = fmt.Sprintf("%d_%s", req.ID, imageName)
	}
	s.st.nextRequest++
	s.st.requests[req.ID] = req
	obs.Info("request_created", map[string]any{"request_id": RequestIDFromContext(r.Context()), "pickup_id": req.ID, "user_id": owner})
	writeJSON(w, http.StatusCreated, s.st.requestJSON(req, false))
}

func (s *Server) handleMyRequests(w http.ResponseWriter, r *http.Request) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	acc, ok := s.caller(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "User not found")
		return
	}
	s.writeRequests(w, func(q *request) bool { return q.UserID == acc.ID }, false)
}

func (s *Server) handleUserRequests(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid user id")
		return
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	acc, ok := s.caller(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "User not found")
		return
	}
	if acc.ID != id && acc.Role != auth.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "You can only view your own requests")
		return
	}
	s.writeRequests(w, func(q *request) bool { return q.UserID == id }, false)
}

func (s *Server) handleAssignedToMe(w http.ResponseWriter, r *http.Request) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	acc, ok := s.caller(r)
	if !ok || s.st.collectors[acc.ID] == nil {
		writeError(w, r, http.StatusNotFound, "Collector profile not found")
		return
	}
	s.writeRequests(w, assignedTo(acc.ID), false)
}

// handleCollectorRequests lists by collector id. A collector always gets
// its own list whatever id it asked for.
func (s *Server) handleCollectorRequests(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid collector id")
		return
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	acc, ok := s.caller(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "User not found")
		return
	}
	if acc.Role == auth.RoleCollector {
		id = acc.ID
	}
	if s.st.collectors[id] == nil {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Collector not found: %d", id))
		return
	}
	s.writeRequests(w, assignedTo(id), false)
}

func assignedTo(collectorID int64) func(*request) bool {
	return func(q *request) bool { return q.CollectorID != nil && *q.CollectorID == collectorID }
}

// writeRequests renders the matching requests. s.st.mu must be held.
func (s *Server) writeRequests(w http.ResponseWriter, keep func(*request) bool, detailed bool) {
	rows := s.st.sortedRequests(keep)
	out := make([]api.PickupRequest, 0, len(rows))
	for _, q := range rows {
		out = append(out, s.st.requestJSON(q, detailed))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid request id")
		return
	}
	if err := r.ParseMultipartForm(maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, "multipart form expected")
		return
	}
	raw := r.FormValue("status")
	next, err := api.ParseStatus(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid status: "+raw)
		return
	}
	var proofName string
	if _, header, err := r.FormFile("proof"); err == nil {
		proofName = filepath.Base(header.Filename)
	}

	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	acc, ok := s.caller(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "User not found")
		return
	}
	switch acc.Role {
	case auth.RoleUser:
		writeError(w, r, http.StatusForbidden, "Users cannot modify request status")
		return
	case auth.RoleAdmin:
		writeError(w, r, http.StatusForbidden, "Admins cannot change request status in this phase")
		return
	}
	req, ok := s.st.requests[id]
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Request not found: %d", id))
		return
	}
	if req.CollectorID == nil || *req.CollectorID != acc.ID {
		writeError(w, r, http.StatusForbidden, "Request is not assigned to this collector")
		return
	}
	if !req.Status.Open() {
		writeError(w, r, http.StatusBadRequest, "Cannot modify a completed or closed request")
		return
	}
	if !collectorMayMove(req.Status, next) {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid status transition for collector: %s -> %s", req.Status, next))
		return
	}

	prev := req.Status
	req.Status = next
	if proofName != "" {
		req.ProofName = fmt.Sprintf("%d_%s", req.ID, proofName)
	}
	if prev == api.StatusInProgress && next == api.StatusCollected {
		req.CollectedTime = s.now()
		s.awardLocked(req)
	}
	obs.Info("request_status_changed", map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"pickup_id":  req.ID,
		"from":       string(prev),
		"to":         string(next),
	})
	writeJSON(w, http.StatusOK, s.st.requestJSON(req, false))
}

func collectorMayMove(from, to api.Status) bool {
	switch from {
	case api.StatusPending:
		return to == api.StatusInProgress
	case api.StatusInProgress:
		return to == api.StatusCollected || to == api.StatusRejected
	}
	return false
}

// awardLocked credits the owner once per request.
func (s *Server) awardLocked(req *request) {
	if req.RewardPoints > 0 {
		return
	}
	owner := s.st.accounts[req.UserID]
	if owner == nil {
		return
	}
	points := pointsFor(req.Category)
	req.RewardPoints = points
	owner.Points += points
	rid := req.ID
	s.st.addTransaction(&transaction{
		UserID:      owner.ID,
		RequestID:   &rid,
		PointsAdded: points,
		Type:        api.TransactionAdd,
		Description: fmt.Sprintf("Waste request #%d (%s) collected - %d points", req.ID, req.Category, points),
		CreatedAt:   s.now(),
	})
}

func (s *Server) handleAdminRequests(w http.ResponseWriter, r *http.Request) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.writeRequests(w, nil, true)
}

func (s *Server) handleDelayedRequests(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.writeRequests(w, func(q *request) bool {
		return q.Status.Open() && now.Sub(q.CreatedAt) >= delayAfter
	}, true)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid request id")
		return
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	req, ok := s.st.requests[id]
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Request not found: %d", id))
		return
	}
	raw := r.URL.Query().Get("collectorId")
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "collectorId is required")
		return
	}
	collectorID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || s.st.collectors[collectorID] == nil {
		writeError(w, r, http.StatusNotFound, "Collector not found: "+raw)
		return
	}
	if !req.Status.Open() {
		writeError(w, r, http.StatusBadRequest, "Cannot assign a completed/closed request")
		return
	}
	req.CollectorID = &collectorID
	obs.Info("request_assigned", map[string]any{
		"request_id":   RequestIDFromContext(r.Context()),
		"pickup_id":    req.ID,
		"collector_id": collectorID,
	})
	writeJSON(w, http.StatusOK, s.st.requestJSON(req, true))
}

func (s *Server) handleCollectors(w http.ResponseWriter, r *http.Request) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := make([]api.Collector, 0, len(s.st.collectors))
	for _, acc := range s.st.sortedAccounts() {
		if c, ok := s.st.collectorJSON(acc.ID); ok {
			out = append(out, c)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCollector(w http.ResponseWriter, r *http.Request) {
	var req api.NewCollector
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Name, req.Email = strings.TrimSpace(req.Name), strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" {
		writeError(w, r, http.StatusBadRequest, "Name and email are required")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.st.accountByEmail(req.Email) != nil {
		writeError(w, r, http.StatusConflict, "Email already registered")
		return
	}
	var zoneID int64
	if req.ZoneID != nil {
		if _, ok := s.st.zone(*req.ZoneID); !ok {
			writeError(w, r, http.StatusNotFound, fmt.Sprintf("Zone not found: %d", *req.ZoneID))
			return
		}
		zoneID = *req.ZoneID
	}
	acc := s.st.addAccount(req.Name, req.Email, hash, auth.RoleCollector, s.now())
	s.st.collectors[acc.ID] = &collectorProfile{ID: acc.ID, Contact: req.Contact, VehicleNumber: req.VehicleNumber, ZoneID: zoneID, Active: true}
	out, _ := s.st.collectorJSON(acc.ID)
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	writeJSON(w, http.StatusOK, s.st.zones)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	accs := s.st.sortedAccounts()
	out := make([]api.User, 0, len(accs))
	for _, a := range accs {
		out = append(out, api.User{ID: a.ID, Name: a.Name, Email: a.Email, Role: string(a.Role), Points: a.Points, CreatedAt: api.NewTime(a.CreatedAt)})
	}
	writeJSON(w, http.StatusOK, out)
}
