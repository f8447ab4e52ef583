package fakeapi

import (
	"fmt"
	"net/http"
	"strings"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/auth"
)

func (s *Server) handleCreateComplaint(w http.ResponseWriter, r *http.Request) {
	var req api.NewComplaint
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.RequestID <= 0 || req.Message == "" {
		writeError(w, r, http.StatusBadRequest, "requestId and message are required")
		return
	}

	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	acc, ok := s.caller(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "User not found")
		return
	}
	pickup, ok := s.st.requests[req.RequestID]
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Request not found: %d", req.RequestID))
		return
	}
	if pickup.UserID != acc.ID && acc.Role != auth.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "You can only complain about your own requests")
		return
	}
	c := &complaint{
		ID:        s.st.nextComplaint,
		RequestID: pickup.ID,
		UserID:    pickup.UserID,
		Message:   req.Message,
		Status:    "OPEN",
		CreatedAt: s.now(),
	}
	s.st.nextComplaint++
	s.st.complaints = append(s.st.complaints, c)
	writeJSON(w, http.StatusCreated, s.st.complaintJSON(c))
}

func (s *Server) handleMyComplaints(w http.ResponseWriter, r *http.Request) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	acc, ok := s.caller(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "User not found")
		return
	}
	s.writeComplaints(w, func(c *complaint) bool { return c.UserID == acc.ID })
}

func (s *Server) handleAllComplaints(w http.ResponseWriter, r *http.Request) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.writeComplaints(w, nil)
}

func (s *Server) writeComplaints(w http.ResponseWriter, keep func(*complaint) bool) {
	out := make([]complaintJSON, 0, len(s.st.complaints))
	for _, c := range s.st.complaints {
		if keep == nil || keep(c) {
			out = append(out, s.st.complaintJSON(c))
		}
	}
	writeJSON(w, http.StatusOK, out)
}
