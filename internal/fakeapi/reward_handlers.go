package fakeapi

import (
	"fmt"
	"net/http"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/obs"
)

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := make([]api.Reward, 0, len(s.st.rewards))
	for _, rw := range s.st.rewards {
		if rw.Active {
			out = append(out, rw)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid reward id")
		return
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	acc, ok := s.caller(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "User not found")
		return
	}
	rw, ok := s.st.reward(id)
	if !ok || !rw.Active {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Reward not found: %d", id))
		return
	}
	if acc.Points < rw.PointsRequired {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Insufficient points. Required: %d, available: %d", rw.PointsRequired, acc.Points))
		return
	}

	acc.Points -= rw.PointsRequired
	red := &redemption{
		ID:         s.st.nextRedemption,
		RewardID:   rw.ID,
		UserID:     acc.ID,
		PointsUsed: rw.PointsRequired,
		Status:     api.RedemptionRequested,
		CreatedAt:  s.now(),
	}
	s.st.nextRedemption++
	s.st.redemptions[red.ID] = red
	s.st.addTransaction(&transaction{
		UserID:      acc.ID,
		PointsSpent: rw.PointsRequired,
		Type:        api.TransactionRedeem,
		Description: fmt.Sprintf("Redeemed %s - %d points", rw.Name, rw.PointsRequired),
		CreatedAt:   s.now(),
	})
	obs.Info("reward_redeemed", map[string]any{
		"request_id":    RequestIDFromContext(r.Context()),
		"redemption_id": red.ID,
		"user_id":       acc.ID,
		"points":        rw.PointsRequired,
	})
	writeJSON(w, http.StatusOK, api.RedeemResult{
		RedemptionID:  red.ID,
		RewardID:      rw.ID,
		RewardName:    rw.Name,
		PointsUsed:    red.PointsUsed,
		Status:        red.Status,
		UpdatedPoints: acc.Points,
	})
}

func (s *Server) handleMyRedemptions(w http.ResponseWriter, r *http.Request) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	acc, ok := s.caller(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "User not found")
		return
	}
	rows := s.st.sortedRedemptions(func(red *redemption) bool { return red.UserID == acc.ID })
	out := make([]redemptionJSON, 0, len(rows))
	for _, red := range rows {
		out = append(out, s.st.redemptionJSON(red, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMyTransactions(w http.ResponseWriter, r *http.Request) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	acc, ok := s.caller(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "User not found")
		return
	}
	out := make([]api.Transaction, 0)
	for i := len(s.st.transactions) - 1; i >= 0; i-- {
		if t := s.st.transactions[i]; t.UserID == acc.ID {
			out = append(out, s.st.transactionJSON(t))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAllRedemptions(w http.ResponseWriter, r *http.Request) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	rows := s.st.sortedRedemptions(nil)
	out := make([]redemptionJSON, 0, len(rows))
	for _, red := range rows {
		out = append(out, s.st.redemptionJSON(red, true))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFulfill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid redemption id")
		return
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	red, ok := s.st.redemptions[id]
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Redemption not found: %d", id))
		return
	}
	if red.Status != api.RedemptionRequested {
		writeError(w, r, http.StatusBadRequest, "Redemption is already fulfilled")
		return
	}
	red.Status = api.RedemptionFulfilled
	red.FulfilledAt = s.now()
	writeJSON(w, http.StatusOK, s.st.redemptionJSON(red, true))
}
