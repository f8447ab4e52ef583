package fakeapi

import (
	"net/http"
	"net/mail"
	"strings"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/auth"
	"smartwaste.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	s.st.mu.Lock()
	acc := s.st.accountByEmail(req.Email)
	var (
		hash string
		out  api.LoginResponse
	)
	if acc != nil {
		hash = acc.Hash
		out = api.LoginResponse{Role: string(acc.Role), UserID: acc.ID, Name: acc.Name, Email: acc.Email}
	}
	s.st.mu.Unlock()

	if acc == nil || !auth.CheckPassword(hash, req.Password) {
		obs.Warn("login_failed", map[string]any{"request_id": RequestIDFromContext(r.Context())})
		writeError(w, r, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	token, _, err := auth.GenerateToken(s.secret, out.Email, auth.Role(out.Role), s.ttl)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	out.Token = token
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	switch {
	case req.Name == "":
		writeError(w, r, http.StatusBadRequest, "Name is required")
		return
	case req.Email == "":
		writeError(w, r, http.StatusBadRequest, "Email is required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, r, http.StatusBadRequest, "Email should be valid")
		return
	}

	role, err := auth.ParseRole(req.Role)
	if err != nil {
		role = auth.RoleUser
	}
	if role == auth.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "Admin accounts cannot be created through registration")
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
	acc := s.st.addAccount(req.Name, req.Email, hash, role, s.now())
	if role == auth.RoleCollector {
		s.st.collectors[acc.ID] = &collectorProfile{ID: acc.ID, Active: true}
	}
	writeJSON(w, http.StatusCreated, api.RegisterResponse{
		Message: "User registered successfully",
		UserID:  acc.ID,
		Role:    string(role),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	acc, ok := s.caller(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, api.Profile{UserID: acc.ID, Name: acc.Name, Email: acc.Email, Role: string(acc.Role), Points: acc.Points})
}
