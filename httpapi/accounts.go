package httpapi

import (
	"net/http"
	"time"

	"pkt.systems/afkcraft/internal/auth"
	"pkt.systems/afkcraft/internal/logx"
	"pkt.systems/afkcraft/internal/store"
	"pkt.systems/afkcraft/schema"
)

// UserView is the account shape returned to clients. Credential material is
// never included.
type UserView struct {
	ID            int64          `json:"id"`
	Email         string         `json:"email"`
	IGN           schema.UserKey `json:"ign"`
	StorePassword bool           `json:"store_password"`
	TOTPEnabled   bool           `json:"totp_enabled"`
	IsAdmin       bool           `json:"is_admin"`
	CreatedAt     time.Time      `json:"created_at"`
}

func viewUser(u store.User) UserView {
	return UserView{
		ID:            u.ID,
		Email:         u.Email,
		IGN:           u.IGN,
		StorePassword: u.StorePassword,
		TOTPEnabled:   u.TOTPSecret != "",
		IsAdmin:       u.IsAdmin,
		CreatedAt:     u.CreatedAt,
	}
}

// LoginResponse carries the bearer token.
type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int64    `json:"expires_in"`
	User        UserView `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	var req auth.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		log.Warn("http register decode failed", "err", err)
		writeError(w, err)
		return
	}
	user, err := s.deps.Accounts.Register(r.Context(), req)
	if err != nil {
		logFailure(log, "http register failed", err)
		writeError(w, err)
		return
	}
	log.Info("http register ok", "user", user.IGN)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "user created",
		"user":    viewUser(user),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		TOTP     string `json:"totp,omitempty"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		log.Warn("http login decode failed", "err", err)
		writeError(w, err)
		return
	}
	token, user, err := s.deps.Accounts.Login(r.Context(), payload.Email, payload.Password, payload.TOTP)
	if err != nil {
		logFailure(log, "http login failed", err)
		writeError(w, err)
		return
	}
	log.Info("http login ok", "user", user.IGN)
	writeJSON(w, http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.deps.TokenTTL / time.Second),
		User:        viewUser(user),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user store.User) {
	writeJSON(w, http.StatusOK, viewUser(user))
}
