// Package httpapi serves the AFK session API over HTTP with bearer tokens.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pkt.systems/afkcraft/internal/auth"
	"pkt.systems/afkcraft/internal/logx"
	"pkt.systems/afkcraft/internal/session"
	"pkt.systems/afkcraft/internal/store"
	"pkt.systems/afkcraft/schema"
	"pkt.systems/pslog"
)

const (
	maxBodyBytes  = 64 << 10
	healthTimeout = 5 * time.Second
)

// Accounts registers users, logs them in and resolves bearer tokens.
type Accounts interface {
	Register(ctx context.Context, req auth.RegisterRequest) (store.User, error)
	Login(ctx context.Context, email, password, totpCode string) (string, store.User, error)
	Authenticate(ctx context.Context, token string) (store.User, error)
}

// Sessions runs per-user AFK clients.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (schema.SessionRef, error)
	Stop(ctx context.Context, user schema.UserKey) bool
	Status(ctx context.Context, user schema.UserKey) (schema.StatusSnapshot, error)
}

// GameServer controls the shared server container.
type GameServer interface {
	Start(ctx context.Context) (schema.SessionRef, error)
	Stop(ctx context.Context) bool
	Status(ctx context.Context) (schema.ServerStatus, error)
}

// Directory holds the whitelist and item statistics.
type Directory interface {
	IsWhitelisted(ctx context.Context, ign schema.UserKey) (bool, error)
	AddWhitelist(ctx context.Context, ign schema.UserKey, addedBy string) (store.WhitelistEntry, error)
	RemoveWhitelist(ctx context.Context, ign schema.UserKey) error
	ListWhitelist(ctx context.Context) ([]store.WhitelistEntry, error)
	ItemTotals(ctx context.Context, ign schema.UserKey) (store.ItemTotals, error)
}

// Pinger reports whether the container runtime is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the server dispatches to.
type Deps struct {
	Accounts  Accounts
	Sessions  Sessions
	Server    GameServer
	Directory Directory
	Runtime   Pinger
	// TokenTTL is reported to clients as expires_in.
	TokenTTL time.Duration
}

// Server serves the HTTP API.
type Server struct {
	cfg      Config
	deps     Deps
	limiter  *userLimiter
	basePath string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	switch {
	case deps.Accounts == nil:
		return nil, errors.New("httpapi: accounts are required")
	case deps.Sessions == nil:
		return nil, errors.New("httpapi: sessions are required")
	case deps.Server == nil:
		return nil, errors.New("httpapi: game server is required")
	case deps.Directory == nil:
		return nil, errors.New("httpapi: directory is required")
	case deps.Runtime == nil:
		return nil, errors.New("httpapi: runtime is required")
	}
	if deps.TokenTTL <= 0 {
		deps.TokenTTL = auth.DefaultTokenTTL
	}
	return &Server{
		cfg:      cfg,
		deps:     deps,
		limiter:  newUserLimiter(cfg.SessionRatePerMinute, cfg.SessionRateBurst),
		basePath: normalizeBasePath(cfg.BasePath),
	}, nil
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/me", s.requireUser(s.handleMe))

	mux.HandleFunc("POST /api/afk/start", s.requireUser(s.handleStart))
	mux.HandleFunc("POST /api/afk/stop", s.requireUser(s.handleStop))
	mux.HandleFunc("GET /api/afk/status", s.requireUser(s.handleStatus))
	mux.HandleFunc("GET /api/afk/stats", s.requireUser(s.handleStats))

	mux.HandleFunc("GET /api/whitelist", s.requireAdmin(s.handleWhitelist))
	mux.HandleFunc("POST /api/whitelist/add", s.requireAdmin(s.handleWhitelistAdd))
	mux.HandleFunc("POST /api/whitelist/remove", s.requireAdmin(s.handleWhitelistRemove))

	mux.HandleFunc("POST /api/server/start", s.requireAdmin(s.handleServerStart))
	mux.HandleFunc("POST /api/server/stop", s.requireAdmin(s.handleServerStop))
	mux.HandleFunc("GET /api/server/status", s.requireAdmin(s.handleServerStatus))

	return mountBasePath(s.basePath, withRequestLogging(mux))
}

type userHandler func(http.ResponseWriter, *http.Request, store.User)

func (s *Server) requireUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logx.Ctx(r.Context()).With("remote", clientIP(r))
		token, ok := bearerToken(r)
		if !ok {
			log.Warn("http auth missing")
			writeError(w, auth.ErrInvalidToken)
			return
		}
		user, err := s.deps.Accounts.Authenticate(r.Context(), token)
		if err != nil {
			log.Warn("http auth failed", "err", err)
			writeError(w, err)
			return
		}
		if info := requestInfoFrom(r.Context()); info != nil {
			info.user = user.IGN
		}
		log = log.With("user", user.IGN)
		ctx := logx.ContextWithUserLogger(r.Context(), log, user.IGN)
		next(w, r.WithContext(ctx), user)
	}
}

func (s *Server) requireAdmin(next userHandler) http.HandlerFunc {
	return s.requireUser(func(w http.ResponseWriter, r *http.Request, user store.User) {
		if !user.IsAdmin {
			logx.Ctx(r.Context()).Warn("http admin denied", "path", r.URL.Path)
			writeError(w, schema.ErrForbidden)
			return
		}
		next(w, r, user)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := s.deps.Runtime.Ping(ctx); err != nil {
		logx.Ctx(r.Context()).Warn("http health failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: "container runtime unreachable",
			Kind:  string(schema.SessionErrorRuntimeUnavailable),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, err error) {
	status, kind, msg := classifyError(err)
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// logFailure logs err at warn for client errors and error for server faults.
func logFailure(log pslog.Logger, msg string, err error) {
	status, kind, _ := classifyError(err)
	if status >= http.StatusInternalServerError {
		log.Error(msg, "kind", kind, "err", err)
		return
	}
	log.Warn(msg, "kind", kind, "err", err)
}
