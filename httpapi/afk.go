package httpapi

import (
	"fmt"
	"net/http"

	"pkt.systems/afkcraft/internal/logx"
	"pkt.systems/afkcraft/internal/session"
	"pkt.systems/afkcraft/internal/store"
	"pkt.systems/afkcraft/schema"
)

// StatsResponse merges runtime figures with recorded item totals.
type StatsResponse struct {
	ItemsCollected   int64   `json:"items_collected"`
	ShinyItems       int64   `json:"shiny_items"`
	SessionTime      float64 `json:"session_time"`
	CPUUsage         uint64  `json:"cpu_usage"`
	MemoryUsage      uint64  `json:"memory_usage"`
	MemoryLimitBytes uint64  `json:"memory_limit,omitempty"`
	Running          bool    `json:"running"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, user store.User) {
	log := logx.Ctx(r.Context())
	if !s.limiter.allow(user.IGN) {
		log.Warn("http afk start limited")
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many session requests", Kind: kindRateLimited})
		return
	}
	approved, err := s.deps.Directory.IsWhitelisted(r.Context(), user.IGN)
	if err != nil {
		logFailure(log, "http afk start failed", err)
		writeError(w, err)
		return
	}
	if !approved {
		log.Info("http afk start rejected", "reason", "not whitelisted")
		writeError(w, schema.ErrNotWhitelisted)
		return
	}
	ref, err := s.deps.Sessions.Start(r.Context(), session.StartRequest{
		User:       user.IGN,
		Credential: user.Credential(),
	})
	if err != nil {
		logFailure(log, "http afk start failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "success",
		"container_id":   ref.ID,
		"container_name": ref.Name,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, user store.User) {
	if !s.limiter.allow(user.IGN) {
		logx.Ctx(r.Context()).Warn("http afk stop limited")
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many session requests", Kind: kindRateLimited})
		return
	}
	result := "not_running"
	if s.deps.Sessions.Stop(r.Context(), user.IGN) {
		result = "success"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": result})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, user store.User) {
	snap, err := s.deps.Sessions.Status(r.Context(), user.IGN)
	if err != nil {
		logFailure(logx.Ctx(r.Context()), "http afk status failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, user store.User) {
	log := logx.Ctx(r.Context())
	snap, err := s.deps.Sessions.Status(r.Context(), user.IGN)
	if err != nil {
		logFailure(log, "http afk stats failed", err)
		writeError(w, err)
		return
	}
	totals, err := s.deps.Directory.ItemTotals(r.Context(), user.IGN)
	if err != nil {
		err = fmt.Errorf("item totals: %w", err)
		logFailure(log, "http afk stats failed", err)
		writeError(w, err)
		return
	}
	resp := StatsResponse{
		ItemsCollected: totals.ItemsCollected,
		ShinyItems:     totals.ShinyItems,
		Running:        snap.RunState == schema.RunStateRunning,
	}
	if snap.Stats != nil {
		resp.SessionTime = snap.Stats.UptimeSeconds
		resp.CPUUsage = snap.Stats.CPUUsageNanos
		resp.MemoryUsage = snap.Stats.MemoryUsageBytes
		resp.MemoryLimitBytes = snap.Stats.MemoryLimitBytes
	}
	writeJSON(w, http.StatusOK, resp)
}
