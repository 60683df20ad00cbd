package httpapi

import (
	"net/http"

	"pkt.systems/afkcraft/internal/logx"
	"pkt.systems/afkcraft/internal/store"
	"pkt.systems/afkcraft/schema"
)

type whitelistRequest struct {
	IGN schema.UserKey `json:"ign"`
}

func (s *Server) decodeWhitelist(r *http.Request) (schema.UserKey, error) {
	var req whitelistRequest
	if err := decodeJSON(r, &req); err != nil {
		return "", err
	}
	if err := schema.ValidateUserKey(req.IGN); err != nil {
		return "", err
	}
	return req.IGN, nil
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request, _ store.User) {
	entries, err := s.deps.Directory.ListWhitelist(r.Context())
	if err != nil {
		logFailure(logx.Ctx(r.Context()), "http whitelist list failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleWhitelistAdd(w http.ResponseWriter, r *http.Request, admin store.User) {
	log := logx.Ctx(r.Context())
	ign, err := s.decodeWhitelist(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.deps.Directory.AddWhitelist(r.Context(), ign, admin.Email)
	if err != nil {
		logFailure(log, "http whitelist add failed", err)
		writeError(w, err)
		return
	}
	log.Info("http whitelist add ok", "ign", ign)
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleWhitelistRemove(w http.ResponseWriter, r *http.Request, _ store.User) {
	log := logx.Ctx(r.Context())
	ign, err := s.decodeWhitelist(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Directory.RemoveWhitelist(r.Context(), ign); err != nil {
		logFailure(log, "http whitelist remove failed", err)
		writeError(w, err)
		return
	}
	log.Info("http whitelist remove ok", "ign", ign)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleServerStart(w http.ResponseWriter, r *http.Request, _ store.User) {
	ref, err := s.deps.Server.Start(r.Context())
	if err != nil {
		logFailure(logx.Ctx(r.Context()), "http server start failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "started",
		"container_id":   ref.ID,
		"container_name": ref.Name,
	})
}

func (s *Server) handleServerStop(w http.ResponseWriter, r *http.Request, _ store.User) {
	result := "not_running"
	if s.deps.Server.Stop(r.Context()) {
		result = "stopped"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": result})
}

func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request, _ store.User) {
	st, err := s.deps.Server.Status(r.Context())
	if err != nil {
		logFailure(logx.Ctx(r.Context()), "http server status failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
