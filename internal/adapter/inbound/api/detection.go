package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jonny/sentinel/internal/adapter/inbound/api/middleware"
	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/inbound"
)

func (s *Server) handleDeployHoneytoken(w http.ResponseWriter, r *http.Request) {
	var cmd inbound.DeployHoneytokenCommand
	if err := decodeJSON(r, &cmd); err != nil {
		respondError(w, err)
		return
	}
	cmd.DeployedBy = actor(r, cmd.DeployedBy)
	token, err := s.security.DeployHoneytoken(r.Context(), cmd)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, token)
}

// handleHoneytokenAccess returns the raised alert, or 204 when the value
// matched no registered token.
func (s *Server) handleHoneytokenAccess(w http.ResponseWriter, r *http.Request) {
	var access inbound.HoneytokenAccess
	if err := decodeJSON(r, &access); err != nil {
		respondError(w, err)
		return
	}
	if access.SourceIP == "" {
		access.SourceIP = middleware.RemoteIP(r, s.cfg.TrustProxy)
	}
	alert, err := s.security.ReportHoneytokenAccess(r.Context(), access)
	if err != nil {
		respondError(w, err)
		return
	}
	if alert == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleListConfigFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.security.ListConfigFiles(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	if files == nil {
		files = []model.ConfigMonitoring{}
	}
	respondJSON(w, http.StatusOK, files)
}

func (s *Server) handleRegisterConfigFile(w http.ResponseWriter, r *http.Request) {
	var cmd inbound.RegisterConfigFileCommand
	if err := decodeJSON(r, &cmd); err != nil {
		respondError(w, err)
		return
	}
	cmd.RegisteredBy = actor(r, cmd.RegisteredBy)
	cm, err := s.security.RegisterConfigFile(r.Context(), cmd)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, cm)
}

func (s *Server) handleAcknowledgeConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}
	cm, err := s.security.AcknowledgeConfigChange(r.Context(), chi.URLParam(r, "id"), actor(r, body.Actor))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cm)
}

type exportRequest struct {
	UserID      string    `json:"user_id"`
	RowCount    int64     `json:"row_count"`
	ByteCount   int64     `json:"byte_count"`
	Destination string    `json:"destination"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type loginRequest struct {
	UserID     string    `json:"user_id"`
	SourceIP   string    `json:"source_ip"`
	Success    bool      `json:"success"`
	OccurredAt time.Time `json:"occurred_at"`
}

type queryRequest struct {
	UserID     string    `json:"user_id"`
	SourceIP   string    `json:"source_ip"`
	QueryText  string    `json:"query_text"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (s *Server) handleRecordExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	e := model.NewExportEvent(req.UserID, req.RowCount, req.ByteCount, req.Destination, req.OccurredAt)
	if err := s.security.RecordExport(r.Context(), e); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, e)
}

func (s *Server) handleRecordLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	e := model.NewLoginEvent(req.UserID, req.SourceIP, req.Success, req.OccurredAt)
	if err := s.security.RecordLogin(r.Context(), e); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, e)
}

func (s *Server) handleRecordQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	e := model.NewQueryEvent(req.UserID, req.SourceIP, req.QueryText, req.OccurredAt)
	if err := s.security.RecordQuery(r.Context(), e); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, e)
}
