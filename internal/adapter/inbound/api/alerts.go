package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/inbound"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.security.GetSecurityStatus(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleTriggerCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.security.TriggerCheck(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"result": "check completed"})
}

func alertFilter(r *http.Request) (outbound.AlertFilter, error) {
	q := r.URL.Query()
	var f outbound.AlertFilter
	var err error

	if v := q.Get("type"); v != "" {
		if f.Type, err = model.ParseAlertType(v); err != nil {
			return f, model.NewValidationError("type", err.Error())
		}
	}
	if v := q.Get("severity"); v != "" {
		if f.Severity, err = model.ParseSeverity(v); err != nil {
			return f, model.NewValidationError("severity", err.Error())
		}
	}
	if v := q.Get("status"); v != "" {
		if f.Status, err = model.ParseAlertStatus(v); err != nil {
			return f, model.NewValidationError("status", err.Error())
		}
	}
	if f.ActiveOnly, err = boolParam(q.Get("active"), "active"); err != nil {
		return f, err
	}
	if f.Since, err = timeParam(q.Get("since"), "since"); err != nil {
		return f, err
	}
	if f.Until, err = timeParam(q.Get("until"), "until"); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := alertFilter(r)
	if err != nil {
		respondError(w, err)
		return
	}
	page, err := pageRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	result, err := s.security.GetAllSecurityAlerts(r.Context(), filter, page)
	if err != nil {
		respondError(w, err)
		return
	}
	respondPage(w, result)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.security.GetSecurityAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

func (s *Server) handleUpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status     string `json:"status"`
		AssignedTo string `json:"assigned_to"`
		Actor      string `json:"actor"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}
	alert, err := s.security.UpdateAlertStatus(r.Context(), inbound.UpdateAlertStatusCommand{
		AlertID:    chi.URLParam(r, "id"),
		Status:     body.Status,
		AssignedTo: body.AssignedTo,
		Actor:      actor(r, body.Actor),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, alert)
}
