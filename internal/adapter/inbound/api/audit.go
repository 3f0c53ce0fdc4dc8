package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

func auditFilter(r *http.Request) (outbound.AuditFilter, error) {
	q := r.URL.Query()
	var f outbound.AuditFilter
	var err error

	category, ok := model.ParseAuditCategory(q.Get("category"))
	if !ok {
		return f, model.NewValidationError("category", "must be one of all, ai, pending, approved, critical")
	}
	f.Category = category
	f.ActionType = q.Get("action_type")
	f.UserID = q.Get("user_id")
	f.ReferenceID = q.Get("reference_id")
	if f.Since, err = timeParam(q.Get("since"), "since"); err != nil {
		return f, err
	}
	if f.Until, err = timeParam(q.Get("until"), "until"); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilter(r)
	if err != nil {
		respondError(w, err)
		return
	}
	page, err := pageRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	result, err := s.security.GetAuditLogs(r.Context(), filter, page)
	if err != nil {
		respondError(w, err)
		return
	}
	respondPage(w, result)
}

func (s *Server) handleAuditStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.security.GetAuditStatistics(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Approver string `json:"approver"`
		Notes    string `json:"notes"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}
	entry, err := s.security.ApproveAction(r.Context(), chi.URLParam(r, "id"), actor(r, body.Approver), body.Notes)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RejectedBy string `json:"rejected_by"`
		Reason     string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}
	entry, err := s.security.RejectAction(r.Context(), chi.URLParam(r, "id"), body.Reason, actor(r, body.RejectedBy))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}
