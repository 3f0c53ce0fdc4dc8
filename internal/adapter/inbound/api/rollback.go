package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jonny/sentinel/internal/domain/model"
	"github.com/jonny/sentinel/internal/domain/port/inbound"
)

func (s *Server) handleRollbackOptions(w http.ResponseWriter, r *http.Request) {
	options, err := s.security.GetRollbackOptions(r.Context(), r.URL.Query().Get("environment"))
	if err != nil {
		respondError(w, err)
		return
	}
	if options == nil {
		options = []model.RollbackOption{}
	}
	respondJSON(w, http.StatusOK, options)
}

func (s *Server) handleInitiateRollback(w http.ResponseWriter, r *http.Request) {
	var cmd inbound.InitiateRollbackCommand
	if err := decodeJSON(r, &cmd); err != nil {
		respondError(w, err)
		return
	}
	cmd.RequestedBy = actor(r, cmd.RequestedBy)
	entry, err := s.security.InitiateRollback(r.Context(), cmd)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, entry)
}

// handleListDeployments returns the newest deployments; limit=all lists
// every deployment.
func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	var (
		deployments []model.Deployment
		err         error
	)
	raw := r.URL.Query().Get("limit")
	if raw == "all" {
		deployments, err = s.security.GetAllDeployments(r.Context())
	} else {
		var limit int
		if limit, err = intParam(raw, "limit", 10); err == nil {
			deployments, err = s.security.GetRecentDeployments(r.Context(), limit)
		}
	}
	if err != nil {
		respondError(w, err)
		return
	}
	if deployments == nil {
		deployments = []model.Deployment{}
	}
	respondJSON(w, http.StatusOK, deployments)
}

func (s *Server) handleStartDeployment(w http.ResponseWriter, r *http.Request) {
	var cmd inbound.StartDeploymentCommand
	if err := decodeJSON(r, &cmd); err != nil {
		respondError(w, err)
		return
	}
	cmd.DeployedBy = actor(r, cmd.DeployedBy)
	d, err := s.security.StartDeployment(r.Context(), cmd)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

func (s *Server) handleCompleteDeployment(w http.ResponseWriter, r *http.Request) {
	var cmd inbound.CompleteDeploymentCommand
	if err := decodeJSON(r, &cmd); err != nil {
		respondError(w, err)
		return
	}
	cmd.DeploymentID = chi.URLParam(r, "id")
	d, err := s.security.CompleteDeployment(r.Context(), cmd)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleVerifySnapshot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}
	snap, err := s.security.VerifySnapshot(r.Context(), chi.URLParam(r, "id"), actor(r, body.Actor))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}
