package api

import (
	"net/http"

	"github.com/ppiankov/evidencegate/internal/model"
)

// RunRequest starts a reliability evaluation
type RunRequest struct {
	RunType model.RunType `json:"runType,omitempty"`
	Limit   int           `json:"limit,omitempty" validate:"gte=0"`
}

func (s *Server) handleReliabilityRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	run, err := s.svc.Reliability.Run(r.Context(), req.RunType, req.Limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, run)
}

func (s *Server) handleLatestReliabilityRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.Reliability.Latest(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// handleDeploymentStatus answers 200 either way; CI reads the blocked field
func (s *Server) handleDeploymentStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.Reliability.ShouldBlockDeployment(r.Context()))
}
