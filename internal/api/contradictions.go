package api

import (
	"net/http"

	"github.com/ppiankov/evidencegate/internal/contradiction"
	"github.com/ppiankov/evidencegate/internal/model"
)

// ResolveRequest closes a contradiction with a chosen value
type ResolveRequest struct {
	Value  *float64 `json:"resolvedValue" validate:"required"`
	Source string   `json:"resolvedSource" validate:"required"`
	Notes  string   `json:"notes,omitempty"`
	By     string   `json:"resolvedBy" validate:"required"`
}

// StatusRequest moves a contradiction along its lifecycle
type StatusRequest struct {
	Notes string `json:"notes,omitempty"`
	By    string `json:"by" validate:"required"`
}

func (s *Server) handleOpenContradictions(w http.ResponseWriter, r *http.Request) {
	open, err := s.svc.Contradictions.Open(r.Context(), limitParam(r, 50))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if open == nil {
		open = []model.ContradictionRecord{}
	}
	respondJSON(w, http.StatusOK, open)
}

func (s *Server) handleContradictionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Contradictions.Stats(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleInvestigateContradiction(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req StatusRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := s.svc.Contradictions.MarkInvestigating(r.Context(), id, req.By)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleExplainContradiction(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req StatusRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := s.svc.Contradictions.MarkExplained(r.Context(), id, req.Notes, req.By)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleResolveContradiction(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := s.svc.Contradictions.Resolve(r.Context(), id, contradiction.Resolution{
		Value:  *req.Value,
		Source: req.Source,
		Notes:  req.Notes,
		By:     req.By,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}
