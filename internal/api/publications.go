package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/publication"
)

// ForceRequest is a publish request overridden by an admin
type ForceRequest struct {
	ContentType   string           `json:"contentType" validate:"required"`
	Claim         model.ClaimInput `json:"claim"`
	RequestedBy   string           `json:"requestedBy,omitempty"`
	AdminID       string           `json:"adminId" validate:"required"`
	Justification string           `json:"justification" validate:"required"`
}

// ApplyRequest writes a gate decision back to an update item.
// Without a decision the pipeline is run first.
type ApplyRequest struct {
	Decision   *model.PublishingDecision `json:"decision,omitempty"`
	ReviewerID string                    `json:"reviewerId,omitempty"`
}

// ApplyResponse reports whether the decision was written
type ApplyResponse struct {
	Success  bool                      `json:"success"`
	Decision *model.PublishingDecision `json:"decision"`
	Error    string                    `json:"error,omitempty"`
}

func (s *Server) handleCanPublish(w http.ResponseWriter, r *http.Request) {
	var req publication.Request
	if !decode(w, r, &req) {
		return
	}
	check, err := s.svc.Publisher.CanPublish(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, check)
}

func (s *Server) handleRequestPublication(w http.ResponseWriter, r *http.Request) {
	var req publication.Request
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.Publisher.RequestPublication(r.Context(), req)
	if err != nil {
		if res != nil {
			// the decision was made but could not be logged
			respondJSON(w, http.StatusServiceUnavailable, res)
			return
		}
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleForcePublish(w http.ResponseWriter, r *http.Request) {
	var req ForceRequest
	if !decode(w, r, &req) {
		return
	}
	pub := publication.Request{ContentType: req.ContentType, Claim: req.Claim, RequestedBy: req.RequestedBy}
	res, err := s.svc.Publisher.ForcePublish(r.Context(), pub, req.AdminID, req.Justification)
	if err != nil {
		if res != nil {
			respondJSON(w, http.StatusServiceUnavailable, res)
			return
		}
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handlePublicationHistory(w http.ResponseWriter, r *http.Request) {
	contentID, ok := idParam(w, r, "contentID")
	if !ok {
		return
	}
	history, err := s.svc.Publisher.History(r.Context(), chi.URLParam(r, "contentType"), contentID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if history == nil {
		history = []model.PublicationLogEntry{}
	}
	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handlePublicationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Publisher.Stats(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "updateID")
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.svc.Gates.Run(r.Context(), id))
}

func (s *Server) handleApplyDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "updateID")
	if !ok {
		return
	}
	var req ApplyRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	d := req.Decision
	if d == nil {
		d = s.svc.Gates.Run(r.Context(), id)
	}
	resp := ApplyResponse{Success: true, Decision: d}
	if err := s.svc.Gates.Apply(r.Context(), id, d, req.ReviewerID); err != nil {
		s.logger.Warn("apply decision failed", "update_id", id, "error", err)
		resp.Success = false
		resp.Error = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Gates.Stats(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
