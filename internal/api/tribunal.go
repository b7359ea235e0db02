package api

import (
	"net/http"

	"github.com/ppiankov/evidencegate/internal/model"
)

func (s *Server) handleTribunalStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Tribunal.Stats(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleOpenTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.svc.Tribunal.OpenTickets(r.Context(), limitParam(r, 50))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if tickets == nil {
		tickets = []model.DataGapTicket{}
	}
	respondJSON(w, http.StatusOK, tickets)
}

func (s *Server) handleQuickVerify(w http.ResponseWriter, r *http.Request) {
	claimID, ok := idParam(w, r, "claimID")
	if !ok {
		return
	}
	qv, err := s.svc.Tribunal.QuickVerify(r.Context(), claimID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, qv)
}
