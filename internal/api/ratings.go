package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ppiankov/evidencegate/internal/confidence"
	"github.com/ppiankov/evidencegate/internal/model"
)

// RateBody is the rating of the data point named in the path
type RateBody struct {
	Criteria model.RatingCriteria `json:"criteria"`
	RatedBy  string               `json:"ratedBy" validate:"required"`
}

// VintageBody is a new value of the data point named in the path
type VintageBody struct {
	VintageDate  time.Time        `json:"vintageDate" validate:"required"`
	Value        float64          `json:"value"`
	ChangeType   model.ChangeType `json:"changeType,omitempty"`
	ChangeReason string           `json:"changeReason,omitempty"`
	SourceID     int64            `json:"sourceId,omitempty"`
	Grade        model.Grade      `json:"grade,omitempty"`
}

func dataPoint(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	id, ok := idParam(w, r, "dataPointID")
	if !ok {
		return "", 0, false
	}
	return chi.URLParam(r, "dataPointType"), id, true
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	typ, id, ok := dataPoint(w, r)
	if !ok {
		return
	}
	var body RateBody
	if !decode(w, r, &body) {
		return
	}
	rating, err := s.svc.Ratings.Rate(r.Context(), confidence.RateRequest{
		DataPointType: typ,
		DataPointID:   id,
		Criteria:      body.Criteria,
		RatedBy:       body.RatedBy,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rating)
}

func (s *Server) handleLatestRating(w http.ResponseWriter, r *http.Request) {
	typ, id, ok := dataPoint(w, r)
	if !ok {
		return
	}
	rating, err := s.svc.Ratings.Latest(r.Context(), typ, id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		*model.ConfidenceRating
		Badge confidence.Badge `json:"badge"`
	}{rating, confidence.BadgeFor(rating.Grade)})
}

func (s *Server) handleRatingHistory(w http.ResponseWriter, r *http.Request) {
	typ, id, ok := dataPoint(w, r)
	if !ok {
		return
	}
	history, err := s.svc.Ratings.History(r.Context(), typ, id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if history == nil {
		history = []model.ConfidenceRating{}
	}
	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleAppendVintage(w http.ResponseWriter, r *http.Request) {
	typ, id, ok := dataPoint(w, r)
	if !ok {
		return
	}
	var body VintageBody
	if !decode(w, r, &body) {
		return
	}
	v, err := s.svc.Vintages.Append(r.Context(), confidence.VintageInput{
		DataPointType: typ,
		DataPointID:   id,
		VintageDate:   body.VintageDate,
		Value:         body.Value,
		ChangeType:    body.ChangeType,
		ChangeReason:  body.ChangeReason,
		SourceID:      body.SourceID,
		Grade:         body.Grade,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, v)
}

// handleValueAsOf takes ?date= as YYYY-MM-DD or RFC 3339
func (s *Server) handleValueAsOf(w http.ResponseWriter, r *http.Request) {
	typ, id, ok := dataPoint(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("date")
	asOf, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		day, derr := time.Parse(time.DateOnly, raw)
		if derr != nil {
			respondError(w, http.StatusBadRequest, "invalid date")
			return
		}
		// a bare date includes the whole day
		asOf = day.Add(24*time.Hour - time.Nanosecond)
	}
	v, err := s.svc.Vintages.ValueAsOf(r.Context(), typ, id, asOf)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleRevisionSummary(w http.ResponseWriter, r *http.Request) {
	typ, id, ok := dataPoint(w, r)
	if !ok {
		return
	}
	summary, err := s.svc.Vintages.Summarize(r.Context(), typ, id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
