package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/ppiankov/evidencegate/internal/confidence"
	"github.com/ppiankov/evidencegate/internal/contradiction"
	"github.com/ppiankov/evidencegate/internal/logging"
	"github.com/ppiankov/evidencegate/internal/metrics"
	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/publication"
	"github.com/ppiankov/evidencegate/internal/reliability"
	"github.com/ppiankov/evidencegate/internal/store"
)

var validate = validator.New()

// Publisher is the publication gate
type Publisher interface {
	CanPublish(ctx context.Context, req publication.Request) (*publication.Check, error)
	RequestPublication(ctx context.Context, req publication.Request) (*publication.Result, error)
	ForcePublish(ctx context.Context, req publication.Request, adminID, justification string) (*publication.Result, error)
	History(ctx context.Context, contentType string, contentID int64) ([]model.PublicationLogEntry, error)
	Stats(ctx context.Context) (*model.PublicationStats, error)
}

// GatePipeline runs and applies publishing gate decisions for update items
type GatePipeline interface {
	Run(ctx context.Context, updateID int64) *model.PublishingDecision
	Apply(ctx context.Context, updateID int64, d *model.PublishingDecision, reviewerID string) error
	Stats(ctx context.Context) (*model.UpdateStats, error)
}

// ReliabilityLab runs the regression battery and answers deployment checks
type ReliabilityLab interface {
	Run(ctx context.Context, runType model.RunType, limit int) (*model.ReliabilityRun, error)
	Latest(ctx context.Context) (*model.ReliabilityRun, error)
	ShouldBlockDeployment(ctx context.Context) model.DeploymentStatus
}

// Contradictions manages the contradiction registry
type Contradictions interface {
	Open(ctx context.Context, limit int) ([]model.ContradictionRecord, error)
	Stats(ctx context.Context) (*model.ContradictionStats, error)
	MarkInvestigating(ctx context.Context, id int64, by string) (*model.ContradictionRecord, error)
	MarkExplained(ctx context.Context, id int64, notes, by string) (*model.ContradictionRecord, error)
	Resolve(ctx context.Context, id int64, res contradiction.Resolution) (*model.ContradictionRecord, error)
}

// TribunalReader exposes tribunal history
type TribunalReader interface {
	Stats(ctx context.Context) (*model.TribunalStats, error)
	OpenTickets(ctx context.Context, limit int) ([]model.DataGapTicket, error)
	QuickVerify(ctx context.Context, claimID int64) (*model.QuickVerification, error)
}

// Ratings records confidence ratings and vintages
type Ratings interface {
	Rate(ctx context.Context, req confidence.RateRequest) (*model.ConfidenceRating, error)
	Latest(ctx context.Context, dataPointType string, dataPointID int64) (*model.ConfidenceRating, error)
	History(ctx context.Context, dataPointType string, dataPointID int64) ([]model.ConfidenceRating, error)
}

// Vintages is the data vintage ledger
type Vintages interface {
	Append(ctx context.Context, in confidence.VintageInput) (*model.DataVintage, error)
	ValueAsOf(ctx context.Context, dataPointType string, dataPointID int64, asOf time.Time) (*model.DataVintage, error)
	Summarize(ctx context.Context, dataPointType string, dataPointID int64) (*model.RevisionSummary, error)
}

// Pinger reports store health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the components behind the API
type Services struct {
	Store          Pinger
	Publisher      Publisher
	Gates          GatePipeline
	Reliability    ReliabilityLab
	Contradictions Contradictions
	Tribunal       TribunalReader
	Ratings        Ratings
	Vintages       Vintages
}

// Server is the evidencegate HTTP API
type Server struct {
	router *chi.Mux
	svc    Services
	logger *slog.Logger
}

// NewServer builds the router. allowedOrigins configures CORS.
func NewServer(svc Services, allowedOrigins []string) *Server {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	s := &Server{router: r, svc: svc, logger: logging.New("api")}
	r.Use(s.logRequests)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/publications", func(r chi.Router) {
			r.Post("/", s.handleRequestPublication)
			r.Post("/check", s.handleCanPublish)
			r.Post("/force", s.handleForcePublish)
			r.Get("/stats", s.handlePublicationStats)
			r.Get("/{contentType}/{contentID}/history", s.handlePublicationHistory)
		})

		r.Route("/updates", func(r chi.Router) {
			r.Get("/stats", s.handleUpdateStats)
			r.Post("/{updateID}/pipeline", s.handleRunPipeline)
			r.Post("/{updateID}/decision", s.handleApplyDecision)
		})

		r.Route("/reliability", func(r chi.Router) {
			r.Post("/runs", s.handleReliabilityRun)
			r.Get("/runs/latest", s.handleLatestReliabilityRun)
			r.Get("/deployment", s.handleDeploymentStatus)
		})

		r.Route("/contradictions", func(r chi.Router) {
			r.Get("/", s.handleOpenContradictions)
			r.Get("/stats", s.handleContradictionStats)
			r.Post("/{id}/investigate", s.handleInvestigateContradiction)
			r.Post("/{id}/explain", s.handleExplainContradiction)
			r.Post("/{id}/resolve", s.handleResolveContradiction)
		})

		r.Route("/tribunal", func(r chi.Router) {
			r.Get("/stats", s.handleTribunalStats)
			r.Get("/tickets", s.handleOpenTickets)
			r.Get("/claims/{claimID}/verification", s.handleQuickVerify)
		})

		r.Route("/ratings/{dataPointType}/{dataPointID}", func(r chi.Router) {
			r.Post("/", s.handleRate)
			r.Get("/", s.handleLatestRating)
			r.Get("/history", s.handleRatingHistory)
			r.Post("/vintages", s.handleAppendVintage)
			r.Get("/vintages/as-of", s.handleValueAsOf)
			r.Get("/vintages/summary", s.handleRevisionSummary)
		})
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// NewHTTPServer wraps the API in an http.Server with the configured timeouts
func (s *Server) NewHTTPServer(cfg model.ServerConfig) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.svc.Store != nil {
		if err := s.svc.Store.Ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper to send JSON responses
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps component errors to status codes
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs),
		errors.Is(err, publication.ErrJustificationRequired),
		errors.Is(err, reliability.ErrInvalidRunType),
		errors.Is(err, confidence.ErrInvalidChangeType):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrImmutable),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrOutOfOrder),
		errors.Is(err, contradiction.ErrAlreadyResolved),
		errors.Is(err, contradiction.ErrInvalidTransition),
		errors.Is(err, reliability.ErrNoTests):
		status = http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	respondError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(out); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func limitParam(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return def
}
