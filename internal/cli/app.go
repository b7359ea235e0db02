package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ppiankov/evidencegate/internal/api"
	"github.com/ppiankov/evidencegate/internal/cache"
	"github.com/ppiankov/evidencegate/internal/citation"
	"github.com/ppiankov/evidencegate/internal/confidence"
	"github.com/ppiankov/evidencegate/internal/contradiction"
	"github.com/ppiankov/evidencegate/internal/gates"
	"github.com/ppiankov/evidencegate/internal/llm"
	"github.com/ppiankov/evidencegate/internal/logging"
	"github.com/ppiankov/evidencegate/internal/model"
	"github.com/ppiankov/evidencegate/internal/publication"
	"github.com/ppiankov/evidencegate/internal/reliability"
	"github.com/ppiankov/evidencegate/internal/store"
	"github.com/ppiankov/evidencegate/internal/tribunal"
	"github.com/ppiankov/evidencegate/internal/worker"
)

// app holds the wired components behind every command
type app struct {
	cfg         model.Config
	store       store.Store
	llm         *llm.Client
	tribunal    *tribunal.Tribunal
	lab         *reliability.Lab
	publication *publication.Gate
	pipeline    *gates.Pipeline
	detector    *contradiction.Detector
	ratings     *confidence.Engine
	vintages    *confidence.Ledger
	logger      *slog.Logger
}

// newApp opens the store and builds the components from cfg
func newApp(ctx context.Context, cfg model.Config) (*app, error) {
	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClientFromConfig(
		llm.ConfigFromModel(cfg.LLM),
		worker.NewLimiter(cfg.LLM.RequestsPerSecond, cfg.LLM.Burst),
	)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("inference client: %w", err)
	}

	verifier := citation.NewVerifier(client, cfg.Thresholds, cfg.LLM.SentenceBatchSize)
	trib := tribunal.New(client, s, verifier, cfg.Thresholds,
		tribunal.WithConflictDetector(contradiction.NewEvidenceAnalyzer(client)))
	lab := reliability.NewLab(s, trib, cfg.Reliability)
	sources := cache.NewMemoryCache(cfg.Cache.SourceTTL, cfg.Cache.CleanupInterval)

	a := &app{
		cfg:         cfg,
		store:       s,
		llm:         client,
		tribunal:    trib,
		lab:         lab,
		publication: publication.NewGate(s, trib, lab),
		pipeline:    gates.NewPipeline(s, cfg.Gates, cfg.Policy, gates.WithSourceCache(sources, cfg.Cache.SourceTTL)),
		detector:    contradiction.NewDetector(s, cfg.Thresholds, cfg.Policy),
		ratings:     confidence.NewEngine(s, cfg.Rating),
		vintages:    confidence.NewLedger(s),
		logger:      logging.New("cli"),
	}
	if !client.IsEnabled() {
		a.logger.Warn("no inference provider configured; every tribunal stage will degrade to FAIL")
	}
	return a, nil
}

func openStore(ctx context.Context, cfg model.StoreConfig) (store.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return store.NewMemory(), nil
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store driver postgres requires a dsn")
		}
		pg, err := store.OpenPostgres(ctx, cfg.DSN, cfg.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s (supported: memory, postgres)", cfg.Driver)
	}
}

// services exposes the components to the HTTP API
func (a *app) services() api.Services {
	return api.Services{
		Store:          a.store,
		Publisher:      a.publication,
		Gates:          a.pipeline,
		Reliability:    a.lab,
		Contradictions: a.detector,
		Tribunal:       a.tribunal,
		Ratings:        a.ratings,
		Vintages:       a.vintages,
	}
}

func (a *app) Close() error {
	return a.store.Close()
}

// withApp loads config, builds the app and closes it after fn
func withApp(ctx context.Context, fn func(a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}
