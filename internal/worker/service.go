// Package worker provides the HTTP worker service for pricelearn.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/quotely/pricelearn/internal/config"
	"github.com/quotely/pricelearn/internal/embedding"
	"github.com/quotely/pricelearn/internal/engine"
	"github.com/quotely/pricelearn/internal/extraction"
	"github.com/quotely/pricelearn/internal/scoring"
	"github.com/quotely/pricelearn/internal/store"
	"github.com/quotely/pricelearn/internal/store/pgstore"
	"github.com/quotely/pricelearn/internal/store/sqlitestore"
	"github.com/quotely/pricelearn/internal/telemetry"
)

// DefaultHTTPTimeout is the default timeout for HTTP requests.
const DefaultHTTPTimeout = 30 * time.Second

// Service is the worker service orchestrator.
type Service struct {
	version string
	config  *config.Config

	tunables *config.TunablesWatcher
	store    store.ProfileStore
	engine   *engine.Engine

	router *chi.Mux
	server *http.Server

	startTime time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	closers []func() error
}

// NewService builds a fully initialized worker. Storage, extraction and
// embedding are wired from config; extraction and embedding stay optional.
func NewService(version string) (*Service, error) {
	if err := config.EnsureAll(); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	cfg := config.Get()

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		version:   version,
		config:    cfg,
		router:    chi.NewRouter(),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	tunables, err := config.NewTunablesWatcher(ctx, config.TunablesPath())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load tunables: %w", err)
	}
	svc.tunables = tunables

	if err := svc.initStore(); err != nil {
		cancel()
		return nil, err
	}

	metrics, err := telemetry.New()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	eng, err := engine.New(engine.Options{
		TunablesSource: tunables.Current,
		Store:          svc.store,
		Extractor:      svc.initExtractor(),
		Embedder:       svc.initEmbedder(),
		Metrics:        metrics,
		EventTimeout:   time.Duration(cfg.EventTimeoutSeconds) * time.Second,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	svc.engine = eng

	svc.setupMiddleware()
	svc.setupRoutes()
	return svc, nil
}

func (s *Service) initStore() error {
	tunables := s.tunables.Current()
	priority := scoring.Config{
		ImpactCap:           tunables.Selector.ImpactCap,
		RecencyHalfLifeDays: tunables.Selector.RecencyHalfLifeDays,
		RecencyFloor:        tunables.Selector.RecencyFloor,
	}

	switch s.config.Backend {
	case config.BackendMemory:
		s.store = store.NewMemoryStore(tunables.Store, priority)
	case config.BackendPostgres:
		pg, err := pgstore.NewStore(pgstore.Config{
			DSN:      s.config.PostgresDSN,
			MaxConns: s.config.MaxConns,
			LogLevel: logger.Warn,
			Store:    tunables.Store,
			Priority: priority,
		})
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		s.store = pg
		s.closers = append(s.closers, pg.Close)
	case config.BackendSQLite, "":
		sq, err := sqlitestore.NewStore(sqlitestore.Config{
			Path:     s.config.DBPath,
			MaxConns: s.config.MaxConns,
			Store:    tunables.Store,
			Priority: priority,
		})
		if err != nil {
			return fmt.Errorf("init sqlite store: %w", err)
		}
		s.store = sq
		s.closers = append(s.closers, sq.Close)
	default:
		return fmt.Errorf("unknown backend %q", s.config.Backend)
	}

	log.Info().Str("backend", s.config.Backend).Msg("Learning store initialized")
	return nil
}

func (s *Service) initExtractor() extraction.Extractor {
	if s.config.ExtractionURL == "" {
		log.Info().Msg("No extraction service configured, using structural extraction")
		return nil
	}
	client, err := extraction.NewClient(extraction.ClientConfig{
		BaseURL: s.config.ExtractionURL,
		APIKey:  s.config.ExtractionAPIKey,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Extraction client unavailable, using structural extraction")
		return nil
	}
	return client
}

func (s *Service) initEmbedder() *embedding.Service {
	if s.config.EmbeddingAPIKey == "" {
		log.Info().Msg("No embedding provider configured, similarity falls back to term overlap")
		return embedding.NewService(nil)
	}
	client, err := embedding.NewOpenAIClient(embedding.OpenAIConfig{
		BaseURL:    s.config.EmbeddingBaseURL,
		APIKey:     s.config.EmbeddingAPIKey,
		Model:      s.config.EmbeddingModel,
		Dimensions: s.config.EmbeddingDimensions,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Embedding client unavailable, similarity falls back to term overlap")
		return embedding.NewService(nil)
	}
	return embedding.NewService(client)
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(MaxBodySize(1 << 20))
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/stats", s.handleStats)

	s.router.Route("/api/businesses/{businessID}", func(r chi.Router) {
		r.Post("/dna/run", s.handleDNARun)
		r.Get("/deadletters", s.handleDeadLetters)

		r.Route("/categories/{category}", func(r chi.Router) {
			r.Post("/corrections", s.handleCorrection)
			r.Post("/outcomes", s.handleOutcome)
			r.Get("/context", s.handleInjectionContext)
			r.Get("/profile", s.handleProfile)
		})
	})
}

// Start begins serving HTTP requests. It returns once the listener is
// running; serve errors after startup are logged.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.WorkerPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	log.Info().Int("port", s.config.WorkerPort).Str("version", s.version).Msg("Worker started")
	return nil
}

// Stop shuts the service down gracefully.
func (s *Service) Stop(ctx context.Context) error {
	log.Info().Msg("Worker stopping")
	s.cancel()

	var firstErr error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	s.wg.Wait()

	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
