package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fretelli/AIWendy/api/handlers"
	"github.com/fretelli/AIWendy/config"
	"github.com/fretelli/AIWendy/internal/metrics"
	"github.com/fretelli/AIWendy/internal/server"
	"github.com/fretelli/AIWendy/internal/telemetry"
	"github.com/fretelli/AIWendy/knowledge"
	"github.com/fretelli/AIWendy/providers/openai"
	"github.com/fretelli/AIWendy/roundtable"
	"github.com/fretelli/AIWendy/store"
)

// =============================================================================
// Server
// =============================================================================

// Server wires the roundtable service together and owns its lifecycle.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler   *handlers.HealthHandler
	sessionHandler  *handlers.SessionHandler
	exchangeHandler *handlers.ExchangeHandler

	metricsCollector *metrics.Collector
	store            *store.Store
	provider         *openai.Provider
	retriever        knowledge.Retriever
	retrieverCache   *knowledge.CachedRetriever
	orchestrator     *roundtable.Orchestrator
	otelProviders    *telemetry.Providers

	rateLimiterCancel context.CancelFunc
}

// NewServer creates a server from loaded configuration.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// =============================================================================
// Startup
// =============================================================================

// Start brings up the store, the orchestration core and both listeners.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("aiwendy", s.logger)

	if err := s.initStore(); err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}

	s.initOrchestrator()
	s.initHandlers()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)

	return nil
}

// =============================================================================
// Initialization
// =============================================================================

func (s *Server) initStore() error {
	storeCfg := store.DefaultConfig()
	storeCfg.Driver = s.cfg.Database.Driver
	storeCfg.DSN = s.cfg.Database.DSN()
	if s.cfg.Database.MaxOpenConns > 0 {
		storeCfg.MaxOpenConns = s.cfg.Database.MaxOpenConns
	}
	if s.cfg.Database.MaxIdleConns > 0 {
		storeCfg.MaxIdleConns = s.cfg.Database.MaxIdleConns
	}
	if s.cfg.Database.ConnMaxLifetime > 0 {
		storeCfg.ConnMaxLifetime = s.cfg.Database.ConnMaxLifetime
	}

	st, err := store.Open(storeCfg, s.logger, s.metricsCollector)
	if err != nil {
		return err
	}
	s.store = st

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.SeedCoaches(ctx, defaultCoaches()); err != nil {
		return fmt.Errorf("seed coaches: %w", err)
	}

	return nil
}

func (s *Server) initOrchestrator() {
	s.provider = openai.NewProvider(openai.Config{
		APIKey:  s.cfg.LLM.APIKey,
		BaseURL: s.cfg.LLM.BaseURL,
		Model:   s.cfg.LLM.Model,
		Timeout: s.cfg.LLM.Timeout,
	}, s.logger)

	if s.cfg.Knowledge.Enabled && s.cfg.Knowledge.Endpoint != "" {
		s.retriever = knowledge.NewHTTPRetriever(knowledge.HTTPConfig{
			Endpoint: s.cfg.Knowledge.Endpoint,
			Timeout:  s.cfg.Knowledge.Timeout,
		}, s.logger)

		if s.cfg.Redis.Enabled {
			s.retrieverCache = knowledge.NewCachedRetriever(s.retriever, knowledge.CacheConfig{
				Addr:     s.cfg.Redis.Addr,
				Password: s.cfg.Redis.Password,
				DB:       s.cfg.Redis.DB,
				TTL:      s.cfg.Knowledge.CacheTTL,
				PoolSize: s.cfg.Redis.PoolSize,
			}, s.logger)
			s.retriever = s.retrieverCache
		}
		s.logger.Info("Knowledge retrieval enabled",
			zap.String("endpoint", s.cfg.Knowledge.Endpoint),
			zap.Bool("cached", s.retrieverCache != nil))
	} else {
		s.logger.Info("Knowledge retrieval disabled")
	}

	limits := roundtable.DefaultLimits()
	if s.cfg.Roundtable.MaxRounds > 0 {
		limits.MaxRounds = s.cfg.Roundtable.MaxRounds
	}
	if s.cfg.Roundtable.EventBuffer > 0 {
		limits.EventBuffer = s.cfg.Roundtable.EventBuffer
	}
	if s.cfg.Roundtable.MaxTopK > 0 {
		limits.MaxTopK = s.cfg.Roundtable.MaxTopK
	}
	if s.cfg.Roundtable.MaxCandidates > 0 {
		limits.MaxCandidates = s.cfg.Roundtable.MaxCandidates
	}
	if s.cfg.Roundtable.PromptBudget > 0 {
		limits.PromptBudget = s.cfg.Roundtable.PromptBudget
	}

	s.orchestrator = roundtable.NewOrchestrator(
		s.provider,
		s.retriever,
		limits,
		s.logger,
		roundtable.WithMetrics(s.metricsCollector),
	)
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(Version, s.logger)
	s.healthHandler.RegisterCheck(handlers.CheckFunc{
		CheckName: "database",
		Fn:        s.store.Ping,
	})
	s.healthHandler.RegisterCheck(handlers.CheckFunc{
		CheckName: "llm",
		Fn: func(ctx context.Context) error {
			status, err := s.provider.HealthCheck(ctx)
			if err != nil {
				return err
			}
			if !status.Healthy {
				return fmt.Errorf("provider %s unhealthy", s.provider.Name())
			}
			return nil
		},
	})

	s.sessionHandler = handlers.NewSessionHandler(s.store, s.logger)
	s.exchangeHandler = handlers.NewExchangeHandler(s.store, s.orchestrator, s.logger)

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// HTTP server
// =============================================================================

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// Probes and version
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", handleVersion)

	// Session API
	mux.HandleFunc("GET /api/v1/coaches", s.sessionHandler.HandleCoaches)
	mux.HandleFunc("POST /api/v1/sessions", s.sessionHandler.HandleCreate)
	mux.HandleFunc("GET /api/v1/sessions", s.sessionHandler.HandleList)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.sessionHandler.HandleGet)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", s.sessionHandler.HandleUpdate)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", s.sessionHandler.HandleMessages)
	mux.HandleFunc("POST /api/v1/sessions/{id}/end", s.sessionHandler.HandleEnd)

	// Exchange API
	mux.HandleFunc("POST /api/v1/exchange", s.exchangeHandler.HandleExchange)
	mux.HandleFunc("GET /api/v1/exchange/ws", s.exchangeHandler.HandleExchangeWS)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		CORS(s.cfg.Server.CORSOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	handlers.WriteSuccess(w, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// =============================================================================
// Metrics server
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// Shutdown
// =============================================================================

// WaitForShutdown blocks until a termination signal, then cleans up.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the listeners and releases backing resources in order.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.retrieverCache != nil {
		if err := s.retrieverCache.Close(); err != nil {
			s.logger.Error("Retrieval cache shutdown error", zap.Error(err))
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Store shutdown error", zap.Error(err))
		}
	}

	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

// =============================================================================
// Default roster
// =============================================================================

// defaultCoaches is the seed roster inserted on first start. Existing rows
// are left untouched so operators can edit coaches in place.
func defaultCoaches() []store.Coach {
	return []store.Coach{
		{
			ID:          "strategist",
			Name:        "Sage",
			Style:       "analytical",
			Description: "Breaks the problem into options and trade-offs before recommending a path.",
			SystemPrompt: "You are Sage, a strategy coach. Structure the discussion: clarify the goal, " +
				"lay out the options with their trade-offs, and recommend a concrete next step.",
			Temperature: 0.5,
			SortOrder:   1,
			IsActive:    true,
		},
		{
			ID:          "risk",
			Name:        "Rhea",
			Style:       "cautious",
			Description: "Stress-tests every plan for downside, sizing and what could go wrong.",
			SystemPrompt: "You are Rhea, a risk coach. For every idea raised, name the downside, the " +
				"exposure, and how to cap it. Be specific about sizing and exit conditions.",
			Temperature: 0.4,
			SortOrder:   2,
			IsActive:    true,
		},
		{
			ID:          "mindset",
			Name:        "Milo",
			Style:       "empathetic",
			Description: "Focuses on discipline, emotion and the habits behind consistent execution.",
			SystemPrompt: "You are Milo, a mindset coach. Address the emotional and behavioral side: " +
				"discipline, patience, and the habits that make a plan stick.",
			Temperature: 0.7,
			SortOrder:   3,
			IsActive:    true,
		},
		{
			ID:          "contrarian",
			Name:        "Cole",
			Style:       "challenging",
			Description: "Argues the other side so weak assumptions surface early.",
			SystemPrompt: "You are Cole, a contrarian coach. Take the strongest credible opposing view " +
				"to whatever consensus is forming, and make the group defend its assumptions.",
			Temperature: 0.8,
			SortOrder:   4,
			IsActive:    true,
		},
		{
			ID:          "host",
			Name:        "Wendy",
			Style:       "moderator",
			Description: "Hosts moderated sessions: opens the topic, hands out turns, and closes with a summary.",
			SystemPrompt: "You are Wendy, the roundtable host. Keep the discussion on topic, give each " +
				"coach room to speak, and summarize the round's conclusions clearly.",
			Temperature: 0.6,
			IsModerator: true,
			SortOrder:   99,
			IsActive:    true,
		},
	}
}
