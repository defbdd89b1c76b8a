package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-embed/internal/cache"
	"github.com/raaihank/sentinel-embed/internal/config"
	"github.com/raaihank/sentinel-embed/internal/embeddings"
	"github.com/raaihank/sentinel-embed/internal/logger"
	"github.com/raaihank/sentinel-embed/internal/vector"
	"github.com/raaihank/sentinel-embed/internal/web"
	"github.com/raaihank/sentinel-embed/internal/websocket"
)

// Searcher is the part of the vector store the API exposes
type Searcher interface {
	FindSimilar(ctx context.Context, embedding []float32, options *vector.SearchOptions) ([]*vector.SimilarityResult, error)
	GetStats(ctx context.Context) (*vector.Stats, error)
}

// CacheMonitor is the part of the embedding cache the API reports on
type CacheMonitor interface {
	GetStats(ctx context.Context) (*cache.CacheStats, error)
	Ping(ctx context.Context) error
}

// Options carries optional collaborators of the server
type Options struct {
	Version string
	Store   Searcher     // nil disables /v1/search
	Cache   CacheMonitor // nil omits cache stats and health
}

// Server is the embedding HTTP API
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	service   embeddings.EmbeddingService
	store     Searcher
	cache     CacheMonitor
	version   string
	router    *mux.Router
	server    *http.Server
	wsHub     *websocket.Hub
	limiter   *RateLimiter
	startTime time.Time
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, service embeddings.EmbeddingService, opts Options) *Server {
	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		service:   service,
		store:     opts.Store,
		cache:     opts.Cache,
		version:   opts.Version,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	if s.version == "" {
		s.version = "dev"
	}

	if cfg.WebSocket.Enabled {
		s.wsHub = websocket.NewHub(hubConfig(cfg.WebSocket, cfg.Server.TrustProxyHeaders), log.WithComponent("websocket").Logger)
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		s.limiter = NewRateLimiter(rl.RequestsPerSecond, rl.Burst)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

func hubConfig(c config.WebSocketConfig, trustProxy bool) *websocket.HubConfig {
	return &websocket.HubConfig{
		BroadcastEmbeddings:   c.Events.BroadcastEmbeddings,
		BroadcastSimilarities: c.Events.BroadcastSimilarities,
		BroadcastSystem:       c.Events.BroadcastSystem,
		BroadcastConnections:  c.Events.BroadcastConnections,
		MaxConnections:        c.MaxConnections,
		ReadBufferSize:        c.ReadBufferSize,
		WriteBufferSize:       c.WriteBufferSize,
		PingInterval:          c.PingInterval,
		PongTimeout:           c.PongTimeout,
		WriteTimeout:          c.WriteTimeout,
		MaxMessageSize:        c.MaxMessageSize,
		AllowedOrigins:        c.AllowedOrigins,
		TrustProxyHeaders:     trustProxy,
		Username:              c.Username,
		Password:              c.Password,
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	if s.wsHub != nil {
		s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
		s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)
		s.router.HandleFunc(s.wsPath(), s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	if s.limiter != nil {
		api.Use(s.rateLimitMiddleware)
	}
	api.HandleFunc("/embeddings", s.handleEmbeddings).Methods(http.MethodPost)
	api.HandleFunc("/similarity", s.handleSimilarity).Methods(http.MethodPost)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
}

func (s *Server) clientIP(r *http.Request) string {
	return websocket.ClientIP(r, s.config.Server.TrustProxyHeaders)
}

func (s *Server) wsPath() string {
	if s.config.WebSocket.Path == "" {
		return "/ws"
	}
	return s.config.WebSocket.Path
}

// Handler returns the router, for tests and embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs background workers and serves HTTP until Stop is called
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting sentinel-embed server",
		zap.Int("port", s.config.Server.Port),
		zap.String("version", s.version),
		zap.Bool("websocket", s.wsHub != nil),
		zap.Bool("rate_limit", s.limiter != nil),
		zap.Bool("vector_search", s.store != nil),
	)

	if s.wsHub != nil {
		go s.wsHub.Run(ctx)
		s.wsHub.StartStatusBroadcaster(ctx, s.config.WebSocket.StatusInterval, s.systemStatus)
	}
	if s.limiter != nil {
		s.limiter.StartCleanupRoutine(ctx)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping sentinel-embed server")
	return s.server.Shutdown(ctx)
}

// Hub returns the WebSocket hub, or nil when websockets are disabled
func (s *Server) Hub() *websocket.Hub {
	return s.wsHub
}

func (s *Server) systemStatus() websocket.SystemStatusEvent {
	stats := s.service.GetStats()
	status := "healthy"
	if err := s.service.HealthCheck(context.Background()); err != nil {
		status = "unhealthy"
	}
	return websocket.SystemStatusEvent{
		Status:          status,
		Uptime:          time.Since(s.startTime).Round(time.Second).String(),
		Model:           stats.ModelName,
		Dimensions:      stats.Dimensions,
		TotalTexts:      stats.TotalTexts,
		TotalInferences: stats.TotalInferences,
		AvgInferenceMS:  float64(stats.AvgInferenceTime) / float64(time.Millisecond),
		CacheHitRatio:   stats.CacheHitRatio,
		ErrorRate:       stats.ErrorRate,
	}
}
