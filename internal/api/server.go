package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-veil/internal/config"
	"github.com/raaihank/pii-veil/internal/logger"
	"github.com/raaihank/pii-veil/internal/obfuscation"
	"github.com/raaihank/pii-veil/internal/security"
	"github.com/raaihank/pii-veil/internal/session"
	"github.com/raaihank/pii-veil/internal/websocket"
)

// Version is reported by /info
const Version = "0.1.0"

// Server is the HTTP front of the masking engine
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	engine   *obfuscation.Engine
	sessions *session.Manager
	limiter  *security.RateLimiter
	wsHub    *websocket.Hub
	router   *mux.Router
	server   *http.Server

	upstreams map[string]*url.URL
	transport http.RoundTripper

	mu           sync.RWMutex
	defaultWords []string

	started time.Time
}

// New creates a new API server instance
func New(cfg *config.Config, log *logger.Logger, engine *obfuscation.Engine, sessions *session.Manager) (*Server, error) {
	upstreams := make(map[string]*url.URL, len(cfg.Relay.Upstreams))
	for provider, raw := range cfg.Relay.Upstreams {
		target, err := url.Parse(raw)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("invalid upstream url for %s: %q", provider, raw)
		}
		upstreams[provider] = target
	}

	var hub *websocket.Hub
	if cfg.WebSocket.Enabled {
		hub = websocket.NewHub(websocket.NewHubConfig(cfg.WebSocket), log.WithComponent("websocket").Logger)
	}

	s := &Server{
		config:       cfg,
		logger:       log.WithComponent("api"),
		engine:       engine,
		sessions:     sessions,
		limiter:      security.NewRateLimiter(cfg.RateLimit),
		wsHub:        hub,
		router:       mux.NewRouter(),
		upstreams:    upstreams,
		transport:    &http.Transport{Proxy: http.ProxyFromEnvironment, ResponseHeaderTimeout: cfg.Relay.Timeout},
		defaultWords: append([]string(nil), cfg.Engine.CustomWords...),
		started:      time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.wsHub != nil {
		path := s.config.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(s.requestIDMiddleware, s.loggingMiddleware, s.rateLimitMiddleware, s.bodyLimitMiddleware)

	v1.HandleFunc("/obfuscate", s.handleObfuscate).Methods(http.MethodPost)
	v1.HandleFunc("/deobfuscate", s.handleDeobfuscate).Methods(http.MethodPost)

	v1.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	v1.HandleFunc("/sessions/{id}/obfuscate", s.handleSessionObfuscate).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/deobfuscate", s.handleSessionDeobfuscate).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/clear", s.handleSessionClear).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/custom-words", s.handleSetCustomWords).Methods(http.MethodPut)
	v1.HandleFunc("/sessions/{id}/custom-words", s.handleAddCustomWord).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/custom-words/{index}", s.handleRemoveCustomWord).Methods(http.MethodDelete)

	if s.config.Relay.Enabled {
		relay := s.router.PathPrefix("/relay/{provider}").Subrouter()
		relay.Use(s.requestIDMiddleware, s.loggingMiddleware, s.rateLimitMiddleware, s.bodyLimitMiddleware)
		relay.PathPrefix("/").HandlerFunc(s.handleRelay)
	}
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// ApplyEngineConfig reconfigures categories and default custom words without a restart
func (s *Server) ApplyEngineConfig(cfg config.EngineConfig) error {
	if err := s.engine.Configure(obfuscation.Options{Categories: cfg.Categories, LeadWords: cfg.LeadWords}); err != nil {
		return err
	}
	s.sessions.SetDefaultCustomWords(cfg.CustomWords)

	s.mu.Lock()
	s.defaultWords = append([]string(nil), cfg.CustomWords...)
	s.mu.Unlock()

	s.logger.Info("Engine configuration applied",
		zap.Strings("categories", cfg.Categories),
		zap.Int("custom_words", len(cfg.CustomWords)))
	return nil
}

func (s *Server) defaultCustomWords() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.defaultWords...)
}

// Start runs background routines and serves HTTP until Stop is called
func (s *Server) Start(ctx context.Context) error {
	providers := make([]string, 0, len(s.upstreams))
	for p := range s.upstreams {
		providers = append(providers, p)
	}

	s.logger.Info("Starting pii-veil server",
		zap.Int("port", s.config.Server.Port),
		zap.String("store_backend", s.config.Store.Backend),
		zap.Bool("relay_enabled", s.config.Relay.Enabled),
		zap.Strings("relay_providers", providers))

	s.limiter.StartCleanupRoutine(ctx)
	if s.wsHub != nil {
		go s.wsHub.Run(ctx)
		go s.statusLoop(ctx, 30*time.Second)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping pii-veil server")
	return s.server.Shutdown(ctx)
}

func (s *Server) statusLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wsHub.BroadcastEvent(websocket.Event{
				Type: websocket.EventTypeSystemStatus,
				Data: s.systemStatus(),
			})
		}
	}
}

func (s *Server) systemStatus() websocket.SystemStatusEvent {
	categories := make([]string, 0)
	for _, c := range s.engine.EnabledCategories() {
		categories = append(categories, string(c))
	}

	clients := 0
	if s.wsHub != nil {
		clients = int(s.wsHub.GetStats().ActiveConnections)
	}

	return websocket.SystemStatusEvent{
		Status:           "healthy",
		Uptime:           time.Since(s.started).Round(time.Second).String(),
		StoreBackend:     s.config.Store.Backend,
		Categories:       categories,
		ConnectedClients: clients,
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	status := s.systemStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":              "pii-veil",
		"version":           Version,
		"categories":        status.Categories,
		"store_backend":     status.StoreBackend,
		"relay_enabled":     s.config.Relay.Enabled,
		"websocket_enabled": s.wsHub != nil,
		"uptime":            status.Uptime,
	})
}
