package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/audit"
	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/raaihank/case-sentinel/internal/metrics"
	"github.com/raaihank/case-sentinel/internal/privacy"
	"github.com/raaihank/case-sentinel/internal/security"
	"github.com/raaihank/case-sentinel/internal/session"
	"github.com/raaihank/case-sentinel/internal/validator"
	"github.com/raaihank/case-sentinel/internal/web"
	"github.com/raaihank/case-sentinel/internal/websocket"
)

const version = "0.2.0"

// Server hosts the anonymization API and the anonymizing upstream proxy
type Server struct {
	config     *config.Config
	logger     *logger.Logger
	anonymizer *privacy.Anonymizer
	auditor    *privacy.Auditor
	validator  *validator.Validator
	sessions   session.Store
	recorder   audit.Recorder
	limiter    *security.RateLimiter
	metrics    *metrics.Metrics
	wsHub      *websocket.Hub
	transport  http.RoundTripper
	router     *mux.Router
	server     *http.Server
	startTime  time.Time
	cancel     context.CancelFunc
}

// Option overrides a dependency that New would otherwise build from config
type Option func(*Server)

// WithSessionStore sets the mapping store
func WithSessionStore(store session.Store) Option {
	return func(s *Server) { s.sessions = store }
}

// WithRecorder sets the audit recorder
func WithRecorder(rec audit.Recorder) Option {
	return func(s *Server) { s.recorder = rec }
}

// WithTransport sets the round tripper used for upstream AI calls
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Server) { s.transport = rt }
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("proxy"),
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	anonymizer, err := privacy.NewFromConfig(cfg.Privacy, log.WithComponent("privacy").Logger)
	if err != nil {
		return nil, err
	}
	s.anonymizer = anonymizer
	s.auditor = privacy.NewAuditor(s.anonymizer, log.WithComponent("auditor").Logger)
	s.validator = validator.New(cfg.Validation, log.WithComponent("validator").Logger)

	if s.sessions == nil {
		s.sessions, err = session.New(cfg.Session, log.WithComponent("session").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create session store: %w", err)
		}
	}
	if s.recorder == nil {
		s.recorder, err = audit.New(cfg.Audit, log.WithComponent("audit").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create audit recorder: %w", err)
		}
	}
	if s.transport == nil {
		s.transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.Upstream.Timeout,
		}
	}

	s.limiter = security.NewRateLimiter(cfg.Security.RateLimit)
	s.metrics = metrics.New(cfg.Metrics.Namespace)
	s.wsHub = websocket.NewHub(cfg.WebSocket, log.WithComponent("websocket").Logger)

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
	s.router.Use(s.requestIDMiddleware, s.loggingMiddleware, s.rateLimitMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}
	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
		s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
		s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/anonymize", s.handleAnonymize).Methods(http.MethodPost)
	api.HandleFunc("/anonymize/structured", s.handleAnonymizeStructured).Methods(http.MethodPost)
	api.HandleFunc("/restore", s.handleRestore).Methods(http.MethodPost)
	api.HandleFunc("/restore/structured", s.handleRestoreStructured).Methods(http.MethodPost)
	api.HandleFunc("/verify", s.handleVerify).Methods(http.MethodPost)
	api.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	api.HandleFunc("/regression", s.handleRegression).Methods(http.MethodGet)

	for _, provider := range []string{"openai", "anthropic", "ollama"} {
		s.router.PathPrefix("/" + provider).Handler(s.providerHandler(provider))
	}
}

// Start starts the HTTP server and its background workers
func (s *Server) Start() error {
	s.logger.Info("Starting case-sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.String("session_backend", s.config.Session.Backend),
		zap.Bool("audit_enabled", s.config.Audit.Enabled),
		zap.String("upstream_openai", s.config.Upstream.OpenAI),
		zap.String("upstream_anthropic", s.config.Upstream.Anthropic),
		zap.String("upstream_ollama", s.config.Upstream.Ollama),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.wsHub.Run(ctx)
	go s.limiter.StartCleanupRoutine(ctx)
	go s.reportStatus(ctx, 30*time.Second)

	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server and releases its stores
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping case-sentinel server")
	if s.cancel != nil {
		s.cancel()
	}
	err := s.server.Shutdown(ctx)
	if cerr := s.sessions.Close(); cerr != nil {
		s.logger.Warn("Failed to close session store", zap.Error(cerr))
	}
	if cerr := s.recorder.Close(); cerr != nil {
		s.logger.Warn("Failed to close audit recorder", zap.Error(cerr))
	}
	return err
}

// ApplyConfig re-applies the hot-reloadable parts of a changed config
func (s *Server) ApplyConfig(cfg *config.Config) error {
	if err := s.anonymizer.Detector().Configure(cfg.Privacy.Detectors); err != nil {
		return err
	}
	s.logger.Info("Detector configuration reloaded",
		zap.Strings("detectors", cfg.Privacy.Detectors),
		zap.Int("enabled_rules", len(s.anonymizer.Detector().EnabledRules())),
	)
	return nil
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}

func (s *Server) reportStatus(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wsHub.BroadcastEvent(websocket.Event{
				Type: websocket.EventTypeSystemStatus,
				Data: s.status(),
			})
		}
	}
}

func (s *Server) status() websocket.SystemStatusEvent {
	return websocket.SystemStatusEvent{
		Status:           "healthy",
		Uptime:           time.Since(s.startTime).Round(time.Second).String(),
		ActiveRules:      len(s.anonymizer.Detector().EnabledRules()),
		ConnectedClients: int(s.wsHub.GetStats().ActiveConnections),
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
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":            "case-sentinel",
		"version":         version,
		"privacy_enabled": s.config.Privacy.Enabled,
		"session_backend": s.config.Session.Backend,
		"audit_enabled":   s.config.Audit.Enabled,
		"patterns":        s.anonymizer.Detector().Registry().Len(),
		"enabled_rules":   s.anonymizer.Detector().EnabledRules(),
		"uptime":          time.Since(s.startTime).Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
