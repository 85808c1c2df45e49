package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/agentworkforce/relaydoc/internal/collab"
)

type ServerConfig struct {
	JWTSecret       string
	JWTAudience     string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxMessageBytes int64
	SendBuffer      int
	WriteTimeout    time.Duration
	JoinTimeout     time.Duration
	// AllowedOrigins are host patterns accepted for cross-origin WebSocket
	// upgrades. Same-origin requests are always accepted.
	AllowedOrigins []string
}

type Server struct {
	registry    *collab.Registry
	cfg         ServerConfig
	rateLimiter *rateLimiter
	router      *mux.Router

	baseCtx context.Context
	cancel  context.CancelFunc
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(registry *collab.Registry) *Server {
	return NewServerWithConfig(registry, ServerConfig{})
}

func NewServerWithConfig(registry *collab.Registry, cfg ServerConfig) *Server {
	if registry == nil {
		registry = collab.NewRegistry(collab.RegistryOptions{})
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.JWTAudience == "" {
		cfg.JWTAudience = "relaydoc"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1 << 20
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		registry:    registry,
		cfg:         cfg,
		rateLimiter: limiter,
		baseCtx:     ctx,
		cancel:      cancel,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/v1/session", s.handleSession).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/sessions", s.handleAdminSessions).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/sessions/{documentId}", s.handleAdminSession).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", getCorrelationID(r))
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close ends every open session connection. http.Server.Shutdown does not
// track upgraded connections, so callers shut down the listener first and
// then call Close.
func (s *Server) Close() {
	s.cancel()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.registry.Snapshot()),
	})
}

func getCorrelationID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Correlation-Id"))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
