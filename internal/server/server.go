package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/noema-ai/noema/internal/auth"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/ratelimit"
)

// Server is the noema HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): RateLimiter, MCPServer.
type ServerConfig struct {
	Deps HandlersDeps

	JWTMgr *auth.JWTManager
	Dir    *auth.Directory

	RateLimiter *ratelimit.Limiter
	MCPServer   *mcpserver.MCPServer

	// ExtraRoutes let embedders register additional routes on the shared mux
	// after all built-in routes, using the same RBAC chain (RoleMiddlewareFn).
	ExtraRoutes []func(*http.ServeMux, RoleMiddlewareFn)
	// Middlewares wrap the root handler, outermost, in registration order.
	Middlewares []func(http.Handler) http.Handler

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	CORSAllowedOrigins  []string
	TrustProxy          bool
	Logger              *slog.Logger
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(cfg.Deps)

	mux := http.NewServeMux()

	// Auth endpoints (no auth required).
	mux.Handle("POST /auth/token", http.HandlerFunc(h.HandleAuthToken))

	// Agent management (admin-only).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/agents", adminOnly(http.HandlerFunc(h.HandleCreateAgent)))
	mux.Handle("GET /v1/agents", adminOnly(http.HandlerFunc(h.HandleListAgents)))
	mux.Handle("GET /v1/agents/{agent_id}", adminOnly(http.HandlerFunc(h.HandleGetAgent)))
	mux.Handle("PATCH /v1/agents/{agent_id}", adminOnly(http.HandlerFunc(h.HandleUpdateAgent)))
	mux.Handle("DELETE /v1/agents/{agent_id}", adminOnly(http.HandlerFunc(h.HandleDeleteAgent)))
	mux.Handle("POST /v1/agents/{agent_id}/rotate-key", adminOnly(http.HandlerFunc(h.HandleRotateAPIKey)))
	mux.Handle("GET /v1/retention/policy", adminOnly(http.HandlerFunc(h.HandleGetRetentionPolicy)))
	mux.Handle("PUT /v1/retention/policy", adminOnly(http.HandlerFunc(h.HandleSetRetentionPolicy)))
	mux.Handle("GET /v1/export/institutional", adminOnly(http.HandlerFunc(h.HandleExportInstitutional)))

	// Memory write/maintenance endpoints (agent+).
	writeRole := requireRole(model.RoleAgent)
	mux.Handle("POST /v1/memory", writeRole(http.HandlerFunc(h.HandleStoreMemory)))
	mux.Handle("POST /v1/memory/{id}/promote", writeRole(http.HandlerFunc(h.HandlePromoteMemory)))
	mux.Handle("POST /v1/memory/{id}/demote", writeRole(http.HandlerFunc(h.HandleDemoteMemory)))
	mux.Handle("POST /v1/retention/evaluate", writeRole(http.HandlerFunc(h.HandleRetentionEvaluate)))
	mux.Handle("POST /v1/sessions/{id}/ingest", writeRole(http.HandlerFunc(h.HandleIngestSession)))
	mux.Handle("POST /v1/sessions/{id}/promote", writeRole(http.HandlerFunc(h.HandlePromoteSession)))
	mux.Handle("POST /v1/claims/{id}/status", writeRole(http.HandlerFunc(h.HandleSetClaimStatus)))
	mux.Handle("POST /v1/minority", writeRole(http.HandlerFunc(h.HandleRecordMinority)))
	mux.Handle("POST /v1/minority/{agent}/accuracy", writeRole(http.HandlerFunc(h.HandleTrackAccuracy)))
	mux.Handle("POST /v1/decisions", writeRole(http.HandlerFunc(h.HandleRecordDecision)))

	// Read endpoints (reader+).
	readRole := requireRole(model.RoleReader)
	mux.Handle("GET /v1/memory/{id}", readRole(http.HandlerFunc(h.HandleGetMemory)))
	mux.Handle("POST /v1/memory/query", readRole(http.HandlerFunc(h.HandleQueryMemory)))
	mux.Handle("POST /v1/memory/priority", readRole(http.HandlerFunc(h.HandlePriorityQuery)))
	mux.Handle("GET /v1/graph/facts/{topic}", readRole(http.HandlerFunc(h.HandleGraphFacts)))
	mux.Handle("GET /v1/graph/path", readRole(http.HandlerFunc(h.HandleGraphPath)))
	mux.Handle("POST /v1/consistency/check", readRole(http.HandlerFunc(h.HandleConsistencyCheck)))
	mux.Handle("GET /v1/consistency/summary", readRole(http.HandlerFunc(h.HandleConsistencySummary)))
	mux.Handle("GET /v1/claims/by-status/{status}", readRole(http.HandlerFunc(h.HandleClaimsByStatus)))
	mux.Handle("GET /v1/minority/reliable", readRole(http.HandlerFunc(h.HandleReliableDissenters)))
	mux.Handle("GET /v1/decisions/{id}/report", readRole(http.HandlerFunc(h.HandleDecisionReport)))
	mux.Handle("GET /v1/audit/weakly-supported", readRole(http.HandlerFunc(h.HandleAuditWeaklySupported)))
	mux.Handle("GET /v1/audit/conflicts", readRole(http.HandlerFunc(h.HandleAuditConflicts)))
	mux.Handle("GET /v1/audit/wisdom", readRole(http.HandlerFunc(h.HandleAuditWisdom)))
	mux.Handle("GET /v1/audit/trend", readRole(http.HandlerFunc(h.HandleAuditTrend)))

	// MCP StreamableHTTP transport (auth required, reader+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readRole(mcpHTTP))
	}

	// Config (no auth — feature flags for SDK clients).
	mux.HandleFunc("GET /config", h.HandleConfig)

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Embedder-supplied routes, registered last so they see a fully-populated mux.
	for _, register := range cfg.ExtraRoutes {
		register(mux, RequireRole)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → baggage → auth → recovery → rateLimit → handler.
	var handler http.Handler = mux
	if cfg.RateLimiter != nil {
		handler = rateLimitMiddleware(cfg.RateLimiter, cfg.Logger, cfg.TrustProxy, handler)
	}
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, cfg.Dir, handler)
	handler = baggageMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  2 * cfg.ReadTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers, e.g. for seeding the first admin agent.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
