package noema

import (
	"net/http"

	"github.com/noema-ai/noema/internal/ai"
	"github.com/noema-ai/noema/internal/model"
)

// AIProvider replaces the auto-selected ai.Provider used for summarization,
// entity/relation extraction, confidence scoring, contradiction detection,
// and embeddings. When not overridden via WithProvider, the heuristic
// provider is used — it never errors and never requires external services.
type AIProvider = ai.Provider

// EventHook is the interface for memory lifecycle notifications. Hooks
// registered with WithEventHook are kept on the App, but no component calls
// them, so no event is delivered.
type EventHook interface {
	OnClaimStored(claim model.Claim)
	OnContradictionDetected(conflict model.ConflictObject)
}

// RouteRegistrar registers additional routes on the shared HTTP mux after
// every built-in route has been registered. Extra routes share the same
// auth chain and middleware stack as the built-in surface.
type RouteRegistrar func(mux *http.ServeMux, auth AuthHelper)

// AuthHelper exposes the server's role-based middleware to RouteRegistrar
// callbacks without requiring them to import internal/server.
type AuthHelper interface {
	RequireRole(role model.AgentRole) func(http.Handler) http.Handler
}

// Middleware wraps the root HTTP handler, outermost — it sees every
// request, including unauthenticated ones like /health.
type Middleware func(http.Handler) http.Handler
