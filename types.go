package noema

import "github.com/noema-ai/noema/internal/model"

// Role levels, re-exported for embedders that need to call RequireRole
// from a RouteRegistrar without importing internal/model directly.
const (
	RoleAdmin  = model.RoleAdmin
	RoleAgent  = model.RoleAgent
	RoleReader = model.RoleReader
)

// SeedResult is returned by App.SeedAdmin: the one-time admin API key must
// be captured by the caller — it is never stored or retrievable again.
type SeedResult struct {
	AgentID string
	APIKey  string
}
