package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/noema-ai/noema/internal/ai"
	"github.com/noema-ai/noema/internal/auth"
	"github.com/noema-ai/noema/internal/consistency"
	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/epistat"
	"github.com/noema-ai/noema/internal/graph"
	"github.com/noema-ai/noema/internal/institutional"
	"github.com/noema-ai/noema/internal/keys"
	"github.com/noema-ai/noema/internal/lineage"
	"github.com/noema-ai/noema/internal/memory"
	"github.com/noema-ai/noema/internal/minority"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/priority"
	"github.com/noema-ai/noema/internal/retention"
	"github.com/noema-ai/noema/internal/selfaudit"
	"github.com/noema-ai/noema/internal/store"
)

// Handlers holds HTTP handler dependencies: one of each core component the
// substrate wires together, plus the pieces needed for auth and responses.
type Handlers struct {
	st       store.Store
	dir      *auth.Directory
	jwtMgr   *auth.JWTManager
	provider ai.Provider
	mem      *memory.Orchestrator
	g        *graph.Store
	ingestor *graph.Ingestor
	check    *consistency.Checker
	epi      *epistat.Tracker
	minor    *minority.Tracker
	inst     *institutional.Separator
	lin      *lineage.Tracker
	audit    *selfaudit.Auditor

	logger              *slog.Logger
	startedAt           time.Time
	maxRequestBodyBytes int64
	version             string
	storeKind           string
	dispatcherKind      string
}

// HandlersDeps bundles everything NewHandlers needs to wire a Handlers.
type HandlersDeps struct {
	Store    store.Store
	Dir      *auth.Directory
	JWTMgr   *auth.JWTManager
	Provider ai.Provider
	Mem      *memory.Orchestrator
	Graph    *graph.Store
	Ingestor *graph.Ingestor
	Check    *consistency.Checker
	Epi      *epistat.Tracker
	Minor    *minority.Tracker
	Inst     *institutional.Separator
	Lin      *lineage.Tracker
	Audit    *selfaudit.Auditor

	Logger              *slog.Logger
	MaxRequestBodyBytes int64
	Version             string
	StoreKind           string
	DispatcherKind      string
}

// NewHandlers constructs a Handlers from its dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		st:                  d.Store,
		dir:                 d.Dir,
		jwtMgr:              d.JWTMgr,
		provider:            d.Provider,
		mem:                 d.Mem,
		g:                   d.Graph,
		ingestor:            d.Ingestor,
		check:               d.Check,
		epi:                 d.Epi,
		minor:               d.Minor,
		inst:                d.Inst,
		lin:                 d.Lin,
		audit:               d.Audit,
		logger:              d.Logger,
		startedAt:           time.Now(),
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		version:             d.Version,
		storeKind:           d.StoreKind,
		dispatcherKind:      d.DispatcherKind,
	}
}

func (h *Handlers) tenant(r *http.Request) string {
	return OrgIDFromContext(r.Context()).String()
}

func (h *Handlers) decode(r *http.Request, target any) error {
	return decodeJSON(r, target, h.maxRequestBodyBytes)
}

// ---------------------------------------------------------------------------
// Auth & agent management
// ---------------------------------------------------------------------------

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.OrgID == "" || req.AgentID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "org_id, agent_id, and api_key are required")
		return
	}

	agent, err := h.dir.VerifyAPIKey(r.Context(), req.OrgID, req.AgentID, req.APIKey)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(agent)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// CreateAgentRequest is the request body for POST /v1/agents.
type CreateAgentRequest struct {
	AgentID string          `json:"agent_id"`
	Name    string          `json:"name"`
	Role    model.AgentRole `json:"role"`
	Tags    []string        `json:"tags"`
}

// CreateAgentResponse returns the created agent plus its one-time raw API key.
type CreateAgentResponse struct {
	Agent  model.Agent `json:"agent"`
	APIKey string      `json:"api_key"`
}

// HandleCreateAgent handles POST /v1/agents (admin-only).
func (h *Handlers) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := model.ValidateAgentID(req.AgentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = model.RoleAgent
	}

	agent, rawKey, err := h.dir.CreateAgent(r.Context(), h.tenant(r), req.AgentID, req.Name, req.Role, req.Tags)
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, CreateAgentResponse{Agent: agent, APIKey: rawKey})
}

// HandleListAgents handles GET /v1/agents (admin-only).
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.dir.ListAgents(r.Context(), h.tenant(r))
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, agents)
}

// HandleGetAgent handles GET /v1/agents/{agent_id} (admin-only).
func (h *Handlers) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.dir.GetAgent(r.Context(), h.tenant(r), r.PathValue("agent_id"))
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, agent)
}

// UpdateAgentRequest is the request body for PATCH /v1/agents/{agent_id}.
type UpdateAgentRequest struct {
	Role *model.AgentRole `json:"role,omitempty"`
	Tags []string         `json:"tags,omitempty"`
}

// HandleUpdateAgent handles PATCH /v1/agents/{agent_id} (admin-only).
func (h *Handlers) HandleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req UpdateAgentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	agentID := r.PathValue("agent_id")
	var agent model.Agent
	var err error
	if req.Role != nil {
		agent, err = h.dir.UpdateAgentRole(r.Context(), h.tenant(r), agentID, *req.Role)
		if err != nil {
			writeCoreErr(w, r, err)
			return
		}
	}
	if req.Tags != nil {
		agent, err = h.dir.UpdateAgentTags(r.Context(), h.tenant(r), agentID, req.Tags)
		if err != nil {
			writeCoreErr(w, r, err)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, agent)
}

// HandleDeleteAgent handles DELETE /v1/agents/{agent_id} (admin-only).
func (h *Handlers) HandleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.dir.DeleteAgent(r.Context(), h.tenant(r), r.PathValue("agent_id")); err != nil {
		writeCoreErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateAPIKeyResponse carries the agent's freshly rotated raw API key.
type RotateAPIKeyResponse struct {
	Agent  model.Agent `json:"agent"`
	APIKey string      `json:"api_key"`
}

// HandleRotateAPIKey handles POST /v1/agents/{agent_id}/rotate-key (admin-only).
func (h *Handlers) HandleRotateAPIKey(w http.ResponseWriter, r *http.Request) {
	agent, rawKey, err := h.dir.RotateAPIKey(r.Context(), h.tenant(r), r.PathValue("agent_id"))
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, RotateAPIKeyResponse{Agent: agent, APIKey: rawKey})
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

// StoreMemoryRequest is the request body for POST /v1/memory.
type StoreMemoryRequest struct {
	AgentID        string            `json:"agent_id"`
	Content        string            `json:"content"`
	SubClaims      []model.SubClaim  `json:"claims,omitempty"`
	SurpriseSignal map[string]any    `json:"surprise_signal,omitempty"`
	SurpriseScore  *float64          `json:"surprise_score,omitempty"`
	Confidence     model.Confidence  `json:"confidence"`
	Evidence       []model.Evidence  `json:"evidence,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
}

// StoreMemoryResponse is the response for POST /v1/memory.
type StoreMemoryResponse struct {
	ID string `json:"id"`
}

// HandleStoreMemory handles POST /v1/memory.
func (h *Handlers) HandleStoreMemory(w http.ResponseWriter, r *http.Request) {
	var req StoreMemoryRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.AgentID == "" || req.Content == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent_id and content are required")
		return
	}

	id, err := h.mem.Store(r.Context(), h.tenant(r), memory.StoreInput{
		AgentID:        req.AgentID,
		Content:        req.Content,
		SubClaims:      req.SubClaims,
		SurpriseSignal: req.SurpriseSignal,
		SurpriseScore:  req.SurpriseScore,
		Confidence:     req.Confidence,
		Evidence:       req.Evidence,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, StoreMemoryResponse{ID: id})
}

// HandleGetMemory handles GET /v1/memory/{id}.
func (h *Handlers) HandleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	claim, err := h.mem.Get(r.Context(), h.tenant(r), id)
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	if err := h.mem.Touch(r.Context(), h.tenant(r), id); err != nil {
		h.logger.Warn("failed to record memory access", "error", err, "claim_id", id)
	}
	writeJSON(w, r, http.StatusOK, claim)
}

// QueryMemoryRequest is the request body for POST /v1/memory/query.
type QueryMemoryRequest struct {
	SurpriseMin   float64     `json:"surprise_min"`
	SurpriseMax   float64     `json:"surprise_max"`
	Layer         *model.Layer `json:"layer,omitempty"`
	AgentID       *string      `json:"agent_id,omitempty"`
	MinImportance *float64     `json:"min_importance,omitempty"`
}

// HandleQueryMemory handles POST /v1/memory/query.
func (h *Handlers) HandleQueryMemory(w http.ResponseWriter, r *http.Request) {
	var req QueryMemoryRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.SurpriseMax == 0 {
		req.SurpriseMax = 1
	}

	claims, err := h.mem.QueryBySurprise(r.Context(), h.tenant(r),
		memory.SurpriseThresholds{Min: req.SurpriseMin, Max: req.SurpriseMax},
		memory.QueryFilters{Layer: req.Layer, AgentID: req.AgentID, MinImportance: req.MinImportance})
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, claims)
}

// PriorityQueryRequest is the request body for POST /v1/memory/priority.
type PriorityQueryRequest struct {
	ClaimIDs        []string          `json:"claim_ids"`
	QueryText       string            `json:"query_text"`
	QueryTimeRange  *priority.TimeRange `json:"query_time_range,omitempty"`
	HalfLifeDays    float64           `json:"half_life_days"`
	Beliefs         []priority.Belief `json:"beliefs,omitempty"`
	Type            priority.QueryType `json:"type,omitempty"`
	Budget          int               `json:"budget"`
	DiversityFactor float64           `json:"diversity_factor"`
}

// PriorityQueryResponse is the response for POST /v1/memory/priority.
type PriorityQueryResponse struct {
	Selected []model.Claim `json:"selected"`
}

// HandlePriorityQuery handles POST /v1/memory/priority: scores a
// caller-supplied candidate set against a query context and selects the
// top items under a token budget with topic diversity.
func (h *Handlers) HandlePriorityQuery(w http.ResponseWriter, r *http.Request) {
	var req PriorityQueryRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if len(req.ClaimIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "claim_ids is required")
		return
	}
	if req.Budget <= 0 {
		req.Budget = 4096
	}

	tenant := h.tenant(r)
	ctx := r.Context()
	now := time.Now()

	claims := make(map[string]model.Claim, len(req.ClaimIDs))
	scored := make([]priority.Scored, 0, len(req.ClaimIDs))
	for _, id := range req.ClaimIDs {
		claim, err := h.mem.Get(ctx, tenant, id)
		if err != nil {
			if coreerr.Is(err, coreerr.KindNotFound) {
				continue
			}
			writeCoreErr(w, r, err)
			return
		}
		claims[id] = claim

		subClaims := make([]string, 0, len(claim.SubClaims))
		for _, sc := range claim.SubClaims {
			subClaims = append(subClaims, sc.Text)
		}
		ageDays := now.Sub(time.Unix(claim.Timestamp, 0)).Hours() / 24
		daysSinceAccess := now.Sub(time.Unix(claim.LastAccess, 0)).Hours() / 24

		qctx := priority.QueryContext{
			QueryText:      req.QueryText,
			QueryTimeRange: req.QueryTimeRange,
			HalfLifeDays:   req.HalfLifeDays,
			Beliefs:        req.Beliefs,
			Type:           req.Type,
		}
		score := priority.Score(ctx, h.provider, priority.Item{
			ClaimID:         id,
			Text:            claim.Content,
			SubClaims:       subClaims,
			Importance:      claim.Importance,
			Surprise:        claim.SurpriseScore,
			AccessCount:     claim.AccessCount,
			DaysSinceAccess: daysSinceAccess,
			AgeDays:         ageDays,
		}, qctx)

		scored = append(scored, priority.Scored{
			ClaimID:  id,
			Text:     claim.Content,
			Priority: score,
			Topic:    priority.TopicKey(ctx, h.provider, claim.Content),
		})
	}

	priority.SortByPriorityDescending(scored)
	selected := priority.Select(scored, req.Budget, req.DiversityFactor)

	out := make([]model.Claim, 0, len(selected))
	for _, s := range selected {
		out = append(out, claims[s.ClaimID])
	}
	writeJSON(w, r, http.StatusOK, PriorityQueryResponse{Selected: out})
}

// PromoteDemoteRequest is the request body for the memory promote/demote endpoints.
type PromoteDemoteRequest struct {
	Reason string `json:"reason"`
}

// HandlePromoteMemory handles POST /v1/memory/{id}/promote.
func (h *Handlers) HandlePromoteMemory(w http.ResponseWriter, r *http.Request) {
	var req PromoteDemoteRequest
	_ = h.decode(r, &req)
	if err := h.mem.PromoteToActiveMemory(r.Context(), h.tenant(r), r.PathValue("id"), req.Reason); err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "promoted"})
}

// HandleDemoteMemory handles POST /v1/memory/{id}/demote.
func (h *Handlers) HandleDemoteMemory(w http.ResponseWriter, r *http.Request) {
	var req PromoteDemoteRequest
	_ = h.decode(r, &req)
	if err := h.mem.DemoteToCompressedMemory(r.Context(), h.tenant(r), r.PathValue("id"), req.Reason); err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "demoted"})
}

// ---------------------------------------------------------------------------
// Retention
// ---------------------------------------------------------------------------

func (h *Handlers) loadRetentionPolicy(ctx context.Context, tenant string) (retention.Policy, error) {
	rec, err := h.st.Get(ctx, tenant, keys.RetentionPolicy())
	if err != nil {
		if coreerr.Is(err, coreerr.KindNotFound) {
			return retention.DefaultPolicy(), nil
		}
		return retention.Policy{}, err
	}
	var policy retention.Policy
	if err := json.Unmarshal(rec.Value, &policy); err != nil {
		return retention.Policy{}, coreerr.Backend("server.loadRetentionPolicy", err)
	}
	return policy, nil
}

// HandleGetRetentionPolicy handles GET /v1/retention/policy.
func (h *Handlers) HandleGetRetentionPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.loadRetentionPolicy(r.Context(), h.tenant(r))
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, policy)
}

// HandleSetRetentionPolicy handles PUT /v1/retention/policy.
func (h *Handlers) HandleSetRetentionPolicy(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := h.decode(r, &raw); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if err := retention.ValidateRaw(raw); err != nil {
		writeCoreErr(w, r, err)
		return
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	var policy retention.Policy
	if err := json.Unmarshal(payload, &policy); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid policy payload")
		return
	}
	if err := h.st.Put(r.Context(), h.tenant(r), keys.RetentionPolicy(), payload, map[string]any{"type": "retention_policy"}); err != nil {
		h.writeInternalError(w, r, "failed to persist retention policy", err)
		return
	}
	writeJSON(w, r, http.StatusOK, policy)
}

// HandleRetentionEvaluate handles POST /v1/retention/evaluate: sweeps every
// claim in the tenant's memory through the retention gate and applies the
// resulting decision.
func (h *Handlers) HandleRetentionEvaluate(w http.ResponseWriter, r *http.Request) {
	tenant := h.tenant(r)
	ctx := r.Context()

	policy, err := h.loadRetentionPolicy(ctx, tenant)
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}

	records, err := h.st.Scan(ctx, tenant, "adaptive_memory:*", store.ScanOptions{})
	if err != nil {
		h.writeInternalError(w, r, "failed to scan memory", err)
		return
	}

	now := time.Now()
	items := make([]retention.SweepItem, 0, len(records))
	for _, rec := range records {
		var c model.Claim
		if json.Unmarshal(rec.Value, &c) != nil {
			continue
		}
		items = append(items, retention.SweepItem{
			ClaimID: c.ID,
			Input: retention.Input{
				Surprise:           c.SurpriseScore,
				Confidence:         c.Confidence,
				ContradictionCount: c.ContradictionCount,
				AgeDays:            now.Sub(time.Unix(c.Timestamp, 0)).Hours() / 24,
				AccessCount:        c.AccessCount,
				DaysSinceAccess:    now.Sub(time.Unix(c.LastAccess, 0)).Hours() / 24,
				EvidenceCount:      len(c.Evidence),
			},
		})
	}

	apply := func(ctx context.Context, item retention.SweepItem, decision retention.Decision, factors retention.Factors) error {
		switch decision {
		case retention.PromoteToActive:
			return h.mem.PromoteToActiveMemory(ctx, tenant, item.ClaimID, "retention_sweep")
		case retention.CompressToCold:
			return h.mem.DemoteToCompressedMemory(ctx, tenant, item.ClaimID, "retention_sweep")
		default:
			return nil
		}
	}

	workers := 4
	results := retention.Sweep(ctx, policy, items, workers, apply)
	writeJSON(w, r, http.StatusOK, results)
}

// ---------------------------------------------------------------------------
// Session ingest & institutional promotion
// ---------------------------------------------------------------------------

// SessionClaimsRequest is the request body shared by the session
// ingest/promote endpoints: both operate over a caller-named set of claims
// rather than an implicit session-wide scan.
type SessionClaimsRequest struct {
	ClaimIDs []string `json:"claim_ids"`
}

// HandleIngestSession handles POST /v1/sessions/{id}/ingest.
func (h *Handlers) HandleIngestSession(w http.ResponseWriter, r *http.Request) {
	var req SessionClaimsRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if len(req.ClaimIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "claim_ids is required")
		return
	}

	tenant := h.tenant(r)
	ctx := r.Context()
	session := r.PathValue("id")

	claims := make([]model.Claim, 0, len(req.ClaimIDs))
	for _, id := range req.ClaimIDs {
		claim, err := h.mem.Get(ctx, tenant, id)
		if err != nil {
			writeCoreErr(w, r, err)
			return
		}
		claims = append(claims, claim)
		if err := h.st.AddToSet(ctx, tenant, keys.SessionClaims(session), id); err != nil {
			h.writeInternalError(w, r, "failed to index session claim", err)
			return
		}
	}

	result, err := h.ingestor.IngestFromClaims(ctx, tenant, session, claims)
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandlePromoteSession handles POST /v1/sessions/{id}/promote.
func (h *Handlers) HandlePromoteSession(w http.ResponseWriter, r *http.Request) {
	var req SessionClaimsRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if len(req.ClaimIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "claim_ids is required")
		return
	}

	tenant := h.tenant(r)
	ctx := r.Context()

	claims := make([]model.Claim, 0, len(req.ClaimIDs))
	for _, id := range req.ClaimIDs {
		claim, err := h.mem.Get(ctx, tenant, id)
		if err != nil {
			writeCoreErr(w, r, err)
			return
		}
		claims = append(claims, claim)
	}

	result, err := h.inst.PromoteToInstitutional(ctx, tenant, claims, institutional.DefaultCriteria())
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// ---------------------------------------------------------------------------
// Graph
// ---------------------------------------------------------------------------

// HandleGraphFacts handles GET /v1/graph/facts/{topic}.
func (h *Handlers) HandleGraphFacts(w http.ResponseWriter, r *http.Request) {
	opts := graph.QueryOptions{
		MinConfidence:         queryFloat(r, "min_confidence", 0),
		IncludeContradictions: r.URL.Query().Get("include_contradictions") == "true",
	}
	facts, err := h.g.GetHistoricalFacts(r.Context(), h.tenant(r), r.PathValue("topic"), opts)
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, facts)
}

// HandleGraphPath handles GET /v1/graph/path?from=...&to=...&max_depth=....
func (h *Handlers) HandleGraphPath(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "from and to query parameters are required")
		return
	}
	maxDepth := queryInt(r, "max_depth", 0)

	path, err := h.g.FindPath(r.Context(), h.tenant(r), from, to, maxDepth)
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, path)
}

// ---------------------------------------------------------------------------
// Consistency
// ---------------------------------------------------------------------------

// ConsistencyCheckRequest is the request body for POST /v1/consistency/check.
// A nil EntityID checks the whole tenant graph. ClaimID, when set, instead
// runs the embedding-based semantic scan against that claim's nearest
// neighbors (independent of EntityID — free-text claims rarely map onto a
// single graph entity).
type ConsistencyCheckRequest struct {
	EntityID *string `json:"entity_id,omitempty"`
	ClaimID  *string `json:"claim_id,omitempty"`
}

// HandleConsistencyCheck handles POST /v1/consistency/check.
func (h *Handlers) HandleConsistencyCheck(w http.ResponseWriter, r *http.Request) {
	var req ConsistencyCheckRequest
	_ = h.decode(r, &req)

	var (
		conflicts []model.ConflictObject
		err       error
	)
	switch {
	case req.ClaimID != nil && *req.ClaimID != "":
		conflicts, err = h.checkClaimSemantic(r.Context(), h.tenant(r), *req.ClaimID)
	case req.EntityID != nil && *req.EntityID != "":
		conflicts, err = h.check.CheckEntity(r.Context(), h.tenant(r), *req.EntityID)
	default:
		conflicts, err = h.check.CheckConsistency(r.Context(), h.tenant(r))
	}
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, conflicts)
}

// checkClaimSemantic embeds claimID's content and runs it through the
// consistency checker's ANN-backed neighbor scan, the non-graph counterpart
// to CheckEntity: it catches contradictions between free-text claims that
// never produced graph relations to group by.
func (h *Handlers) checkClaimSemantic(ctx context.Context, tenant, claimID string) ([]model.ConflictObject, error) {
	claim, err := h.mem.Get(ctx, tenant, claimID)
	if err != nil {
		return nil, err
	}
	vec, err := h.provider.Embed(ctx, claim.Content)
	if err != nil {
		return nil, coreerr.Backend("consistency.checkClaimSemantic", err)
	}
	return h.check.CheckClaimAgainstNeighbors(ctx, tenant, claim.ID, claim.Content, vec)
}

// HandleConsistencySummary handles GET /v1/consistency/summary.
func (h *Handlers) HandleConsistencySummary(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.check.CheckConsistency(r.Context(), h.tenant(r))
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, consistency.GetContradictionSummary(conflicts))
}

// ---------------------------------------------------------------------------
// Epistemic status
// ---------------------------------------------------------------------------

// SetClaimStatusRequest is the request body for POST /v1/claims/{id}/status.
type SetClaimStatusRequest struct {
	Status        model.EpistemicStatusValue `json:"status"`
	Justification map[string]any             `json:"justification,omitempty"`
	SetBy         string                     `json:"set_by,omitempty"`
}

// HandleSetClaimStatus handles POST /v1/claims/{id}/status.
func (h *Handlers) HandleSetClaimStatus(w http.ResponseWriter, r *http.Request) {
	var req SetClaimStatusRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if !model.ValidStatus(req.Status) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid status")
		return
	}
	record, err := h.epi.SetStatus(r.Context(), h.tenant(r), r.PathValue("id"), req.Status, req.Justification, req.SetBy)
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, record)
}

// HandleClaimsByStatus handles GET /v1/claims/by-status/{status}.
func (h *Handlers) HandleClaimsByStatus(w http.ResponseWriter, r *http.Request) {
	status := model.EpistemicStatusValue(r.PathValue("status"))
	if !model.ValidStatus(status) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid status")
		return
	}
	ids, err := h.epi.GetClaimsByStatus(r.Context(), h.tenant(r), status)
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ids)
}

// ---------------------------------------------------------------------------
// Minority opinions
// ---------------------------------------------------------------------------

// RecordMinorityRequest is the request body for POST /v1/minority.
type RecordMinorityRequest struct {
	SessionID        string  `json:"session_id"`
	AgentID          string  `json:"agent_id"`
	Position         string  `json:"position"`
	Reasoning        string  `json:"reasoning,omitempty"`
	Confidence       float64 `json:"confidence"`
	MajorityPosition string  `json:"majority_position"`
	Topic            string  `json:"topic,omitempty"`
}

// HandleRecordMinority handles POST /v1/minority.
func (h *Handlers) HandleRecordMinority(w http.ResponseWriter, r *http.Request) {
	var req RecordMinorityRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.SessionID == "" || req.AgentID == "" || req.Position == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id, agent_id, and position are required")
		return
	}

	opinion, err := h.minor.Record(r.Context(), h.tenant(r), req.SessionID, model.MinorityOpinion{
		AgentID:          req.AgentID,
		Position:         req.Position,
		Reasoning:        req.Reasoning,
		Confidence:       req.Confidence,
		MajorityPosition: req.MajorityPosition,
		Topic:            req.Topic,
	})
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, opinion)
}

// TrackAccuracyRequest is the request body for POST /v1/minority/{agent}/accuracy.
type TrackAccuracyRequest struct {
	Outcomes []minority.Outcome `json:"outcomes"`
}

// HandleTrackAccuracy handles POST /v1/minority/{agent}/accuracy.
func (h *Handlers) HandleTrackAccuracy(w http.ResponseWriter, r *http.Request) {
	var req TrackAccuracyRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	accuracy, err := h.minor.TrackAccuracy(r.Context(), h.tenant(r), r.PathValue("agent"), req.Outcomes)
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, accuracy)
}

// HandleReliableDissenters handles GET /v1/minority/reliable.
func (h *Handlers) HandleReliableDissenters(w http.ResponseWriter, r *http.Request) {
	filters := minority.DissenterFilters{
		MinAccuracy: queryFloat(r, "min_accuracy", 0),
		MinOpinions: queryInt(r, "min_opinions", 0),
	}
	dissenters, err := h.minor.GetReliableDissenters(r.Context(), h.tenant(r), filters)
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dissenters)
}

// ---------------------------------------------------------------------------
// Decision lineage
// ---------------------------------------------------------------------------

// RecordDecisionRequest is the request body for POST /v1/decisions.
type RecordDecisionRequest struct {
	Decision            string            `json:"decision"`
	ClaimsUsed          []model.ClaimUse  `json:"claims_used"`
	ClaimsRejected      []model.ClaimUse  `json:"claims_rejected,omitempty"`
	ConflictsUnresolved []string          `json:"conflicts_unresolved,omitempty"`
	Reasoning           []string          `json:"reasoning,omitempty"`
}

// HandleRecordDecision handles POST /v1/decisions. The decision id is
// generated server-side: callers have no way to guarantee uniqueness of a
// caller-chosen id across agents.
func (h *Handlers) HandleRecordDecision(w http.ResponseWriter, r *http.Request) {
	var req RecordDecisionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Decision == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "decision is required")
		return
	}

	decisionID := "decision_" + uuid.NewString()
	lin, err := h.lin.RecordDecision(r.Context(), h.tenant(r), decisionID, lineage.DecisionInput{
		Decision:            req.Decision,
		ClaimsUsed:          req.ClaimsUsed,
		ClaimsRejected:      req.ClaimsRejected,
		ConflictsUnresolved: req.ConflictsUnresolved,
		Reasoning:           req.Reasoning,
	})
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, lin)
}

// HandleDecisionReport handles GET /v1/decisions/{id}/report.
func (h *Handlers) HandleDecisionReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.lin.GenerateDecisionReport(r.Context(), h.tenant(r), r.PathValue("id"))
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// HandleAuditWeaklySupported handles GET /v1/audit/weakly-supported.
func (h *Handlers) HandleAuditWeaklySupported(w http.ResponseWriter, r *http.Request) {
	filters := selfaudit.WeaklySupportedFilters{
		MinConfidence: queryFloat(r, "min_confidence", 0),
		MaxEvidence:   queryInt(r, "max_evidence", 0),
	}
	weak, err := h.audit.FindWeaklySupported(r.Context(), h.tenant(r), filters)
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, weak)
}

// HandleAuditConflicts handles GET /v1/audit/conflicts.
func (h *Handlers) HandleAuditConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.audit.FindHighConfidenceConflicts(r.Context(), h.tenant(r))
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, conflicts)
}

// HandleAuditWisdom handles GET /v1/audit/wisdom.
func (h *Handlers) HandleAuditWisdom(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.audit.GetWisdomMetrics(r.Context(), h.tenant(r))
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, metrics)
}

// HandleAuditTrend handles GET /v1/audit/trend.
func (h *Handlers) HandleAuditTrend(w http.ResponseWriter, r *http.Request) {
	trend, err := h.audit.Trending(r.Context(), h.tenant(r), time.Now())
	if err != nil {
		writeCoreErr(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, trend)
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

// HandleExportInstitutional handles GET /v1/export/institutional: streams
// every institutional claim in the tenant as newline-delimited JSON.
func (h *Handlers) HandleExportInstitutional(w http.ResponseWriter, r *http.Request) {
	records, err := h.st.Scan(r.Context(), h.tenant(r), "institutional:*", store.ScanOptions{})
	if err != nil {
		h.writeInternalError(w, r, "failed to scan institutional memory", err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		var c model.Claim
		if json.Unmarshal(rec.Value, &c) != nil {
			continue
		}
		if err := enc.Encode(c); err != nil {
			h.logger.Warn("failed to encode institutional export row", "error", err)
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Health & config
// ---------------------------------------------------------------------------

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.st.Ping(r.Context()); err != nil {
		status = "degraded"
	}
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:         status,
		Version:        h.version,
		Store:          h.storeKind,
		ProviderKind:   fmt.Sprintf("%T", h.provider),
		DispatcherKind: h.dispatcherKind,
		UptimeSeconds:  int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleConfig handles GET /config: the small set of feature flags a UI or
// SDK client might need, never secrets.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"version": h.version,
	})
}

// ---------------------------------------------------------------------------
// Query-string helpers
// ---------------------------------------------------------------------------

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func queryFloat(r *http.Request, key string, defaultVal float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
