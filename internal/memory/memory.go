// Package memory implements the adaptive memory orchestrator:
// the entry point that accepts a new claim, scores it (via internal/surprise
// when the caller hasn't supplied a composite score), places it in a tier,
// maintains the surprise/layer indices, and hands retention evaluation off to
// the job dispatcher.
//
// Construction wires its subsystems and background hooks once, up front;
// request handling follows an ingest-then-index shape throughout.
package memory

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/noema-ai/noema/internal/ai"
	"github.com/noema-ai/noema/internal/auditsink"
	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/jobs"
	"github.com/noema-ai/noema/internal/keys"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/search"
	"github.com/noema-ai/noema/internal/store"
	"github.com/noema-ai/noema/internal/surprise"
)

// contextWindow bounds how many of an agent's recent claims feed the
// surprise metric.
const contextWindow = 50

// Orchestrator scores, stores, and tiers claims, and drives tier promotion
// and demotion. It is safe for concurrent use by independent tenants;
// per-tenant concurrent callers share only the Store's own concurrency
// guarantees.
type Orchestrator struct {
	st         store.Store
	provider   ai.Provider
	sink       auditsink.Sink
	dispatcher jobs.Dispatcher
	finder     search.CandidateFinder
	indexer    search.Indexer
}

// New constructs an Orchestrator. A nil provider/sink/dispatcher selects the
// always-correct defaults (heuristic provider, no-op sink, synchronous
// pending-marker fallback).
func New(st store.Store, provider ai.Provider, sink auditsink.Sink, dispatcher jobs.Dispatcher) *Orchestrator {
	if provider == nil {
		provider = ai.NewHeuristic()
	}
	if sink == nil {
		sink = auditsink.Noop{}
	}
	if dispatcher == nil {
		dispatcher = jobs.SyncFallback{}
	}
	return &Orchestrator{st: st, provider: provider, sink: sink, dispatcher: dispatcher}
}

// WithCandidateFinder attaches a search.CandidateFinder used by SearchSimilar
// to narrow candidates via ANN before hydrating claims from the Store. When
// finder also implements search.Indexer, every stored claim's embedding is
// upserted into it (best-effort — failures never block Store). A nil finder
// (the default) disables ANN search; SearchSimilar then uses the Store's own
// EmbeddingStore scan when the Store implements one, and otherwise returns an
// empty result.
func (o *Orchestrator) WithCandidateFinder(finder search.CandidateFinder) *Orchestrator {
	o.finder = finder
	if idx, ok := finder.(search.Indexer); ok {
		o.indexer = idx
	}
	return o
}

// StoreInput is everything Store needs to accept one new claim.
type StoreInput struct {
	AgentID        string
	Content        string
	SubClaims      []model.SubClaim
	SurpriseSignal map[string]any
	SurpriseScore  *float64 // caller-supplied composite score; nil triggers B
	Confidence     model.Confidence
	Evidence       []model.Evidence
	Metadata       map[string]any
}

// Store accepts a new claim, classifies its tier, persists it, and
// maintains the derived indices.
func (o *Orchestrator) Store(ctx context.Context, tenant string, in StoreInput) (string, error) {
	const op = "memory.Store"
	if err := in.Confidence.Validate(); err != nil {
		return "", coreerr.Invalid(op, err.Error())
	}

	score, components, degraded := o.resolveSurprise(ctx, tenant, in)

	now := time.Now()
	claim := model.Claim{
		ID:                 model.ClaimID(uuid.NewString()),
		TenantID:           tenant,
		AgentID:            in.AgentID,
		Content:            in.Content,
		SubClaims:          in.SubClaims,
		Timestamp:          now.Unix(),
		SurpriseSignal:     in.SurpriseSignal,
		SurpriseScore:      score,
		SurpriseComponents: components,
		Importance:         score,
		Layer:              tierFor(score),
		Metadata:           in.Metadata,
		LastAccess:         now.Unix(),
		Evidence:           in.Evidence,
		Confidence:         in.Confidence,
	}

	payload, err := json.Marshal(claim)
	if err != nil {
		return "", coreerr.Invalid(op, "encode claim: "+err.Error())
	}
	meta := map[string]any{"tenant": tenant, "type": "adaptive_memory", "timestamp": now.Unix()}
	if err := o.st.Put(ctx, tenant, keys.Claim(claim.ID), payload, meta); err != nil {
		return "", coreerr.Backend(op, err)
	}

	// Index maintenance is advisory: failures are swallowed, not
	// propagated, since the record itself is already durable.
	_ = o.st.AddToSet(ctx, tenant, keys.SurpriseIndex(keys.SurpriseBucket(score)), claim.ID)
	_ = o.st.AddToSet(ctx, tenant, keys.LayerIndex(string(claim.Layer)), claim.ID)
	_ = o.st.AddToSet(ctx, tenant, keys.AgentClaims(in.AgentID), claim.ID)
	o.indexEmbedding(ctx, tenant, claim.ID, claim.Content)

	auditData := map[string]any{"claim_id": claim.ID, "agent_id": in.AgentID, "surprise_score": score, "layer": claim.Layer}
	if degraded {
		auditData["degraded"] = true
	}
	_, _ = o.sink.Log(ctx, tenant, "adaptive_memory.store", auditData, nil)

	jobID, jerr := o.dispatcher.DispatchRetentionEvaluation(ctx, tenant)
	if jerr != nil || jobID == nil {
		_ = jobs.MarkRetentionPending(ctx, o.st, tenant)
	}

	return claim.ID, nil
}

// indexEmbedding generates an embedding for a newly stored claim's content and
// persists it to whatever backs candidate discovery: the configured Qdrant
// index (if any) and a pgvector-backed store.EmbeddingStore (if the Store
// implements one). Both are advisory; a provider with no embedding
// capability (ai.Heuristic, or a nil Qdrant/OpenAI/Ollama backend) returns
// (nil, nil) and this is a no-op.
func (o *Orchestrator) indexEmbedding(ctx context.Context, tenant, claimID, content string) {
	vec, err := o.provider.Embed(ctx, content)
	if err != nil || len(vec) == 0 {
		return
	}
	if o.indexer != nil {
		_ = o.indexer.Upsert(ctx, tenant, claimID, vec)
	}
	if es, ok := o.st.(store.EmbeddingStore); ok {
		_ = es.PutEmbedding(ctx, tenant, claimID, vec)
	}
}

// SearchSimilar embeds query and returns the limit most similar claims,
// preferring the configured search.CandidateFinder (Qdrant ANN) and falling
// back to the Store's own pgvector/brute-force nearest-neighbor scan when no
// finder is configured. Returns an empty result, not an error, when the
// provider has no embedding capability.
func (o *Orchestrator) SearchSimilar(ctx context.Context, tenant, query, excludeID string, limit int) ([]model.Claim, error) {
	vec, err := o.provider.Embed(ctx, query)
	if err != nil {
		return nil, coreerr.Backend("memory.SearchSimilar", err)
	}
	if len(vec) == 0 {
		return nil, nil
	}

	var claimIDs []string
	if o.finder != nil {
		results, err := o.finder.FindSimilar(ctx, tenant, vec, excludeID, limit)
		if err != nil {
			return nil, coreerr.Backend("memory.SearchSimilar", err)
		}
		for _, r := range results {
			claimIDs = append(claimIDs, r.ClaimID)
		}
	} else if es, ok := o.st.(store.EmbeddingStore); ok {
		claimIDs, err = es.FindNearestEmbeddings(ctx, tenant, vec, excludeID, limit)
		if err != nil {
			return nil, coreerr.Backend("memory.SearchSimilar", err)
		}
	}

	if len(claimIDs) == 0 {
		return nil, nil
	}
	claimKeys := make([]string, len(claimIDs))
	for i, id := range claimIDs {
		claimKeys[i] = keys.Claim(id)
	}
	records, err := o.st.GetMany(ctx, tenant, claimKeys)
	if err != nil {
		return nil, coreerr.Backend("memory.SearchSimilar", err)
	}
	claims := make([]model.Claim, 0, len(records))
	for _, r := range records {
		var c model.Claim
		if json.Unmarshal(r.Value, &c) == nil {
			claims = append(claims, c)
		}
	}
	return claims, nil
}

// resolveSurprise uses the caller-supplied score when present, otherwise
// computes the composite via internal/surprise over the agent's recent
// context.
func (o *Orchestrator) resolveSurprise(ctx context.Context, tenant string, in StoreInput) (float64, model.SurpriseComponents, bool) {
	if in.SurpriseScore != nil {
		return *in.SurpriseScore, model.SurpriseComponents{}, false
	}
	recent, _ := o.recentClaims(ctx, tenant, in.AgentID, contextWindow)
	items := make([]surprise.ContextItem, len(recent))
	for i, c := range recent {
		items[i] = surprise.ContextItem{Text: c.Content, Confidence: c.Confidence}
	}
	result := surprise.Compute(ctx, o.provider, surprise.Input{
		Text:       in.Content,
		Confidence: in.Confidence,
		Evidence:   in.Evidence,
		Context:    items,
	})
	return result.Score, result.Components, result.Degraded
}

// recentClaims approximates "N most recent claims by this agent": the
// per-agent index is a set (unordered), so every member is fetched and
// sorted by timestamp before truncating to limit.
func (o *Orchestrator) recentClaims(ctx context.Context, tenant, agent string, limit int) ([]model.Claim, error) {
	ids, err := o.st.SetMembers(ctx, tenant, keys.AgentClaims(agent))
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	claimKeys := make([]string, len(ids))
	for i, id := range ids {
		claimKeys[i] = keys.Claim(id)
	}
	records, err := o.st.GetMany(ctx, tenant, claimKeys)
	if err != nil {
		return nil, err
	}
	claims := make([]model.Claim, 0, len(records))
	for _, r := range records {
		var c model.Claim
		if json.Unmarshal(r.Value, &c) == nil {
			claims = append(claims, c)
		}
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].Timestamp > claims[j].Timestamp })
	if len(claims) > limit {
		claims = claims[:limit]
	}
	return claims, nil
}

// tierFor maps a composite surprise score to its initial layer.
func tierFor(score float64) model.Layer {
	switch {
	case score >= 0.7:
		return model.LayerHot
	case score >= 0.4:
		return model.LayerWarm
	default:
		return model.LayerCold
	}
}

// Get loads a claim by id.
func (o *Orchestrator) Get(ctx context.Context, tenant, id string) (model.Claim, error) {
	rec, err := o.st.Get(ctx, tenant, keys.Claim(id))
	if err != nil {
		return model.Claim{}, err
	}
	var c model.Claim
	if err := json.Unmarshal(rec.Value, &c); err != nil {
		return model.Claim{}, coreerr.Backend("memory.Get", err)
	}
	return c, nil
}

// Touch increments a claim's access count and stamps last_access, used by
// retrieval paths that surface a claim to a consumer.
func (o *Orchestrator) Touch(ctx context.Context, tenant, id string) error {
	c, err := o.Get(ctx, tenant, id)
	if err != nil {
		return err
	}
	c.AccessCount++
	c.LastAccess = time.Now().Unix()
	return o.put(ctx, tenant, c)
}

func (o *Orchestrator) put(ctx context.Context, tenant string, c model.Claim) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return coreerr.Invalid("memory.put", "encode claim: "+err.Error())
	}
	return o.st.Put(ctx, tenant, keys.Claim(c.ID), payload, map[string]any{"tenant": tenant, "type": "adaptive_memory", "timestamp": c.Timestamp})
}

// reindexLayer removes id from oldLayer's index and adds it to newLayer's.
func (o *Orchestrator) reindexLayer(ctx context.Context, tenant, id string, oldLayer, newLayer model.Layer) {
	if oldLayer == newLayer {
		return
	}
	_ = o.st.RemoveFromSet(ctx, tenant, keys.LayerIndex(string(oldLayer)), id)
	_ = o.st.AddToSet(ctx, tenant, keys.LayerIndex(string(newLayer)), id)
}

// PromoteToActiveMemory sets layer=hot, boosts importance by 1.2x (clipped
// to 1.0), and stamps the promotion.
func (o *Orchestrator) PromoteToActiveMemory(ctx context.Context, tenant, id, reason string) error {
	c, err := o.Get(ctx, tenant, id)
	if err != nil {
		return err
	}
	oldLayer := c.Layer
	c.Layer = model.LayerHot
	c.Importance = math.Min(1, c.Importance*1.2)
	now := time.Now()
	c.PromotedAt = &now
	c.PromotionReason = reason
	if err := o.put(ctx, tenant, c); err != nil {
		return err
	}
	o.reindexLayer(ctx, tenant, id, oldLayer, model.LayerHot)
	_, _ = o.sink.Log(ctx, tenant, "adaptive_memory.promote", map[string]any{"claim_id": id, "reason": reason}, nil)
	return nil
}

// DemoteToCompressedMemory sets layer=cold and scales importance by 0.8x
//.
func (o *Orchestrator) DemoteToCompressedMemory(ctx context.Context, tenant, id, reason string) error {
	c, err := o.Get(ctx, tenant, id)
	if err != nil {
		return err
	}
	oldLayer := c.Layer
	c.Layer = model.LayerCold
	c.Importance *= 0.8
	if err := o.put(ctx, tenant, c); err != nil {
		return err
	}
	o.reindexLayer(ctx, tenant, id, oldLayer, model.LayerCold)
	_, _ = o.sink.Log(ctx, tenant, "adaptive_memory.demote", map[string]any{"claim_id": id, "reason": reason}, nil)
	return nil
}

// SurpriseThresholds bounds queryBySurprise's surprise range.
type SurpriseThresholds struct {
	Min, Max float64
}

// QueryFilters narrows queryBySurprise further.
type QueryFilters struct {
	Layer         *model.Layer
	AgentID       *string
	MinImportance *float64
}

// QueryBySurprise scans claims matching thresholds/filters, sorted by
// surprise score descending.
func (o *Orchestrator) QueryBySurprise(ctx context.Context, tenant string, thresholds SurpriseThresholds, filters QueryFilters) ([]model.Claim, error) {
	var storeFilters []store.Filter
	storeFilters = append(storeFilters,
		store.Filter{Field: "surprise_score", Op: store.OpGE, Value: thresholds.Min},
		store.Filter{Field: "surprise_score", Op: store.OpLE, Value: thresholds.Max},
	)
	if filters.Layer != nil {
		storeFilters = append(storeFilters, store.Filter{Field: "layer", Op: store.OpEq, Value: string(*filters.Layer)})
	}
	if filters.AgentID != nil {
		storeFilters = append(storeFilters, store.Filter{Field: "agent_id", Op: store.OpEq, Value: *filters.AgentID})
	}
	if filters.MinImportance != nil {
		storeFilters = append(storeFilters, store.Filter{Field: "importance", Op: store.OpGE, Value: *filters.MinImportance})
	}

	records, err := o.st.Scan(ctx, tenant, "adaptive_memory:*", store.ScanOptions{Filters: storeFilters})
	if err != nil {
		return nil, coreerr.Backend("memory.QueryBySurprise", err)
	}
	claims := make([]model.Claim, 0, len(records))
	for _, r := range records {
		var c model.Claim
		if json.Unmarshal(r.Value, &c) == nil {
			claims = append(claims, c)
		}
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].SurpriseScore > claims[j].SurpriseScore })
	return claims, nil
}
