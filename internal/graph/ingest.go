package graph

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/noema-ai/noema/internal/ai"
	"github.com/noema-ai/noema/internal/auditsink"
	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/keys"
	"github.com/noema-ai/noema/internal/model"
)

// IngestResult is what IngestFromClaims returns, including the process-memo
// sentinel repeat-call shape.
type IngestResult struct {
	EntitiesCreated  int  `json:"entities_created"`
	RelationsCreated int  `json:"relations_created"`
	ClaimsProcessed  int  `json:"claims_processed"`
	AlreadyIngested  bool `json:"already_ingested"`
}

// Ingestor holds a process-wide memo of sessions it has already ingested —
// a speed cache, never a correctness dependency. A restart simply
// re-ingests, which is safe because entity/relation upserts are idempotent.
type Ingestor struct {
	graph    *Store
	provider ai.Provider
	sink     auditsink.Sink

	mu     sync.Mutex
	memo   map[string]IngestResult
}

// NewIngestor constructs an Ingestor. A nil provider selects the heuristic
// fallback; a nil sink discards audit events.
func NewIngestor(g *Store, provider ai.Provider, sink auditsink.Sink) *Ingestor {
	if provider == nil {
		provider = ai.NewHeuristic()
	}
	if sink == nil {
		sink = auditsink.Noop{}
	}
	return &Ingestor{graph: g, provider: provider, sink: sink, memo: map[string]IngestResult{}}
}

func memoKey(tenant, session string) string { return tenant + "\x00" + session }

// IngestFromClaims reads and extracts entities/relationships from each
// claim's content, and upserts them into the graph store. claims are the
// decoded contents of session:{tenant}:{session}:claims, resolved by the
// caller (typically the memory orchestrator or a server handler) via the
// store facade. Idempotent per (tenant, session) within a process.
func (ig *Ingestor) IngestFromClaims(ctx context.Context, tenant, session string, claims []model.Claim) (IngestResult, error) {
	mk := memoKey(tenant, session)
	ig.mu.Lock()
	if cached, ok := ig.memo[mk]; ok {
		ig.mu.Unlock()
		cached.AlreadyIngested = true
		return cached, nil
	}
	ig.mu.Unlock()

	texts := make([]string, len(claims))
	for i, c := range claims {
		texts[i] = c.Content
	}

	entityBatches, err := ig.provider.ExtractEntitiesBatch(ctx, texts)
	if err != nil {
		return IngestResult{}, coreerr.Backend("graph.IngestFromClaims", err)
	}
	relBatches, err := ig.provider.ExtractRelationshipsBatch(ctx, texts)
	if err != nil {
		return IngestResult{}, coreerr.Backend("graph.IngestFromClaims", err)
	}

	var entitiesCreated, relationsCreated int
	seenTopics := map[string]bool{}

	for i, claim := range claims {
		for _, sc := range claim.SubClaims {
			if sc.Topic == "" || seenTopics[sc.Topic] {
				continue
			}
			seenTopics[sc.Topic] = true
			if _, err := ig.graph.AddEntity(ctx, tenant, "topic", sc.Topic, nil, &EntitySource{ClaimID: claim.ID, Confidence: claim.Confidence.Mean}); err != nil {
				return IngestResult{}, coreerr.Backend("graph.IngestFromClaims", err)
			}
			entitiesCreated++
		}

		if i < len(entityBatches) {
			for _, ent := range entityBatches[i] {
				if _, err := ig.graph.AddEntity(ctx, tenant, ent.Type, ent.Name, ent.Attributes, &EntitySource{ClaimID: claim.ID, Confidence: claim.Confidence.Mean}); err != nil {
					return IngestResult{}, coreerr.Backend("graph.IngestFromClaims", err)
				}
				entitiesCreated++
			}
		}

		if i < len(relBatches) {
			for _, rel := range relBatches[i] {
				fromID := model.EntityID(rel.FromType, rel.From)
				toID := model.EntityID(rel.ToType, rel.To)
				if _, err := ig.graph.AddRelation(ctx, tenant, fromID, rel.Type, toID, rel.Confidence, &EntitySource{ClaimID: claim.ID, Confidence: rel.Confidence}); err != nil {
					return IngestResult{}, coreerr.Backend("graph.IngestFromClaims", err)
				}
				relationsCreated++
			}
		}
	}

	result := IngestResult{EntitiesCreated: entitiesCreated, RelationsCreated: relationsCreated, ClaimsProcessed: len(claims)}

	ig.mu.Lock()
	ig.memo[mk] = result
	ig.mu.Unlock()

	data, _ := json.Marshal(result)
	var auditData map[string]any
	_ = json.Unmarshal(data, &auditData)
	auditData["session"] = session
	_, _ = ig.sink.Log(ctx, tenant, "graph.ingest", auditData, nil)

	return result, nil
}

// SessionClaimsKey is exported for server handlers that need to resolve the
// session:{tenant}:{session}:claims set before calling IngestFromClaims.
func SessionClaimsKey(session string) string { return keys.SessionClaims(session) }
