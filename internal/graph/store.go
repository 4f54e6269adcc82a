// Package graph implements the knowledge graph store, ingestor, and query
// engine: entities and relations derived from session
// claims, merged with recency-weighted confidence, queryable for historical
// consensus and bounded paths.
//
// Store holds data and merge rules; query and ingestion are separate
// concerns layered on top, each idempotent per key.
package graph

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/keys"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store"
)

// confidenceHalfLifeSeconds is the recency weight's decay constant (30 days).
const confidenceHalfLifeSeconds = 30 * 86400

// Store is the graph's entity/relation merge layer.
type Store struct {
	st store.Store
}

// New wraps st as a graph Store.
func New(st store.Store) *Store { return &Store{st: st} }

// EntitySource is one claim's attribution, used to trigger the
// recency-weighted recompute when present.
type EntitySource struct {
	ClaimID    string
	Confidence float64
}

// AddEntity merges attrs into the entity at (type, name), creating it if
// absent. Supplying source triggers recency-weighted confidence
// recomputation.
func (s *Store) AddEntity(ctx context.Context, tenant, entityType, name string, attrs map[string]any, source *EntitySource) (model.Entity, error) {
	const op = "graph.AddEntity"
	id := model.EntityID(entityType, name)
	key := keys.GraphEntity(id)

	var e model.Entity
	existing, err := s.st.Get(ctx, tenant, key)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(existing.Value, &e); jsonErr != nil {
			return model.Entity{}, coreerr.Backend(op, jsonErr)
		}
	case coreerr.Is(err, coreerr.KindNotFound):
		now := time.Now()
		e = model.Entity{
			ID: id, TenantID: tenant, Type: entityType, Name: name,
			CreatedAt: now,
		}
	default:
		return model.Entity{}, coreerr.Backend(op, err)
	}

	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}
	for k, v := range attrs {
		e.Attributes[k] = v
	}

	now := time.Now()
	if source != nil {
		e.Sources = append(e.Sources, model.EntitySource{ClaimID: source.ClaimID, Confidence: source.Confidence, AddedAt: now})
		e.AggregateConfidence = recencyWeightedConfidence(e.Sources, now)
	}
	e.UpdatedAt = now

	payload, err := json.Marshal(e)
	if err != nil {
		return model.Entity{}, coreerr.Invalid(op, "encode entity: "+err.Error())
	}
	if err := s.st.Put(ctx, tenant, key, payload, map[string]any{"tenant": tenant, "type": "graph_entity", "timestamp": now.Unix()}); err != nil {
		return model.Entity{}, coreerr.Backend(op, err)
	}
	_ = s.st.AddToSet(ctx, tenant, keys.GraphIndexType(entityType), id)

	return e, nil
}

// recencyWeightedConfidence computes
// aggregate = Σ(wᵢ²·cᵢ)/Σ(wᵢ·cᵢ), wᵢ = exp(−age_s/(30·86400))·cᵢ.
func recencyWeightedConfidence(sources []model.EntitySource, now time.Time) float64 {
	var numerator, denominator float64
	for _, src := range sources {
		ageSeconds := now.Sub(src.AddedAt).Seconds()
		if ageSeconds < 0 {
			ageSeconds = 0
		}
		w := math.Exp(-ageSeconds/confidenceHalfLifeSeconds) * src.Confidence
		numerator += w * w * src.Confidence
		denominator += w * src.Confidence
	}
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// AddRelation merges source into the deterministic-id relation between from
// and to, creating it if absent, and updates both endpoints' relation
// indices.
func (s *Store) AddRelation(ctx context.Context, tenant, from, relation, to string, confidence float64, source *EntitySource) (model.Relation, error) {
	const op = "graph.AddRelation"
	id := model.RelationID(from, relation, to)
	key := keys.GraphRelation(id)

	var r model.Relation
	existing, err := s.st.Get(ctx, tenant, key)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(existing.Value, &r); jsonErr != nil {
			return model.Relation{}, coreerr.Backend(op, jsonErr)
		}
	case coreerr.Is(err, coreerr.KindNotFound):
		r = model.Relation{ID: id, TenantID: tenant, From: from, Relation: relation, To: to, CreatedAt: time.Now()}
	default:
		return model.Relation{}, coreerr.Backend(op, err)
	}

	r.Confidence = confidence
	if source != nil {
		r.Sources = append(r.Sources, model.EntitySource{ClaimID: source.ClaimID, Confidence: source.Confidence, AddedAt: time.Now()})
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return model.Relation{}, coreerr.Invalid(op, "encode relation: "+err.Error())
	}
	if err := s.st.Put(ctx, tenant, key, payload, map[string]any{"tenant": tenant, "type": "graph_relation", "timestamp": time.Now().Unix()}); err != nil {
		return model.Relation{}, coreerr.Backend(op, err)
	}
	_ = s.st.AddToSet(ctx, tenant, keys.GraphIndexRelations(from), id)
	_ = s.st.AddToSet(ctx, tenant, keys.GraphIndexRelations(to), id)

	return r, nil
}

// GetEntity loads an entity by id, or a NotFound error.
func (s *Store) GetEntity(ctx context.Context, tenant, id string) (model.Entity, error) {
	rec, err := s.st.Get(ctx, tenant, keys.GraphEntity(id))
	if err != nil {
		return model.Entity{}, err
	}
	var e model.Entity
	if err := json.Unmarshal(rec.Value, &e); err != nil {
		return model.Entity{}, coreerr.Backend("graph.GetEntity", err)
	}
	return e, nil
}

// GetRelation loads a relation by id, or a NotFound error.
func (s *Store) GetRelation(ctx context.Context, tenant, id string) (model.Relation, error) {
	rec, err := s.st.Get(ctx, tenant, keys.GraphRelation(id))
	if err != nil {
		return model.Relation{}, err
	}
	var r model.Relation
	if err := json.Unmarshal(rec.Value, &r); err != nil {
		return model.Relation{}, coreerr.Backend("graph.GetRelation", err)
	}
	return r, nil
}

// GetRelations returns the union of relations touching entityID, resolved
// from its relations index.
func (s *Store) GetRelations(ctx context.Context, tenant, entityID string) ([]model.Relation, error) {
	ids, err := s.st.SetMembers(ctx, tenant, keys.GraphIndexRelations(entityID))
	if err != nil {
		return nil, coreerr.Backend("graph.GetRelations", err)
	}
	relKeys := make([]string, len(ids))
	for i, id := range ids {
		relKeys[i] = keys.GraphRelation(id)
	}
	records, err := s.st.GetMany(ctx, tenant, relKeys)
	if err != nil {
		return nil, coreerr.Backend("graph.GetRelations", err)
	}
	out := make([]model.Relation, 0, len(records))
	for _, rec := range records {
		var r model.Relation
		if json.Unmarshal(rec.Value, &r) == nil {
			out = append(out, r)
		}
	}
	return out, nil
}
