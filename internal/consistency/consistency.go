// Package consistency implements the consistency checker:
// per-entity relation-type grouping that surfaces two structured conflict
// kinds — multiple high-confidence claims about the same relation, and
// semantically contradictory (negated vs. positive) targets.
//
// Grounded on internal/conflicts/scorer.go's scan-then-score shape and
// internal/model/conflict.go's ConflictObject/Severity helpers.
package consistency

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/graph"
	"github.com/noema-ai/noema/internal/keys"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/search"
	"github.com/noema-ai/noema/internal/store"
	"github.com/noema-ai/noema/internal/surprise"
)

// highConfidenceThreshold is the bar for "multiple_high_confidence".
const highConfidenceThreshold = 0.6

// semanticCandidateThreshold is the minimum ANN similarity score a candidate
// must clear before CheckClaimAgainstNeighbors considers it for contradiction.
const semanticCandidateThreshold = 0.75

// Checker detects and scores contradictions between claims.
type Checker struct {
	st     store.Store
	graph  *graph.Store
	finder search.CandidateFinder
}

// New constructs a Checker over st's entity indices and g's relation store.
func New(st store.Store, g *graph.Store) *Checker {
	return &Checker{st: st, graph: g}
}

// WithCandidateFinder attaches an ANN backend used by CheckClaimAgainstNeighbors
// to discover claim-vs-claim semantic contradictions that never produced
// graph relations. Mirrors the mutate-and-return shape used to wire ANN
// search into conflict scoring elsewhere in the pack. A nil finder (the
// default) disables CheckClaimAgainstNeighbors, which then returns nothing.
func (c *Checker) WithCandidateFinder(finder search.CandidateFinder) *Checker {
	c.finder = finder
	return c
}

// CheckClaimAgainstNeighbors finds claims whose content embeddings are close
// to vector and flags the ones whose negation polarity differs from content
// as relation_conflict ConflictObjects. This catches contradictions between
// free-text claims that never entered the entity graph — CheckEntity only
// sees relations that graph ingestion extracted, so two plainly contradictory
// claims about something the graph never modeled would otherwise go
// undetected.
func (c *Checker) CheckClaimAgainstNeighbors(ctx context.Context, tenant, claimID, content string, vector []float32) ([]model.ConflictObject, error) {
	if c.finder == nil || len(vector) == 0 {
		return nil, nil
	}
	candidates, err := c.finder.FindSimilar(ctx, tenant, vector, claimID, 10)
	if err != nil {
		return nil, coreerr.Backend("consistency.CheckClaimAgainstNeighbors", err)
	}

	claimNegated := hasNegationToken(content)
	var conflicts []model.ConflictObject
	for _, cand := range candidates {
		if cand.Score < semanticCandidateThreshold {
			continue
		}
		rec, err := c.st.Get(ctx, tenant, keys.Claim(cand.ClaimID))
		if err != nil {
			continue
		}
		var other model.Claim
		if json.Unmarshal(rec.Value, &other) != nil {
			continue
		}
		if hasNegationToken(other.Content) == claimNegated {
			continue // same polarity: agreement, not contradiction
		}

		relations := []model.Relation{
			{ID: model.RelationID(claimID, "asserts", cand.ClaimID), TenantID: tenant, From: claimID, Relation: "asserts", To: content, Confidence: float64(cand.Score), CreatedAt: time.Now()},
			{ID: model.RelationID(cand.ClaimID, "asserts", claimID), TenantID: tenant, From: cand.ClaimID, Relation: "asserts", To: other.Content, Confidence: other.Confidence.Mean, CreatedAt: time.Now()},
		}
		conflicts = append(conflicts, model.ConflictObject{
			ID:                   "conflict_" + uuid.NewString(),
			TenantID:             tenant,
			EntityID:             claimID,
			ConflictType:         model.ConflictRelation,
			ConflictingRelations: relations,
			SeverityScore:        model.Severity(relations),
			Metadata:             map[string]any{"other_claim_id": cand.ClaimID, "similarity": cand.Score},
			DetectedAt:           time.Now(),
		})
	}
	return conflicts, nil
}

// CheckEntity groups entityID's relations by type and emits every
// ConflictObject the group triggers.
func (c *Checker) CheckEntity(ctx context.Context, tenant, entityID string) ([]model.ConflictObject, error) {
	relations, err := c.graph.GetRelations(ctx, tenant, entityID)
	if err != nil {
		return nil, err
	}

	groups := map[string][]model.Relation{}
	for _, r := range relations {
		if r.From == entityID {
			groups[r.Relation] = append(groups[r.Relation], r)
		}
	}

	var conflicts []model.ConflictObject
	for relType, group := range groups {
		if c := multipleHighConfidence(tenant, entityID, group); c != nil {
			conflicts = append(conflicts, *c)
		}
		if c := semanticContradiction(tenant, entityID, relType, group); c != nil {
			conflicts = append(conflicts, *c)
		}
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].ID < conflicts[j].ID })
	return conflicts, nil
}

func multipleHighConfidence(tenant, entityID string, group []model.Relation) *model.ConflictObject {
	var high []model.Relation
	for _, r := range group {
		if r.Confidence >= highConfidenceThreshold {
			high = append(high, r)
		}
	}
	if len(high) < 2 {
		return nil
	}
	return &model.ConflictObject{
		ID: "conflict_" + uuid.NewString(), TenantID: tenant, EntityID: entityID,
		ConflictType:         model.ConflictMultipleHighConfidence,
		ConflictingRelations: high,
		SeverityScore:        model.Severity(high),
		DetectedAt:           time.Now(),
	}
}

// semanticContradiction splits group's targets into negated and positive
// sides using the negation token list; both sides non-empty signals a
// contradiction.
func semanticContradiction(tenant, entityID, relType string, group []model.Relation) *model.ConflictObject {
	var negated, positive []model.Relation
	for _, r := range group {
		if hasNegationToken(r.To) {
			negated = append(negated, r)
		} else {
			positive = append(positive, r)
		}
	}
	if len(negated) == 0 || len(positive) == 0 {
		return nil
	}
	all := append(append([]model.Relation{}, negated...), positive...)
	return &model.ConflictObject{
		ID: "conflict_" + uuid.NewString(), TenantID: tenant, EntityID: entityID,
		ConflictType:         model.ConflictSemanticContradiction,
		ConflictingRelations: all,
		SeverityScore:        model.Severity(all),
		Metadata:             map[string]any{"relation_type": relType},
		DetectedAt:           time.Now(),
	}
}

func hasNegationToken(s string) bool {
	for _, w := range splitWords(s) {
		if surprise.NegationTokens[w] {
			return true
		}
	}
	return false
}

func splitWords(s string) []string {
	var words []string
	var cur []rune
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			cur = append(cur, r)
			continue
		}
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = nil
		}
	}
	if len(cur) > 0 {
		words = append(words, string(cur))
	}
	for i, w := range words {
		words[i] = toLower(w)
	}
	return words
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

// CheckConsistency scans every graph:entity:* record and aggregates
// conflicts across the tenant's whole graph.
func (c *Checker) CheckConsistency(ctx context.Context, tenant string) ([]model.ConflictObject, error) {
	records, err := c.st.Scan(ctx, tenant, "graph:entity:*", store.ScanOptions{})
	if err != nil {
		return nil, coreerr.Backend("consistency.CheckConsistency", err)
	}

	var all []model.ConflictObject
	for _, rec := range records {
		var e model.Entity
		if json.Unmarshal(rec.Value, &e) != nil {
			continue
		}
		found, err := c.CheckEntity(ctx, tenant, e.ID)
		if err != nil {
			return nil, err
		}
		all = append(all, found...)
	}
	return all, nil
}

// ContradictionSummary buckets conflicts by severity.
type ContradictionSummary struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
	Total  int `json:"total"`
}

// GetContradictionSummary classifies conflicts by ContradictionSeverityBucket.
func GetContradictionSummary(conflicts []model.ConflictObject) ContradictionSummary {
	var s ContradictionSummary
	for _, c := range conflicts {
		switch model.ContradictionSeverityBucket(c.SeverityScore) {
		case "low":
			s.Low++
		case "medium":
			s.Medium++
		default:
			s.High++
		}
	}
	s.Total = len(conflicts)
	return s
}
