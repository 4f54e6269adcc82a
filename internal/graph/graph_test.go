package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store/memstore"
)

func TestAddEntity_MergesAttributesAndRecomputesConfidence(t *testing.T) {
	s := New(memstore.New())
	ctx := context.Background()

	_, err := s.AddEntity(ctx, "t1", "person", "Ada Lovelace", map[string]any{"born": 1815}, &EntitySource{ClaimID: "c1", Confidence: 0.9})
	require.NoError(t, err)

	e, err := s.AddEntity(ctx, "t1", "person", "Ada Lovelace", map[string]any{"died": 1852}, &EntitySource{ClaimID: "c2", Confidence: 0.8})
	require.NoError(t, err)

	// "born" was stored and read back as JSON, so it decodes as float64;
	// "died" was merged in from this call's attrs and keeps its Go type.
	assert.Equal(t, 1815, int(e.Attributes["born"].(float64)))
	assert.Equal(t, 1852, int(e.Attributes["died"].(int)))
	assert.Len(t, e.Sources, 2)
	assert.Greater(t, e.AggregateConfidence, 0.0)
	assert.LessOrEqual(t, e.AggregateConfidence, 1.0)
}

func TestAddRelation_DeterministicIDAndBidirectionalIndex(t *testing.T) {
	s := New(memstore.New())
	ctx := context.Background()

	from := model.EntityID("person", "Ada Lovelace")
	to := model.EntityID("topic", "computing")

	r1, err := s.AddRelation(ctx, "t1", from, "pioneered", to, 0.9, &EntitySource{ClaimID: "c1", Confidence: 0.9})
	require.NoError(t, err)
	r2, err := s.AddRelation(ctx, "t1", from, "pioneered", to, 0.85, &EntitySource{ClaimID: "c2", Confidence: 0.85})
	require.NoError(t, err)
	assert.Equal(t, r1.ID, r2.ID, "same triple must produce the same relation id")

	fromRels, err := s.GetRelations(ctx, "t1", from)
	require.NoError(t, err)
	assert.Len(t, fromRels, 1)

	toRels, err := s.GetRelations(ctx, "t1", to)
	require.NoError(t, err)
	assert.Len(t, toRels, 1)
}

func TestGetHistoricalFacts_ConsensusAndContradictions(t *testing.T) {
	s := New(memstore.New())
	ctx := context.Background()

	topic := model.EntityID("topic", "mars")
	_, err := s.AddEntity(ctx, "t1", "topic", "mars", nil, nil)
	require.NoError(t, err)

	earth := model.EntityID("planet", "fourth")
	moon := model.EntityID("planet", "seventh")
	_, err = s.AddRelation(ctx, "t1", topic, "position", earth, 0.9, &EntitySource{ClaimID: "c1", Confidence: 0.9})
	require.NoError(t, err)
	_, err = s.AddRelation(ctx, "t1", topic, "position", earth, 0.8, &EntitySource{ClaimID: "c2", Confidence: 0.8})
	require.NoError(t, err)
	_, err = s.AddRelation(ctx, "t1", topic, "position", moon, 0.4, &EntitySource{ClaimID: "c3", Confidence: 0.4})
	require.NoError(t, err)

	facts, err := s.GetHistoricalFacts(ctx, "t1", "mars", QueryOptions{MinConfidence: 0, IncludeContradictions: true})
	require.NoError(t, err)
	require.Len(t, facts.Consensus, 1)
	assert.Equal(t, earth, facts.Consensus[0].BestTarget)
	assert.NotEmpty(t, facts.Contradictions)
}

func TestFindPath_BoundedBFS(t *testing.T) {
	s := New(memstore.New())
	ctx := context.Background()

	a := model.EntityID("x", "a")
	b := model.EntityID("x", "b")
	c := model.EntityID("x", "c")
	_, err := s.AddRelation(ctx, "t1", a, "links", b, 0.9, nil)
	require.NoError(t, err)
	_, err = s.AddRelation(ctx, "t1", b, "links", c, 0.9, nil)
	require.NoError(t, err)

	path, err := s.FindPath(ctx, "t1", a, c, 5)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, a, path[0].Node)
	assert.Equal(t, c, path[2].Node)

	_, err = s.FindPath(ctx, "t1", a, c, 1)
	assert.Error(t, err)
}

func TestIngestFromClaims_IdempotentPerSession(t *testing.T) {
	g := New(memstore.New())
	ig := NewIngestor(g, nil, nil)
	ctx := context.Background()

	claims := []model.Claim{
		{ID: "c1", Content: "the rocket launched successfully today", Confidence: model.Confidence{Mean: 0.7}, SubClaims: []model.SubClaim{{Text: "rocket launched", Topic: "spaceflight"}}},
	}

	first, err := ig.IngestFromClaims(ctx, "t1", "s1", claims)
	require.NoError(t, err)
	assert.False(t, first.AlreadyIngested)
	assert.Equal(t, 1, first.ClaimsProcessed)

	second, err := ig.IngestFromClaims(ctx, "t1", "s1", claims)
	require.NoError(t, err)
	assert.True(t, second.AlreadyIngested)
	assert.Equal(t, first.EntitiesCreated, second.EntitiesCreated)
}
