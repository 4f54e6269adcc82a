package consistency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noema-ai/noema/internal/graph"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store/memstore"
)

func TestCheckEntity_MultipleHighConfidenceFlagged(t *testing.T) {
	st := memstore.New()
	g := graph.New(st)
	c := New(st, g)
	ctx := context.Background()

	sun := model.EntityID("topic", "sun")
	a := model.EntityID("x", "a")
	b := model.EntityID("x", "b")
	_, err := g.AddRelation(ctx, "t1", sun, "orbited-by", a, 0.9, nil)
	require.NoError(t, err)
	_, err = g.AddRelation(ctx, "t1", sun, "orbited-by", b, 0.8, nil)
	require.NoError(t, err)

	conflicts, err := c.CheckEntity(ctx, "t1", sun)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, model.ConflictMultipleHighConfidence, conflicts[0].ConflictType)
}

func TestCheckEntity_SemanticContradictionFlagged(t *testing.T) {
	st := memstore.New()
	g := graph.New(st)
	c := New(st, g)
	ctx := context.Background()

	entity := model.EntityID("topic", "flight")
	pos := model.EntityID("x", "delayed")
	neg := model.EntityID("x", "not_delayed")
	_, err := g.AddRelation(ctx, "t1", entity, "status", pos, 0.5, nil)
	require.NoError(t, err)
	_, err = g.AddRelation(ctx, "t1", entity, "status", neg, 0.5, nil)
	require.NoError(t, err)

	conflicts, err := c.CheckEntity(ctx, "t1", entity)
	require.NoError(t, err)
	var sawSemantic bool
	for _, conflict := range conflicts {
		if conflict.ConflictType == model.ConflictSemanticContradiction {
			sawSemantic = true
		}
	}
	assert.True(t, sawSemantic)
}

func TestCheckConsistency_ScansAllEntities(t *testing.T) {
	st := memstore.New()
	g := graph.New(st)
	c := New(st, g)
	ctx := context.Background()

	sun := model.EntityID("topic", "sun")
	a := model.EntityID("x", "a")
	b := model.EntityID("x", "b")
	_, err := g.AddEntity(ctx, "t1", "topic", "sun", nil, nil)
	require.NoError(t, err)
	_, err = g.AddRelation(ctx, "t1", sun, "orbited-by", a, 0.9, nil)
	require.NoError(t, err)
	_, err = g.AddRelation(ctx, "t1", sun, "orbited-by", b, 0.8, nil)
	require.NoError(t, err)

	conflicts, err := c.CheckConsistency(ctx, "t1")
	require.NoError(t, err)
	assert.NotEmpty(t, conflicts)
}

func TestGetContradictionSummary_ClassifiesBySeverity(t *testing.T) {
	conflicts := []model.ConflictObject{
		{SeverityScore: 0.1},
		{SeverityScore: 0.5},
		{SeverityScore: 0.9},
	}
	summary := GetContradictionSummary(conflicts)
	assert.Equal(t, 1, summary.Low)
	assert.Equal(t, 1, summary.Medium)
	assert.Equal(t, 1, summary.High)
	assert.Equal(t, 3, summary.Total)
}
