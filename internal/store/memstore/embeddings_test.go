package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddings_PutAndGet(t *testing.T) {
	db := New()
	ctx := context.Background()

	_, ok, err := db.GetEmbedding(ctx, "t1", "amem_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.PutEmbedding(ctx, "t1", "amem_1", []float32{1, 0, 0}))
	vec, ok, err := db.GetEmbedding(ctx, "t1", "amem_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0, 0}, vec)
}

func TestEmbeddings_FindNearestRanksByCosineSimilarity(t *testing.T) {
	db := New()
	ctx := context.Background()

	require.NoError(t, db.PutEmbedding(ctx, "t1", "close", []float32{1, 0, 0}))
	require.NoError(t, db.PutEmbedding(ctx, "t1", "far", []float32{0, 1, 0}))
	require.NoError(t, db.PutEmbedding(ctx, "t1", "query", []float32{0.9, 0.1, 0}))

	results, err := db.FindNearestEmbeddings(ctx, "t1", []float32{1, 0, 0}, "query", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "close", results[0])
	assert.Equal(t, "far", results[1])
}

func TestEmbeddings_FindNearestExcludesSelf(t *testing.T) {
	db := New()
	ctx := context.Background()

	require.NoError(t, db.PutEmbedding(ctx, "t1", "a", []float32{1, 0}))
	require.NoError(t, db.PutEmbedding(ctx, "t1", "b", []float32{1, 0}))

	results, err := db.FindNearestEmbeddings(ctx, "t1", []float32{1, 0}, "a", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, results)
}

func TestEmbeddings_TenantIsolated(t *testing.T) {
	db := New()
	ctx := context.Background()

	require.NoError(t, db.PutEmbedding(ctx, "t1", "a", []float32{1, 0}))
	_, ok, err := db.GetEmbedding(ctx, "t2", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}
