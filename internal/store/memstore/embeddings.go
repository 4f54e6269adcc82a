package memstore

import (
	"context"
	"math"
	"sort"
)

type embeddingEntry struct {
	key    string
	vector []float32
}

// PutEmbedding stores vector for key, overwriting any prior value.
func (db *DB) PutEmbedding(_ context.Context, tenant, key string, vector []float32) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tenantLocked(tenant)
	if t.embeddings == nil {
		t.embeddings = map[string][]float32{}
	}
	cp := make([]float32, len(vector))
	copy(cp, vector)
	t.embeddings[key] = cp
	return nil
}

// GetEmbedding fetches the embedding stored at key, or ok=false if none exists.
func (db *DB) GetEmbedding(_ context.Context, tenant, key string) ([]float32, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tenantLocked(tenant)
	v, ok := t.embeddings[key]
	return v, ok, nil
}

// FindNearestEmbeddings does a brute-force cosine-similarity scan; fine at
// the in-memory scale this store is used at (unit tests, small deployments).
func (db *DB) FindNearestEmbeddings(_ context.Context, tenant string, vector []float32, excludeKey string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tenantLocked(tenant)

	candidates := make([]embeddingEntry, 0, len(t.embeddings))
	for k, v := range t.embeddings {
		if k == excludeKey {
			continue
		}
		candidates = append(candidates, embeddingEntry{key: k, vector: v})
	}

	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		scores[c.key] = cosineSimilarity(vector, c.vector)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return scores[candidates[i].key] > scores[candidates[j].key]
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.key
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
