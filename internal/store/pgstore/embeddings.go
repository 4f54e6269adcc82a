package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/store"
)

var _ store.EmbeddingStore = (*DB)(nil)

// PutEmbedding stores vector for key, overwriting any prior value.
func (db *DB) PutEmbedding(ctx context.Context, tenant, key string, vector []float32) error {
	v := pgvector.NewVector(vector)
	_, err := db.pool.Exec(ctx,
		`INSERT INTO claim_embeddings (tenant, key, embedding, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (tenant, key) DO UPDATE SET embedding = $3, updated_at = now()`,
		tenant, key, v,
	)
	if err != nil {
		return coreerr.Backend(op+".PutEmbedding", err)
	}
	return nil
}

// GetEmbedding fetches the embedding stored at key, or ok=false if none exists.
func (db *DB) GetEmbedding(ctx context.Context, tenant, key string) ([]float32, bool, error) {
	var v pgvector.Vector
	err := db.pool.QueryRow(ctx,
		`SELECT embedding FROM claim_embeddings WHERE tenant = $1 AND key = $2`,
		tenant, key,
	).Scan(&v)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, coreerr.Backend(op+".GetEmbedding", err)
	}
	return v.Slice(), true, nil
}

// FindNearestEmbeddings returns the keys of the limit closest embeddings to
// vector within tenant by cosine distance (pgvector's <=> operator),
// excluding excludeKey. Used as the fallback candidate source when no
// search.CandidateFinder (Qdrant) is configured.
func (db *DB) FindNearestEmbeddings(ctx context.Context, tenant string, vector []float32, excludeKey string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	v := pgvector.NewVector(vector)
	rows, err := db.pool.Query(ctx,
		`SELECT key FROM claim_embeddings
		 WHERE tenant = $1 AND key != $2
		 ORDER BY embedding <=> $3
		 LIMIT $4`,
		tenant, excludeKey, v, limit,
	)
	if err != nil {
		return nil, coreerr.Backend(op+".FindNearestEmbeddings", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, coreerr.Backend(op+".FindNearestEmbeddings", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}
