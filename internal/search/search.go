// Package search provides optional ANN candidate discovery over claim
// embeddings. Consumers (memory.Orchestrator.SearchSimilar, the consistency
// checker's semantic-contradiction scan) degrade gracefully to their non-ANN
// paths when no CandidateFinder is configured.
package search

import "context"

// Result pairs a claim ID with its raw similarity score from the index.
// Callers hydrate the full claim from the Store (source of truth).
type Result struct {
	ClaimID string
	Score   float32
}

// CandidateFinder performs tenant-scoped ANN search for internal use:
// relevance re-ranking and semantic-contradiction candidate discovery.
// Implementations must be safe for concurrent use.
type CandidateFinder interface {
	// FindSimilar returns claim IDs similar to vector within tenant,
	// excluding excludeID (the source claim, when re-querying from an
	// existing claim).
	FindSimilar(ctx context.Context, tenant string, vector []float32, excludeID string, limit int) ([]Result, error)
}

// Indexer ingests claim embeddings into a CandidateFinder's backing index.
// Implementations of CandidateFinder that also support ingestion (QdrantIndex)
// implement this too; callers type-assert when they need to index.
type Indexer interface {
	Upsert(ctx context.Context, tenant, claimID string, vector []float32) error
	Delete(ctx context.Context, tenant, claimID string) error
}
