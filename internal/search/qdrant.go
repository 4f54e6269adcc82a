package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures a connection to a Qdrant instance.
type QdrantConfig struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// QdrantIndex implements CandidateFinder and Indexer backed by Qdrant.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger

	healthMu  sync.Mutex
	lastCheck time.Time
	lastErr   error
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333" or "http://host:6334"; a URL without
// a scheme has no host after parsing and is rejected.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("search: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("search: invalid port in qdrant URL: %q", portStr)
		}
		// The REST port (6333) and the gRPC port (6334) differ; this client speaks gRPC.
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantIndex connects to a Qdrant server via gRPC.
func NewQdrantIndex(cfg QdrantConfig, logger *slog.Logger) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection (HNSW, cosine distance) and a
// keyword payload index on "tenant" if it doesn't already exist.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("search: check collection exists: %w", err)
	}
	if exists {
		q.logger.Info("qdrant: collection already exists", "collection", q.collection)
		return nil
	}

	m := uint64(16)
	efConstruct := uint64(128)

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dims,
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &efConstruct,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("search: create collection %q: %w", q.collection, err)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "tenant",
		FieldType:      &keywordType,
	}); err != nil {
		return fmt.Errorf("search: create index on tenant: %w", err)
	}

	q.logger.Info("qdrant: created collection with tenant index", "collection", q.collection, "dims", q.dims)
	return nil
}

// FindSimilar queries Qdrant for claims similar to vector within tenant,
// over-fetching to allow dropping excludeID from the result.
func (q *QdrantIndex) FindSimilar(ctx context.Context, tenant string, vector []float32, excludeID string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	fetchLimit := uint64(limit + 1)

	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vector),
		Filter:         &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("tenant", tenant)}},
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search: qdrant query: %w", err)
	}

	results := make([]Result, 0, len(scored))
	for _, sp := range scored {
		v, ok := sp.Payload["claim_id"]
		if !ok {
			continue
		}
		claimID := v.GetStringValue()
		if claimID == "" || claimID == excludeID {
			continue
		}
		results = append(results, Result{ClaimID: claimID, Score: sp.Score})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// pointID derives Qdrant's required UUID point ID from a claim ID (claim IDs
// carry an "amem_" prefix and are not themselves valid UUIDs). The claim ID
// is recovered from the "claim_id" payload field on read.
func pointID(claimID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(claimID)).String()
}

// Upsert inserts or updates one claim's embedding.
func (q *QdrantIndex) Upsert(ctx context.Context, tenant, claimID string, vector []float32) error {
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(pointID(claimID)),
			Vectors: qdrant.NewVectorsDense(vector),
			Payload: qdrant.NewValueMap(map[string]any{"tenant": tenant, "claim_id": claimID}),
		}},
	})
	if err != nil {
		return fmt.Errorf("search: qdrant upsert %s: %w", claimID, err)
	}
	return nil
}

// Delete removes one claim's embedding.
func (q *QdrantIndex) Delete(ctx context.Context, tenant, claimID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewID(pointID(claimID))}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("search: qdrant delete %s: %w", claimID, err)
	}
	return nil
}

// Healthy reports whether Qdrant is reachable, caching the result for 5s to
// avoid hammering the health endpoint on every request.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	q.healthMu.Lock()
	defer q.healthMu.Unlock()

	if time.Since(q.lastCheck) < 5*time.Second {
		return q.lastErr
	}

	_, err := q.client.HealthCheck(ctx)
	q.lastCheck = time.Now()
	q.lastErr = err
	return q.lastErr
}

// Close shuts down the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
