// Package store defines the typed facade the core uses over an external
// key/value backend. The core never talks to Postgres (or
// any other backend) directly — every component takes a Store and nothing
// else, so a backend can be swapped without touching component logic.
package store

import "context"

// Record is a self-describing value the facade returns from Get/GetMany/Scan.
// Value holds the caller's decoded payload; Meta carries the metadata map
// every write is required to attach (tenant, type, optional immutable,
// timestamp).
type Record struct {
	Key   string
	Value []byte // JSON-encoded payload, decoded by the caller
	Meta  map[string]any
}

// FilterOp is the limited comparison set the scan filter DSL supports.
type FilterOp string

const (
	OpEq FilterOp = "="
	OpGT FilterOp = ">"
	OpLT FilterOp = "<"
	OpGE FilterOp = ">="
	OpLE FilterOp = "<="
)

// Filter is one predicate in a Scan call. Field may name a JSON path
// ("a.b.c"); FieldAlternatives, when non-empty, means "first non-null among
// these paths" (used when a record's shape varies across writers).
type Filter struct {
	Field             string
	FieldAlternatives []string
	Op                FilterOp
	Value             any
}

// ScanOptions bounds and filters a Scan call.
type ScanOptions struct {
	Filters []Filter
	Limit   int // 0 means unbounded
}

// Store is the typed facade over the external KV backend. Implementations
// must be safe under concurrent calls; no ordering across distinct keys is
// assumed beyond the record-before-index guarantee documented on Put.
type Store interface {
	// Get fetches the value at key, or a NotFound error (coreerr.KindNotFound).
	Get(ctx context.Context, tenant, key string) (Record, error)
	// Put writes value with the given metadata. The record must be durable
	// (observable by a subsequent Get) before the caller proceeds to update
	// any index derived from it.
	Put(ctx context.Context, tenant, key string, value []byte, meta map[string]any) error
	// PutMany writes several records, ideally in one batch round-trip.
	PutMany(ctx context.Context, tenant string, records []Record) error
	// GetMany fetches several keys; missing keys are simply absent from the
	// result, not an error.
	GetMany(ctx context.Context, tenant string, keys []string) ([]Record, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, tenant, key string) (bool, error)
	// Scan returns values (not keys) matching a glob pattern ('*' wildcard)
	// and the given filters.
	Scan(ctx context.Context, tenant, pattern string, opts ScanOptions) ([]Record, error)
	// Delete removes key if present; deleting a non-existent key is not an
	// error (used to clear the retention pending marker and to remove agent
	// records, never by claim deletion — claims are never deleted, only
	// compressed).
	Delete(ctx context.Context, tenant, key string) error

	// AddToSet adds member to the set at key.
	AddToSet(ctx context.Context, tenant, key, member string) error
	// RemoveFromSet removes member from the set at key.
	RemoveFromSet(ctx context.Context, tenant, key, member string) error
	// SetMembers returns every member of the set at key. Duplicates are
	// tolerated by readers, not guaranteed absent.
	SetMembers(ctx context.Context, tenant, key string) ([]string, error)
	// SetContains reports whether member is in the set at key.
	SetContains(ctx context.Context, tenant, key, member string) (bool, error)
	// SetCount returns the number of members in the set at key.
	SetCount(ctx context.Context, tenant, key string) (int, error)

	// Ping checks backend connectivity (used by the health endpoint).
	Ping(ctx context.Context) error
}

// EmbeddingStore is implemented by Store backends capable of persisting and
// comparing dense vector embeddings (pgstore, backed by a pgvector column;
// memstore, backed by an in-memory brute-force scan). Not part of Store
// itself — components that want it type-assert, and degrade to their
// non-embedding path when the assertion fails.
type EmbeddingStore interface {
	// PutEmbedding stores vector for key, overwriting any prior value.
	PutEmbedding(ctx context.Context, tenant, key string, vector []float32) error
	// GetEmbedding fetches the embedding stored at key, or ok=false if none exists.
	GetEmbedding(ctx context.Context, tenant, key string) (vector []float32, ok bool, err error)
	// FindNearestEmbeddings returns the keys of the limit closest embeddings
	// to vector within tenant by cosine distance, excluding excludeKey.
	FindNearestEmbeddings(ctx context.Context, tenant string, vector []float32, excludeKey string, limit int) ([]string, error)
}
