// Package memstore is an in-memory store.Store implementation used by unit
// tests across the core's components so they can be exercised without a
// Postgres fixture. noema.New also uses it when DATABASE_URL is "memory://".
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/store"
)

type tenantData struct {
	records    map[string]store.Record
	sets       map[string]map[string]bool
	embeddings map[string][]float32
}

// DB is a mutex-guarded in-memory Store.
type DB struct {
	mu      sync.Mutex
	tenants map[string]*tenantData
}

// New constructs an empty in-memory store.
func New() *DB {
	return &DB{tenants: map[string]*tenantData{}}
}

func (db *DB) tenantLocked(tenant string) *tenantData {
	t, ok := db.tenants[tenant]
	if !ok {
		t = &tenantData{records: map[string]store.Record{}, sets: map[string]map[string]bool{}}
		db.tenants[tenant] = t
	}
	return t
}

func (db *DB) Get(_ context.Context, tenant, key string) (store.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tenantLocked(tenant)
	r, ok := t.records[key]
	if !ok {
		return store.Record{}, coreerr.NotFound("memstore.Get", "key not found: "+key)
	}
	return r, nil
}

func (db *DB) Put(_ context.Context, tenant, key string, value []byte, meta map[string]any) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tenantLocked(tenant)
	t.records[key] = store.Record{Key: key, Value: value, Meta: meta}
	return nil
}

func (db *DB) PutMany(ctx context.Context, tenant string, records []store.Record) error {
	for _, r := range records {
		if err := db.Put(ctx, tenant, r.Key, r.Value, r.Meta); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) GetMany(_ context.Context, tenant string, keys []string) ([]store.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tenantLocked(tenant)
	var out []store.Record
	for _, k := range keys {
		if r, ok := t.records[k]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (db *DB) Exists(_ context.Context, tenant, key string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tenantLocked(tenant)
	_, ok := t.records[key]
	return ok, nil
}

func (db *DB) Delete(_ context.Context, tenant, key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tenantLocked(tenant)
	delete(t.records, key)
	return nil
}

func globMatch(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	if !strings.HasSuffix(s, parts[len(parts)-1]) {
		return false
	}
	s = s[:len(s)-len(parts[len(parts)-1])]
	for _, mid := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}
	return true
}

func (db *DB) Scan(_ context.Context, tenant, pattern string, opts store.ScanOptions) ([]store.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tenantLocked(tenant)
	var keysMatched []string
	for k := range t.records {
		if globMatch(pattern, k) {
			keysMatched = append(keysMatched, k)
		}
	}
	sort.Strings(keysMatched)
	var out []store.Record
	for _, k := range keysMatched {
		r := t.records[k]
		if !matchesFilters(r.Value, opts.Filters) {
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (db *DB) AddToSet(_ context.Context, tenant, key, member string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tenantLocked(tenant)
	s, ok := t.sets[key]
	if !ok {
		s = map[string]bool{}
		t.sets[key] = s
	}
	s[member] = true
	return nil
}

func (db *DB) RemoveFromSet(_ context.Context, tenant, key, member string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tenantLocked(tenant)
	if s, ok := t.sets[key]; ok {
		delete(s, member)
	}
	return nil
}

func (db *DB) SetMembers(_ context.Context, tenant, key string) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tenantLocked(tenant)
	var out []string
	for m := range t.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (db *DB) SetContains(_ context.Context, tenant, key, member string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tenantLocked(tenant)
	return t.sets[key][member], nil
}

func (db *DB) SetCount(_ context.Context, tenant, key string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tenantLocked(tenant)
	return len(t.sets[key]), nil
}

func (db *DB) Ping(_ context.Context) error { return nil }

var _ store.Store = (*DB)(nil)
var _ store.EmbeddingStore = (*DB)(nil)
