package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/store"
)

const op = "pgstore"

// Get fetches the value at key.
func (db *DB) Get(ctx context.Context, tenant, key string) (store.Record, error) {
	var value, meta []byte
	err := db.pool.QueryRow(ctx,
		`SELECT value, meta FROM kv_records WHERE tenant = $1 AND key = $2`,
		tenant, key,
	).Scan(&value, &meta)
	if err != nil {
		if err == pgx.ErrNoRows {
			return store.Record{}, coreerr.NotFound(op+".Get", "key not found: "+key)
		}
		return store.Record{}, coreerr.Backend(op+".Get", err)
	}
	return store.Record{Key: key, Value: value, Meta: decodeMeta(meta)}, nil
}

// Put writes value with the given metadata. Postgres gives us atomicity for
// free here (single-row upsert), satisfying the record-before-index
// guarantee trivially: by the time Put returns, the record is durable.
func (db *DB) Put(ctx context.Context, tenant, key string, value []byte, meta map[string]any) error {
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return coreerr.Invalid(op+".Put", "encode meta: "+err.Error())
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO kv_records (tenant, key, value, meta, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (tenant, key) DO UPDATE SET value = $3, meta = $4, updated_at = now()`,
		tenant, key, value, metaJSON,
	)
	if err != nil {
		return coreerr.Backend(op+".Put", err)
	}
	return nil
}

// PutMany writes several records in one transaction. COPY cannot express
// ON CONFLICT, so records are copied into a temp table and then merged with
// a single INSERT ... SELECT ... ON CONFLICT upsert.
func (db *DB) PutMany(ctx context.Context, tenant string, records []store.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return coreerr.Backend(op+".PutMany", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `CREATE TEMP TABLE kv_staging (key text, value jsonb, meta jsonb) ON COMMIT DROP`); err != nil {
		return coreerr.Backend(op+".PutMany", err)
	}

	rows := make([][]any, len(records))
	for i, r := range records {
		metaJSON, err := encodeMeta(r.Meta)
		if err != nil {
			return coreerr.Invalid(op+".PutMany", "encode meta: "+err.Error())
		}
		rows[i] = []any{r.Key, r.Value, metaJSON}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"kv_staging"}, []string{"key", "value", "meta"}, pgx.CopyFromRows(rows)); err != nil {
		return coreerr.Backend(op+".PutMany", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO kv_records (tenant, key, value, meta, updated_at)
		 SELECT $1, key, value, meta, now() FROM kv_staging
		 ON CONFLICT (tenant, key) DO UPDATE SET value = EXCLUDED.value, meta = EXCLUDED.meta, updated_at = now()`,
		tenant,
	)
	if err != nil {
		return coreerr.Backend(op+".PutMany", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return coreerr.Backend(op+".PutMany", err)
	}
	return nil
}

// GetMany fetches several keys; missing keys are simply absent.
func (db *DB) GetMany(ctx context.Context, tenant string, keys []string) ([]store.Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT key, value, meta FROM kv_records WHERE tenant = $1 AND key = ANY($2)`,
		tenant, keys,
	)
	if err != nil {
		return nil, coreerr.Backend(op+".GetMany", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var r store.Record
		var meta []byte
		if err := rows.Scan(&r.Key, &r.Value, &meta); err != nil {
			return nil, coreerr.Backend(op+".GetMany", err)
		}
		r.Meta = decodeMeta(meta)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Exists reports whether key is present.
func (db *DB) Exists(ctx context.Context, tenant, key string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM kv_records WHERE tenant = $1 AND key = $2)`,
		tenant, key,
	).Scan(&exists)
	if err != nil {
		return false, coreerr.Backend(op+".Exists", err)
	}
	return exists, nil
}

// Delete removes key if present.
func (db *DB) Delete(ctx context.Context, tenant, key string) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM kv_records WHERE tenant = $1 AND key = $2`, tenant, key)
	if err != nil {
		return coreerr.Backend(op+".Delete", err)
	}
	return nil
}

// Scan returns values matching a glob pattern, translated to SQL LIKE, with
// the filter DSL applied in Go after decoding each record's JSON value:
// Postgres has no native way to evaluate "field may be one of several paths,
// first non-null wins" semantics without per-call dynamic SQL, and scan
// result sets here are bounded (index-sized, not full-table), so an
// in-process filter pass is simpler and exactly as correct.
func (db *DB) Scan(ctx context.Context, tenant, pattern string, opts store.ScanOptions) ([]store.Record, error) {
	likePattern := globToLike(pattern)
	sqlStr := `SELECT key, value, meta FROM kv_records WHERE tenant = $1 AND key LIKE $2 ESCAPE '\' ORDER BY key`
	args := []any{tenant, likePattern}
	if opts.Limit > 0 {
		sqlStr += ` LIMIT $3`
		args = append(args, opts.Limit*4) // over-fetch; filters may drop rows
	}

	rows, err := db.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, coreerr.Backend(op+".Scan", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var r store.Record
		var meta []byte
		if err := rows.Scan(&r.Key, &r.Value, &meta); err != nil {
			return nil, coreerr.Backend(op+".Scan", err)
		}
		r.Meta = decodeMeta(meta)
		if !matchesFilters(r.Value, opts.Filters) {
			continue
		}
		out = append(out, r)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, rows.Err()
}

// AddToSet adds member to the set at key.
func (db *DB) AddToSet(ctx context.Context, tenant, key, member string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO kv_sets (tenant, key, member) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		tenant, key, member,
	)
	if err != nil {
		return coreerr.Backend(op+".AddToSet", err)
	}
	return nil
}

// RemoveFromSet removes member from the set at key.
func (db *DB) RemoveFromSet(ctx context.Context, tenant, key, member string) error {
	_, err := db.pool.Exec(ctx,
		`DELETE FROM kv_sets WHERE tenant = $1 AND key = $2 AND member = $3`,
		tenant, key, member,
	)
	if err != nil {
		return coreerr.Backend(op+".RemoveFromSet", err)
	}
	return nil
}

// SetMembers returns every member of the set at key.
func (db *DB) SetMembers(ctx context.Context, tenant, key string) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT member FROM kv_sets WHERE tenant = $1 AND key = $2`, tenant, key)
	if err != nil {
		return nil, coreerr.Backend(op+".SetMembers", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, coreerr.Backend(op+".SetMembers", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// SetContains reports whether member is in the set at key.
func (db *DB) SetContains(ctx context.Context, tenant, key, member string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM kv_sets WHERE tenant = $1 AND key = $2 AND member = $3)`,
		tenant, key, member,
	).Scan(&exists)
	if err != nil {
		return false, coreerr.Backend(op+".SetContains", err)
	}
	return exists, nil
}

// SetCount returns the number of members in the set at key.
func (db *DB) SetCount(ctx context.Context, tenant, key string) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, `SELECT count(*) FROM kv_sets WHERE tenant = $1 AND key = $2`, tenant, key).Scan(&count)
	if err != nil {
		return 0, coreerr.Backend(op+".SetCount", err)
	}
	return count, nil
}

var _ store.Store = (*DB)(nil)
