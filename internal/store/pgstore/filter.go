package pgstore

import (
	"encoding/json"
	"strings"

	"github.com/noema-ai/noema/internal/store"
)

// globToLike translates the core's '*'-wildcard glob into a SQL LIKE pattern,
// escaping LIKE's own metacharacters so a literal '%' or '_' in a key never
// behaves as a wildcard.
func globToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func encodeMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	return json.Marshal(meta)
}

func decodeMeta(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// matchesFilters evaluates the scan filter DSL against a record's decoded
// JSON value. An empty filter set always matches.
func matchesFilters(value []byte, filters []store.Filter) bool {
	if len(filters) == 0 {
		return true
	}
	var decoded map[string]any
	if err := json.Unmarshal(value, &decoded); err != nil {
		return false
	}
	for _, f := range filters {
		if !matchesFilter(decoded, f) {
			return false
		}
	}
	return true
}

func matchesFilter(decoded map[string]any, f store.Filter) bool {
	got, ok := fieldValue(decoded, f)
	if !ok {
		return false
	}
	return compare(got, f.Op, f.Value)
}

// fieldValue resolves f.Field (or, if set, the first non-null path among
// f.FieldAlternatives) as a dotted JSON path into decoded.
func fieldValue(decoded map[string]any, f store.Filter) (any, bool) {
	paths := f.FieldAlternatives
	if len(paths) == 0 {
		paths = []string{f.Field}
	}
	for _, path := range paths {
		if v, ok := lookupPath(decoded, path); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func lookupPath(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, part := range parts {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := asMap[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func compare(got any, op store.FilterOp, want any) bool {
	gotF, gotOK := toFloat(got)
	wantF, wantOK := toFloat(want)
	if gotOK && wantOK {
		switch op {
		case store.OpEq:
			return gotF == wantF
		case store.OpGT:
			return gotF > wantF
		case store.OpLT:
			return gotF < wantF
		case store.OpGE:
			return gotF >= wantF
		case store.OpLE:
			return gotF <= wantF
		}
	}
	if op == store.OpEq {
		return got == want
	}
	gotS, gotOKs := got.(string)
	wantS, wantOKs := want.(string)
	if gotOKs && wantOKs {
		switch op {
		case store.OpGT:
			return gotS > wantS
		case store.OpLT:
			return gotS < wantS
		case store.OpGE:
			return gotS >= wantS
		case store.OpLE:
			return gotS <= wantS
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
