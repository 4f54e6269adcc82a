// Package auditsink defines the audit log sink contract the core consumes
// plus a store-backed default implementation. The sink owns
// tamper-evidence; the core never depends on its consistency for
// correctness, so every call site treats a sink error as logged
// and swallowed, never propagated.
//
// Grounded on internal/server/audit.go's best-effort mutation-audit append
// (retry loop around a single insert, never blocking the caller's own
// success).
package auditsink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/noema-ai/noema/internal/store"
)

// Sink is the audit log contract.
type Sink interface {
	Log(ctx context.Context, tenant, action string, data map[string]any, auditContext map[string]any) (string, error)
}

// Noop discards every event; used when no sink is configured.
type Noop struct{}

func (Noop) Log(_ context.Context, _, _ string, _, _ map[string]any) (string, error) { return "", nil }

var _ Sink = Noop{}

// StoreBacked appends audit events as records in the core's own Store under
// audit:{id}, keeping an append-only id index per tenant. This is the
// default when no external sink is injected.
type StoreBacked struct {
	st store.Store
}

// New wraps st as an audit Sink.
func New(st store.Store) *StoreBacked { return &StoreBacked{st: st} }

type entry struct {
	ID        string         `json:"id"`
	Tenant    string         `json:"tenant"`
	Action    string         `json:"action"`
	Data      map[string]any `json:"data,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (s *StoreBacked) Log(ctx context.Context, tenant, action string, data, auditContext map[string]any) (string, error) {
	id := "audit_" + uuid.NewString()
	e := entry{ID: id, Tenant: tenant, Action: action, Data: data, Context: auditContext, Timestamp: time.Now()}
	payload, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	key := "audit:" + id
	if err := s.st.Put(ctx, tenant, key, payload, map[string]any{"tenant": tenant, "type": "audit", "timestamp": e.Timestamp.Unix()}); err != nil {
		return "", err
	}
	if err := s.st.AddToSet(ctx, tenant, "audit_index", id); err != nil {
		return id, err
	}
	return id, nil
}

var _ Sink = (*StoreBacked)(nil)
