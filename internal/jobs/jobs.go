// Package jobs defines the background job dispatcher contract.
// When no dispatcher is injected, callers fall back to writing a pending
// marker in the store for a worker to pick up later.
//
// Modeled on the app's original background-loop pattern
// (conflictBackfillLoop, conflictRefreshLoop) generalized to an injectable
// interface instead of a hardcoded goroutine.
package jobs

import (
	"context"

	"github.com/noema-ai/noema/internal/keys"
	"github.com/noema-ai/noema/internal/store"
)

// Dispatcher is the job dispatcher contract. A nil job_id return means "not
// dispatched, caller should fall back to a pending marker."
type Dispatcher interface {
	DispatchRetentionEvaluation(ctx context.Context, tenant string) (jobID *string, err error)
	DispatchSummarization(ctx context.Context, tenant, agent, layer string) (jobID *string, err error)
}

// SyncFallback is the no-dispatcher default: every dispatch call returns
// (nil, nil), and callers are expected to record a pending marker themselves
// via MarkRetentionPending.
type SyncFallback struct{}

func (SyncFallback) DispatchRetentionEvaluation(_ context.Context, _ string) (*string, error) {
	return nil, nil
}

func (SyncFallback) DispatchSummarization(_ context.Context, _, _, _ string) (*string, error) {
	return nil, nil
}

var _ Dispatcher = SyncFallback{}

// MarkRetentionPending writes the on-disk pending marker a worker polls for
// when no job dispatcher handled DispatchRetentionEvaluation.
func MarkRetentionPending(ctx context.Context, st store.Store, tenant string) error {
	return st.Put(ctx, tenant, keys.RetentionEvalPending(), []byte(`{"pending":true}`), map[string]any{"tenant": tenant, "type": "retention_eval_pending"})
}

// ClearRetentionPending removes the pending marker once a worker has
// serviced it.
func ClearRetentionPending(ctx context.Context, st store.Store, tenant string) error {
	return st.Delete(ctx, tenant, keys.RetentionEvalPending())
}
