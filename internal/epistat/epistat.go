// Package epistat implements the epistemic tracker: the status
// lifecycle for claims (hypothesis/evidence/assumption/decision/rejected/
// confirmed/contested), its append-only transition history, and the
// reasoning-basis classifier used by decision lineage and self-audit.
//
// Grounded on internal/server/audit.go's append-only audit pattern
// (read-then-append, never rewrite history) and internal/model/epistemic.go's
// status types.
package epistat

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/noema-ai/noema/internal/auditsink"
	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/keys"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store"
)

// Tracker records and transitions claims' epistemic status.
type Tracker struct {
	st   store.Store
	sink auditsink.Sink
}

// New constructs a Tracker. A nil sink discards audit events.
func New(st store.Store, sink auditsink.Sink) *Tracker {
	if sink == nil {
		sink = auditsink.Noop{}
	}
	return &Tracker{st: st, sink: sink}
}

// SetStatus validates status, writes the current record, and on an actual
// change appends to the claim's transitions list and reindexes
// epistemic_index:{status}. Read-modify-write is not atomic; callers that
// need strict serialization should hold a per-claim lock where concurrent
// writers exist.
func (t *Tracker) SetStatus(ctx context.Context, tenant, claimID string, status model.EpistemicStatusValue, justification map[string]any, setBy string) (model.EpistemicStatusRecord, error) {
	const op = "epistat.SetStatus"
	if !model.ValidStatus(status) {
		return model.EpistemicStatusRecord{}, coreerr.Invalid(op, "unknown epistemic status: "+string(status))
	}

	prev, err := t.getRecord(ctx, tenant, claimID)
	var previousStatus model.EpistemicStatusValue
	if err == nil {
		previousStatus = prev.Status
	} else if !coreerr.Is(err, coreerr.KindNotFound) {
		return model.EpistemicStatusRecord{}, coreerr.Backend(op, err)
	}

	now := time.Now()
	record := model.EpistemicStatusRecord{
		TenantID: tenant, ClaimID: claimID, Status: status, PreviousStatus: previousStatus,
		Justification: justification, SetAt: now, SetBy: setBy,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return model.EpistemicStatusRecord{}, coreerr.Invalid(op, "encode status: "+err.Error())
	}
	if err := t.st.Put(ctx, tenant, keys.EpistemicStatus(claimID), payload, map[string]any{"tenant": tenant, "type": "epistemic_status", "timestamp": now.Unix()}); err != nil {
		return model.EpistemicStatusRecord{}, coreerr.Backend(op, err)
	}

	if previousStatus != status {
		if err := t.appendTransition(ctx, tenant, claimID, previousStatus, status, setBy, now); err != nil {
			return model.EpistemicStatusRecord{}, coreerr.Backend(op, err)
		}
		if previousStatus != "" {
			_ = t.st.RemoveFromSet(ctx, tenant, keys.EpistemicIndex(string(previousStatus)), claimID)
		}
		_ = t.st.AddToSet(ctx, tenant, keys.EpistemicIndex(string(status)), claimID)
	}

	_, _ = t.sink.Log(ctx, tenant, "epistemic.status_change", map[string]any{
		"claim_id": claimID, "from": previousStatus, "to": status,
	}, nil)

	return record, nil
}

func (t *Tracker) getRecord(ctx context.Context, tenant, claimID string) (model.EpistemicStatusRecord, error) {
	rec, err := t.st.Get(ctx, tenant, keys.EpistemicStatus(claimID))
	if err != nil {
		return model.EpistemicStatusRecord{}, err
	}
	var r model.EpistemicStatusRecord
	if err := json.Unmarshal(rec.Value, &r); err != nil {
		return model.EpistemicStatusRecord{}, coreerr.Backend("epistat.getRecord", err)
	}
	return r, nil
}

func (t *Tracker) appendTransition(ctx context.Context, tenant, claimID string, from, to model.EpistemicStatusValue, setBy string, at time.Time) error {
	key := keys.EpistemicTransitions(claimID)
	var transitions []model.StatusTransition
	rec, err := t.st.Get(ctx, tenant, key)
	if err == nil {
		_ = json.Unmarshal(rec.Value, &transitions)
	} else if !coreerr.Is(err, coreerr.KindNotFound) {
		return err
	}
	transitions = append(transitions, model.StatusTransition{From: from, To: to, At: at, SetBy: setBy})
	payload, err := json.Marshal(transitions)
	if err != nil {
		return err
	}
	return t.st.Put(ctx, tenant, key, payload, map[string]any{"tenant": tenant, "type": "epistemic_transitions", "timestamp": at.Unix()})
}

// GetTransitions returns claimID's append-only transition history.
func (t *Tracker) GetTransitions(ctx context.Context, tenant, claimID string) ([]model.StatusTransition, error) {
	rec, err := t.st.Get(ctx, tenant, keys.EpistemicTransitions(claimID))
	if err != nil {
		if coreerr.Is(err, coreerr.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var transitions []model.StatusTransition
	if err := json.Unmarshal(rec.Value, &transitions); err != nil {
		return nil, coreerr.Backend("epistat.GetTransitions", err)
	}
	return transitions, nil
}

// GetClaimsByStatus reads the epistemic_index:{status} set.
func (t *Tracker) GetClaimsByStatus(ctx context.Context, tenant string, status model.EpistemicStatusValue) ([]string, error) {
	ids, err := t.st.SetMembers(ctx, tenant, keys.EpistemicIndex(string(status)))
	if err != nil {
		return nil, coreerr.Backend("epistat.GetClaimsByStatus", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetReasoningBasis buckets claimIDs by their current status and classifies
// the mix's reasoning quality.
func (t *Tracker) GetReasoningBasis(ctx context.Context, tenant string, claimIDs []string) (model.ReasoningBasis, error) {
	var basis model.ReasoningBasis
	for _, id := range claimIDs {
		record, err := t.getRecord(ctx, tenant, id)
		if err != nil {
			if coreerr.Is(err, coreerr.KindNotFound) {
				continue
			}
			return model.ReasoningBasis{}, coreerr.Backend("epistat.GetReasoningBasis", err)
		}
		switch record.Status {
		case model.StatusEvidence, model.StatusConfirmed:
			basis.FactCount++
		case model.StatusAssumption:
			basis.AssumptionCount++
		case model.StatusHypothesis, model.StatusContested:
			basis.HypothesisCount++
		case model.StatusDecision:
			basis.DecisionCount++
		case model.StatusRejected:
			basis.RejectedCount++
		}
		basis.Total++
	}

	if basis.Total > 0 {
		basis.FactRatio = float64(basis.FactCount) / float64(basis.Total)
		basis.AssumptionRatio = float64(basis.AssumptionCount) / float64(basis.Total)
	}

	switch {
	case basis.FactRatio >= 0.7:
		basis.Quality = "strong"
	case basis.AssumptionRatio >= 0.7:
		basis.Quality = "weak"
	case basis.FactRatio >= 0.4:
		basis.Quality = "moderate"
	default:
		basis.Quality = "speculative"
	}

	return basis, nil
}
