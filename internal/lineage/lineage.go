// Package lineage implements decision lineage: recording which
// claims a decision used or rejected, reconstructing downstream impact of a
// single claim, and rendering a sectioned report.
//
// Modeled on a decision/claim provenance shape, rebuilt against the Store
// facade instead of dedicated Postgres tables.
package lineage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/noema-ai/noema/internal/auditsink"
	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/keys"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store"
)

// Tracker records decision lineage: which claims a decision used or rejected.
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

// DecisionInput is everything RecordDecision needs.
type DecisionInput struct {
	Decision            string
	ClaimsUsed          []model.ClaimUse
	ClaimsRejected      []model.ClaimUse
	ConflictsUnresolved []string
	Reasoning           []string
}

// RecordDecision computes confidence_score as the mean of used claims'
// weights and persists the lineage record.
func (t *Tracker) RecordDecision(ctx context.Context, tenant, decisionID string, in DecisionInput) (model.DecisionLineage, error) {
	const op = "lineage.RecordDecision"

	var sum float64
	for _, u := range in.ClaimsUsed {
		sum += u.Weight
	}
	var confidence float64
	if len(in.ClaimsUsed) > 0 {
		confidence = sum / float64(len(in.ClaimsUsed))
	}

	record := model.DecisionLineage{
		DecisionID: decisionID, TenantID: tenant, Decision: in.Decision,
		ClaimsUsed: in.ClaimsUsed, ClaimsRejected: in.ClaimsRejected,
		ConflictsUnresolved: in.ConflictsUnresolved, ConfidenceScore: confidence,
		Reasoning: in.Reasoning, Timestamp: time.Now(),
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return model.DecisionLineage{}, coreerr.Invalid(op, "encode decision: "+err.Error())
	}
	if err := t.st.Put(ctx, tenant, keys.Decision(decisionID), payload, map[string]any{"tenant": tenant, "type": "decision", "timestamp": record.Timestamp.Unix()}); err != nil {
		return model.DecisionLineage{}, coreerr.Backend(op, err)
	}

	_, _ = t.sink.Log(ctx, tenant, "decision.record", map[string]any{"decision_id": decisionID, "confidence_score": confidence}, nil)
	return record, nil
}

// GetDecision loads a decision lineage record by id.
func (t *Tracker) GetDecision(ctx context.Context, tenant, decisionID string) (model.DecisionLineage, error) {
	rec, err := t.st.Get(ctx, tenant, keys.Decision(decisionID))
	if err != nil {
		return model.DecisionLineage{}, err
	}
	var d model.DecisionLineage
	if err := json.Unmarshal(rec.Value, &d); err != nil {
		return model.DecisionLineage{}, coreerr.Backend("lineage.GetDecision", err)
	}
	return d, nil
}

// GetDownstreamDecisions scans decisions referencing claimID in
// claims_used.
func (t *Tracker) GetDownstreamDecisions(ctx context.Context, tenant, claimID string) ([]model.DecisionLineage, error) {
	records, err := t.st.Scan(ctx, tenant, "decision:*", store.ScanOptions{})
	if err != nil {
		return nil, coreerr.Backend("lineage.GetDownstreamDecisions", err)
	}

	var out []model.DecisionLineage
	for _, rec := range records {
		var d model.DecisionLineage
		if json.Unmarshal(rec.Value, &d) != nil {
			continue
		}
		for _, u := range d.ClaimsUsed {
			if u.ClaimID == claimID {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

// GenerateDecisionReport renders a sectioned report for decisionID.
func (t *Tracker) GenerateDecisionReport(ctx context.Context, tenant, decisionID string) (model.DecisionReport, error) {
	d, err := t.GetDecision(ctx, tenant, decisionID)
	if err != nil {
		return model.DecisionReport{}, err
	}
	return model.DecisionReport{
		DecisionID:          d.DecisionID,
		Summary:             d.Decision,
		ClaimsUsed:          d.ClaimsUsed,
		ClaimsRejected:      d.ClaimsRejected,
		ConflictsUnresolved: d.ConflictsUnresolved,
		Reasoning:           d.Reasoning,
		ConfidenceScore:     d.ConfidenceScore,
		Timestamp:           d.Timestamp,
	}, nil
}
