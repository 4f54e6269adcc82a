// Package minority implements the minority-opinion tracker:
// recording dissent against a session's majority view, scoring its
// eventual accuracy, and surfacing agents whose minority calls are reliably
// right.
//
// Grounded on internal/conflicts/scorer.go's aggregate-then-rank shape and
// internal/model/minority.go's accuracy/reliability types.
package minority

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noema-ai/noema/internal/auditsink"
	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/keys"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store"
)

// Tracker records minority opinions and their eventual-accuracy track record.
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

// Record writes opinion with proven_correct left unset, and indexes it by
// agent and topic.
func (t *Tracker) Record(ctx context.Context, tenant, session string, opinion model.MinorityOpinion) (model.MinorityOpinion, error) {
	const op = "minority.Record"
	opinion.TenantID = tenant
	opinion.SessionID = session
	if opinion.ID == "" {
		opinion.ID = "minop_" + uuid.NewString()
	}
	opinion.RecordedAt = time.Now()
	opinion.ProvenCorrect = nil

	payload, err := json.Marshal(opinion)
	if err != nil {
		return model.MinorityOpinion{}, coreerr.Invalid(op, "encode opinion: "+err.Error())
	}
	if err := t.st.Put(ctx, tenant, keys.MinorityOpinion(opinion.ID), payload, map[string]any{"tenant": tenant, "type": "minority_opinion", "timestamp": opinion.RecordedAt.Unix()}); err != nil {
		return model.MinorityOpinion{}, coreerr.Backend(op, err)
	}
	_ = t.st.AddToSet(ctx, tenant, keys.MinorityIndex("agent", opinion.AgentID), opinion.ID)
	if opinion.Topic != "" {
		_ = t.st.AddToSet(ctx, tenant, keys.MinorityIndex("topic", opinion.Topic), opinion.ID)
	}

	_, _ = t.sink.Log(ctx, tenant, "minority.record", map[string]any{"opinion_id": opinion.ID, "agent_id": opinion.AgentID}, nil)
	return opinion, nil
}

// Outcome is one resolved position a TrackAccuracy call judges opinions
// against.
type Outcome struct {
	OpinionID string
	Actual    string
}

// TrackAccuracy resolves each outcome against its recorded opinion's
// position, updates proven_correct, and recomputes the agent's aggregate.
// The aggregate is read once and written once per call, without locking,
// so concurrent calls for the same agent must be serialized by the caller.
func (t *Tracker) TrackAccuracy(ctx context.Context, tenant, agent string, outcomes []Outcome) (model.MinorityAccuracy, error) {
	const op = "minority.TrackAccuracy"
	agg, err := t.getAccuracy(ctx, tenant, agent)
	if err != nil {
		return model.MinorityAccuracy{}, err
	}

	for _, outcome := range outcomes {
		rec, err := t.st.Get(ctx, tenant, keys.MinorityOpinion(outcome.OpinionID))
		if err != nil {
			if coreerr.Is(err, coreerr.KindNotFound) {
				continue
			}
			return model.MinorityAccuracy{}, coreerr.Backend(op, err)
		}
		var opinion model.MinorityOpinion
		if err := json.Unmarshal(rec.Value, &opinion); err != nil {
			return model.MinorityAccuracy{}, coreerr.Backend(op, err)
		}

		correct := normalize(opinion.Position) == normalize(outcome.Actual)
		opinion.ProvenCorrect = &correct
		now := time.Now()
		opinion.VerifiedAt = &now
		opinion.Outcome = outcome.Actual

		payload, err := json.Marshal(opinion)
		if err != nil {
			return model.MinorityAccuracy{}, coreerr.Invalid(op, "encode opinion: "+err.Error())
		}
		if err := t.st.Put(ctx, tenant, keys.MinorityOpinion(opinion.ID), payload, map[string]any{"tenant": tenant, "type": "minority_opinion", "timestamp": now.Unix()}); err != nil {
			return model.MinorityAccuracy{}, coreerr.Backend(op, err)
		}

		agg.TotalOpinions++
		if correct {
			agg.CorrectCount++
		}
	}

	if agg.TotalOpinions > 0 {
		agg.Accuracy = float64(agg.CorrectCount) / float64(agg.TotalOpinions)
	}
	agg.TenantID = tenant
	agg.AgentID = agent

	payload, err := json.Marshal(agg)
	if err != nil {
		return model.MinorityAccuracy{}, coreerr.Invalid(op, "encode accuracy: "+err.Error())
	}
	if err := t.st.Put(ctx, tenant, keys.MinorityAccuracy(agent), payload, map[string]any{"tenant": tenant, "type": "minority_accuracy", "timestamp": time.Now().Unix()}); err != nil {
		return model.MinorityAccuracy{}, coreerr.Backend(op, err)
	}

	_, _ = t.sink.Log(ctx, tenant, "minority.accuracy_update", map[string]any{"agent_id": agent, "accuracy": agg.Accuracy}, nil)
	return agg, nil
}

func normalize(s string) string { return strings.TrimSpace(strings.ToLower(s)) }

func (t *Tracker) getAccuracy(ctx context.Context, tenant, agent string) (model.MinorityAccuracy, error) {
	rec, err := t.st.Get(ctx, tenant, keys.MinorityAccuracy(agent))
	if err != nil {
		if coreerr.Is(err, coreerr.KindNotFound) {
			return model.MinorityAccuracy{TenantID: tenant, AgentID: agent}, nil
		}
		return model.MinorityAccuracy{}, coreerr.Backend("minority.getAccuracy", err)
	}
	var agg model.MinorityAccuracy
	if err := json.Unmarshal(rec.Value, &agg); err != nil {
		return model.MinorityAccuracy{}, coreerr.Backend("minority.getAccuracy", err)
	}
	return agg, nil
}

// DissenterFilters bounds GetReliableDissenters.
type DissenterFilters struct {
	MinAccuracy float64 // default 0.6
	MinOpinions int     // default 3
}

// GetReliableDissenters filters agent aggregates and ranks by
// reliability = accuracy·ln(1+total_opinions).
func (t *Tracker) GetReliableDissenters(ctx context.Context, tenant string, filters DissenterFilters) ([]model.ReliableDissenter, error) {
	minAccuracy := filters.MinAccuracy
	if minAccuracy == 0 {
		minAccuracy = 0.6
	}
	minOpinions := filters.MinOpinions
	if minOpinions == 0 {
		minOpinions = 3
	}

	records, err := t.st.Scan(ctx, tenant, "minority_accuracy:*", store.ScanOptions{})
	if err != nil {
		return nil, coreerr.Backend("minority.GetReliableDissenters", err)
	}

	var out []model.ReliableDissenter
	for _, rec := range records {
		var agg model.MinorityAccuracy
		if json.Unmarshal(rec.Value, &agg) != nil {
			continue
		}
		if agg.Accuracy < minAccuracy || agg.TotalOpinions < minOpinions {
			continue
		}
		out = append(out, model.ReliableDissenter{
			AgentID: agg.AgentID, Accuracy: agg.Accuracy, Opinions: agg.TotalOpinions,
			Reliability: agg.Accuracy * math.Log(1+float64(agg.TotalOpinions)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reliability > out[j].Reliability })
	return out, nil
}
