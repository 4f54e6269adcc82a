// Package institutional implements the institutional separator: the gate
// that copies a session's highest-confidence, well-evidenced claims into
// durable institutional memory and marks them confirmed.
//
// Grounded on internal/service/quality's threshold-gate pattern (eligibility
// criteria evaluated per item, rejected items carry reasons) and
// internal/epistat for the status transition it drives.
package institutional

import (
	"context"
	"encoding/json"
	"time"

	"github.com/noema-ai/noema/internal/auditsink"
	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/epistat"
	"github.com/noema-ai/noema/internal/keys"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store"
)

// Criteria gates eligibility for institutional promotion.
type Criteria struct {
	MinConfidence   float64 // default 0.7
	MinAgreement    float64 // default 0.6, reserved for caller-supplied session agreement stats
	RequireEvidence bool    // default true
}

// DefaultCriteria returns the default promotion gate.
func DefaultCriteria() Criteria {
	return Criteria{MinConfidence: 0.7, MinAgreement: 0.6, RequireEvidence: true}
}

// Rejected names one claim that failed promotion and why.
type Rejected struct {
	ClaimID string   `json:"claim_id"`
	Reasons []string `json:"reasons"`
}

// Result is PromoteToInstitutional's return value.
type Result struct {
	Promoted      []string   `json:"promoted"`
	Rejected      []Rejected `json:"rejected"`
	PromotionRate float64    `json:"promotion_rate"`
}

// Separator promotes well-evidenced, high-confidence claims into durable institutional memory.
type Separator struct {
	st   store.Store
	epi  *epistat.Tracker
	sink auditsink.Sink
}

// New constructs a Separator. A nil sink discards audit events.
func New(st store.Store, epi *epistat.Tracker, sink auditsink.Sink) *Separator {
	if sink == nil {
		sink = auditsink.Noop{}
	}
	return &Separator{st: st, epi: epi, sink: sink}
}

// eligible reports whether claim passes criteria and, if not, why.
func eligible(claim model.Claim, criteria Criteria) (bool, []string) {
	var reasons []string
	if claim.Confidence.Mean < criteria.MinConfidence {
		reasons = append(reasons, "confidence below threshold")
	}
	if criteria.RequireEvidence && len(claim.Evidence) == 0 {
		reasons = append(reasons, "no evidence")
	}
	if claim.IsContested {
		reasons = append(reasons, "flagged contested")
	}
	return len(reasons) == 0, reasons
}

// PromoteToInstitutional evaluates each claim against criteria, copying the
// eligible ones into institutional:{tenant}:{id} and setting their epistemic
// status to confirmed.
func (s *Separator) PromoteToInstitutional(ctx context.Context, tenant string, claims []model.Claim, criteria Criteria) (Result, error) {
	const op = "institutional.PromoteToInstitutional"
	var result Result

	for _, claim := range claims {
		ok, reasons := eligible(claim, criteria)
		if !ok {
			result.Rejected = append(result.Rejected, Rejected{ClaimID: claim.ID, Reasons: reasons})
			continue
		}

		now := time.Now()
		claim.Institutional = true
		claim.PromotedAt = &now
		payload, err := json.Marshal(claim)
		if err != nil {
			return Result{}, coreerr.Invalid(op, "encode claim: "+err.Error())
		}
		if err := s.st.Put(ctx, tenant, keys.Institutional(claim.ID), payload, map[string]any{"tenant": tenant, "type": "institutional", "timestamp": now.Unix()}); err != nil {
			return Result{}, coreerr.Backend(op, err)
		}
		_ = s.st.AddToSet(ctx, tenant, keys.IndexInstitutionalDay(now.Format("20060102")), claim.ID)

		if s.epi != nil {
			if _, err := s.epi.SetStatus(ctx, tenant, claim.ID, model.StatusConfirmed, map[string]any{"reason": "institutional_promotion"}, "institutional_separator"); err != nil {
				return Result{}, coreerr.Backend(op, err)
			}
		}

		result.Promoted = append(result.Promoted, claim.ID)
	}

	if total := len(result.Promoted) + len(result.Rejected); total > 0 {
		result.PromotionRate = float64(len(result.Promoted)) / float64(total)
	}

	_, _ = s.sink.Log(ctx, tenant, "institutional.promote", map[string]any{
		"promoted_count": len(result.Promoted), "rejected_count": len(result.Rejected),
	}, nil)

	return result, nil
}

// GetInstitutional loads an institutional claim by id.
func (s *Separator) GetInstitutional(ctx context.Context, tenant, claimID string) (model.Claim, error) {
	rec, err := s.st.Get(ctx, tenant, keys.Institutional(claimID))
	if err != nil {
		return model.Claim{}, err
	}
	var c model.Claim
	if err := json.Unmarshal(rec.Value, &c); err != nil {
		return model.Claim{}, coreerr.Backend("institutional.GetInstitutional", err)
	}
	return c, nil
}
