// Package selfaudit implements the self-audit component: the
// introspection layer that flags weakly-supported institutional claims,
// surfaces unresolved high-severity conflicts, scores overall "wisdom," and
// tracks whether institutional growth is trending up or down.
//
// Grounded on internal/service/tracehealth's metric-rollup shape and
// internal/conflicts/scorer.go's scan-then-rank pattern.
package selfaudit

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/noema-ai/noema/internal/consistency"
	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/epistat"
	"github.com/noema-ai/noema/internal/graph"
	"github.com/noema-ai/noema/internal/keys"
	"github.com/noema-ai/noema/internal/minority"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store"
)

// Auditor synthesizes cross-cutting reports (weakly-supported claims,
// unresolved conflicts, collective wisdom, confidence trends) by reading
// across the epistemic, minority, and consistency trackers it wraps.
type Auditor struct {
	st    store.Store
	epi   *epistat.Tracker
	minor *minority.Tracker
	check *consistency.Checker
	g     *graph.Store
}

// New constructs an Auditor.
func New(st store.Store, epi *epistat.Tracker, minor *minority.Tracker, check *consistency.Checker, g *graph.Store) *Auditor {
	return &Auditor{st: st, epi: epi, minor: minor, check: check, g: g}
}

// WeaklySupportedFilters bounds FindWeaklySupported.
type WeaklySupportedFilters struct {
	MinConfidence float64 // default 0.7
	MaxEvidence   int     // default 2
}

// WeakClaim is one institutional claim whose evidence may not justify its
// confidence.
type WeakClaim struct {
	ClaimID       string  `json:"claim_id"`
	Confidence    float64 `json:"confidence"`
	EvidenceCount int     `json:"evidence_count"`
	RiskScore     float64 `json:"risk_score"`
}

// FindWeaklySupported scans institutional memory for claims whose
// confidence outruns their evidence.
func (a *Auditor) FindWeaklySupported(ctx context.Context, tenant string, filters WeaklySupportedFilters) ([]WeakClaim, error) {
	minConfidence := filters.MinConfidence
	if minConfidence == 0 {
		minConfidence = 0.7
	}
	maxEvidence := filters.MaxEvidence
	if maxEvidence == 0 {
		maxEvidence = 2
	}

	records, err := a.st.Scan(ctx, tenant, "institutional:*", store.ScanOptions{})
	if err != nil {
		return nil, coreerr.Backend("selfaudit.FindWeaklySupported", err)
	}

	var out []WeakClaim
	for _, rec := range records {
		var c model.Claim
		if json.Unmarshal(rec.Value, &c) != nil {
			continue
		}
		if c.Confidence.Mean < minConfidence || len(c.Evidence) > maxEvidence {
			continue
		}
		out = append(out, WeakClaim{
			ClaimID: c.ID, Confidence: c.Confidence.Mean, EvidenceCount: len(c.Evidence),
			RiskScore: c.Confidence.Mean / math.Max(1, float64(len(c.Evidence))),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RiskScore > out[j].RiskScore })
	return out, nil
}

// FindHighConfidenceConflicts returns J's "high" severity bucket across the
// whole tenant graph.
func (a *Auditor) FindHighConfidenceConflicts(ctx context.Context, tenant string) ([]model.ConflictObject, error) {
	conflicts, err := a.check.CheckConsistency(ctx, tenant)
	if err != nil {
		return nil, err
	}
	var high []model.ConflictObject
	for _, c := range conflicts {
		if model.ContradictionSeverityBucket(c.SeverityScore) == "high" {
			high = append(high, c)
		}
	}
	return high, nil
}

// WisdomMetrics is GetWisdomMetrics's return value.
type WisdomMetrics struct {
	StatusCounts      map[model.EpistemicStatusValue]int `json:"status_counts"`
	MinorityAccuracy  float64                             `json:"minority_accuracy"`
	InstitutionalCount int                                 `json:"institutional_count"`
	WisdomScore       float64                             `json:"wisdom_score"`
}

var trackedStatuses = []model.EpistemicStatusValue{
	model.StatusHypothesis, model.StatusEvidence, model.StatusAssumption,
	model.StatusDecision, model.StatusRejected, model.StatusConfirmed, model.StatusContested,
}

// GetWisdomMetrics rolls up status counts, minority accuracy, and a
// composite wisdom score.
func (a *Auditor) GetWisdomMetrics(ctx context.Context, tenant string) (WisdomMetrics, error) {
	const op = "selfaudit.GetWisdomMetrics"
	counts := map[model.EpistemicStatusValue]int{}
	var total int
	for _, status := range trackedStatuses {
		ids, err := a.epi.GetClaimsByStatus(ctx, tenant, status)
		if err != nil {
			return WisdomMetrics{}, err
		}
		counts[status] = len(ids)
		total += len(ids)
	}

	dissenters, err := a.minor.GetReliableDissenters(ctx, tenant, minority.DissenterFilters{MinAccuracy: 0, MinOpinions: 0})
	if err != nil {
		return WisdomMetrics{}, err
	}
	var minorityAccuracy float64
	if len(dissenters) > 0 {
		var sum float64
		for _, d := range dissenters {
			sum += d.Accuracy
		}
		minorityAccuracy = sum / float64(len(dissenters))
	}

	instRecords, err := a.st.Scan(ctx, tenant, "institutional:*", store.ScanOptions{})
	if err != nil {
		return WisdomMetrics{}, coreerr.Backend(op, err)
	}
	instCount := len(instRecords)

	var evidenceRatio, confirmationRate float64
	if total > 0 {
		evidenceRatio = float64(counts[model.StatusEvidence]) / float64(total)
		confirmationRate = float64(counts[model.StatusConfirmed]) / float64(total)
	}

	wisdomScore := 0.3*evidenceRatio + 0.3*minorityAccuracy + 0.2*confirmationRate + 0.2*math.Min(1, math.Log(float64(instCount)+1)/10)

	return WisdomMetrics{
		StatusCounts: counts, MinorityAccuracy: minorityAccuracy,
		InstitutionalCount: instCount, WisdomScore: wisdomScore,
	}, nil
}

// TrendDirection is trending's closed classification set.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// Trend is Trending's return value.
type Trend struct {
	Direction    TrendDirection `json:"direction"`
	Volatile     bool           `json:"volatile"`
	LastWeek     int            `json:"last_week_count"`
	PriorWeek    int            `json:"prior_week_count"`
	ChangeRatio  float64        `json:"change_ratio"`
}

// Trending compares institutional growth over the trailing two 7-day
// windows using the daily set indices, lazily built on first use by
// scanning institutional memory once.
func (a *Auditor) Trending(ctx context.Context, tenant string, now time.Time) (Trend, error) {
	const op = "selfaudit.Trending"
	if err := a.ensureDailyIndices(ctx, tenant); err != nil {
		return Trend{}, err
	}

	lastWeek, err := a.countDays(ctx, tenant, now, 0, 7)
	if err != nil {
		return Trend{}, coreerr.Backend(op, err)
	}
	priorWeek, err := a.countDays(ctx, tenant, now, 7, 14)
	if err != nil {
		return Trend{}, coreerr.Backend(op, err)
	}

	var change float64
	if priorWeek > 0 {
		change = float64(lastWeek-priorWeek) / float64(priorWeek)
	} else if lastWeek > 0 {
		change = 1
	}

	direction := TrendStable
	switch {
	case change > 0.10:
		direction = TrendIncreasing
	case change < -0.10:
		direction = TrendDecreasing
	}
	volatile := lastWeek <= 3 && priorWeek <= 3 && math.Abs(change) >= 0.5

	return Trend{Direction: direction, Volatile: volatile, LastWeek: lastWeek, PriorWeek: priorWeek, ChangeRatio: change}, nil
}

func (a *Auditor) countDays(ctx context.Context, tenant string, now time.Time, startDaysAgo, endDaysAgo int) (int, error) {
	var total int
	for d := startDaysAgo; d < endDaysAgo; d++ {
		day := now.AddDate(0, 0, -d).Format("20060102")
		n, err := a.st.SetCount(ctx, tenant, keys.IndexInstitutionalDay(day))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// ensureDailyIndices builds index:institutional:{tenant}:{YYYYMMDD} from
// existing institutional records exactly once per tenant, guarded by
// institutional_indices_built.
func (a *Auditor) ensureDailyIndices(ctx context.Context, tenant string) error {
	built, err := a.st.Exists(ctx, tenant, keys.InstitutionalIndicesBuilt())
	if err != nil {
		return coreerr.Backend("selfaudit.ensureDailyIndices", err)
	}
	if built {
		return nil
	}

	records, err := a.st.Scan(ctx, tenant, "institutional:*", store.ScanOptions{})
	if err != nil {
		return coreerr.Backend("selfaudit.ensureDailyIndices", err)
	}
	for _, rec := range records {
		var c model.Claim
		if json.Unmarshal(rec.Value, &c) != nil || c.PromotedAt == nil {
			continue
		}
		_ = a.st.AddToSet(ctx, tenant, keys.IndexInstitutionalDay(c.PromotedAt.Format("20060102")), c.ID)
	}
	return a.st.Put(ctx, tenant, keys.InstitutionalIndicesBuilt(), []byte(`{"built":true}`), map[string]any{"tenant": tenant, "type": "institutional_indices_built"})
}
