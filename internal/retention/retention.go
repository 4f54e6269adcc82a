// Package retention implements the retention gate: six weighted
// factors combine into a per-claim promote/maintain/compress decision, plus
// the exponential time-decay applied to a claim's importance.
//
// Modeled on a weighted-signal-then-threshold pattern ("bestSig <
// s.threshold" gating a decision) and an errgroup-bounded backfill-worker
// shape, reused here for Sweep.
package retention

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/model"
)

// Weights are the six retention-factor weights; they must sum to 1 but
// Evaluate does not enforce that, since policy updates only require the
// payload to carry the named keys (ValidateRaw below does that).
type Weights struct {
	Surprise      float64 `json:"surprise"`
	Confidence    float64 `json:"confidence"`
	Contradiction float64 `json:"contradiction"`
	Temporal      float64 `json:"temporal"`
	Usage         float64 `json:"usage"`
	Evidence      float64 `json:"evidence"`
}

// DefaultWeights are the built-in factor-weight defaults.
func DefaultWeights() Weights {
	return Weights{Surprise: 0.25, Confidence: 0.15, Contradiction: 0.20, Temporal: 0.15, Usage: 0.15, Evidence: 0.10}
}

// Policy is the per-tenant retention configuration, stored at
// retention_policy:{t}.
type Policy struct {
	Weights                    Weights `json:"retention_weights"`
	PromotionThreshold         float64 `json:"promotion_threshold"`
	CompressionThreshold       float64 `json:"compression_threshold"`
	CompressionAgeDays         float64 `json:"compression_age_days"`
	ConfidenceRetentionThreshold float64 `json:"confidence_retention_threshold"`
	TemporalHalfLifeDays       float64 `json:"temporal_half_life_days"`
	DecayRate                  float64 `json:"decay_rate"`
}

// DefaultPolicy returns the built-in retention/compression defaults.
func DefaultPolicy() Policy {
	return Policy{
		Weights:                      DefaultWeights(),
		PromotionThreshold:           0.7,
		CompressionThreshold:         0.3,
		CompressionAgeDays:           30,
		ConfidenceRetentionThreshold: 0.5,
		TemporalHalfLifeDays:         14,
		DecayRate:                    0.05,
	}
}

// ValidateRaw rejects a policy payload missing any of the required keys:
// retention_weights, promotion_threshold, compression_threshold.
// A zero Weights struct (all fields 0.0) is indistinguishable from "missing"
// in JSON once decoded, so the check runs on the raw decoded map.
func ValidateRaw(payload map[string]any) error {
	const op = "retention.Validate"
	for _, key := range []string{"retention_weights", "promotion_threshold", "compression_threshold"} {
		if _, ok := payload[key]; !ok {
			return coreerr.Invalid(op, "missing required policy key: "+key)
		}
	}
	return nil
}

// Decision is the retention gate's per-claim outcome.
type Decision string

const (
	PromoteToActive Decision = "promote_to_active"
	Maintain        Decision = "maintain"
	CompressToCold  Decision = "compress_to_cold"
)

// Factors are the six computed [0,1] signals behind a retention Decision.
type Factors struct {
	Surprise      float64
	Confidence    float64
	Contradiction float64
	Temporal      float64
	Usage         float64
	Evidence      float64
	Score         float64
}

// Input is everything Evaluate needs about one claim.
type Input struct {
	Surprise        float64
	Confidence      model.Confidence
	ContradictionCount int
	AgeDays         float64
	AccessCount     int
	DaysSinceAccess float64
	EvidenceCount   int
}

// ComputeFactors evaluates the six retention factors and their weighted score.
func ComputeFactors(policy Policy, in Input) Factors {
	f := Factors{
		Surprise:      clip01(in.Surprise),
		Confidence:    math.Max(in.Confidence.Mean, 1-in.Confidence.Mean),
		Contradiction: math.Min(1, float64(in.ContradictionCount)*0.2),
		Temporal:      temporalFactor(in.AgeDays, policy.TemporalHalfLifeDays),
		Usage:         usageFactor(in.AccessCount, in.DaysSinceAccess),
		Evidence:      math.Min(1, math.Log(1+float64(in.EvidenceCount))/math.Log(20)),
	}
	w := policy.Weights
	f.Score = clip01(w.Surprise*f.Surprise + w.Confidence*f.Confidence + w.Contradiction*f.Contradiction +
		w.Temporal*f.Temporal + w.Usage*f.Usage + w.Evidence*f.Evidence)
	return f
}

func temporalFactor(ageDays, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		halfLifeDays = 14
	}
	return math.Exp(-math.Ln2 * ageDays / halfLifeDays)
}

func usageFactor(accessCount int, daysSinceAccess float64) float64 {
	accessTerm := 0.6 * math.Min(1, math.Log(1+float64(accessCount))/math.Log(100))
	recencyTerm := 0.4 * (1 / (1 + daysSinceAccess))
	return accessTerm + recencyTerm
}

// Evaluate runs the retention gate: score >= PromotionThreshold promotes,
// score < CompressionThreshold compresses, otherwise the claim is maintained.
func Evaluate(policy Policy, in Input) (Decision, Factors) {
	f := ComputeFactors(policy, in)
	switch {
	case f.Score >= policy.PromotionThreshold:
		return PromoteToActive, f
	case f.Score < policy.CompressionThreshold:
		return CompressToCold, f
	default:
		return Maintain, f
	}
}

// ApplyDecay multiplies importance by exp(-decay_rate*age_days/(1+surprise)):
// higher surprise claims decay more slowly.
func ApplyDecay(importance, ageDays, surprise, decayRate float64) float64 {
	return importance * math.Exp(-decayRate*ageDays/(1+surprise))
}

// SweepItem is one claim handed to Sweep.
type SweepItem struct {
	ClaimID string
	Input   Input
}

// SweepResult is one claim's outcome from a Sweep call, or an error if the
// per-item callback failed; Sweep is partial-failure tolerant.
type SweepResult struct {
	ClaimID  string
	Decision Decision
	Factors  Factors
	Err      error
}

// Apply is invoked once per item with its decision; it performs whatever
// store mutation the caller wants (promote/demote/compress) and may fail
// without aborting the rest of the sweep.
type Apply func(ctx context.Context, item SweepItem, decision Decision, factors Factors) error

// Sweep evaluates and applies retention decisions over items with bounded
// parallelism, modeled on an errgroup-based backfill-scoring shape.
// A failing item is skipped, counted, and reported in its SweepResult rather
// than aborting the sweep — decay/compression sweeps are partial-failure
// tolerant by design.
func Sweep(ctx context.Context, policy Policy, items []SweepItem, workers int, apply Apply) []SweepResult {
	if workers <= 0 {
		workers = 4
	}
	results := make([]SweepResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			decision, factors := Evaluate(policy, item.Input)
			err := apply(gctx, item, decision, factors)
			results[i] = SweepResult{ClaimID: item.ClaimID, Decision: decision, Factors: factors, Err: err}
			return nil // never abort the group; errors are captured per-item
		})
	}
	_ = g.Wait()
	return results
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
