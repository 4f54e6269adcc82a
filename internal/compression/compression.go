// Package compression implements the five-level hierarchical compression
// scheme: a claim's content is progressively summarized while an
// untouched copy is kept so decompression is always lossless.
//
// Modeled on an append-only persistence discipline — records are versioned
// via supersedes_id/valid_to rather than destroyed — reused here as "never
// delete, always keep a referenceable prior form."
package compression

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/noema-ai/noema/internal/ai"
	"github.com/noema-ai/noema/internal/coreerr"
	"github.com/noema-ai/noema/internal/keys"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store"
)

// LevelRatios are the target content-size ratios per compression level.
var LevelRatios = [5]float64{1.0, 0.7, 0.4, 0.2, 0.1}

// highPreservationStrategies are used when max(surprise, preservationScore) > 0.7.
var highPreservationStrategies = [4]string{"selective_detail", "key_points", "core_summary", "minimal_reference"}

// lowPreservationStrategies are used otherwise.
var lowPreservationStrategies = [4]string{"standard", "aggressive", "extreme", "reference_only"}

// Criteria tunes PreservationScore.
type Criteria struct {
	PreserveHighConfidence bool
}

// PreservationScore is the maximum of surprise and a set of content-shape
// signals that argue for keeping more detail.
func PreservationScore(surprise float64, hasContradictions bool, evidenceCount int, confidenceMean float64, criteria Criteria) float64 {
	best := surprise
	consider := func(v float64) {
		if v > best {
			best = v
		}
	}
	consider(0.5) // baseline floor
	if hasContradictions {
		consider(0.8)
	}
	if evidenceCount > 3 {
		consider(0.7)
	}
	if criteria.PreserveHighConfidence && confidenceMean > 0.8 {
		consider(0.9)
	}
	return best
}

// SelectStrategy picks the compression strategy name for level (1..4) given
// surprise and the preservation score.
func SelectStrategy(level int, surprise, preservationScore float64) string {
	idx := level - 1
	if idx < 0 {
		idx = 0
	}
	if idx > 3 {
		idx = 3
	}
	if max(surprise, preservationScore) > 0.7 {
		return highPreservationStrategies[idx]
	}
	return lowPreservationStrategies[idx]
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Compress applies level-N compression to claim, summarizing its content via
// provider (heuristic or real) and, on first compression only, persisting an
// untouched copy at keys.OriginalMemory so Decompress can always recover it.
func Compress(ctx context.Context, provider ai.Provider, st store.Store, tenant string, claim model.Claim, level int, criteria Criteria) (model.Claim, error) {
	const op = "compression.Compress"
	if level <= 0 || level > 4 {
		return claim, coreerr.Invalid(op, "level must be in 1..4")
	}
	if claim.OriginalRef == "" {
		originalJSON, err := json.Marshal(claim)
		if err != nil {
			return claim, coreerr.Invalid(op, "encode original: "+err.Error())
		}
		ref := keys.OriginalMemory(claim.ID)
		if err := st.Put(ctx, tenant, ref, originalJSON, map[string]any{"tenant": tenant, "type": "original_memory", "immutable": true}); err != nil {
			return claim, coreerr.Backend(op, err)
		}
		claim.OriginalRef = ref
	}

	preservation := PreservationScore(claim.SurpriseScore, claim.ContradictionCount > 0, len(claim.Evidence), claim.Confidence.Mean, criteria)
	strategy := SelectStrategy(level, claim.SurpriseScore, preservation)
	ratio := LevelRatios[level]

	summarized, err := provider.Summarize(ctx, claim.Content, ai.SummarizeOptions{
		TargetCompression:      ratio,
		PreserveContradictions: claim.ContradictionCount > 0,
		PreserveEvidence:       len(claim.Evidence) > 0,
		PreserveIntent:         true,
	})
	if err != nil {
		return claim, coreerr.Degraded(op, "summarize failed, keeping prior content", err)
	}

	claim.Content = summarized
	claim.CompressionLevel = level
	claim.CompressionStrategy = strategy
	claim.CompressionRatio = ratio
	return claim, nil
}

// Decompress returns the untouched original claim referenced by
// claim.OriginalRef, or claim unchanged if it was never compressed.
func Decompress(ctx context.Context, st store.Store, tenant string, claim model.Claim) (model.Claim, error) {
	const op = "compression.Decompress"
	if claim.OriginalRef == "" {
		return claim, nil
	}
	rec, err := st.Get(ctx, tenant, claim.OriginalRef)
	if err != nil {
		return model.Claim{}, err
	}
	var original model.Claim
	if err := json.Unmarshal(rec.Value, &original); err != nil {
		return model.Claim{}, coreerr.Backend(op, err)
	}
	return original, nil
}

// HierarchyAssignment is one claim's slot in a hierarchical summary.
type HierarchyAssignment struct {
	ClaimID string
	Level   int
}

// CreateHierarchicalSummary sorts claims by surprise descending and places
// each at hierarchy level 0/1/2/3 using the surprise thresholds 0.7/0.5/0.3.
func CreateHierarchicalSummary(claims []model.Claim) []HierarchyAssignment {
	sorted := make([]model.Claim, len(claims))
	copy(sorted, claims)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SurpriseScore > sorted[j].SurpriseScore })

	out := make([]HierarchyAssignment, len(sorted))
	for i, c := range sorted {
		var level int
		switch {
		case c.SurpriseScore >= 0.7:
			level = 0
		case c.SurpriseScore >= 0.5:
			level = 1
		case c.SurpriseScore >= 0.3:
			level = 2
		default:
			level = 3
		}
		out[i] = HierarchyAssignment{ClaimID: c.ID, Level: level}
	}
	return out
}
