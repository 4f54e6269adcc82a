// Package ai defines the AI provider contract consumed by the surprise,
// compression, priority, graph-ingestion, and consistency components
//, plus a heuristic-only implementation that remains correct in
// the provider's absence. No teacher file defines this shape directly; it is
// grounded on the optionality pattern of internal/service/embedding.Provider
// and internal/conflicts.Validator — an interface with a noop/heuristic
// default and pluggable real backends, selected at wiring time.
package ai

import "context"

// SummarizeOptions tunes Summarize's target compression and what must be
// preserved.
type SummarizeOptions struct {
	TargetCompression    float64
	PreserveContradictions bool
	PreserveEvidence     bool
	PreserveIntent       bool
}

// ExtractedEntity is one entity extracted from free text.
type ExtractedEntity struct {
	Name       string
	Type       string
	Attributes map[string]any
}

// ExtractedRelationship is one relation extracted from free text.
type ExtractedRelationship struct {
	From       string
	FromType   string
	To         string
	ToType     string
	Type       string
	Confidence float64
}

// Provider is the capability interface every AI-backed component depends on
// optionally. Implementations must be retry-safe; the core never retries.
type Provider interface {
	// Summarize compresses text toward opts.TargetCompression.
	Summarize(ctx context.Context, text string, opts SummarizeOptions) (string, error)
	// ExtractEntities extracts named entities from text.
	ExtractEntities(ctx context.Context, text string) ([]ExtractedEntity, error)
	// ExtractRelationships extracts relation triples from text.
	ExtractRelationships(ctx context.Context, text string) ([]ExtractedRelationship, error)
	// ExtractEntitiesBatch is a batch form of ExtractEntities. Per the documented
	// Open Question decision, output is strictly positional: out[i] <-> in[i].
	ExtractEntitiesBatch(ctx context.Context, texts []string) ([][]ExtractedEntity, error)
	// ExtractRelationshipsBatch is the batch form of ExtractRelationships,
	// with the same positional-output guarantee.
	ExtractRelationshipsBatch(ctx context.Context, texts []string) ([][]ExtractedRelationship, error)
	// ExtractClaims splits free text into normalized assertions.
	ExtractClaims(ctx context.Context, text string) ([]string, error)
	// ScoreEpistemicConfidence scores how confidently claim holds given context.
	ScoreEpistemicConfidence(ctx context.Context, claim string, context []string) (min, max, mean float64, err error)
	// DetectContradiction reports whether a and b contradict, agree, or
	// neither; nil means "no signal" (the heuristic fallback applies).
	DetectContradiction(ctx context.Context, a, b string) (*bool, error)
	// Embed returns a dense embedding for text, or (nil, nil) when the
	// provider has no embedding capability.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Capable reports whether p is non-nil and should be preferred over the
// heuristic path for a given call; components call this rather than a raw
// nil check so the intent reads at call sites.
func Capable(p Provider) bool { return p != nil }
