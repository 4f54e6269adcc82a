package ai

import (
	"context"
	"sort"
	"strings"
)

// Heuristic is the always-available fallback Provider: no network calls, no
// external model. It must remain correct in the absence of a real provider
//, so every surprise/priority/graph computation that consults an
// ai.Provider falls back to this rather than failing.
type Heuristic struct{}

// NewHeuristic constructs the heuristic-only provider.
func NewHeuristic() *Heuristic { return &Heuristic{} }

// Summarize truncates text to approximately opts.TargetCompression of its
// original length, preferring sentence boundaries.
func (h *Heuristic) Summarize(_ context.Context, text string, opts SummarizeOptions) (string, error) {
	if opts.TargetCompression <= 0 || opts.TargetCompression >= 1 {
		return text, nil
	}
	target := int(float64(len(text)) * opts.TargetCompression)
	if target >= len(text) {
		return text, nil
	}
	if target <= 0 {
		return "", nil
	}
	cut := text[:target]
	if idx := strings.LastIndexAny(cut, ".!?"); idx > 0 {
		return cut[:idx+1], nil
	}
	return cut, nil
}

// ExtractEntities has no NLP model to draw on; it returns the capitalized
// words in text as a weak entity guess, tagged generically.
func (h *Heuristic) ExtractEntities(_ context.Context, text string) ([]ExtractedEntity, error) {
	var out []ExtractedEntity
	seen := map[string]bool{}
	for _, word := range strings.Fields(text) {
		w := strings.Trim(word, ".,!?;:\"'()")
		if len(w) == 0 || !isUpper(rune(w[0])) || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, ExtractedEntity{Name: w, Type: "topic"})
	}
	return out, nil
}

// ExtractRelationships has no relation-extraction model; it returns nothing.
// Callers must treat an empty slice as "the heuristic path found no
// relations," not an error.
func (h *Heuristic) ExtractRelationships(_ context.Context, _ string) ([]ExtractedRelationship, error) {
	return nil, nil
}

// ExtractEntitiesBatch applies ExtractEntities positionally over texts.
func (h *Heuristic) ExtractEntitiesBatch(ctx context.Context, texts []string) ([][]ExtractedEntity, error) {
	out := make([][]ExtractedEntity, len(texts))
	for i, t := range texts {
		ents, err := h.ExtractEntities(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = ents
	}
	return out, nil
}

// ExtractRelationshipsBatch applies ExtractRelationships positionally.
func (h *Heuristic) ExtractRelationshipsBatch(ctx context.Context, texts []string) ([][]ExtractedRelationship, error) {
	out := make([][]ExtractedRelationship, len(texts))
	for i, t := range texts {
		rels, err := h.ExtractRelationships(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = rels
	}
	return out, nil
}

// ExtractClaims splits text into sentences, trimming whitespace.
func (h *Heuristic) ExtractClaims(_ context.Context, text string) ([]string, error) {
	parts := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// ScoreEpistemicConfidence has no calibrated model; it returns a neutral,
// moderately wide triple so downstream consumers are not starved of a value.
func (h *Heuristic) ScoreEpistemicConfidence(_ context.Context, _ string, _ []string) (min, max, mean float64, err error) {
	return 0.4, 0.6, 0.5, nil
}

// DetectContradiction has no semantic model; it signals "no opinion" so
// callers fall back to lexical/negation heuristics.
func (h *Heuristic) DetectContradiction(_ context.Context, _, _ string) (*bool, error) {
	return nil, nil
}

// Embed has no embedding model.
func (h *Heuristic) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, nil
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }

var _ Provider = (*Heuristic)(nil)

// SortedUnique is a small shared helper used by several heuristic text
// computations elsewhere in this package's sibling packages (novelty,
// diversity topic keys): returns the sorted unique set of words in s.
func SortedUnique(s string) []string {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,!?;:\"'()")] = true
	}
	out := make([]string, 0, len(set))
	for w := range set {
		if w != "" {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}
