package model

import "time"

// ConflictKind is the closed set of structured conflict classifications.
type ConflictKind string

const (
	ConflictMultipleHighConfidence ConflictKind = "multiple_high_confidence"
	ConflictSemanticContradiction  ConflictKind = "semantic_contradiction"
	ConflictRelation               ConflictKind = "relation_conflict"
)

// ConflictObject is a typed, severity-scored description of a detected
// contradiction in the graph. Never a free-form message.
type ConflictObject struct {
	ID                    string         `json:"id"`
	TenantID              string         `json:"tenant_id"`
	EntityID              string         `json:"entity_id"`
	ConflictType          ConflictKind   `json:"conflict_type"`
	ConflictingRelations  []Relation     `json:"conflicting_relations"`
	SeverityScore         float64        `json:"severity_score"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	DetectedAt            time.Time      `json:"detected_at"`
}

// Severity computes min(confidences) * mean(confidences) over two or more
// conflicting relations, or 0 if fewer than two.
func Severity(relations []Relation) float64 {
	if len(relations) < 2 {
		return 0
	}
	min := relations[0].Confidence
	sum := 0.0
	for _, r := range relations {
		if r.Confidence < min {
			min = r.Confidence
		}
		sum += r.Confidence
	}
	mean := sum / float64(len(relations))
	return min * mean
}

// ContradictionSeverityBucket classifies a severity score into low/medium/high.
func ContradictionSeverityBucket(severity float64) string {
	switch {
	case severity < 0.4:
		return "low"
	case severity < 0.7:
		return "medium"
	default:
		return "high"
	}
}
