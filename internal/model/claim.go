package model

import "time"

// SubClaim is one normalized textual assertion inside a Claim's content.
// The substrate never interprets these beyond lexical/semantic comparison;
// free-form natural language generation is out of scope for the core.
type SubClaim struct {
	Text       string     `json:"text"`
	Confidence Confidence `json:"confidence"`
	Topic      string     `json:"topic,omitempty"`
}

// SurpriseComponents names the weighted contributions behind a composite
// surprise score, kept alongside the score itself for explainability.
type SurpriseComponents struct {
	Novelty            float64 `json:"novelty"`
	ContradictionImpact float64 `json:"contradiction_impact"`
	EvidenceAccumulation float64 `json:"evidence_accumulation"`
	ConfidenceShift    float64 `json:"confidence_shift"`
	Disagreement       float64 `json:"disagreement,omitempty"`
	Momentum           float64 `json:"momentum"`
}

// Claim is the core stored memory unit: an observation, assertion, or
// opinion an agent wrote into tenant-scoped memory.
type Claim struct {
	ID                 string              `json:"id"` // prefix "amem_"
	TenantID            string              `json:"tenant_id"`
	AgentID             string              `json:"agent_id"`
	Content             string              `json:"content"` // opaque payload, e.g. original text
	SubClaims           []SubClaim          `json:"claims,omitempty"`
	Timestamp           int64               `json:"timestamp"` // unix seconds
	SurpriseSignal      map[string]any      `json:"surprise_signal,omitempty"`
	SurpriseScore       float64             `json:"surprise_score"`
	SurpriseComponents  SurpriseComponents  `json:"surprise_components"`
	Importance          float64             `json:"importance"`
	Layer               Layer               `json:"layer"`
	Metadata            map[string]any      `json:"metadata,omitempty"`
	AccessCount         int                 `json:"access_count"`
	LastAccess          int64               `json:"last_access"`
	RetentionStatus     string              `json:"retention_status,omitempty"`
	Evidence            []Evidence          `json:"evidence,omitempty"`
	ContradictionCount  int                 `json:"contradiction_count"`
	Confidence          Confidence          `json:"confidence"`
	IsContested         bool                `json:"is_contested,omitempty"`

	// Set once the claim has been through hierarchical compression.
	CompressionLevel    int     `json:"compression_level,omitempty"`
	CompressionStrategy string  `json:"compression_strategy,omitempty"`
	CompressionRatio    float64 `json:"compression_ratio,omitempty"`
	OriginalRef         string  `json:"original_ref,omitempty"`

	// Set once promoted into institutional memory.
	Institutional   bool       `json:"institutional,omitempty"`
	PromotedAt      *time.Time `json:"promoted_at,omitempty"`
	PromotionReason string     `json:"promotion_reason,omitempty"`
}

// ClaimID formats a claim identifier from a random suffix.
func ClaimID(suffix string) string { return "amem_" + suffix }
