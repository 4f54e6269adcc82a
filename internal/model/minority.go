package model

import "time"

// MinorityOpinion is a recorded dissent against a session's majority view.
type MinorityOpinion struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	SessionID        string     `json:"session_id"`
	AgentID          string     `json:"agent_id"`
	Position         string     `json:"position"`
	Reasoning        string     `json:"reasoning,omitempty"`
	Confidence       float64    `json:"confidence"`
	MajorityPosition string     `json:"majority_position"`
	Topic            string     `json:"topic,omitempty"`
	RecordedAt       time.Time  `json:"recorded_at"`
	Outcome          string     `json:"outcome,omitempty"`
	ProvenCorrect    *bool      `json:"proven_correct,omitempty"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
}

// MinorityAccuracy is the per-agent aggregate accuracy of recorded dissent.
type MinorityAccuracy struct {
	TenantID       string  `json:"tenant_id"`
	AgentID        string  `json:"agent_id"`
	TotalOpinions  int     `json:"total_opinions"`
	CorrectCount   int     `json:"correct_count"`
	Accuracy       float64 `json:"accuracy"`
}

// ReliableDissenter is one agent surfaced by getReliableDissenters, ranked by
// reliability = accuracy * ln(1 + total_opinions).
type ReliableDissenter struct {
	AgentID     string  `json:"agent_id"`
	Accuracy    float64 `json:"accuracy"`
	Opinions    int     `json:"total_opinions"`
	Reliability float64 `json:"reliability"`
}
