// Package keys centralizes the store key layout, so every component builds
// keys the same way instead of hand-formatting strings at each call site.
package keys

import "fmt"

func Claim(id string) string { return "adaptive_memory:" + id }

func OriginalMemory(id string) string { return "original_memory:" + id + "_original" }

func RetentionPolicy() string { return "retention_policy" }

func RetentionEvalPending() string { return "retention_eval_pending" }

// SurpriseBucket maps a composite surprise score to one of the five index
// buckets.
func SurpriseBucket(score float64) string {
	switch {
	case score >= 0.8:
		return "very_high"
	case score >= 0.6:
		return "high"
	case score >= 0.4:
		return "medium"
	case score >= 0.2:
		return "low"
	default:
		return "very_low"
	}
}

func SurpriseIndex(bucket string) string { return "surprise_index:" + bucket }

func LayerIndex(layer string) string { return "layer_index:" + layer }

func GraphEntity(id string) string { return "graph:entity:" + id }

func GraphRelation(id string) string { return "graph:relation:" + id }

func GraphIndexType(entityType string) string { return "graph:index:type:" + entityType }

func GraphIndexRelations(entityID string) string { return "graph:index:relations:" + entityID }

func SessionClaims(session string) string { return "session:" + session + ":claims" }

func EpistemicStatus(claimID string) string { return "epistemic_status:" + claimID }

func EpistemicTransitions(claimID string) string { return "epistemic_transitions:" + claimID }

func EpistemicIndex(status string) string { return "epistemic_index:" + status }

func MinorityOpinion(id string) string { return "minority_opinion:" + id }

func MinorityAccuracy(agent string) string { return "minority_accuracy:" + agent }

func MinorityIndex(scope, value string) string { return "minority_index:" + scope + ":" + value }

func Institutional(id string) string { return "institutional:" + id }

func InstitutionalIndicesBuilt() string { return "institutional_indices_built" }

// IndexInstitutionalDay is the per-day institutional-promotion index, keyed
// by a YYYYMMDD date string.
func IndexInstitutionalDay(yyyymmdd string) string { return "index:institutional:" + yyyymmdd }

func WisdomTrend() string { return "wisdom_trend" }

func WisdomTrendHistory(ts int64) string { return fmt.Sprintf("wisdom_trend_history:%d", ts) }

func Decision(id string) string { return "decision:" + id }

// AgentClaims is an implementation-internal index recording which claim ids
// belong to an agent, so the orchestrator can approximate "N most recent
// claims for this agent" without a full tenant table scan.
func AgentClaims(agent string) string { return "agent_claims:" + agent }

// Audit is the key an auditsink.StoreBacked event lives at.
func Audit(id string) string { return "audit:" + id }

// Agent stores an agent's identity and hashed API key. Implementation
// internal: the memory orchestrator never looks at this key, only the HTTP
// auth layer does. Keyed within the tenant the agent belongs to.
func Agent(agentID string) string { return "agent:" + agentID }

// AgentIndex is the per-tenant set of every registered agent_id, used to
// answer ListAgents without a full key-space scan.
func AgentIndex() string { return "agent_index" }

