package priority

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect_RespectsTokenBudget(t *testing.T) {
	items := []Scored{
		{ClaimID: "a", Text: "a claim about dogs and cats living together", Priority: 0.9, Topic: "dogs"},
		{ClaimID: "b", Text: "another claim about dogs and cats and birds", Priority: 0.85, Topic: "dogs"},
		{ClaimID: "c", Text: "a claim about rockets and space travel plans", Priority: 0.8, Topic: "rockets"},
	}
	budget := EstimateTokens(items[0].Text) + EstimateTokens(items[2].Text)
	selected := Select(items, budget, 0.5)

	var total int
	for _, s := range selected {
		total += s.Tokens
	}
	assert.LessOrEqual(t, total, budget)
}

func TestSelect_DiversityPenalizesRepeatedTopic(t *testing.T) {
	items := []Scored{
		{ClaimID: "a", Text: "dogs are loyal companions for families everywhere", Priority: 0.9, Topic: "dogs"},
		{ClaimID: "b", Text: "dogs require regular exercise and mental stimulation", Priority: 0.85, Topic: "dogs"},
		{ClaimID: "c", Text: "dogs shed fur seasonally in most temperate climates", Priority: 0.82, Topic: "dogs"},
	}
	selected := Select(items, 10000, 0.9)
	assert.Less(t, len(selected), len(items), "high diversity factor should eventually suppress same-topic repeats")
}

func TestScore_InUnitRange(t *testing.T) {
	item := Item{
		ClaimID:    "x",
		Text:       "Blogging is legally risky",
		SubClaims:  []string{"Blogging is legally risky"},
		Importance: 0.6,
		Surprise:   0.5,
		AgeDays:    3,
	}
	qctx := QueryContext{QueryText: "Is blogging risky?", HalfLifeDays: 14, Type: QueryRecent}
	score := Score(context.Background(), nil, item, qctx)
	require.GreaterOrEqual(t, score, 0.0)
	require.LessOrEqual(t, score, 1.0)
}

func TestWeightsFor_SumToOne(t *testing.T) {
	for _, qt := range []QueryType{QueryDefault, QueryRecent, QueryImportant, QueryNovel} {
		w := WeightsFor(qt)
		sum := w.Relevance + w.Recency + w.Importance + w.Surprise + w.Usage + w.ContextFit
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestTopicKey_FallsBackToFirstSignificantWord(t *testing.T) {
	key := TopicKey(context.Background(), nil, "a big red rocket launched today")
	assert.Equal(t, "rocket", key)
}
