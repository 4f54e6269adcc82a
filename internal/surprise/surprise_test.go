package surprise

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noema-ai/noema/internal/model"
)

func TestCompute_EmptyContextIsHighlySurprising(t *testing.T) {
	res := Compute(context.Background(), nil, Input{
		Text:       "Blogging is legally risky",
		Confidence: model.Confidence{Min: 0.7, Max: 0.85, Mean: 0.78},
	})
	assert.GreaterOrEqual(t, res.Score, 0.5)
	assert.Equal(t, 1.0, res.Components.Novelty)
	assert.InDelta(t, 0, res.Components.ContradictionImpact, 1e-9)
}

func TestCompute_ScoreAlwaysInUnitRange(t *testing.T) {
	ctx := []ContextItem{
		{Text: "Blogging is legally risky", Confidence: model.Confidence{Min: 0.6, Max: 0.9, Mean: 0.75}},
		{Text: "Blogging has no legal risk", Confidence: model.Confidence{Min: 0.5, Max: 0.9, Mean: 0.70}},
	}
	res := Compute(context.Background(), nil, Input{
		Text:       "Blogging has no legal risk",
		Confidence: model.Confidence{Min: 0.5, Max: 0.9, Mean: 0.70},
		Evidence:   []model.Evidence{{Text: "case study", Quality: 0.8}},
		Context:    ctx,
	})
	require.GreaterOrEqual(t, res.Score, 0.0)
	require.LessOrEqual(t, res.Score, 1.0)
	assert.Greater(t, res.Components.ContradictionImpact, 0.0, "opposite-polarity overlapping claim should register contradiction")
}

func TestComputeContradictionImpact_SamePolarityNoSignal(t *testing.T) {
	impact := computeContradictionImpact("Blogging is risky", model.Confidence{Mean: 0.8},
		[]ContextItem{{Text: "Blogging is risky indeed", Confidence: model.Confidence{Mean: 0.7}}})
	assert.Equal(t, 0.0, impact)
}

func TestShannonEntropy_EmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, shannonEntropy(""))
}
