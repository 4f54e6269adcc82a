package epistat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store/memstore"
)

func TestSetStatus_RejectsUnknownStatus(t *testing.T) {
	tr := New(memstore.New(), nil)
	_, err := tr.SetStatus(context.Background(), "t1", "c1", "bogus", nil, "agent-1")
	require.Error(t, err)
}

func TestSetStatus_AppendsTransitionOnChange(t *testing.T) {
	tr := New(memstore.New(), nil)
	ctx := context.Background()

	_, err := tr.SetStatus(ctx, "t1", "c1", model.StatusHypothesis, nil, "agent-1")
	require.NoError(t, err)
	_, err = tr.SetStatus(ctx, "t1", "c1", model.StatusConfirmed, nil, "agent-1")
	require.NoError(t, err)
	// re-setting the same status must not append another transition
	_, err = tr.SetStatus(ctx, "t1", "c1", model.StatusConfirmed, nil, "agent-1")
	require.NoError(t, err)

	transitions, err := tr.GetTransitions(ctx, "t1", "c1")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, model.EpistemicStatusValue(""), transitions[0].From)
	assert.Equal(t, model.StatusHypothesis, transitions[0].To)
	assert.Equal(t, model.StatusHypothesis, transitions[1].From)
	assert.Equal(t, model.StatusConfirmed, transitions[1].To)
}

func TestGetClaimsByStatus_ReflectsIndex(t *testing.T) {
	tr := New(memstore.New(), nil)
	ctx := context.Background()

	_, err := tr.SetStatus(ctx, "t1", "c1", model.StatusEvidence, nil, "agent-1")
	require.NoError(t, err)
	_, err = tr.SetStatus(ctx, "t1", "c2", model.StatusEvidence, nil, "agent-1")
	require.NoError(t, err)

	ids, err := tr.GetClaimsByStatus(ctx, "t1", model.StatusEvidence)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)
}

func TestGetReasoningBasis_ClassifiesStrong(t *testing.T) {
	tr := New(memstore.New(), nil)
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		_, err := tr.SetStatus(ctx, "t1", id, model.StatusEvidence, nil, "agent-1")
		require.NoError(t, err)
	}
	_, err := tr.SetStatus(ctx, "t1", "c4", model.StatusHypothesis, nil, "agent-1")
	require.NoError(t, err)

	basis, err := tr.GetReasoningBasis(ctx, "t1", []string{"c1", "c2", "c3", "c4"})
	require.NoError(t, err)
	assert.Equal(t, "strong", basis.Quality)
	assert.InDelta(t, 0.75, basis.FactRatio, 1e-9)
}

func TestGetReasoningBasis_ClassifiesSpeculativeOnEmptyMix(t *testing.T) {
	tr := New(memstore.New(), nil)
	ctx := context.Background()

	_, err := tr.SetStatus(ctx, "t1", "c1", model.StatusDecision, nil, "agent-1")
	require.NoError(t, err)

	basis, err := tr.GetReasoningBasis(ctx, "t1", []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, "speculative", basis.Quality)
}
