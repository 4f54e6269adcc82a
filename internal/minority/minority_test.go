package minority

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store/memstore"
)

func TestRecord_StartsWithUnresolvedOutcome(t *testing.T) {
	tr := New(memstore.New(), nil)
	opinion, err := tr.Record(context.Background(), "t1", "s1", model.MinorityOpinion{
		AgentID: "agent-1", Position: "the deploy will fail", MajorityPosition: "the deploy will succeed", Topic: "deploy",
	})
	require.NoError(t, err)
	assert.Nil(t, opinion.ProvenCorrect)
	assert.NotEmpty(t, opinion.ID)
}

func TestTrackAccuracy_AccumulatesAcrossOutcomes(t *testing.T) {
	tr := New(memstore.New(), nil)
	ctx := context.Background()

	o1, err := tr.Record(ctx, "t1", "s1", model.MinorityOpinion{AgentID: "agent-1", Position: "Fail"})
	require.NoError(t, err)
	o2, err := tr.Record(ctx, "t1", "s1", model.MinorityOpinion{AgentID: "agent-1", Position: "Succeed"})
	require.NoError(t, err)

	agg, err := tr.TrackAccuracy(ctx, "t1", "agent-1", []Outcome{
		{OpinionID: o1.ID, Actual: "fail"},
		{OpinionID: o2.ID, Actual: "fail"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, agg.TotalOpinions)
	assert.Equal(t, 1, agg.CorrectCount)
	assert.InDelta(t, 0.5, agg.Accuracy, 1e-9)
}

func TestGetReliableDissenters_FiltersAndRanksByReliability(t *testing.T) {
	tr := New(memstore.New(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		o, err := tr.Record(ctx, "t1", "s1", model.MinorityOpinion{AgentID: "reliable-agent", Position: "fail"})
		require.NoError(t, err)
		_, err = tr.TrackAccuracy(ctx, "t1", "reliable-agent", []Outcome{{OpinionID: o.ID, Actual: "fail"}})
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		o, err := tr.Record(ctx, "t1", "s1", model.MinorityOpinion{AgentID: "unreliable-agent", Position: "fail"})
		require.NoError(t, err)
		_, err = tr.TrackAccuracy(ctx, "t1", "unreliable-agent", []Outcome{{OpinionID: o.ID, Actual: "succeed"}})
		require.NoError(t, err)
	}

	dissenters, err := tr.GetReliableDissenters(ctx, "t1", DissenterFilters{})
	require.NoError(t, err)
	require.Len(t, dissenters, 1)
	assert.Equal(t, "reliable-agent", dissenters[0].AgentID)
}
