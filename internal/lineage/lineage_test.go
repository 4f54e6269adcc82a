package lineage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store/memstore"
)

func TestRecordDecision_ConfidenceIsMeanOfUsedWeights(t *testing.T) {
	tr := New(memstore.New(), nil)
	record, err := tr.RecordDecision(context.Background(), "t1", "d1", DecisionInput{
		Decision:   "ship the release",
		ClaimsUsed: []model.ClaimUse{{ClaimID: "c1", Weight: 0.9}, {ClaimID: "c2", Weight: 0.7}},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, record.ConfidenceScore, 1e-9)
}

func TestGetDownstreamDecisions_FindsReferencingDecisions(t *testing.T) {
	tr := New(memstore.New(), nil)
	ctx := context.Background()

	_, err := tr.RecordDecision(ctx, "t1", "d1", DecisionInput{Decision: "a", ClaimsUsed: []model.ClaimUse{{ClaimID: "shared", Weight: 0.8}}})
	require.NoError(t, err)
	_, err = tr.RecordDecision(ctx, "t1", "d2", DecisionInput{Decision: "b", ClaimsUsed: []model.ClaimUse{{ClaimID: "other", Weight: 0.5}}})
	require.NoError(t, err)
	_, err = tr.RecordDecision(ctx, "t1", "d3", DecisionInput{Decision: "c", ClaimsUsed: []model.ClaimUse{{ClaimID: "shared", Weight: 0.6}}})
	require.NoError(t, err)

	downstream, err := tr.GetDownstreamDecisions(ctx, "t1", "shared")
	require.NoError(t, err)
	require.Len(t, downstream, 2)
}

func TestGenerateDecisionReport_IncludesAllSections(t *testing.T) {
	tr := New(memstore.New(), nil)
	ctx := context.Background()

	_, err := tr.RecordDecision(ctx, "t1", "d1", DecisionInput{
		Decision:            "roll back the deploy",
		ClaimsUsed:          []model.ClaimUse{{ClaimID: "c1", Weight: 0.9}},
		ClaimsRejected:      []model.ClaimUse{{ClaimID: "c2", Reason: "stale evidence"}},
		ConflictsUnresolved: []string{"conflict_1"},
		Reasoning:           []string{"error rate spiked after deploy"},
	})
	require.NoError(t, err)

	report, err := tr.GenerateDecisionReport(ctx, "t1", "d1")
	require.NoError(t, err)
	assert.Equal(t, "roll back the deploy", report.Summary)
	assert.Len(t, report.ClaimsUsed, 1)
	assert.Len(t, report.ClaimsRejected, 1)
	assert.Len(t, report.ConflictsUnresolved, 1)
	assert.NotEmpty(t, report.Reasoning)
}
