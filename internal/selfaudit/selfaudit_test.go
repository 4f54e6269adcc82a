package selfaudit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noema-ai/noema/internal/consistency"
	"github.com/noema-ai/noema/internal/epistat"
	"github.com/noema-ai/noema/internal/graph"
	"github.com/noema-ai/noema/internal/minority"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store"
	"github.com/noema-ai/noema/internal/store/memstore"
)

func newAuditor(st store.Store) *Auditor {
	g := graph.New(st)
	epi := epistat.New(st, nil)
	minor := minority.New(st, nil)
	check := consistency.New(st, g)
	return New(st, epi, minor, check, g)
}

func TestFindWeaklySupported_FlagsHighConfidenceLowEvidence(t *testing.T) {
	st := memstore.New()
	a := newAuditor(st)
	ctx := context.Background()

	claim := model.Claim{ID: "c1", Confidence: model.Confidence{Mean: 0.9}}
	payload, err := json.Marshal(claim)
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, "t1", "institutional:c1", payload, map[string]any{"tenant": "t1", "type": "institutional"}))

	results, err := a.FindWeaklySupported(ctx, "t1", WeaklySupportedFilters{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ClaimID)
	assert.Greater(t, results[0].RiskScore, 0.0)
}

func TestGetWisdomMetrics_ComputesCompositeScore(t *testing.T) {
	st := memstore.New()
	a := newAuditor(st)
	ctx := context.Background()

	epi := epistat.New(st, nil)
	_, err := epi.SetStatus(ctx, "t1", "c1", model.StatusEvidence, nil, "agent-1")
	require.NoError(t, err)
	_, err = epi.SetStatus(ctx, "t1", "c2", model.StatusConfirmed, nil, "agent-1")
	require.NoError(t, err)

	metrics, err := a.GetWisdomMetrics(ctx, "t1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, metrics.WisdomScore, 0.0)
	assert.Equal(t, 1, metrics.StatusCounts[model.StatusEvidence])
	assert.Equal(t, 1, metrics.StatusCounts[model.StatusConfirmed])
}

func TestTrending_ClassifiesIncreasing(t *testing.T) {
	st := memstore.New()
	a := newAuditor(st)
	ctx := context.Background()

	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		day := now.AddDate(0, 0, -i).Format("20060102")
		require.NoError(t, st.AddToSet(ctx, "t1", "index:institutional:"+day, "claim"+day))
	}
	for i := 7; i < 8; i++ {
		day := now.AddDate(0, 0, -i).Format("20060102")
		require.NoError(t, st.AddToSet(ctx, "t1", "index:institutional:"+day, "claimprior"+day))
	}

	trend, err := a.Trending(ctx, "t1", now)
	require.NoError(t, err)
	assert.Equal(t, 5, trend.LastWeek)
	assert.Equal(t, 1, trend.PriorWeek)
	assert.Equal(t, TrendIncreasing, trend.Direction)
}
