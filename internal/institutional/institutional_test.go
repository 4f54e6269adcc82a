package institutional

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noema-ai/noema/internal/epistat"
	"github.com/noema-ai/noema/internal/model"
	"github.com/noema-ai/noema/internal/store/memstore"
)

func TestPromoteToInstitutional_GatesOnConfidenceEvidenceAndContested(t *testing.T) {
	st := memstore.New()
	epi := epistat.New(st, nil)
	sep := New(st, epi, nil)
	ctx := context.Background()

	claims := []model.Claim{
		{ID: "c1", Confidence: model.Confidence{Mean: 0.9}, Evidence: []model.Evidence{{}}},
		{ID: "c2", Confidence: model.Confidence{Mean: 0.3}, Evidence: []model.Evidence{{}}},
		{ID: "c3", Confidence: model.Confidence{Mean: 0.9}},
		{ID: "c4", Confidence: model.Confidence{Mean: 0.9}, Evidence: []model.Evidence{{}}, IsContested: true},
	}

	result, err := sep.PromoteToInstitutional(ctx, "t1", claims, DefaultCriteria())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1"}, result.Promoted)
	require.Len(t, result.Rejected, 3)
	assert.InDelta(t, 0.25, result.PromotionRate, 1e-9)

	status, err := epi.GetClaimsByStatus(ctx, "t1", model.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, status)
}

func TestGetInstitutional_ReturnsPromotedClaim(t *testing.T) {
	st := memstore.New()
	sep := New(st, nil, nil)
	ctx := context.Background()

	claims := []model.Claim{{ID: "c1", Confidence: model.Confidence{Mean: 0.95}, Evidence: []model.Evidence{{}}}}
	_, err := sep.PromoteToInstitutional(ctx, "t1", claims, DefaultCriteria())
	require.NoError(t, err)

	got, err := sep.GetInstitutional(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.True(t, got.Institutional)
	require.NotNil(t, got.PromotedAt)
}
