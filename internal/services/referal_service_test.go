package services

import (
	"context"
	"testing"

	"spinsettle/internal/models"

	"github.com/stretchr/testify/require"
)

func TestReferralRejectsSelfAndCycles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil)
	seedChain(t, h)

	_, err := h.referrals.CreateEdge(ctx, 1, 1)
	require.ErrorIs(t, err, models.ErrSelfReferral)

	// 1 → 2 → 3 exists, 3 → 1 would close the loop
	_, err = h.referrals.CreateEdge(ctx, 3, 1)
	require.ErrorIs(t, err, models.ErrReferralCycle)

	// already referred
	_, err = h.referrals.CreateEdge(ctx, 1, 3)
	require.ErrorIs(t, err, models.ErrConflict)

	edges, err := h.referrals.Chain(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, edges)
}

func TestReferralDepthIsBounded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil)
	seedChain(t, h)

	_, created, err := h.users.EnsureUser(ctx, 4, "deep", 3)
	require.NoError(t, err)
	require.True(t, created)

	edges, err := h.referrals.Chain(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2}, []int64{edges[0].ReferrerId, edges[1].ReferrerId})
	require.Len(t, edges, 2)
	require.Equal(t, int64(1500), edges[0].RateBps)
	require.Equal(t, int64(2500), edges[1].RateBps)
}

func TestInfluencerOverridesDirectRate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil)

	require.NoError(t, h.store.CreateUser(ctx, &models.User{Id: 10, ReferralRole: 2}))
	_, _, err := h.users.EnsureUser(ctx, 11, "fan", 10)
	require.NoError(t, err)

	edges, err := h.referrals.Chain(ctx, 11)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, int64(3000), edges[0].RateBps)
}

func TestEnsureUserIgnoresBadReferrer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil)

	u, created, err := h.users.EnsureUser(ctx, 5, "solo", 404)
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, u.ReferrerId.Valid)

	again, created, err := h.users.EnsureUser(ctx, 5, "solo", 0)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, u.Id, again.Id)
}

func TestDisabledEdgeDoesNotCutUpstream(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil)
	seedChain(t, h)

	n, err := h.referrals.DisableEdges(ctx, 2, 0, true)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	req, err := h.settlement.StartCheckout(ctx, 3, "bronze", models.RailStars)
	require.NoError(t, err)
	_, err = h.settlement.OnSignal(ctx, req.IntentId, starsProof("frozen", 450))
	require.NoError(t, err)

	require.Zero(t, balance(t, h.ledger, 2, models.UnitStars))
	require.Equal(t, int64(112), balance(t, h.ledger, 1, models.UnitStars))
}
