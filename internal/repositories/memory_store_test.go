package repositories

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"spinsettle/internal/models"

	"github.com/stretchr/testify/require"
)

func entry(id int64, key string, kind models.EntryKind, user int64, amount int64, unit models.Unit) models.LedgerEntry {
	return models.LedgerEntry{
		Id:            id,
		SettlementKey: key,
		Kind:          kind,
		UserId:        user,
		Amount:        amount,
		Unit:          unit,
		CreatedAt:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func seedUsers(t *testing.T, s *MemoryStore, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.CreateUser(context.Background(), &models.User{Id: id}))
	}
}

func TestAppendAtomicDeduplicatesByKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, 1, 2)

	batch := []models.LedgerEntry{
		entry(10, "intent-1", models.EntryCredit, 1, 30, models.UnitSpin),
		entry(11, "intent-1", models.EntryCommissionPayout, 2, 67, models.UnitStars),
	}

	stored, err := s.AppendAtomic(ctx, "intent-1", batch)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	again, err := s.AppendAtomic(ctx, "intent-1", []models.LedgerEntry{
		entry(20, "intent-1", models.EntryCredit, 1, 30, models.UnitSpin),
	})
	require.ErrorIs(t, err, models.ErrConflict)
	require.Equal(t, stored, again)

	bal, err := s.BalanceOf(ctx, 1, models.UnitSpin)
	require.NoError(t, err)
	require.Equal(t, int64(30), bal)

	u, err := s.FindUser(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(67), u.CommissionStars)
}

func TestAppendAtomicRejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, 1)

	_, err := s.AppendAtomic(ctx, "spin:1", []models.LedgerEntry{
		entry(1, "spin:1", models.EntryDebit, 1, -1, models.UnitSpin),
	})
	require.ErrorIs(t, err, models.ErrInsufficientBalance)

	entries, err := s.EntriesByUser(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, entries)

	// the key was not burnt by the failed attempt
	_, err = s.AppendAtomic(ctx, "grant", []models.LedgerEntry{
		entry(2, "grant", models.EntryCredit, 1, 5, models.UnitSpin),
	})
	require.NoError(t, err)
	_, err = s.AppendAtomic(ctx, "spin:1", []models.LedgerEntry{
		entry(3, "spin:1", models.EntryDebit, 1, -1, models.UnitSpin),
	})
	require.NoError(t, err)
}

func TestAppendAtomicValidatesBatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, 1)

	_, err := s.AppendAtomic(ctx, "k", nil)
	require.Error(t, err)

	_, err = s.AppendAtomic(ctx, "k", []models.LedgerEntry{entry(1, "other", models.EntryCredit, 1, 1, models.UnitSpin)})
	require.Error(t, err)

	_, err = s.AppendAtomic(ctx, "k", []models.LedgerEntry{entry(1, "k", models.EntryCredit, 1, -1, models.UnitSpin)})
	require.Error(t, err)

	_, err = s.AppendAtomic(ctx, "k", []models.LedgerEntry{entry(1, "k", models.EntryCredit, 99, 1, models.UnitSpin)})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestAppendAtomicChainsHashesPerUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, 1)

	for i, key := range []string{"a", "b", "c"} {
		_, err := s.AppendAtomic(ctx, key, []models.LedgerEntry{
			entry(int64(i+1), key, models.EntryCredit, 1, 10, models.UnitSpin),
		})
		require.NoError(t, err)
	}

	entries, err := s.EntriesByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	prev := models.GenesisHash
	for _, e := range entries {
		require.Equal(t, prev, e.PreviousHash)
		require.Equal(t, e.GenerateHash(), e.Hash)
		prev = e.Hash
	}

	u, err := s.FindUser(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, prev, u.LastEntryHash)

	chain, head, err := s.UserChain(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, entries, chain)
	require.Equal(t, prev, head)

	_, _, err = s.UserChain(ctx, 42)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestSumsAndDriftAgree(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, 1, 2)

	_, err := s.AppendAtomic(ctx, "x", []models.LedgerEntry{
		entry(1, "x", models.EntryCredit, 1, 60, models.UnitSpin),
		entry(2, "x", models.EntryCommissionPayout, 2, 135, models.UnitStars),
	})
	require.NoError(t, err)

	entries, err := s.SumAllEntries(ctx)
	require.NoError(t, err)
	balances, err := s.SumAllBalances(ctx)
	require.NoError(t, err)
	require.Equal(t, entries, balances)

	te, tb, err := s.Totals(ctx)
	require.NoError(t, err)
	require.Equal(t, entries, te)
	require.Equal(t, balances, tb)

	drift, err := s.BalanceDrift(ctx)
	require.NoError(t, err)
	require.Empty(t, drift)

	// simulate a projection bug
	s.balances[balanceKey{userId: 1, unit: models.UnitSpin}] = 59
	drift, err = s.BalanceDrift(ctx)
	require.NoError(t, err)
	require.Equal(t, []models.BalanceDrift{{UserId: 1, Unit: models.UnitSpin, EntriesSum: 60, Balance: 59}}, drift)
}

func TestReversalReducesLifetimeCommission(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, 1, 2)

	stored, err := s.AppendAtomic(ctx, "i", []models.LedgerEntry{
		entry(1, "i", models.EntryCredit, 1, 30, models.UnitSpin),
		entry(2, "i", models.EntryCommissionPayout, 2, 67, models.UnitStars),
	})
	require.NoError(t, err)

	rev := entry(3, "reversal:i", models.EntryReversal, 2, -67, models.UnitStars)
	rev.PredecessorId = sql.NullInt64{Int64: stored[1].Id, Valid: true}
	_, err = s.AppendAtomic(ctx, "reversal:i", []models.LedgerEntry{rev})
	require.NoError(t, err)

	u, err := s.FindUser(ctx, 2)
	require.NoError(t, err)
	require.Zero(t, u.CommissionStars)
}

func TestConsumeProof(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.ConsumeProof(ctx, models.RailStars, "charge-1", "intent-a"))
	require.NoError(t, s.ConsumeProof(ctx, models.RailStars, "charge-1", "intent-a"))
	require.ErrorIs(t, s.ConsumeProof(ctx, models.RailStars, "charge-1", "intent-b"), models.ErrReplaySignal)
	require.NoError(t, s.ConsumeProof(ctx, models.RailTON, "charge-1", "intent-b"))
}

func TestCreateEdgesOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUsers(t, s, 1, 2, 3)

	edges := []models.ReferralEdge{{ReferrerId: 1, ReferredId: 2, Depth: 1, RateBps: 1500}}
	require.NoError(t, s.CreateEdges(ctx, 2, edges))
	require.ErrorIs(t, s.CreateEdges(ctx, 2, []models.ReferralEdge{{ReferrerId: 3, ReferredId: 2, Depth: 1, RateBps: 1500}}), models.ErrConflict)

	u, err := s.FindUser(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), u.ReferrerId.Int64)

	n, err := s.SetEdgesDisabled(ctx, 1, 0, true)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.EdgesOf(ctx, 2)
	require.NoError(t, err)
	require.True(t, got[0].Disabled)
}

func TestIntentQueries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	for i, st := range []models.SettlementState{models.StateAwaitingVerification, models.StateAwaitingVerification, models.StateSettled} {
		require.NoError(t, s.CreateIntent(ctx, &models.PaymentIntent{
			Id:        string(rune('a' + i)),
			Status:    st,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
			ExpiresAt: now.Add(time.Duration(i) * time.Hour),
		}))
	}

	awaiting, err := s.FindByState(ctx, models.StateAwaitingVerification, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, awaiting, 2)

	expired, err := s.FindExpired(ctx, now.Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "a", expired[0].Id)

	rec, err := s.FindSettlement(ctx, "a")
	require.NoError(t, err)
	rec.State = models.StateExpired
	require.NoError(t, s.UpdateSettlement(ctx, rec))

	intent, err := s.FindIntent(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, models.StateExpired, intent.Status)
}
