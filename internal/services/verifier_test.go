package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"spinsettle/internal/models"
	"spinsettle/internal/repositories"

	"github.com/stretchr/testify/require"
)

func tonIntent(now time.Time) *models.PaymentIntent {
	return &models.PaymentIntent{
		Id:             "ton-intent",
		UserId:         3,
		Rail:           models.RailTON,
		ExpectedAmount: 4_900_000_000,
		Unit:           models.UnitNanoTON,
		Destination:    tonWallet,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		Status:         models.StateAwaitingVerification,
	}
}

func newTestVerifier(c *clock) (*Verifier, *fakeChain) {
	chain := &fakeChain{}
	v := NewVerifier(repositories.NewMemoryStore(), chain, 2)
	v.now = c.Now
	return v, chain
}

func TestVerifierTerminalIntentRejected(t *testing.T) {
	c := newClock()
	v, _ := newTestVerifier(c)

	for _, st := range []models.SettlementState{models.StateSettled, models.StateRejected, models.StateExpired} {
		intent := tonIntent(c.Now())
		intent.Status = st
		res, err := v.Verify(context.Background(), intent, nil)
		require.NoError(t, err)
		require.Equal(t, models.VerificationRejected, res.Result)
	}
}

func TestVerifierTonConfirmations(t *testing.T) {
	c := newClock()
	v, chain := newTestVerifier(c)
	intent := tonIntent(c.Now())

	chain.set(intent.Id, models.Transfer{Hash: "h", Amount: 4_900_000_000, Confirmations: 1, At: c.Now()})
	res, err := v.Verify(context.Background(), intent, nil)
	require.NoError(t, err)
	require.Equal(t, models.VerificationPending, res.Result)

	chain.set(intent.Id, models.Transfer{Hash: "h", Amount: 4_900_000_000, Confirmations: 2, At: c.Now()})
	res, err = v.Verify(context.Background(), intent, nil)
	require.NoError(t, err)
	require.Equal(t, models.VerificationConfirmed, res.Result)
	require.Equal(t, "h", res.ProofRef)
}

func TestVerifierTonPicksFirstSufficientTransfer(t *testing.T) {
	c := newClock()
	v, chain := newTestVerifier(c)
	intent := tonIntent(c.Now())

	chain.set(intent.Id,
		models.Transfer{Hash: "small", Amount: 1_000_000_000, Confirmations: 5, At: c.Now()},
		models.Transfer{Hash: "late", Amount: 9_000_000_000, Confirmations: 5, At: intent.ExpiresAt.Add(time.Minute)},
		models.Transfer{Hash: "good", Amount: 5_000_000_000, Confirmations: 5, At: c.Now().Add(time.Minute)},
	)
	res, err := v.Verify(context.Background(), intent, nil)
	require.NoError(t, err)
	require.Equal(t, models.VerificationConfirmed, res.Result)
	require.Equal(t, "good", res.ProofRef)
}

func TestVerifierTonLookupFailure(t *testing.T) {
	c := newClock()
	v, chain := newTestVerifier(c)
	intent := tonIntent(c.Now())
	chain.err = errors.New("liteserver timeout")

	res, err := v.Verify(context.Background(), intent, nil)
	require.NoError(t, err)
	require.Equal(t, models.VerificationPending, res.Result)

	c.Advance(2 * time.Hour)
	_, err = v.Verify(context.Background(), intent, nil)
	require.Error(t, err)
}

func TestVerifierTonNothingFound(t *testing.T) {
	c := newClock()
	v, _ := newTestVerifier(c)
	intent := tonIntent(c.Now())

	res, err := v.Verify(context.Background(), intent, nil)
	require.NoError(t, err)
	require.Equal(t, models.VerificationPending, res.Result)

	c.Advance(time.Hour)
	res, err = v.Verify(context.Background(), intent, nil)
	require.NoError(t, err)
	require.Equal(t, models.VerificationExpired, res.Result)
}

func TestVerifierTonWithoutWallet(t *testing.T) {
	c := newClock()
	v := NewVerifier(repositories.NewMemoryStore(), nil, 1)
	v.now = c.Now
	intent := tonIntent(c.Now())

	res, err := v.Verify(context.Background(), intent, nil)
	require.NoError(t, err)
	require.Equal(t, models.VerificationPending, res.Result)

	c.Advance(time.Hour)
	res, err = v.Verify(context.Background(), intent, nil)
	require.NoError(t, err)
	require.Equal(t, models.VerificationExpired, res.Result)
}

func TestVerifierStarsChecks(t *testing.T) {
	c := newClock()
	v, _ := newTestVerifier(c)
	intent := &models.PaymentIntent{Id: "s", Rail: models.RailStars, ExpectedAmount: 450, Unit: models.UnitStars,
		ExpiresAt: c.Now().Add(time.Hour), Status: models.StateAwaitingVerification}

	cases := []struct {
		name  string
		proof models.PaymentProof
		want  models.VerificationResult
	}{
		{"wrong currency", models.PaymentProof{Rail: models.RailStars, ChargeId: "a", Amount: 450, Currency: "USD"}, models.VerificationRejected},
		{"no charge id", models.PaymentProof{Rail: models.RailStars, Amount: 450, Currency: "XTR"}, models.VerificationRejected},
		{"wrong rail", models.PaymentProof{Rail: models.RailTON, ChargeId: "a", Amount: 450, Currency: "XTR"}, models.VerificationRejected},
		{"overpaid", models.PaymentProof{Rail: models.RailStars, ChargeId: "a", Amount: 451, Currency: "XTR"}, models.VerificationRejected},
		{"exact", models.PaymentProof{Rail: models.RailStars, ChargeId: "a", Amount: 450, Currency: "XTR"}, models.VerificationConfirmed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			proof := tc.proof
			res, err := v.Verify(context.Background(), intent, &proof)
			require.NoError(t, err)
			require.Equal(t, tc.want, res.Result)
		})
	}
}
