package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"spinsettle/internal/models"

	"github.com/stretchr/testify/require"
)

func TestCommissionRoundsDown(t *testing.T) {
	require.Equal(t, int64(67), Commission(450, 1500))
	require.Equal(t, int64(112), Commission(450, 2500))
	require.Equal(t, int64(0), Commission(3, 1500))
	require.Equal(t, int64(0), Commission(450, 0))
	require.Equal(t, int64(735_000_000), Commission(4_900_000_000, 1500))
}

func TestTonToNano(t *testing.T) {
	n, err := TonToNano("4.9")
	require.NoError(t, err)
	require.Equal(t, int64(4_900_000_000), n)

	_, err = TonToNano("abc")
	require.Error(t, err)

	require.Equal(t, "4.9", NanoToTon(4_900_000_000))
}

func TestReferralCodeRoundTrip(t *testing.T) {
	code := GenerateReferralTelegramCode(8059922747)
	id, err := DecodeReferralTelegramCode(code)
	require.NoError(t, err)
	require.Equal(t, int64(8059922747), id)

	_, err = DecodeReferralTelegramCode("!!")
	require.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "2 TON", FormatAmount(2_000_000_000, models.UnitNanoTON))
	require.Equal(t, "10,000 ⭐", FormatAmount(10000, models.UnitStars))
	require.Equal(t, "30 spins", FormatAmount(30, models.UnitSpin))
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}
	require.Equal(t, time.Second, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(2))
	require.Equal(t, 4*time.Second, p.Delay(3))
	require.Equal(t, 5*time.Second, p.Delay(4))
}

func TestRetryPolicyNextAtCapsAtDeadline(t *testing.T) {
	p := RetryPolicy{Initial: time.Minute, Multiplier: 2}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deadline := now.Add(90 * time.Second)

	next, ok := p.NextAt(now, 1, deadline)
	require.True(t, ok)
	require.Equal(t, now.Add(time.Minute), next)

	next, ok = p.NextAt(now, 2, deadline)
	require.True(t, ok)
	require.Equal(t, deadline, next)

	_, ok = p.NextAt(deadline, 3, deadline)
	require.False(t, ok)
}

func TestRetryPolicyDo(t *testing.T) {
	p := RetryPolicy{Initial: time.Millisecond, Multiplier: 2, MaxAttempts: 3}
	boom := errors.New("boom")

	calls := 0
	err := p.Do(context.Background(), nil, func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)

	calls = 0
	err = p.Do(context.Background(), nil, func(context.Context) error {
		calls++
		if calls < 2 {
			return boom
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	calls = 0
	fatal := errors.New("fatal")
	err = p.Do(context.Background(), func(err error) bool { return !errors.Is(err, fatal) }, func(context.Context) error {
		calls++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
}

func TestRetryPolicySingleAttempt(t *testing.T) {
	calls := 0
	err := RetryPolicy{Initial: time.Millisecond, MaxAttempts: 1}.Do(context.Background(), nil, func(context.Context) error {
		calls++
		return errors.New("once")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryPolicyDoStopsOnCancel(t *testing.T) {
	p := RetryPolicy{Initial: time.Hour, Multiplier: 2}
	boom := errors.New("boom")
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := p.Do(ctx, nil, func(context.Context) error {
		calls++
		cancel()
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestRetryPolicyUnboundedDelay(t *testing.T) {
	p := RetryPolicy{Initial: time.Second, Multiplier: 2}
	require.Equal(t, 8*time.Second, p.Delay(4))
	require.Equal(t, time.Second, RetryPolicy{Initial: time.Second}.Delay(10))
}
