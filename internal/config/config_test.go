package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRates(t *testing.T) {
	rates, err := ParseRates("0.15, 0.25")
	require.NoError(t, err)
	require.Equal(t, []int64{1500, 2500}, rates)

	_, err = ParseRates("1.5")
	require.Error(t, err)

	rates, err = ParseRates("0.0125,0.15000")
	require.NoError(t, err)
	require.Equal(t, []int64{125, 1500}, rates)

	_, err = ParseRates("0.00125")
	require.Error(t, err)

	_, err = ParseRates("")
	require.Error(t, err)
}

func TestParseRoleRates(t *testing.T) {
	rates, err := ParseRoleRates("1:0.15,2:0.25")
	require.NoError(t, err)
	require.Equal(t, map[int]int64{1: 1500, 2: 2500}, rates)

	empty, err := ParseRoleRates("")
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = ParseRoleRates("x")
	require.Error(t, err)

	_, err = ParseRoleRates("1:0.15005")
	require.Error(t, err)
}

func TestParseIds(t *testing.T) {
	ids, err := ParseIds("8059922747, 42")
	require.NoError(t, err)
	require.Equal(t, []int64{8059922747, 42}, ids)
}

func TestGlobalConfigURL(t *testing.T) {
	require.Equal(t, CONFIG_TON_TESTNET_URL, TonConfig{Network: "testnet"}.GlobalConfigURL())
	require.Equal(t, CONFIG_TON_MAINNET_URL, TonConfig{}.GlobalConfigURL())
}
