package tonchain

import (
	"github.com/tonkeeper/tongo/ton"
)

// NormalizeAddress converts any address form to raw (0:...).
func NormalizeAddress(addr string) (string, error) {
	acc, err := ton.ParseAccountID(addr)
	if err != nil {
		return "", err
	}
	return acc.String(), nil
}

// FriendlyAddress renders a receiving wallet in the non-bounceable form
// wallets expect for plain transfers.
func FriendlyAddress(addr string, testnet bool) (string, error) {
	acc, err := ton.ParseAccountID(addr)
	if err != nil {
		return "", err
	}
	return acc.ToHuman(false, testnet), nil
}

func SameAddress(a, b string) bool {
	ra, err := NormalizeAddress(a)
	if err != nil {
		return false
	}
	rb, err := NormalizeAddress(b)
	if err != nil {
		return false
	}
	return ra == rb
}
