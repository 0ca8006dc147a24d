package util

import (
	"github.com/shopspring/decimal"
)

const bpsDenominator = 10_000

// Commission applies a basis-point rate and rounds down to the smallest unit.
// The remainder stays with the platform.
func Commission(gross, rateBps int64) int64 {
	if gross <= 0 || rateBps <= 0 {
		return 0
	}
	return decimal.NewFromInt(gross).
		Mul(decimal.NewFromInt(rateBps)).
		Div(decimal.NewFromInt(bpsDenominator)).
		Floor().
		IntPart()
}

// TonToNano converts a decimal TON amount such as "4.9" to nanoTON.
func TonToNano(ton string) (int64, error) {
	d, err := decimal.NewFromString(ton)
	if err != nil {
		return 0, err
	}
	return d.Shift(9).Floor().IntPart(), nil
}

func NanoToTon(nano int64) string {
	return decimal.New(nano, -9).String()
}
