package util

import (
	"spinsettle/internal/models"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatAmount renders an amount in its unit for admin messages.
func FormatAmount(amount int64, unit models.Unit) string {
	switch unit {
	case models.UnitNanoTON:
		return NanoToTon(amount) + " TON"
	case models.UnitStars:
		return printer.Sprintf("%d ⭐", amount)
	case models.UnitSpin:
		return printer.Sprintf("%d spins", amount)
	default:
		return printer.Sprintf("%d %s", amount, unit)
	}
}
