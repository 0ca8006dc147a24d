package repositories

import (
	"fmt"

	"spinsettle/internal/models"
)

func validateBatch(key string, entries []models.LedgerEntry) error {
	if key == "" {
		return fmt.Errorf("empty settlement key")
	}
	if len(entries) == 0 {
		return fmt.Errorf("empty batch %s", key)
	}
	for _, e := range entries {
		if e.SettlementKey != key {
			return fmt.Errorf("entry %d carries key %q, batch is %q", e.Id, e.SettlementKey, key)
		}
		if err := e.Kind.CheckSign(e.Amount); err != nil {
			return err
		}
	}
	return nil
}

// applyCommission bumps the lifetime commission counter of the earning user.
// Only payouts are denominated in a rail unit, so a reversal in one of those
// units always undoes a payout and is subtracted through its negative amount.
func applyCommission(u *models.User, e models.LedgerEntry) {
	if e.Kind != models.EntryCommissionPayout && !(e.Kind == models.EntryReversal && isCommissionUnit(e.Unit)) {
		return
	}
	switch e.Unit {
	case models.UnitStars:
		u.CommissionStars += e.Amount
	case models.UnitNanoTON:
		u.CommissionNano += e.Amount
	}
}

func isCommissionUnit(u models.Unit) bool {
	return u == models.UnitStars || u == models.UnitNanoTON
}
