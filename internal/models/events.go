package models

import "time"

type EventKind string

const (
	EventPurchase         EventKind = "purchase"
	EventCommissionPaid   EventKind = "commission_paid"
	EventNFTWin           EventKind = "nft_win"
	EventIntegrityAlert   EventKind = "integrity_alert"
	EventSettlementFailed EventKind = "settlement_failed"
	EventReversal         EventKind = "reversal"
)

// AdminEvent is delivered best-effort to the admin channels.
type AdminEvent struct {
	Kind      EventKind `json:"kind"`
	UserId    int64     `json:"user_id,omitempty"`
	IntentId  string    `json:"intent_id,omitempty"`
	PackageId string    `json:"package_id,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Unit      Unit      `json:"unit,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

func NewNFTWinEvent(userId int64, packageId, nft string) AdminEvent {
	return AdminEvent{
		Kind:      EventNFTWin,
		UserId:    userId,
		PackageId: packageId,
		Detail:    nft,
		At:        time.Now(),
	}
}
