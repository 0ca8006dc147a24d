package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Rail is the payment channel an intent is paid through.
type Rail string

const (
	RailStars Rail = "stars"
	RailTON   Rail = "ton"
)

func ParseRail(s string) (Rail, error) {
	switch Rail(s) {
	case RailStars, RailTON:
		return Rail(s), nil
	default:
		return "", fmt.Errorf("unknown rail %q", s)
	}
}

// Unit is the currency a ledger amount is expressed in.
type Unit string

const (
	UnitSpin    Unit = "SPIN"
	UnitStars   Unit = "XTR"
	UnitNanoTON Unit = "NANOTON"
)

// UnitOf returns the smallest currency unit used by a rail.
func UnitOf(r Rail) Unit {
	switch r {
	case RailStars:
		return UnitStars
	case RailTON:
		return UnitNanoTON
	default:
		panic(fmt.Sprintf("unit of unknown rail %q", r))
	}
}

type EntryKind string

const (
	EntryCredit           EntryKind = "credit"
	EntryDebit            EntryKind = "debit"
	EntryCommissionPayout EntryKind = "commission_payout"
	EntryReversal         EntryKind = "reversal"
)

// CheckSign reports whether amount carries the sign the kind requires.
func (k EntryKind) CheckSign(amount int64) error {
	switch k {
	case EntryCredit, EntryCommissionPayout:
		if amount <= 0 {
			return fmt.Errorf("%s amount must be positive, got %d", k, amount)
		}
	case EntryDebit:
		if amount >= 0 {
			return fmt.Errorf("%s amount must be negative, got %d", k, amount)
		}
	case EntryReversal:
		if amount == 0 {
			return fmt.Errorf("%s amount must be non-zero", k)
		}
	default:
		return fmt.Errorf("unknown entry kind %q", k)
	}
	return nil
}

type SettlementState string

const (
	StateCreated              SettlementState = "created"
	StateAwaitingVerification SettlementState = "awaiting_verification"
	StateVerified             SettlementState = "verified"
	StateSettling             SettlementState = "settling"
	StateSettled              SettlementState = "settled"
	StateExpired              SettlementState = "expired"
	StateRejected             SettlementState = "rejected"
	StateFailed               SettlementState = "failed"
)

// Terminal reports whether no further signal can change the state.
// Failed is retried from Verified until the attempt ceiling is reached.
func (s SettlementState) Terminal() bool {
	switch s {
	case StateSettled, StateExpired, StateRejected:
		return true
	default:
		return false
	}
}

type VerificationResult string

const (
	VerificationConfirmed VerificationResult = "confirmed"
	VerificationPending   VerificationResult = "pending"
	VerificationRejected  VerificationResult = "rejected"
	VerificationExpired   VerificationResult = "expired"
)

// PaymentProof is the rail-specific evidence carried by an external signal.
// A TON proof is only a hint: the chain lookup is authoritative.
type PaymentProof struct {
	Rail     Rail
	ChargeId string
	TxHash   string
	Amount   int64
	Currency string
}

type Verification struct {
	Result     VerificationResult
	Reason     string
	ProofRef   string
	PaidAmount int64
}

// Transfer is an incoming chain transfer matched by destination and comment.
type Transfer struct {
	Hash          string
	Amount        int64
	Confirmations int
	At            time.Time
}

// PaymentRequest is what the buyer needs to pay an intent on its rail.
type PaymentRequest struct {
	IntentId    string          `json:"intent_id"`
	Rail        Rail            `json:"rail"`
	Amount      int64           `json:"amount"`
	Unit        Unit            `json:"unit"`
	ExpiresAt   time.Time       `json:"expires_at"`
	InvoiceLink string          `json:"invoice_link,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Comment     string          `json:"comment,omitempty"`
	Transaction json.RawMessage `json:"transaction,omitempty"`
}
