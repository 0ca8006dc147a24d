package models

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// User is keyed by the platform user id. Balances live in the ledger.
type User struct {
	Id                  int64         `db:"id" json:"id"`
	Username            string        `db:"username" json:"username"`
	ReferrerId          sql.NullInt64 `db:"referrer_id" json:"referrer_id"`
	ReferralRole        int           `db:"referral_role" json:"referral_role"`
	CommissionStars     int64         `db:"commission_stars" json:"commission_stars"`
	CommissionNano      int64         `db:"commission_nano" json:"commission_nano"`
	LastEntryHash       string        `db:"last_entry_hash" json:"-"`
	IntegrityHold       bool          `db:"integrity_hold" json:"integrity_hold"`
	IntegrityHoldReason string        `db:"integrity_hold_reason" json:"integrity_hold_reason,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
}

// LifetimeCommission returns the commission counter for the given unit.
func (u *User) LifetimeCommission(unit Unit) int64 {
	switch unit {
	case UnitStars:
		return u.CommissionStars
	case UnitNanoTON:
		return u.CommissionNano
	default:
		return 0
	}
}

type Package struct {
	Id         string `json:"id"`
	Name       string `json:"name"`
	PriceStars int64  `json:"price_stars"`
	PriceNano  int64  `json:"price_nano"`
	Spins      int64  `json:"spins"`
}

// Price returns the expected amount for the rail in its smallest unit.
func (p Package) Price(r Rail) int64 {
	switch r {
	case RailStars:
		return p.PriceStars
	case RailTON:
		return p.PriceNano
	default:
		return 0
	}
}

type PaymentIntent struct {
	Id             string          `db:"id" json:"id"`
	UserId         int64           `db:"user_id" json:"user_id"`
	PackageId      string          `db:"package_id" json:"package_id"`
	Rail           Rail            `db:"rail" json:"rail"`
	ExpectedAmount int64           `db:"expected_amount" json:"expected_amount"`
	Unit           Unit            `db:"unit" json:"unit"`
	Destination    string          `db:"destination" json:"destination,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	ExpiresAt      time.Time       `db:"expires_at" json:"expires_at"`
	Status         SettlementState `db:"status" json:"status"`
}

func (i *PaymentIntent) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

type SettlementRecord struct {
	IntentId       string          `db:"intent_id" json:"intent_id"`
	State          SettlementState `db:"state" json:"state"`
	VerifyAttempts int             `db:"verify_attempts" json:"verify_attempts"`
	SettleAttempts int             `db:"settle_attempts" json:"settle_attempts"`
	LastError      string          `db:"last_error" json:"last_error,omitempty"`
	ProofRef       string          `db:"proof_ref" json:"proof_ref,omitempty"`
	PaidAmount     int64           `db:"paid_amount" json:"paid_amount"`
	NextPollAt     time.Time       `db:"next_poll_at" json:"next_poll_at"`
	CompletedAt    sql.NullTime    `db:"completed_at" json:"completed_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// LedgerEntry is immutable once appended. SettlementKey groups the batch an
// entry was written in and is the deduplication key of that batch.
type LedgerEntry struct {
	Id            int64         `db:"id" json:"id"`
	SettlementKey string        `db:"settlement_key" json:"settlement_key"`
	IntentId      string        `db:"intent_id" json:"intent_id,omitempty"`
	Kind          EntryKind     `db:"kind" json:"kind"`
	UserId        int64         `db:"user_id" json:"user_id"`
	Amount        int64         `db:"amount" json:"amount"`
	Unit          Unit          `db:"unit" json:"unit"`
	PredecessorId sql.NullInt64 `db:"predecessor_id" json:"predecessor_id"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	PreviousHash  string        `db:"previous_hash" json:"previous_hash"`
	Hash          string        `db:"hash" json:"hash"`
}

func (e *LedgerEntry) HashFields() map[string]string {
	pred := ""
	if e.PredecessorId.Valid {
		pred = fmt.Sprintf("%d", e.PredecessorId.Int64)
	}
	return map[string]string{
		"id":             fmt.Sprintf("%d", e.Id),
		"settlement_key": e.SettlementKey,
		"intent_id":      e.IntentId,
		"kind":           string(e.Kind),
		"user_id":        fmt.Sprintf("%d", e.UserId),
		"amount":         fmt.Sprintf("%d", e.Amount),
		"unit":           string(e.Unit),
		"predecessor_id": pred,
		"created_at":     e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":  e.PreviousHash,
	}
}

func (e *LedgerEntry) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// GenesisHash seeds the per-user hash chain.
const GenesisHash = "GENESIS"

// ReferralEdge links an ancestor referrer to a referred user at a given depth.
// Depth 1 is the direct referrer. The rate is fixed when the edge is created.
type ReferralEdge struct {
	ReferrerId int64     `db:"referrer_id" json:"referrer_id"`
	ReferredId int64     `db:"referred_id" json:"referred_id"`
	Depth      int       `db:"depth" json:"depth"`
	RateBps    int64     `db:"rate_bps" json:"rate_bps"`
	Disabled   bool      `db:"disabled" json:"disabled"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// BalanceDrift is a user whose entry sum disagrees with the balance projection.
type BalanceDrift struct {
	UserId     int64 `db:"user_id" json:"user_id"`
	Unit       Unit  `db:"unit" json:"unit"`
	EntriesSum int64 `db:"entries_sum" json:"entries_sum"`
	Balance    int64 `db:"balance" json:"balance"`
}
