package models

import "errors"

var (
	ErrVerificationRejected = errors.New("payment not recognized")
	ErrVerificationExpired  = errors.New("checkout expired")
	ErrTransientStorage     = errors.New("transient storage error")
	ErrReplaySignal         = errors.New("payment signal already consumed")
	ErrIntegrityViolation   = errors.New("ledger integrity violation")
	ErrIntegrityHold        = errors.New("user is on integrity hold")

	ErrConflict            = errors.New("already exists")
	ErrNotFound            = errors.New("not found")
	ErrSelfReferral        = errors.New("user cannot refer themselves")
	ErrReferralCycle       = errors.New("referral edge would close a cycle")
	ErrUnknownPackage      = errors.New("unknown package")
	ErrRailUnavailable     = errors.New("payment rail unavailable")
	ErrIntentClosed        = errors.New("intent is closed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferNotFound    = errors.New("transfer not found")
	ErrNotSettled          = errors.New("intent is not settled")
)
