package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"spinsettle/internal/models"

	"github.com/sirupsen/logrus"
)

const starsCurrency = "XTR"

// TransferLookup finds incoming transfers to destination carrying memo as
// comment, oldest first.
type TransferLookup interface {
	LookupTransfers(ctx context.Context, destination, memo string) ([]models.Transfer, error)
}

type Verifier struct {
	intents          IntentStore
	chain            TransferLookup
	minConfirmations int
	now              func() time.Time
}

func NewVerifier(intents IntentStore, chain TransferLookup, minConfirmations int) *Verifier {
	if minConfirmations < 1 {
		minConfirmations = 1
	}
	return &Verifier{
		intents:          intents,
		chain:            chain,
		minConfirmations: minConfirmations,
		now:              time.Now,
	}
}

// Verify decides whether the intent has been paid. proof is the signal that
// triggered the check and may be nil for a scheduled poll. The returned error
// is only set when the answer could not be determined.
func (v *Verifier) Verify(ctx context.Context, intent *models.PaymentIntent, proof *models.PaymentProof) (models.Verification, error) {
	if intent.Status.Terminal() {
		return models.Verification{Result: models.VerificationRejected, Reason: "intent already " + string(intent.Status)}, nil
	}

	switch intent.Rail {
	case models.RailStars:
		return v.verifyStars(ctx, intent, proof)
	case models.RailTON:
		return v.verifyTON(ctx, intent)
	default:
		return models.Verification{Result: models.VerificationRejected, Reason: "unknown rail"}, nil
	}
}

// verifyStars trusts the platform callback. Without one the intent can only
// be pending or expired.
func (v *Verifier) verifyStars(ctx context.Context, intent *models.PaymentIntent, proof *models.PaymentProof) (models.Verification, error) {
	if proof == nil {
		if intent.Expired(v.now()) {
			return models.Verification{Result: models.VerificationExpired, Reason: "no payment before expiry"}, nil
		}
		return models.Verification{Result: models.VerificationPending}, nil
	}

	switch {
	case proof.Rail != models.RailStars:
		return rejected("proof for rail " + string(proof.Rail)), nil
	case proof.ChargeId == "":
		return rejected("missing charge id"), nil
	case !strings.EqualFold(proof.Currency, starsCurrency):
		return rejected("currency " + proof.Currency), nil
	case proof.Amount != intent.ExpectedAmount:
		return rejected("amount mismatch"), nil
	}

	if err := v.intents.ConsumeProof(ctx, models.RailStars, proof.ChargeId, intent.Id); err != nil {
		if errors.Is(err, models.ErrReplaySignal) {
			log.WithFields(logrus.Fields{"intent": intent.Id, "charge": proof.ChargeId}).Warn("Charge id already used by another intent")
			return rejected("charge id replayed"), nil
		}
		return models.Verification{}, err
	}

	return models.Verification{
		Result:     models.VerificationConfirmed,
		ProofRef:   proof.ChargeId,
		PaidAmount: proof.Amount,
	}, nil
}

// verifyTON asks the chain. Transfers made after expiry are ignored; the first
// one in time covering the expected amount wins.
func (v *Verifier) verifyTON(ctx context.Context, intent *models.PaymentIntent) (models.Verification, error) {
	now := v.now()

	// intents opened while a wallet was configured can outlive it
	if v.chain == nil {
		if intent.Expired(now) {
			return models.Verification{Result: models.VerificationExpired, Reason: "ton rail unavailable"}, nil
		}
		return models.Verification{Result: models.VerificationPending, Reason: "ton rail unavailable"}, nil
	}

	transfers, err := v.chain.LookupTransfers(ctx, intent.Destination, intent.Id)
	if err != nil && !errors.Is(err, models.ErrTransferNotFound) {
		log.WithFields(logrus.Fields{"intent": intent.Id}).Warn("Chain lookup failed: ", err)
		if intent.Expired(now) {
			return models.Verification{}, err
		}
		return models.Verification{Result: models.VerificationPending, Reason: "lookup unavailable"}, nil
	}

	underpaid := false
	for _, t := range transfers {
		if !t.At.IsZero() && !t.At.Before(intent.ExpiresAt) {
			continue
		}
		if t.Amount < intent.ExpectedAmount {
			underpaid = true
			continue
		}
		if t.Confirmations < v.minConfirmations {
			return models.Verification{Result: models.VerificationPending, Reason: "awaiting confirmations"}, nil
		}

		if err := v.intents.ConsumeProof(ctx, models.RailTON, t.Hash, intent.Id); err != nil {
			if errors.Is(err, models.ErrReplaySignal) {
				log.WithFields(logrus.Fields{"intent": intent.Id, "tx": t.Hash}).Warn("Transaction already settled another intent")
				continue
			}
			return models.Verification{}, err
		}
		return models.Verification{
			Result:     models.VerificationConfirmed,
			ProofRef:   t.Hash,
			PaidAmount: t.Amount,
		}, nil
	}

	if underpaid {
		return rejected("underpaid"), nil
	}
	if intent.Expired(now) {
		return models.Verification{Result: models.VerificationExpired, Reason: "no transfer before expiry"}, nil
	}
	return models.Verification{Result: models.VerificationPending}, nil
}

func rejected(reason string) models.Verification {
	return models.Verification{Result: models.VerificationRejected, Reason: reason}
}
