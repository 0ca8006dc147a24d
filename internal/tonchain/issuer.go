package tonchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"spinsettle/internal/models"

	"github.com/cameo-engineering/tonconnect"
	"github.com/xssnick/tonutils-go/ton/wallet"
)

// PaymentIssuer builds a tonconnect transaction request and a ton:// link
// paying the receiving wallet with the intent id as comment.
type PaymentIssuer struct {
	friendly string
}

func NewPaymentIssuer(walletAddr string, testnet bool) (*PaymentIssuer, error) {
	friendly, err := FriendlyAddress(walletAddr, testnet)
	if err != nil {
		return nil, fmt.Errorf("wallet address %q: %w", walletAddr, err)
	}
	return &PaymentIssuer{friendly: friendly}, nil
}

func (i *PaymentIssuer) Destination() string {
	return i.friendly
}

func (i *PaymentIssuer) Issue(_ context.Context, intent *models.PaymentIntent, _ models.Package) (*models.PaymentRequest, error) {
	commentCell, err := wallet.CreateCommentCell(intent.Id)
	if err != nil {
		log.Error("Error creating commentCell", err)
		return nil, err
	}

	amount := strconv.FormatInt(intent.ExpectedAmount, 10)
	msg, err := tonconnect.NewMessage(
		i.friendly,
		amount,
		tonconnect.WithPayload(commentCell.ToBOC()),
	)
	if err != nil {
		log.Error("Error creating transaction", err)
		return nil, err
	}

	ttl := time.Until(intent.ExpiresAt)
	if ttl < time.Minute {
		ttl = time.Minute
	}
	tx, err := tonconnect.NewTransaction(
		tonconnect.WithTimeout(ttl),
		tonconnect.WithMessage(*msg),
	)
	if err != nil {
		log.Error("Error creating transaction", err)
		return nil, err
	}

	raw, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	return &models.PaymentRequest{
		IntentId:    intent.Id,
		Rail:        models.RailTON,
		Amount:      intent.ExpectedAmount,
		Unit:        intent.Unit,
		ExpiresAt:   intent.ExpiresAt,
		InvoiceLink: fmt.Sprintf("ton://transfer/%s?amount=%s&text=%s", i.friendly, amount, url.QueryEscape(intent.Id)),
		Destination: i.friendly,
		Comment:     intent.Id,
		Transaction: raw,
	}, nil
}
