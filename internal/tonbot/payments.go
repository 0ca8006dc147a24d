package tonbot

import (
	"context"
	"errors"
	"fmt"
	"time"

	appModels "spinsettle/internal/models"
	"spinsettle/internal/services"
	"spinsettle/internal/tonbot/command"
	"spinsettle/internal/util"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
)

const starsCurrency = "XTR"

// StarsIssuer issues Telegram Stars invoice links. The invoice payload is
// the intent id, which comes back in the pre-checkout query and in the
// successful payment.
type StarsIssuer struct {
	api util.BotAPI
}

func NewStarsIssuer(api util.BotAPI) *StarsIssuer {
	return &StarsIssuer{api: api}
}

func (i *StarsIssuer) Destination() string {
	return ""
}

func (i *StarsIssuer) Issue(ctx context.Context, intent *appModels.PaymentIntent, pkg appModels.Package) (*appModels.PaymentRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	link, err := i.api.CreateInvoiceLink(ctx, &bot.CreateInvoiceLinkParams{
		Title:       fmt.Sprintf("%s: %d спинов", pkg.Name, pkg.Spins),
		Description: fmt.Sprintf("Пакет %s на %d спинов", pkg.Name, pkg.Spins),
		Payload:     intent.Id,
		Currency:    starsCurrency,
		Prices: []models.LabeledPrice{
			{Label: pkg.Name, Amount: int(intent.ExpectedAmount)},
		},
	})
	if err != nil {
		log.Error("Failed to create invoice link: ", err)
		return nil, err
	}

	return &appModels.PaymentRequest{
		IntentId:    intent.Id,
		Rail:        appModels.RailStars,
		Amount:      intent.ExpectedAmount,
		Unit:        intent.Unit,
		ExpiresAt:   intent.ExpiresAt,
		InvoiceLink: link,
	}, nil
}

// Payments routes Stars payment updates into the settlement engine.
type Payments struct {
	ss       *services.SettlementService
	notifier services.Notifier
	retry    util.RetryPolicy
	now      func() time.Time
}

func NewPayments(ss *services.SettlementService, notifier services.Notifier, retry util.RetryPolicy) *Payments {
	return &Payments{
		ss:       ss,
		notifier: notifier,
		retry:    retry,
		now:      time.Now,
	}
}

// PreCheckout accepts the query only for an open, unexpired intent of the
// same user, amount and currency. Telegram charges nothing on refusal.
func (p *Payments) PreCheckout(ctx context.Context, b util.BotAPI, q *models.PreCheckoutQuery) {
	reason := p.checkPreCheckout(ctx, q.From.ID, q.InvoicePayload, q.Currency, int64(q.TotalAmount))

	params := &bot.AnswerPreCheckoutQueryParams{
		PreCheckoutQueryID: q.ID,
		OK:                 reason == "",
	}
	if reason != "" {
		log.WithFields(logrus.Fields{"intent": q.InvoicePayload, "user": q.From.ID}).Warn("Pre-checkout refused: ", reason)
		params.ErrorMessage = reason
	}

	if _, err := b.AnswerPreCheckoutQuery(ctx, params); err != nil {
		log.Error("AnswerPreCheckoutQuery: ", err)
	}
}

func (p *Payments) checkPreCheckout(ctx context.Context, userId int64, intentId, currency string, amount int64) string {
	intent, rec, err := p.ss.Status(ctx, intentId)
	if err != nil {
		if !errors.Is(err, appModels.ErrNotFound) {
			log.Error("Failed to load intent: ", err)
			return "Сервис временно недоступен, попробуйте позже."
		}
		return "Платеж не найден."
	}

	switch {
	case intent.UserId != userId:
		return "Платеж создан для другого пользователя."
	case intent.Rail != appModels.RailStars || currency != starsCurrency:
		return "Неверная валюта платежа."
	case intent.ExpectedAmount != amount:
		return "Неверная сумма платежа."
	case rec.State != appModels.StateCreated && rec.State != appModels.StateAwaitingVerification:
		return "Платеж уже обработан."
	case intent.Expired(p.now()):
		return "Время на оплату истекло. Создайте новый платеж."
	}
	return ""
}

// SuccessfulPayment hands the charge to the engine. A charge that cannot be
// recorded after the retries is reported to the admins with its charge id.
func (p *Payments) SuccessfulPayment(ctx context.Context, b util.BotAPI, msg *models.Message) {
	sp := msg.SuccessfulPayment
	proof := appModels.PaymentProof{
		Rail:     appModels.RailStars,
		ChargeId: sp.TelegramPaymentChargeID,
		Amount:   int64(sp.TotalAmount),
		Currency: sp.Currency,
	}
	logger := log.WithFields(logrus.Fields{"intent": sp.InvoicePayload, "user": msg.Chat.ID, "charge": sp.TelegramPaymentChargeID})

	var state appModels.SettlementState
	err := p.retry.Do(ctx, func(err error) bool {
		return errors.Is(err, appModels.ErrTransientStorage)
	}, func(ctx context.Context) error {
		var err error
		state, err = p.ss.OnSignal(ctx, sp.InvoicePayload, proof)
		return err
	})

	text := command.StateText(state)
	switch {
	case err == nil:
	case errors.Is(err, appModels.ErrIntentClosed):
		logger.Warn("Payment for closed intent")
		text = "⚠️ Платеж получен после закрытия счета. Администратор свяжется с вами для возврата."
	case errors.Is(err, appModels.ErrIntegrityHold):
		text = "⏳ Платеж получен, зачисление задерживается проверкой."
	default:
		logger.Error("Failed to record payment: ", err)
		if state == "" || state == appModels.StateAwaitingVerification {
			p.notifier.Notify(appModels.AdminEvent{
				Kind:     appModels.EventSettlementFailed,
				UserId:   msg.Chat.ID,
				IntentId: sp.InvoicePayload,
				Amount:   proof.Amount,
				Unit:     appModels.UnitStars,
				Detail:   fmt.Sprintf("stars charge %s not recorded: %v", proof.ChargeId, err),
				At:       p.now(),
			})
		}
		text = "⏳ Платеж получен, спины будут зачислены в ближайшее время."
	}

	if _, err := util.SendTextMessage(ctx, b, msg.Chat.ID, text); err != nil {
		log.Error(err)
	}
}
