package tonbot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	appModels "spinsettle/internal/models"
	"spinsettle/internal/util"
)

// AdminSink delivers admin events as chat messages to every admin id.
type AdminSink struct {
	api      util.BotAPI
	adminIds []int64
}

func NewAdminSink(api util.BotAPI, adminIds []int64) *AdminSink {
	return &AdminSink{api: api, adminIds: adminIds}
}

func (s *AdminSink) Name() string {
	return "telegram"
}

func (s *AdminSink) Deliver(ctx context.Context, event appModels.AdminEvent) error {
	text := FormatEvent(event)
	var errs []error
	for _, id := range s.adminIds {
		if _, err := util.SendTextMessage(ctx, s.api, id, text); err != nil {
			errs = append(errs, fmt.Errorf("admin %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func FormatEvent(ev appModels.AdminEvent) string {
	var sb strings.Builder
	switch ev.Kind {
	case appModels.EventPurchase:
		sb.WriteString("💰 <b>Покупка</b>\n")
	case appModels.EventCommissionPaid:
		sb.WriteString("🤝 <b>Реферальная комиссия</b>\n")
	case appModels.EventNFTWin:
		sb.WriteString("🎁 <b>Выигрыш NFT</b>\n")
	case appModels.EventIntegrityAlert:
		sb.WriteString("🚨 <b>Нарушение целостности</b>\n")
	case appModels.EventSettlementFailed:
		sb.WriteString("❌ <b>Ошибка зачисления</b>\n")
	case appModels.EventReversal:
		sb.WriteString("↩️ <b>Возврат</b>\n")
	default:
		fmt.Fprintf(&sb, "<b>%s</b>\n", ev.Kind)
	}

	if ev.UserId != 0 {
		fmt.Fprintf(&sb, "Пользователь: <code>%d</code>\n", ev.UserId)
	}
	if ev.PackageId != "" {
		fmt.Fprintf(&sb, "Пакет: %s\n", ev.PackageId)
	}
	if ev.Amount != 0 {
		fmt.Fprintf(&sb, "Сумма: %s\n", util.FormatAmount(ev.Amount, ev.Unit))
	}
	if ev.IntentId != "" {
		fmt.Fprintf(&sb, "Платеж: <code>%s</code>\n", ev.IntentId)
	}
	if ev.Detail != "" {
		fmt.Fprintf(&sb, "%s\n", html.EscapeString(ev.Detail))
	}
	return sb.String()
}
