package command

import (
	"context"
	"errors"
	"strings"

	"spinsettle/internal/models"
	"spinsettle/internal/services"
	"spinsettle/internal/tonbot/buttons"
	"spinsettle/internal/util"

	tgModels "github.com/go-telegram/bot/models"
)

type CheckPaymentCommand struct {
	bt util.BotAPI
	ss *services.SettlementService
}

func NewCheckPaymentCommand(b util.BotAPI, ss *services.SettlementService) *CheckPaymentCommand {
	return &CheckPaymentCommand{
		bt: b,
		ss: ss,
	}
}

func (c *CheckPaymentCommand) Execute(ctx context.Context, callback *tgModels.CallbackQuery) {
	chatId := callback.From.ID
	intentId := strings.TrimPrefix(callback.Data, buttons.CheckPaymentId+":")

	intent, _, err := c.ss.Status(ctx, intentId)
	if err != nil || intent.UserId != chatId {
		log.Error("Check payment for unknown intent: ", intentId)
		return
	}

	state, err := c.ss.Poll(ctx, intentId)
	if err != nil && !errors.Is(err, models.ErrIntegrityHold) {
		log.Error("Failed to poll intent: ", err)
	}

	if _, err := util.SendTextMessage(ctx, c.bt, chatId, StateText(state)); err != nil {
		log.Error(err)
	}
}

// StateText is what the buyer is told about a settlement state.
func StateText(state models.SettlementState) string {
	switch state {
	case models.StateSettled:
		return "✅ Оплата получена, спины зачислены!"
	case models.StateExpired:
		return "⌛ Время на оплату истекло. Создайте новый платеж."
	case models.StateRejected:
		return "❌ Платеж не принят. Проверьте сумму и комментарий."
	case models.StateVerified, models.StateSettling, models.StateFailed:
		return "⏳ Оплата подтверждена, зачисляем спины..."
	default:
		return "⏳ Платеж еще не найден. Попробуйте через минуту."
	}
}
