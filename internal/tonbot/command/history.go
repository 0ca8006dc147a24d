package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	appModels "spinsettle/internal/models"
	"spinsettle/internal/services"
	"spinsettle/internal/tonbot/buttons"
	"spinsettle/internal/util"

	"github.com/go-telegram/bot/models"
)

const historyPageSize = 10

type HistoryCommand struct {
	b  util.BotAPI
	ss *services.SettlementService
}

func NewHistoryCommand(b util.BotAPI, ss *services.SettlementService) *HistoryCommand {
	return &HistoryCommand{
		b:  b,
		ss: ss,
	}
}

func (c *HistoryCommand) Execute(ctx context.Context, msg *models.Message) {
	c.sendPage(ctx, msg.Chat.ID, 0)
}

// Page answers the next/back buttons, whose data ends in ":<page>".
func (c *HistoryCommand) Page(ctx context.Context, callback *models.CallbackQuery) {
	_, raw, _ := strings.Cut(callback.Data, ":")
	page, err := strconv.Atoi(raw)
	if err != nil || page < 0 {
		log.Error("Malformed history callback: ", callback.Data)
		return
	}
	c.sendPage(ctx, callback.From.ID, page)
}

func (c *HistoryCommand) sendPage(ctx context.Context, chatId int64, page int) {
	entries, err := c.ss.History(ctx, chatId)
	if err != nil {
		log.Error("Failed load history: ", err)
		return
	}
	if len(entries) == 0 {
		if _, err := util.SendTextMessage(ctx, c.b, chatId, "📃 История пуста."); err != nil {
			log.Error(err)
		}
		return
	}

	from := page * historyPageSize
	if from >= len(entries) {
		return
	}
	to := min(from+historyPageSize, len(entries))

	var sb strings.Builder
	sb.WriteString("📃 <b>История операций</b>\n\n")
	for _, e := range entries[from:to] {
		fmt.Fprintf(&sb, "%s %s: %s\n", e.CreatedAt.Format("02.01 15:04"), entryTitle(e.Kind), util.FormatAmount(e.Amount, e.Unit))
	}

	var btns []models.InlineKeyboardButton
	if page > 0 {
		btns = append(btns, util.CreateDefaultButton(fmt.Sprintf("%s:%d", buttons.BackPageHistory, page-1), "⏮️"))
	}
	if to < len(entries) {
		btns = append(btns, util.CreateDefaultButton(fmt.Sprintf("%s:%d", buttons.NextPageHistory, page+1), "⏭️"))
	}
	btns = append(btns, util.CreateDefaultButton(buttons.DefCloseId, buttons.DefCloseText))

	if _, err := util.SendTextMessageMarkup(ctx, c.b, chatId, sb.String(), util.CreateInlineMarup(2, btns...)); err != nil {
		log.Error(err)
	}
}

func entryTitle(k appModels.EntryKind) string {
	switch k {
	case appModels.EntryCredit:
		return "Покупка"
	case appModels.EntryDebit:
		return "Спин"
	case appModels.EntryCommissionPayout:
		return "Комиссия"
	case appModels.EntryReversal:
		return "Возврат"
	default:
		return string(k)
	}
}
