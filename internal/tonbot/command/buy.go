package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"spinsettle/internal/models"
	"spinsettle/internal/services"
	"spinsettle/internal/tonbot/buttons"
	"spinsettle/internal/util"

	tgModels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
)

type BuyCommand struct {
	bt util.BotAPI
	ss *services.SettlementService
}

func NewBuyCommand(b util.BotAPI, ss *services.SettlementService) *BuyCommand {
	return &BuyCommand{
		bt: b,
		ss: ss,
	}
}

// Execute lists the package catalog.
func (c *BuyCommand) Execute(ctx context.Context, msg *tgModels.Message) {
	pkgs := c.ss.Catalog().List()
	btns := make([]tgModels.InlineKeyboardButton, 0, len(pkgs))
	var sb strings.Builder
	sb.WriteString("🎰 <b>Выберите пакет</b>\n\n")
	for _, p := range pkgs {
		fmt.Fprintf(&sb, "<b>%s</b>: %d спинов, %s или %s\n",
			p.Name, p.Spins,
			util.FormatAmount(p.PriceStars, models.UnitStars),
			util.FormatAmount(p.PriceNano, models.UnitNanoTON))
		btns = append(btns, util.CreateDefaultButton(buttons.SelectPackageId+":"+p.Id, p.Name))
	}
	btns = append(btns, util.CreateDefaultButton(buttons.DefCloseId, buttons.DefCloseText))

	if _, err := util.SendTextMessageMarkup(ctx, c.bt, msg.Chat.ID, sb.String(), util.CreateInlineMarup(2, btns...)); err != nil {
		log.Error(err)
	}
}

// SelectRail asks how to pay for the chosen package.
func (c *BuyCommand) SelectRail(ctx context.Context, callback *tgModels.CallbackQuery) {
	chatId := callback.From.ID
	pkgId := strings.TrimPrefix(callback.Data, buttons.SelectPackageId+":")

	pkg, err := c.ss.Catalog().Get(pkgId)
	if err != nil {
		log.Error("Unknown package in callback: ", pkgId)
		return
	}

	markup := util.CreateInlineMarup(1,
		util.CreateDefaultButton(fmt.Sprintf("%s:%s:%s", buttons.PayRailId, pkg.Id, models.RailStars), buttons.PayStars),
		util.CreateDefaultButton(fmt.Sprintf("%s:%s:%s", buttons.PayRailId, pkg.Id, models.RailTON), buttons.PayTon),
	)
	text := fmt.Sprintf("Пакет <b>%s</b>: %d спинов", pkg.Name, pkg.Spins)
	if _, err := util.SendTextMessageMarkup(ctx, c.bt, chatId, text, markup); err != nil {
		log.Error(err)
	}
}

// Checkout opens an intent and sends the rail's payment request.
func (c *BuyCommand) Checkout(ctx context.Context, callback *tgModels.CallbackQuery) {
	chatId := callback.From.ID
	parts := strings.Split(callback.Data, ":")
	if len(parts) != 3 {
		log.Error("Malformed checkout callback: ", callback.Data)
		return
	}
	rail, err := models.ParseRail(parts[2])
	if err != nil {
		log.Error(err)
		return
	}

	req, err := c.ss.StartCheckout(ctx, chatId, parts[1], rail)
	if err != nil {
		log.WithFields(logrus.Fields{"user": chatId, "package": parts[1], "rail": rail}).Error("Failed to start checkout: ", err)
		text := "❌ Не удалось создать платеж, попробуйте позже."
		switch {
		case errors.Is(err, models.ErrNotFound):
			text = "❌ Профиль не найден. Введите команду /start, чтобы создать профиль!"
		case errors.Is(err, models.ErrRailUnavailable):
			text = "❌ Этот способ оплаты сейчас недоступен."
		}
		if _, err := util.SendTextMessage(ctx, c.bt, chatId, text); err != nil {
			log.Error(err)
		}
		return
	}

	text, markup := checkoutMessage(req)
	if _, err := util.SendTextMessageMarkup(ctx, c.bt, chatId, text, markup); err != nil {
		log.Error(err)
	}
}

func checkoutMessage(req *models.PaymentRequest) (string, *tgModels.InlineKeyboardMarkup) {
	amount := util.FormatAmount(req.Amount, req.Unit)
	checkBtn := util.CreateDefaultButton(buttons.CheckPaymentId+":"+req.IntentId, buttons.CheckPayment)

	if req.Rail == models.RailStars {
		text := fmt.Sprintf("Счет на <b>%s</b> действителен до %s UTC.", amount, req.ExpiresAt.UTC().Format("15:04"))
		return text, util.CreateInlineMarup(1, util.CreateUrlButton(req.InvoiceLink, buttons.PayStars))
	}

	text := fmt.Sprintf(`
💎 Отправьте <b>%s</b> на адрес:
<code>%s</code>

Обязательно укажите комментарий:
<code>%s</code>

Оплата действительна до %s UTC.`,
		amount, req.Destination, req.Comment, req.ExpiresAt.UTC().Format("15:04"))
	return text, util.CreateInlineMarup(1, util.CreateUrlButton(req.InvoiceLink, buttons.OpenTonLink), checkBtn)
}
