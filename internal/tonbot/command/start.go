package command

import (
	"context"
	"strings"

	"spinsettle/internal/config"
	"spinsettle/internal/services"
	"spinsettle/internal/tonbot/buttons"
	"spinsettle/internal/util"

	"github.com/go-telegram/bot/models"
)

var log = config.InitLogger()

type StartCommand struct {
	bt util.BotAPI
	us *services.UserService
}

func NewStartCommand(b util.BotAPI, us *services.UserService) *StartCommand {
	return &StartCommand{
		bt: b,
		us: us,
	}
}

// Execute registers the user on first contact. "/start <code>" carries the
// referral code of the inviting user.
func (c *StartCommand) Execute(ctx context.Context, msg *models.Message) {
	chatId := msg.Chat.ID

	var referrerId int64
	if parts := strings.Fields(msg.Text); len(parts) > 1 {
		id, err := util.DecodeReferralTelegramCode(parts[1])
		switch {
		case err != nil:
			log.Debugln("Failed to decode referral telegram code: ", err)
			if _, err := util.SendTextMessage(ctx, c.bt, chatId,
				"❌ Реферальный код не был применен. Возможно он не действителен!"); err != nil {
				log.Error(err)
			}
		case id == chatId:
			if _, err := util.SendTextMessage(ctx, c.bt, chatId,
				"Ваш реферальный код не был применен! Нельзя использовать свою же ссылку для получения бонусов!"); err != nil {
				log.Error(err)
			}
		default:
			referrerId = id
		}
	}

	if _, _, err := c.us.EnsureUser(ctx, chatId, msg.Chat.Username, referrerId); err != nil {
		log.Error("Failed to create user: ", err)
		if _, err := util.SendTextMessage(ctx, c.bt, chatId,
			"❌ Ошибка при создании профиля. Введите команду /start, чтобы попробовать снова!"); err != nil {
			log.Error(err)
		}
		return
	}

	if _, err := util.SendTextMessageMarkup(
		ctx,
		c.bt,
		chatId,
		generateStartResponse(),
		MainMenu(),
	); err != nil {
		log.Error(err)
	}
}

func MainMenu() *models.ReplyKeyboardMarkup {
	return util.CreateDefaultButtonsReplay(2, buttons.BuySpins, buttons.Balance, buttons.History, buttons.InviteFriend)
}

func generateStartResponse() string {
	return `
👋 Добро пожаловать в <b>Spin Bot</b>

🎰 <b>Как это работает:</b>
• Купите пакет спинов за Telegram Stars или TON.
• Крутите рулетку и выигрывайте призы.
• Приглашайте друзей и получайте комиссию с их покупок.
`
}
