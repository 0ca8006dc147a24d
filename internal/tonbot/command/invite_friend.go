package command

import (
	"context"
	"errors"
	"fmt"

	appModels "spinsettle/internal/models"
	"spinsettle/internal/services"
	"spinsettle/internal/util"

	"github.com/go-telegram/bot/models"
)

type InviteFriendCommand struct {
	b       util.BotAPI
	us      *services.UserService
	botName string
	rates   []int64
}

func NewInviteFriendCommand(b util.BotAPI, us *services.UserService, botName string, rates []int64) *InviteFriendCommand {
	return &InviteFriendCommand{
		b:       b,
		us:      us,
		botName: botName,
		rates:   rates,
	}
}

func (c *InviteFriendCommand) Execute(ctx context.Context, msg *models.Message) {
	chatId := msg.Chat.ID

	if _, err := c.us.GetById(ctx, chatId); err != nil {
		if !errors.Is(err, appModels.ErrNotFound) {
			log.Error(err)
		}
		if _, er := util.SendTextMessage(ctx, c.b, chatId,
			"❌ Ваш профиль не найден. Введите команду: /start и повторите попытку"); er != nil {
			log.Error(er)
		}
		return
	}

	url := ReferralLink(c.botName, chatId)
	if _, err := util.SendTextMessage(ctx, c.b, chatId, fmt.Sprint(c.generateMessage(), "Ваша реферальная ссылка: ", url)); err != nil {
		log.Error(err)
	}
}

func ReferralLink(botName string, userId int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", botName, util.GenerateReferralTelegramCode(userId))
}

func (c *InviteFriendCommand) generateMessage() string {
	text := "Пригласи друга и получай комиссию с каждой его покупки!\n"
	for i, bps := range c.rates {
		text += fmt.Sprintf("• Уровень %d: <b>%v%%</b>\n", i+1, float64(bps)/100)
	}
	return text + "\n"
}
