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

type BalanceCommand struct {
	b  util.BotAPI
	us *services.UserService
	ss *services.SettlementService
}

func NewBalanceCommand(b util.BotAPI, us *services.UserService, ss *services.SettlementService) *BalanceCommand {
	return &BalanceCommand{
		b:  b,
		us: us,
		ss: ss,
	}
}

func (c *BalanceCommand) Execute(ctx context.Context, msg *models.Message) {
	chatId := msg.Chat.ID
	user, err := c.us.GetById(ctx, chatId)
	if err != nil {
		if errors.Is(err, appModels.ErrNotFound) {
			if _, er := util.SendTextMessage(ctx, c.b, chatId, "❌ Профиль не найден. Введите команду /start, чтобы создать профиль!"); er != nil {
				log.Error("Failed send message", er)
			}
			return
		}
		log.Error("Failed find user to chatId", chatId, err)
		return
	}

	spins, err := c.ss.BalanceOf(ctx, user.Id, appModels.UnitSpin)
	if err != nil {
		log.Error("Failed read balance: ", err)
		return
	}

	if _, err = util.SendTextMessage(ctx, c.b, chatId, c.generateMessage(user, spins)); err != nil {
		log.Error("Failed send message", err)
	}
}

func (c *BalanceCommand) generateMessage(u *appModels.User, spins int64) string {
	text := `
<b>👤 Ваш профиль</b>

<b>Спины</b>: %v
<b>Заработано Stars</b>: %v
<b>Заработано TON</b>: %v
<b>Дата регистрации</b>: %v
`
	return fmt.Sprintf(
		text,
		spins,
		util.FormatAmount(u.CommissionStars, appModels.UnitStars),
		util.FormatAmount(u.CommissionNano, appModels.UnitNanoTON),
		u.CreatedAt.Format("02 Jan 2006"),
	)
}
