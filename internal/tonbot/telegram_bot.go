package tonbot

import (
	"context"
	"strings"
	"time"

	"spinsettle/internal/config"
	"spinsettle/internal/core/interfaces"
	"spinsettle/internal/services"
	"spinsettle/internal/tonbot/buttons"
	"spinsettle/internal/tonbot/command"
	"spinsettle/internal/util"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

var log = config.InitLogger()

type TgBot struct {
	token    string
	botName  string
	rates    []int64
	us       *services.UserService
	ss       *services.SettlementService
	payments *Payments
}

var defaultPaymentRetry = util.RetryPolicy{
	Initial:     200 * time.Millisecond,
	Max:         2 * time.Second,
	Multiplier:  2,
	MaxAttempts: 5,
}

func NewTgBot(token, botName string, rates []int64, us *services.UserService,
	ss *services.SettlementService, notifier services.Notifier) *TgBot {
	return &TgBot{
		token:    token,
		botName:  botName,
		rates:    rates,
		us:       us,
		ss:       ss,
		payments: NewPayments(ss, notifier, defaultPaymentRetry),
	}
}

// Init creates the Bot API client. It must run before Start; the client is
// also what the Stars issuer and the admin sink send through.
func (t *TgBot) Init() (*bot.Bot, error) {
	opts := []bot.Option{
		bot.WithDefaultHandler(t.handler),
	}

	tgbot, err := bot.New(t.token, opts...)
	if err != nil {
		log.Error("Failed to start bot: ", err)
		return nil, err
	}
	return tgbot, nil
}

// Start runs long polling until ctx is done.
func (t *TgBot) Start(ctx context.Context, b *bot.Bot) {
	b.Start(ctx)
}

func (t *TgBot) handler(ctx context.Context, b *bot.Bot, update *models.Update) {
	t.route(ctx, b, update)
}

func (t *TgBot) route(ctx context.Context, b util.BotAPI, update *models.Update) {
	if update == nil {
		return
	}

	if update.PreCheckoutQuery != nil {
		t.payments.PreCheckout(ctx, b, update.PreCheckoutQuery)
		return
	}

	if update.Message != nil {
		msg := update.Message
		if msg.SuccessfulPayment != nil {
			t.payments.SuccessfulPayment(ctx, b, msg)
			return
		}
		t.handleMessage(ctx, b, msg)
	}

	if update.CallbackQuery != nil {
		callback := update.CallbackQuery

		t.handleCallback(ctx, b, callback)

		if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
			CallbackQueryID: callback.ID,
		}); err != nil {
			log.Error("AnswerCallbackQuery: ", err)
		}
	}
}

func (t *TgBot) handleMessage(ctx context.Context, b util.BotAPI, msg *models.Message) {
	if msg.Chat.Type != models.ChatTypePrivate {
		return
	}
	text := msg.Text

	var cmd interfaces.Command[*models.Message]
	switch {
	case strings.HasPrefix(text, "/start"):
		cmd = command.NewStartCommand(b, t.us)
	case text == buttons.BuySpins || text == "/buy":
		cmd = command.NewBuyCommand(b, t.ss)
	case text == buttons.Balance || text == "/balance":
		cmd = command.NewBalanceCommand(b, t.us, t.ss)
	case text == buttons.History || text == "/history":
		cmd = command.NewHistoryCommand(b, t.ss)
	case text == buttons.InviteFriend || text == "/invite":
		cmd = command.NewInviteFriendCommand(b, t.us, t.botName, t.rates)
	default:
		return
	}
	cmd.Execute(ctx, msg)
}

func (t *TgBot) handleCallback(ctx context.Context, b util.BotAPI, callback *models.CallbackQuery) {
	data := callback.Data

	switch {
	case strings.HasPrefix(data, buttons.SelectPackageId+":"):
		command.NewBuyCommand(b, t.ss).SelectRail(ctx, callback)
	case strings.HasPrefix(data, buttons.PayRailId+":"):
		command.NewBuyCommand(b, t.ss).Checkout(ctx, callback)
	case strings.HasPrefix(data, buttons.NextPageHistory+":"), strings.HasPrefix(data, buttons.BackPageHistory+":"):
		command.NewHistoryCommand(b, t.ss).Page(ctx, callback)
	case strings.HasPrefix(data, buttons.CheckPaymentId+":"):
		command.NewCheckPaymentCommand(b, t.ss).Execute(ctx, callback)
	case data == buttons.DefCloseId:
		if err := util.CheckTypeMessage(ctx, b, callback); err != nil {
			log.Error("CheckTypeMessage: ", err)
			return
		}
		msg := callback.Message.Message
		if err := util.DeleteMessage(ctx, b, msg.Chat.ID, msg.ID); err != nil {
			log.Error("DeleteMessage: ", err)
		}
	}
}
