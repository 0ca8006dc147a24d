package util

import (
	"context"
	"errors"
	"spinsettle/internal/config"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

var log = config.InitLogger()

// BotAPI is the part of *bot.Bot the adapters call.
type BotAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	AnswerPreCheckoutQuery(ctx context.Context, params *bot.AnswerPreCheckoutQueryParams) (bool, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	CreateInvoiceLink(ctx context.Context, params *bot.CreateInvoiceLinkParams) (string, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
}

func SendTextMessage(ctx context.Context, bt BotAPI, chatId int64, text string) (*models.Message, error) {
	return SendTextMessageMarkup(ctx, bt, chatId, text, nil)
}

func SendTextMessageMarkup(ctx context.Context, bt BotAPI, chatId int64, text string, markup models.ReplyMarkup) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	params := &bot.SendMessageParams{
		ChatID:    chatId,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}

	message, err := bt.SendMessage(ctx, params)
	if err != nil {
		log.Error("Failed to send message: ", err)
		return nil, err
	}

	return message, nil
}

func CheckTypeMessage(ctx context.Context, b BotAPI, callback *models.CallbackQuery) error {
	if callback.Message.Type == models.MaybeInaccessibleMessageTypeInaccessibleMessage || callback.Message.Message == nil {
		if _, err := SendTextMessage(
			ctx,
			b,
			callback.From.ID,
			"❌ Не могу обработать данное сообщение! Скорее всего оно мне не доступно!"); err != nil {
			log.Error(err)
		}
		return errors.New("message type inaccessible")
	}

	return nil
}

func DeleteMessage(ctx context.Context, b BotAPI, chatId int64, messageId int) error {
	if _, err := b.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatId,
		MessageID: messageId,
	}); err != nil {
		log.Error("Failed delete message", err)
		return err
	}

	return nil
}
