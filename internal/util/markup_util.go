package util

import (
	"math"

	"github.com/go-telegram/bot/models"
)

func CreateInlineMarup(numberButtonInRow int, buttons ...models.InlineKeyboardButton) *models.InlineKeyboardMarkup {
	numberRows := int(math.Ceil(float64(len(buttons)) / float64(numberButtonInRow)))
	markup := make([][]models.InlineKeyboardButton, 0, numberRows)

	for i := 0; i < numberRows; i++ {
		from := i * numberButtonInRow
		to := min(from+numberButtonInRow, len(buttons))
		markup = append(markup, buttons[from:to])
	}

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: markup,
	}
}

func CreateDefaultButton(idButton, text string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text:         text,
		CallbackData: idButton,
	}
}

func CreateUrlButton(url, text string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text: text,
		URL:  url,
	}
}

func CreateDefaultButtonsReplay(numberButtonInRow int, textButton ...string) *models.ReplyKeyboardMarkup {
	numberRows := int(math.Ceil(float64(len(textButton)) / float64(numberButtonInRow)))
	markup := make([][]models.KeyboardButton, 0, numberRows)

	for i := 0; i < numberRows; i++ {
		row := make([]models.KeyboardButton, 0, numberButtonInRow)
		for _, text := range textButton[i*numberButtonInRow : min((i+1)*numberButtonInRow, len(textButton))] {
			row = append(row, models.KeyboardButton{Text: text})
		}
		markup = append(markup, row)
	}

	return &models.ReplyKeyboardMarkup{
		Keyboard:       markup,
		ResizeKeyboard: true,
	}
}
