// README: Telegram implementation of the feed transport.
package feed

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type TelegramTransport struct {
	api *tgbotapi.BotAPI
}

func NewTelegramTransport(api *tgbotapi.BotAPI) *TelegramTransport {
	return &TelegramTransport{api: api}
}

func (t *TelegramTransport) Send(_ context.Context, chatID int64, text string, actions []Action) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(actions) > 0 {
		msg.ReplyMarkup = keyboard(actions)
	}
	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *TelegramTransport) Edit(_ context.Context, chatID int64, messageID int, text string, actions []Action) error {
	var err error
	if len(actions) > 0 {
		_, err = t.api.Send(tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, keyboard(actions)))
	} else {
		_, err = t.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text))
	}
	return err
}

func (t *TelegramTransport) Delete(_ context.Context, chatID int64, messageID int) error {
	_, err := t.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

func keyboard(actions []Action) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Data))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}
