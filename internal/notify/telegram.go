package notify

import (
	"context"
	"fmt"
	"html"

	tele "gopkg.in/telebot.v4"

	"duebell/pkg/logx"
)

// telegramChannel posts to a fixed chat. The bot never polls for
// updates; it is send-only.
type telegramChannel struct {
	bot    *tele.Bot
	chatID int64
	log    logx.Logger
}

func newTelegram(cfg TelegramConfig, log logx.Logger) (*telegramChannel, error) {
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	log.Debug("telegram channel ready", logx.Int64("chat_id", cfg.ChatID))
	return &telegramChannel{bot: b, chatID: cfg.ChatID, log: log}, nil
}

func (t *telegramChannel) Name() string { return "telegram" }

func (t *telegramChannel) Send(ctx context.Context, msg Message) error {
	_ = ctx // telebot manages its own request timeouts

	text := fmt.Sprintf("<b>%s</b>\n\n%s",
		html.EscapeString(msg.Title),
		html.EscapeString(msg.Body))

	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("%w: telegram: %v", ErrDelivery, err)
	}
	return nil
}
