package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Telegram delivers notifications to a single chat via the Bot API. When
// thumbnails are enabled the message rides as a photo caption, matching the
// preview-image alerts users expect; otherwise it is a plain HTML message
// with link previews off.
type Telegram struct {
	bot        *tele.Bot
	chat       tele.ChatID
	thumbnails bool
}

func NewTelegram(token string, chatID int64, thumbnails bool) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chat: tele.ChatID(chatID), thumbnails: thumbnails}, nil
}

// Send implements Sink.
func (t *Telegram) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
	if t.thumbnails && n.ThumbnailURL != "" {
		photo := &tele.Photo{File: tele.FromURL(n.ThumbnailURL), Caption: n.Body}
		_, err := t.bot.Send(t.chat, photo, opts)
		return err
	}
	_, err := t.bot.Send(t.chat, n.Body, opts)
	return err
}

// Announce sends a plain startup banner, best effort.
func (t *Telegram) Announce(ctx context.Context, text string) error {
	return t.Send(ctx, Notification{Body: text})
}
