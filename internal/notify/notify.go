// Package notify delivers rendered reminder messages to a chat platform.
//
// One Channel implementation is chosen at startup based on which
// credentials are configured; every trigger path sends through the same
// instance, never a parallel code path.
package notify

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"duebell/internal/reminder"
	"duebell/pkg/logx"
)

// ErrDelivery marks a failed send. The notice stays unrecorded and is
// eligible again on the next cycle while still inside its match window.
var ErrDelivery = errors.New("notification delivery failed")

// Message is a rendered notice, ready for a chat platform.
type Message struct {
	Title    string
	Body     string
	Severity reminder.Severity
}

// Channel is the outbound side of the system. Delivery is
// fire-and-forget: the engine never retries a send itself.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

type Config struct {
	Discord    DiscordConfig
	Telegram   TelegramConfig
	RatePerSec int
}

type DiscordConfig struct {
	BotToken string
	UserID   string
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

// NewFromConfig picks the channel implementation from whichever
// credentials are present, preferring Discord when both are set. The
// choice is made once; callers branch on an interface, not per send.
func NewFromConfig(cfg Config, log logx.Logger) (Channel, error) {
	var (
		ch  Channel
		err error
	)
	switch {
	case cfg.Discord.BotToken != "" && cfg.Discord.UserID != "":
		ch = newDiscord(cfg.Discord, log)
	case cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0:
		ch, err = newTelegram(cfg.Telegram, log)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("no notification channel configured")
	}

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &limited{inner: ch, limiter: rate.NewLimiter(rate.Limit(rps), rps)}, nil
}

// limited paces sends so a burst of due notices never trips platform
// rate limits.
type limited struct {
	inner   Channel
	limiter *rate.Limiter
}

func (l *limited) Name() string { return l.inner.Name() }

func (l *limited) Send(ctx context.Context, msg Message) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.inner.Send(ctx, msg)
}
