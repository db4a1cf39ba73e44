package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"schedbot/internal/executor"
	"schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

// Config configures the Telegram transport.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec caps outgoing messages across all chats (Telegram enforces
	// roughly 30/s globally; default 20).
	RatePerSec int
}

// Bot wraps telebot: it is both the delivery sink for the execution pipeline
// and the host for the command router.
type Bot struct {
	bot     *tele.Bot
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 20
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{bot: b, log: log, limiter: rate.NewLimiter(rate.Limit(perSec), perSec)}, nil
}

// Start begins long polling. It blocks until Stop is called.
func (b *Bot) Start() { b.bot.Start() }

// Stop ends long polling.
func (b *Bot) Stop() { b.bot.Stop() }

// Deliver sends HTML-formatted text. A Telegram entity-parse rejection is
// reported as ErrFormatRejected so the pipeline can fall back to plain text.
func (b *Bot) Deliver(ctx context.Context, chatID int64, html tgui.H) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := b.bot.Send(tele.ChatID(chatID), string(html), &tele.SendOptions{ParseMode: tele.ModeHTML})
	if err != nil && isEntityParseError(err) {
		return fmt.Errorf("%w: %v", executor.ErrFormatRejected, err)
	}
	return err
}

// DeliverPlain sends text without any parse mode.
func (b *Bot) DeliverPlain(ctx context.Context, chatID int64, text string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := b.bot.Send(tele.ChatID(chatID), text)
	return err
}

func isEntityParseError(err error) bool {
	var teleErr *tele.Error
	if !errors.As(err, &teleErr) {
		return false
	}
	desc := strings.ToLower(teleErr.Description)
	return strings.Contains(desc, "can't parse entities") ||
		strings.Contains(desc, "unsupported start tag") ||
		strings.Contains(desc, "can't find end tag")
}
