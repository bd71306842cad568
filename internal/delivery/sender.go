// Package delivery sends digests to Telegram chats: it splits long texts into
// message-sized chunks, keeps the HTML valid, and throttles outgoing sends.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrDeliveryFailed is returned when Telegram refuses or drops a message,
// e.g. the recipient blocked the bot.
var ErrDeliveryFailed = errors.New("delivery failed")

const (
	// chunkSlack leaves room for closing tags added by FixHTMLTags.
	chunkSlack   = 64
	maxRetryWait = 30 * time.Second
)

// API is the part of *tgbotapi.BotAPI the sender needs.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender delivers HTML texts, falling back to plain text when Telegram
// cannot parse the markup.
type Sender struct {
	api     API
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewSender throttles to perSecond messages per second across all chats.
func NewSender(api API, perSecond int, log *zap.Logger) *Sender {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Sender{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
		log:     log,
	}
}

// Send splits text and delivers the chunks in order. It stops at the first
// failed chunk and reports how many chunks were delivered before it.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) (int, error) {
	sent := 0
	for chunk := range SplitForTransmit(text, MaxMessageLen-chunkSlack) {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		if err := s.sendChunk(ctx, chatID, chunk); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (s *Sender) sendChunk(ctx context.Context, chatID int64, chunk string) error {
	body := FixHTMLTags(chunk)
	if UTF16Len(body) > MaxMessageLen {
		return s.sendPlain(ctx, chatID, chunk)
	}

	err := s.send(ctx, htmlMessage(chatID, body))
	if err == nil {
		return nil
	}
	if isParseError(err) {
		s.log.Warn("html rejected, resending as plain text", zap.Int64("chat_id", chatID), zap.Error(err))
		return s.sendPlain(ctx, chatID, chunk)
	}
	return fmt.Errorf("%w: chat %d: %v", ErrDeliveryFailed, chatID, err)
}

func (s *Sender) sendPlain(ctx context.Context, chatID int64, chunk string) error {
	m := tgbotapi.NewMessage(chatID, StripHTMLTags(chunk))
	m.DisableWebPagePreview = true
	if err := s.send(ctx, m); err != nil {
		return fmt.Errorf("%w: chat %d: %v", ErrDeliveryFailed, chatID, err)
	}
	return nil
}

// send waits for the limiter and retries once when Telegram asks to slow down.
func (s *Sender) send(ctx context.Context, m tgbotapi.MessageConfig) error {
	for attempt := 0; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := s.api.Send(m)
		if err == nil {
			return nil
		}
		wait := retryAfter(err)
		if attempt > 0 || wait <= 0 || wait > maxRetryWait {
			return err
		}
		s.log.Warn("telegram rate limit", zap.Int64("chat_id", m.ChatID), zap.Duration("retry_after", wait))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func htmlMessage(chatID int64, text string) tgbotapi.MessageConfig {
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = tgbotapi.ModeHTML
	m.DisableWebPagePreview = true
	return m
}

func isParseError(err error) bool {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		return false
	}
	return tgErr.Code == 400 && strings.Contains(strings.ToLower(tgErr.Message), "can't parse entities")
}

func retryAfter(err error) time.Duration {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		return time.Duration(tgErr.RetryAfter) * time.Second
	}
	return 0
}
