// Package notifier sends export status notices to a telegram chat via the
// bot api. Delivery is fire-and-forget: failures are logged, never fatal.
package notifier

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/blockedby/channel-archiver/internal/logger"
)

// TelegramNotifier posts HTML-formatted notices to one chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *logger.Logger
}

// New creates a notifier. The token is validated against the bot api.
func New(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		log:    logger.Get(),
	}, nil
}

// NotifySuccess reports a completed export with new messages.
func (n *TelegramNotifier) NotifySuccess(ctx context.Context, channelTitle string, newMessages int) {
	n.send(ctx, formatSuccess(channelTitle, newMessages, time.Now()))
}

// NotifyNoNew reports a completed check that found nothing new.
func (n *TelegramNotifier) NotifyNoNew(ctx context.Context, channelTitle string) {
	n.send(ctx, formatNoNew(channelTitle, time.Now()))
}

// NotifyFailure reports a failed channel export.
func (n *TelegramNotifier) NotifyFailure(ctx context.Context, channelTitle string, reason error) {
	n.send(ctx, formatFailure(channelTitle, reason, time.Now()))
}

func (n *TelegramNotifier) send(_ context.Context, text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		n.log.Warn().Err(err).Msg("notifier: failed to send notification")
	}
}

const noticeTimeFormat = "2006-01-02 15:04:05"

func formatSuccess(title string, newMessages int, at time.Time) string {
	return fmt.Sprintf(`📢 <b>New messages archived</b>

🔗 <b>Channel:</b> %s
📊 <b>New messages:</b> %d
📅 <b>Time:</b> %s
✅ <b>Status:</b> exported`,
		title, newMessages, at.Format(noticeTimeFormat))
}

func formatNoNew(title string, at time.Time) string {
	return fmt.Sprintf(`📢 <b>Channel check complete</b>

🔗 <b>Channel:</b> %s
📊 <b>New messages:</b> none
📅 <b>Time:</b> %s`,
		title, at.Format(noticeTimeFormat))
}

func formatFailure(title string, reason error, at time.Time) string {
	why := "unknown error"
	if reason != nil {
		why = reason.Error()
	}
	return fmt.Sprintf(`📢 <b>Channel export failed</b>

🔗 <b>Channel:</b> %s
📅 <b>Time:</b> %s
❌ <b>Reason:</b> %s`,
		title, at.Format(noticeTimeFormat), why)
}
