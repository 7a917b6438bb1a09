package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"telegram-pig-bot/catalog"
	"telegram-pig-bot/images"
	"telegram-pig-bot/pig"

	"github.com/getsentry/sentry-go"
	t "github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
)

const maxErrorTextLength = 50

func (b *Bot) reply(originalMessage t.Message, newMessage *t.SendMessageParams) *t.SendMessageParams {
	return newMessage.WithReplyParameters(&t.ReplyParameters{
		MessageID: originalMessage.MessageID,
	})
}

// handlerContext returns a context tied to the current telego handler, falling back
// to the bot root context if the handler does not expose one.
func (b *Bot) handlerContext(handlerCtx *th.Context) context.Context {
	if handlerCtx != nil {
		if ctx := handlerCtx.Context(); ctx != nil {
			return ctx
		}
	}

	return b.ctx
}

func (b *Bot) sendChatAction(ctx context.Context, chatId t.ChatID, action string) {
	slog.Debug("bot: Setting chat action", "action", action)

	err := b.api.SendChatAction(ctx, tu.ChatAction(chatId, action))
	if err != nil {
		slog.Error("bot: Cannot set chat action", "error", err)
		sentry.CaptureException(err)
	}
}

// replyText answers message with plain text. Failures are logged and reported.
func (b *Bot) replyText(ctx context.Context, message t.Message, text string) {
	_, err := b.api.SendMessage(ctx, b.reply(message, tu.Message(
		tu.ID(message.Chat.ID),
		text,
	)))
	if err != nil {
		slog.Error("bot: Cannot send a message", "error", err)
		sentry.CaptureException(err)

		b.trySendReplyError(ctx, message)
	}
}

func (b *Bot) trySendReplyError(ctx context.Context, message t.Message) {
	if ctx == nil {
		ctx = b.ctx
	}
	_, _ = b.api.SendMessage(ctx, b.reply(message, tu.Message(
		tu.ID(message.Chat.ID),
		"Error occurred while trying to send reply.",
	)))
}

func (b *Bot) isFromAdmin(message *t.Message) bool {
	if message == nil || message.From == nil {
		return false
	}

	return slices.Contains(b.cfg.AdminIDs, message.From.ID)
}

// pickErrorText renders the user-facing reply for a failed /pig request.
func pickErrorText(result images.Result, err error) string {
	var cooldownErr *pig.CooldownError
	switch {
	case errors.As(err, &cooldownErr):
		return fmt.Sprintf("冷却中～还需%d秒获取猪图", int(math.Ceil(cooldownErr.Remaining.Seconds())))
	case errors.Is(err, pig.ErrEmptyCatalog):
		return "无可用猪图数据，请检查list.json"
	}

	title := result.Entry.Title
	if title == "" {
		title = catalog.DefaultTitle
	}

	return fmt.Sprintf("获取%s失败：%s...", title, truncateRunes(rootCause(err), maxErrorTextLength))
}

func syncReportText(changed bool, err error, count int) string {
	switch {
	case err != nil:
		return "Catalog sync failed: " + truncateRunes(rootCause(err), maxErrorTextLength*2)
	case changed:
		return fmt.Sprintf("Catalog updated, %d images available.", count)
	default:
		return fmt.Sprintf("Catalog is up to date, %d images available.", count)
	}
}

// rootCause returns the innermost message of a joined error chain, which is
// the last line of its text.
func rootCause(err error) string {
	if err == nil {
		return ""
	}

	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}

	return ""
}

func truncateRunes(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}

	return string(runes[:max])
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
