package bot

import (
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
)

// updateLogger logs incoming messages and reports handler panics to Sentry
// instead of taking the whole bot down.
func (b *Bot) updateLogger(ctx *th.Context, update telego.Update) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			slog.Error("bot: Handler panicked", "update_id", update.UpdateID, "panic", recovered)
			sentry.CurrentHub().Recover(recovered)

			err = fmt.Errorf("handler panic: %v", recovered)
		}
	}()

	message := update.Message
	if message == nil {
		slog.Debug("bot: Update has no message, skipping", "update_id", update.UpdateID)

		return ctx.Next(update)
	}

	slog.Debug("bot: Incoming message", "chat", message.Chat.ID, "type", message.Chat.Type, "text", message.Text)

	return ctx.Next(update)
}
