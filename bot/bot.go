package bot

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"telegram-pig-bot/catalog"
	"telegram-pig-bot/config"
	"telegram-pig-bot/images"
	"telegram-pig-bot/stats"

	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
)

var (
	ErrGetMe          = errors.New("cannot retrieve api user")
	ErrUpdatesChannel = errors.New("cannot get updates channel")
	ErrHandlerInit    = errors.New("cannot initialize handler")
)

const defaultShutdownTimeout = 5 * time.Second

type Picker interface {
	Pick(ctx context.Context) (images.Result, error)
}

type Releaser interface {
	Release(result images.Result)
}

type Syncer interface {
	SyncOnce(ctx context.Context) (bool, error)
	RunPeriodic(ctx context.Context)
}

type Catalog interface {
	Entries() []catalog.Entry
}

type Captioner interface {
	Caption(ctx context.Context, title string) (string, error)
}

// Services are the parts of the pig subsystem the bot drives.
type Services struct {
	Pigs    Picker
	Images  Releaser
	Updater Syncer
	Catalog Catalog
	// Captioner is optional; entry titles are used as captions without it.
	Captioner Captioner
	Stats     *stats.Stats
}

type Bot struct {
	api      *telego.Bot
	services Services
	stats    *stats.Stats
	cfg      config.BotConfig
	me       botInfo
	ctx      context.Context
}

func NewBot(api *telego.Bot, services Services, cfg config.BotConfig) *Bot {
	botStats := services.Stats
	if botStats == nil {
		botStats = stats.NewStats()
	}

	return &Bot{
		api:      api,
		services: services,
		stats:    botStats,
		cfg:      cfg,
		ctx:      context.Background(),
	}
}

// Run syncs the catalog, starts the periodic sync and serves updates until
// ctx is done. On return the periodic sync has stopped or the shutdown
// timeout has passed.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx

	botUser, err := b.api.GetMe(ctx)
	if err != nil {
		slog.Error("bot: Cannot retrieve api user", "error", err)
		sentry.CaptureException(err)

		return ErrGetMe
	}

	slog.Info("bot: Running api as", "id", botUser.ID, "username", botUser.Username, "name", botUser.FirstName, "is_bot", botUser.IsBot)
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category: "telegram-api",
		Message:  "Bot ID: " + formatID(botUser.ID),
		Level:    sentry.LevelInfo,
	})

	b.me = botInfoFromUser(botUser)

	if _, err := b.services.Updater.SyncOnce(ctx); err != nil {
		slog.Warn("bot: Initial catalog sync failed, serving the local catalog", "error", err, "images", len(b.services.Catalog.Entries()))
	}

	periodicCtx, cancelPeriodic := context.WithCancel(ctx)
	periodicDone := make(chan struct{})
	go func() {
		defer close(periodicDone)
		b.services.Updater.RunPeriodic(periodicCtx)
	}()
	defer b.stopPeriodic(cancelPeriodic, periodicDone)

	b.registerCommands(ctx)

	updates, err := b.api.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		slog.Error("bot: Cannot get update channel", "error", err)
		sentry.CaptureException(err)

		return ErrUpdatesChannel
	}

	bh, err := th.NewBotHandler(b.api, updates)
	if err != nil {
		slog.Error("bot: Cannot initialize bot handler", "error", err)
		sentry.CaptureException(err)

		return ErrHandlerInit
	}

	// Middlewares
	bh.Use(b.updateLogger)

	// Command handlers
	bh.Handle(b.pigHandler, th.CommandEqual("pig"), b.commandForThisBot())
	bh.Handle(b.startHandler, th.CommandEqual("start"), b.commandForThisBot())
	bh.Handle(b.helpHandler, th.CommandEqual("help"), b.commandForThisBot())
	bh.Handle(b.statsHandler, th.CommandEqual("stats"), b.commandForThisBot())
	bh.Handle(b.syncHandler, th.CommandEqual("sync"), b.commandForThisBot())

	go func() {
		<-ctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout())
		defer cancel()

		if err := bh.StopWithContext(stopCtx); err != nil {
			slog.Warn("bot: Handler did not stop cleanly", "error", err)
		}
	}()

	slog.Info("bot: Handling updates")

	if err := bh.Start(); err != nil {
		slog.Error("bot: Handler stopped with an error", "error", err)
		sentry.CaptureException(err)

		return err
	}

	slog.Info("bot: Stopped handling updates")

	return nil
}

func (b *Bot) stopPeriodic(cancel context.CancelFunc, done <-chan struct{}) {
	cancel()

	timer := time.NewTimer(b.shutdownTimeout())
	defer timer.Stop()

	select {
	case <-done:
		slog.Info("bot: Periodic catalog sync stopped")
	case <-timer.C:
		slog.Warn("bot: Periodic catalog sync did not stop in time", "timeout", b.shutdownTimeout())
	}
}

func (b *Bot) shutdownTimeout() time.Duration {
	if b.cfg.ShutdownTimeout > 0 {
		return b.cfg.ShutdownTimeout
	}

	return defaultShutdownTimeout
}

func (b *Bot) registerCommands(ctx context.Context) {
	err := b.api.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: []telego.BotCommand{
			{Command: "pig", Description: "Random pig picture"},
			{Command: "stats", Description: "Bot statistics"},
			{Command: "help", Description: "Show help"},
		},
	})
	if err != nil {
		slog.Warn("bot: Cannot register command list", "error", err)
	}
}

func (b *Bot) pigHandler(ctx *th.Context, update telego.Update) error {
	message := update.Message
	slog.Info("bot: /pig", "chat", message.Chat.ID)

	reqCtx := b.handlerContext(ctx)
	chatID := tu.ID(message.Chat.ID)

	b.sendChatAction(reqCtx, chatID, telego.ChatActionUploadPhoto)

	result, err := b.services.Pigs.Pick(reqCtx)
	if err != nil {
		b.replyText(reqCtx, *message, pickErrorText(result, err))

		return nil
	}
	defer b.services.Images.Release(result)

	file, err := os.Open(result.Path)
	if err != nil {
		slog.Error("bot: Cannot open resolved image", "path", result.Path, "error", err)
		sentry.CaptureException(err)

		b.replyText(reqCtx, *message, pickErrorText(result, err))

		return nil
	}
	defer file.Close()

	photo := tu.Photo(chatID, tu.File(file)).
		WithCaption(b.caption(reqCtx, result.Entry)).
		WithReplyParameters(&telego.ReplyParameters{MessageID: message.MessageID})

	if _, err := b.api.SendPhoto(reqCtx, photo); err != nil {
		slog.Error("bot: Cannot send photo", "title", result.Entry.Title, "error", err)
		sentry.CaptureException(err)

		b.replyText(reqCtx, *message, pickErrorText(result, err))

		return nil
	}

	slog.Info("bot: Pig sent", "chat", message.Chat.ID, "title", result.Entry.Title, "from_cache", result.FromCache)

	return nil
}

// caption prefers a generated caption and falls back to the entry title.
func (b *Bot) caption(ctx context.Context, entry catalog.Entry) string {
	if b.services.Captioner == nil {
		return entry.Title
	}

	caption, err := b.services.Captioner.Caption(ctx, entry.Title)
	if err != nil {
		slog.Warn("bot: Caption generation failed, using title", "title", entry.Title, "error", err)

		return entry.Title
	}

	return caption
}

func (b *Bot) startHandler(ctx *th.Context, update telego.Update) error {
	slog.Info("bot: /start")

	b.replyText(b.handlerContext(ctx), *update.Message,
		"Hey!\r\n"+
			"Send /pig to get a random pig picture.\r\n"+
			"Check out /help to learn more.",
	)

	return nil
}

func (b *Bot) helpHandler(ctx *th.Context, update telego.Update) error {
	slog.Info("bot: /help")

	b.replyText(b.handlerContext(ctx), *update.Message,
		"Instructions:\r\n"+
			"/pig - Random pig picture\r\n"+
			"/stats - Bot statistics\r\n"+
			"/help - Show this help\r\n\r\n"+
			"Pictures come from pighub.top. "+
			"The command cools down for "+b.cfg.CooldownPeriod.String()+" after each request.",
	)

	return nil
}

func (b *Bot) statsHandler(ctx *th.Context, update telego.Update) error {
	slog.Info("bot: /stats")

	reqCtx := b.handlerContext(ctx)
	message := update.Message

	_, err := b.api.SendMessage(reqCtx, b.reply(*message, tu.Message(
		tu.ID(message.Chat.ID),
		"Current bot stats:\r\n"+
			"```json\r\n"+
			b.stats.String()+"\r\n"+
			"```",
	)).WithParseMode("Markdown"))
	if err != nil {
		slog.Error("bot: Cannot send a message", "error", err)
		sentry.CaptureException(err)

		b.trySendReplyError(reqCtx, *message)
	}

	return nil
}

func (b *Bot) syncHandler(ctx *th.Context, update telego.Update) error {
	message := update.Message
	reqCtx := b.handlerContext(ctx)

	if !b.isFromAdmin(message) {
		slog.Info("bot: /sync rejected for non-admin", "chat", message.Chat.ID)
		b.replyText(reqCtx, *message, "This command is available to bot admins only.")

		return nil
	}

	slog.Info("bot: /sync", "admin", message.From.ID)

	b.sendChatAction(reqCtx, tu.ID(message.Chat.ID), telego.ChatActionTyping)

	changed, err := b.services.Updater.SyncOnce(reqCtx)
	b.replyText(reqCtx, *message, syncReportText(changed, err, len(b.services.Catalog.Entries())))

	return nil
}
