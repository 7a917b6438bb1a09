package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telegram-pig-bot/bot"
	"telegram-pig-bot/catalog"
	"telegram-pig-bot/config"
	"telegram-pig-bot/cooldown"
	"telegram-pig-bot/images"
	"telegram-pig-bot/llm"
	"telegram-pig-bot/network"
	"telegram-pig-bot/pig"
	"telegram-pig-bot/stats"
	"telegram-pig-bot/updater"

	"github.com/alexflint/go-arg"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	tg "github.com/mymmrac/telego"
)

type Args struct {
	SyncOnly bool   `arg:"--sync-only" help:"Update the local catalog from the remote listing and exit."`
	DataDir  string `arg:"--data-dir" help:"Directory holding list.json and the image cache. Overrides DATA_DIR."`
	LogLevel string `arg:"--log-level" help:"Log level: debug, info, warn or error. Overrides LOG_LEVEL."`
}

func (Args) Description() string {
	return "Telegram bot replying to /pig with a random picture from pighub.top.\n"
}

func main() {
	// .env is optional, real environment variables win.
	_ = godotenv.Load()

	var args Args
	arg.MustParse(&args)

	cfg := config.Load()
	if args.DataDir != "" {
		cfg.Catalog.DataDir = args.DataDir
	}
	if args.LogLevel != "" {
		cfg.Log.Level = config.ParseLevel(args.LogLevel)
	}

	slog.SetLogLoggerLevel(cfg.Log.Level)

	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			AttachStacktrace: true,
		})
		if err != nil {
			slog.Error("main: Cannot initialize Sentry", "error", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	botStats := stats.NewStats()

	store := catalog.NewStore(cfg.Catalog.Path(), cfg.Catalog.ImageBaseURL)
	if _, err := store.Load(); err != nil {
		slog.Warn("main: Starting with an empty catalog", "error", err)
	}

	catalogClient := network.NewClient(network.Settings{
		RequestTimeout:    cfg.Catalog.FetchTimeout,
		RequestsPerSecond: cfg.Images.RequestsPerSecond,
	})

	catalogUpdater := updater.New(store, catalogClient, updater.Options{
		RemoteURL:    cfg.Catalog.RemoteURL,
		FetchTimeout: cfg.Catalog.FetchTimeout,
		IntervalDays: cfg.Catalog.UpdateCycle,
		Recorder:     botStats,
	})

	if args.SyncOnly {
		changed, err := catalogUpdater.SyncOnce(ctx)
		if err != nil {
			slog.Error("main: Catalog sync failed", "error", err)
			os.Exit(1)
		}
		slog.Info("main: Catalog sync finished", "changed", changed, "images", len(store.Entries()))

		return
	}

	downloadClient := network.NewClient(network.Settings{
		RequestTimeout:    cfg.Images.DownloadTimeout,
		RequestsPerSecond: cfg.Images.RequestsPerSecond,
	})

	cacheDir := ""
	if cfg.Images.LoadToLocal {
		cacheDir = cfg.Catalog.CacheDir()
	}

	resolver := images.NewResolver(downloadClient, images.Options{
		CacheDir:               cacheDir,
		MaxAttempts:            cfg.Images.MaxRetries,
		MaxConcurrentDownloads: cfg.Images.MaxConcurrentDownloads,
	})

	pigs := pig.NewService(store, resolver, cooldown.NewGate(), pig.Options{
		Cooldown:       cfg.Bot.CooldownPeriod,
		CandidateCount: cfg.Bot.CandidateCount,
		PreferLocal:    cfg.Images.LoadToLocal,
		Recorder:       botStats,
	})

	services := bot.Services{
		Pigs:    pigs,
		Images:  resolver,
		Updater: catalogUpdater,
		Catalog: store,
		Stats:   botStats,
	}

	if cfg.LLM.Enabled() {
		templates, err := llm.NewTemplateProcessor(cfg.LLM)
		if err != nil {
			slog.Error("main: Invalid caption prompt template, captions disabled", "error", err)
		} else {
			connector := llm.NewConnector(cfg.LLM.APIBaseURL, cfg.LLM.APIToken, cfg.LLM.CaptionModel, templates, cfg.LLM.RequestTimeout)
			if !connector.HasModel(ctx) {
				slog.Warn("main: Caption model not found on the back-end", "model", cfg.LLM.CaptionModel)
			}
			services.Captioner = connector
		}
	}

	telegramApi, err := tg.NewBot(cfg.Bot.Telegram.Token, tg.WithLogger(bot.NewLogger("telego")))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	botService := bot.NewBot(telegramApi, services, cfg.Bot)

	err = botService.Run(ctx)
	if err != nil {
		slog.Error("Running bot finished with an error", "error", err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}
