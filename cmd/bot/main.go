// Package main contains the entrypoint for the GroupWarden Telegram bot.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/groupwarden/groupwarden/internal/bot"
	"github.com/groupwarden/groupwarden/internal/bot/handlers"
	"github.com/groupwarden/groupwarden/internal/bot/tasks"
	"github.com/groupwarden/groupwarden/internal/config"
	"github.com/groupwarden/groupwarden/internal/detect"
	"github.com/groupwarden/groupwarden/internal/enforce"
	"github.com/groupwarden/groupwarden/internal/gemini"
	"github.com/groupwarden/groupwarden/internal/liststore"
	"github.com/groupwarden/groupwarden/internal/logger"
	"github.com/groupwarden/groupwarden/internal/pool"
	"github.com/groupwarden/groupwarden/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components, handles graceful
// shutdown, and returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := liststore.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer liststore.CloseDB(db)
	store := liststore.NewStore(db, log)

	for _, id := range cfg.Lists.AllowedSenders {
		if err := store.AllowSender(ctx, id, cfg.Telegram.AdminUserID); err != nil {
			log.Warn("Failed to seed allowlisted sender", "sender_id", id, "error", err)
		}
	}

	gemClient, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	convPool := pool.New(cfg.Pool.Retention, log)

	hDeps := handlers.HandlerDeps{
		Logger:       log,
		Config:       cfg,
		Store:        store,
		GeminiClient: gemClient,
		Pool:         convPool,
	}

	// The ingestion handler needs the detector, which in turn needs the bot
	// client for enforcement actions. The default handler is bound after
	// both exist, before the bot starts polling.
	var ingest tgbot.HandlerFunc
	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if ingest != nil {
				ingest(ctx, b, update)
			}
		}),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	me, err := tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to get bot info", "error", err)
		return 1
	}
	cfg.Telegram.BotInfo = config.BotInfo{
		ID:        me.ID,
		Username:  me.Username,
		FirstName: me.FirstName,
	}
	log.Info("Retrieved bot info", "bot_id", me.ID, "bot_username", me.Username)

	actions := telegram.NewActions(tg, log)
	enforcer := enforce.New(enforce.Config{
		MuteDuration:   cfg.Enforce.MuteDuration,
		DeleteInterval: cfg.Enforce.DeleteInterval,
		Notice:         cfg.Enforce.Notice,
		AdminChatID:    cfg.Telegram.AdminChatID,
	}, actions, convPool, store, log)

	detector := detect.NewScheduler(detect.Config{
		BatchSize:       cfg.Detect.BatchSize,
		BatchWait:       cfg.Detect.BatchWait,
		MaxBatchText:    cfg.Detect.MaxBatchText,
		RateLimit:       cfg.Detect.RateLimit,
		MaxConcurrent:   cfg.Detect.MaxConcurrent,
		QueueSize:       cfg.Detect.QueueSize,
		ClassifyTimeout: cfg.Detect.ClassifyTimeout,
	}, gemClient, enforcer, log)
	hDeps.Detector = detector
	ingest = handlers.NewMessageHandler(hDeps)

	cmdHandlers := handlers.RegisterAllCommands(hDeps)
	if err := telegram.RegisterHandlers(tg, log, cmdHandlers); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}

	tDeps := tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Config: cfg,
	}
	maintenance, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create maintenance scheduler", "error", err)
		return 1
	}

	app := bot.NewBot(log, cfg, db, store, gemClient, tg, detector, maintenance)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
