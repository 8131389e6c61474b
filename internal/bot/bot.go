// Package bot implements the core bot functionality, lifecycle management,
// and component orchestration for the GroupWarden Telegram bot.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/groupwarden/groupwarden/internal/config"
	"github.com/groupwarden/groupwarden/internal/detect"
	"github.com/groupwarden/groupwarden/internal/gemini"
	"github.com/groupwarden/groupwarden/internal/liststore"
)

// Bot represents the main application and manages its components' lifecycle.
type Bot struct {
	logger       *slog.Logger
	cfg          *config.Config
	db           *sqlx.DB
	store        liststore.Store
	geminiClient gemini.Client
	tgBot        *tgbot.Bot
	detector     *detect.Scheduler
	maintenance  *Scheduler
}

// NewBot creates a new instance of the bot with all required dependencies.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	db *sqlx.DB,
	store liststore.Store,
	geminiClient gemini.Client,
	tgBot *tgbot.Bot,
	detector *detect.Scheduler,
	maintenance *Scheduler,
) *Bot {
	return &Bot{
		logger:       logger.With("component", "bot_orchestrator"),
		cfg:          cfg,
		db:           db,
		store:        store,
		geminiClient: geminiClient,
		tgBot:        tgBot,
		detector:     detector,
		maintenance:  maintenance,
	}
}

// Run starts the bot and all its components, handling graceful shutdown on
// context cancellation. It returns an error if any component fails during
// startup or execution.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting Telegram bot listener...")

		b.tgBot.Start(gCtx)
		b.logger.Info("Telegram bot listener stopped.")

		if gCtx.Err() == nil {
			b.logger.Warn("Telegram bot listener stopped unexpectedly without context cancellation.")
			return fmt.Errorf("telegram listener stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		b.logger.Info("Starting detection scheduler...")
		if err := b.detector.Run(gCtx); err != nil {
			b.logger.Error("Detection scheduler stopped with error", "error", err)
			return fmt.Errorf("detection scheduler failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		b.logger.Info("Starting maintenance scheduler...")
		if err := b.maintenance.Start(); err != nil {
			b.logger.Error("Failed to start maintenance scheduler", "error", err)
			return fmt.Errorf("failed to start maintenance scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping maintenance scheduler...")

		if err := b.maintenance.Stop(); err != nil {
			b.logger.Error("Error stopping maintenance scheduler", "error", err)
		}
		return nil
	})

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}
