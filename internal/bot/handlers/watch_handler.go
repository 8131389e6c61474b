package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewWatchHandler returns the handler for /warden_watch, which toggles
// detection for the current chat. "/warden_watch off" stops watching,
// "/warden_watch on" (or no argument) resumes.
func NewWatchHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return watchHandler{deps}.Handle
}

type watchHandler struct {
	deps HandlerDeps
}

func (h watchHandler) Handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "watch")

	msg := update.Message
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID
	args := commandArgs(msg.Text)

	reply := func(text string) {
		if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
			log.ErrorContext(ctx, "Failed to send watch reply", "error", err, "chat_id", chatID)
		}
	}

	if len(args) > 0 && args[0] == "off" {
		if err := deps.Store.IgnoreChat(ctx, chatID); err != nil {
			log.ErrorContext(ctx, "Failed to disable watching", "chat_id", chatID, "error", err)
			reply(deps.Config.Messages.ErrorGeneralMsg)
			return
		}
		reply("Spam detection disabled for this chat.")
		return
	}

	if _, err := deps.Store.UnignoreChat(ctx, chatID); err != nil {
		log.ErrorContext(ctx, "Failed to enable watching", "chat_id", chatID, "error", err)
		reply(deps.Config.Messages.ErrorGeneralMsg)
		return
	}
	reply("Spam detection enabled for this chat.")
}
