package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStatusHandler returns the handler for /warden_status, which reports the
// pipeline's current load and recent enforcement activity.
func NewStatusHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return statusHandler{deps}.Handle
}

type statusHandler struct {
	deps HandlerDeps
}

func (h statusHandler) Handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "status")

	msg := update.Message
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID

	incidents24h, err := deps.Store.CountIncidentsSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		log.ErrorContext(ctx, "Failed to count recent incidents", "error", err)
		incidents24h = -1
	}
	allowed, err := deps.Store.ListAllowedSenders(ctx)
	if err != nil {
		log.ErrorContext(ctx, "Failed to read allowlist size", "error", err)
	}

	var sb strings.Builder
	sb.WriteString("GroupWarden status\n")
	fmt.Fprintf(&sb, "Buffered messages: %d across %d chats\n", deps.Pool.Len(), deps.Pool.Chats())
	fmt.Fprintf(&sb, "Detection queue: %d waiting, %d in flight\n", deps.Detector.QueueLen(), deps.Detector.InFlight())
	if incidents24h >= 0 {
		fmt.Fprintf(&sb, "Enforcements (24h): %d\n", incidents24h)
	}
	fmt.Fprintf(&sb, "Allowlisted senders: %d\n", len(allowed))

	if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: sb.String()}); err != nil {
		log.ErrorContext(ctx, "Failed to send status reply", "error", err, "chat_id", chatID)
	}
}
