// Package telegram adapts the go-telegram bot client to the platform
// actions the enforcement pipeline needs.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Actions wraps a bot client with the moderation calls used by the enforcer.
type Actions struct {
	bot    *tgbot.Bot
	logger *slog.Logger
}

// NewActions creates the adapter around an initialized bot client.
func NewActions(b *tgbot.Bot, logger *slog.Logger) *Actions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actions{
		bot:    b,
		logger: logger.With("component", "telegram_actions"),
	}
}

// Mute revokes the sender's messaging permissions for the given duration.
// A zero duration mutes until an admin lifts the restriction manually.
func (a *Actions) Mute(ctx context.Context, chatID, userID int64, d time.Duration) error {
	params := &tgbot.RestrictChatMemberParams{
		ChatID:      chatID,
		UserID:      userID,
		Permissions: &models.ChatPermissions{},
	}
	if d > 0 {
		params.UntilDate = int(time.Now().Add(d).Unix())
	}

	ok, err := a.bot.RestrictChatMember(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to restrict chat member %d in chat %d: %w", userID, chatID, err)
	}
	if !ok {
		return fmt.Errorf("restrict chat member %d in chat %d was not applied", userID, chatID)
	}
	a.logger.DebugContext(ctx, "Muted sender", "chat_id", chatID, "user_id", userID, "duration", d)
	return nil
}

// Delete removes one message from the chat.
func (a *Actions) Delete(ctx context.Context, chatID int64, messageID int) error {
	ok, err := a.bot.DeleteMessage(ctx, &tgbot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	if err != nil {
		return fmt.Errorf("failed to delete message %d in chat %d: %w", messageID, chatID, err)
	}
	if !ok {
		return fmt.Errorf("delete of message %d in chat %d was not applied", messageID, chatID)
	}
	return nil
}

// Send posts a plain-text message to the chat.
func (a *Actions) Send(ctx context.Context, chatID int64, text string) error {
	_, err := a.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	return nil
}

// Title returns the chat's display title, or the empty string for chats
// without one.
func (a *Actions) Title(ctx context.Context, chatID int64) (string, error) {
	chat, err := a.bot.GetChat(ctx, &tgbot.GetChatParams{ChatID: chatID})
	if err != nil {
		return "", fmt.Errorf("failed to get chat %d: %w", chatID, err)
	}
	return chat.Title, nil
}
