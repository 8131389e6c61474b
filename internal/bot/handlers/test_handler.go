package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const testClassifyTimeout = time.Minute

// NewTestHandler returns the handler for /warden_test, which runs a single
// piece of text through the classifier and reports the verdict without
// enforcing anything. The text comes from the command arguments or from the
// replied-to message.
func NewTestHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return testHandler{deps}.Handle
}

type testHandler struct {
	deps HandlerDeps
}

func (h testHandler) Handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "test")

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	chatID := msg.Chat.ID

	reply := func(text string) {
		if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
			log.ErrorContext(ctx, "Failed to send test reply", "error", err, "chat_id", chatID)
		}
	}

	text := strings.TrimSpace(strings.Join(commandArgs(msg.Text), " "))
	senderKey := "1"
	if text == "" && msg.ReplyToMessage != nil {
		text = msg.ReplyToMessage.Text
		if text == "" {
			text = msg.ReplyToMessage.Caption
		}
		if msg.ReplyToMessage.From != nil {
			senderKey = fmt.Sprintf("%d", msg.ReplyToMessage.From.ID)
		}
	}
	if text == "" {
		reply(deps.Config.Messages.TestUsageMsg)
		return
	}

	log.InfoContext(ctx, "Running test classification", "chat_id", chatID, "text_len", len(text))

	testCtx, cancel := context.WithTimeout(ctx, testClassifyTimeout)
	defer cancel()
	confirmed, err := deps.GeminiClient.ClassifySenders(testCtx, map[string]string{senderKey: text}, nil)
	if err != nil {
		log.ErrorContext(ctx, "Test classification failed", "error", err)
		reply(fmt.Sprintf("Classification failed: %v", err))
		return
	}

	if len(confirmed) > 0 {
		reply("Verdict: spam")
	} else {
		reply("Verdict: not spam")
	}
}
