package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewAllowHandler returns the handler for /warden_allow, which manages the
// global sender allowlist. Usage:
//
//	/warden_allow <user_id>         add a user
//	/warden_allow remove <user_id>  remove a user
//	/warden_allow list              show the allowlist
//
// Replying to a message with /warden_allow adds that message's sender.
func NewAllowHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return allowHandler{deps}.Handle
}

type allowHandler struct {
	deps HandlerDeps
}

func (h allowHandler) Handle(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "allow")

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	args := commandArgs(msg.Text)

	reply := func(text string) {
		if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
			log.ErrorContext(ctx, "Failed to send allowlist reply", "error", err, "chat_id", chatID)
		}
	}

	switch {
	case len(args) > 0 && args[0] == "list":
		senders, err := deps.Store.ListAllowedSenders(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Failed to list allowlist", "error", err)
			reply(deps.Config.Messages.ErrorGeneralMsg)
			return
		}
		if len(senders) == 0 {
			reply("The allowlist is empty.")
			return
		}
		var sb strings.Builder
		sb.WriteString("Allowlisted senders:\n")
		for _, s := range senders {
			fmt.Fprintf(&sb, "%d (added %s)\n", s.UserID, s.CreatedAt.Format("2006-01-02"))
		}
		reply(sb.String())

	case len(args) > 1 && args[0] == "remove":
		userID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			reply(deps.Config.Messages.AllowUsageMsg)
			return
		}
		removed, err := deps.Store.DisallowSender(ctx, userID)
		if err != nil {
			log.ErrorContext(ctx, "Failed to remove sender from allowlist", "user_id", userID, "error", err)
			reply(deps.Config.Messages.ErrorGeneralMsg)
			return
		}
		if !removed {
			reply(fmt.Sprintf("User %d was not on the allowlist.", userID))
			return
		}
		reply(fmt.Sprintf("User %d removed from the allowlist.", userID))

	default:
		userID, ok := h.targetUser(msg, args)
		if !ok {
			reply(deps.Config.Messages.AllowUsageMsg)
			return
		}
		if err := deps.Store.AllowSender(ctx, userID, msg.From.ID); err != nil {
			log.ErrorContext(ctx, "Failed to allowlist sender", "user_id", userID, "error", err)
			reply(deps.Config.Messages.ErrorGeneralMsg)
			return
		}
		// Tasks already queued for this user should not reach the
		// classifier anymore.
		deps.Detector.PurgeSender(chatID, userID)
		log.InfoContext(ctx, "Sender allowlisted via command", "user_id", userID, "added_by", msg.From.ID)
		reply(fmt.Sprintf("User %d added to the allowlist.", userID))
	}
}

// targetUser resolves the user the command acts on: an explicit ID argument
// wins, then the replied-to message's sender.
func (h allowHandler) targetUser(msg *models.Message, args []string) (int64, bool) {
	if len(args) > 0 {
		if id, err := strconv.ParseInt(args[0], 10, 64); err == nil && id > 0 {
			return id, true
		}
		return 0, false
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		return msg.ReplyToMessage.From.ID, true
	}
	return 0, false
}

// commandArgs strips the leading /command token and returns the remaining
// whitespace-separated arguments.
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}
