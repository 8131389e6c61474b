// Package enforce carries out the consequences of a spam verdict: it claims
// the sender's buffered history, mutes the sender, forwards the evidence to
// the admin chat, deletes the offending messages, and posts a notice.
package enforce

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/groupwarden/groupwarden/internal/pool"
)

// maxEvidenceLen keeps the evidence message under Telegram's 4096-character
// message limit with headroom for the header.
const maxEvidenceLen = 3800

// ChatActions is the platform boundary the enforcer acts through. All
// methods are best-effort from the enforcer's point of view; a failed action
// is logged and the sequence continues.
type ChatActions interface {
	Mute(ctx context.Context, chatID, userID int64, d time.Duration) error
	Delete(ctx context.Context, chatID int64, messageID int) error
	Send(ctx context.Context, chatID int64, text string) error
	Title(ctx context.Context, chatID int64) (string, error)
}

// IncidentRecorder persists a summary of each enforcement for auditing.
type IncidentRecorder interface {
	RecordIncident(ctx context.Context, chatID, senderID int64, senderName string, messages int, evidence string) error
}

// Config bounds the enforcement sequence.
type Config struct {
	MuteDuration   time.Duration
	DeleteInterval time.Duration // spacing between message deletions
	Notice         string        // posted in the chat; {name} and {count} are substituted
	AdminChatID    int64         // evidence destination; 0 disables forwarding
}

// Enforcer executes the enforcement sequence for confirmed senders. It is
// safe for concurrent use; per-sender exclusion is the scheduler's job.
type Enforcer struct {
	cfg       Config
	actions   ChatActions
	pool      *pool.Pool
	incidents IncidentRecorder
	logger    *slog.Logger
}

// New wires an enforcer. incidents may be nil to disable audit records.
func New(cfg Config, actions ChatActions, p *pool.Pool, incidents IncidentRecorder, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{
		cfg:       cfg,
		actions:   actions,
		pool:      p,
		incidents: incidents,
		logger:    logger.With("component", "enforcer"),
	}
}

// Enforce runs the full sequence for one confirmed sender. Taking the pool
// snapshot is the atomic claim: an empty snapshot means another flow already
// enforced this sender and the call returns without acting.
func (e *Enforcer) Enforce(ctx context.Context, chatID, senderID int64, senderName string) {
	recs := e.pool.Take(chatID, senderID)
	if len(recs) == 0 {
		e.logger.DebugContext(ctx, "No buffered messages for confirmed sender, already handled",
			"chat_id", chatID, "sender_id", senderID)
		return
	}

	e.logger.InfoContext(ctx, "Enforcing spam verdict",
		"chat_id", chatID, "sender_id", senderID, "sender_name", senderName, "messages", len(recs))

	if err := e.actions.Mute(ctx, chatID, senderID, e.cfg.MuteDuration); err != nil {
		e.logger.ErrorContext(ctx, "Failed to mute sender, continuing",
			"chat_id", chatID, "sender_id", senderID, "error", err)
	}

	evidence := e.buildEvidence(ctx, chatID, senderID, senderName, recs)
	if e.cfg.AdminChatID != 0 {
		if err := e.actions.Send(ctx, e.cfg.AdminChatID, evidence); err != nil {
			e.logger.ErrorContext(ctx, "Failed to forward evidence to admin chat",
				"admin_chat_id", e.cfg.AdminChatID, "error", err)
		}
	}

	e.deleteMessages(ctx, chatID, recs)

	if e.cfg.Notice != "" {
		notice := strings.NewReplacer(
			"{name}", senderName,
			"{count}", fmt.Sprintf("%d", len(recs)),
		).Replace(e.cfg.Notice)
		if err := e.actions.Send(ctx, chatID, notice); err != nil {
			e.logger.ErrorContext(ctx, "Failed to post enforcement notice", "chat_id", chatID, "error", err)
		}
	}

	if e.incidents != nil {
		if err := e.incidents.RecordIncident(ctx, chatID, senderID, senderName, len(recs), evidence); err != nil {
			e.logger.ErrorContext(ctx, "Failed to record incident", "chat_id", chatID, "error", err)
		}
	}
}

// deleteMessages removes the sender's messages one by one with a pause
// between calls so a large burst does not trip the platform's flood limits.
func (e *Enforcer) deleteMessages(ctx context.Context, chatID int64, recs []pool.Record) {
	for i, rec := range recs {
		if rec.MessageID == 0 {
			continue
		}
		if err := e.actions.Delete(ctx, chatID, rec.MessageID); err != nil {
			e.logger.WarnContext(ctx, "Failed to delete message",
				"chat_id", chatID, "message_id", rec.MessageID, "error", err)
		}
		if i == len(recs)-1 || e.cfg.DeleteInterval <= 0 {
			continue
		}
		select {
		case <-time.After(e.cfg.DeleteInterval):
		case <-ctx.Done():
			e.logger.WarnContext(ctx, "Deletion pass interrupted",
				"chat_id", chatID, "deleted", i+1, "total", len(recs))
			return
		}
	}
}

// buildEvidence renders the admin-chat report: a header identifying the chat
// and sender, then the buffered messages in arrival order, truncated to fit
// one message.
func (e *Enforcer) buildEvidence(ctx context.Context, chatID, senderID int64, senderName string, recs []pool.Record) string {
	title, err := e.actions.Title(ctx, chatID)
	if err != nil || title == "" {
		title = fmt.Sprintf("chat %d", chatID)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Spam removed in %s\n", title)
	fmt.Fprintf(&sb, "Sender: %s (%d)\n", senderName, senderID)
	fmt.Fprintf(&sb, "Messages: %d\n\n", len(recs))

	for _, rec := range recs {
		line := rec.Text
		if line == "" && len(rec.Media) > 0 {
			line = "[image] " + strings.Join(rec.Media, "; ")
		}
		if line == "" {
			continue
		}
		entry := fmt.Sprintf("[%s] %s\n", rec.Time.Format("15:04:05"), line)
		if sb.Len()+len(entry) > maxEvidenceLen {
			sb.WriteString("… (truncated)\n")
			break
		}
		sb.WriteString(entry)
	}
	return sb.String()
}
