package liststore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for list and audit-log operations. Methods
// accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// IsSenderAllowed reports whether the user is on the global allowlist.
	IsSenderAllowed(ctx context.Context, userID int64) (bool, error)

	// AllowSender adds a user to the allowlist. Adding an existing entry is
	// a no-op.
	AllowSender(ctx context.Context, userID, addedBy int64) error

	// DisallowSender removes a user from the allowlist and reports whether
	// an entry was removed.
	DisallowSender(ctx context.Context, userID int64) (bool, error)

	// ListAllowedSenders returns the allowlist ordered by creation time.
	ListAllowedSenders(ctx context.Context) ([]AllowedSender, error)

	// IsChatIgnored reports whether detection is disabled for the chat.
	IsChatIgnored(ctx context.Context, chatID int64) (bool, error)

	// IgnoreChat disables detection for a chat.
	IgnoreChat(ctx context.Context, chatID int64) error

	// UnignoreChat re-enables detection for a chat and reports whether an
	// entry was removed.
	UnignoreChat(ctx context.Context, chatID int64) (bool, error)

	// RecordIncident persists the audit record of one enforcement.
	RecordIncident(ctx context.Context, chatID, senderID int64, senderName string, messages int, evidence string) error

	// CountIncidentsSince counts enforcements recorded after the cutoff.
	CountIncidentsSince(ctx context.Context, cutoff time.Time) (int, error)

	// PruneIncidents deletes incident records older than the cutoff and
	// returns the number removed.
	PruneIncidents(ctx context.Context, cutoff time.Time) (int64, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store implementation backed by sqlx. It requires a
// connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) IsSenderAllowed(ctx context.Context, userID int64) (bool, error) {
	if userID == 0 {
		return false, fmt.Errorf("user_id cannot be zero")
	}

	var one int
	err := s.db.GetContext(ctx, &one, `SELECT 1 FROM allowed_senders WHERE user_id = ? LIMIT 1`, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error checking allowlist", "user_id", userID, "error", err)
		return false, fmt.Errorf("failed to check allowlist for user %d: %w", userID, err)
	}
	return true, nil
}

func (s *sqlxStore) AllowSender(ctx context.Context, userID, addedBy int64) error {
	if userID == 0 {
		return fmt.Errorf("user_id cannot be zero")
	}

	query := `
        INSERT INTO allowed_senders (user_id, added_by, created_at)
        VALUES (?, ?, ?)
        ON CONFLICT (user_id) DO NOTHING;
    `
	if _, err := s.db.ExecContext(ctx, query, userID, addedBy, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error adding sender to allowlist", "user_id", userID, "error", err)
		return fmt.Errorf("failed to allow sender %d: %w", userID, err)
	}

	s.logger.InfoContext(ctx, "Sender allowlisted", "user_id", userID, "added_by", addedBy)
	return nil
}

func (s *sqlxStore) DisallowSender(ctx context.Context, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM allowed_senders WHERE user_id = ?`, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error removing sender from allowlist", "user_id", userID, "error", err)
		return false, fmt.Errorf("failed to disallow sender %d: %w", userID, err)
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		s.logger.InfoContext(ctx, "Sender removed from allowlist", "user_id", userID)
	}
	return affected > 0, nil
}

func (s *sqlxStore) ListAllowedSenders(ctx context.Context) ([]AllowedSender, error) {
	var senders []AllowedSender
	query := `SELECT id, user_id, added_by, created_at FROM allowed_senders ORDER BY created_at ASC`
	if err := s.db.SelectContext(ctx, &senders, query); err != nil {
		s.logger.ErrorContext(ctx, "Error listing allowlist", "error", err)
		return nil, fmt.Errorf("failed to list allowed senders: %w", err)
	}
	return senders, nil
}

func (s *sqlxStore) IsChatIgnored(ctx context.Context, chatID int64) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one, `SELECT 1 FROM ignored_chats WHERE chat_id = ? LIMIT 1`, chatID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error checking ignored chats", "chat_id", chatID, "error", err)
		return false, fmt.Errorf("failed to check ignored chat %d: %w", chatID, err)
	}
	return true, nil
}

func (s *sqlxStore) IgnoreChat(ctx context.Context, chatID int64) error {
	query := `
        INSERT INTO ignored_chats (chat_id, created_at)
        VALUES (?, ?)
        ON CONFLICT (chat_id) DO NOTHING;
    `
	if _, err := s.db.ExecContext(ctx, query, chatID, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error ignoring chat", "chat_id", chatID, "error", err)
		return fmt.Errorf("failed to ignore chat %d: %w", chatID, err)
	}
	s.logger.InfoContext(ctx, "Chat ignored", "chat_id", chatID)
	return nil
}

func (s *sqlxStore) UnignoreChat(ctx context.Context, chatID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM ignored_chats WHERE chat_id = ?`, chatID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error unignoring chat", "chat_id", chatID, "error", err)
		return false, fmt.Errorf("failed to unignore chat %d: %w", chatID, err)
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		s.logger.InfoContext(ctx, "Chat watch re-enabled", "chat_id", chatID)
	}
	return affected > 0, nil
}

func (s *sqlxStore) RecordIncident(ctx context.Context, chatID, senderID int64, senderName string, messages int, evidence string) error {
	if chatID == 0 || senderID == 0 {
		return fmt.Errorf("incident must have non-zero chat_id and sender_id")
	}

	inc := Incident{
		ChatID:       chatID,
		SenderID:     senderID,
		SenderName:   senderName,
		MessageCount: messages,
		Evidence:     evidence,
		CreatedAt:    time.Now().UTC(),
	}

	query := `
        INSERT INTO incidents (chat_id, sender_id, sender_name, message_count, evidence, created_at)
        VALUES (:chat_id, :sender_id, :sender_name, :message_count, :evidence, :created_at);
    `
	if _, err := s.db.NamedExecContext(ctx, query, inc); err != nil {
		s.logger.ErrorContext(ctx, "Error recording incident", "chat_id", chatID, "sender_id", senderID, "error", err)
		return fmt.Errorf("failed to record incident (chat %d, sender %d): %w", chatID, senderID, err)
	}

	s.logger.DebugContext(ctx, "Incident recorded", "chat_id", chatID, "sender_id", senderID, "messages", messages)
	return nil
}

func (s *sqlxStore) CountIncidentsSince(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM incidents WHERE created_at > ?`, cutoff.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error counting incidents", "error", err)
		return 0, fmt.Errorf("failed to count incidents: %w", err)
	}
	return count, nil
}

func (s *sqlxStore) PruneIncidents(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM incidents WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error pruning incidents", "error", err)
		return 0, fmt.Errorf("failed to prune incidents: %w", err)
	}

	removed, _ := result.RowsAffected()
	if removed > 0 {
		s.logger.InfoContext(ctx, "Pruned old incidents", "count", removed)
	}
	return removed, nil
}

// RunSQLMaintenance executes a VACUUM on the SQLite database. VACUUM must
// run outside a transaction in SQLite.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}
