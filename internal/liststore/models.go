package liststore

import "time"

// AllowedSender is a user exempt from detection in every chat.
type AllowedSender struct {
	ID        uint      `db:"id"`
	UserID    int64     `db:"user_id"`
	AddedBy   int64     `db:"added_by"`
	CreatedAt time.Time `db:"created_at"`
}

// IgnoredChat is a chat the bot is present in but does not watch.
type IgnoredChat struct {
	ChatID    int64     `db:"chat_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Incident is the audit record of one enforcement.
type Incident struct {
	ID           uint      `db:"id"`
	ChatID       int64     `db:"chat_id"`
	SenderID     int64     `db:"sender_id"`
	SenderName   string    `db:"sender_name"`
	MessageCount int       `db:"message_count"`
	Evidence     string    `db:"evidence"`
	CreatedAt    time.Time `db:"created_at"`
}
