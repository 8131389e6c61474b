// Package pool keeps a bounded, per-chat, per-sender history of recent
// message content so that a confirmed verdict can act on the sender's whole
// recent burst, not just the message that tripped the classifier.
package pool

import (
	"log/slog"
	"sync"
	"time"
)

// Record is one buffered message. Records are immutable once appended; they
// leave the pool either through TTL eviction or through Take.
type Record struct {
	ChatID    int64
	SenderID  int64
	MessageID int
	Time      time.Time
	Text      string
	Media     []string
}

// Pool maps chat ID -> sender ID -> insertion-ordered records. All access
// goes through the single mutex; Append and Take are the only mutators.
type Pool struct {
	mu        sync.Mutex
	chats     map[int64]map[int64][]Record
	retention time.Duration
	logger    *slog.Logger
}

// New creates an empty pool that retains records for the given window.
func New(retention time.Duration, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		chats:     make(map[int64]map[int64][]Record),
		retention: retention,
		logger:    logger.With("component", "pool"),
	}
}

// Append adds a record and opportunistically evicts stale records from the
// same chat. There is no background sweep: a chat with no traffic holds its
// last records until its next append, which also bounds growth by activity.
func (p *Pool) Append(rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	senders, ok := p.chats[rec.ChatID]
	if !ok {
		senders = make(map[int64][]Record)
		p.chats[rec.ChatID] = senders
	}
	senders[rec.SenderID] = append(senders[rec.SenderID], rec)

	p.evictLocked(rec.ChatID, time.Now())
}

// Take atomically removes and returns the sender's entire buffered history.
// A missing chat or sender yields an empty slice: that is the expected
// outcome when two enforcement flows race for the same sender, not an error.
func (p *Pool) Take(chatID, senderID int64) []Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	senders, ok := p.chats[chatID]
	if !ok {
		return nil
	}
	recs := senders[senderID]
	delete(senders, senderID)
	if len(senders) == 0 {
		delete(p.chats, chatID)
	}
	return recs
}

// Peek returns a copy of the sender's current records for diagnostics only.
// Enforcement must use Take; a peek-then-delete would race with ingestion.
func (p *Pool) Peek(chatID, senderID int64) []Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	senders, ok := p.chats[chatID]
	if !ok {
		return nil
	}
	recs := senders[senderID]
	out := make([]Record, len(recs))
	copy(out, recs)
	return out
}

// Len reports the total number of buffered records across all chats.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, senders := range p.chats {
		for _, recs := range senders {
			n += len(recs)
		}
	}
	return n
}

// Chats reports the number of chats currently holding records.
func (p *Pool) Chats() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chats)
}

// evictLocked drops records older than the retention window from one chat,
// then prunes empty sender buckets and, finally, the chat bucket itself.
// Caller must hold p.mu.
func (p *Pool) evictLocked(chatID int64, now time.Time) {
	senders, ok := p.chats[chatID]
	if !ok {
		return
	}
	cutoff := now.Add(-p.retention)

	for senderID, recs := range senders {
		// Records are appended in arrival order, so the survivors are a
		// suffix of the slice.
		idx := 0
		for idx < len(recs) && !recs[idx].Time.After(cutoff) {
			idx++
		}
		if idx == 0 {
			continue
		}
		if idx == len(recs) {
			delete(senders, senderID)
			continue
		}
		kept := make([]Record, len(recs)-idx)
		copy(kept, recs[idx:])
		senders[senderID] = kept
	}

	if len(senders) == 0 {
		delete(p.chats, chatID)
	}
}
