// Package detect implements the batching and scheduling pipeline that decides
// when buffered chat messages are sent to the classifier and which confirmed
// senders get enforced.
package detect

import "time"

// Task is one ingested message awaiting classification. Tasks are created at
// ingestion, buffered into a per-chat batch, and consumed exactly once by a
// flush; they are never mutated.
type Task struct {
	ChatID     int64
	SenderID   int64
	SenderName string
	MessageID  int
	Time       time.Time
	Text       string
	Media      []string
}

// Pair returns the enforcement-exclusion key for the task.
func (t Task) Pair() Pair {
	return Pair{ChatID: t.ChatID, SenderID: t.SenderID}
}

// batch accumulates tasks for a single chat until a flush condition fires.
type batch struct {
	tasks   []Task
	started time.Time
	textLen int
}

func (b *batch) add(t Task) {
	if len(b.tasks) == 0 {
		b.started = time.Now()
	}
	b.tasks = append(b.tasks, t)
	b.textLen += len(t.Text)
}
