package enforce

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/groupwarden/groupwarden/internal/pool"
)

type action struct {
	kind   string
	chatID int64
	target int64 // user ID for mute, message ID for delete
	text   string
}

type fakeActions struct {
	mu      sync.Mutex
	log     []action
	muteErr error
	sendErr error
	title   string
}

func (f *fakeActions) Mute(_ context.Context, chatID, userID int64, _ time.Duration) error {
	f.record(action{kind: "mute", chatID: chatID, target: userID})
	return f.muteErr
}

func (f *fakeActions) Delete(_ context.Context, chatID int64, messageID int) error {
	f.record(action{kind: "delete", chatID: chatID, target: int64(messageID)})
	return nil
}

func (f *fakeActions) Send(_ context.Context, chatID int64, text string) error {
	f.record(action{kind: "send", chatID: chatID, text: text})
	return f.sendErr
}

func (f *fakeActions) Title(_ context.Context, _ int64) (string, error) {
	if f.title == "" {
		return "", errors.New("no title")
	}
	return f.title, nil
}

func (f *fakeActions) record(a action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, a)
}

func (f *fakeActions) byKind(kind string) []action {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []action
	for _, a := range f.log {
		if a.kind == kind {
			out = append(out, a)
		}
	}
	return out
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls int
	last  string
}

func (f *fakeRecorder) RecordIncident(_ context.Context, _, _ int64, _ string, _ int, evidence string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = evidence
	return nil
}

func testEnforcer(actions *fakeActions, p *pool.Pool, rec IncidentRecorder) *Enforcer {
	return New(Config{
		MuteDuration:   time.Hour,
		DeleteInterval: 0,
		Notice:         "Removed {count} messages from {name}.",
		AdminChatID:    -100,
	}, actions, p, rec, nil)
}

func seedPool(p *pool.Pool, chatID, senderID int64, n int) {
	now := time.Now()
	for i := 1; i <= n; i++ {
		p.Append(pool.Record{
			ChatID: chatID, SenderID: senderID, MessageID: i,
			Time: now, Text: "spam message",
		})
	}
}

func TestEnforceRunsFullSequence(t *testing.T) {
	t.Parallel()

	actions := &fakeActions{title: "Test Group"}
	rec := &fakeRecorder{}
	p := pool.New(5*time.Minute, nil)
	seedPool(p, 1, 10, 3)

	testEnforcer(actions, p, rec).Enforce(context.Background(), 1, 10, "mallory")

	if mutes := actions.byKind("mute"); len(mutes) != 1 || mutes[0].target != 10 {
		t.Errorf("mutes = %+v, want one mute of sender 10", mutes)
	}
	if deletes := actions.byKind("delete"); len(deletes) != 3 {
		t.Errorf("deleted %d messages, want 3", len(deletes))
	}

	sends := actions.byKind("send")
	if len(sends) != 2 {
		t.Fatalf("sent %d messages, want evidence + notice", len(sends))
	}
	evidence, notice := sends[0], sends[1]
	if evidence.chatID != -100 {
		t.Errorf("evidence sent to chat %d, want admin chat -100", evidence.chatID)
	}
	for _, want := range []string{"Test Group", "mallory (10)", "Messages: 3", "spam message"} {
		if !strings.Contains(evidence.text, want) {
			t.Errorf("evidence missing %q:\n%s", want, evidence.text)
		}
	}
	if notice.chatID != 1 || notice.text != "Removed 3 messages from mallory." {
		t.Errorf("notice = %+v, want templated notice in chat 1", notice)
	}

	if rec.calls != 1 {
		t.Errorf("recorded %d incidents, want 1", rec.calls)
	}
	if got := p.Len(); got != 0 {
		t.Errorf("pool still holds %d records after enforcement", got)
	}
}

func TestEnforceAbortsWhenSnapshotEmpty(t *testing.T) {
	t.Parallel()

	actions := &fakeActions{}
	p := pool.New(5*time.Minute, nil)

	testEnforcer(actions, p, nil).Enforce(context.Background(), 1, 10, "ghost")

	if len(actions.log) != 0 {
		t.Errorf("actions taken for sender with no buffered messages: %+v", actions.log)
	}
}

func TestEnforceOnlyFirstTakerActs(t *testing.T) {
	t.Parallel()

	actions := &fakeActions{}
	p := pool.New(5*time.Minute, nil)
	seedPool(p, 1, 10, 2)
	e := testEnforcer(actions, p, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Enforce(context.Background(), 1, 10, "mallory")
		}()
	}
	wg.Wait()

	if mutes := actions.byKind("mute"); len(mutes) != 1 {
		t.Errorf("%d concurrent enforcements acted, want exactly 1", len(mutes))
	}
	if deletes := actions.byKind("delete"); len(deletes) != 2 {
		t.Errorf("deleted %d messages, want 2", len(deletes))
	}
}

func TestEnforceContinuesPastMuteFailure(t *testing.T) {
	t.Parallel()

	actions := &fakeActions{muteErr: errors.New("not an admin")}
	p := pool.New(5*time.Minute, nil)
	seedPool(p, 1, 10, 1)

	testEnforcer(actions, p, nil).Enforce(context.Background(), 1, 10, "mallory")

	if deletes := actions.byKind("delete"); len(deletes) != 1 {
		t.Errorf("deletion skipped after mute failure, deletes = %+v", deletes)
	}
	if sends := actions.byKind("send"); len(sends) != 2 {
		t.Errorf("sent %d messages after mute failure, want 2", len(sends))
	}
}

func TestEnforceWithoutAdminChatSkipsEvidence(t *testing.T) {
	t.Parallel()

	actions := &fakeActions{}
	p := pool.New(5*time.Minute, nil)
	seedPool(p, 1, 10, 1)

	e := New(Config{MuteDuration: time.Hour, Notice: "bye {name}"}, actions, p, nil, nil)
	e.Enforce(context.Background(), 1, 10, "mallory")

	sends := actions.byKind("send")
	if len(sends) != 1 || sends[0].chatID != 1 {
		t.Errorf("sends = %+v, want only the in-chat notice", sends)
	}
}

func TestEvidenceFallsBackToChatIDAndMediaText(t *testing.T) {
	t.Parallel()

	actions := &fakeActions{} // Title returns an error
	p := pool.New(5*time.Minute, nil)
	p.Append(pool.Record{
		ChatID: 42, SenderID: 10, MessageID: 1, Time: time.Now(),
		Media: []string{"QR code with payout promise"},
	})

	testEnforcer(actions, p, nil).Enforce(context.Background(), 42, 10, "mallory")

	sends := actions.byKind("send")
	if len(sends) == 0 {
		t.Fatal("no evidence sent")
	}
	if !strings.Contains(sends[0].text, "chat 42") {
		t.Errorf("evidence header missing chat ID fallback:\n%s", sends[0].text)
	}
	if !strings.Contains(sends[0].text, "[image] QR code with payout promise") {
		t.Errorf("evidence missing media description:\n%s", sends[0].text)
	}
}

func TestEvidenceTruncatesAtBudget(t *testing.T) {
	t.Parallel()

	actions := &fakeActions{}
	p := pool.New(5*time.Minute, nil)
	long := strings.Repeat("x", 500)
	now := time.Now()
	for i := 1; i <= 20; i++ {
		p.Append(pool.Record{ChatID: 1, SenderID: 10, MessageID: i, Time: now, Text: long})
	}

	testEnforcer(actions, p, nil).Enforce(context.Background(), 1, 10, "mallory")

	sends := actions.byKind("send")
	if len(sends) == 0 {
		t.Fatal("no evidence sent")
	}
	if len(sends[0].text) > 4096 {
		t.Errorf("evidence length %d exceeds message limit", len(sends[0].text))
	}
	if !strings.Contains(sends[0].text, "truncated") {
		t.Error("evidence missing truncation marker")
	}
}
