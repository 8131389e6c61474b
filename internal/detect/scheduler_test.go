package detect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClassifier struct {
	mu      sync.Mutex
	calls   []map[string]string
	verdict []string
	err     error

	called  chan struct{}
	release chan struct{}
}

func (f *fakeClassifier) ClassifySenders(ctx context.Context, texts map[string]string, _ map[string][]string) ([]string, error) {
	f.mu.Lock()
	snapshot := make(map[string]string, len(texts))
	for k, v := range texts {
		snapshot[k] = v
	}
	f.calls = append(f.calls, snapshot)
	f.mu.Unlock()

	if f.called != nil {
		f.called <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.verdict, f.err
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeEnforcer struct {
	mu       sync.Mutex
	enforced []Pair
	names    []string
	done     chan struct{}
}

func (f *fakeEnforcer) Enforce(_ context.Context, chatID, senderID int64, name string) {
	f.mu.Lock()
	f.enforced = append(f.enforced, Pair{ChatID: chatID, SenderID: senderID})
	f.names = append(f.names, name)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
}

func testConfig() Config {
	return Config{
		BatchSize:       10,
		BatchWait:       20 * time.Millisecond,
		MaxBatchText:    1 << 20,
		RateLimit:       0,
		MaxConcurrent:   4,
		QueueSize:       64,
		ClassifyTimeout: time.Second,
	}
}

func startScheduler(t *testing.T, s *Scheduler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Error("scheduler did not stop")
		}
	})
	return cancel
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestFlushOnBatchSize(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{}
	cfg := testConfig()
	cfg.BatchSize = 2
	cfg.BatchWait = time.Hour
	s := NewScheduler(cfg, cls, &fakeEnforcer{}, nil)
	startScheduler(t, s)

	now := time.Now()
	s.Enqueue(Task{ChatID: 1, SenderID: 10, Time: now, Text: "one"})
	time.Sleep(50 * time.Millisecond)
	if cls.callCount() != 0 {
		t.Fatal("classifier called before the batch filled")
	}
	s.Enqueue(Task{ChatID: 1, SenderID: 11, Time: now, Text: "two"})

	waitFor(t, func() bool { return cls.callCount() == 1 }, "classifier never called after batch filled")

	cls.mu.Lock()
	defer cls.mu.Unlock()
	got := cls.calls[0]
	if got["10"] != "one" || got["11"] != "two" {
		t.Errorf("classifier received %v, want texts keyed by sender ID", got)
	}
}

func TestFlushOnBatchWait(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{}
	s := NewScheduler(testConfig(), cls, &fakeEnforcer{}, nil)
	startScheduler(t, s)

	s.Enqueue(Task{ChatID: 1, SenderID: 10, Time: time.Now(), Text: "hello"})

	waitFor(t, func() bool { return cls.callCount() == 1 }, "batch never flushed on age")
}

func TestFlushOnTextBudget(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{}
	cfg := testConfig()
	cfg.BatchWait = time.Hour
	cfg.MaxBatchText = 8
	s := NewScheduler(cfg, cls, &fakeEnforcer{}, nil)
	startScheduler(t, s)

	s.Enqueue(Task{ChatID: 1, SenderID: 10, Time: time.Now(), Text: "this text is longer than the budget"})

	waitFor(t, func() bool { return cls.callCount() == 1 }, "oversized batch never flushed")
}

func TestConfirmedSendersAreEnforced(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{verdict: []string{"10"}}
	enf := &fakeEnforcer{done: make(chan struct{}, 4)}
	s := NewScheduler(testConfig(), cls, enf, nil)
	startScheduler(t, s)

	now := time.Now()
	s.Enqueue(Task{ChatID: 7, SenderID: 10, SenderName: "mallory", Time: now, Text: "buy now"})
	s.Enqueue(Task{ChatID: 7, SenderID: 20, SenderName: "alice", Time: now, Text: "hi"})

	select {
	case <-enf.done:
	case <-time.After(2 * time.Second):
		t.Fatal("enforcer never invoked")
	}

	enf.mu.Lock()
	defer enf.mu.Unlock()
	if len(enf.enforced) != 1 {
		t.Fatalf("enforced %d senders, want 1", len(enf.enforced))
	}
	if enf.enforced[0] != (Pair{ChatID: 7, SenderID: 10}) || enf.names[0] != "mallory" {
		t.Errorf("enforced %v (%q), want chat 7 sender 10 mallory", enf.enforced[0], enf.names[0])
	}
}

func TestClassifierErrorMeansNoEnforcement(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{verdict: []string{"10"}, err: errors.New("upstream down")}
	enf := &fakeEnforcer{}
	s := NewScheduler(testConfig(), cls, enf, nil)
	startScheduler(t, s)

	s.Enqueue(Task{ChatID: 1, SenderID: 10, Time: time.Now(), Text: "x"})
	waitFor(t, func() bool { return cls.callCount() == 1 }, "classifier never called")

	time.Sleep(50 * time.Millisecond)
	enf.mu.Lock()
	defer enf.mu.Unlock()
	if len(enf.enforced) != 0 {
		t.Errorf("enforced %v despite classifier error", enf.enforced)
	}
}

func TestUnknownVerdictKeyIsIgnored(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{verdict: []string{"999", "not-a-number"}}
	enf := &fakeEnforcer{}
	s := NewScheduler(testConfig(), cls, enf, nil)
	startScheduler(t, s)

	s.Enqueue(Task{ChatID: 1, SenderID: 10, Time: time.Now(), Text: "x"})
	waitFor(t, func() bool { return cls.callCount() == 1 }, "classifier never called")

	time.Sleep(50 * time.Millisecond)
	enf.mu.Lock()
	defer enf.mu.Unlock()
	if len(enf.enforced) != 0 {
		t.Errorf("enforced %v for keys outside the batch", enf.enforced)
	}
}

func TestInFlightSenderNotReclassified(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{
		called:  make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	cfg := testConfig()
	cfg.BatchSize = 1
	s := NewScheduler(cfg, cls, &fakeEnforcer{}, nil)
	startScheduler(t, s)

	s.Enqueue(Task{ChatID: 1, SenderID: 10, Time: time.Now(), Text: "first"})
	select {
	case <-cls.called:
	case <-time.After(2 * time.Second):
		t.Fatal("first dispatch never reached the classifier")
	}
	if s.InFlight() != 1 {
		t.Fatalf("InFlight() = %d while dispatch blocked, want 1", s.InFlight())
	}

	// Same pair again while the first dispatch is still holding the guard.
	s.Enqueue(Task{ChatID: 1, SenderID: 10, Time: time.Now(), Text: "second"})
	time.Sleep(100 * time.Millisecond)
	if n := cls.callCount(); n != 1 {
		t.Errorf("classifier called %d times with the pair in flight, want 1", n)
	}

	close(cls.release)
	waitFor(t, func() bool { return s.InFlight() == 0 }, "guard never released after dispatch")
}

func TestPurgeSenderDropsQueuedTasks(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{}
	cfg := testConfig()
	cfg.BatchWait = 50 * time.Millisecond
	s := NewScheduler(cfg, cls, &fakeEnforcer{}, nil)

	s.Enqueue(Task{ChatID: 1, SenderID: 10, Time: time.Now(), Text: "about to be purged"})
	s.PurgeSender(1, 10)
	startScheduler(t, s)

	time.Sleep(200 * time.Millisecond)
	if n := cls.callCount(); n != 0 {
		t.Errorf("classifier called %d times for purged tasks, want 0", n)
	}
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.QueueSize = 1
	s := NewScheduler(cfg, &fakeClassifier{}, &fakeEnforcer{}, nil)

	if !s.Enqueue(Task{ChatID: 1, SenderID: 1, Time: time.Now()}) {
		t.Fatal("first Enqueue rejected with empty queue")
	}
	if s.Enqueue(Task{ChatID: 1, SenderID: 2, Time: time.Now()}) {
		t.Error("second Enqueue accepted past queue capacity")
	}
	if s.QueueLen() != 1 {
		t.Errorf("QueueLen() = %d, want 1", s.QueueLen())
	}
}

func TestShutdownDrainsQueuedTasks(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{}
	cfg := testConfig()
	cfg.BatchWait = time.Hour
	s := NewScheduler(cfg, cls, &fakeEnforcer{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(stopped)
	}()

	s.Enqueue(Task{ChatID: 1, SenderID: 10, Time: time.Now(), Text: "pending"})
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if cls.callCount() != 1 {
		t.Errorf("classifier called %d times, want 1 (drained batch)", cls.callCount())
	}
}

func TestSameSenderTextsAreJoined(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{}
	cfg := testConfig()
	cfg.BatchSize = 3
	cfg.BatchWait = time.Hour
	s := NewScheduler(cfg, cls, &fakeEnforcer{}, nil)
	startScheduler(t, s)

	now := time.Now()
	s.Enqueue(Task{ChatID: 1, SenderID: 10, Time: now, Text: "first"})
	s.Enqueue(Task{ChatID: 1, SenderID: 10, Time: now.Add(time.Second), Text: "second"})
	s.Enqueue(Task{ChatID: 1, SenderID: 10, Time: now.Add(2 * time.Second), Text: "third"})

	waitFor(t, func() bool { return cls.callCount() == 1 }, "classifier never called")

	cls.mu.Lock()
	defer cls.mu.Unlock()
	got := cls.calls[0]
	if len(got) != 1 {
		t.Fatalf("classifier received %d sender entries, want 1", len(got))
	}
	if got["10"] != "first\nsecond\nthird" {
		t.Errorf("sender entry = %q, want newline-joined texts in arrival order", got["10"])
	}
}

type timingClassifier struct {
	mu    sync.Mutex
	times []time.Time
}

func (f *timingClassifier) ClassifySenders(context.Context, map[string]string, map[string][]string) ([]string, error) {
	f.mu.Lock()
	f.times = append(f.times, time.Now())
	f.mu.Unlock()
	return nil, nil
}

func (f *timingClassifier) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.times...)
}

func TestRateLimitSpacesCallsAcrossChats(t *testing.T) {
	t.Parallel()

	cls := &timingClassifier{}
	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.RateLimit = 150 * time.Millisecond
	s := NewScheduler(cfg, cls, &fakeEnforcer{}, nil)
	startScheduler(t, s)

	now := time.Now()
	s.Enqueue(Task{ChatID: 1, SenderID: 10, Time: now, Text: "a"})
	s.Enqueue(Task{ChatID: 2, SenderID: 20, Time: now, Text: "b"})

	waitFor(t, func() bool { return len(cls.callTimes()) == 2 }, "classifier not called twice")

	times := cls.callTimes()
	if gap := times[1].Sub(times[0]); gap < 100*time.Millisecond {
		t.Errorf("calls spaced %v apart, want at least the rate-limit interval", gap)
	}
}
