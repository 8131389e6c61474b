package detect

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Classifier is the external judgment boundary: a map of sender key to
// content in, the subset of keys judged to be spam out. Implementations must
// tolerate 1..N senders per request.
type Classifier interface {
	ClassifySenders(ctx context.Context, texts map[string]string, media map[string][]string) ([]string, error)
}

// Enforcer acts on one confirmed sender. Implementations contain their own
// errors; Enforce never reports failure to the scheduler.
type Enforcer interface {
	Enforce(ctx context.Context, chatID, senderID int64, senderName string)
}

// Config bounds the scheduler's batching and its pressure on the classifier.
type Config struct {
	BatchSize       int           // flush when a chat's batch reaches this many tasks
	BatchWait       time.Duration // flush when a batch is older than this
	MaxBatchText    int           // flush when cumulative text exceeds this
	RateLimit       time.Duration // global minimum spacing between classifier calls
	MaxConcurrent   int64         // concurrent classification dispatches
	QueueSize       int           // inbound task channel capacity
	ClassifyTimeout time.Duration
}

const (
	drainWait = 3 * time.Second
	purgeTTL  = 2 * time.Minute
)

// Scheduler is the single-owner batching loop. Ingestion hands tasks over
// through a bounded channel and never blocks on classification; all batch
// state is touched only by the Run goroutine.
type Scheduler struct {
	cfg        Config
	classifier Classifier
	enforcer   Enforcer
	logger     *slog.Logger

	tasks   chan Task
	batches map[int64]*batch

	limiter *rate.Limiter
	sem     *semaphore.Weighted
	guard   *Guard

	purgeMu sync.Mutex
	purged  map[Pair]time.Time

	dispatches sync.WaitGroup
}

// NewScheduler wires a scheduler around the given classifier and enforcer.
func NewScheduler(cfg Config, classifier Classifier, enforcer Enforcer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Every(cfg.RateLimit)
	}
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 1
	}
	return &Scheduler{
		cfg:        cfg,
		classifier: classifier,
		enforcer:   enforcer,
		logger:     logger.With("component", "scheduler"),
		tasks:      make(chan Task, cfg.QueueSize),
		batches:    make(map[int64]*batch),
		limiter:    rate.NewLimiter(limit, 1),
		sem:        semaphore.NewWeighted(maxConc),
		guard:      NewGuard(),
		purged:     make(map[Pair]time.Time),
	}
}

// Enqueue hands a task to the scheduler without blocking. When the queue is
// at capacity the task is dropped with a warning; ingestion callers are never
// backpressured by a slow classifier.
func (s *Scheduler) Enqueue(t Task) bool {
	select {
	case s.tasks <- t:
		return true
	default:
		s.logger.Warn("Detection queue full, dropping task",
			"chat_id", t.ChatID, "sender_id", t.SenderID, "queue_size", s.cfg.QueueSize)
		return false
	}
}

// PurgeSender marks the sender's currently queued tasks as stale so they are
// skipped when their batch flushes. The dispatch path calls it before
// enforcement; command handlers call it when a sender is allowlisted while
// tasks are still queued.
func (s *Scheduler) PurgeSender(chatID, senderID int64) {
	s.purgeMu.Lock()
	defer s.purgeMu.Unlock()
	s.purged[Pair{ChatID: chatID, SenderID: senderID}] = time.Now()
}

// QueueLen reports the number of tasks waiting in the inbound channel.
func (s *Scheduler) QueueLen() int { return len(s.tasks) }

// InFlight reports the number of (chat, sender) pairs currently being
// classified or enforced.
func (s *Scheduler) InFlight() int { return s.guard.Len() }

// Run consumes the task channel until the context is cancelled, grouping
// tasks into per-chat batches and flushing any batch that trips a size, age,
// or text-length threshold. On shutdown it drains already-queued tasks within
// a bounded wait and lets in-flight dispatches finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Batch scheduler started",
		"batch_size", s.cfg.BatchSize, "batch_wait", s.cfg.BatchWait,
		"rate_limit", s.cfg.RateLimit, "max_concurrent", s.cfg.MaxConcurrent)

	timer := time.NewTimer(s.cfg.BatchWait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			s.logger.Info("Batch scheduler stopped")
			return nil
		case t := <-s.tasks:
			s.buffer(t)
		case <-timer.C:
		}

		s.flushDue(ctx, false)
		s.prunePurged()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.cfg.BatchWait)
	}
}

func (s *Scheduler) buffer(t Task) {
	b, ok := s.batches[t.ChatID]
	if !ok {
		b = &batch{}
		s.batches[t.ChatID] = b
	}
	b.add(t)
}

// flushDue evaluates every open batch against the three flush conditions and
// dispatches the ones that are due. Any single condition suffices; a lone
// task whose text already exceeds the budget flushes as a batch of one
// rather than being held forever.
func (s *Scheduler) flushDue(ctx context.Context, force bool) {
	now := time.Now()
	for chatID, b := range s.batches {
		due := force ||
			len(b.tasks) >= s.cfg.BatchSize ||
			now.Sub(b.started) > s.cfg.BatchWait ||
			b.textLen > s.cfg.MaxBatchText
		if !due {
			continue
		}

		delete(s.batches, chatID)
		tasks := s.dropPurged(b.tasks)
		if len(tasks) == 0 {
			continue
		}

		claimed := s.guard.Acquire(uniquePairs(tasks))
		if len(claimed) == 0 {
			s.logger.Debug("All senders in batch already in flight, skipping", "chat_id", chatID)
			continue
		}
		tasks = filterClaimed(tasks, claimed)

		// Global spacing toward the classifier, across all chats. The loop
		// itself sleeps out the remainder, which is the intended
		// backpressure when many chats are hot at once.
		if err := s.limiter.Wait(ctx); err != nil {
			s.guard.Release(claimed)
			return
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.guard.Release(claimed)
			return
		}

		s.dispatches.Add(1)
		go s.dispatch(ctx, chatID, tasks, claimed)
	}
}

// dispatch runs one classification call and enforcement for its confirmed
// senders. The guard entries are released on every exit path once
// enforcement has finished.
func (s *Scheduler) dispatch(ctx context.Context, chatID int64, tasks []Task, claimed []Pair) {
	defer s.dispatches.Done()
	defer s.sem.Release(1)
	defer s.guard.Release(claimed)

	texts := make(map[string]string)
	media := make(map[string][]string)
	names := make(map[string]string)
	for _, t := range tasks {
		key := strconv.FormatInt(t.SenderID, 10)
		if prev, ok := texts[key]; ok {
			texts[key] = prev + "\n" + t.Text
		} else {
			texts[key] = t.Text
		}
		media[key] = append(media[key], t.Media...)
		names[key] = t.SenderName
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ClassifyTimeout)
	defer cancel()

	confirmed, err := s.classifier.ClassifySenders(cctx, texts, media)
	if err != nil {
		// Timeouts and malformed responses degrade to an empty verdict;
		// the loop must survive any classifier failure.
		s.logger.WarnContext(ctx, "Classification failed, treating as no offenders",
			"chat_id", chatID, "senders", len(texts), "error", err)
		return
	}
	if len(confirmed) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, key := range confirmed {
		senderID, perr := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if perr != nil {
			s.logger.WarnContext(ctx, "Classifier returned unknown sender key, skipping",
				"chat_id", chatID, "key", key)
			continue
		}
		if _, known := texts[strconv.FormatInt(senderID, 10)]; !known {
			s.logger.WarnContext(ctx, "Classifier returned sender outside the batch, skipping",
				"chat_id", chatID, "sender_id", senderID)
			continue
		}
		wg.Add(1)
		go func(id int64, name string) {
			defer wg.Done()
			// Tombstone before enforcement so tasks already queued for
			// this sender are not classified a second time while their
			// messages are being deleted.
			s.PurgeSender(chatID, id)
			s.enforcer.Enforce(ctx, chatID, id, name)
		}(senderID, names[strconv.FormatInt(senderID, 10)])
	}
	wg.Wait()
}

// drain empties the inbound channel into batches and force-flushes everything
// with a short deadline, then waits briefly for in-flight dispatches.
func (s *Scheduler) drain() {
	for {
		select {
		case t := <-s.tasks:
			s.buffer(t)
			continue
		default:
		}
		break
	}

	dctx, cancel := context.WithTimeout(context.Background(), drainWait)
	defer cancel()
	s.flushDue(dctx, true)

	done := make(chan struct{})
	go func() {
		s.dispatches.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-dctx.Done():
		s.logger.Warn("Shutdown drain timed out with dispatches still in flight")
	}
}

// dropPurged removes tasks tombstoned by PurgeSender. A task newer than its
// tombstone clears the tombstone: fresh traffic after an enforcement is
// eligible for detection again.
func (s *Scheduler) dropPurged(tasks []Task) []Task {
	s.purgeMu.Lock()
	defer s.purgeMu.Unlock()
	if len(s.purged) == 0 {
		return tasks
	}

	kept := tasks[:0]
	for _, t := range tasks {
		purgedAt, ok := s.purged[t.Pair()]
		if ok && !t.Time.After(purgedAt) {
			continue
		}
		if ok {
			delete(s.purged, t.Pair())
		}
		kept = append(kept, t)
	}
	return kept
}

func (s *Scheduler) prunePurged() {
	s.purgeMu.Lock()
	defer s.purgeMu.Unlock()
	cutoff := time.Now().Add(-purgeTTL)
	for p, at := range s.purged {
		if at.Before(cutoff) {
			delete(s.purged, p)
		}
	}
}

func uniquePairs(tasks []Task) []Pair {
	seen := make(map[Pair]struct{}, len(tasks))
	pairs := make([]Pair, 0, len(tasks))
	for _, t := range tasks {
		p := t.Pair()
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].SenderID < pairs[j].SenderID })
	return pairs
}

func filterClaimed(tasks []Task, claimed []Pair) []Task {
	allowed := make(map[Pair]struct{}, len(claimed))
	for _, p := range claimed {
		allowed[p] = struct{}{}
	}
	kept := tasks[:0]
	for _, t := range tasks {
		if _, ok := allowed[t.Pair()]; ok {
			kept = append(kept, t)
		}
	}
	return kept
}
