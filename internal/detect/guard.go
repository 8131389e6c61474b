package detect

import "sync"

// Pair identifies a sender within a chat, the unit of enforcement exclusion.
type Pair struct {
	ChatID   int64
	SenderID int64
}

// Guard tracks (chat, sender) pairs currently undergoing classification and
// enforcement. A pair held here is skipped by later batches until released,
// so two overlapping batches can never both act on the same sender.
type Guard struct {
	mu       sync.Mutex
	inflight map[Pair]struct{}
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{inflight: make(map[Pair]struct{})}
}

// Acquire claims every pair not already in flight and reports which ones were
// claimed. Pairs already held by another flow are omitted from the result and
// must not be classified or enforced by the caller.
func (g *Guard) Acquire(pairs []Pair) []Pair {
	g.mu.Lock()
	defer g.mu.Unlock()

	claimed := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		if _, busy := g.inflight[p]; busy {
			continue
		}
		g.inflight[p] = struct{}{}
		claimed = append(claimed, p)
	}
	return claimed
}

// Release frees previously claimed pairs. Callers must release on every exit
// path; a leaked entry would suppress detection for that sender forever.
func (g *Guard) Release(pairs []Pair) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range pairs {
		delete(g.inflight, p)
	}
}

// Held reports whether the pair is currently in flight.
func (g *Guard) Held(p Pair) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inflight[p]
	return ok
}

// Len reports the number of in-flight pairs, for diagnostics.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}
