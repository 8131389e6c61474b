package detect

import (
	"sync"
	"testing"
)

func TestGuardAcquireSkipsBusyPairs(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	a := Pair{ChatID: 1, SenderID: 10}
	b := Pair{ChatID: 1, SenderID: 20}

	claimed := g.Acquire([]Pair{a, b})
	if len(claimed) != 2 {
		t.Fatalf("first Acquire claimed %d pairs, want 2", len(claimed))
	}

	again := g.Acquire([]Pair{a, b})
	if len(again) != 0 {
		t.Errorf("second Acquire claimed %v, want none", again)
	}

	g.Release([]Pair{a})
	third := g.Acquire([]Pair{a, b})
	if len(third) != 1 || third[0] != a {
		t.Errorf("Acquire after partial release claimed %v, want only %v", third, a)
	}
}

func TestGuardReleaseClearsHeld(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	p := Pair{ChatID: 5, SenderID: 7}

	g.Acquire([]Pair{p})
	if !g.Held(p) {
		t.Fatal("pair not held after Acquire")
	}
	g.Release([]Pair{p})
	if g.Held(p) {
		t.Error("pair still held after Release")
	}
	if g.Len() != 0 {
		t.Errorf("Len() = %d, want 0", g.Len())
	}
}

func TestGuardConcurrentAcquireIsExclusive(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	p := Pair{ChatID: 1, SenderID: 1}

	var wg sync.WaitGroup
	wins := make(chan int, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if len(g.Acquire([]Pair{p})) == 1 {
				wins <- n
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("%d goroutines claimed the same pair, want exactly 1", count)
	}
}
