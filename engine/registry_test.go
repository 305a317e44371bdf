package engine

import (
	"errors"
	"sync"
	"testing"
)

func TestRegistry_StartRejectsInvalidBasePrice(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Start("room-1", "p1", "Alice", 0); !errors.Is(err, ErrInvalidBasePrice) {
		t.Fatalf("expected ErrInvalidBasePrice, got %v", err)
	}
}

func TestRegistry_ConcurrentStartsOneWinner(t *testing.T) {
	r := NewRegistry()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Start("room-1", "p1", "Alice", 500)
		}(i)
	}
	wg.Wait()

	var won, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrAuctionActive):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || rejected != attempts-1 {
		t.Fatalf("won=%d rejected=%d, want exactly one winner", won, rejected)
	}
}

func TestRegistry_RoomsAreIndependent(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Start("room-1", "p1", "Alice", 500); err != nil {
		t.Fatalf("room-1: %v", err)
	}
	if _, err := r.Start("room-2", "p2", "Bob", 500); err != nil {
		t.Fatalf("room-2: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}

	r.Remove("room-1")
	if _, ok := r.Get("room-1"); ok {
		t.Errorf("room-1 still present after remove")
	}
	if _, ok := r.Get("room-2"); !ok {
		t.Errorf("room-2 removed alongside room-1")
	}
}
