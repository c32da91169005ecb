package timerwheel

import (
	"sync"
	"testing"
	"time"
)

// fakeSource is an in-memory Source used to test Wheel's ordering logic
// without depending on OS timer facilities.
type fakeSource struct {
	mu      sync.Mutex
	armedAt time.Time
	closed  bool
}

func (f *fakeSource) Fd() int { return -1 }
func (f *fakeSource) Arm(at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armedAt = at
	return nil
}
func (f *fakeSource) Drain() error { return nil }
func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func TestTimerMonotonicity(t *testing.T) {
	w := New(&fakeSource{}, nil)
	h1 := w.Add(50*time.Millisecond, func() {})
	w.Add(200*time.Millisecond, func() {})

	next, _, ok := w.Next()
	if !ok {
		t.Fatal("expected a pending timer")
	}
	if next != h1 {
		t.Fatalf("expected T1 to be next-to-expire, got a different handle")
	}

	w.Remove(h1)
	_, _, ok = w.Next()
	if !ok {
		t.Fatal("expected T2 to remain pending")
	}
}

func TestRefreshExtendsFireTime(t *testing.T) {
	w := New(&fakeSource{}, nil)
	h := w.Add(50*time.Millisecond, func() {})
	_, firstExpiry, _ := w.Next()

	time.Sleep(5 * time.Millisecond)
	h2, ok := w.Refresh(h, 50*time.Millisecond)
	if !ok {
		t.Fatal("expected refresh to succeed")
	}
	if h2 == h {
		t.Fatal("expected refresh to yield a new handle")
	}
	_, secondExpiry, _ := w.Next()
	if !secondExpiry.After(firstExpiry) {
		t.Fatalf("expected refreshed expiry %v to be after original %v", secondExpiry, firstExpiry)
	}
}

func TestFirePrunesAndRunsExpiredCallbacksInOrder(t *testing.T) {
	w := New(&fakeSource{}, nil)
	var mu sync.Mutex
	var order []int

	w.Add(1*time.Millisecond, func() { mu.Lock(); order = append(order, 1); mu.Unlock() })
	w.Add(2*time.Millisecond, func() { mu.Lock(); order = append(order, 2); mu.Unlock() })
	w.Add(100*time.Millisecond, func() { mu.Lock(); order = append(order, 3); mu.Unlock() })

	time.Sleep(10 * time.Millisecond)
	w.Fire()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected [1 2] to have fired in order, got %v", order)
	}
	if w.Count() != 1 {
		t.Fatalf("expected 1 timer still pending, got %d", w.Count())
	}
}

func TestRemoveUnknownHandleIsFalse(t *testing.T) {
	w := New(&fakeSource{}, nil)
	h := w.Add(time.Second, func() {})
	w.Remove(h)
	if w.Remove(h) {
		t.Fatal("expected removing an already-removed handle to report false")
	}
}
