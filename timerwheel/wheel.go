// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package timerwheel implements an ordered set of single-shot timers keyed
// on absolute expiry, backed by one kernel timer descriptor (or equivalent
// monotonic timer source) armed to the earliest pending expiry.
package timerwheel

import (
	"container/heap"
	"sync"
	"time"
)

// Source is the kernel (or kernel-equivalent) timer descriptor a Wheel
// arms to its earliest pending expiry. It is registered by the caller with
// a readiness multiplexer exactly like any other connection's descriptor;
// when the descriptor becomes readable, the caller invokes Wheel.Fire.
type Source interface {
	// Fd is the descriptor the reactor registers for edge-triggered read
	// readiness.
	Fd() int
	// Arm schedules the next wakeup at the given absolute time. A zero
	// Time disarms the source.
	Arm(at time.Time) error
	// Drain consumes the readiness signal (e.g. reading and discarding the
	// timerfd's 8-byte expiration counter) so the descriptor stops being
	// reported ready.
	Drain() error
	// Close releases the source's own descriptor.
	Close() error
}

// Handle identifies one single-shot timer. It is a stable, arena-style
// opaque value — never a raw pointer — so that Refresh/Remove remain sound
// no matter how the wheel's internal storage is reallocated.
type Handle struct {
	id uint64
}

// Valid reports whether h refers to an actual insertion (the zero Handle
// never does).
func (h Handle) Valid() bool { return h.id != 0 }

type timerEntry struct {
	id       uint64
	expireAt time.Time
	callback func()
	heapIdx  int
}

type entryHeap []*timerEntry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].expireAt.Equal(h[j].expireAt) {
		return h[i].id < h[j].id
	}
	return h[i].expireAt.Before(h[j].expireAt)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*timerEntry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}

// Wheel is the ordered set of pending single-shot timers. Refreshing or
// adding a timer while the reactor is inside a handler is safe: the mutex
// here serializes against both the reactor's own add/remove-on-lifecycle
// path and the kernel-timer firing path (§4.6, §9 "two-mutex composition").
type Wheel struct {
	mu      sync.Mutex
	entries entryHeap
	byID    map[uint64]*timerEntry
	nextID  uint64
	source  Source
	armed   time.Time

	onArmError func(error)
}

// New creates a Wheel driven by source. onArmError, if non-nil, is invoked
// whenever (re)arming the kernel timer fails (§7 "Timer-descriptor arm
// failure: logged as error").
func New(source Source, onArmError func(error)) *Wheel {
	return &Wheel{
		byID:       make(map[uint64]*timerEntry),
		source:     source,
		onArmError: onArmError,
	}
}

// Fd is the descriptor backing this wheel's kernel timer source.
func (w *Wheel) Fd() int { return w.source.Fd() }

// Add installs a new single-shot timer firing expireFromNow from now.
func (w *Wheel) Add(expireFromNow time.Duration, callback func()) Handle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addLocked(expireFromNow, callback)
}

func (w *Wheel) addLocked(expireFromNow time.Duration, callback func()) Handle {
	w.nextID++
	e := &timerEntry{
		id:       w.nextID,
		expireAt: time.Now().Add(expireFromNow),
		callback: callback,
	}
	heap.Push(&w.entries, e)
	w.byID[e.id] = e
	w.rearmLocked()
	return Handle{id: e.id}
}

// Remove cancels a pending timer. Returns false if it was already fired or
// removed.
func (w *Wheel) Remove(h Handle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.removeLocked(h)
}

func (w *Wheel) removeLocked(h Handle) bool {
	e, ok := w.byID[h.id]
	if !ok {
		return false
	}
	heap.Remove(&w.entries, e.heapIdx)
	delete(w.byID, h.id)
	w.rearmLocked()
	return true
}

// Refresh is remove-then-insert with a new expiry: it yields a new Handle,
// and the caller must replace any handle it kept (§4.6 "Refresh
// semantics"). Returns the zero Handle and false if h was not pending.
func (w *Wheel) Refresh(h Handle, expireFromNow time.Duration) (Handle, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.byID[h.id]
	if !ok {
		return Handle{}, false
	}
	callback := e.callback
	w.removeLocked(h)
	return w.addLocked(expireFromNow, callback), true
}

// Next reports the earliest pending timer's handle and expiry, for tests
// asserting timer-ordering invariants.
func (w *Wheel) Next() (Handle, time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return Handle{}, time.Time{}, false
	}
	e := w.entries[0]
	return Handle{id: e.id}, e.expireAt, true
}

// Count reports the number of pending timers.
func (w *Wheel) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// rearmLocked re-arms the kernel timer to the new earliest expiry, or
// disarms it when the wheel is empty. Must be called with mu held.
func (w *Wheel) rearmLocked() {
	var next time.Time
	if len(w.entries) > 0 {
		next = w.entries[0].expireAt
	}
	if next.Equal(w.armed) {
		return
	}
	w.armed = next
	if err := w.source.Arm(next); err != nil && w.onArmError != nil {
		w.onArmError(err)
	}
}

// Fire is invoked by the reactor when the wheel's source descriptor
// becomes readable. It drains the source, prunes and runs every entry
// whose expiry has passed, then re-arms for the new earliest expiry.
func (w *Wheel) Fire() {
	if err := w.source.Drain(); err != nil && w.onArmError != nil {
		w.onArmError(err)
	}
	expired := w.pruneExpired()
	for _, e := range expired {
		e.callback()
	}
}

func (w *Wheel) pruneExpired() []*timerEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	var expired []*timerEntry
	for len(w.entries) > 0 && !w.entries[0].expireAt.After(now) {
		e := heap.Pop(&w.entries).(*timerEntry)
		delete(w.byID, e.id)
		expired = append(expired, e)
	}
	w.rearmLocked()
	return expired
}

// Close releases the wheel's kernel timer source.
func (w *Wheel) Close() error {
	return w.source.Close()
}
