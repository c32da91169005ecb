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

//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package poller

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const defaultEventsListened = 1024

// kqueuePoller is the BSD/Darwin equivalent of the Linux epoll poller. A
// client connection is registered with EV_CLEAR (edge-triggered); the
// listener is registered without it (level-triggered), matching the
// original's POLL_READ/POLL_ET split across platforms.
type kqueuePoller struct {
	kq int

	mu        sync.Mutex
	identites map[int]Identity
	interest  map[int]Events
}

// New returns the kqueue-backed Poller.
func New() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("poller: kqueue: %w", err)
	}
	return &kqueuePoller{kq: kq, identites: make(map[int]Identity), interest: make(map[int]Events)}, nil
}

func (p *kqueuePoller) changelist(fd int, events Events, flags uint16) []unix.Kevent_t {
	var changes []unix.Kevent_t
	if events.Has(Readable) {
		kflags := flags
		if events.Has(EdgeTriggered) {
			kflags |= unix.EV_CLEAR
		}
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: kflags})
	}
	if events.Has(Writable) {
		kflags := flags
		if events.Has(EdgeTriggered) {
			kflags |= unix.EV_CLEAR
		}
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: kflags})
	}
	return changes
}

func (p *kqueuePoller) Register(fd int, events Events, identity Identity) error {
	p.mu.Lock()
	p.identites[fd] = identity
	p.interest[fd] = events
	p.mu.Unlock()

	changes := p.changelist(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return fmt.Errorf("poller: kevent(add, fd=%d): %w", fd, err)
	}
	return nil
}

func (p *kqueuePoller) Modify(fd int, events Events, identity Identity) error {
	p.mu.Lock()
	old := p.interest[fd]
	p.identites[fd] = identity
	p.interest[fd] = events
	p.mu.Unlock()

	if old.Has(Readable) && !events.Has(Readable) {
		unix.Kevent(p.kq, []unix.Kevent_t{{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE}}, nil, nil)
	}
	if old.Has(Writable) && !events.Has(Writable) {
		unix.Kevent(p.kq, []unix.Kevent_t{{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE}}, nil, nil)
	}
	changes := p.changelist(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return fmt.Errorf("poller: kevent(mod, fd=%d): %w", fd, err)
	}
	return nil
}

func (p *kqueuePoller) Deregister(fd int) error {
	p.mu.Lock()
	delete(p.identites, fd)
	delete(p.interest, fd)
	p.mu.Unlock()

	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// Best-effort: a filter that was never added returns ENOENT, which we
	// ignore since the goal state (not registered) is already achieved.
	unix.Kevent(p.kq, changes, nil, nil)
	return nil
}

func (p *kqueuePoller) Poll(timeoutMs int) ([]Ready, error) {
	events := make([]unix.Kevent_t, defaultEventsListened)
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		d := time.Duration(timeoutMs) * time.Millisecond
		spec := unix.NsecToTimespec(d.Nanoseconds())
		ts = &spec
	}
	n, err := unix.Kevent(p.kq, nil, events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("poller: kevent(wait): %w", err)
	}
	out := make([]Ready, 0, n)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		fd := int(events[i].Ident)
		id, ok := p.identites[fd]
		if !ok {
			continue
		}
		var e Events
		switch events[i].Filter {
		case unix.EVFILT_READ:
			e = Readable
		case unix.EVFILT_WRITE:
			e = Writable
		}
		out = append(out, Ready{Identity: id, Events: e})
	}
	return out, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
