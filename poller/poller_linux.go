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

//go:build linux

package poller

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// defaultEventsListened is the maximum number of events epoll_wait will
// return in one call, matching the original's DEFAULT_EVENTS_LISTENED.
const defaultEventsListened = 1024

type epollPoller struct {
	epfd int

	mu        sync.Mutex
	identites map[int]Identity
}

// New returns the Linux epoll-backed Poller.
func New() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	return &epollPoller{epfd: epfd, identites: make(map[int]Identity)}, nil
}

func toEpollEvents(e Events) uint32 {
	var flags uint32
	if e.Has(Readable) {
		flags |= unix.EPOLLIN
	}
	if e.Has(Writable) {
		flags |= unix.EPOLLOUT
	}
	if e.Has(EdgeTriggered) {
		flags |= unix.EPOLLET
	}
	return flags
}

func fromEpollEvents(flags uint32) Events {
	var e Events
	if flags&unix.EPOLLIN != 0 {
		e |= Readable
	}
	if flags&unix.EPOLLOUT != 0 {
		e |= Writable
	}
	return e
}

func (p *epollPoller) Register(fd int, events Events, identity Identity) error {
	p.mu.Lock()
	p.identites[fd] = identity
	p.mu.Unlock()
	ev := unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl(add, fd=%d): %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Modify(fd int, events Events, identity Identity) error {
	p.mu.Lock()
	p.identites[fd] = identity
	p.mu.Unlock()
	ev := unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl(mod, fd=%d): %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Deregister(fd int) error {
	p.mu.Lock()
	delete(p.identites, fd)
	p.mu.Unlock()
	// ENOENT means fd was never registered, which is already the goal state.
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("poller: epoll_ctl(del, fd=%d): %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Poll(timeoutMs int) ([]Ready, error) {
	events := make([]unix.EpollEvent, defaultEventsListened)
	n, err := unix.EpollWait(p.epfd, events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("poller: epoll_wait: %w", err)
	}
	out := make([]Ready, 0, n)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		id, ok := p.identites[fd]
		if !ok {
			continue
		}
		out = append(out, Ready{Identity: id, Events: fromEpollEvents(events[i].Events)})
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
