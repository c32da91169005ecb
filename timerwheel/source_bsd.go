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

package timerwheel

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pipeSource is the BSD/Darwin equivalent of a kernel timer descriptor: a
// non-blocking self-pipe whose read end the poller watches, fed by one
// background goroutine carrying a single time.Timer. This is the "kernel
// timer descriptor, or an equivalent monotonic timer source the
// multiplexer can wait on" §1 allows — kqueue's own EVFILT_TIMER attaches
// directly to the kqueue descriptor rather than exposing a distinct fd, so
// it cannot be wrapped as a synthetic Connection the way timerfd can.
type pipeSource struct {
	readFd  int
	writeFd int

	mu    sync.Mutex
	timer *time.Timer
}

func (s *pipeSource) Fd() int { return s.readFd }

func (s *pipeSource) Arm(at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if at.IsZero() {
		return nil
	}
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	s.timer = time.AfterFunc(d, func() {
		var one [1]byte
		unix.Write(s.writeFd, one[:])
	})
	return nil
}

func (s *pipeSource) Drain() error {
	var buf [64]byte
	for {
		n, err := unix.Read(s.readFd, buf[:])
		if err != nil || n <= 0 {
			return nil
		}
		if n < len(buf) {
			return nil
		}
	}
}

func (s *pipeSource) Close() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	unix.Close(s.writeFd)
	return unix.Close(s.readFd)
}
