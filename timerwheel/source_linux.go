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

package timerwheel

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// timerfdSource arms a Linux CLOCK_MONOTONIC timerfd, the kernel timer
// descriptor §4.6 names directly.
type timerfdSource struct {
	fd int
}

// NewSource creates the platform kernel timer descriptor for a Wheel.
func NewSource() (Source, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("timerwheel: timerfd_create: %w", err)
	}
	return &timerfdSource{fd: fd}, nil
}

func (s *timerfdSource) Fd() int { return s.fd }

func (s *timerfdSource) Arm(at time.Time) error {
	var spec unix.ItimerSpec
	if !at.IsZero() {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		spec.Value = unix.NsecToTimespec(d.Nanoseconds())
	}
	if err := unix.TimerfdSettime(s.fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("timerwheel: timerfd_settime: %w", err)
	}
	return nil
}

func (s *timerfdSource) Drain() error {
	var buf [8]byte
	_, err := unix.Read(s.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("timerwheel: read(timerfd): %w", err)
	}
	return nil
}

func (s *timerfdSource) Close() error {
	return unix.Close(s.fd)
}
