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

//go:build freebsd || netbsd || openbsd || dragonfly

package timerwheel

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NewSource creates the platform kernel-equivalent timer source for a Wheel.
func NewSource() (Source, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("timerwheel: pipe2: %w", err)
	}
	return &pipeSource{readFd: fds[0], writeFd: fds[1]}, nil
}
