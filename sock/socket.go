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

// Package sock wraps a single file descriptor as a socket: a listener, a
// client, or an accepted peer. A Socket owns exactly one descriptor and
// closes it exactly once.
package sock

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/govoltron/turtleserver/netaddr"
)

const backlog = 128

// state is the Socket's monotone lifecycle stage.
type state int

const (
	stateUninitialized state = iota
	stateBound
	stateListening
	stateConnected
	stateAccepted
)

// Socket owns a single OS file descriptor. The zero value is not usable;
// construct with New or Accept. A Socket must not be copied after it has
// been opened — there is no compiler enforcement of this in Go the way C++
// deletes the copy constructor, so callers are expected to pass *Socket.
type Socket struct {
	fd    int
	state state
	once  sync.Once
}

// New creates a Socket for the given protocol, ready to Bind or Connect.
func New(protocol netaddr.Protocol) (*Socket, error) {
	domain := unix.AF_INET
	if protocol == netaddr.IPv6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("sock: socket: %w", err)
	}
	return &Socket{fd: fd}, nil
}

// FromFd wraps an already-open descriptor, marking it as accepted.
func FromFd(fd int) *Socket {
	return &Socket{fd: fd, state: stateAccepted}
}

// Fd returns the underlying descriptor.
func (s *Socket) Fd() int { return s.fd }

// Bind binds the socket to address. If reusable is set, SO_REUSEADDR and
// SO_REUSEPORT are applied first, matching the listener default in the
// external interface (§6 "Listener uses SO_REUSEADDR | SO_REUSEPORT by
// default").
func (s *Socket) Bind(address netaddr.Address, reusable bool) error {
	if reusable {
		if err := s.SetReusable(); err != nil {
			return err
		}
	}
	sa, err := address.Sockaddr()
	if err != nil {
		return fmt.Errorf("sock: bind: %w", err)
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return fmt.Errorf("sock: bind: %w", err)
	}
	s.state = stateBound
	return nil
}

// Listen marks the socket as a listening socket.
func (s *Socket) Listen() error {
	if err := unix.Listen(s.fd, backlog); err != nil {
		return fmt.Errorf("sock: listen: %w", err)
	}
	s.state = stateListening
	return nil
}

// Accept accepts one pending connection, returning the peer's address and a
// Socket wrapping the new descriptor. Returns (nil, Address{}, err) when no
// connection is pending and the listener is non-blocking (errno EAGAIN).
func (s *Socket) Accept() (*Socket, netaddr.Address, error) {
	fd, sa, err := unix.Accept(s.fd)
	if err != nil {
		return nil, netaddr.Address{}, err
	}
	addr, aerr := netaddr.FromSockaddr(sa)
	if aerr != nil {
		addr = netaddr.Address{}
	}
	peer := &Socket{fd: fd, state: stateAccepted}
	return peer, addr, nil
}

// Connect connects this socket to address (client side, one-step per the
// original: directly connect).
func (s *Socket) Connect(address netaddr.Address) error {
	sa, err := address.Sockaddr()
	if err != nil {
		return fmt.Errorf("sock: connect: %w", err)
	}
	if err := unix.Connect(s.fd, sa); err != nil {
		return fmt.Errorf("sock: connect: %w", err)
	}
	s.state = stateConnected
	return nil
}

// Read issues one raw, non-blocking read syscall against the descriptor.
// Callers are expected to interpret errno values themselves (EAGAIN,
// EINTR) per the edge-triggered drain protocol in §4.2.
func (s *Socket) Read(buf []byte) (int, error) {
	return unix.Read(s.fd, buf)
}

// Write issues one raw, non-blocking write syscall against the descriptor.
func (s *Socket) Write(buf []byte) (int, error) {
	return unix.Write(s.fd, buf)
}

// SetReusable applies SO_REUSEADDR and SO_REUSEPORT.
func (s *Socket) SetReusable() error {
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("sock: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return fmt.Errorf("sock: SO_REUSEPORT: %w", err)
	}
	return nil
}

// SetNonBlocking puts the descriptor into non-blocking mode, required for
// every client connection accepted onto a worker reactor (§4.4, §6).
func (s *Socket) SetNonBlocking() error {
	return unix.SetNonblock(s.fd, true)
}

// LocalAddr reports the address the socket is bound to, resolving an
// ephemeral port (bind to port 0) to the one the kernel actually assigned.
func (s *Socket) LocalAddr() (netaddr.Address, error) {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return netaddr.Address{}, fmt.Errorf("sock: getsockname: %w", err)
	}
	return netaddr.FromSockaddr(sa)
}

// Close closes the descriptor exactly once.
func (s *Socket) Close() error {
	var err error
	s.once.Do(func() {
		err = unix.Close(s.fd)
	})
	return err
}
