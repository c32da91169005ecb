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

// Package reactor implements the framework core: a Connection wrapping one
// socket's edge-triggered read and robust write, an Acceptor dispatching
// newly accepted peers across a worker pool, and the Reactor (looper) event
// loop that owns a poller, a connection table and, on worker reactors, a
// timer wheel for idle eviction.
package reactor

import (
	"golang.org/x/sys/unix"

	"github.com/govoltron/turtleserver/internal/logx"
	"github.com/govoltron/turtleserver/netaddr"
	"github.com/govoltron/turtleserver/netbuf"
	"github.com/govoltron/turtleserver/poller"
	"github.com/govoltron/turtleserver/sock"
)

// kind distinguishes the three roles a Conn can play. Only kindClient
// connections carry read/write buffers or enter a reactor's connection
// table; the acceptor and timer connections are callback-only (§4.3, §4.6).
type kind int

const (
	kindClient kind = iota
	kindAcceptor
	kindTimer
)

// recvScratchSize is the stack-sized scratch buffer each Recv call drains
// the socket through, "approximately 2 KiB" per §4.2.
const recvScratchSize = 2048

// Conn is one socket wrapped with the buffers and bookkeeping a Reactor
// needs to drive it. A Conn is only ever touched by its owning reactor's
// goroutine once registered, so it carries no internal lock.
type Conn struct {
	kind kind
	sckt *sock.Socket
	addr netaddr.Address

	readBuf  *netbuf.Buffer
	writeBuf *netbuf.Buffer

	owner   *Reactor
	desired poller.Events
	ready   poller.Events

	handler func(*Conn)

	log *logx.Logger
}

func newConn(k kind, s *sock.Socket, log *logx.Logger) *Conn {
	c := &Conn{kind: k, sckt: s, log: log}
	if k == kindClient {
		c.readBuf = netbuf.New()
		c.writeBuf = netbuf.New()
	}
	return c
}

// Fd is the underlying descriptor.
func (c *Conn) Fd() int { return c.sckt.Fd() }

// Socket is the underlying socket.
func (c *Conn) Socket() *sock.Socket { return c.sckt }

// Reactor is the reactor this connection is currently registered with.
func (c *Conn) Reactor() *Reactor { return c.owner }

// PeerAddress is the remote address, populated for client connections only.
func (c *Conn) PeerAddress() netaddr.Address { return c.addr }

// ReadBuffer is the connection's inbound byte buffer.
func (c *Conn) ReadBuffer() *netbuf.Buffer { return c.readBuf }

// WriteBuffer is the connection's outbound byte buffer.
func (c *Conn) WriteBuffer() *netbuf.Buffer { return c.writeBuf }

// SetEvents sets the interest mask used when this connection is registered.
func (c *Conn) SetEvents(e poller.Events) { c.desired = e }

// Events is the interest mask this connection registered with.
func (c *Conn) Events() poller.Events { return c.desired }

// ReadyEvents is the mask the poller most recently reported for this
// connection.
func (c *Conn) ReadyEvents() poller.Events { return c.ready }

// SetHandler installs the callback invoked when this connection becomes
// ready. Composed by the Acceptor for client connections (§4.4 "base handle
// callback" wraps the user's on_handle).
func (c *Conn) SetHandler(fn func(*Conn)) { c.handler = fn }

// Handler is the callback currently installed.
func (c *Conn) Handler() func(*Conn) { return c.handler }

// Recv edge-triggered-drains the socket: it loops on read until the kernel
// reports EAGAIN, accumulating everything read into the read buffer. It
// returns the number of bytes read and whether the peer has closed its
// write side (a zero-length read) or the socket errored in a way other than
// EAGAIN/EINTR (§4.2).
func (c *Conn) Recv() (n int, closed bool) {
	var scratch [recvScratchSize]byte
	for {
		r, err := c.sckt.Read(scratch[:])
		if r > 0 {
			n += r
			c.readBuf.AppendTail(scratch[:r])
		}
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return n, false
			case unix.EINTR:
				continue
			default:
				if c.log != nil {
					c.log.Warningf("connection fd=%d recv error: %v", c.Fd(), err)
				}
				return n, true
			}
		}
		if r == 0 {
			return n, true
		}
	}
}

// Send robustly drains the write buffer: it loops on write until every
// buffered byte has been accepted by the kernel, retrying on EINTR or
// EAGAIN. Any other error clears the write buffer and gives up (§4.2
// "on any other error it clears the write buffer and returns").
func (c *Conn) Send() {
	for {
		buf := c.writeBuf.View()
		if len(buf) == 0 {
			return
		}
		n, err := c.sckt.Write(buf)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			if c.log != nil {
				c.log.Warningf("connection fd=%d send error, dropping %d buffered bytes: %v", c.Fd(), len(buf), err)
			}
			c.writeBuf.Clear()
			return
		}
		if n <= 0 {
			continue
		}
		c.consumeWritten(n)
	}
}

// consumeWritten drops the first n bytes of the write buffer after a
// successful partial or full write.
func (c *Conn) consumeWritten(n int) {
	remaining := c.writeBuf.View()[n:]
	c.writeBuf.Clear()
	c.writeBuf.AppendTail(remaining)
}
