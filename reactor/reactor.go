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

package reactor

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/govoltron/turtleserver/internal/logx"
	"github.com/govoltron/turtleserver/poller"
	"github.com/govoltron/turtleserver/timerwheel"
)

// DefaultPollTimeout is how long a reactor's Poll call blocks before it
// rechecks its exit flag, matching the external interface's "poll_timeout_ms:
// default 3000" (§6).
const DefaultPollTimeout = 3000

// Reactor is one event loop: a poller, the connections registered with it,
// and, when the caller asked for idle eviction, a timer wheel. One Reactor
// owns the listening socket (the "listener reactor"); the rest are "worker
// reactors" each running on their own goroutine (§4.5, §5).
type Reactor struct {
	name string
	p    poller.Poller
	log  *logx.Logger

	pollTimeoutMs     int
	inactivityTimeout time.Duration

	mu            sync.Mutex
	table         map[int]*Conn
	timerHandles  map[int]timerwheel.Handle
	acceptorConn  *Conn
	wheel         *timerwheel.Wheel
	timerConn     *Conn
	timerFd       int
	connectionCnt atomic.Int64

	exit atomic.Bool
}

// New creates a Reactor. When inactivityTimeout is positive, a timer wheel
// and its kernel timer source are created and registered with the poller
// immediately, turning this into a worker reactor capable of evicting idle
// connections (§4.6).
func New(name string, pollTimeoutMs int, inactivityTimeout time.Duration, log *logx.Logger) (*Reactor, error) {
	if pollTimeoutMs <= 0 {
		pollTimeoutMs = DefaultPollTimeout
	}
	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	r := &Reactor{
		name:              name,
		p:                 p,
		log:               log,
		pollTimeoutMs:     pollTimeoutMs,
		inactivityTimeout: inactivityTimeout,
		table:             make(map[int]*Conn),
		timerHandles:      make(map[int]timerwheel.Handle),
	}
	if inactivityTimeout > 0 {
		if err := r.installTimer(); err != nil {
			p.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *Reactor) installTimer() error {
	src, err := timerwheel.NewSource()
	if err != nil {
		return err
	}
	wheel := timerwheel.New(src, func(err error) {
		if r.log != nil {
			r.log.Errorf("%s: timer arm failed: %v", r.name, err)
		}
	})
	tc := newConn(kindTimer, nil, r.log)
	tc.owner = r
	tc.SetHandler(func(*Conn) { wheel.Fire() })

	r.wheel = wheel
	r.timerConn = tc
	r.timerFd = src.Fd()
	return r.p.Register(src.Fd(), poller.Readable|poller.EdgeTriggered, tc)
}

// AddAcceptor registers the listening connection with this reactor. The
// acceptor connection never enters the connection table and never carries
// a timer (§4.3).
func (r *Reactor) AddAcceptor(conn *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.owner = r
	r.acceptorConn = conn
	return r.p.Register(conn.Fd(), conn.Events(), conn)
}

// AddConnection registers a freshly accepted client connection, entering it
// into the table and, if this reactor has a timer wheel, arming its initial
// inactivity timer. Lock order is always reactor mutex first, then the
// wheel's own internal mutex, matching the fixed order required by §9.
func (r *Reactor) AddConnection(conn *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.owner = r
	if err := r.p.Register(conn.Fd(), conn.Events(), conn); err != nil {
		return err
	}
	fd := conn.Fd()
	r.table[fd] = conn
	r.connectionCnt.Inc()
	if r.wheel != nil {
		r.timerHandles[fd] = r.wheel.Add(r.inactivityTimeout, func() {
			if r.log != nil {
				r.log.Infof("%s: connection fd=%d idle timeout, evicting", r.name, fd)
			}
			r.DeleteConnection(fd)
		})
	}
	return nil
}

// RefreshConnection resets fd's inactivity timer, called by the acceptor's
// base handle callback ahead of every user on_handle invocation (§4.4, §4.6
// "Refresh semantics").
func (r *Reactor) RefreshConnection(fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wheel == nil {
		return
	}
	h, ok := r.timerHandles[fd]
	if !ok {
		return
	}
	newH, ok := r.wheel.Refresh(h, r.inactivityTimeout)
	if !ok {
		return
	}
	r.timerHandles[fd] = newH
}

// DeleteConnection removes fd from the table, cancels its pending timer if
// any, deregisters it from the poller and closes its socket. Returns false
// if fd was not a known client connection.
func (r *Reactor) DeleteConnection(fd int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.table[fd]
	if !ok {
		return false
	}
	delete(r.table, fd)
	r.connectionCnt.Dec()
	if h, ok := r.timerHandles[fd]; ok {
		r.wheel.Remove(h)
		delete(r.timerHandles, fd)
	}
	if err := r.p.Deregister(fd); err != nil && r.log != nil {
		r.log.Warningf("%s: deregister fd=%d: %v", r.name, fd, err)
	}
	conn.Socket().Close()
	return true
}

// SetExit requests that Loop return after its current (or next) Poll call.
func (r *Reactor) SetExit() { r.exit.Store(true) }

// ConnectionCount is the number of client connections currently held by
// this reactor, for introspection (§9 "debug accessors").
func (r *Reactor) ConnectionCount() int {
	return int(r.connectionCnt.Load())
}

// Loop runs this reactor's event loop until SetExit is called. It blocks
// the calling goroutine (§4.5).
func (r *Reactor) Loop() {
	for !r.exit.Load() {
		ready, err := r.p.Poll(r.pollTimeoutMs)
		if err != nil {
			if r.log != nil {
				r.log.Errorf("%s: poll error: %v", r.name, err)
			}
			continue
		}
		for _, rdy := range ready {
			conn, ok := rdy.Identity.(*Conn)
			if !ok || conn == nil {
				continue
			}
			conn.ready = rdy.Events
			if h := conn.Handler(); h != nil {
				h(conn)
			}
		}
	}
}

// Close tears down every remaining client connection, the acceptor and
// timer connections if present, and the poller itself (§7, §8 Property 8
// "every descriptor opened by the framework is closed exactly once on
// shutdown"). It joins the errors from the acceptor, timer and poller
// teardown; client connections go through DeleteConnection, which logs a
// deregister failure and does not report a socket close error.
func (r *Reactor) Close() error {
	r.mu.Lock()
	fds := make([]int, 0, len(r.table))
	for fd := range r.table {
		fds = append(fds, fd)
	}
	r.mu.Unlock()

	var err error
	for _, fd := range fds {
		r.DeleteConnection(fd)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acceptorConn != nil {
		if e := r.p.Deregister(r.acceptorConn.Fd()); e != nil {
			err = multierr.Append(err, e)
		}
		if e := r.acceptorConn.Socket().Close(); e != nil {
			err = multierr.Append(err, e)
		}
	}
	if r.wheel != nil {
		if e := r.p.Deregister(r.timerFd); e != nil {
			err = multierr.Append(err, e)
		}
		if e := r.wheel.Close(); e != nil {
			err = multierr.Append(err, e)
		}
	}
	if e := r.p.Close(); e != nil {
		err = multierr.Append(err, e)
	}
	return err
}
