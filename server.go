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

// Package turtleserver is a reusable TCP reactor server: a listener
// reactor accepts connections and spreads them uniformly at random across a
// pool of worker reactors, each draining sockets edge-triggered and
// evicting connections that go quiet past a configurable inactivity
// timeout.
package turtleserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/govoltron/turtleserver/internal/logx"
	"github.com/govoltron/turtleserver/lrucache"
	"github.com/govoltron/turtleserver/netaddr"
	"github.com/govoltron/turtleserver/reactor"
)

// ErrHandlerRequired is returned by Begin when no on_handle callback was
// ever installed (§6 "on_handle is mandatory before Begin").
var ErrHandlerRequired = errors.New("turtleserver: OnHandle must be set before Begin")

// Conn is the connection type handlers operate on, re-exported from the
// reactor package so callers never need to import it directly.
type Conn = reactor.Conn

// Server is a configured, not-yet-started TCP reactor server. Construct with
// New, install at least OnHandle, then call Begin, which binds the listener.
type Server struct {
	bindAddress string

	workerCount          int
	inactivityTimeout    time.Duration
	pollTimeoutMs        int
	cacheCapacity        int
	loggerSink           logx.Sink
	loggerCountThreshold int
	loggerTimeThreshold  time.Duration

	mu        sync.Mutex
	pool      *reactor.Pool
	log       *logx.Logger
	cache     *lrucache.Cache
	onAccept  func(*Conn)
	onHandle  func(*Conn)
	hasHandle bool
}

// New validates bindAddress (a "host:port" string) and applies opts. The
// listening socket itself is not opened until Begin.
func New(bindAddress string, opts ...ServerOption) (*Server, error) {
	if _, err := netaddr.Parse(bindAddress); err != nil {
		return nil, fmt.Errorf("turtleserver: %w", err)
	}
	s := &Server{
		bindAddress:   bindAddress,
		workerCount:   max(runtime.NumCPU()-1, 2),
		cacheCapacity: defaultCacheCapacity,
		pollTimeoutMs: reactor.DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	// The cache is allocated here, not in Begin, so that handlers built
	// around Server.Cache() (e.g. demo/kvstore) can be constructed and
	// installed via OnHandle before Begin ever runs.
	s.cache = lrucache.New(s.cacheCapacity)
	return s, nil
}

// OnAccept installs a callback invoked once per accept-loop pass, after
// every pending connection has been accepted and dispatched to its worker.
// The callback receives the listener connection itself, not any of the new
// client connections (§4.4).
func (s *Server) OnAccept(fn func(conn *Conn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAccept = fn
}

// OnHandle installs the callback invoked whenever a connection becomes
// readable. Mandatory before Begin.
func (s *Server) OnHandle(fn func(conn *Conn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onHandle = fn
	s.hasHandle = true
}

// Addr reports the address the listening socket is actually bound to. It
// is only meaningful after Begin has started the listener, which is why
// callers typically poll it (or wait on an OnAccept/Stats signal) right
// after starting Begin on another goroutine.
func (s *Server) Addr() (netaddr.Address, error) {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	if pool == nil {
		return netaddr.Address{}, errors.New("turtleserver: server has not Begin'd yet")
	}
	return pool.Addr()
}

// Cache is the LRU cache shared across every worker reactor, available to
// handlers for caching whatever content their protocol needs reused across
// connections (§4.7).
func (s *Server) Cache() *lrucache.Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache
}

// Begin opens the listening socket, starts every worker reactor and blocks
// the calling goroutine running the listener reactor's loop, until
// Shutdown is called from another goroutine.
func (s *Server) Begin() error {
	s.mu.Lock()
	if !s.hasHandle {
		s.mu.Unlock()
		return ErrHandlerRequired
	}
	if s.log == nil {
		sink := s.loggerSink
		if sink == nil {
			sink = logx.NewStdoutSink()
		}
		s.log = logx.New(sink, s.loggerCountThreshold, s.loggerTimeThreshold)
	}

	bindAddr, err := netaddr.Parse(s.bindAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("turtleserver: %w", err)
	}
	pool, err := reactor.NewPool(bindAddr, s.workerCount, s.pollTimeoutMs, s.inactivityTimeout, s.log)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("turtleserver: %w", err)
	}
	s.pool = pool
	onAccept, onHandle := s.onAccept, s.onHandle
	s.mu.Unlock()

	if onAccept != nil {
		pool.OnAccept(onAccept)
	}
	pool.OnHandle(onHandle)

	s.log.Infof("turtleserver: listening on %s with %d worker reactors", s.bindAddress, s.workerCount)
	return pool.Begin()
}

// Shutdown signals every reactor to exit and waits for them to close,
// subject to ctx's deadline. It is safe to call before Begin returns, from
// another goroutine (§6 "Shutdown(ctx)").
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	pool := s.pool
	log := s.log
	s.mu.Unlock()
	if pool == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- pool.Shutdown() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if log != nil {
		log.Close()
	}
	return err
}

// Stats is a snapshot of every worker reactor's load, for introspection
// (§9 "debug accessors" in place of a served /debug endpoint).
type Stats struct {
	BindAddress string
	Workers     []reactor.WorkerStats
	Cache       lrucache.Stats
}

// Stats returns a snapshot of the server's current state. Safe to call
// concurrently with Begin/Shutdown.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	pool, cache := s.pool, s.cache
	bind := s.bindAddress
	s.mu.Unlock()

	st := Stats{BindAddress: bind}
	if pool != nil {
		st.Workers = pool.Stats()
	}
	if cache != nil {
		st.Cache = cache.Stats()
	}
	return st
}

// Print writes a human-readable overview of the server's configuration and
// live state to stdout.
func (s *Server) Print() {
	s.Fprint(os.Stdout)
}

// Fprint writes a human-readable overview of the server's configuration and
// live state to w.
func (s *Server) Fprint(w io.Writer) {
	st := s.Stats()
	fmt.Fprintf(w, "==================== turtleserver ====================\n")
	fmt.Fprintf(w, "bind address: %s\n", st.BindAddress)
	fmt.Fprintf(w, "workers | connections | dispatched\n")
	for _, ws := range st.Workers {
		fmt.Fprintf(w, "%s | %d | %d\n", ws.Name, ws.Connections, ws.Dispatched)
	}
	fmt.Fprintf(w, "cache: %d/%d bytes, %d entries, %d hits, %d misses\n",
		st.Cache.Occupancy, st.Cache.Capacity, st.Cache.Entries, st.Cache.Hits, st.Cache.Misses)
	fmt.Fprintf(w, "=======================================================\n")
}
