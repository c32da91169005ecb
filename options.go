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

package turtleserver

import (
	"time"

	"github.com/govoltron/turtleserver/internal/logx"
	"github.com/govoltron/turtleserver/lrucache"
)

// ServerOption configures a Server at construction time.
type ServerOption func(s *Server)

// WithWorkerCount sets how many worker reactors accepted connections are
// dispatched across. Default is hardware concurrency minus one, floored at
// two.
func WithWorkerCount(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.workerCount = n
		}
	}
}

// WithInactivityTimeout sets how long a connection may go without producing
// readable bytes before it is evicted. Zero disables idle eviction
// entirely (§4.6).
func WithInactivityTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.inactivityTimeout = d }
}

// WithPollTimeout sets how long each reactor blocks in one Poll call before
// rechecking its exit flag. Default is reactor.DefaultPollTimeout.
func WithPollTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.pollTimeoutMs = int(d.Milliseconds())
		}
	}
}

// WithCacheCapacity sets the byte budget of the server's shared LRU cache
// (§4.7), accessible to handlers via Server.Cache.
func WithCacheCapacity(bytes int) ServerOption {
	return func(s *Server) {
		if bytes > 0 {
			s.cacheCapacity = bytes
		}
	}
}

// WithLoggerSink installs the sink the server's async logger drains into.
// Defaults to a stdout sink.
func WithLoggerSink(sink logx.Sink) ServerOption {
	return func(s *Server) { s.loggerSink = sink }
}

// WithLoggerThresholds overrides the logger's count and time flush
// triggers. Defaults to logx.DefaultCountThreshold and
// logx.DefaultTimeThreshold (§6).
func WithLoggerThresholds(count int, period time.Duration) ServerOption {
	return func(s *Server) {
		s.loggerCountThreshold = count
		s.loggerTimeThreshold = period
	}
}

var defaultCacheCapacity = lrucache.DefaultCapacity
