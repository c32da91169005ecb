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

// Package logx implements the framework's single async log sink: any
// thread may produce a record, and one background goroutine drains and
// applies the configured sink on a count-or-time flush trigger (§4.8).
package logx

import (
	"fmt"
	"sync"
	"time"
)

// Level mirrors the four logging levels of the original implementation.
type Level int

const (
	Info Level = iota
	Warning
	Error
	Fatal
)

func (l Level) String() string {
	switch l {
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Record is one stamped log line. The timestamp is assigned at enqueue,
// not at flush — ordering across threads is best-effort (§4.8).
type Record struct {
	Level Level
	Msg   string
	Time  time.Time
}

// Sink applies a batch of records to its backing store (stdout, a rotated
// file, or any other zap core).
type Sink interface {
	Write(records []Record) error
}

// Default flush thresholds (§6: "count threshold 1000; time threshold
// 3000 ms").
const (
	DefaultCountThreshold = 1000
	DefaultTimeThreshold  = 3000 * time.Millisecond
)

// Logger is the async, single-writer log sink shared by every reactor,
// the acceptor, and the timer wheel.
type Logger struct {
	sink           Sink
	countThreshold int
	timeThreshold  time.Duration

	mu        sync.Mutex
	queue     []Record
	lastFlush time.Time

	wake     chan struct{}
	done     chan struct{}
	closeOne sync.Once
	wg       sync.WaitGroup
}

// New starts the background drain goroutine immediately.
func New(sink Sink, countThreshold int, timeThreshold time.Duration) *Logger {
	if countThreshold <= 0 {
		countThreshold = DefaultCountThreshold
	}
	if timeThreshold <= 0 {
		timeThreshold = DefaultTimeThreshold
	}
	l := &Logger{
		sink:           sink,
		countThreshold: countThreshold,
		timeThreshold:  timeThreshold,
		lastFlush:      time.Now(),
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Log enqueues one stamped record, waking the drain goroutine if either
// the queue has grown past the count threshold or enough time has passed
// since the last flush.
func (l *Logger) Log(level Level, msg string) {
	l.mu.Lock()
	l.queue = append(l.queue, Record{Level: level, Msg: msg, Time: time.Now()})
	shouldWake := len(l.queue) > l.countThreshold || time.Since(l.lastFlush) > l.timeThreshold
	l.mu.Unlock()

	if shouldWake {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
}

func (l *Logger) Infof(format string, args ...any)    { l.Log(Info, fmt.Sprintf(format, args...)) }
func (l *Logger) Warningf(format string, args ...any) { l.Log(Warning, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any)   { l.Log(Error, fmt.Sprintf(format, args...)) }
func (l *Logger) Fatalf(format string, args ...any)   { l.Log(Fatal, fmt.Sprintf(format, args...)) }

func (l *Logger) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.timeThreshold)
	defer ticker.Stop()
	for {
		select {
		case <-l.wake:
			l.flush()
		case <-ticker.C:
			l.flushIfAged()
		case <-l.done:
			l.flush()
			return
		}
	}
}

// flushIfAged flushes only when the time threshold has actually elapsed
// since the last flush, so the ticker doesn't force a flush cadence faster
// than configured when wake-triggered flushes already ran recently.
func (l *Logger) flushIfAged() {
	l.mu.Lock()
	aged := time.Since(l.lastFlush) >= l.timeThreshold
	l.mu.Unlock()
	if aged {
		l.flush()
	}
}

func (l *Logger) flush() {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.lastFlush = time.Now()
	l.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	_ = l.sink.Write(batch)
}

// Close flushes the remainder and stops the drain goroutine (§4.8 "On
// shutdown the drain flushes the remainder and exits").
func (l *Logger) Close() error {
	l.closeOne.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}
