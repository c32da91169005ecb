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

// Package lrucache implements the content-addressed, byte-budgeted LRU
// cache shared across every reactor in the pool.
package lrucache

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// DefaultCapacity is the cache's default byte budget (§6 "cache_capacity_bytes:
// default 10 MiB").
const DefaultCapacity = 10 * 1024 * 1024

// node is one cache entry, also serving as a node in the doubly linked
// list threading all live entries from least- to most-recently used.
type node struct {
	key        string
	data       []byte
	lastAccess time.Time
	prev, next *node
}

// Cache is a mapping from content key to payload bytes, with strict
// least-recently-used eviction under a byte budget. try_load always
// upgrades recency under the cache's exclusive lock, even on a hit,
// because the recency update is list surgery (§4.7): "A reader-writer
// lock is retained in the contract for future use ... the default
// implementation takes exclusive on hit."
type Cache struct {
	mu       sync.RWMutex
	capacity int
	occupy   int
	mapping  map[string]*node
	head     *node // sentinel; head.next is the next eviction victim
	tail     *node // sentinel; tail.prev is the most-recently-used

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Cache with the given byte capacity.
func New(capacity int) *Cache {
	head := &node{}
	tail := &node{}
	head.next = tail
	tail.prev = head
	return &Cache{
		capacity: capacity,
		mapping:  make(map[string]*node),
		head:     head,
		tail:     tail,
	}
}

// TryLoad looks up key; on a hit it appends the cached payload to dst,
// marks the entry most-recently-used, and returns the grown slice plus
// true. On a miss it returns dst unchanged and false.
func (c *Cache) TryLoad(key string, dst []byte) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.mapping[key]
	if !ok {
		c.misses.Inc()
		return dst, false
	}
	dst = append(dst, n.data...)
	c.removeFromList(n)
	c.appendToTail(n)
	n.lastAccess = time.Now()
	c.hits.Inc()
	return dst, true
}

// TryInsert inserts key/data if key is not already present and data fits
// within capacity, evicting least-recently-used entries as needed. It
// refuses (returning false) if key already exists or data is larger than
// the whole cache — never an error (§7 "Cache oversize insertion: returns
// false, not an error").
func (c *Cache) TryInsert(key string, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.mapping[key]; exists {
		return false
	}
	size := len(data)
	if size > c.capacity {
		return false
	}
	for len(c.mapping) > 0 && c.capacity-c.occupy < size {
		c.evictOne()
	}
	n := &node{key: key, data: append([]byte(nil), data...), lastAccess: time.Now()}
	c.appendToTail(n)
	c.mapping[key] = n
	c.occupy += size
	return true
}

// Delete removes key if present, returning whether it was found.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.mapping[key]
	if !ok {
		return false
	}
	c.removeFromList(n)
	delete(c.mapping, key)
	c.occupy -= len(n.data)
	return true
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head.next = c.tail
	c.tail.prev = c.head
	c.mapping = make(map[string]*node)
	c.occupy = 0
}

// Occupancy reports the current number of bytes held.
func (c *Cache) Occupancy() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.occupy
}

// Capacity reports the cache's byte budget.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Stats is a snapshot of cache counters, read by this module's own tests
// and by Server.Stats (§9 of SPEC_FULL.md).
type Stats struct {
	Occupancy int
	Capacity  int
	Entries   int
	Hits      int64
	Misses    int64
}

// Stats returns a snapshot of the cache's current counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Occupancy: c.occupy,
		Capacity:  c.capacity,
		Entries:   len(c.mapping),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
	}
}

// evictOne evicts the current least-recently-used entry (head.next). Must
// be called with mu held for writing.
func (c *Cache) evictOne() {
	victim := c.head.next
	if victim == c.tail {
		return
	}
	c.removeFromList(victim)
	delete(c.mapping, victim.key)
	c.occupy -= len(victim.data)
}

func (c *Cache) removeFromList(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
}

func (c *Cache) appendToTail(n *node) {
	prev := c.tail.prev
	prev.next = n
	n.prev = prev
	n.next = c.tail
	c.tail.prev = n
}
