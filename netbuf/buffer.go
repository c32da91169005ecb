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

// Package netbuf implements the dynamic byte buffer each Connection uses
// for its read and write sides. It is not safe for concurrent mutation —
// each Connection's buffers are touched only by their owning reactor
// goroutine.
package netbuf

import "bytes"

// defaultCapacity mirrors the original implementation's reserved initial
// capacity for a freshly constructed buffer.
const defaultCapacity = 1024

// Buffer is an ordered byte sequence with O(1) amortized tail append, O(n)
// head append, and delimiter-bounded extraction.
type Buffer struct {
	buf []byte
}

// New returns an empty Buffer with room for defaultCapacity bytes before
// its first reallocation.
func New() *Buffer {
	return &Buffer{buf: make([]byte, 0, defaultCapacity)}
}

// AppendTail appends data to the end of the buffer.
func (b *Buffer) AppendTail(data []byte) {
	b.buf = append(b.buf, data...)
}

// AppendTailString appends a string's bytes to the end of the buffer.
func (b *Buffer) AppendTailString(s string) {
	b.buf = append(b.buf, s...)
}

// AppendHead inserts data at the front of the buffer.
func (b *Buffer) AppendHead(data []byte) {
	grown := make([]byte, 0, len(data)+len(b.buf))
	grown = append(grown, data...)
	grown = append(grown, b.buf...)
	b.buf = grown
}

// AppendHeadString inserts a string's bytes at the front of the buffer.
func (b *Buffer) AppendHeadString(s string) {
	b.AppendHead([]byte(s))
}

// FindAndPopUntil returns the prefix of the buffer up to and including the
// first occurrence of delim, removing that prefix from the buffer. It
// reports ok=false, leaving the buffer untouched, if delim does not occur.
// Only the first occurrence is ever consulted, which is essential when
// multiple framed messages have been pipelined into one buffer.
func (b *Buffer) FindAndPopUntil(delim []byte) (prefix []byte, ok bool) {
	if len(delim) == 0 {
		return nil, false
	}
	idx := bytes.Index(b.buf, delim)
	if idx < 0 {
		return nil, false
	}
	cut := idx + len(delim)
	prefix = make([]byte, cut)
	copy(prefix, b.buf[:cut])
	remaining := len(b.buf) - cut
	copy(b.buf, b.buf[cut:])
	b.buf = b.buf[:remaining]
	return prefix, true
}

// PopFront removes and returns a copy of the first n bytes. n is clamped to
// the buffer's current size.
func (b *Buffer) PopFront(n int) []byte {
	if n > len(b.buf) {
		n = len(b.buf)
	}
	out := make([]byte, n)
	copy(out, b.buf[:n])
	remaining := len(b.buf) - n
	copy(b.buf, b.buf[n:])
	b.buf = b.buf[:remaining]
	return out
}

// View borrows the full contents without copying. Callers must not retain
// the slice past the buffer's next mutation.
func (b *Buffer) View() []byte {
	return b.buf
}

// Size reports the number of bytes currently buffered.
func (b *Buffer) Size() int {
	return len(b.buf)
}

// Clear drops all contents; the underlying array may be retained.
func (b *Buffer) Clear() {
	b.buf = b.buf[:0]
}

// String renders the buffer's contents as a string (a copy).
func (b *Buffer) String() string {
	return string(b.buf)
}
