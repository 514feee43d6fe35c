// File: pool/buffer.go
// Package pool implements the pooled buffer handed out by Allocator.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "sync"

// buffer is a reusable byte region with independent read and write
// cursors. It implements api.Buffer.
type buffer struct {
	data []byte
	r, w int
	home *sync.Pool
}

// Bytes returns the readable view.
func (b *buffer) Bytes() []byte { return b.data[b.r:b.w] }

// ReadableBytes returns how many bytes are left to read.
func (b *buffer) ReadableBytes() int { return b.w - b.r }

// WritableBytes returns the remaining capacity.
func (b *buffer) WritableBytes() int { return len(b.data) - b.w }

// WriteBytes appends p, bounded by the remaining capacity.
func (b *buffer) WriteBytes(p []byte) int {
	n := copy(b.data[b.w:], p)
	b.w += n
	return n
}

// SkipBytes advances the read cursor, clamped to the readable region.
func (b *buffer) SkipBytes(n int) {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	if n > 0 {
		b.r += n
	}
}

// Release resets the cursors and returns the buffer to its class pool.
func (b *buffer) Release() {
	b.r, b.w = 0, 0
	if b.home != nil {
		b.home.Put(b)
	}
}
