// File: channel/outbound_buffer.go
// Package channel implements the queue of pending outbound writes.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-channel/api"
	"github.com/momentics/hioload-channel/concurrency"
)

// pendingWrite is one queued outbound message with its size estimate and
// completion promise. remaining tracks the bytes the write loop has not
// yet accounted for; the message's own cursor is advanced by the
// transport, never here.
type pendingWrite struct {
	msg       any
	size      int64
	remaining int64
	promise   *concurrency.Promise
}

// OutboundBuffer is a FIFO of write entries with two logical regions:
// the flushed head (eligible for the write loop) and the unflushed tail.
// All mutations run on the channel's event loop. The pending-bytes
// counter is readable from any thread for writableBytes.
type OutboundBuffer struct {
	entries *queue.Queue // of *pendingWrite
	flushed int

	totalPending atomic.Int64
}

// NewOutboundBuffer creates an empty buffer.
func NewOutboundBuffer() *OutboundBuffer {
	return &OutboundBuffer{entries: queue.New()}
}

// AddMessage appends a message to the unflushed region.
func (b *OutboundBuffer) AddMessage(msg any, size int64, promise *concurrency.Promise) {
	if size < 0 {
		size = 0
	}
	b.entries.Add(&pendingWrite{msg: msg, size: size, remaining: size, promise: promise})
	b.totalPending.Add(size)
}

// AddFlush promotes all unflushed entries to the flushed region.
func (b *OutboundBuffer) AddFlush() {
	b.flushed = b.entries.Length()
}

// Current returns the message at the head of the flushed region, or nil.
func (b *OutboundBuffer) Current() any {
	if b.flushed == 0 {
		return nil
	}
	return b.entries.Get(0).(*pendingWrite).msg
}

// Remove pops the head of the flushed region, disposes the message and
// succeeds its promise. Returns false when nothing is flushed.
func (b *OutboundBuffer) Remove() bool {
	return b.removeHead(nil)
}

// RemoveAndFail pops the head of the flushed region, disposes the
// message and fails its promise with cause.
func (b *OutboundBuffer) RemoveAndFail(cause error) bool {
	return b.removeHead(cause)
}

func (b *OutboundBuffer) removeHead(cause error) bool {
	if b.flushed == 0 {
		return false
	}
	e := b.entries.Remove().(*pendingWrite)
	b.flushed--
	b.totalPending.Add(-e.remaining)
	api.Dispose(e.msg)
	if e.promise != nil {
		if cause == nil {
			e.promise.TrySuccess()
		} else {
			e.promise.TryFailure(cause)
		}
	}
	return true
}

// RemoveBytes accounts n written bytes against the flushed head.
// Entries fully covered are removed and succeeded; a partially covered
// entry has its remaining byte count reduced but stays queued. Returns
// the number of fully completed entries. Zero-byte entries at the head
// are completed even when n is zero.
func (b *OutboundBuffer) RemoveBytes(n int64) int {
	completed := 0
	for b.flushed > 0 {
		e := b.entries.Get(0).(*pendingWrite)
		if e.remaining <= n {
			n -= e.remaining
			b.Remove()
			completed++
			continue
		}
		if n > 0 {
			e.remaining -= n
			b.totalPending.Add(-n)
		}
		break
	}
	return completed
}

// FailFlushed fails every entry in the flushed region with cause.
func (b *OutboundBuffer) FailFlushed(cause error) {
	for b.flushed > 0 {
		b.RemoveAndFail(cause)
	}
}

// FailFlushedAndClose drains the whole buffer: flushed entries fail with
// flushedCause, unflushed entries with unflushedCause. Used during close
// and output shutdown, after the channel stopped accepting writes.
func (b *OutboundBuffer) FailFlushedAndClose(flushedCause, unflushedCause error) {
	b.FailFlushed(flushedCause)
	for b.entries.Length() > 0 {
		e := b.entries.Remove().(*pendingWrite)
		b.totalPending.Add(-e.remaining)
		api.Dispose(e.msg)
		if e.promise != nil {
			e.promise.TryFailure(unflushedCause)
		}
	}
}

// ForEachFlushedMessage visits flushed messages in order until fn
// returns false.
func (b *OutboundBuffer) ForEachFlushedMessage(fn func(msg any) bool) {
	for i := 0; i < b.flushed; i++ {
		if !fn(b.entries.Get(i).(*pendingWrite).msg) {
			return
		}
	}
}

// TotalPendingWriteBytes is safe to call from any thread.
func (b *OutboundBuffer) TotalPendingWriteBytes() int64 {
	return b.totalPending.Load()
}

// Size returns the number of flushed entries.
func (b *OutboundBuffer) Size() int { return b.flushed }

// IsEmpty reports whether the flushed region is empty.
func (b *OutboundBuffer) IsEmpty() bool { return b.flushed == 0 }
