// File: channel/sinks.go
// Package channel implements the per-loop scratchpads transports report
// progress through.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-channel/api"
	"github.com/momentics/hioload-channel/concurrency"
)

// ReadSink is the only API a transport uses during ReadNow. It keeps
// buffer sizing, message accounting and handler dispatch under the
// core's control.
type ReadSink struct {
	channel *Channel
	handle  api.ReadHandle

	readSomething bool
}

// AllocateBuffer returns an inbound buffer sized by the read handle and
// the pending per-read allocator.
func (s *ReadSink) AllocateBuffer() api.Buffer {
	alloc := s.channel.pendingReadAllocator()
	if alloc == nil {
		alloc = DefaultReadBufferAllocator
	}
	return alloc.Allocate(s.channel.config.bufferAllocator(), s.handle.EstimatedBufferCapacity())
}

// ProcessRead records one read attempt, fires channelRead for a non-nil
// message, and reports whether the read loop should continue.
func (s *ReadSink) ProcessRead(attemptedBytes, actualBytes int, msg any) bool {
	if msg == nil {
		s.handle.LastRead(attemptedBytes, actualBytes, 0)
		return false
	}
	s.readSomething = true
	s.channel.currentRecvAlloc.Store(nil)
	continueReading := s.handle.LastRead(attemptedBytes, actualBytes, 1)
	s.channel.pipeline.FireChannelRead(msg)
	return continueReading
}

// complete closes out one read loop, firing channelReadComplete iff at
// least one message was delivered.
func (s *ReadSink) complete() {
	if s.readSomething {
		s.readSomething = false
		s.handle.ReadComplete()
		s.channel.pipeline.FireChannelReadComplete()
	}
}

// completeFailure closes out a failed read loop and reports whether the
// read side should be shut down.
func (s *ReadSink) completeFailure(cause error) bool {
	s.complete()
	s.channel.pipeline.FireChannelExceptionCaught(cause)

	if errors.Is(cause, api.ErrPortUnreachable) {
		// Transient for connectionless transports.
		return false
	}
	return api.IsIOError(cause) && !s.channel.server
}

// WriteSink is the only API a transport uses during WriteNow. Exactly
// one Complete call must be made per WriteNow invocation.
type WriteSink struct {
	channel  *Channel
	handle   api.WriteHandle
	outbound *OutboundBuffer

	attemptedBytes int64
	actualBytes    int64
	messages       int
	writeErr       error
	mightContinue  bool
	completed      bool
}

// EstimatedMaxBytesPerGatheringWrite hints how many bytes one gathering
// write operation may carry.
func (s *WriteSink) EstimatedMaxBytesPerGatheringWrite() int64 {
	return s.handle.EstimatedMaxBytesPerGatheringWrite()
}

// Size returns the number of flushed messages ready to be written.
func (s *WriteSink) Size() int {
	s.checkInLoop()
	return s.outbound.Size()
}

// First returns the first flushed message.
func (s *WriteSink) First() any {
	s.checkInLoop()
	return s.outbound.Current()
}

// ForEach visits flushed messages until fn returns false.
func (s *WriteSink) ForEach(fn func(msg any) bool) {
	s.checkInLoop()
	s.outbound.ForEachFlushedMessage(fn)
}

// Complete records a write attempt's byte and message progress.
// messages == -1 means the message count is unknown and must be derived
// from actualBytes.
func (s *WriteSink) Complete(attemptedBytes, actualBytes int64, messages int, mightContinue bool) {
	s.checkNotCompleted()
	if attemptedBytes < 0 {
		panic(fmt.Sprintf("channel: attemptedBytes must be >= 0, got %d", attemptedBytes))
	}
	if messages < -1 {
		panic(fmt.Sprintf("channel: messages must be >= -1, got %d", messages))
	}
	s.attemptedBytes = attemptedBytes
	s.actualBytes = actualBytes
	s.messages = messages
	s.writeErr = nil
	s.mightContinue = mightContinue
	s.completed = true
}

// CompleteErr records a recoverable per-message write failure.
func (s *WriteSink) CompleteErr(attemptedBytes int64, cause error, mightContinue bool) {
	s.checkNotCompleted()
	if attemptedBytes < 0 {
		panic(fmt.Sprintf("channel: attemptedBytes must be >= 0, got %d", attemptedBytes))
	}
	if cause == nil {
		panic("channel: CompleteErr requires a non-nil cause")
	}
	s.attemptedBytes = attemptedBytes
	s.actualBytes = 0
	s.messages = 0
	s.writeErr = cause
	s.mightContinue = mightContinue
	s.completed = true
}

func (s *WriteSink) checkNotCompleted() {
	if s.completed {
		panic("channel: WriteSink.Complete was already called for this write attempt")
	}
}

func (s *WriteSink) checkInLoop() {
	if s.outbound == nil {
		panic("channel: WriteSink used outside of a write loop")
	}
}

var errSinkIncomplete = errors.New("channel: WriteNow returned without completing the WriteSink")

// processWriteLoop drives doWriteNow until the handle, the transport or
// the buffer end the loop.
func (s *WriteSink) processWriteLoop(outbound *OutboundBuffer) {
	s.outbound = outbound
	defer func() {
		s.outbound = nil
		s.handle.WriteComplete()
		// Deferred notification keeps flush() reentrancy out of
		// channelWritabilityChanged handlers.
		s.channel.updateWritabilityIfNeeded(true, true)
	}()

	if err := s.runLoop(outbound); err != nil {
		s.channel.handleWriteError(err)
	}
	s.finishLoop(outbound)
}

func (s *WriteSink) runLoop(outbound *OutboundBuffer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(r)
		}
	}()
	for {
		s.reset()
		if werr := s.channel.transport.WriteNow(s); werr != nil {
			return werr
		}
		cont, cerr := s.consume(outbound)
		if cerr != nil {
			return cerr
		}
		if !cont || outbound.IsEmpty() {
			return nil
		}
	}
}

func (s *WriteSink) finishLoop(outbound *OutboundBuffer) {
	defer func() {
		if r := recover(); r != nil {
			s.channel.closeWithErrorFromWriteFlushed(recoveredError(r))
		}
	}()
	s.channel.writeLoopComplete(outbound.IsEmpty())
}

// consume folds the recorded completion into the outbound buffer and
// asks the handle whether another round is allowed.
func (s *WriteSink) consume(outbound *OutboundBuffer) (bool, error) {
	if !s.completed {
		return false, errSinkIncomplete
	}
	if s.writeErr != nil {
		outbound.RemoveAndFail(s.writeErr)
	} else if s.messages > 0 {
		for i := 0; i < s.messages; i++ {
			outbound.Remove()
		}
	} else if s.messages == -1 && s.actualBytes >= 0 {
		s.messages = outbound.RemoveBytes(s.actualBytes)
	}
	return s.handle.LastWrite(s.attemptedBytes, s.actualBytes, s.messages) && s.mightContinue, nil
}

func (s *WriteSink) reset() {
	s.attemptedBytes = 0
	s.actualBytes = 0
	s.messages = 0
	s.writeErr = nil
	s.mightContinue = false
	s.completed = false
}

func recoveredError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("channel: recovered panic: %v", r)
}

func (c *Channel) readSink() *ReadSink {
	c.assertEventLoop()
	if c.readSinkCache == nil {
		c.readSinkCache = &ReadSink{channel: c, handle: c.config.readHandleFactory().NewReadHandle()}
	}
	return c.readSinkCache
}

func (c *Channel) writeSink() *WriteSink {
	c.assertEventLoop()
	if c.writeSinkCache == nil {
		c.writeSinkCache = &WriteSink{channel: c, handle: c.config.writeHandleFactory().NewWriteHandle()}
	}
	return c.writeSinkCache
}

// ReadHandle exposes the channel's read handle to transports.
func (c *Channel) ReadHandle() api.ReadHandle { return c.readSink().handle }

// WriteHandle exposes the channel's write handle to transports.
func (c *Channel) WriteHandle() api.WriteHandle { return c.writeSink().handle }

// newPromise is a small alias keeping call sites close to the original
// shape.
func newPromise() *concurrency.Promise { return concurrency.NewPromise() }
