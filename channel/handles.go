// File: channel/handles.go
// Package channel provides the default read/write handles and the
// default message size estimator.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"math"

	"github.com/momentics/hioload-channel/api"
)

const (
	defaultReadBufferCapacity = 2048
	minReadBufferCapacity     = 64
	maxReadBufferCapacity     = 64 * 1024
	defaultMaxMessagesPerRead = 4
)

// maxMessagesReadHandle bounds a read loop by message count with a fixed
// buffer capacity estimate.
type maxMessagesReadHandle struct {
	maxMessages int
	capacity    int
	total       int
}

func (h *maxMessagesReadHandle) EstimatedBufferCapacity() int { return h.capacity }

func (h *maxMessagesReadHandle) LastRead(attempted, actual, messages int) bool {
	if messages > 0 {
		h.total += messages
	}
	if messages <= 0 || h.total >= h.maxMessages {
		return false
	}
	// A drained transport (short read) ends the loop.
	return attempted == 0 || actual >= attempted
}

func (h *maxMessagesReadHandle) ReadComplete() { h.total = 0 }

type maxMessagesReadHandleFactory struct {
	maxMessages int
}

// NewMaxMessagesReadHandleFactory builds read handles that deliver at
// most maxMessages per read loop with a fixed capacity estimate.
func NewMaxMessagesReadHandleFactory(maxMessages int) api.ReadHandleFactory {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	return &maxMessagesReadHandleFactory{maxMessages: maxMessages}
}

func (f *maxMessagesReadHandleFactory) NewReadHandle() api.ReadHandle {
	return &maxMessagesReadHandle{maxMessages: f.maxMessages, capacity: defaultReadBufferCapacity}
}

// adaptiveReadHandle grows the capacity estimate after full reads and
// shrinks it after two consecutive reads that fill less than half of the
// attempted size; a read between half and full resets that count.
type adaptiveReadHandle struct {
	maxMessagesReadHandle
	shortReads int
}

func (h *adaptiveReadHandle) LastRead(attempted, actual, messages int) bool {
	if attempted > 0 {
		if actual >= attempted {
			h.shortReads = 0
			if h.capacity < maxReadBufferCapacity {
				h.capacity = min(h.capacity*2, maxReadBufferCapacity)
			}
		} else if actual*2 < attempted {
			h.shortReads++
			if h.shortReads >= 2 {
				h.shortReads = 0
				if h.capacity > minReadBufferCapacity {
					h.capacity = max(h.capacity/2, minReadBufferCapacity)
				}
			}
		} else {
			h.shortReads = 0
		}
	}
	return h.maxMessagesReadHandle.LastRead(attempted, actual, messages)
}

type adaptiveReadHandleFactory struct {
	maxMessages int
}

// NewAdaptiveReadHandleFactory builds read handles that adapt the buffer
// capacity estimate to the observed read sizes. This is the default
// read handle factory.
func NewAdaptiveReadHandleFactory(maxMessages int) api.ReadHandleFactory {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessagesPerRead
	}
	return &adaptiveReadHandleFactory{maxMessages: maxMessages}
}

func (f *adaptiveReadHandleFactory) NewReadHandle() api.ReadHandle {
	return &adaptiveReadHandle{
		maxMessagesReadHandle: maxMessagesReadHandle{
			maxMessages: f.maxMessages,
			capacity:    defaultReadBufferCapacity,
		},
	}
}

// maxMessagesWriteHandle bounds a write loop by message count.
type maxMessagesWriteHandle struct {
	maxMessages int
	total       int
}

func (h *maxMessagesWriteHandle) EstimatedMaxBytesPerGatheringWrite() int64 {
	return math.MaxInt64
}

func (h *maxMessagesWriteHandle) LastWrite(attempted, actual int64, messages int) bool {
	if messages > 0 {
		h.total += messages
	}
	return h.total < h.maxMessages
}

func (h *maxMessagesWriteHandle) WriteComplete() { h.total = 0 }

type maxMessagesWriteHandleFactory struct {
	maxMessages int
}

// NewMaxMessagesWriteHandleFactory builds write handles that allow at
// most maxMessages messages written per loop.
func NewMaxMessagesWriteHandleFactory(maxMessages int) api.WriteHandleFactory {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	return &maxMessagesWriteHandleFactory{maxMessages: maxMessages}
}

func (f *maxMessagesWriteHandleFactory) NewWriteHandle() api.WriteHandle {
	return &maxMessagesWriteHandle{maxMessages: f.maxMessages}
}

// defaultSizeEstimator sizes buffers, byte slices and strings exactly and
// charges a small fixed cost for everything else.
type defaultSizeEstimator struct {
	unknownSize int
}

type defaultSizeEstimatorHandle struct {
	unknownSize int
}

// NewSizeEstimator builds the default estimator; unknownSize is charged
// for messages of unrecognized type.
func NewSizeEstimator(unknownSize int) api.MessageSizeEstimator {
	if unknownSize < 0 {
		unknownSize = 0
	}
	return &defaultSizeEstimator{unknownSize: unknownSize}
}

func (e *defaultSizeEstimator) NewEstimatorHandle() api.MessageSizeEstimatorHandle {
	return &defaultSizeEstimatorHandle{unknownSize: e.unknownSize}
}

func (h *defaultSizeEstimatorHandle) Size(msg any) int {
	switch m := msg.(type) {
	case api.Buffer:
		return m.ReadableBytes()
	case []byte:
		return len(m)
	case string:
		return len(m)
	default:
		return h.unknownSize
	}
}

// defaultReadBufferAllocator allocates exactly the handle's estimate.
type defaultReadBufferAllocator struct{}

func (defaultReadBufferAllocator) Allocate(alloc api.BufferAllocator, estimatedCapacity int) api.Buffer {
	return alloc.Allocate(estimatedCapacity)
}

// DefaultReadBufferAllocator is the per-read strategy used when read()
// is issued without an explicit one.
var DefaultReadBufferAllocator api.ReadBufferAllocator = defaultReadBufferAllocator{}
