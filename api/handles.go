// File: api/handles.go
// Package api defines the per-loop-iteration advisors that size buffers
// and bound read/write loop iterations.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// ReadHandle advises one read loop: how large the next inbound buffer
// should be and whether another read attempt should follow.
type ReadHandle interface {
	// EstimatedBufferCapacity is the suggested capacity for the next
	// inbound buffer.
	EstimatedBufferCapacity() int

	// LastRead records one read attempt and reports whether the read loop
	// should continue.
	LastRead(attemptedBytes, actualBytes, messages int) bool

	// ReadComplete marks the end of the read loop.
	ReadComplete()
}

// ReadHandleFactory produces a fresh ReadHandle per channel.
type ReadHandleFactory interface {
	NewReadHandle() ReadHandle
}

// WriteHandle advises one write loop: the gathering-write size hint and
// whether another write attempt should follow.
type WriteHandle interface {
	// EstimatedMaxBytesPerGatheringWrite hints how many bytes one
	// gathering write may carry.
	EstimatedMaxBytesPerGatheringWrite() int64

	// LastWrite records one write attempt and reports whether the write
	// loop should continue.
	LastWrite(attemptedBytes, actualBytes int64, messages int) bool

	// WriteComplete marks the end of the write loop.
	WriteComplete()
}

// WriteHandleFactory produces a fresh WriteHandle per channel.
type WriteHandleFactory interface {
	NewWriteHandle() WriteHandle
}

// MessageSizeEstimator sizes outbound messages for pending-bytes
// accounting.
type MessageSizeEstimator interface {
	NewEstimatorHandle() MessageSizeEstimatorHandle
}

// MessageSizeEstimatorHandle estimates the size of a single message. A
// negative estimate is treated as zero by the core.
type MessageSizeEstimatorHandle interface {
	Size(msg any) int
}
