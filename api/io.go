// File: api/io.go
// Package api defines the IO-handle contract between fd-backed
// transports, the event loop and the poller.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// IOEvents is a bitmask of readiness conditions reported by a poller.
type IOEvents uint32

const (
	IOEventRead IOEvents = 1 << iota
	IOEventWrite
	IOEventError
)

// IOHandle is the registration unit the event loop hands to its poller.
// Transports without an OS-level descriptor return a negative FD; such
// handles are registered as bookkeeping only and never polled.
type IOHandle interface {
	// FD returns the pollable descriptor, or a negative value when the
	// transport is not descriptor-backed.
	FD() int

	// Ready is invoked on the owning event loop goroutine whenever the
	// poller reports readiness for the handle.
	Ready(events IOEvents)
}

// IOSource is the optional transport capability exposing an IOHandle.
// The channel core registers the handle with the event loop during
// register() and deregisters it during deregister().
type IOSource interface {
	IOHandle() IOHandle
}
