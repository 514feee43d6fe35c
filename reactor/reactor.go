// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness poller for descriptor-backed transports.
// The event loop drives Poll between task drains; callbacks therefore
// always run on the loop goroutine.

package reactor

import "github.com/momentics/hioload-channel/api"

// Reactor multiplexes readiness notifications for registered
// descriptors. It satisfies the event loop's Poller contract.
type Reactor interface {
	// Register adds a descriptor with the interest set; cb runs on every
	// readiness report for it.
	Register(fd int, events api.IOEvents, cb func(api.IOEvents)) error

	// Unregister removes a descriptor from the watch list.
	Unregister(fd int) error

	// Poll dispatches ready callbacks, blocking up to timeoutMs
	// (negative blocks indefinitely). Returns the number handled.
	Poll(timeoutMs int) (int, error)

	// Close releases the poller resources.
	Close() error
}

// New returns the platform reactor: epoll on Linux, an unsupported stub
// elsewhere.
func New() (Reactor, error) {
	return newPlatformReactor()
}
