// File: channel/transport.go
// Package channel defines the hook surface concrete transports implement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"net"

	"github.com/momentics/hioload-channel/api"
)

// Transport is the capability set the channel core drives. Hooks that act
// on the transport are invoked on the channel's event loop goroutine. The
// state queries (LocalAddr, RemoteAddr, IsOpen, IsActive, IsShutdown) are
// also called by the Channel's public accessors on whatever goroutine
// calls them, and Close runs on the ClosePreparer's executor when one is
// supplied.
//
// Transports report progress to the core exclusively through the read
// and write sinks; they never touch the outbound buffer or the pipeline
// directly.
type Transport interface {
	// LocalAddr fetches the locally bound address. May fail on
	// closed-socket races; the core treats a failure as "unknown".
	LocalAddr() (net.Addr, error)

	// RemoteAddr fetches the connected peer address, nil when not
	// connected.
	RemoteAddr() (net.Addr, error)

	// IsOpen reports whether the underlying resource is not yet closed.
	IsOpen() bool

	// IsActive reports whether the channel can carry application data
	// (transport-defined, e.g. connected).
	IsActive() bool

	// IsShutdown reports whether the given direction was shut down.
	IsShutdown(direction api.ShutdownDirection) bool

	// Bind binds the underlying endpoint.
	Bind(local net.Addr) error

	// Disconnect disconnects from the remote peer (datagram-style
	// transports). Only called when the channel supports disconnect.
	Disconnect() error

	// Close releases the underlying resource. Best effort, idempotent.
	Close() error

	// Shutdown shuts down one direction of the channel.
	Shutdown(direction api.ShutdownDirection) error

	// Read signals that a read is wanted. wasPending is true when a read
	// was already outstanding. Level-triggered backends may treat this as
	// a no-op.
	Read(wasPending bool) error

	// ReadNow performs one read batch, reporting each message through the
	// sink. Returns true when the read side of the channel should be shut
	// down.
	ReadNow(sink *ReadSink) (shutdownInput bool, err error)

	// WriteNow performs one write attempt. Exactly one of the sink's
	// Complete methods must be called before returning without error.
	WriteNow(sink *WriteSink) error

	// Connect begins a connect attempt. initialData is non-nil only when
	// fast-open is enabled and supported; bytes the transport consumes
	// from it are accounted by the core afterwards. Returns true when the
	// connect completed synchronously; false when FinishConnect will be
	// invoked later.
	Connect(remote, local net.Addr, initialData api.Buffer) (done bool, err error)

	// FinishConnect completes a pending connect attempt. Returns false
	// while the attempt is still in progress.
	FinishConnect(requestedRemote net.Addr) (done bool, err error)
}

// Executor runs the actual close for transports that must not block the
// event loop (SO_LINGER-style). Returned by ClosePreparer.
type Executor interface {
	Execute(task func())
}

// ClosePreparer is the optional transport capability consulted before
// close. A non-nil executor moves the Close call off-loop; inbound event
// firing is trampolined back to the loop by the core.
type ClosePreparer interface {
	PrepareToClose() Executor
}

// OutboundFilter is the optional transport capability transforming
// outbound messages before they are queued (e.g. heap to direct copy).
type OutboundFilter interface {
	FilterOutboundMessage(msg any) (any, error)
}

// ScheduledReadClearer is the optional transport capability cancelling a
// previously scheduled read interest.
type ScheduledReadClearer interface {
	ClearScheduledRead()
}

// WriteFlushScheduler is the optional transport capability deferring
// flush kicks until the transport reports writable again; the transport
// then invokes Channel.WriteFlushedNow itself.
type WriteFlushScheduler interface {
	IsWriteFlushedScheduled() bool
}

// FastOpenCapable is the optional transport capability for sending
// initial data during connect.
type FastOpenCapable interface {
	SupportsFastOpen() bool
}

// OptionExtension is the optional transport capability for options the
// core does not recognize.
type OptionExtension interface {
	GetExtendedOption(opt api.Option) (any, error)
	SetExtendedOption(opt api.Option, value any) error
	IsExtendedOptionSupported(opt api.Option) bool
}
