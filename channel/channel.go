// File: channel/channel.go
// Package channel implements the per-channel state machine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Execution contract: every method below that mutates channel state runs
// on the owning event loop. Outbound-triggered inbound events (a close()
// that must fire channelInactive, for instance) are posted through the
// loop instead of fired inline so handler invocations never overlap.

package channel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/momentics/hioload-channel/api"
	"github.com/momentics/hioload-channel/concurrency"
)

type recvAllocBox struct {
	alloc api.ReadBufferAllocator
}

type addrBox struct {
	addr net.Addr
}

// Channel is the transport-independent core of one asynchronous channel.
type Channel struct {
	id                 ID
	parent             *Channel
	loop               *concurrency.EventLoop
	transport          Transport
	pipeline           *Pipeline
	closePromise       *ClosePromise
	supportsDisconnect bool
	server             bool
	logger             zerolog.Logger

	config config

	// Cross-thread state. writable is the only compare-and-set flag in
	// the core; autoRead mirrors the original's atomic int.
	writable        atomic.Int32
	autoRead        atomic.Int32
	registered      atomic.Bool
	outbound        atomic.Pointer[OutboundBuffer]
	localAddr       atomic.Pointer[addrBox]
	remoteAddr      atomic.Pointer[addrBox]
	currentRecvAlloc atomic.Pointer[recvAllocBox]

	// Event-loop-only state.
	closeInitiated           bool
	initialCloseCause        error
	readBeforeActive         api.ReadBufferAllocator
	readSinkCache            *ReadSink
	writeSinkCache           *WriteSink
	estimator                api.MessageSizeEstimatorHandle
	inWriteFlushed           bool
	neverRegistered          bool
	neverActive              bool
	inputClosedSeenErrorOnRead bool
	connectPromise           *concurrency.Promise
	connectTimeout           *concurrency.Timeout
	requestedRemote          net.Addr
}

// ChannelOption customizes channel construction.
type ChannelOption func(*Channel)

// WithParent links the channel to the acceptor that produced it.
func WithParent(parent *Channel) ChannelOption {
	return func(c *Channel) { c.parent = parent }
}

// WithSupportsDisconnect marks the channel as reconnectable
// (datagram-style transports).
func WithSupportsDisconnect() ChannelOption {
	return func(c *Channel) { c.supportsDisconnect = true }
}

// WithServer marks the channel as an acceptor. IO errors observed while
// reading never shut down an acceptor's read side.
func WithServer() ChannelOption {
	return func(c *Channel) { c.server = true }
}

// WithChannelLogger replaces the channel's logger.
func WithChannelLogger(logger zerolog.Logger) ChannelOption {
	return func(c *Channel) { c.logger = logger }
}

// WithID forces a channel id; intended for tests.
func WithID(id ID) ChannelOption {
	return func(c *Channel) { c.id = id }
}

// WithReadHandleFactory replaces the default adaptive read handles.
func WithReadHandleFactory(f api.ReadHandleFactory) ChannelOption {
	return func(c *Channel) { c.config.readFactory = f }
}

// WithWriteHandleFactory replaces the default write handles.
func WithWriteHandleFactory(f api.WriteHandleFactory) ChannelOption {
	return func(c *Channel) { c.config.writeFactory = f }
}

// WithBufferAllocator replaces the default inbound buffer allocator.
func WithBufferAllocator(a api.BufferAllocator) ChannelOption {
	return func(c *Channel) { c.config.allocator = a }
}

// New constructs a channel bound to its event loop and transport. The
// channel starts open, unregistered and writable.
func New(loop *concurrency.EventLoop, transport Transport, opts ...ChannelOption) *Channel {
	if loop == nil {
		panic("channel: event loop must not be nil")
	}
	if transport == nil {
		panic("channel: transport must not be nil")
	}
	c := &Channel{
		id:              NewID(),
		loop:            loop,
		transport:       transport,
		closePromise:    newClosePromise(),
		logger:          log.Logger,
		neverRegistered: true,
		neverActive:     true,
		config: config{
			connectTimeout: defaultConnectTimeout,
			autoClose:      true,
			waterMark:      api.DefaultWaterMark,
			allocator:      defaultAllocator,
			sizeEstimator:  NewSizeEstimator(8),
		},
	}
	for _, o := range opts {
		o(c)
	}
	if c.config.readFactory == nil {
		c.config.readFactory = NewAdaptiveReadHandleFactory(defaultMaxMessagesPerRead)
	}
	if c.config.writeFactory == nil {
		c.config.writeFactory = NewMaxMessagesWriteHandleFactory(1 << 30)
	}
	c.writable.Store(1)
	c.autoRead.Store(1)
	c.outbound.Store(NewOutboundBuffer())
	c.pipeline = newPipeline(c)
	c.logger = c.logger.With().Stringer("channel", c.id).Logger()
	return c
}

// ID returns the channel's immutable identity.
func (c *Channel) ID() ID { return c.id }

// Parent returns the acceptor that produced this channel, or nil.
func (c *Channel) Parent() *Channel { return c.parent }

// Pipeline returns the channel's handler chain.
func (c *Channel) Pipeline() *Pipeline { return c.pipeline }

// Executor returns the owning event loop.
func (c *Channel) Executor() *concurrency.EventLoop { return c.loop }

// IsOpen reports whether the underlying resource is not yet closed.
func (c *Channel) IsOpen() bool { return c.transport.IsOpen() }

// IsActive reports whether the channel can carry application data.
func (c *Channel) IsActive() bool { return c.transport.IsActive() }

// IsShutdown reports whether the given direction was shut down.
func (c *Channel) IsShutdown(direction api.ShutdownDirection) bool {
	return c.transport.IsShutdown(direction)
}

// IsRegistered reports whether the channel is registered to its loop.
func (c *Channel) IsRegistered() bool { return c.registered.Load() }

// SupportsDisconnect reports whether disconnect-then-reconnect is
// available.
func (c *Channel) SupportsDisconnect() bool { return c.supportsDisconnect }

// CloseFuture completes when the channel has closed. It cannot be
// completed externally.
func (c *Channel) CloseFuture() concurrency.Future { return c.closePromise }

// IsAutoRead reports whether reads re-arm automatically.
func (c *Channel) IsAutoRead() bool { return c.autoRead.Load() == 1 }

// Equal is identity: two channels are equal iff they are the same
// object, which the unique id guarantees.
func (c *Channel) Equal(other *Channel) bool { return c == other }

// Compare totally orders channels by id.
func (c *Channel) Compare(other *Channel) int {
	if c == other {
		return 0
	}
	return c.id.Compare(other.id)
}

// LocalAddr returns the cached local address, fetching it from the
// transport on first use. Returns nil when unknown.
func (c *Channel) LocalAddr() net.Addr {
	if box := c.localAddr.Load(); box != nil {
		return box.addr
	}
	addr, err := c.transport.LocalAddr()
	if err != nil || addr == nil {
		// Can fail on a closed socket; report unknown.
		return nil
	}
	c.localAddr.Store(&addrBox{addr: addr})
	return addr
}

// RemoteAddr returns the cached remote address, fetching it from the
// transport on first use. Returns nil when not connected.
func (c *Channel) RemoteAddr() net.Addr {
	if box := c.remoteAddr.Load(); box != nil {
		return box.addr
	}
	addr, err := c.transport.RemoteAddr()
	if err != nil || addr == nil {
		return nil
	}
	c.remoteAddr.Store(&addrBox{addr: addr})
	return addr
}

// CacheAddresses lets transports install both addresses at once, e.g.
// right after a connect completed.
func (c *Channel) CacheAddresses(local, remote net.Addr) {
	if local != nil {
		c.localAddr.Store(&addrBox{addr: local})
	}
	if remote != nil {
		c.remoteAddr.Store(&addrBox{addr: remote})
	}
}

// String renders the short id plus the known addresses; "-" marks an
// active channel, "!" an inactive one.
func (c *Channel) String() string {
	local := c.LocalAddr()
	remote := c.RemoteAddr()
	marker := " ! "
	if c.IsActive() {
		marker = " - "
	}
	switch {
	case remote != nil:
		return fmt.Sprintf("[id: 0x%s, L:%v%sR:%v]", c.id, local, marker, remote)
	case local != nil:
		return fmt.Sprintf("[id: 0x%s, L:%v]", c.id, local)
	default:
		return fmt.Sprintf("[id: 0x%s]", c.id)
	}
}

// Register attaches the channel to its event loop's IO facility.
func (c *Channel) Register() concurrency.Future {
	pr := newPromise()
	c.pipeline.invoke(func() { c.registerTransport(pr) })
	return pr
}

// Convenience delegates; all user operations route through the pipeline.

func (c *Channel) Bind(local net.Addr) concurrency.Future { return c.pipeline.Bind(local) }

func (c *Channel) Connect(remote net.Addr) concurrency.Future { return c.pipeline.Connect(remote) }

func (c *Channel) Disconnect() concurrency.Future { return c.pipeline.Disconnect() }

func (c *Channel) Close() concurrency.Future { return c.pipeline.Close() }

func (c *Channel) Shutdown(direction api.ShutdownDirection) concurrency.Future {
	return c.pipeline.Shutdown(direction)
}

func (c *Channel) Deregister() concurrency.Future { return c.pipeline.Deregister() }

func (c *Channel) Read() { c.pipeline.Read() }

func (c *Channel) Write(msg any) concurrency.Future { return c.pipeline.Write(msg) }

func (c *Channel) WriteAndFlush(msg any) concurrency.Future { return c.pipeline.WriteAndFlush(msg) }

func (c *Channel) Flush() { c.pipeline.Flush() }

// --- writability ---

func (c *Channel) totalPending() int64 {
	buf := c.outbound.Load()
	if buf == nil {
		return -1
	}
	return buf.TotalPendingWriteBytes() + c.pipeline.PendingOutboundBytes()
}

// WritableBytes reports how many bytes fit before the high watermark.
// Best-effort from any thread; never positive while the writable flag is
// down.
func (c *Channel) WritableBytes() int64 {
	total := c.totalPending()
	if total == -1 {
		return 0
	}
	bytes := c.config.getWaterMark().High - total
	if bytes > 0 {
		if c.writable.Load() == 0 {
			return 0
		}
		return bytes
	}
	return 0
}

// IsWritable reports the writability flag.
func (c *Channel) IsWritable() bool { return c.writable.Load() == 1 }

func (c *Channel) updateWritabilityIfNeeded(notify, notifyLater bool) {
	total := c.totalPending()
	if total == -1 {
		return
	}
	mark := c.config.getWaterMark()
	if total > mark.High {
		if c.writable.CompareAndSwap(1, 0) {
			c.fireWritabilityChangedIfNeeded(notify, notifyLater)
		}
	} else if total < mark.Low {
		if c.writable.CompareAndSwap(0, 1) {
			c.fireWritabilityChangedIfNeeded(notify, notifyLater)
		}
	}
}

func (c *Channel) fireWritabilityChangedIfNeeded(notify, notifyLater bool) {
	if !notify {
		return
	}
	if notifyLater {
		c.invokeLater(c.pipeline.FireChannelWritabilityChanged)
	} else {
		c.pipeline.FireChannelWritabilityChanged()
	}
}

// --- registration ---

func (c *Channel) registerTransport(promise *concurrency.Promise) {
	c.assertEventLoop()

	if c.IsRegistered() {
		promise.TryFailure(api.ErrAlreadyRegistered)
		return
	}
	// The channel may have been closed while the register call was
	// outside the event loop.
	if !promise.SetUncancellable() || !c.ensureOpen(promise) {
		return
	}
	firstRegistration := c.neverRegistered

	if src, ok := c.transport.(api.IOSource); ok {
		if err := c.loop.RegisterIO(src.IOHandle()); err != nil {
			// Close directly to avoid a descriptor leak.
			c.closeNowAndFail(promise, err)
			return
		}
	}

	c.neverRegistered = false
	c.registered.Store(true)
	c.safeSetSuccess(promise)
	c.pipeline.FireChannelRegistered()
	// Only fire channelActive on the first registration so a
	// deregister/re-register cycle never re-fires it.
	if c.transport.IsActive() {
		if firstRegistration {
			c.fireChannelActiveIfNotActiveBefore()
		}
		c.readIfIsAutoRead()
	}
}

func (c *Channel) fireChannelActiveIfNotActiveBefore() bool {
	if c.neverActive {
		c.neverActive = false
		c.pipeline.FireChannelActive()
		return true
	}
	return false
}

func (c *Channel) closeNowAndFail(promise *concurrency.Promise, cause error) {
	c.closeForcibly()
	c.closePromise.setClosed()
	c.safeSetFailure(promise, cause)
}

// --- bind ---

func (c *Channel) bindTransport(local net.Addr, promise *concurrency.Promise) {
	c.assertEventLoop()

	if !promise.SetUncancellable() || !c.ensureOpen(promise) {
		return
	}

	c.warnOnNonWildcardBroadcast(local)

	wasActive := c.transport.IsActive()
	if err := c.transport.Bind(local); err != nil {
		c.safeSetFailure(promise, err)
		c.closeIfClosed()
		return
	}

	if !wasActive && c.transport.IsActive() {
		c.invokeLater(func() {
			if c.fireChannelActiveIfNotActiveBefore() {
				c.readIfIsAutoRead()
			}
		})
	}

	c.safeSetSuccess(promise)
}

// warnOnNonWildcardBroadcast mirrors the long-standing trap: a non-root
// user can't receive broadcast packets on *nix unless the socket is
// bound to a wildcard address.
func (c *Channel) warnOnNonWildcardBroadcast(local net.Addr) {
	udp, ok := local.(*net.UDPAddr)
	if !ok || !c.IsOptionSupported(api.SoBroadcast) {
		return
	}
	v, err := c.GetOptionAny(api.SoBroadcast)
	if err != nil || v != true {
		return
	}
	if udp.IP != nil && !udp.IP.IsUnspecified() && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		c.logger.Warn().Stringer("address", udp).
			Msg("a non-root user can't receive a broadcast packet if the socket " +
				"is not bound to a wildcard address; binding to a non-wildcard " +
				"address anyway as requested")
	}
}

// --- connect ---

func (c *Channel) connectTransport(remote, local net.Addr, promise *concurrency.Promise) {
	c.assertEventLoop()

	// The connect promise stays cancellable while the attempt is pending;
	// a user cancellation must cancel the timeout and force-close.
	if promise.IsCanceled() || !c.ensureOpen(promise) {
		return
	}

	failConnect := func(cause error) {
		c.closeIfClosed()
		promise.TryFailure(api.AnnotateConnectError(cause, remote))
	}

	if c.connectPromise != nil {
		failConnect(api.ErrConnectionPending)
		return
	}
	if c.RemoteAddr() != nil {
		failConnect(api.ErrAlreadyConnected)
		return
	}

	wasActive := c.transport.IsActive()
	var initialData api.Buffer
	readable := 0
	if c.supportsFastOpen() && c.config.isFastOpenConnect() {
		if buf := c.outbound.Load(); buf != nil {
			buf.AddFlush()
			if b, ok := buf.Current().(api.Buffer); ok {
				initialData = b
				readable = b.ReadableBytes()
			}
		}
	}

	done, err := c.transport.Connect(remote, local, initialData)
	if err != nil {
		failConnect(err)
		return
	}
	if done {
		c.fulfillConnectPromise(promise, wasActive)
		if initialData != nil {
			if buf := c.outbound.Load(); buf != nil {
				buf.RemoveBytes(int64(readable - initialData.ReadableBytes()))
			}
		}
		return
	}

	c.connectPromise = promise
	c.requestedRemote = remote

	if timeout := c.config.getConnectTimeout(); timeout > 0 {
		c.connectTimeout = c.loop.Schedule(timeout, func() {
			cp := c.connectPromise
			if cp != nil && !cp.IsDone() && cp.TryFailure(&api.ConnectTimeoutError{Remote: remote}) {
				c.closeTransport(newPromise())
			}
		})
	}

	promise.AddListener(func(f concurrency.Future) {
		if !f.IsCanceled() {
			return
		}
		// Cancellation may arrive from any goroutine; clean up on the
		// loop.
		c.invokeLater(func() {
			if c.connectTimeout != nil {
				c.connectTimeout.Cancel()
				c.connectTimeout = nil
			}
			c.connectPromise = nil
			c.closeTransport(newPromise())
		})
	})
}

// FinishConnect must be invoked by the transport, on the event loop,
// when the pending connect attempt is ready to be completed.
func (c *Channel) FinishConnect() {
	c.assertEventLoop()

	connectStillInProgress := false
	defer func() {
		if connectStillInProgress {
			return
		}
		if c.connectTimeout != nil {
			c.connectTimeout.Cancel()
			c.connectTimeout = nil
		}
		c.connectPromise = nil
	}()

	wasActive := c.transport.IsActive()
	done, err := c.transport.FinishConnect(c.requestedRemote)
	if err != nil {
		c.fulfillConnectPromiseFailure(c.connectPromise, api.AnnotateConnectError(err, c.requestedRemote))
		return
	}
	if !done {
		connectStillInProgress = true
		return
	}
	c.requestedRemote = nil
	c.fulfillConnectPromise(c.connectPromise, wasActive)
}

func (c *Channel) fulfillConnectPromise(promise *concurrency.Promise, wasActive bool) {
	if promise == nil {
		// Closed via cancellation; the promise has been notified already.
		return
	}

	// Completing the promise may run listeners that close the channel,
	// so sample the state first.
	active := c.transport.IsActive()
	promiseSet := promise.TrySuccess()

	// The activation happened regardless of a racing cancellation.
	if !wasActive && active {
		if c.fireChannelActiveIfNotActiveBefore() {
			c.readIfIsAutoRead()
		}
	}

	if !promiseSet {
		c.closeTransport(newPromise())
	}
}

func (c *Channel) fulfillConnectPromiseFailure(promise *concurrency.Promise, cause error) {
	if promise == nil {
		return
	}
	promise.TryFailure(cause)
	c.closeIfClosed()
}

func (c *Channel) cancelConnect() {
	if cp := c.connectPromise; cp != nil {
		cp.TryFailure(api.NewClosedError(nil))
		c.connectPromise = nil
	}
	if to := c.connectTimeout; to != nil {
		to.Cancel()
		c.connectTimeout = nil
	}
}

// IsConnectPending reports whether a connect attempt awaits
// FinishConnect.
func (c *Channel) IsConnectPending() bool {
	c.assertEventLoop()
	return c.connectPromise != nil
}

// --- disconnect ---

func (c *Channel) disconnectTransport(promise *concurrency.Promise) {
	c.assertEventLoop()

	if !promise.SetUncancellable() {
		return
	}

	wasActive := c.transport.IsActive()
	if err := c.transport.Disconnect(); err != nil {
		c.safeSetFailure(promise, err)
		c.closeIfClosed()
		return
	}
	c.localAddr.Store(nil)
	c.remoteAddr.Store(nil)
	c.neverActive = true

	if wasActive && !c.transport.IsActive() {
		c.invokeLater(c.pipeline.FireChannelInactive)
	}

	c.safeSetSuccess(promise)
	c.closeIfClosed() // Disconnect might have closed the channel.
}

// --- close / shutdown / deregister ---

func (c *Channel) closeTransport(promise *concurrency.Promise) {
	c.assertEventLoop()

	cause := api.NewClosedError(nil)
	c.close(promise, cause, cause)
}

func (c *Channel) close(promise *concurrency.Promise, cause error, closeCause error) {
	if !promise.SetUncancellable() {
		return
	}

	if c.closeInitiated {
		if c.closePromise.IsDone() {
			// Closed already.
			c.safeSetSuccess(promise)
		} else {
			c.closePromise.AddListener(func(concurrency.Future) { promise.TrySuccess() })
		}
		return
	}
	c.closeInitiated = true

	wasActive := c.transport.IsActive()
	outbound := c.outbound.Swap(nil) // Disallow adding any messages and flushes.

	var closeExecutor Executor
	if p, ok := c.transport.(ClosePreparer); ok {
		closeExecutor = p.PrepareToClose()
	}
	if closeExecutor != nil {
		closeExecutor.Execute(func() {
			c.doClose0(promise)
			// Trampoline the inbound firings back onto the loop.
			c.invokeLater(func() {
				c.closeAndUpdateWritability(outbound, cause, closeCause)
				c.fireChannelInactiveAndDeregister(wasActive)
			})
		})
		return
	}
	c.closeNow(outbound, wasActive, promise, cause, closeCause)
}

func (c *Channel) closeNow(outbound *OutboundBuffer, wasActive bool, promise *concurrency.Promise,
	cause error, closeCause error) {
	c.doClose0(promise)
	c.closeAndUpdateWritability(outbound, cause, closeCause)
	if c.inWriteFlushed {
		c.invokeLater(func() { c.fireChannelInactiveAndDeregister(wasActive) })
	} else {
		c.fireChannelInactiveAndDeregister(wasActive)
	}
}

func (c *Channel) closeAndUpdateWritability(outbound *OutboundBuffer, cause, closeCause error) {
	if outbound != nil {
		// Fail all the queued messages.
		outbound.FailFlushedAndClose(cause, closeCause)
		c.updateWritabilityIfNeeded(false, false)
	}
}

func (c *Channel) doClose0(promise *concurrency.Promise) {
	c.cancelConnect()
	err := c.transport.Close()
	c.closePromise.setClosed()
	if err != nil {
		c.safeSetFailure(promise, err)
		return
	}
	c.safeSetSuccess(promise)
}

func (c *Channel) fireChannelInactiveAndDeregister(wasActive bool) {
	c.deregister(newPromise(), wasActive && !c.transport.IsActive())
}

// closeForcibly closes the transport immediately, without draining the
// outbound buffer or firing events.
func (c *Channel) closeForcibly() {
	c.assertEventLoop()
	c.cancelConnect()
	if err := c.transport.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to close a channel")
	}
}

func (c *Channel) shutdownOutput(promise *concurrency.Promise, cause error) bool {
	outbound := c.outbound.Swap(nil) // Disallow adding any messages and flushes.
	if outbound == nil {
		promise.TryFailure(api.NewClosedError(nil))
		return false
	}

	shutdownCause := &api.OutputShutdownError{Cause: cause}
	// Shutting down the output must not deregister: the half-closed side
	// must keep receiving data sent by the peer before its FIN.
	if err := c.transport.Shutdown(api.Outbound); err != nil {
		promise.TryFailure(err)
	} else {
		promise.TrySuccess()
	}
	outbound.FailFlushedAndClose(shutdownCause, shutdownCause)
	return true
}

func (c *Channel) shutdownTransport(direction api.ShutdownDirection, promise *concurrency.Promise) {
	c.assertEventLoop()

	if !promise.SetUncancellable() {
		return
	}
	if !c.transport.IsActive() {
		if c.transport.IsOpen() {
			promise.TryFailure(api.ErrNotYetConnected)
		} else {
			promise.TryFailure(api.NewClosedError(c.initialCloseCause))
		}
		return
	}
	if c.transport.IsShutdown(direction) {
		// Already shutdown, so this is a no-op.
		promise.TrySuccess()
		return
	}

	fireEvent := false
	switch direction {
	case api.Outbound:
		fireEvent = c.shutdownOutput(promise, nil)
	case api.Inbound:
		if err := c.transport.Shutdown(direction); err != nil {
			promise.TryFailure(err)
		} else {
			promise.TrySuccess()
			fireEvent = true
		}
	default:
		promise.TryFailure(fmt.Errorf("channel: unknown shutdown direction %d", direction))
	}
	if fireEvent {
		c.pipeline.FireChannelShutdown(direction)
	}
}

func (c *Channel) deregisterTransport(promise *concurrency.Promise) {
	c.assertEventLoop()
	c.deregister(promise, false)
}

func (c *Channel) deregister(promise *concurrency.Promise, fireChannelInactive bool) {
	if !promise.SetUncancellable() {
		return
	}

	if !c.registered.Load() {
		c.safeSetSuccess(promise)
		return
	}

	// A handler may call deregister() while the pipeline is mid-dispatch;
	// the actual deregistration is deferred so the current handler
	// finishes on the old loop before anything moves.
	c.invokeLater(func() {
		if src, ok := c.transport.(api.IOSource); ok {
			if err := c.loop.DeregisterIO(src.IOHandle()); err != nil {
				c.logger.Warn().Err(err).Msg("unexpected exception occurred while deregistering a channel")
			}
		}
		c.deregisterDone(fireChannelInactive, promise)
	})
}

func (c *Channel) deregisterDone(fireChannelInactive bool, promise *concurrency.Promise) {
	if fireChannelInactive {
		c.pipeline.FireChannelInactive()
	}
	// Clear scheduled reads so a re-registered channel can schedule anew.
	c.clearScheduledRead()

	if c.registered.Load() {
		c.registered.Store(false)
		c.pipeline.FireChannelUnregistered()

		if !c.transport.IsOpen() {
			// Drain the pipeline so handlerRemoved runs and resources are
			// released; RemoveLast tolerates concurrent removals.
			for {
				if _, ok := c.pipeline.RemoveLast(); !ok {
					break
				}
			}
		}
	}
	c.safeSetSuccess(promise)
}

// --- read path ---

func (c *Channel) readTransport(alloc api.ReadBufferAllocator) {
	c.assertEventLoop()

	if !c.transport.IsActive() {
		// Replayed once the channel becomes active.
		c.readBeforeActive = alloc
		return
	}
	if c.transport.IsShutdown(api.Inbound) {
		return
	}
	wasReadPending := c.currentRecvAlloc.Load() != nil
	c.currentRecvAlloc.Store(&recvAllocBox{alloc: alloc})
	if err := c.transport.Read(wasReadPending); err != nil {
		c.invokeLater(func() { c.pipeline.FireChannelExceptionCaught(err) })
		c.closeTransport(newPromise())
	}
}

// ReadPending reports whether a read is scheduled and awaiting data.
func (c *Channel) ReadPending() bool {
	return c.currentRecvAlloc.Load() != nil
}

func (c *Channel) pendingReadAllocator() api.ReadBufferAllocator {
	if box := c.currentRecvAlloc.Load(); box != nil {
		return box.alloc
	}
	return nil
}

// ReadNow must be invoked by the transport, on the event loop, when
// inbound data is available.
func (c *Channel) ReadNow() {
	c.assertEventLoop()

	if c.transport.IsShutdown(api.Inbound) &&
		(c.inputClosedSeenErrorOnRead || !c.config.isAllowHalfClosure()) {
		// There is nothing to read anymore.
		c.clearScheduledRead()
		return
	}

	sink := c.readSink()
	shutdownInput, err := c.transport.ReadNow(sink)
	if err != nil {
		switch {
		case sink.completeFailure(err):
			c.shutdownReadSide()
		case errors.Is(err, api.ErrPortUnreachable):
			// Transient for connectionless transports; the channel lives on.
		default:
			c.closeTransport(newPromise())
		}
		c.clearReadIfNotRearmed()
		return
	}
	sink.complete()
	c.clearReadIfNotRearmed()

	if shutdownInput {
		c.shutdownReadSide()
	} else {
		c.readIfIsAutoRead()
	}
}

// clearReadIfNotRearmed drops the scheduled read when neither a handler
// re-issued read() during dispatch nor auto-read will.
func (c *Channel) clearReadIfNotRearmed() {
	if !c.ReadPending() && !c.IsAutoRead() {
		c.clearScheduledRead()
	}
}

func (c *Channel) shutdownReadSide() {
	if !c.transport.IsShutdown(api.Inbound) {
		if c.config.isAllowHalfClosure() {
			c.shutdownTransport(api.Inbound, newPromise())
		} else {
			c.closeTransport(newPromise())
		}
		return
	}
	c.inputClosedSeenErrorOnRead = true
}

func (c *Channel) clearScheduledRead() {
	c.assertEventLoop()
	c.currentRecvAlloc.Store(nil)
	if clearer, ok := c.transport.(ScheduledReadClearer); ok {
		clearer.ClearScheduledRead()
	}
}

func (c *Channel) readIfIsAutoRead() {
	c.assertEventLoop()

	if c.readBeforeActive != nil {
		alloc := c.readBeforeActive
		c.readBeforeActive = nil
		c.readTransport(alloc)
	} else if c.IsAutoRead() {
		c.pipeline.Read()
	}
}

func (c *Channel) setAutoRead(on bool) {
	var next int32
	if on {
		next = 1
	}
	was := c.autoRead.Swap(next) == 1
	if on && !was {
		c.pipeline.Read()
	} else if !on && was {
		c.currentRecvAlloc.Store(nil)
		if c.loop.InEventLoop() {
			c.clearScheduledRead()
		} else {
			c.invokeLater(func() {
				if !c.ReadPending() && !c.IsAutoRead() {
					// Still no read triggered, so clear it now.
					c.clearScheduledRead()
				}
			})
		}
	}
}

// --- write path ---

func (c *Channel) writeTransport(msg any, promise *concurrency.Promise) {
	c.assertEventLoop()

	outbound := c.outbound.Load()
	if outbound == nil {
		// Release the message immediately to prevent a resource leak,
		// then fail: closed when inactive, output-shutdown otherwise.
		api.Dispose(msg)
		var cause error
		if !c.transport.IsActive() {
			cause = api.NewClosedError(c.initialCloseCause)
		} else {
			cause = &api.OutputShutdownError{}
		}
		c.safeSetFailure(promise, cause)
		return
	}

	filtered, size, err := c.filterAndEstimate(msg)
	if err != nil {
		api.Dispose(filtered)
		c.safeSetFailure(promise, err)
		return
	}

	outbound.AddMessage(filtered, int64(size), promise)
	c.updateWritabilityIfNeeded(true, false)
}

// filterAndEstimate applies the transport's outbound transform and the
// size estimator; estimator panics become failures so the message is
// still disposed by the caller.
func (c *Channel) filterAndEstimate(msg any) (filtered any, size int, err error) {
	defer func() {
		if r := recover(); r != nil {
			if filtered == nil {
				filtered = msg
			}
			err = recoveredError(r)
		}
	}()

	filtered = msg
	if f, ok := c.transport.(OutboundFilter); ok {
		filtered, err = f.FilterOutboundMessage(msg)
		if err != nil {
			if filtered == nil {
				filtered = msg
			}
			return filtered, 0, err
		}
	}
	if c.estimator == nil {
		c.estimator = c.config.getSizeEstimator().NewEstimatorHandle()
	}
	size = c.estimator.Size(filtered)
	if size < 0 {
		size = 0
	}
	return filtered, size, nil
}

func (c *Channel) flushTransport() {
	c.assertEventLoop()

	outbound := c.outbound.Load()
	if outbound == nil {
		return
	}
	outbound.AddFlush()
	c.writeFlushed()
}

func (c *Channel) writeFlushed() {
	c.assertEventLoop()

	if s, ok := c.transport.(WriteFlushScheduler); ok && s.IsWriteFlushedScheduled() {
		// The transport will call WriteFlushedNow once writable again.
		return
	}
	c.WriteFlushedNow()
}

// WriteFlushedNow runs the write loop immediately. Transports whose
// flush kicks are deferred (IsWriteFlushedScheduled) call this when the
// underlying resource becomes writable.
func (c *Channel) WriteFlushedNow() {
	c.assertEventLoop()

	if c.inWriteFlushed {
		// Avoid reentrance.
		return
	}
	outbound := c.outbound.Load()
	if outbound == nil || outbound.IsEmpty() {
		return
	}

	c.inWriteFlushed = true
	defer func() { c.inWriteFlushed = false }()

	if !c.transport.IsActive() {
		// Fail all pending flushed requests: not-yet-connected while the
		// channel is still open, the cached close cause otherwise.
		if c.transport.IsOpen() {
			outbound.FailFlushed(api.ErrNotYetConnected)
			c.updateWritabilityIfNeeded(true, true)
		} else {
			// No writability event; the channel is closed already.
			outbound.FailFlushed(api.NewClosedError(c.initialCloseCause))
		}
		return
	}

	c.writeSink().processWriteLoop(outbound)
}

// writeLoopComplete reschedules a flush when the loop ended with work
// left.
func (c *Channel) writeLoopComplete(allWritten bool) {
	if !allWritten {
		c.invokeLater(c.writeFlushed)
	}
}

func (c *Channel) closeWithErrorFromWriteFlushed(cause error) {
	// Close so isActive/isOpen/writableBytes stop reporting a live
	// channel before the promises are notified.
	c.initialCloseCause = cause
	c.close(newPromise(), cause, api.NewClosedError(cause))
}

func (c *Channel) handleWriteError(cause error) {
	c.assertEventLoop()

	if api.IsIOError(cause) && c.config.isAutoClose() {
		c.closeWithErrorFromWriteFlushed(cause)
		return
	}

	shutdownErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recoveredError(r)
			}
		}()
		if c.shutdownOutput(newPromise(), cause) {
			c.pipeline.FireChannelShutdown(api.Outbound)
		}
		return nil
	}()
	if shutdownErr != nil {
		c.initialCloseCause = cause
		c.close(newPromise(), shutdownErr, api.NewClosedError(cause))
	}
}

// --- helpers ---

func (c *Channel) ensureOpen(promise *concurrency.Promise) bool {
	if c.transport.IsOpen() {
		return true
	}
	c.safeSetFailure(promise, api.NewClosedError(c.initialCloseCause))
	return false
}

func (c *Channel) safeSetSuccess(promise *concurrency.Promise) {
	if !promise.TrySuccess() {
		c.logger.Warn().Msg("failed to mark a promise as success because it is done already")
	}
}

func (c *Channel) safeSetFailure(promise *concurrency.Promise, cause error) {
	if !promise.TryFailure(cause) {
		c.logger.Warn().Err(cause).Msg("failed to mark a promise as failure because it is done already")
	}
}

func (c *Channel) closeIfClosed() {
	c.assertEventLoop()

	if c.transport.IsOpen() {
		return
	}
	c.closeTransport(newPromise())
}

// invokeLater posts task to the loop. Outbound operations use it to
// trigger inbound events so handler invocations never overlap.
func (c *Channel) invokeLater(task func()) {
	if err := c.loop.Execute(task); err != nil {
		c.logger.Warn().Err(err).Msg("can't invoke task later as event loop rejected it")
	}
}

func (c *Channel) assertEventLoop() {
	if loopAssertions.Load() && !c.loop.InEventLoop() {
		panic("channel: state-modifying entry point invoked off the event loop")
	}
}

var loopAssertions atomic.Bool

func init() { loopAssertions.Store(true) }

// SetLoopAssertions toggles the debug thread-identity assertion on
// state-modifying entry points.
func SetLoopAssertions(on bool) { loopAssertions.Store(on) }
