// File: channel/pipeline.go
// Package channel implements the handler chain channels deliver events
// through.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The pipeline is deliberately small: handlers opt into events by
// implementing the matching interface, inbound events visit handlers in
// order, and outbound operations funnel into the channel core on the
// event loop. There are no per-handler executors and no handler-level
// outbound buffering; PendingOutboundBytes exists because it is part of
// the watermark equation.

package channel

import (
	"fmt"
	"net"
	"sync"

	"github.com/momentics/hioload-channel/api"
	"github.com/momentics/hioload-channel/concurrency"
)

// Handler is a pipeline member. Implement any of the event interfaces
// below to receive the corresponding callbacks.
type Handler interface{}

// RegisteredHandler receives registration events. May fire multiple
// times across re-registrations.
type RegisteredHandler interface {
	ChannelRegistered(ctx *HandlerContext)
}

// UnregisteredHandler receives deregistration events.
type UnregisteredHandler interface {
	ChannelUnregistered(ctx *HandlerContext)
}

// ActiveHandler receives the at-most-once activation event.
type ActiveHandler interface {
	ChannelActive(ctx *HandlerContext)
}

// InactiveHandler receives the deactivation event.
type InactiveHandler interface {
	ChannelInactive(ctx *HandlerContext)
}

// ShutdownHandler receives per-direction shutdown events.
type ShutdownHandler interface {
	ChannelShutdown(ctx *HandlerContext, direction api.ShutdownDirection)
}

// ReadHandler receives inbound messages.
type ReadHandler interface {
	ChannelRead(ctx *HandlerContext, msg any)
}

// ReadCompleteHandler receives the end-of-read-batch event.
type ReadCompleteHandler interface {
	ChannelReadComplete(ctx *HandlerContext)
}

// WritabilityHandler receives writability transitions.
type WritabilityHandler interface {
	ChannelWritabilityChanged(ctx *HandlerContext)
}

// ExceptionHandler receives errors observed on the inbound path.
type ExceptionHandler interface {
	ChannelExceptionCaught(ctx *HandlerContext, err error)
}

// LifecycleHandler is notified when it joins or leaves a pipeline.
type LifecycleHandler interface {
	HandlerAdded(ctx *HandlerContext)
	HandlerRemoved(ctx *HandlerContext)
}

// HandlerContext ties a handler to its pipeline position.
type HandlerContext struct {
	name     string
	handler  Handler
	pipeline *Pipeline
}

// Name returns the handler's registration name.
func (ctx *HandlerContext) Name() string { return ctx.name }

// Handler returns the handler itself.
func (ctx *HandlerContext) Handler() Handler { return ctx.handler }

// Channel returns the owning channel.
func (ctx *HandlerContext) Channel() *Channel { return ctx.pipeline.channel }

// Pipeline returns the owning pipeline.
func (ctx *HandlerContext) Pipeline() *Pipeline { return ctx.pipeline }

// Pipeline is the ordered handler chain of one channel. The channel
// exclusively owns its pipeline; the pipeline holds a non-owning
// back-reference.
type Pipeline struct {
	channel *Channel

	mu       sync.Mutex
	contexts []*HandlerContext
	nameSeq  int
}

func newPipeline(c *Channel) *Pipeline {
	return &Pipeline{channel: c}
}

// Channel returns the owning channel.
func (p *Pipeline) Channel() *Channel { return p.channel }

// AddLast appends a handler. An empty name is auto-generated. Duplicate
// names are rejected.
func (p *Pipeline) AddLast(name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("pipeline: handler must not be nil")
	}
	p.mu.Lock()
	if name == "" {
		p.nameSeq++
		name = fmt.Sprintf("handler#%d", p.nameSeq)
	}
	for _, ctx := range p.contexts {
		if ctx.name == name {
			p.mu.Unlock()
			return fmt.Errorf("pipeline: duplicate handler name %q", name)
		}
	}
	ctx := &HandlerContext{name: name, handler: h, pipeline: p}
	p.contexts = append(p.contexts, ctx)
	p.mu.Unlock()

	if lh, ok := h.(LifecycleHandler); ok {
		p.invoke(func() { lh.HandlerAdded(ctx) })
	}
	return nil
}

// Remove removes the handler registered under name.
func (p *Pipeline) Remove(name string) error {
	p.mu.Lock()
	for i, ctx := range p.contexts {
		if ctx.name == name {
			p.contexts = append(p.contexts[:i], p.contexts[i+1:]...)
			p.mu.Unlock()
			p.notifyRemoved(ctx)
			return nil
		}
	}
	p.mu.Unlock()
	return fmt.Errorf("pipeline: no handler named %q", name)
}

// RemoveLast pops the tail handler. ok is false when the pipeline is
// empty; concurrent removals are tolerated.
func (p *Pipeline) RemoveLast() (Handler, bool) {
	p.mu.Lock()
	n := len(p.contexts)
	if n == 0 {
		p.mu.Unlock()
		return nil, false
	}
	ctx := p.contexts[n-1]
	p.contexts = p.contexts[:n-1]
	p.mu.Unlock()
	p.notifyRemoved(ctx)
	return ctx.handler, true
}

func (p *Pipeline) notifyRemoved(ctx *HandlerContext) {
	if lh, ok := ctx.handler.(LifecycleHandler); ok {
		p.invoke(func() { lh.HandlerRemoved(ctx) })
	}
}

// IsEmpty reports whether no handlers remain.
func (p *Pipeline) IsEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts) == 0
}

// Names lists handler names in pipeline order.
func (p *Pipeline) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.contexts))
	for i, ctx := range p.contexts {
		names[i] = ctx.name
	}
	return names
}

// PendingOutboundBytes contributes to the watermark equation. This
// pipeline performs no handler-level buffering, so it is always zero.
func (p *Pipeline) PendingOutboundBytes() int64 { return 0 }

func (p *Pipeline) snapshot() []*HandlerContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*HandlerContext, len(p.contexts))
	copy(out, p.contexts)
	return out
}

// invoke runs fn on the event loop, inline when already there.
func (p *Pipeline) invoke(fn func()) {
	loop := p.channel.loop
	if loop.InEventLoop() {
		fn()
		return
	}
	if err := loop.Execute(fn); err != nil {
		p.channel.logger.Warn().Err(err).Msg("pipeline event dropped, loop is shut down")
	}
}

// each dispatches one inbound event to every opted-in handler in order,
// converting handler panics into exception events.
func each[T any](p *Pipeline, fire func(T)) {
	for _, ctx := range p.snapshot() {
		h, ok := ctx.handler.(T)
		if !ok {
			continue
		}
		p.guard(ctx, func() { fire(h) })
	}
}

func (p *Pipeline) guard(ctx *HandlerContext, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := recoveredError(r)
			p.channel.logger.Warn().Err(err).Str("handler", ctx.name).Msg("handler panicked")
			if eh, ok := ctx.handler.(ExceptionHandler); ok {
				eh.ChannelExceptionCaught(ctx, err)
			}
		}
	}()
	fn()
}

// FireChannelRegistered delivers a registration event.
func (p *Pipeline) FireChannelRegistered() {
	p.invoke(func() {
		each(p, func(h RegisteredHandler) { h.ChannelRegistered(p.ctxOf(h)) })
	})
}

// FireChannelUnregistered delivers a deregistration event.
func (p *Pipeline) FireChannelUnregistered() {
	p.invoke(func() {
		each(p, func(h UnregisteredHandler) { h.ChannelUnregistered(p.ctxOf(h)) })
	})
}

// FireChannelActive delivers the activation event.
func (p *Pipeline) FireChannelActive() {
	p.invoke(func() {
		each(p, func(h ActiveHandler) { h.ChannelActive(p.ctxOf(h)) })
	})
}

// FireChannelInactive delivers the deactivation event.
func (p *Pipeline) FireChannelInactive() {
	p.invoke(func() {
		each(p, func(h InactiveHandler) { h.ChannelInactive(p.ctxOf(h)) })
	})
}

// FireChannelShutdown delivers a per-direction shutdown event.
func (p *Pipeline) FireChannelShutdown(direction api.ShutdownDirection) {
	p.invoke(func() {
		each(p, func(h ShutdownHandler) { h.ChannelShutdown(p.ctxOf(h), direction) })
	})
}

// FireChannelRead delivers one inbound message.
func (p *Pipeline) FireChannelRead(msg any) {
	p.invoke(func() {
		each(p, func(h ReadHandler) { h.ChannelRead(p.ctxOf(h), msg) })
	})
}

// FireChannelReadComplete delivers the end-of-batch event.
func (p *Pipeline) FireChannelReadComplete() {
	p.invoke(func() {
		each(p, func(h ReadCompleteHandler) { h.ChannelReadComplete(p.ctxOf(h)) })
	})
}

// FireChannelWritabilityChanged delivers a writability transition.
func (p *Pipeline) FireChannelWritabilityChanged() {
	p.invoke(func() {
		each(p, func(h WritabilityHandler) { h.ChannelWritabilityChanged(p.ctxOf(h)) })
	})
}

// FireChannelExceptionCaught delivers an inbound error.
func (p *Pipeline) FireChannelExceptionCaught(err error) {
	p.invoke(func() {
		each(p, func(h ExceptionHandler) { h.ChannelExceptionCaught(p.ctxOf(h), err) })
	})
}

func (p *Pipeline) ctxOf(h any) *HandlerContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ctx := range p.contexts {
		if ctx.handler == h {
			return ctx
		}
	}
	// Handler was removed mid-dispatch; hand out a detached context.
	return &HandlerContext{name: "", handler: h.(Handler), pipeline: p}
}

// Bind binds the channel to a local address.
func (p *Pipeline) Bind(local net.Addr) concurrency.Future {
	pr := newPromise()
	p.invoke(func() { p.channel.bindTransport(local, pr) })
	return pr
}

// Connect connects to a remote address.
func (p *Pipeline) Connect(remote net.Addr) concurrency.Future {
	return p.ConnectWith(remote, nil)
}

// ConnectWith connects to a remote address from a specific local one.
func (p *Pipeline) ConnectWith(remote, local net.Addr) concurrency.Future {
	pr := newPromise()
	p.invoke(func() { p.channel.connectTransport(remote, local, pr) })
	return pr
}

// Disconnect disconnects from the remote peer. Transports without
// disconnect support degrade to a full close.
func (p *Pipeline) Disconnect() concurrency.Future {
	if !p.channel.supportsDisconnect {
		return p.Close()
	}
	pr := newPromise()
	p.invoke(func() { p.channel.disconnectTransport(pr) })
	return pr
}

// Close closes the channel. Idempotent.
func (p *Pipeline) Close() concurrency.Future {
	pr := newPromise()
	p.invoke(func() { p.channel.closeTransport(pr) })
	return pr
}

// Shutdown shuts down one direction of the channel.
func (p *Pipeline) Shutdown(direction api.ShutdownDirection) concurrency.Future {
	pr := newPromise()
	p.invoke(func() { p.channel.shutdownTransport(direction, pr) })
	return pr
}

// Deregister detaches the channel from its event loop's IO facility.
func (p *Pipeline) Deregister() concurrency.Future {
	pr := newPromise()
	p.invoke(func() { p.channel.deregisterTransport(pr) })
	return pr
}

// Read requests one read with the default buffer strategy.
func (p *Pipeline) Read() {
	p.ReadWith(DefaultReadBufferAllocator)
}

// ReadWith requests one read with an explicit buffer strategy.
func (p *Pipeline) ReadWith(alloc api.ReadBufferAllocator) {
	p.invoke(func() { p.channel.readTransport(alloc) })
}

// Write enqueues an outbound message without flushing.
func (p *Pipeline) Write(msg any) concurrency.Future {
	pr := newPromise()
	loop := p.channel.loop
	if loop.InEventLoop() {
		p.channel.writeTransport(msg, pr)
		return pr
	}
	if err := loop.Execute(func() { p.channel.writeTransport(msg, pr) }); err != nil {
		api.Dispose(msg)
		pr.TryFailure(err)
	}
	return pr
}

// WriteAndFlush enqueues an outbound message and flushes.
func (p *Pipeline) WriteAndFlush(msg any) concurrency.Future {
	pr := newPromise()
	loop := p.channel.loop
	write := func() {
		p.channel.writeTransport(msg, pr)
		p.channel.flushTransport()
	}
	if loop.InEventLoop() {
		write()
		return pr
	}
	if err := loop.Execute(write); err != nil {
		api.Dispose(msg)
		pr.TryFailure(err)
	}
	return pr
}

// Flush promotes pending writes and kicks the write loop.
func (p *Pipeline) Flush() {
	p.invoke(func() { p.channel.flushTransport() })
}
