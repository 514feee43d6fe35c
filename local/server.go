// File: local/server.go
// Package local implements the in-process acceptor transport.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package local

import (
	"errors"
	"net"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-channel/api"
	"github.com/momentics/hioload-channel/channel"
	"github.com/momentics/hioload-channel/concurrency"
)

var errServerOperation = errors.New("local: operation not supported on a server channel")

// ServerOption customizes server channel construction.
type ServerOption func(*serverTransport)

// WithChildEventLoop selects the loop accepted child channels are
// created on. Defaults to the server's own loop.
func WithChildEventLoop(provider func() *concurrency.EventLoop) ServerOption {
	return func(t *serverTransport) { t.childLoop = provider }
}

// serverTransport is the acceptor side: bind publishes the address,
// incoming connects enqueue the accepted child channel, and the read
// loop delivers children as channelRead messages.
type serverTransport struct {
	ch        *channel.Channel
	childLoop func() *concurrency.EventLoop

	mu       sync.Mutex
	bound    Addr
	hasBound bool
	closed   bool
	accepted *queue.Queue // of *channel.Channel
}

// NewServerChannel creates an in-process acceptor channel on the given
// loop. Accepted children arrive on the server pipeline as channelRead
// messages; an acceptor handler registers them.
func NewServerChannel(loop *concurrency.EventLoop, opts ...ServerOption) *channel.Channel {
	t := &serverTransport{accepted: queue.New()}
	for _, o := range opts {
		o(t)
	}
	ch := channel.New(loop, t, channel.WithServer())
	t.ch = ch
	if t.childLoop == nil {
		t.childLoop = func() *concurrency.EventLoop { return loop }
	}
	return ch
}

func (t *serverTransport) LocalAddr() (net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasBound {
		return nil, nil
	}
	return t.bound, nil
}

func (t *serverTransport) RemoteAddr() (net.Addr, error) { return nil, nil }

func (t *serverTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

func (t *serverTransport) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && t.hasBound
}

func (t *serverTransport) IsShutdown(api.ShutdownDirection) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *serverTransport) Bind(local net.Addr) error {
	addr, ok := local.(Addr)
	if !ok {
		return errors.New("local: bind requires a local.Addr")
	}
	if err := registerServer(addr, t); err != nil {
		return err
	}
	t.mu.Lock()
	t.bound = addr
	t.hasBound = true
	t.mu.Unlock()
	return nil
}

func (t *serverTransport) Disconnect() error { return errServerOperation }

func (t *serverTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	bound := t.bound
	hasBound := t.hasBound
	var orphans []*channel.Channel
	for t.accepted.Length() > 0 {
		orphans = append(orphans, t.accepted.Remove().(*channel.Channel))
	}
	t.mu.Unlock()

	if hasBound {
		unregisterServer(bound, t)
	}
	// Children queued but never delivered are torn down with the server.
	for _, child := range orphans {
		child.Close()
	}
	return nil
}

func (t *serverTransport) Shutdown(api.ShutdownDirection) error { return nil }

func (t *serverTransport) Read(bool) error {
	t.mu.Lock()
	pending := t.accepted.Length() > 0
	t.mu.Unlock()
	if pending {
		t.scheduleReadNow()
	}
	return nil
}

func (t *serverTransport) ReadNow(sink *channel.ReadSink) (bool, error) {
	for {
		t.mu.Lock()
		if t.accepted.Length() == 0 {
			t.mu.Unlock()
			return false, nil
		}
		child := t.accepted.Remove().(*channel.Channel)
		t.mu.Unlock()

		if !sink.ProcessRead(0, 0, child) {
			return false, nil
		}
	}
}

func (t *serverTransport) WriteNow(*channel.WriteSink) error { return errServerOperation }

func (t *serverTransport) Connect(net.Addr, net.Addr, api.Buffer) (bool, error) {
	return false, errServerOperation
}

func (t *serverTransport) FinishConnect(net.Addr) (bool, error) {
	return false, errServerOperation
}

// serve enqueues an accepted child and pokes the server's read loop.
// Invoked from the connecting peer's goroutine.
func (t *serverTransport) serve(child *channel.Channel) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return api.ErrConnectionRefused
	}
	t.accepted.Add(child)
	t.mu.Unlock()
	t.scheduleReadNow()
	return nil
}

func (t *serverTransport) scheduleReadNow() {
	_ = t.ch.Executor().Execute(func() {
		if t.ch.ReadPending() {
			t.ch.ReadNow()
		}
	})
}

// Acceptor is the server-pipeline handler that completes the accept
// path: it prepares each child channel and registers it to its loop.
type Acceptor struct {
	// Init configures the child pipeline before registration.
	Init func(child *channel.Channel)
}

// ChannelRead registers the accepted child.
func (a *Acceptor) ChannelRead(ctx *channel.HandlerContext, msg any) {
	child, ok := msg.(*channel.Channel)
	if !ok {
		return
	}
	if a.Init != nil {
		a.Init(child)
	}
	child.Register()
}
