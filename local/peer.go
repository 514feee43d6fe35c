// File: local/peer.go
// Package local implements the duplex in-process peer transport.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package local

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-channel/api"
	"github.com/momentics/hioload-channel/channel"
	"github.com/momentics/hioload-channel/concurrency"
)

// peerTransport carries one side of an in-process connection. Messages
// written on one side land in the peer's inbound queue and are drained
// by the peer's read loop; a close or output shutdown is observed by the
// peer as end-of-input once its queue is empty.
type peerTransport struct {
	ch   *channel.Channel
	peer *peerTransport

	mu         sync.Mutex
	open       bool
	connected  bool
	bound      Addr
	hasBound   bool
	local      net.Addr
	remote     net.Addr
	inbound    *queue.Queue // inbound messages from the peer
	eofPending bool
	shutIn     bool
	shutOut    bool
}

// NewChannel creates an in-process client channel on the given loop.
func NewChannel(loop *concurrency.EventLoop, opts ...channel.ChannelOption) *channel.Channel {
	t := &peerTransport{open: true, inbound: queue.New()}
	ch := channel.New(loop, t, opts...)
	t.ch = ch
	return ch
}

func (t *peerTransport) LocalAddr() (net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.local != nil {
		return t.local, nil
	}
	if t.hasBound {
		return t.bound, nil
	}
	return nil, nil
}

func (t *peerTransport) RemoteAddr() (net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote, nil
}

func (t *peerTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *peerTransport) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open && t.connected
}

func (t *peerTransport) IsShutdown(direction api.ShutdownDirection) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return true
	}
	if direction == api.Inbound {
		return t.shutIn
	}
	return t.shutOut
}

func (t *peerTransport) Bind(local net.Addr) error {
	addr, ok := local.(Addr)
	if !ok {
		return errors.New("local: bind requires a local.Addr")
	}
	t.mu.Lock()
	t.bound = addr
	t.hasBound = true
	t.mu.Unlock()
	return nil
}

func (t *peerTransport) Disconnect() error {
	return errors.New("local: disconnect not supported")
}

func (t *peerTransport) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	t.connected = false
	peer := t.peer
	t.peer = nil
	var undelivered []any
	for t.inbound.Length() > 0 {
		undelivered = append(undelivered, t.inbound.Remove())
	}
	t.mu.Unlock()

	for _, msg := range undelivered {
		api.Dispose(msg)
	}
	if peer != nil {
		peer.receiveEOF()
	}
	return nil
}

func (t *peerTransport) Shutdown(direction api.ShutdownDirection) error {
	t.mu.Lock()
	switch direction {
	case api.Inbound:
		t.shutIn = true
	case api.Outbound:
		t.shutOut = true
	}
	peer := t.peer
	t.mu.Unlock()

	if direction == api.Outbound && peer != nil {
		peer.receiveEOF()
	}
	return nil
}

func (t *peerTransport) Read(bool) error {
	t.mu.Lock()
	pending := t.inbound.Length() > 0 || t.eofPending
	t.mu.Unlock()
	if pending {
		t.scheduleReadNow()
	}
	return nil
}

func (t *peerTransport) ReadNow(sink *channel.ReadSink) (bool, error) {
	for {
		t.mu.Lock()
		if t.inbound.Length() == 0 {
			eof := t.eofPending
			t.mu.Unlock()
			return eof, nil
		}
		msg := t.inbound.Remove()
		t.mu.Unlock()

		if !sink.ProcessRead(0, 0, msg) {
			// The handle ended the batch; remaining messages wait for the
			// next read. End-of-input only once the queue drained.
			t.mu.Lock()
			eof := t.eofPending && t.inbound.Length() == 0
			t.mu.Unlock()
			return eof, nil
		}
	}
}

func (t *peerTransport) WriteNow(sink *channel.WriteSink) error {
	t.mu.Lock()
	peer := t.peer
	ok := t.open && !t.shutOut
	t.mu.Unlock()
	if !ok || peer == nil || !peer.IsOpen() {
		return fmt.Errorf("local: %w", io.ErrClosedPipe)
	}

	msg := sink.First()
	size := messageSize(msg)
	out := msg
	if buf, ok := msg.(api.Buffer); ok {
		// The entry is disposed once removed from the outbound buffer, so
		// the peer gets its own copy of the bytes.
		data := make([]byte, buf.ReadableBytes())
		copy(data, buf.Bytes())
		buf.SkipBytes(len(data))
		out = data
	}
	peer.offer(out)
	sink.Complete(int64(size), int64(size), 1, true)
	return nil
}

func (t *peerTransport) Connect(remote, local net.Addr, initialData api.Buffer) (bool, error) {
	raddr, ok := remote.(Addr)
	if !ok {
		return false, fmt.Errorf("local: %v is not a local.Addr: %w", remote, api.ErrUnresolved)
	}
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return false, api.ErrAlreadyConnected
	}
	if !t.open {
		t.mu.Unlock()
		return false, fmt.Errorf("local: %w", io.ErrClosedPipe)
	}
	t.mu.Unlock()

	srv := lookupServer(raddr)
	if srv == nil {
		return false, api.ErrConnectionRefused
	}

	var laddr Addr
	switch {
	case local != nil:
		la, ok := local.(Addr)
		if !ok {
			return false, errors.New("local: connect requires a local.Addr")
		}
		laddr = la
	default:
		t.mu.Lock()
		if t.hasBound {
			laddr = t.bound
		} else {
			laddr = Addr(fmt.Sprintf("local:%s", t.ch.ID()))
		}
		t.mu.Unlock()
	}

	childTr := &peerTransport{open: true, inbound: queue.New()}
	child := channel.New(srv.childLoop(), childTr, channel.WithParent(srv.ch))
	childTr.ch = child

	t.mu.Lock()
	t.peer = childTr
	t.connected = true
	t.local = laddr
	t.remote = raddr
	t.mu.Unlock()

	childTr.mu.Lock()
	childTr.peer = t
	childTr.connected = true
	childTr.local = raddr
	childTr.remote = laddr
	childTr.mu.Unlock()

	child.CacheAddresses(raddr, laddr)
	t.ch.CacheAddresses(laddr, raddr)

	if err := srv.serve(child); err != nil {
		t.mu.Lock()
		t.peer = nil
		t.connected = false
		t.local = nil
		t.remote = nil
		t.mu.Unlock()
		return false, api.ErrConnectionRefused
	}

	// Fast-open initial data rides along with the connect; the core
	// accounts the consumed bytes afterwards.
	if initialData != nil && initialData.ReadableBytes() > 0 {
		data := make([]byte, initialData.ReadableBytes())
		copy(data, initialData.Bytes())
		initialData.SkipBytes(len(data))
		childTr.offer(data)
	}
	return true, nil
}

func (t *peerTransport) FinishConnect(net.Addr) (bool, error) {
	return false, errors.New("local: no connect attempt pending")
}

// SupportsFastOpen enables TCP_FASTOPEN_CONNECT on local channels.
func (t *peerTransport) SupportsFastOpen() bool { return true }

// offer delivers a message into this side's inbound queue. Invoked from
// the peer's goroutine.
func (t *peerTransport) offer(msg any) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		api.Dispose(msg)
		return
	}
	t.inbound.Add(msg)
	t.mu.Unlock()
	t.scheduleReadNow()
}

// receiveEOF marks end-of-input and pokes the read loop so queued data
// drains before the shutdown is observed.
func (t *peerTransport) receiveEOF() {
	_ = t.ch.Executor().Execute(func() {
		t.mu.Lock()
		t.eofPending = true
		t.mu.Unlock()
		if t.ch.ReadPending() {
			t.ch.ReadNow()
		}
	})
}

func (t *peerTransport) scheduleReadNow() {
	_ = t.ch.Executor().Execute(func() {
		if t.ch.ReadPending() {
			t.ch.ReadNow()
		}
	})
}

func messageSize(msg any) int {
	switch m := msg.(type) {
	case api.Buffer:
		return m.ReadableBytes()
	case []byte:
		return len(m)
	case string:
		return len(m)
	default:
		return 0
	}
}
