// File: fake/transport.go
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development. The fake transport
// gives tests full, scripted control over every hook the channel core
// drives, and records the calls it receives.

package fake

import (
	"net"
	"sync"

	"github.com/momentics/hioload-channel/api"
	"github.com/momentics/hioload-channel/channel"
)

// Transport is a scripted channel.Transport for tests.
type Transport struct {
	mu sync.Mutex

	open      bool
	active    bool
	shutIn    bool
	shutOut   bool
	local     net.Addr
	remote    net.Addr
	fastOpen  bool
	connected bool

	calls []string

	// Per-hook scripts. A nil script means default behavior.
	BindErr     error
	ConnectErr  error
	ConnectDone bool
	FinishDone  bool
	FinishErr   error
	ShutdownErr error
	ReadErr     error
	ReadNowFn   func(sink *channel.ReadSink) (bool, error)
	WriteNowFn  func(sink *channel.WriteSink) error
	FilterFn    func(msg any) (any, error)
	CloseExec   channel.Executor
}

// NewTransport creates an open, inactive fake transport.
func NewTransport() *Transport {
	return &Transport{open: true}
}

func (t *Transport) record(call string) {
	t.mu.Lock()
	t.calls = append(t.calls, call)
	t.mu.Unlock()
}

// Calls returns the hook invocations observed so far.
func (t *Transport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.calls))
	copy(out, t.calls)
	return out
}

// SetActive flips the transport's active state.
func (t *Transport) SetActive(active bool) {
	t.mu.Lock()
	t.active = active
	t.mu.Unlock()
}

// SetOpen flips the transport's open state.
func (t *Transport) SetOpen(open bool) {
	t.mu.Lock()
	t.open = open
	t.mu.Unlock()
}

// SetAddrs installs the reported addresses.
func (t *Transport) SetAddrs(local, remote net.Addr) {
	t.mu.Lock()
	t.local = local
	t.remote = remote
	t.mu.Unlock()
}

// SetFastOpen toggles the fast-open capability.
func (t *Transport) SetFastOpen(on bool) {
	t.mu.Lock()
	t.fastOpen = on
	t.mu.Unlock()
}

func (t *Transport) LocalAddr() (net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local, nil
}

func (t *Transport) RemoteAddr() (net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote, nil
}

func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *Transport) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open && t.active
}

func (t *Transport) IsShutdown(direction api.ShutdownDirection) bool {
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

func (t *Transport) Bind(local net.Addr) error {
	t.record("bind")
	if t.BindErr != nil {
		return t.BindErr
	}
	t.mu.Lock()
	t.local = local
	t.active = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) Disconnect() error {
	t.record("disconnect")
	t.mu.Lock()
	t.active = false
	t.connected = false
	t.remote = nil
	t.mu.Unlock()
	return nil
}

func (t *Transport) Close() error {
	t.record("close")
	t.mu.Lock()
	t.open = false
	t.active = false
	t.mu.Unlock()
	return nil
}

func (t *Transport) Shutdown(direction api.ShutdownDirection) error {
	t.record("shutdown:" + direction.String())
	if t.ShutdownErr != nil {
		return t.ShutdownErr
	}
	t.mu.Lock()
	if direction == api.Inbound {
		t.shutIn = true
	} else {
		t.shutOut = true
	}
	t.mu.Unlock()
	return nil
}

func (t *Transport) Read(wasPending bool) error {
	if wasPending {
		t.record("read:pending")
	} else {
		t.record("read")
	}
	return t.ReadErr
}

func (t *Transport) ReadNow(sink *channel.ReadSink) (bool, error) {
	t.record("readNow")
	if t.ReadNowFn != nil {
		return t.ReadNowFn(sink)
	}
	return false, nil
}

func (t *Transport) WriteNow(sink *channel.WriteSink) error {
	t.record("writeNow")
	if t.WriteNowFn != nil {
		return t.WriteNowFn(sink)
	}
	// Default: consume the first message entirely.
	size := int64(0)
	if buf, ok := sink.First().(api.Buffer); ok {
		size = int64(buf.ReadableBytes())
	}
	sink.Complete(size, size, 1, true)
	return nil
}

func (t *Transport) Connect(remote, local net.Addr, initialData api.Buffer) (bool, error) {
	t.record("connect")
	if t.ConnectErr != nil {
		return false, t.ConnectErr
	}
	t.mu.Lock()
	t.remote = remote
	t.mu.Unlock()
	if t.ConnectDone {
		t.mu.Lock()
		t.active = true
		t.connected = true
		t.mu.Unlock()
		return true, nil
	}
	return false, nil
}

func (t *Transport) FinishConnect(requestedRemote net.Addr) (bool, error) {
	t.record("finishConnect")
	if t.FinishErr != nil {
		return false, t.FinishErr
	}
	if !t.FinishDone {
		return false, nil
	}
	t.mu.Lock()
	t.active = true
	t.connected = true
	t.mu.Unlock()
	return true, nil
}

func (t *Transport) SupportsFastOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fastOpen
}

func (t *Transport) FilterOutboundMessage(msg any) (any, error) {
	if t.FilterFn != nil {
		return t.FilterFn(msg)
	}
	return msg, nil
}

func (t *Transport) PrepareToClose() channel.Executor {
	return t.CloseExec
}
