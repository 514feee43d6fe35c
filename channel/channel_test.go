package channel_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-channel/api"
	"github.com/momentics/hioload-channel/channel"
	"github.com/momentics/hioload-channel/concurrency"
	"github.com/momentics/hioload-channel/fake"
	"github.com/momentics/hioload-channel/pool"
)

func newLoop(t *testing.T) *concurrency.EventLoop {
	t.Helper()
	loop := concurrency.NewEventLoop(concurrency.WithLogger(zerolog.Nop()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		loop.Shutdown(ctx)
	})
	return loop
}

func newTestChannel(t *testing.T, opts ...channel.ChannelOption) (*channel.Channel, *fake.Transport, *fake.Recorder) {
	t.Helper()
	loop := newLoop(t)
	tr := fake.NewTransport()
	opts = append([]channel.ChannelOption{channel.WithChannelLogger(zerolog.Nop())}, opts...)
	ch := channel.New(loop, tr, opts...)
	rec := &fake.Recorder{}
	if err := ch.Pipeline().AddLast("recorder", rec); err != nil {
		t.Fatalf("add recorder: %v", err)
	}
	return ch, tr, rec
}

func await(t *testing.T, f concurrency.Future) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-f.Done():
		return f.Err()
	case <-ctx.Done():
		t.Fatal("future never completed")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type releasableMsg struct {
	released atomic.Bool
}

func (m *releasableMsg) Release() { m.released.Store(true) }

func TestRegisterFiresRegisteredAndActive(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.SetActive(true)

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	waitFor(t, func() bool { return rec.Count("active") == 1 }, "channelActive")

	want := []string{"registered", "active"}
	if diff := cmp.Diff(want, rec.Events()); diff != "" {
		t.Fatalf("event order (-want +got):\n%s", diff)
	}
	if !ch.IsRegistered() {
		t.Fatal("channel must report registered")
	}
	// Auto-read kicked a read against the transport.
	waitFor(t, func() bool {
		for _, c := range tr.Calls() {
			if c == "read" {
				return true
			}
		}
		return false
	}, "auto-read")
}

func TestRegisterTwiceFails(t *testing.T) {
	ch, _, _ := newTestChannel(t)

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := await(t, ch.Register()); !errors.Is(err, api.ErrAlreadyRegistered) {
		t.Fatalf("got %v, want %v", err, api.ErrAlreadyRegistered)
	}
}

func TestChannelActiveFiredAtMostOnce(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.SetActive(true)

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := await(t, ch.Deregister()); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	waitFor(t, func() bool { return rec.Count("registered") == 2 }, "second channelRegistered")

	if got := rec.Count("active"); got != 1 {
		t.Fatalf("channelActive fired %d times, want exactly 1", got)
	}
	if got := rec.Count("unregistered"); got != 1 {
		t.Fatalf("channelUnregistered fired %d times, want 1", got)
	}
}

func TestClosePromiseExactlyOnce(t *testing.T) {
	ch, tr, _ := newTestChannel(t)
	tr.SetActive(true)

	cp, ok := ch.CloseFuture().(*channel.ClosePromise)
	if !ok {
		t.Fatalf("close future has unexpected type %T", ch.CloseFuture())
	}
	if cp.TrySuccess() || cp.TryFailure(errors.New("external")) || cp.Cancel() {
		t.Fatal("external completion of the close promise must fail")
	}

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	first := ch.Close()
	second := ch.Close()
	if err := await(t, first); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := await(t, second); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := await(t, ch.CloseFuture()); err != nil {
		t.Fatalf("close future: %v", err)
	}
	if cp.TrySuccess() {
		t.Fatal("close promise accepted a second completion")
	}
}

func TestCloseIdempotentEvents(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.SetActive(true)

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := await(t, ch.Close()); err != nil {
			t.Fatalf("close #%d: %v", i, err)
		}
	}
	waitFor(t, func() bool { return rec.Count("unregistered") == 1 }, "channelUnregistered")

	if got := rec.Count("inactive"); got != 1 {
		t.Fatalf("channelInactive fired %d times, want exactly 1", got)
	}
	if got := rec.Count("unregistered"); got != 1 {
		t.Fatalf("channelUnregistered fired %d times, want exactly 1", got)
	}
	if ch.IsOpen() {
		t.Fatal("channel must be closed")
	}
}

func TestWriteAfterCloseFailsAndDisposes(t *testing.T) {
	ch, tr, _ := newTestChannel(t)
	tr.SetActive(true)

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := await(t, ch.Close()); err != nil {
		t.Fatalf("close: %v", err)
	}

	msg := &releasableMsg{}
	err := await(t, ch.Write(msg))
	if !errors.Is(err, api.ErrChannelClosed) {
		t.Fatalf("got %v, want closed", err)
	}
	waitFor(t, func() bool { return msg.released.Load() }, "message disposal")
}

func TestWriteAfterShutdownOutputFailsAndDisposes(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.SetActive(true)

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := await(t, ch.Shutdown(api.Outbound)); err != nil {
		t.Fatalf("shutdown outbound: %v", err)
	}
	waitFor(t, func() bool { return rec.Count("shutdown:outbound") == 1 }, "shutdown event")

	msg := &releasableMsg{}
	err := await(t, ch.Write(msg))
	if !errors.Is(err, api.ErrOutputShutdown) {
		t.Fatalf("got %v, want output shutdown", err)
	}
	waitFor(t, func() bool { return msg.released.Load() }, "message disposal")
	if !ch.IsOpen() {
		t.Fatal("output shutdown must not close the channel")
	}
}

func TestShutdownOutboundFailsPendingWrites(t *testing.T) {
	ch, tr, _ := newTestChannel(t)
	tr.SetActive(true)

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	pending := ch.Write("queued")
	if err := await(t, ch.Shutdown(api.Outbound)); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := await(t, pending); !errors.Is(err, api.ErrOutputShutdown) {
		t.Fatalf("pending write got %v, want output shutdown", err)
	}
}

func TestShutdownStateErrors(t *testing.T) {
	ch, _, _ := newTestChannel(t)

	// Open but not active.
	if err := await(t, ch.Shutdown(api.Outbound)); !errors.Is(err, api.ErrNotYetConnected) {
		t.Fatalf("got %v, want not yet connected", err)
	}

	ch2, tr2, _ := newTestChannel(t)
	tr2.SetOpen(false)
	if err := await(t, ch2.Shutdown(api.Outbound)); !errors.Is(err, api.ErrChannelClosed) {
		t.Fatalf("got %v, want closed", err)
	}
}

func TestShutdownAlreadyShutdownIsNoop(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.SetActive(true)

	if err := await(t, ch.Shutdown(api.Inbound)); err != nil {
		t.Fatalf("shutdown inbound: %v", err)
	}
	if err := await(t, ch.Shutdown(api.Inbound)); err != nil {
		t.Fatalf("repeated shutdown: %v", err)
	}
	waitFor(t, func() bool { return rec.Count("shutdown:inbound") >= 1 }, "shutdown event")
	if got := rec.Count("shutdown:inbound"); got != 1 {
		t.Fatalf("shutdown event fired %d times, want 1", got)
	}
}

func TestWritabilityWatermark(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.SetActive(true)

	mark, err := api.NewWaterMark(4, 8)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if err := channel.SetOption(ch, api.WriteBufferWaterMark, mark); err != nil {
		t.Fatalf("set watermark: %v", err)
	}
	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Three 3-byte messages cross the high mark on the third write.
	for i := 0; i < 3; i++ {
		ch.Write("abc")
	}
	waitFor(t, func() bool { return rec.Count("writabilityChanged:false") == 1 }, "not-writable transition")
	if ch.IsWritable() {
		t.Fatal("channel must not be writable above the high mark")
	}
	if got := ch.WritableBytes(); got != 0 {
		t.Fatalf("writableBytes = %d while not writable, want 0", got)
	}

	// Draining below the low mark flips it back exactly once.
	ch.Flush()
	waitFor(t, func() bool { return rec.Count("writabilityChanged:true") == 1 }, "writable transition")

	if got := rec.Count("writabilityChanged:false"); got != 1 {
		t.Fatalf("not-writable fired %d times, want exactly 1", got)
	}
	if !ch.IsWritable() {
		t.Fatal("channel must be writable after drain")
	}
	if got := ch.WritableBytes(); got != 8 {
		t.Fatalf("writableBytes = %d, want 8", got)
	}
}

func TestWriteLoopAccounting(t *testing.T) {
	ch, tr, _ := newTestChannel(t)
	tr.SetActive(true)
	tr.WriteNowFn = func(sink *channel.WriteSink) error {
		msg := sink.First().(string)
		n := int64(len(msg))
		sink.Complete(n, n, -1, true)
		return nil
	}

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}

	msgs := []string{"abc", "defg", "hijkl"}
	futures := make([]concurrency.Future, 0, len(msgs))
	total := 0
	for _, m := range msgs {
		futures = append(futures, ch.Write(m))
		total += len(m)
	}
	waitFor(t, func() bool { return ch.WritableBytes() == api.DefaultWaterMark.High-int64(total) }, "pending bytes")

	ch.Flush()
	for i, f := range futures {
		if err := await(t, f); err != nil {
			t.Fatalf("write #%d: %v", i, err)
		}
	}
	waitFor(t, func() bool { return ch.WritableBytes() == api.DefaultWaterMark.High }, "drained accounting")
}

func TestPartialWriteReschedulesFlush(t *testing.T) {
	ch, tr, _ := newTestChannel(t)
	tr.SetActive(true)

	attempts := 0
	tr.WriteNowFn = func(sink *channel.WriteSink) error {
		attempts++
		msg := sink.First().(string)
		n := int64(len(msg))
		if attempts == 1 {
			// Short write: two bytes land, the transport backs off.
			sink.Complete(n, 2, -1, false)
			return nil
		}
		sink.Complete(n, n, -1, true)
		return nil
	}

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	f := ch.WriteAndFlush("hello")
	if err := await(t, f); err != nil {
		t.Fatalf("write: %v", err)
	}
	if attempts < 2 {
		t.Fatalf("flush was not rescheduled after a short write, attempts=%d", attempts)
	}
	waitFor(t, func() bool { return ch.WritableBytes() == api.DefaultWaterMark.High }, "drained accounting")
}

func TestWriteErrorIOAutoCloseClosesChannel(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.SetActive(true)
	tr.WriteNowFn = func(sink *channel.WriteSink) error {
		return fmt.Errorf("transport: %w", io.ErrClosedPipe)
	}

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	f := ch.WriteAndFlush("doomed")
	if err := await(t, f); err == nil {
		t.Fatal("write must fail")
	}
	if err := await(t, ch.CloseFuture()); err != nil {
		t.Fatalf("close future: %v", err)
	}
	waitFor(t, func() bool { return rec.Count("inactive") == 1 }, "channelInactive")
}

func TestWriteErrorNonIOShutsDownOutput(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.SetActive(true)
	cause := errors.New("application refused payload")
	tr.WriteNowFn = func(sink *channel.WriteSink) error { return cause }

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	f := ch.WriteAndFlush("doomed")
	if err := await(t, f); !errors.Is(err, api.ErrOutputShutdown) {
		t.Fatalf("got %v, want output shutdown", err)
	}
	waitFor(t, func() bool { return rec.Count("shutdown:outbound") == 1 }, "output shutdown event")
	if !ch.IsOpen() {
		t.Fatal("non-IO write error must not close the channel")
	}
}

func TestWriteSinkMissingCompleteIsWriteError(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.SetActive(true)
	tr.WriteNowFn = func(sink *channel.WriteSink) error { return nil }

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	f := ch.WriteAndFlush("ignored")
	if err := await(t, f); err == nil {
		t.Fatal("write must fail when the sink is never completed")
	}
	waitFor(t, func() bool { return rec.Count("shutdown:outbound") == 1 }, "output shutdown event")
}

func TestWriteSinkDoubleCompleteIsWriteError(t *testing.T) {
	ch, tr, _ := newTestChannel(t)
	tr.SetActive(true)
	tr.WriteNowFn = func(sink *channel.WriteSink) error {
		sink.Complete(1, 1, 1, false)
		sink.Complete(1, 1, 1, false)
		return nil
	}

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	f := ch.WriteAndFlush("ignored")
	if err := await(t, f); err == nil {
		t.Fatal("double completion must surface as a write failure")
	}
}

func TestConnectPendingRejectsSecondAttempt(t *testing.T) {
	ch, tr, _ := newTestChannel(t)
	_ = tr

	first := ch.Connect(fakeAddr("remote-1"))
	second := ch.Connect(fakeAddr("remote-2"))
	if err := await(t, second); !errors.Is(err, api.ErrConnectionPending) {
		t.Fatalf("got %v, want connection pending", err)
	}
	if first.IsDone() {
		t.Fatal("first connect must still be pending")
	}
}

func TestFinishConnectFulfillsPromise(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.FinishDone = true

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	f := ch.Connect(fakeAddr("remote"))
	waitFor(t, func() bool {
		for _, c := range tr.Calls() {
			if c == "connect" {
				return true
			}
		}
		return false
	}, "connect hook")

	ch.Executor().Execute(func() { ch.FinishConnect() })
	if err := await(t, f); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, func() bool { return rec.Count("active") == 1 }, "channelActive after connect")

	// A second connect attempt sees the established remote address.
	if err := await(t, ch.Connect(fakeAddr("other"))); !errors.Is(err, api.ErrAlreadyConnected) {
		t.Fatalf("got %v, want already connected", err)
	}
}

func TestConnectTimeout(t *testing.T) {
	ch, _, _ := newTestChannel(t)

	if err := channel.SetOption(ch, api.ConnectTimeout, 30*time.Millisecond); err != nil {
		t.Fatalf("set timeout: %v", err)
	}
	f := ch.Connect(fakeAddr("nowhere"))
	err := await(t, f)
	if !errors.Is(err, api.ErrConnectTimeout) {
		t.Fatalf("got %v, want connect timeout", err)
	}
	var cte *api.ConnectTimeoutError
	if !errors.As(err, &cte) || cte.Remote.String() != "nowhere" {
		t.Fatalf("timeout error must carry the remote address, got %v", err)
	}
	if err := await(t, ch.CloseFuture()); err != nil {
		t.Fatalf("close future: %v", err)
	}
}

func TestConnectCancelCancelsTimeoutAndCloses(t *testing.T) {
	ch, tr, _ := newTestChannel(t)

	if err := channel.SetOption(ch, api.ConnectTimeout, time.Hour); err != nil {
		t.Fatalf("set timeout: %v", err)
	}
	f := ch.Connect(fakeAddr("nowhere"))
	waitFor(t, func() bool {
		for _, c := range tr.Calls() {
			if c == "connect" {
				return true
			}
		}
		return false
	}, "connect hook")

	if !f.Cancel() {
		t.Fatal("pending connect promise must be cancellable")
	}
	if err := await(t, ch.CloseFuture()); err != nil {
		t.Fatalf("close future: %v", err)
	}
	if ch.IsOpen() {
		t.Fatal("cancelled connect must force-close the channel")
	}
}

func TestConnectRefusedAnnotated(t *testing.T) {
	ch, tr, _ := newTestChannel(t)
	tr.ConnectErr = api.ErrConnectionRefused

	err := await(t, ch.Connect(fakeAddr("ANY")))
	if !errors.Is(err, api.ErrConnectionRefused) {
		t.Fatalf("got %v, want connection refused", err)
	}
	var ce *api.ConnectError
	if !errors.As(err, &ce) || ce.Remote.String() != "ANY" {
		t.Fatalf("refusal must be annotated with the remote address, got %v", err)
	}
}

func TestIdentityOrdering(t *testing.T) {
	a, _, _ := newTestChannel(t)
	b, _, _ := newTestChannel(t)

	if a.Equal(b) {
		t.Fatal("distinct channels must not be equal")
	}
	if !a.Equal(a) {
		t.Fatal("a channel must equal itself")
	}
	if a.Compare(a) != 0 {
		t.Fatal("self comparison must be 0")
	}
	if a.Compare(b) == 0 {
		t.Fatal("distinct channels must not compare equal")
	}
	if a.Compare(b) != -b.Compare(a) {
		t.Fatal("comparison must be antisymmetric")
	}
}

func TestUnknownOptionUnsupported(t *testing.T) {
	ch, _, _ := newTestChannel(t)

	mystery := api.NewOption[int]("SO_MYSTERY", nil)
	if err := ch.SetOptionAny(mystery, 7); !errors.Is(err, api.ErrUnsupportedOption) {
		t.Fatalf("got %v, want unsupported", err)
	}
	if _, err := ch.GetOptionAny(mystery); !errors.Is(err, api.ErrUnsupportedOption) {
		t.Fatalf("got %v, want unsupported", err)
	}
	if ch.IsOptionSupported(mystery) {
		t.Fatal("mystery option must not be supported")
	}
}

func TestOptionRoundTrip(t *testing.T) {
	ch, _, _ := newTestChannel(t)

	if err := channel.SetOption(ch, api.ConnectTimeout, 5*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, err := channel.GetOption(ch, api.ConnectTimeout); err != nil || got != 5*time.Second {
		t.Fatalf("got %v/%v, want 5s", got, err)
	}

	if err := channel.SetOption(ch, api.ConnectTimeout, -time.Second); err == nil {
		t.Fatal("negative timeout must be rejected")
	}

	if err := channel.SetOption(ch, api.AutoRead, false); err != nil {
		t.Fatalf("set autoread: %v", err)
	}
	if got, _ := channel.GetOption(ch, api.AutoRead); got {
		t.Fatal("autoread must be off")
	}

	if _, err := api.NewWaterMark(10, 5); err == nil {
		t.Fatal("inverted watermark must be rejected")
	}
}

func TestFastOpenOptionGatedOnCapability(t *testing.T) {
	ch, tr, _ := newTestChannel(t)

	if err := channel.SetOption(ch, api.FastOpenConnect, true); !errors.Is(err, api.ErrUnsupportedOption) {
		t.Fatalf("got %v, want unsupported without capability", err)
	}
	tr.SetFastOpen(true)
	if err := channel.SetOption(ch, api.FastOpenConnect, true); err != nil {
		t.Fatalf("set fast-open: %v", err)
	}
	if !ch.IsOptionSupported(api.FastOpenConnect) {
		t.Fatal("fast-open must be supported with the capability")
	}
}

func TestReadShutdownClosesWithoutHalfClosure(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.SetActive(true)
	tr.ReadNowFn = func(sink *channel.ReadSink) (bool, error) {
		sink.ProcessRead(0, 0, "payload")
		return true, nil
	}

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	ch.Executor().Execute(func() { ch.ReadNow() })

	if err := await(t, ch.CloseFuture()); err != nil {
		t.Fatalf("close future: %v", err)
	}
	waitFor(t, func() bool { return rec.Count("inactive") == 1 }, "channelInactive")
	if got := rec.Count("read"); got != 1 {
		t.Fatalf("payload reads = %d, want 1", got)
	}
}

func TestReadShutdownHonorsHalfClosure(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.SetActive(true)
	tr.ReadNowFn = func(sink *channel.ReadSink) (bool, error) {
		return true, nil
	}
	if err := channel.SetOption(ch, api.AllowHalfClosure, true); err != nil {
		t.Fatalf("set half closure: %v", err)
	}

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	ch.Executor().Execute(func() { ch.ReadNow() })

	waitFor(t, func() bool { return rec.Count("shutdown:inbound") == 1 }, "inbound shutdown event")
	if !ch.IsOpen() {
		t.Fatal("half closure must keep the channel open")
	}
}

func TestReadErrorIOShutsDownReadSide(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.SetActive(true)
	tr.ReadNowFn = func(sink *channel.ReadSink) (bool, error) {
		return false, fmt.Errorf("transport: %w", io.ErrUnexpectedEOF)
	}

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	ch.Executor().Execute(func() { ch.ReadNow() })

	// Half closure disabled: the read-side shutdown escalates to close.
	if err := await(t, ch.CloseFuture()); err != nil {
		t.Fatalf("close future: %v", err)
	}
	waitFor(t, func() bool { return rec.Count("exception:transport: unexpected EOF") == 1 }, "exception event")
}

func TestReadErrorPortUnreachableIsTransient(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.SetActive(true)
	tr.ReadNowFn = func(sink *channel.ReadSink) (bool, error) {
		return false, api.ErrPortUnreachable
	}

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	ch.Executor().Execute(func() { ch.ReadNow() })

	waitFor(t, func() bool { return rec.Count("exception:port unreachable") >= 1 }, "exception event")
	if !ch.IsOpen() {
		t.Fatal("port-unreachable must not close the channel")
	}
}

func TestDisconnectWithoutSupportDegradesToClose(t *testing.T) {
	ch, tr, rec := newTestChannel(t)
	tr.SetActive(true)

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := await(t, ch.Disconnect()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := await(t, ch.CloseFuture()); err != nil {
		t.Fatalf("close future: %v", err)
	}
	waitFor(t, func() bool { return rec.Count("inactive") == 1 }, "channelInactive")
}

func TestDisconnectSupportedResetsActivationGate(t *testing.T) {
	ch, tr, rec := newTestChannel(t, channel.WithSupportsDisconnect())
	tr.SetActive(true)

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	waitFor(t, func() bool { return rec.Count("active") == 1 }, "channelActive")

	if err := await(t, ch.Disconnect()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	waitFor(t, func() bool { return rec.Count("inactive") == 1 }, "channelInactive")
	if ch.RemoteAddr() != nil {
		t.Fatal("disconnect must clear the cached remote address")
	}
	if !ch.IsOpen() {
		t.Fatal("disconnect must leave the channel open")
	}

	tr.ConnectDone = true
	if err := await(t, ch.Connect(fakeAddr("again"))); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	waitFor(t, func() bool { return rec.Count("active") == 2 }, "channelActive after reconnect")
}

func TestReadSinkAllocatesFromConfiguredAllocator(t *testing.T) {
	alloc := pool.NewAllocator()
	loop := newLoop(t)
	tr := fake.NewTransport()
	ch := channel.New(loop, tr,
		channel.WithChannelLogger(zerolog.Nop()),
		channel.WithBufferAllocator(alloc),
		channel.WithReadHandleFactory(channel.NewMaxMessagesReadHandleFactory(1)))
	rec := &fake.Recorder{}
	if err := ch.Pipeline().AddLast("recorder", rec); err != nil {
		t.Fatalf("add recorder: %v", err)
	}
	tr.SetActive(true)
	tr.ReadNowFn = func(sink *channel.ReadSink) (bool, error) {
		buf := sink.AllocateBuffer()
		attempted := buf.WritableBytes()
		n := buf.WriteBytes([]byte("inbound"))
		sink.ProcessRead(attempted, n, buf)
		return false, nil
	}

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	ch.Executor().Execute(func() { ch.ReadNow() })

	waitFor(t, func() bool { return rec.Count("readComplete") == 1 }, "read batch")
	msgs := rec.Messages()
	buf, ok := msgs[0].(api.Buffer)
	if !ok {
		t.Fatalf("message type %T, want api.Buffer", msgs[0])
	}
	if string(buf.Bytes()) != "inbound" {
		t.Fatalf("payload = %q", buf.Bytes())
	}
	if alloc.Stats().TotalAlloc == 0 {
		t.Fatal("configured allocator was never used")
	}
}

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }

func (a fakeAddr) String() string { return string(a) }
