package channel_test

import (
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/momentics/hioload-channel/channel"
	"github.com/momentics/hioload-channel/fake"
)

type lifecycleProbe struct {
	added   atomic.Int32
	removed atomic.Int32
}

func (h *lifecycleProbe) HandlerAdded(*channel.HandlerContext)   { h.added.Add(1) }
func (h *lifecycleProbe) HandlerRemoved(*channel.HandlerContext) { h.removed.Add(1) }

type panicky struct{}

func (panicky) ChannelRead(*channel.HandlerContext, any) { panic("handler bug") }

func TestPipelineAddRemove(t *testing.T) {
	ch, _, _ := newTestChannel(t)
	p := ch.Pipeline()

	probe := &lifecycleProbe{}
	if err := p.AddLast("probe", probe); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := p.AddLast("probe", &lifecycleProbe{}); err == nil {
		t.Fatal("duplicate name must be rejected")
	}
	if err := p.AddLast("", &lifecycleProbe{}); err != nil {
		t.Fatalf("auto-named add: %v", err)
	}

	want := []string{"recorder", "probe", "handler#1"}
	if diff := cmp.Diff(want, p.Names()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}

	if err := p.Remove("probe"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := p.Remove("probe"); err == nil {
		t.Fatal("removing an absent handler must fail")
	}
	waitFor(t, func() bool { return probe.removed.Load() == 1 }, "handlerRemoved")
	if got := probe.added.Load(); got != 1 {
		t.Fatalf("added = %d, want 1", got)
	}
}

func TestPipelineRemoveLastUntilEmpty(t *testing.T) {
	ch, _, _ := newTestChannel(t)
	p := ch.Pipeline()

	for !p.IsEmpty() {
		if _, ok := p.RemoveLast(); !ok {
			t.Fatal("removeLast reported empty while handlers remain")
		}
	}
	if _, ok := p.RemoveLast(); ok {
		t.Fatal("removeLast on an empty pipeline must report false")
	}
}

func TestPipelineEventOrderAcrossHandlers(t *testing.T) {
	ch, tr, recA := newTestChannel(t)
	recB := &fake.Recorder{}
	if err := ch.Pipeline().AddLast("second", recB); err != nil {
		t.Fatalf("add: %v", err)
	}
	tr.SetActive(true)

	if err := await(t, ch.Register()); err != nil {
		t.Fatalf("register: %v", err)
	}
	waitFor(t, func() bool { return recB.Count("active") == 1 }, "second recorder active")

	if diff := cmp.Diff(recA.Events(), recB.Events()); diff != "" {
		t.Fatalf("handlers observed different event streams (-first +second):\n%s", diff)
	}
}

func TestPipelineHandlerPanicDoesNotKillDispatch(t *testing.T) {
	ch, _, rec := newTestChannel(t)
	if err := ch.Pipeline().AddLast("panicky", panicky{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	after := &fake.Recorder{}
	if err := ch.Pipeline().AddLast("after", after); err != nil {
		t.Fatalf("add: %v", err)
	}

	ch.Pipeline().FireChannelRead("msg")
	waitFor(t, func() bool { return rec.Count("read") == 1 }, "read delivery")
	waitFor(t, func() bool { return after.Count("read") == 1 }, "read delivery past the panicking handler")
}

func TestPipelineInboundInjection(t *testing.T) {
	ch, _, rec := newTestChannel(t)

	ch.Pipeline().FireChannelRead("Hello, World")
	ch.Pipeline().FireChannelReadComplete()

	waitFor(t, func() bool { return rec.Count("readComplete") == 1 }, "injected events")
	msgs := rec.Messages()
	if len(msgs) != 1 || msgs[0] != "Hello, World" {
		t.Fatalf("messages = %v", msgs)
	}
}
