package channel_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/momentics/hioload-channel/channel"
	"github.com/momentics/hioload-channel/concurrency"
)

func TestOutboundBufferFlushRegions(t *testing.T) {
	b := channel.NewOutboundBuffer()

	b.AddMessage("a", 1, concurrency.NewPromise())
	b.AddMessage("b", 2, concurrency.NewPromise())
	if !b.IsEmpty() || b.Size() != 0 {
		t.Fatal("unflushed entries must not be visible to the write loop")
	}
	if b.Current() != nil {
		t.Fatal("current must be nil before flush")
	}
	if got := b.TotalPendingWriteBytes(); got != 3 {
		t.Fatalf("pending = %d, want 3", got)
	}

	b.AddFlush()
	if b.IsEmpty() || b.Size() != 2 {
		t.Fatalf("flushed size = %d, want 2", b.Size())
	}
	if got := b.Current(); got != "a" {
		t.Fatalf("current = %v, want a", got)
	}

	// Messages written after the flush stay unflushed.
	b.AddMessage("c", 4, concurrency.NewPromise())
	if b.Size() != 2 {
		t.Fatal("post-flush write leaked into the flushed region")
	}
}

func TestOutboundBufferRemoveCompletesPromise(t *testing.T) {
	b := channel.NewOutboundBuffer()
	p := concurrency.NewPromise()
	b.AddMessage("a", 3, p)
	b.AddFlush()

	if !b.Remove() {
		t.Fatal("remove must pop the flushed head")
	}
	if !p.IsDone() || p.Err() != nil {
		t.Fatalf("promise state: done=%t err=%v", p.IsDone(), p.Err())
	}
	if got := b.TotalPendingWriteBytes(); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
	if b.Remove() {
		t.Fatal("remove on an empty flushed region must report false")
	}
}

func TestOutboundBufferRemoveAndFail(t *testing.T) {
	b := channel.NewOutboundBuffer()
	p := concurrency.NewPromise()
	msg := &releasableMsg{}
	b.AddMessage(msg, 3, p)
	b.AddFlush()

	cause := errors.New("write refused")
	b.RemoveAndFail(cause)
	if !errors.Is(p.Err(), cause) {
		t.Fatalf("promise err = %v, want %v", p.Err(), cause)
	}
	if !msg.released.Load() {
		t.Fatal("failed entry must dispose its message")
	}
}

func TestOutboundBufferRemoveBytesPartial(t *testing.T) {
	b := channel.NewOutboundBuffer()
	p1 := concurrency.NewPromise()
	p2 := concurrency.NewPromise()
	b.AddMessage("abc", 3, p1)
	b.AddMessage("defgh", 5, p2)
	b.AddFlush()

	// 3 bytes finish the first entry; 2 more partially consume the second.
	if got := b.RemoveBytes(5); got != 1 {
		t.Fatalf("completed = %d, want 1", got)
	}
	if !p1.IsDone() || p1.Err() != nil {
		t.Fatal("first promise must be succeeded")
	}
	if p2.IsDone() {
		t.Fatal("partially consumed entry must stay pending")
	}
	if got := b.TotalPendingWriteBytes(); got != 3 {
		t.Fatalf("pending = %d, want 3", got)
	}
	if b.Size() != 1 {
		t.Fatalf("size = %d, want 1", b.Size())
	}

	if got := b.RemoveBytes(3); got != 1 {
		t.Fatalf("completed = %d, want 1", got)
	}
	if !p2.IsDone() {
		t.Fatal("second promise must be succeeded")
	}
	if got := b.TotalPendingWriteBytes(); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
}

func TestOutboundBufferRemoveBytesZeroSizedHead(t *testing.T) {
	b := channel.NewOutboundBuffer()
	p := concurrency.NewPromise()
	b.AddMessage("flushMarker", 0, p)
	b.AddFlush()

	if got := b.RemoveBytes(0); got != 1 {
		t.Fatalf("completed = %d, want 1 for the zero-byte head", got)
	}
	if !p.IsDone() {
		t.Fatal("zero-byte entry must be completed")
	}
}

func TestOutboundBufferFailFlushedAndClose(t *testing.T) {
	b := channel.NewOutboundBuffer()
	pFlushed := concurrency.NewPromise()
	pUnflushed := concurrency.NewPromise()
	b.AddMessage("sent", 4, pFlushed)
	b.AddFlush()
	b.AddMessage("queued", 6, pUnflushed)

	flushedCause := errors.New("flushed cause")
	unflushedCause := errors.New("unflushed cause")
	b.FailFlushedAndClose(flushedCause, unflushedCause)

	if !errors.Is(pFlushed.Err(), flushedCause) {
		t.Fatalf("flushed err = %v", pFlushed.Err())
	}
	if !errors.Is(pUnflushed.Err(), unflushedCause) {
		t.Fatalf("unflushed err = %v", pUnflushed.Err())
	}
	if got := b.TotalPendingWriteBytes(); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
}

func TestOutboundBufferForEachFlushedMessage(t *testing.T) {
	b := channel.NewOutboundBuffer()
	for _, m := range []string{"a", "b", "c"} {
		b.AddMessage(m, 1, concurrency.NewPromise())
	}
	b.AddFlush()
	b.AddMessage("unflushed", 1, concurrency.NewPromise())

	var visited []string
	b.ForEachFlushedMessage(func(msg any) bool {
		visited = append(visited, msg.(string))
		return len(visited) < 2
	})
	if diff := cmp.Diff([]string{"a", "b"}, visited); diff != "" {
		t.Fatalf("visit order (-want +got):\n%s", diff)
	}
}
