package channel_test

import (
	"testing"

	"github.com/momentics/hioload-channel/channel"
	"github.com/momentics/hioload-channel/pool"
)

func TestMaxMessagesReadHandleBoundsBatch(t *testing.T) {
	h := channel.NewMaxMessagesReadHandleFactory(2).NewReadHandle()

	if !h.LastRead(0, 0, 1) {
		t.Fatal("first message must allow another read")
	}
	if h.LastRead(0, 0, 1) {
		t.Fatal("second message must end the batch")
	}
	h.ReadComplete()
	if !h.LastRead(0, 0, 1) {
		t.Fatal("readComplete must reset the message budget")
	}
}

func TestMaxMessagesReadHandleStopsOnShortRead(t *testing.T) {
	h := channel.NewMaxMessagesReadHandleFactory(8).NewReadHandle()

	if h.LastRead(100, 10, 1) {
		t.Fatal("a short read means the transport drained; the loop must end")
	}
	if h.LastRead(0, 0, 0) {
		t.Fatal("a no-message read must end the loop")
	}
}

func TestAdaptiveReadHandleGrowsAndShrinks(t *testing.T) {
	h := channel.NewAdaptiveReadHandleFactory(64).NewReadHandle()
	start := h.EstimatedBufferCapacity()

	h.LastRead(start, start, 1)
	if h.EstimatedBufferCapacity() <= start {
		t.Fatal("full read must grow the estimate")
	}

	h.ReadComplete()
	grown := h.EstimatedBufferCapacity()
	h.LastRead(grown, 1, 1)
	h.LastRead(h.EstimatedBufferCapacity(), 1, 1)
	if h.EstimatedBufferCapacity() >= grown {
		t.Fatal("two consecutive tiny reads must shrink the estimate")
	}
}

func TestMaxMessagesWriteHandleBoundsLoop(t *testing.T) {
	h := channel.NewMaxMessagesWriteHandleFactory(2).NewWriteHandle()

	if !h.LastWrite(10, 10, 1) {
		t.Fatal("first write must allow another")
	}
	if h.LastWrite(10, 10, 1) {
		t.Fatal("budget exhausted; the loop must end")
	}
	h.WriteComplete()
	if !h.LastWrite(10, 10, 1) {
		t.Fatal("writeComplete must reset the budget")
	}
}

func TestSizeEstimatorDefaults(t *testing.T) {
	h := channel.NewSizeEstimator(8).NewEstimatorHandle()

	buf := pool.Default().Allocate(16)
	buf.WriteBytes([]byte("12345"))
	defer buf.Release()

	cases := []struct {
		msg  any
		want int
	}{
		{buf, 5},
		{[]byte("1234"), 4},
		{"123", 3},
		{struct{}{}, 8},
	}
	for _, c := range cases {
		if got := h.Size(c.msg); got != c.want {
			t.Fatalf("size(%T) = %d, want %d", c.msg, got, c.want)
		}
	}
}
