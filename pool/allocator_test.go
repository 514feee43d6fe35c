package pool_test

import (
	"bytes"
	"testing"

	"github.com/momentics/hioload-channel/pool"
)

func TestAllocatorReuse(t *testing.T) {
	a := pool.NewAllocator()

	b1 := a.Allocate(128)
	if b1.WritableBytes() < 128 {
		t.Fatalf("writable = %d, want >= 128", b1.WritableBytes())
	}
	b1.WriteBytes([]byte("data"))
	b1.Release()

	b2 := a.Allocate(100)
	if b2.ReadableBytes() != 0 {
		t.Fatal("recycled buffer must come back empty")
	}
	if b2.WritableBytes() < 100 {
		t.Fatalf("writable = %d, want >= 100", b2.WritableBytes())
	}
}

func TestBufferCursor(t *testing.T) {
	a := pool.NewAllocator()
	b := a.Allocate(64)
	defer b.Release()

	n := b.WriteBytes([]byte("hello world"))
	if n != 11 {
		t.Fatalf("wrote %d, want 11", n)
	}
	if !bytes.Equal(b.Bytes(), []byte("hello world")) {
		t.Fatalf("bytes = %q", b.Bytes())
	}

	b.SkipBytes(6)
	if !bytes.Equal(b.Bytes(), []byte("world")) {
		t.Fatalf("after skip: %q", b.Bytes())
	}
	if b.ReadableBytes() != 5 {
		t.Fatalf("readable = %d, want 5", b.ReadableBytes())
	}

	// Over-length skip clamps at the end.
	b.SkipBytes(100)
	if b.ReadableBytes() != 0 {
		t.Fatalf("readable = %d, want 0", b.ReadableBytes())
	}
}

func TestAllocatorOversize(t *testing.T) {
	a := pool.NewAllocator()

	b := a.Allocate(4 << 20)
	if b.WritableBytes() < 4<<20 {
		t.Fatal("oversize request must still be satisfied")
	}
	b.Release()

	stats := a.Stats()
	if stats.TotalAlloc != 1 || stats.Oversize != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestAllocatorSmallRequest(t *testing.T) {
	a := pool.NewAllocator()
	b := a.Allocate(0)
	if b.WritableBytes() <= 0 {
		t.Fatal("zero-capacity request must yield a usable buffer")
	}
}
