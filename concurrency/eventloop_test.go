package concurrency_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-channel/concurrency"
)

func newLoop(t *testing.T) *concurrency.EventLoop {
	t.Helper()
	loop := concurrency.NewEventLoop(concurrency.WithLogger(zerolog.Nop()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := loop.Shutdown(ctx); err != nil {
			t.Errorf("loop shutdown: %v", err)
		}
	})
	return loop
}

func TestExecutePreservesOrder(t *testing.T) {
	loop := newLoop(t)

	var got []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		if err := loop.Execute(func() {
			got = append(got, i)
			if i == 99 {
				close(done)
			}
		}); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	<-done

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("task order mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteFromLoopIsDeferred(t *testing.T) {
	loop := newLoop(t)

	var got []string
	done := make(chan struct{})
	loop.Execute(func() {
		loop.Execute(func() {
			got = append(got, "inner")
			close(done)
		})
		got = append(got, "outer")
	})
	<-done

	want := []string{"outer", "inner"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("deferral order mismatch (-want +got):\n%s", diff)
	}
}

func TestInEventLoop(t *testing.T) {
	loop := newLoop(t)

	if loop.InEventLoop() {
		t.Fatal("test goroutine must not be the loop")
	}
	res := make(chan bool, 1)
	loop.Execute(func() { res <- loop.InEventLoop() })
	if !<-res {
		t.Fatal("loop task must observe InEventLoop")
	}
}

func TestScheduleFiresOnLoop(t *testing.T) {
	loop := newLoop(t)

	res := make(chan bool, 1)
	loop.Schedule(10*time.Millisecond, func() { res <- loop.InEventLoop() })
	select {
	case onLoop := <-res:
		if !onLoop {
			t.Fatal("scheduled task ran off the loop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never fired")
	}
}

func TestScheduleCancel(t *testing.T) {
	loop := newLoop(t)

	var fired atomic.Bool
	to := loop.Schedule(30*time.Millisecond, func() { fired.Store(true) })
	to.Cancel()

	time.Sleep(100 * time.Millisecond)
	if fired.Load() {
		t.Fatal("canceled timeout still fired")
	}
}

func TestShutdownRejectsTasks(t *testing.T) {
	loop := concurrency.NewEventLoop(concurrency.WithLogger(zerolog.Nop()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := loop.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := loop.Execute(func() {}); err == nil {
		t.Fatal("execute after shutdown must fail")
	}
}
