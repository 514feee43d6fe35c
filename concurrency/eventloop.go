// File: concurrency/eventloop.go
// Package concurrency implements the single-threaded event loop owning
// a set of channels.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The loop guarantees two properties the channel core depends on:
// tasks run in enqueue order, and Execute never runs a task inline --
// even when called from the loop goroutine itself. The second property
// is what makes deferred ("post to loop") event firing a safe way to
// avoid reentrant handler invocations.

package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/momentics/hioload-channel/api"
)

// Poller is the readiness source an EventLoop may drive between task
// drains. The reactor package provides the epoll-backed implementation.
type Poller interface {
	Register(fd int, events api.IOEvents, cb func(api.IOEvents)) error
	Unregister(fd int) error
	// Poll dispatches ready callbacks and returns the number handled.
	Poll(timeoutMs int) (int, error)
	Close() error
}

// EventLoop is a single goroutine executing tasks in FIFO order.
type EventLoop struct {
	mu     sync.Mutex
	tasks  *queue.Queue
	closed bool

	wake chan struct{}
	done chan struct{}

	gid atomic.Uint64

	poller       Poller
	pollInterval int
	pollHandles  int // fd-backed handles currently registered, loop-only
	virtual      map[api.IOHandle]struct{}

	logger zerolog.Logger
}

// LoopOption customizes EventLoop construction.
type LoopOption func(*EventLoop)

// WithLogger replaces the loop's logger.
func WithLogger(logger zerolog.Logger) LoopOption {
	return func(el *EventLoop) { el.logger = logger }
}

// WithPoller attaches a readiness poller driven between task drains.
func WithPoller(p Poller) LoopOption {
	return func(el *EventLoop) { el.poller = p }
}

// WithPollInterval bounds how long one poller wait may block the task
// queue, in milliseconds.
func WithPollInterval(ms int) LoopOption {
	return func(el *EventLoop) {
		if ms > 0 {
			el.pollInterval = ms
		}
	}
}

// NewEventLoop creates the loop and starts its goroutine.
func NewEventLoop(opts ...LoopOption) *EventLoop {
	el := &EventLoop{
		tasks:        queue.New(),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		virtual:      make(map[api.IOHandle]struct{}),
		pollInterval: 10,
		logger:       log.Logger,
	}
	for _, o := range opts {
		o(el)
	}
	go el.run()
	return el
}

// Execute enqueues task for execution on the loop goroutine. The task is
// never run inline, preserving enqueue order even for the loop's own
// submissions. Returns api.ErrLoopShutdown after Shutdown.
func (el *EventLoop) Execute(task func()) error {
	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return api.ErrLoopShutdown
	}
	el.tasks.Add(task)
	el.mu.Unlock()

	select {
	case el.wake <- struct{}{}:
	default:
	}
	return nil
}

// InEventLoop reports whether the caller runs on the loop goroutine.
func (el *EventLoop) InEventLoop() bool {
	return goroutineID() == el.gid.Load()
}

// Timeout is a cancellable scheduled task.
type Timeout struct {
	mu       sync.Mutex
	timer    *time.Timer
	canceled bool
}

// Cancel stops the timeout. A timeout whose task already started cannot
// be stopped; one whose task is still queued on the loop is suppressed.
func (t *Timeout) Cancel() {
	t.mu.Lock()
	t.canceled = true
	timer := t.timer
	t.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (t *Timeout) isCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// Schedule runs task on the loop goroutine after the given delay.
func (el *EventLoop) Schedule(delay time.Duration, task func()) *Timeout {
	to := &Timeout{}
	to.timer = time.AfterFunc(delay, func() {
		err := el.Execute(func() {
			if !to.isCanceled() {
				task()
			}
		})
		if err != nil {
			el.logger.Warn().Err(err).Msg("scheduled task dropped, loop is shut down")
		}
	})
	return to
}

// RegisterIO registers an IO handle with the loop. Descriptor-backed
// handles are added to the poller; virtual handles are tracked as
// bookkeeping only. Must be called from the loop goroutine.
func (el *EventLoop) RegisterIO(h api.IOHandle) error {
	fd := h.FD()
	if fd < 0 || el.poller == nil {
		el.virtual[h] = struct{}{}
		return nil
	}
	if err := el.poller.Register(fd, api.IOEventRead|api.IOEventWrite, h.Ready); err != nil {
		return err
	}
	el.pollHandles++
	return nil
}

// DeregisterIO removes a previously registered IO handle. Must be called
// from the loop goroutine.
func (el *EventLoop) DeregisterIO(h api.IOHandle) error {
	fd := h.FD()
	if fd < 0 || el.poller == nil {
		delete(el.virtual, h)
		return nil
	}
	if err := el.poller.Unregister(fd); err != nil {
		return err
	}
	el.pollHandles--
	return nil
}

// Shutdown stops accepting tasks, drains the queue and waits for the
// loop goroutine to exit or the context to expire.
func (el *EventLoop) Shutdown(ctx context.Context) error {
	el.mu.Lock()
	el.closed = true
	el.mu.Unlock()

	select {
	case el.wake <- struct{}{}:
	default:
	}

	select {
	case <-el.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (el *EventLoop) run() {
	el.gid.Store(goroutineID())
	defer close(el.done)

	for {
		el.runAllTasks()

		el.mu.Lock()
		closed := el.closed
		pending := el.tasks.Length() > 0
		el.mu.Unlock()

		if pending {
			continue
		}
		if closed {
			if el.poller != nil {
				_ = el.poller.Close()
			}
			return
		}

		if el.poller != nil && el.pollHandles > 0 {
			if _, err := el.poller.Poll(el.pollInterval); err != nil {
				el.logger.Error().Err(err).Msg("poller failure")
			}
			// Drain a pending wakeup so the next iteration re-checks the
			// task queue promptly.
			select {
			case <-el.wake:
			default:
			}
		} else {
			<-el.wake
		}
	}
}

func (el *EventLoop) runAllTasks() {
	for {
		el.mu.Lock()
		if el.tasks.Length() == 0 {
			el.mu.Unlock()
			return
		}
		task := el.tasks.Remove().(func())
		el.mu.Unlock()
		el.safeRun(task)
	}
}

func (el *EventLoop) safeRun(task func()) {
	defer func() {
		if r := recover(); r != nil {
			el.logger.Error().Interface("panic", r).Msg("task panicked on event loop")
		}
	}()
	task()
}
