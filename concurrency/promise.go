// File: concurrency/promise.go
// Package concurrency implements the single-shot completion cell used by
// all channel operations.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"context"
	"sync"

	"github.com/momentics/hioload-channel/api"
)

// Future is the read side of a Promise. Listeners added after completion
// run immediately on the calling goroutine; listeners added before run
// on the goroutine that completes the promise.
type Future interface {
	// Done is closed once the promise completes (success, failure or
	// cancellation).
	Done() <-chan struct{}

	// Err returns nil before completion and on success, the failure cause
	// otherwise. A canceled promise reports api.ErrPromiseCanceled.
	Err() error

	IsDone() bool
	IsCanceled() bool

	// Cancel fails the promise with api.ErrPromiseCanceled unless it is
	// already done or was latched uncancellable.
	Cancel() bool

	// AddListener registers fn to run when the promise completes.
	AddListener(fn func(Future))

	// Await blocks until completion or context expiry. It returns the
	// completion error, or the context error if the context won first.
	Await(ctx context.Context) error
}

// Promise is the write side. The zero value is not usable; construct
// with NewPromise.
type Promise struct {
	mu            sync.Mutex
	done          chan struct{}
	completed     bool
	canceled      bool
	uncancellable bool
	err           error
	listeners     []func(Future)
}

// NewPromise creates an incomplete promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// TrySuccess completes the promise successfully. Returns false if it was
// already done.
func (p *Promise) TrySuccess() bool { return p.complete(nil, false) }

// TryFailure completes the promise with cause. Returns false if it was
// already done.
func (p *Promise) TryFailure(cause error) bool { return p.complete(cause, false) }

// Cancel implements Future.
func (p *Promise) Cancel() bool {
	p.mu.Lock()
	if p.completed || p.uncancellable {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()
	return p.complete(api.ErrPromiseCanceled, true)
}

// SetUncancellable latches the promise against cancellation. Returns
// false if the promise was already canceled; the operation must then be
// abandoned.
func (p *Promise) SetUncancellable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.canceled {
		return false
	}
	p.uncancellable = true
	return true
}

func (p *Promise) complete(cause error, canceled bool) bool {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return false
	}
	if canceled && p.uncancellable {
		p.mu.Unlock()
		return false
	}
	p.completed = true
	p.canceled = canceled
	p.err = cause
	listeners := p.listeners
	p.listeners = nil
	close(p.done)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(p)
	}
	return true
}

// Done implements Future.
func (p *Promise) Done() <-chan struct{} { return p.done }

// Err implements Future.
func (p *Promise) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// IsDone implements Future.
func (p *Promise) IsDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// IsCanceled implements Future.
func (p *Promise) IsCanceled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canceled
}

// AddListener implements Future.
func (p *Promise) AddListener(fn func(Future)) {
	p.mu.Lock()
	if !p.completed {
		p.listeners = append(p.listeners, fn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	fn(p)
}

// Await implements Future.
func (p *Promise) Await(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
