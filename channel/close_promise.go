// File: channel/close_promise.go
// Package channel implements the single-shot close signal.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"context"

	"github.com/momentics/hioload-channel/concurrency"
)

// ClosePromise is the channel's close future. It completes exactly once,
// and only through the core's internal close path; every public
// completion method fails so external code cannot complete it.
type ClosePromise struct {
	inner *concurrency.Promise
}

func newClosePromise() *ClosePromise {
	return &ClosePromise{inner: concurrency.NewPromise()}
}

// TrySuccess always fails; only the core completes the close promise.
func (cp *ClosePromise) TrySuccess() bool { return false }

// TryFailure always fails; only the core completes the close promise.
func (cp *ClosePromise) TryFailure(error) bool { return false }

// Cancel always fails; the close promise is uncancellable.
func (cp *ClosePromise) Cancel() bool { return false }

// SetUncancellable reports true, mirroring the cell's permanent
// uncancellable state.
func (cp *ClosePromise) SetUncancellable() bool { return true }

// Done implements concurrency.Future.
func (cp *ClosePromise) Done() <-chan struct{} { return cp.inner.Done() }

// Err implements concurrency.Future.
func (cp *ClosePromise) Err() error { return cp.inner.Err() }

// IsDone implements concurrency.Future.
func (cp *ClosePromise) IsDone() bool { return cp.inner.IsDone() }

// IsCanceled implements concurrency.Future.
func (cp *ClosePromise) IsCanceled() bool { return false }

// AddListener implements concurrency.Future.
func (cp *ClosePromise) AddListener(fn func(concurrency.Future)) { cp.inner.AddListener(fn) }

// Await implements concurrency.Future.
func (cp *ClosePromise) Await(ctx context.Context) error { return cp.inner.Await(ctx) }

// setClosed is the single internal completion path.
func (cp *ClosePromise) setClosed() { cp.inner.TrySuccess() }
