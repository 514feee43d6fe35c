// File: concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package concurrency implements the execution primitives the channel
// core is built on: a single-threaded EventLoop with an ordered task
// queue, cancellable timers and optional poller integration, and a
// single-shot Promise completion cell with listeners.
//
// Every channel is pinned to exactly one EventLoop; all channel state
// mutations run on it. User code observes asynchrony only through
// futures.
package concurrency
