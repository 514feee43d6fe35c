// File: channel/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package channel implements the transport-independent core of an
// asynchronous channel: the per-channel state machine that connects a
// concrete transport (in-process pipe, epoll/kqueue registration, fd)
// to the user-visible handler pipeline.
//
// The core owns registration with an event loop, bind, connect with
// timeout and fast-open, read scheduling with backpressure, the
// partial-write flush loop with watermark-driven writability, per
// direction shutdown and graceful teardown. Syscalls belong to the
// Transport implementation; user-level processing belongs to the
// Pipeline handlers. Every state transition runs on the owning event
// loop; the writable flag is the only cross-thread compare-and-set.
package channel
