// File: api/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package api holds the contracts shared between the channel core, the
// event loop, concrete transports and the supporting pools: error kinds,
// the typed option table, read/write handle factories, buffer and
// allocator abstractions, and the IO-handle contract that fd-backed
// transports use to plug into a poller.
//
// The package is dependency-free on purpose; everything that moves is
// implemented elsewhere.
package api
