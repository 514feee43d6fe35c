// File: pool/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package pool provides the size-classed, reusable buffer allocator the
// channel core uses for inbound payloads. Buffers carry a read cursor
// and return to their class pool on Release.
package pool
