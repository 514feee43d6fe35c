// File: local/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package local provides an in-process transport for the channel core:
// a process-wide address registry, a server (acceptor) channel and
// peer-to-peer client channels exchanging messages through in-memory
// queues. It exercises every core hook without OS sockets and is the
// transport of choice for tests and same-process wiring.
package local
