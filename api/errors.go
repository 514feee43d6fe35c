// File: api/errors.go
// Package api defines the error kinds surfaced by the channel core.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// Sentinel errors used across the library. Operations never return these
// bare when extra context exists; they are wrapped so errors.Is keeps
// matching the kind.
var (
	ErrChannelClosed     = errors.New("channel is closed")
	ErrOutputShutdown    = errors.New("channel output shutdown")
	ErrNotYetConnected   = errors.New("channel not yet connected")
	ErrAlreadyConnected  = errors.New("channel already connected")
	ErrConnectionPending = errors.New("connection attempt already pending")
	ErrConnectTimeout    = errors.New("connection timed out")
	ErrConnectionRefused = errors.New("connection refused")
	ErrNoRouteToHost     = errors.New("no route to host")
	ErrPortUnreachable   = errors.New("port unreachable")
	ErrUnresolved        = errors.New("address is unresolved")
	ErrUnsupportedOption = errors.New("channel option not supported")
	ErrAlreadyRegistered = errors.New("registered to an event loop already")
	ErrLoopShutdown      = errors.New("event loop is shut down")
	ErrPromiseCanceled   = errors.New("promise was canceled")
)

// ClosedError is the failure attached to operations rejected because the
// channel is closed. Cause, when non-nil, is the error that originally
// brought the channel down.
type ClosedError struct {
	Cause error
}

func (e *ClosedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("channel is closed: %v", e.Cause)
	}
	return "channel is closed"
}

func (e *ClosedError) Unwrap() error { return e.Cause }

// Is reports the closed kind regardless of the recorded cause.
func (e *ClosedError) Is(target error) bool { return target == ErrChannelClosed }

// NewClosedError builds a ClosedError carrying the initial close cause.
func NewClosedError(cause error) *ClosedError {
	return &ClosedError{Cause: cause}
}

// OutputShutdownError fails writes issued after the outbound side of the
// channel was shut down.
type OutputShutdownError struct {
	Cause error
}

func (e *OutputShutdownError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("channel output shutdown: %v", e.Cause)
	}
	return "channel output shutdown"
}

func (e *OutputShutdownError) Unwrap() error { return e.Cause }

func (e *OutputShutdownError) Is(target error) bool { return target == ErrOutputShutdown }

// ConnectTimeoutError fails a connect promise when the connect timer
// fires before the transport completes the attempt.
type ConnectTimeoutError struct {
	Remote net.Addr
}

func (e *ConnectTimeoutError) Error() string {
	return fmt.Sprintf("connection timed out: %v", e.Remote)
}

func (e *ConnectTimeoutError) Is(target error) bool { return target == ErrConnectTimeout }

// ConnectError annotates a connect failure with the remote address the
// attempt was made against, preserving the original error as the cause.
type ConnectError struct {
	Remote net.Addr
	Cause  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%v: %v", e.Cause, e.Remote)
}

func (e *ConnectError) Unwrap() error { return e.Cause }

// AnnotateConnectError wraps the three common connect failure kinds so
// the remote address rides along in the message. Other errors pass
// through untouched.
func AnnotateConnectError(cause error, remote net.Addr) error {
	if errors.Is(cause, ErrConnectionRefused) || errors.Is(cause, ErrNoRouteToHost) || isSocketError(cause) {
		return &ConnectError{Remote: remote, Cause: cause}
	}
	return cause
}

func isSocketError(err error) bool {
	var op *net.OpError
	var sys *os.SyscallError
	return errors.As(err, &op) || errors.As(err, &sys)
}

// IsIOError classifies transport failures the way the write/read error
// policies need it: IO errors on non-server channels shut down the read
// side, and IO errors during the write loop combined with auto-close
// tear the channel down.
func IsIOError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, ErrConnectionRefused) || errors.Is(err, ErrNoRouteToHost) {
		return true
	}
	var op *net.OpError
	var sys *os.SyscallError
	return errors.As(err, &op) || errors.As(err, &sys)
}
