//go:build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub reactor for platforms without a poller implementation. Channels
// on virtual transports (in-process pipes) do not need one.

package reactor

import (
	"errors"

	"github.com/momentics/hioload-channel/api"
)

var errUnsupported = errors.New("reactor: no poller implementation for this platform")

type stubReactor struct{}

func newPlatformReactor() (Reactor, error) {
	return stubReactor{}, nil
}

func (stubReactor) Register(int, api.IOEvents, func(api.IOEvents)) error { return errUnsupported }

func (stubReactor) Unregister(int) error { return errUnsupported }

func (stubReactor) Poll(int) (int, error) { return 0, errUnsupported }

func (stubReactor) Close() error { return nil }
