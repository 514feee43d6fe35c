// File: local/address.go
// Package local implements in-process addresses and their registry.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package local

import (
	"errors"
	"fmt"
	"sync"
)

// Addr is an in-process endpoint name.
type Addr string

// Network implements net.Addr.
func (Addr) Network() string { return "local" }

// String implements net.Addr.
func (a Addr) String() string { return string(a) }

// ErrAddressInUse rejects binding a name that is already published.
var ErrAddressInUse = errors.New("local: address already in use")

// registry maps published addresses to their listening transports.
var registry sync.Map // Addr -> *serverTransport

func registerServer(addr Addr, t *serverTransport) error {
	if _, loaded := registry.LoadOrStore(addr, t); loaded {
		return fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	}
	return nil
}

func lookupServer(addr Addr) *serverTransport {
	v, ok := registry.Load(addr)
	if !ok {
		return nil
	}
	return v.(*serverTransport)
}

func unregisterServer(addr Addr, t *serverTransport) {
	registry.CompareAndDelete(addr, t)
}

// Registered reports whether a server is currently published under addr.
func Registered(addr Addr) bool {
	_, ok := registry.Load(addr)
	return ok
}
