// File: api/resource.go
// Package api defines resource disposal for owned messages.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "io"

// Releasable is implemented by pooled resources such as buffers.
type Releasable interface {
	Release()
}

// Dispose releases a message that will not travel any further: pooled
// resources go back to their pool, closers get closed, everything else
// is left to the garbage collector. Dispose never fails; a disposal
// panic is swallowed so failure paths stay leak-free.
func Dispose(msg any) {
	defer func() { _ = recover() }()
	switch m := msg.(type) {
	case Releasable:
		m.Release()
	case io.Closer:
		_ = m.Close()
	}
}
