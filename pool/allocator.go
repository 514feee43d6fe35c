// File: pool/allocator.go
// Package pool implements the size-classed buffer allocator.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-channel/api"
)

const (
	minClassSize = 64
	maxClassSize = 1 << 20
)

// Allocator hands out pooled buffers in power-of-two size classes.
// Requests above the largest class get a one-off, unpooled buffer.
type Allocator struct {
	classes map[int]*sync.Pool
	mu      sync.Mutex

	// accounting
	allocs   atomic.Int64
	oversize atomic.Int64
}

// Stats aggregates allocation accounting for observability.
type Stats struct {
	TotalAlloc int64
	Oversize   int64
}

// NewAllocator creates an empty allocator; class pools are populated on
// demand.
func NewAllocator() *Allocator {
	return &Allocator{classes: make(map[int]*sync.Pool)}
}

// Allocate implements api.BufferAllocator.
func (a *Allocator) Allocate(capacity int) api.Buffer {
	if capacity <= 0 {
		capacity = minClassSize
	}
	a.allocs.Add(1)
	if capacity > maxClassSize {
		a.oversize.Add(1)
		return &buffer{data: make([]byte, capacity)}
	}
	class := classFor(capacity)
	pool := a.classPool(class)
	b := pool.Get().(*buffer)
	return b
}

func (a *Allocator) classPool(class int) *sync.Pool {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.classes[class]
	if !ok {
		p = &sync.Pool{}
		p.New = func() any {
			return &buffer{data: make([]byte, class), home: p}
		}
		a.classes[class] = p
	}
	return p
}

// Stats reports allocation counters.
func (a *Allocator) Stats() Stats {
	return Stats{
		TotalAlloc: a.allocs.Load(),
		Oversize:   a.oversize.Load(),
	}
}

func classFor(capacity int) int {
	class := minClassSize
	for class < capacity {
		class <<= 1
	}
	return class
}

var defaultAllocator = NewAllocator()

// Default returns the process-wide allocator.
func Default() api.BufferAllocator { return defaultAllocator }
