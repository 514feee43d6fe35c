// File: api/options.go
// Package api defines the typed channel option table.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"fmt"
	"time"
)

// Option is a named configuration key. Options are compared by identity
// of their name; the value type is carried by TypedOption.
type Option interface {
	Name() string
	// Validate rejects values of the wrong dynamic type or out of range.
	Validate(value any) error
}

// TypedOption is an Option whose value must be of type T.
type TypedOption[T any] struct {
	name     string
	validate func(T) error
}

// NewOption declares a typed option with an optional range check.
func NewOption[T any](name string, validate func(T) error) TypedOption[T] {
	return TypedOption[T]{name: name, validate: validate}
}

func (o TypedOption[T]) Name() string { return o.name }

func (o TypedOption[T]) Validate(value any) error {
	v, ok := value.(T)
	if !ok {
		return fmt.Errorf("option %s: value %T has wrong type", o.name, value)
	}
	if o.validate != nil {
		return o.validate(v)
	}
	return nil
}

// The option table recognized by the channel core. Transports may add
// extended options through their option extension hook.
var (
	// AutoRead schedules a new read automatically after each read-complete.
	AutoRead = NewOption[bool]("AUTO_READ", nil)

	// AutoClose closes the channel when an IO failure happens during write.
	AutoClose = NewOption[bool]("AUTO_CLOSE", nil)

	// AllowHalfClosure permits shutting down the inbound side without a
	// full close when the remote peer closes its outbound side.
	AllowHalfClosure = NewOption[bool]("ALLOW_HALF_CLOSURE", nil)

	// ConnectTimeout bounds a connect attempt; zero disables the timer.
	ConnectTimeout = NewOption[time.Duration]("CONNECT_TIMEOUT_MILLIS", func(d time.Duration) error {
		if d < 0 {
			return fmt.Errorf("connect timeout must be >= 0, got %v", d)
		}
		return nil
	})

	// WriteBufferWaterMark brackets the writability flag transitions.
	WriteBufferWaterMark = NewOption[WaterMark]("WRITE_BUFFER_WATER_MARK", func(wm WaterMark) error {
		return wm.validate()
	})

	// ReadBufferAllocatorOption replaces the allocator used for inbound
	// payloads.
	ReadBufferAllocatorOption = NewOption[BufferAllocator]("BUFFER_ALLOCATOR", func(a BufferAllocator) error {
		if a == nil {
			return fmt.Errorf("buffer allocator must not be nil")
		}
		return nil
	})

	// ReadHandleFactoryOption produces the read handles controlling batch
	// size and read-loop iteration count.
	ReadHandleFactoryOption = NewOption[ReadHandleFactory]("READ_HANDLE_FACTORY", func(f ReadHandleFactory) error {
		if f == nil {
			return fmt.Errorf("read handle factory must not be nil")
		}
		return nil
	})

	// WriteHandleFactoryOption produces the write handles controlling the
	// gathering-write size hint and write-loop iteration count.
	WriteHandleFactoryOption = NewOption[WriteHandleFactory]("WRITE_HANDLE_FACTORY", func(f WriteHandleFactory) error {
		if f == nil {
			return fmt.Errorf("write handle factory must not be nil")
		}
		return nil
	})

	// SizeEstimatorOption estimates outbound message sizes for
	// pending-bytes accounting.
	SizeEstimatorOption = NewOption[MessageSizeEstimator]("MESSAGE_SIZE_ESTIMATOR", func(e MessageSizeEstimator) error {
		if e == nil {
			return fmt.Errorf("message size estimator must not be nil")
		}
		return nil
	})

	// FastOpenConnect sends the head of the flushed outbound buffer as
	// initial data during connect, on transports that support it.
	FastOpenConnect = NewOption[bool]("TCP_FASTOPEN_CONNECT", nil)

	// SoBroadcast is a transport-extended socket option; the core only
	// consults it for the non-wildcard broadcast bind warning.
	SoBroadcast = NewOption[bool]("SO_BROADCAST", nil)
)

// WaterMark holds the high/low thresholds for writability transitions.
// Pending bytes above High flip the channel to not-writable; below Low
// flip it back. Between the two the flag is sticky.
type WaterMark struct {
	Low  int64
	High int64
}

// DefaultWaterMark mirrors the usual 32KiB/64KiB bracket.
var DefaultWaterMark = WaterMark{Low: 32 * 1024, High: 64 * 1024}

func (wm WaterMark) validate() error {
	if wm.Low < 0 {
		return fmt.Errorf("watermark low must be >= 0, got %d", wm.Low)
	}
	if wm.High < wm.Low {
		return fmt.Errorf("watermark high (%d) must be >= low (%d)", wm.High, wm.Low)
	}
	return nil
}

// NewWaterMark validates and builds a WaterMark.
func NewWaterMark(low, high int64) (WaterMark, error) {
	wm := WaterMark{Low: low, High: high}
	if err := wm.validate(); err != nil {
		return WaterMark{}, err
	}
	return wm, nil
}
