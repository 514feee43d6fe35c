// File: channel/options.go
// Package channel implements the typed runtime option table.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"fmt"
	"sync"
	"time"

	"github.com/momentics/hioload-channel/api"
)

const defaultConnectTimeout = 30 * time.Second

// config holds the mutable channel configuration. autoRead and the
// writability flag live on the Channel as atomics; everything here is
// guarded for volatile-safe reads from any thread.
type config struct {
	mu sync.RWMutex

	connectTimeout   time.Duration
	autoClose        bool
	allowHalfClosure bool
	fastOpenConnect  bool
	waterMark        api.WaterMark
	allocator        api.BufferAllocator
	readFactory      api.ReadHandleFactory
	writeFactory     api.WriteHandleFactory
	sizeEstimator    api.MessageSizeEstimator
}

func (cfg *config) getConnectTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.connectTimeout
}

func (cfg *config) isAutoClose() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.autoClose
}

func (cfg *config) isAllowHalfClosure() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.allowHalfClosure
}

func (cfg *config) isFastOpenConnect() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.fastOpenConnect
}

func (cfg *config) getWaterMark() api.WaterMark {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.waterMark
}

func (cfg *config) bufferAllocator() api.BufferAllocator {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.allocator
}

func (cfg *config) readHandleFactory() api.ReadHandleFactory {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.readFactory
}

func (cfg *config) writeHandleFactory() api.WriteHandleFactory {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.writeFactory
}

func (cfg *config) getSizeEstimator() api.MessageSizeEstimator {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.sizeEstimator
}

// SetOption applies a typed option value to the channel. Safe from any
// thread.
func SetOption[T any](c *Channel, opt api.TypedOption[T], value T) error {
	return c.SetOptionAny(opt, value)
}

// GetOption reads a typed option value. Safe from any thread.
func GetOption[T any](c *Channel, opt api.TypedOption[T]) (T, error) {
	var zero T
	v, err := c.GetOptionAny(opt)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("option %s: unexpected value type %T", opt.Name(), v)
	}
	return t, nil
}

// SetOptionAny applies an option by its table entry. Unknown options go
// to the transport's extension hook; without one the call fails with
// api.ErrUnsupportedOption.
func (c *Channel) SetOptionAny(opt api.Option, value any) error {
	if opt == nil {
		return fmt.Errorf("channel: option must not be nil")
	}
	if err := opt.Validate(value); err != nil {
		return err
	}
	cfg := &c.config
	switch opt.Name() {
	case api.AutoRead.Name():
		c.setAutoRead(value.(bool))
	case api.AutoClose.Name():
		cfg.mu.Lock()
		cfg.autoClose = value.(bool)
		cfg.mu.Unlock()
	case api.AllowHalfClosure.Name():
		cfg.mu.Lock()
		cfg.allowHalfClosure = value.(bool)
		cfg.mu.Unlock()
	case api.ConnectTimeout.Name():
		cfg.mu.Lock()
		cfg.connectTimeout = value.(time.Duration)
		cfg.mu.Unlock()
	case api.WriteBufferWaterMark.Name():
		cfg.mu.Lock()
		cfg.waterMark = value.(api.WaterMark)
		cfg.mu.Unlock()
	case api.ReadBufferAllocatorOption.Name():
		cfg.mu.Lock()
		cfg.allocator = value.(api.BufferAllocator)
		cfg.mu.Unlock()
	case api.ReadHandleFactoryOption.Name():
		cfg.mu.Lock()
		cfg.readFactory = value.(api.ReadHandleFactory)
		cfg.mu.Unlock()
	case api.WriteHandleFactoryOption.Name():
		cfg.mu.Lock()
		cfg.writeFactory = value.(api.WriteHandleFactory)
		cfg.mu.Unlock()
	case api.SizeEstimatorOption.Name():
		cfg.mu.Lock()
		cfg.sizeEstimator = value.(api.MessageSizeEstimator)
		cfg.mu.Unlock()
	case api.FastOpenConnect.Name():
		if !c.supportsFastOpen() {
			return fmt.Errorf("%w: %s", api.ErrUnsupportedOption, opt.Name())
		}
		cfg.mu.Lock()
		cfg.fastOpenConnect = value.(bool)
		cfg.mu.Unlock()
	default:
		if ext, ok := c.transport.(OptionExtension); ok {
			return ext.SetExtendedOption(opt, value)
		}
		return fmt.Errorf("%w: %s", api.ErrUnsupportedOption, opt.Name())
	}
	return nil
}

// GetOptionAny reads an option by its table entry.
func (c *Channel) GetOptionAny(opt api.Option) (any, error) {
	if opt == nil {
		return nil, fmt.Errorf("channel: option must not be nil")
	}
	cfg := &c.config
	switch opt.Name() {
	case api.AutoRead.Name():
		return c.IsAutoRead(), nil
	case api.AutoClose.Name():
		return cfg.isAutoClose(), nil
	case api.AllowHalfClosure.Name():
		return cfg.isAllowHalfClosure(), nil
	case api.ConnectTimeout.Name():
		return cfg.getConnectTimeout(), nil
	case api.WriteBufferWaterMark.Name():
		return cfg.getWaterMark(), nil
	case api.ReadBufferAllocatorOption.Name():
		return cfg.bufferAllocator(), nil
	case api.ReadHandleFactoryOption.Name():
		return cfg.readHandleFactory(), nil
	case api.WriteHandleFactoryOption.Name():
		return cfg.writeHandleFactory(), nil
	case api.SizeEstimatorOption.Name():
		return cfg.getSizeEstimator(), nil
	case api.FastOpenConnect.Name():
		if !c.supportsFastOpen() {
			return nil, fmt.Errorf("%w: %s", api.ErrUnsupportedOption, opt.Name())
		}
		return cfg.isFastOpenConnect(), nil
	default:
		if ext, ok := c.transport.(OptionExtension); ok {
			return ext.GetExtendedOption(opt)
		}
		return nil, fmt.Errorf("%w: %s", api.ErrUnsupportedOption, opt.Name())
	}
}

// IsOptionSupported reports whether the core or the transport recognizes
// the option.
func (c *Channel) IsOptionSupported(opt api.Option) bool {
	switch opt.Name() {
	case api.AutoRead.Name(), api.AutoClose.Name(), api.AllowHalfClosure.Name(),
		api.ConnectTimeout.Name(), api.WriteBufferWaterMark.Name(),
		api.ReadBufferAllocatorOption.Name(), api.ReadHandleFactoryOption.Name(),
		api.WriteHandleFactoryOption.Name(), api.SizeEstimatorOption.Name():
		return true
	case api.FastOpenConnect.Name():
		return c.supportsFastOpen()
	default:
		if ext, ok := c.transport.(OptionExtension); ok {
			return ext.IsExtendedOptionSupported(opt)
		}
		return false
	}
}

func (c *Channel) supportsFastOpen() bool {
	fo, ok := c.transport.(FastOpenCapable)
	return ok && fo.SupportsFastOpen()
}
