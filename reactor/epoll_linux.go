//go:build linux

// File: reactor/epoll_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll implementation of the Reactor interface.

package reactor

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-channel/api"
)

// epollReactor implements Reactor using Linux epoll.
type epollReactor struct {
	epfd      int
	mu        sync.Mutex
	callbacks map[int]func(api.IOEvents)
}

func newPlatformReactor() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollReactor{
		epfd:      epfd,
		callbacks: make(map[int]func(api.IOEvents)),
	}, nil
}

// Register adds a file descriptor to the epoll watch list.
func (r *epollReactor) Register(fd int, events api.IOEvents, cb func(api.IOEvents)) error {
	var ev unix.EpollEvent
	if events&api.IOEventRead != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if events&api.IOEventWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	ev.Fd = int32(fd)

	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	r.mu.Lock()
	r.callbacks[fd] = cb
	r.mu.Unlock()
	return nil
}

// Unregister removes a file descriptor from the epoll watch list.
func (r *epollReactor) Unregister(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	r.mu.Lock()
	delete(r.callbacks, fd)
	r.mu.Unlock()
	return nil
}

// Poll blocks and waits for events on registered file descriptors.
func (r *epollReactor) Poll(timeoutMs int) (int, error) {
	const maxEvents = 128
	var events [maxEvents]unix.EpollEvent

	n, err := unix.EpollWait(r.epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			// Interrupted by a signal; not an error.
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	handled := 0
	for i := 0; i < n; i++ {
		ev := events[i]
		fd := int(ev.Fd)

		r.mu.Lock()
		cb, ok := r.callbacks[fd]
		r.mu.Unlock()
		if !ok {
			continue
		}

		var eventType api.IOEvents
		if ev.Events&unix.EPOLLIN != 0 {
			eventType |= api.IOEventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			eventType |= api.IOEventWrite
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			eventType |= api.IOEventError
		}

		// Keep the reactor alive through callback panics.
		func() {
			defer func() { _ = recover() }()
			cb(eventType)
		}()
		handled++
	}
	return handled, nil
}

// Close releases the epoll file descriptor.
func (r *epollReactor) Close() error {
	return unix.Close(r.epfd)
}
