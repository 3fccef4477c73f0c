//go:build linux

package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	maxEvents = 128
	// waitTimeoutMs bounds how long Run can take to notice cancellation.
	waitTimeoutMs = 200
)

// Reactor is an edge-triggered epoll loop.
type Reactor struct {
	epfd int

	// mu is held shared while callbacks run and exclusively by Unregister,
	// so no callback for fd runs after Unregister(fd) returns.
	mu        sync.RWMutex
	callbacks map[int]Callback
	closed    bool

	// OnPanic, when set, receives values recovered from callbacks.
	OnPanic func(fd int, v any)
}

// New creates the epoll instance. Call Run to start dispatching.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &Reactor{epfd: epfd, callbacks: make(map[int]Callback)}, nil
}

// Register watches fd for input readiness.
func (r *Reactor) Register(fd int, cb Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	r.callbacks[fd] = cb
	return nil
}

// Unregister stops watching fd. An fd that is not registered is ignored.
func (r *Reactor) Unregister(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.callbacks[fd]; !ok {
		return nil
	}
	delete(r.callbacks, fd)
	if r.closed {
		return nil
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Run dispatches readiness events until ctx is cancelled or the reactor is
// closed.
func (r *Reactor) Run(ctx context.Context) error {
	events := make([]unix.EpollEvent, maxEvents)
	for {
		if ctx.Err() != nil {
			return nil
		}
		r.mu.RLock()
		closed := r.closed
		r.mu.RUnlock()
		if closed {
			return nil
		}

		n, err := unix.EpollWait(r.epfd, events, waitTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			r.mu.RLock()
			closed := r.closed
			r.mu.RUnlock()
			if closed {
				return nil
			}
			return fmt.Errorf("epoll wait: %w", err)
		}
		r.dispatch(events[:n])
	}
}

func (r *Reactor) dispatch(events []unix.EpollEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ev := range events {
		fd := int(ev.Fd)
		cb, ok := r.callbacks[fd]
		if !ok {
			continue
		}
		r.invoke(fd, cb)
	}
}

func (r *Reactor) invoke(fd int, cb Callback) {
	defer func() {
		if v := recover(); v != nil && r.OnPanic != nil {
			r.OnPanic(fd, v)
		}
	}()
	cb()
}

// Close releases the epoll instance. Run returns shortly after.
func (r *Reactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return unix.Close(r.epfd)
}
