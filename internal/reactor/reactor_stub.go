//go:build !linux

package reactor

import "context"

// Reactor is unavailable on this platform.
type Reactor struct {
	OnPanic func(fd int, v any)
}

func New() (*Reactor, error) {
	return nil, ErrUnsupported
}

func (r *Reactor) Register(fd int, cb Callback) error { return ErrUnsupported }

func (r *Reactor) Unregister(fd int) error { return ErrUnsupported }

func (r *Reactor) Run(ctx context.Context) error { return ErrUnsupported }

func (r *Reactor) Close() error { return nil }
