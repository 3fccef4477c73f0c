// Package reactor delivers readiness notifications for non-blocking file
// descriptors from a single OS-level event loop.
//
// Registration is edge-triggered: a callback runs once each time new data
// arrives, so the owner must drain the descriptor until it would block.
// Callbacks run on the loop goroutine and must return quickly; they must
// not call Register or Unregister.
package reactor

import "errors"

// ErrUnsupported is returned by New on platforms without epoll.
var ErrUnsupported = errors.New("reactor: this platform is not supported")

// ErrClosed is returned when registering on a closed reactor.
var ErrClosed = errors.New("reactor: closed")

// Callback is invoked on the loop goroutine when fd becomes readable or
// hangs up.
type Callback func()
