package terminal

import "errors"

var (
	// ErrSessionNotFound is returned for ids with no live session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by callers that refuse to reuse a live id.
	ErrSessionExists = errors.New("session already exists")
	// ErrSpawnFailed wraps process start failures. No session is registered.
	ErrSpawnFailed = errors.New("spawn failed")
	// ErrProcessDead marks a session whose shell has exited.
	ErrProcessDead = errors.New("terminal process exited")
	// ErrChannelClosed is returned by a Channel that can no longer deliver.
	ErrChannelClosed = errors.New("channel closed")
	// ErrChannelFull is returned by a Channel whose outbound queue is full.
	ErrChannelFull = errors.New("channel outbound queue full")
)
