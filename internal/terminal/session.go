package terminal

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Channel is the live sink of a session's output. Both methods must return
// promptly; a Channel that cannot keep up reports an error instead of
// buffering without bound.
type Channel interface {
	// Replay delivers the retained history. It is called once, before the
	// channel receives any live chunk.
	Replay(history string) error
	// Send delivers one live chunk.
	Send(chunk string) error
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	ID         string    `json:"session_id"`
	Owner      string    `json:"owner"`
	Alive      bool      `json:"alive"`
	Attached   bool      `json:"attached"`
	Cols       uint16    `json:"cols"`
	Rows       uint16    `json:"rows"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Session is one persistent shell. All state transitions and the
// append-and-forward step of the relay are serialized by mu.
type Session struct {
	ID        string
	Owner     string
	CreatedAt time.Time

	mu         sync.Mutex
	state      State
	proc       Process
	channel    Channel
	cols, rows uint16
	lastActive time.Time

	// inputMu orders writes to the process without holding mu, so a slow
	// write never delays output delivery.
	inputMu sync.Mutex

	notify    chan struct{}
	cancel    context.CancelFunc
	relayDone chan struct{}

	// ready is closed once the spawn finished; spawnErr is set before.
	ready    chan struct{}
	spawnErr error
}

func newSession(id, owner string, cols, rows uint16) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Owner:      owner,
		CreatedAt:  now,
		state:      StateStarting,
		cols:       cols,
		rows:       rows,
		lastActive: now,
		notify:     make(chan struct{}, 1),
		relayDone:  make(chan struct{}),
		ready:      make(chan struct{}),
	}
}

// wake is the reactor callback. It never blocks; readiness signals that
// arrive while a drain is pending coalesce into one.
func (s *Session) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) isReady() bool {
	select {
	case <-s.ready:
		return s.spawnErr == nil
	default:
		return false
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alive reports whether the session's process is still running.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliveLocked()
}

func (s *Session) aliveLocked() bool {
	return s.state == StateRunning && s.proc != nil && s.proc.Alive()
}

// Attached reports whether a channel is currently attached.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel != nil
}

// Size returns the current terminal dimensions.
func (s *Session) Size() (cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() Info {
	return Info{
		ID:         s.ID,
		Owner:      s.Owner,
		Alive:      s.aliveLocked(),
		Attached:   s.channel != nil,
		Cols:       s.cols,
		Rows:       s.rows,
		CreatedAt:  s.CreatedAt,
		LastActive: s.lastActive,
	}
}
