package terminal

import (
	"time"

	"github.com/jshsakura/oc-terminal-list/internal/ptyproc"
	"github.com/jshsakura/oc-terminal-list/internal/reactor"
)

// Process is a running shell as seen by the relay. Read must not block:
// it returns (0, nil) when no output is pending and an error once the
// terminal is gone.
type Process interface {
	Fd() int
	Read(buf []byte) (int, error)
	Write(data []byte) error
	Resize(cols, rows uint16) error
	Alive() bool
	Terminate(force bool, grace time.Duration) error
}

// SpawnRequest carries the per-session parameters of a new process.
type SpawnRequest struct {
	SessionID string
	Cols      uint16
	Rows      uint16
}

// Spawner starts processes for new sessions.
type Spawner interface {
	Spawn(req SpawnRequest) (Process, error)
}

// SpawnFunc adapts a function to Spawner.
type SpawnFunc func(req SpawnRequest) (Process, error)

func (f SpawnFunc) Spawn(req SpawnRequest) (Process, error) {
	return f(req)
}

// Poller delivers readiness callbacks for process descriptors.
type Poller interface {
	Register(fd int, cb reactor.Callback) error
	Unregister(fd int) error
}

// ShellSpawner starts login shells through ptyproc with a fixed base
// configuration.
type ShellSpawner struct {
	Shell  string
	Dir    string
	Locale string
	Env    []string
}

func (s ShellSpawner) Spawn(req SpawnRequest) (Process, error) {
	p, err := ptyproc.Spawn(ptyproc.Options{
		Shell:  s.Shell,
		Dir:    s.Dir,
		Locale: s.Locale,
		Env:    append(append([]string(nil), s.Env...), "TERMLIST_SESSION_ID="+req.SessionID),
		Cols:   req.Cols,
		Rows:   req.Rows,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
