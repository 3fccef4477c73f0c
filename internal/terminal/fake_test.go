package terminal

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jshsakura/oc-terminal-list/internal/history"
	"github.com/jshsakura/oc-terminal-list/internal/logging"
	"github.com/jshsakura/oc-terminal-list/internal/reactor"
)

// fakePoller stands in for the reactor: tests fire readiness by hand.
type fakePoller struct {
	mu        sync.Mutex
	callbacks map[int]reactor.Callback
}

func newFakePoller() *fakePoller {
	return &fakePoller{callbacks: make(map[int]reactor.Callback)}
}

func (p *fakePoller) Register(fd int, cb reactor.Callback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks[fd] = cb
	return nil
}

func (p *fakePoller) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.callbacks, fd)
	return nil
}

func (p *fakePoller) fire(fd int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.callbacks[fd]; ok {
		cb()
	}
}

func (p *fakePoller) registered(fd int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.callbacks[fd]
	return ok
}

var nextFakeFd atomic.Int32

// fakeProcess is an in-memory Process whose output is fed by emit.
type fakeProcess struct {
	fd     int
	poller *fakePoller

	mu         sync.Mutex
	out        bytes.Buffer
	input      bytes.Buffer
	hungUp     bool
	cols, rows uint16
	terminated bool
	alive      atomic.Bool
}

func (p *fakeProcess) emit(data string) {
	p.mu.Lock()
	p.out.WriteString(data)
	p.mu.Unlock()
	p.poller.fire(p.fd)
}

func (p *fakeProcess) exit() {
	p.alive.Store(false)
}

func (p *fakeProcess) Fd() int { return p.fd }

func (p *fakeProcess) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out.Len() == 0 {
		if p.hungUp {
			return 0, io.EOF
		}
		return 0, nil
	}
	return p.out.Read(buf)
}

func (p *fakeProcess) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return errors.New("terminated")
	}
	p.input.Write(data)
	return nil
}

func (p *fakeProcess) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols, p.rows = cols, rows
	return nil
}

func (p *fakeProcess) Alive() bool { return p.alive.Load() }

func (p *fakeProcess) Terminate(force bool, grace time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = true
	p.alive.Store(false)
	return nil
}

func (p *fakeProcess) inputString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

func (p *fakeProcess) isTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// fakeSpawner records every process it starts.
type fakeSpawner struct {
	poller *fakePoller
	fail   error

	mu    sync.Mutex
	procs map[string]*fakeProcess
	count int
}

func (s *fakeSpawner) Spawn(req SpawnRequest) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	p := &fakeProcess{
		fd:     int(nextFakeFd.Add(1)),
		poller: s.poller,
		cols:   req.Cols,
		rows:   req.Rows,
	}
	p.alive.Store(true)
	s.procs[req.SessionID] = p
	s.count++
	return p, nil
}

func (s *fakeSpawner) proc(id string) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[id]
}

func (s *fakeSpawner) spawned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// recordingChannel keeps what it was given; fail makes Send error out.
type recordingChannel struct {
	mu      sync.Mutex
	replays []string
	chunks  []string
	fail    error
}

func (c *recordingChannel) Replay(history string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replays = append(c.replays, history)
	return nil
}

func (c *recordingChannel) Send(chunk string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.chunks = append(c.chunks, chunk)
	return nil
}

func (c *recordingChannel) setFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

func (c *recordingChannel) live() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.chunks, "")
}

func (c *recordingChannel) replay() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.replays, "")
}

type testEnv struct {
	manager *Manager
	poller  *fakePoller
	spawner *fakeSpawner
	history *history.Store
}

func setupManager(t *testing.T, backend history.Backend, records Recorder) *testEnv {
	t.Helper()

	poller := newFakePoller()
	spawner := &fakeSpawner{poller: poller, procs: make(map[string]*fakeProcess)}
	hist := history.New(backend, 1000, logging.Nop(), nil)
	m := NewManager(Options{
		Spawner:        spawner,
		Poller:         poller,
		History:        hist,
		Records:        records,
		Log:            logging.Nop(),
		LivenessPeriod: 20 * time.Millisecond,
		KillGrace:      10 * time.Millisecond,
	})
	t.Cleanup(func() {
		m.Shutdown(contextWithTimeout(t, 5*time.Second))
		hist.Close()
	})
	return &testEnv{manager: m, poller: poller, spawner: spawner, history: hist}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
