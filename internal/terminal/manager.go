package terminal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jshsakura/oc-terminal-list/internal/history"
	"github.com/jshsakura/oc-terminal-list/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultLivenessPeriod is how often a relay checks that its process is
	// still running.
	DefaultLivenessPeriod = time.Second
	// DefaultKillGrace is how long a killed process group gets to exit
	// after SIGHUP before it is sent SIGKILL.
	DefaultKillGrace = 3 * time.Second
)

// Recorder keeps the durable session records. Record errors are logged and
// never fail a session operation.
type Recorder interface {
	CreateSessionRecord(ctx context.Context, sessionID, owner string) error
	UpdateLastActive(ctx context.Context, sessionID string) error
	DeleteSessionRecord(ctx context.Context, sessionID string) error
}

// Options configures a Manager. Spawner, Poller and History are required.
type Options struct {
	Spawner Spawner
	Poller  Poller
	History *history.Store
	Records Recorder
	Metrics *metrics.Metrics
	Log     zerolog.Logger

	LivenessPeriod time.Duration
	KillGrace      time.Duration
}

// Manager is the registry of live sessions. The map lock guards only map
// membership; all work on a session happens under that session's own lock,
// so distinct sessions never wait on each other.
type Manager struct {
	spawner Spawner
	poller  Poller
	history *history.Store
	records Recorder
	metrics *metrics.Metrics
	log     zerolog.Logger

	liveness  time.Duration
	killGrace time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty registry.
func NewManager(opts Options) *Manager {
	m := &Manager{
		spawner:   opts.Spawner,
		poller:    opts.Poller,
		history:   opts.History,
		records:   opts.Records,
		metrics:   opts.Metrics,
		log:       opts.Log,
		liveness:  opts.LivenessPeriod,
		killGrace: opts.KillGrace,
		sessions:  make(map[string]*Session),
	}
	if m.liveness <= 0 {
		m.liveness = DefaultLivenessPeriod
	}
	if m.killGrace <= 0 {
		m.killGrace = DefaultKillGrace
	}
	return m
}

// Create returns the live session for id, starting one if there is none.
// created reports whether this call spawned the process. A spawn failure
// leaves nothing registered and is returned wrapped in ErrSpawnFailed.
func (m *Manager) Create(ctx context.Context, id, owner string, cols, rows uint16) (s *Session, created bool, err error) {
	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		if err := m.awaitReady(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	s = newSession(id, owner, cols, rows)
	m.sessions[id] = s
	m.mu.Unlock()

	if err := m.start(ctx, s); err != nil {
		m.remove(id, s)
		s.spawnErr = err
		close(s.ready)
		return nil, false, err
	}
	close(s.ready)

	m.log.Info().Str("session", id).Str("owner", owner).
		Uint16("cols", cols).Uint16("rows", rows).Msg("created session")
	return s, true, nil
}

// CreateNew starts a session under id and fails with ErrSessionExists if
// one is already registered.
func (m *Manager) CreateNew(ctx context.Context, id, owner string, cols, rows uint16) (*Session, error) {
	if m.Exists(id) {
		return nil, ErrSessionExists
	}
	s, created, err := m.Create(ctx, id, owner, cols, rows)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrSessionExists
	}
	return s, nil
}

func (m *Manager) awaitReady(ctx context.Context, s *Session) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.spawnErr != nil {
		return s.spawnErr
	}
	return nil
}

// start spawns the process and launches the relay. On failure everything
// it acquired is released.
func (m *Manager) start(ctx context.Context, s *Session) error {
	if err := m.history.Load(ctx, s.ID); err != nil {
		m.metrics.PersistFailed()
		m.log.Error().Err(err).Str("session", s.ID).Msg("load history, continuing with empty window")
	}

	proc, err := m.spawner.Spawn(SpawnRequest{SessionID: s.ID, Cols: s.cols, Rows: s.rows})
	if err != nil {
		m.metrics.SpawnFailed()
		m.history.Forget(s.ID)
		m.log.Error().Err(err).Str("session", s.ID).Msg("spawn failed")
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	relayCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.proc = proc
	s.cancel = cancel
	s.state = StateRunning
	s.mu.Unlock()

	fd := proc.Fd()
	if err := m.poller.Register(fd, s.wake); err != nil {
		cancel()
		proc.Terminate(true, m.killGrace)
		m.history.Forget(s.ID)
		m.metrics.SpawnFailed()
		m.log.Error().Err(err).Str("session", s.ID).Int("fd", fd).Msg("register with reactor")
		return fmt.Errorf("%w: register: %v", ErrSpawnFailed, err)
	}
	go m.relay(relayCtx, s, fd)
	// Output written before registration produced no edge.
	s.wake()

	if m.records != nil {
		if err := m.records.CreateSessionRecord(ctx, s.ID, s.Owner); err != nil {
			m.log.Error().Err(err).Str("session", s.ID).Msg("create session record")
		}
	}
	m.metrics.SessionOpened()
	return nil
}

// Exists reports whether id has a live registry entry.
func (m *Manager) Exists(id string) bool {
	return m.Get(id) != nil
}

// Registered reports whether id is in the registry, including a session
// that is still spawning.
func (m *Manager) Registered(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

// Get returns the session for id, or nil. Sessions still spawning are not
// visible.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || !s.isReady() {
		return nil
	}
	return s
}

// lookup is Get that also waits for a session that is still spawning.
func (m *Manager) lookup(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := m.awaitReady(ctx, s); err != nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// remove drops id from the map if it still maps to s. Callers must have
// stopped the session's relay first.
func (m *Manager) remove(id string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[id] == s {
		delete(m.sessions, id)
	}
}

// List returns a snapshot of every live session.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.isReady() {
			sessions = append(sessions, s)
		}
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Attach replays the session's retained history into ch and makes ch the
// session's only channel. A previously attached channel is dropped without
// notice and receives nothing further.
func (m *Manager) Attach(ctx context.Context, id string, ch Channel) error {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	chunks, err := m.history.Get(ctx, id)
	if err != nil {
		m.log.Error().Err(err).Str("session", id).Msg("read history for replay")
	}
	if err := ch.Replay(history.Join(chunks)); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("replay history: %w", err)
	}
	if s.channel == nil {
		m.metrics.Attached()
	}
	s.channel = ch
	s.lastActive = time.Now()
	s.mu.Unlock()

	m.touch(ctx, id)
	m.log.Info().Str("session", id).Int("chunks", len(chunks)).Msg("attached")
	return nil
}

// Detach clears ch from the session if it is still the attached channel.
// It is a no-op for unknown sessions and for channels already replaced.
func (m *Manager) Detach(id string, ch Channel) {
	s := m.Get(id)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil || s.channel != ch {
		return
	}
	s.channel = nil
	s.lastActive = time.Now()
	m.metrics.Detached()
	m.log.Info().Str("session", id).Msg("detached, process kept running")
}

// WriteInput sends client input to the session's process. Input for an
// unknown or exited session is dropped.
func (m *Manager) WriteInput(id string, data []byte) {
	s := m.Get(id)
	if s == nil {
		m.log.Debug().Str("session", id).Msg("input for unknown session dropped")
		return
	}

	s.mu.Lock()
	proc := s.proc
	alive := s.aliveLocked()
	s.mu.Unlock()
	if !alive {
		m.log.Debug().Err(ErrProcessDead).Str("session", id).Msg("input dropped")
		return
	}

	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	if err := proc.Write(data); err != nil {
		m.log.Warn().Err(err).Str("session", id).Msg("write input")
	}
}

// Resize changes the session's terminal dimensions.
func (m *Manager) Resize(ctx context.Context, id string, cols, rows uint16) (Info, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return Info{}, err
	}

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return Info{}, ErrSessionNotFound
	}
	// An exited shell keeps its session; only the recorded size changes.
	if s.aliveLocked() {
		if err := s.proc.Resize(cols, rows); err != nil {
			s.mu.Unlock()
			return Info{}, fmt.Errorf("resize terminal: %w", err)
		}
	}
	s.cols, s.rows = cols, rows
	s.lastActive = time.Now()
	info := s.infoLocked()
	s.mu.Unlock()

	m.touch(ctx, id)
	return info, nil
}

// Touch marks the session as active now.
func (m *Manager) Touch(ctx context.Context, id string) {
	if s := m.Get(id); s != nil {
		s.mu.Lock()
		s.lastActive = time.Now()
		s.mu.Unlock()
	}
	m.touch(ctx, id)
}

func (m *Manager) touch(ctx context.Context, id string) {
	if m.records == nil {
		return
	}
	if err := m.records.UpdateLastActive(ctx, id); err != nil {
		m.log.Warn().Err(err).Str("session", id).Msg("update last active")
	}
}

// History returns the retained output of a session, which need not be live.
func (m *Manager) History(ctx context.Context, id string) ([]history.Chunk, error) {
	return m.history.Get(ctx, id)
}

// Kill stops the session's relay and waits for it to exit, then terminates
// the process, purges its history and durable record and unregisters it.
func (m *Manager) Kill(ctx context.Context, id string) error {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	if !m.stop(s) {
		return ErrSessionNotFound
	}

	if err := m.history.Delete(ctx, id); err != nil {
		m.log.Error().Err(err).Str("session", id).Msg("purge history")
	}
	if m.records != nil {
		if err := m.records.DeleteSessionRecord(ctx, id); err != nil {
			m.log.Error().Err(err).Str("session", id).Msg("delete session record")
		}
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	m.remove(id, s)

	m.log.Info().Str("session", id).Msg("killed session")
	return nil
}

// stop moves s to closing, cancels its relay, waits for the relay to
// deregister and exit, and terminates the process. It returns false if s was
// already being stopped.
func (m *Manager) stop(s *Session) bool {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return false
	}
	s.state = StateClosing
	if s.channel != nil {
		s.channel = nil
		m.metrics.Detached()
	}
	cancel := s.cancel
	proc := s.proc
	s.mu.Unlock()

	cancel()
	<-s.relayDone

	s.inputMu.Lock()
	if err := proc.Terminate(true, m.killGrace); err != nil {
		m.log.Warn().Err(err).Str("session", s.ID).Msg("terminate process")
	}
	s.inputMu.Unlock()

	m.metrics.SessionClosed()
	return true
}

// Shutdown stops every session's relay and process without purging
// history or records, so sessions can be listed again after a restart.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if m.awaitReady(ctx, s) != nil {
				return
			}
			if m.stop(s) {
				m.history.Forget(s.ID)
				s.mu.Lock()
				s.state = StateClosed
				s.mu.Unlock()
				m.remove(s.ID, s)
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info().Int("sessions", len(sessions)).Msg("all sessions stopped")
	case <-ctx.Done():
		m.log.Warn().Err(ctx.Err()).Msg("shutdown deadline reached with sessions still stopping")
	}
}
