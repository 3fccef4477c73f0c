package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jshsakura/oc-terminal-list/internal/database"
	"github.com/jshsakura/oc-terminal-list/internal/history"
	"github.com/jshsakura/oc-terminal-list/internal/logging"
	"github.com/jshsakura/oc-terminal-list/internal/middleware"
	"github.com/jshsakura/oc-terminal-list/internal/reactor"
	"github.com/jshsakura/oc-terminal-list/internal/terminal"
)

// stubPoller lets tests signal readiness by hand.
type stubPoller struct {
	mu  sync.Mutex
	cbs map[int]reactor.Callback
}

func (p *stubPoller) Register(fd int, cb reactor.Callback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cbs[fd] = cb
	return nil
}

func (p *stubPoller) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cbs, fd)
	return nil
}

func (p *stubPoller) fire(fd int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.cbs[fd]; ok {
		cb()
	}
}

var stubFds atomic.Int32

type stubProcess struct {
	fd     int
	poller *stubPoller
	alive  atomic.Bool

	mu         sync.Mutex
	out, in    bytes.Buffer
	cols, rows uint16
}

func (p *stubProcess) emit(s string) {
	p.mu.Lock()
	p.out.WriteString(s)
	p.mu.Unlock()
	p.poller.fire(p.fd)
}

func (p *stubProcess) Fd() int { return p.fd }

func (p *stubProcess) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out.Len() == 0 {
		return 0, nil
	}
	return p.out.Read(buf)
}

func (p *stubProcess) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Write(data)
	return nil
}

func (p *stubProcess) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols, p.rows = cols, rows
	return nil
}

func (p *stubProcess) Alive() bool { return p.alive.Load() }

func (p *stubProcess) Terminate(force bool, grace time.Duration) error {
	p.alive.Store(false)
	return nil
}

func (p *stubProcess) input() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.String()
}

func (p *stubProcess) size() (uint16, uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

type stubSpawner struct {
	poller *stubPoller

	mu    sync.Mutex
	fail  error
	procs map[string]*stubProcess
}

func (s *stubSpawner) Spawn(req terminal.SpawnRequest) (terminal.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	p := &stubProcess{fd: int(stubFds.Add(1)), poller: s.poller, cols: req.Cols, rows: req.Rows}
	p.alive.Store(true)
	s.procs[req.SessionID] = p
	return p, nil
}

func (s *stubSpawner) proc(id string) *stubProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[id]
}

type testServer struct {
	ts      *httptest.Server
	handler *Handler
	spawner *stubSpawner
	db      *database.Store
}

// setupTestServer wires a Handler to stub processes and a temp sqlite store.
// Requests run as user unless configure turns on authentication.
func setupTestServer(t *testing.T, user string, configure func(*Handler)) *testServer {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	hist := history.New(db, 1000, logging.Nop(), nil)
	t.Cleanup(func() { hist.Close() })

	poller := &stubPoller{cbs: make(map[int]reactor.Callback)}
	spawner := &stubSpawner{poller: poller, procs: make(map[string]*stubProcess)}
	mgr := terminal.NewManager(terminal.Options{
		Spawner:        spawner,
		Poller:         poller,
		History:        hist,
		Records:        db,
		Log:            logging.Nop(),
		LivenessPeriod: 20 * time.Millisecond,
		KillGrace:      10 * time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})

	h := &Handler{
		Sessions:       mgr,
		Records:        db,
		Log:            logging.Nop(),
		Anonymous:      user,
		OriginPatterns: []string{"*"},
		OutboundQueue:  16,
	}
	if configure != nil {
		configure(h)
	}

	r := chi.NewRouter()
	r.Get("/health", h.HealthCheck)
	r.Get("/ws/{sessionID}", h.TerminalWS)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, middleware.WithUserForTest(r, user))
			})
		})
		r.Get("/api/sessions", h.ListSessions)
		r.Post("/api/sessions", h.CreateSessionAuto)
		r.Get("/api/sessions/live", h.ListLiveSessions)
		r.Post("/api/sessions/{sessionID}", h.CreateSession)
		r.Delete("/api/sessions/{sessionID}", h.DeleteSession)
		r.Post("/api/sessions/{sessionID}/resize", h.ResizeSession)
		r.Get("/api/sessions/{sessionID}/history", h.GetHistory)
		r.Get("/api/auth/verify", h.VerifyToken)
	})

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, handler: h, spawner: spawner, db: db}
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
