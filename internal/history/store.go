package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/jshsakura/oc-terminal-list/internal/database"
	"github.com/jshsakura/oc-terminal-list/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultLimit is the number of chunks retained per session.
const DefaultLimit = 10000

// writeTimeout bounds a single durable write performed by the writer.
const writeTimeout = 10 * time.Second

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("history store closed")

// Backend is the durable storage behind a Store. It is called only from the
// Store's writer goroutine and from Load/Get on cache misses.
type Backend interface {
	AppendHistory(ctx context.Context, sessionID string, seq uint64, chunk string, at time.Time, keep int) error
	GetHistory(ctx context.Context, sessionID string) ([]database.HistoryChunk, error)
	DeleteHistory(ctx context.Context, sessionID string) error
	MaxSeq(ctx context.Context, sessionID string) (uint64, error)
}

type opKind int

const (
	opAppend opKind = iota
	opDelete
	opFlush
)

type op struct {
	kind      opKind
	sessionID string
	chunk     Chunk
	done      chan error
}

// Store is the per-session bounded output history.
//
// Loaded sessions keep their retained window in memory, so Append never
// touches the disk: the chunk is sequenced into the ring and a write is
// queued for the writer goroutine, which applies queued operations to the
// Backend strictly in enqueue order. A nil Backend gives a memory-only store.
type Store struct {
	backend Backend
	limit   int
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	rings map[string]*ring

	wmu     sync.Mutex
	pending *queue.Queue
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// New starts a Store. limit <= 0 selects DefaultLimit.
func New(backend Backend, limit int, log zerolog.Logger, m *metrics.Metrics) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s := &Store{
		backend: backend,
		limit:   limit,
		log:     log,
		metrics: m,
		rings:   make(map[string]*ring),
		pending: queue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Limit returns the per-session retention bound.
func (s *Store) Limit() int {
	return s.limit
}

// Load brings a session's retained window into memory, continuing the
// durable sequence so chunks written before a restart keep their order.
// It is a no-op for an already loaded session. When the Backend cannot be
// read the session gets an unsynced empty window, the error is returned and
// the next Load or Append tries again.
func (s *Store) Load(ctx context.Context, sessionID string) error {
	if r := s.ring(sessionID); r != nil && r.synced {
		return nil
	}

	lastSeq, retained, err := s.read(ctx, sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.rings[sessionID]
	if err != nil {
		if cur == nil {
			r := newRing(s.limit, 0, nil)
			r.synced = false
			s.rings[sessionID] = r
		}
		return err
	}
	if cur != nil && cur.synced {
		return nil
	}

	r := newRing(s.limit, lastSeq, retained)
	if cur != nil {
		// Output kept while the Backend was unreadable goes after the
		// durable window under fresh sequence numbers.
		for _, c := range cur.snapshot() {
			s.persist(sessionID, r.push(c.Data, c.Time))
		}
	}
	s.rings[sessionID] = r
	return nil
}

func (s *Store) read(ctx context.Context, sessionID string) (uint64, []Chunk, error) {
	if s.backend == nil {
		return 0, nil, nil
	}
	// Queued deletes or appends for this id must land before we read.
	if err := s.Flush(ctx); err != nil {
		return 0, nil, err
	}
	seq, err := s.backend.MaxSeq(ctx, sessionID)
	if err != nil {
		return 0, nil, fmt.Errorf("load max seq: %w", err)
	}
	rows, err := s.backend.GetHistory(ctx, sessionID)
	if err != nil {
		return 0, nil, fmt.Errorf("load history: %w", err)
	}
	return seq, fromRows(rows), nil
}

// Append records one chunk for a session and returns it with its sequence
// number. It does not block on durable storage; persistence failures are
// logged and counted but never returned. A session that was not loaded is
// loaded first, which may block.
func (s *Store) Append(sessionID, data string) Chunk {
	r := s.ring(sessionID)
	if r == nil || !r.synced {
		if err := s.Load(context.Background(), sessionID); err != nil {
			s.metrics.PersistFailed()
			s.log.Error().Err(err).Str("session", sessionID).Msg("load history before append")
		}
		r = s.ring(sessionID)
	}

	c := r.push(data, time.Now())
	if r.synced {
		s.persist(sessionID, c)
	}
	return c
}

func (s *Store) persist(sessionID string, c Chunk) {
	if s.backend == nil {
		return
	}
	if !s.enqueue(op{kind: opAppend, sessionID: sessionID, chunk: c}) {
		s.metrics.PersistFailed()
	}
}

// Get returns the retained history of a session, oldest first. Sessions not
// held in memory are read from the Backend after pending writes are applied.
func (s *Store) Get(ctx context.Context, sessionID string) ([]Chunk, error) {
	if r := s.ring(sessionID); r != nil {
		return r.snapshot(), nil
	}
	if s.backend == nil {
		return nil, nil
	}
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	rows, err := s.backend.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return fromRows(rows), nil
}

// Len returns the number of chunks held in memory for a loaded session.
func (s *Store) Len(sessionID string) int {
	if r := s.ring(sessionID); r != nil {
		return r.len()
	}
	return 0
}

// Delete purges a session from memory and from the Backend. It returns once
// the durable delete has been applied.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.rings, sessionID)
	s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	return s.wait(ctx, op{kind: opDelete, sessionID: sessionID})
}

// Forget drops a session's in-memory window without touching the Backend.
func (s *Store) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.rings, sessionID)
	s.mu.Unlock()
}

// Flush blocks until every operation queued before the call is applied.
func (s *Store) Flush(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	return s.wait(ctx, op{kind: opFlush})
}

// Close applies all queued writes and stops the writer.
func (s *Store) Close() {
	s.wmu.Lock()
	if s.closed {
		s.wmu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.wmu.Unlock()
	s.signal()
	<-s.done
}

func (s *Store) ring(sessionID string) *ring {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rings[sessionID]
}

func (s *Store) wait(ctx context.Context, o op) error {
	o.done = make(chan error, 1)
	if !s.enqueue(o) {
		return ErrClosed
	}
	select {
	case err := <-o.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) enqueue(o op) bool {
	s.wmu.Lock()
	if s.closed {
		s.wmu.Unlock()
		return false
	}
	s.pending.Add(o)
	s.wmu.Unlock()
	s.signal()
	return true
}

func (s *Store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) next() (op, bool) {
	for {
		s.wmu.Lock()
		if s.pending.Length() > 0 {
			o := s.pending.Remove().(op)
			s.wmu.Unlock()
			return o, true
		}
		closed := s.closed
		s.wmu.Unlock()
		if closed {
			return op{}, false
		}
		<-s.wake
	}
}

func (s *Store) run() {
	defer close(s.done)
	for {
		o, ok := s.next()
		if !ok {
			return
		}
		s.apply(o)
	}
}

func (s *Store) apply(o op) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch o.kind {
	case opAppend:
		err = s.backend.AppendHistory(ctx, o.sessionID, o.chunk.Seq, o.chunk.Data, o.chunk.Time, s.limit)
		if err != nil {
			s.metrics.PersistFailed()
			s.log.Error().Err(err).Str("session", o.sessionID).Uint64("seq", o.chunk.Seq).Msg("persist chunk")
		}
	case opDelete:
		err = s.backend.DeleteHistory(ctx, o.sessionID)
		if err != nil {
			s.log.Error().Err(err).Str("session", o.sessionID).Msg("delete history")
		}
	case opFlush:
	}
	if o.done != nil {
		o.done <- err
	}
}

func fromRows(rows []database.HistoryChunk) []Chunk {
	out := make([]Chunk, len(rows))
	for i, row := range rows {
		out[i] = Chunk{Seq: row.Seq, Data: row.Chunk, Time: row.CreatedAt}
	}
	return out
}

// Join concatenates chunk contents in order.
func Join(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Data)
	}
	return b.String()
}
