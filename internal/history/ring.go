package history

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

// Chunk is one decoded piece of terminal output. Seq increases by one per
// append within a session and is the only ordering key.
type Chunk struct {
	Seq  uint64
	Data string
	Time time.Time
}

// ring is the in-memory retained window of one session: at most limit
// chunks, oldest evicted first in O(1).
//
// An unsynced ring was created without knowing the durable sequence, so its
// chunks are not persisted until the window is reloaded.
type ring struct {
	mu     sync.Mutex
	q      *queue.Queue
	seq    uint64
	limit  int
	synced bool
}

func newRing(limit int, lastSeq uint64, retained []Chunk) *ring {
	r := &ring{q: queue.New(), seq: lastSeq, limit: limit, synced: true}
	for _, c := range retained {
		r.q.Add(c)
	}
	for r.q.Length() > r.limit {
		r.q.Remove()
	}
	return r
}

// push assigns the next sequence number, stores the chunk and evicts the
// oldest chunk once the window is full.
func (r *ring) push(data string, at time.Time) Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	c := Chunk{Seq: r.seq, Data: data, Time: at}
	r.q.Add(c)
	if r.q.Length() > r.limit {
		r.q.Remove()
	}
	return c
}

func (r *ring) snapshot() []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Chunk, r.q.Length())
	for i := range out {
		out[i] = r.q.Get(i).(Chunk)
	}
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.q.Length()
}
