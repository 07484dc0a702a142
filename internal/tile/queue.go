package tile

import "time"

// PendingQueue is the FIFO of tile addresses waiting to be handed out. It is
// not safe for concurrent use — the scheduler is the only owner and drives
// it from its single event loop.
type PendingQueue struct {
	grid         Grid
	addrs        []Addr
	head         int
	pendingFrame uint64
}

// NewPendingQueue creates a pending queue that will mint its first frame
// (frame 1) the first time Pop is called on an empty queue.
func NewPendingQueue(g Grid) *PendingQueue {
	return &PendingQueue{grid: g, pendingFrame: 0}
}

// Pop removes and returns the next tile address. When the queue is empty it
// appends a full new frame's worth of tiles in row-major order before
// popping, advancing the internal frame counter.
func (q *PendingQueue) Pop() Addr {
	if q.head >= len(q.addrs) {
		q.appendFrame()
	}
	a := q.addrs[q.head]
	q.head++
	// Reclaim the backing array once fully drained so it doesn't grow
	// without bound over a long-running process.
	if q.head == len(q.addrs) {
		q.addrs = q.addrs[:0]
		q.head = 0
	}
	return a
}

// appendFrame enqueues every tile of the next frame in row-major order.
func (q *PendingQueue) appendFrame() {
	q.pendingFrame++
	for y := 0; y < q.grid.TilesY; y++ {
		for x := 0; x < q.grid.TilesX; x++ {
			q.addrs = append(q.addrs, Addr{Frame: q.pendingFrame, X: x, Y: y})
		}
	}
}

// InFlightEntry is a tile handed out but not yet returned.
type InFlightEntry struct {
	ClientID    uint64
	Addr        Addr
	Expires     time.Time
	RequestedAt time.Time
}

// InFlightQueue is the FIFO of handed-out tiles, ordered by handout order
// which — because the timeout is a constant duration — is equivalent to
// ordering by Expires. The head is always the next tile that can time out.
type InFlightQueue struct {
	entries []InFlightEntry
}

// NewInFlightQueue creates an empty in-flight queue.
func NewInFlightQueue() *InFlightQueue {
	return &InFlightQueue{}
}

// Push appends a newly handed-out tile.
func (q *InFlightQueue) Push(e InFlightEntry) {
	q.entries = append(q.entries, e)
}

// Len returns the number of outstanding tiles.
func (q *InFlightQueue) Len() int { return len(q.entries) }

// Remaining returns the number of tiles still waiting in q that have not
// yet been popped, for diagnostics only.
func (q *PendingQueue) Remaining() int { return len(q.addrs) - q.head }

// Head returns the oldest outstanding tile without removing it.
func (q *InFlightQueue) Head() (InFlightEntry, bool) {
	if len(q.entries) == 0 {
		return InFlightEntry{}, false
	}
	return q.entries[0], true
}

// PopHead removes and returns the oldest outstanding tile.
func (q *InFlightQueue) PopHead() (InFlightEntry, bool) {
	if len(q.entries) == 0 {
		return InFlightEntry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

// RemoveFirstByClient removes and returns the first entry submitted by the
// given client, not necessarily the head — SubmitResults may complete a
// tile out of handout order.
func (q *InFlightQueue) RemoveFirstByClient(clientID uint64) (InFlightEntry, bool) {
	for i, e := range q.entries {
		if e.ClientID == clientID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e, true
		}
	}
	return InFlightEntry{}, false
}

// PurgeClient removes every outstanding entry belonging to clientID,
// silently dropping that work — used on disconnect.
func (q *InFlightQueue) PurgeClient(clientID uint64) int {
	kept := q.entries[:0]
	removed := 0
	for _, e := range q.entries {
		if e.ClientID == clientID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	return removed
}
