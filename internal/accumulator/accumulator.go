// Package accumulator owns the shared BGRx framebuffer, per-client
// statistics, and the metadata action log the encoder driver rotates on a
// timer set to the video segment length; rotation is not triggered by the
// encoder's own segment boundaries. All state is guarded by one mutex
// shared with the encoder driver — an arena behind a mutex instead of
// double buffering, since writes are sparse and the encoder only reads
// once per frame interval.
package accumulator

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nplex/tracecoord/internal/raygeom"
	"github.com/nplex/tracecoord/internal/tile"
)

// BlitTile is the event the scheduler emits once a worker's results are
// converted to pixels.
type BlitTile struct {
	ClientID uint64
	Addr     tile.Addr
	Name     string
	Pixels   []raygeom.Vec3 // length must be grid.TileSlots()
	Time     float64        // seconds elapsed since the tile was handed out
}

// clientRecord is the live bookkeeping kept per owning client.
type clientRecord struct {
	name         string
	currentCount int
	totalCount   int
	averageTime  float64
	haveAverage  bool
}

// Accumulator is the shared framebuffer and per-client statistics store
// fed by the scheduler's blit stream and drained by the encoder driver.
type Accumulator struct {
	grid tile.Grid
	log  zerolog.Logger

	mu              sync.Mutex
	pixels          []byte
	stride          int
	tileOwner       []uint64 // 0 means unowned; client ids start at 1
	clients         map[uint64]*clientRecord
	actionLog       []MetaAction
	segmentFilename string
	frameDone       bool
	clock           func() uint64 // millis since process start
}

// New creates an accumulator for the given tile grid. clock reports
// milliseconds elapsed since process start and is injected for testability.
func New(g tile.Grid, clock func() uint64, log zerolog.Logger) *Accumulator {
	stride := g.Width() * 4
	return &Accumulator{
		grid:      g,
		log:       log,
		pixels:    make([]byte, stride*g.Height()),
		stride:    stride,
		tileOwner: make([]uint64, g.TileCount()),
		clients:   make(map[uint64]*clientRecord),
		clock:     clock,
		actionLog: []MetaAction{{TSMs: clock(), Snapshot: &SnapshotPayload{Clients: map[string]ClientSnapshot{}}}},
	}
}

// Blit applies one tile's rendered pixels to the framebuffer and updates
// ownership accounting, under the shared lock.
func (a *Accumulator) Blit(ev BlitTile) error {
	if len(ev.Pixels) != a.grid.TileSlots() {
		return fmt.Errorf("accumulator: tile %v has %d pixels, want %d", ev.Addr, len(ev.Pixels), a.grid.TileSlots())
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if ev.Addr.IsBottomRight(a.grid) {
		a.frameDone = true
	}

	a.blitPixels(ev.Addr, ev.Pixels)

	tileIndex := ev.Addr.Index(a.grid)
	if old := a.tileOwner[tileIndex]; old != 0 {
		a.release(old)
	}
	a.tileOwner[tileIndex] = ev.ClientID

	rec, ok := a.clients[ev.ClientID]
	if !ok {
		rec = &clientRecord{}
		a.clients[ev.ClientID] = rec
	}
	nameChanged := rec.name != ev.Name
	if nameChanged {
		rec.name = ev.Name
	}
	if !rec.haveAverage {
		rec.averageTime = ev.Time
		rec.haveAverage = true
	} else {
		rec.averageTime = 0.999*rec.averageTime + 0.001*ev.Time
	}
	rec.currentCount++
	rec.totalCount++

	blit := &BlitPayload{ClientID: ev.ClientID, TileIndex: tileIndex, Time: ev.Time}
	if nameChanged {
		name := ev.Name
		blit.Name = &name
	}
	a.actionLog = append(a.actionLog, MetaAction{TSMs: a.clock(), Blit: blit})

	return nil
}

// release decrements a former owner's current count and drops it from the
// client map once it owns nothing.
func (a *Accumulator) release(clientID uint64) {
	rec, ok := a.clients[clientID]
	if !ok {
		return
	}
	rec.currentCount--
	if rec.currentCount <= 0 {
		delete(a.clients, clientID)
	}
}

// blitPixels writes BGRx bytes for one tile. The caller must hold a.mu.
func (a *Accumulator) blitPixels(addr tile.Addr, pixels []raygeom.Vec3) {
	ts := a.grid.TileSize
	baseX := addr.X * ts * 4
	baseY := addr.Y * ts
	for y := 0; y < ts; y++ {
		rowOffset := (baseY+y)*a.stride + baseX
		for x := 0; x < ts; x++ {
			c := pixels[y*ts+x].ClampColor01()
			i := rowOffset + x*4
			a.pixels[i+0] = byte(c.Z * 255)
			a.pixels[i+1] = byte(c.Y * 255)
			a.pixels[i+2] = byte(c.X * 255)
			// byte i+3 (X) is left untouched.
		}
	}
}

// PullFrame copies the current pixel buffer and reads-and-clears
// frame_done, under the lock. The encoder driver calls it on every tick of
// its fixed frame timer; no encoder callback drives it.
func (a *Accumulator) PullFrame(dst []byte) (frameDone bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	copy(dst, a.pixels)
	frameDone = a.frameDone
	a.frameDone = false
	return frameDone
}

// FrameSize returns the byte size of one pixel buffer, for callers sizing
// a destination slice for PullFrame.
func (a *Accumulator) FrameSize() int { return len(a.pixels) }

// snapshot builds a SnapshotPayload of the current per-client statistics.
// The caller must hold a.mu.
func (a *Accumulator) snapshot() *SnapshotPayload {
	clients := make(map[string]ClientSnapshot, len(a.clients))
	for id, rec := range a.clients {
		clients[fmt.Sprintf("%d", id)] = ClientSnapshot{
			Name:         rec.name,
			CurrentCount: rec.currentCount,
			TotalCount:   rec.totalCount,
			AverageTime:  rec.averageTime,
		}
	}
	return &SnapshotPayload{Clients: clients}
}

// RotateSegment swaps in a fresh action log seeded with a Snapshot and a
// new segment filename, returning the log and filename that were just
// retired so the caller can persist them. On the very first rotation
// oldFilename is empty and the caller should not write anything.
func (a *Accumulator) RotateSegment(newFilename string) (oldFilename string, oldLog []MetaAction) {
	a.mu.Lock()
	defer a.mu.Unlock()

	oldFilename = a.segmentFilename
	oldLog = a.actionLog

	a.segmentFilename = newFilename
	a.actionLog = []MetaAction{{TSMs: a.clock(), Snapshot: a.snapshot()}}

	return oldFilename, oldLog
}

// Stats reports a read-only snapshot of ownership accounting, used by
// diagnostics endpoints. It does not affect dispatch semantics.
type Stats struct {
	OwnedTiles int
	Clients    int
}

// Stats returns a point-in-time view of ownership accounting.
func (a *Accumulator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	owned := 0
	for _, owner := range a.tileOwner {
		if owner != 0 {
			owned++
		}
	}
	return Stats{OwnedTiles: owned, Clients: len(a.clients)}
}
