// Package scheduler implements the single-threaded event loop that owns
// tile dispatch: the pending and in-flight queues, the current scene, and
// every client's outbound channel. Nothing outside this package ever
// touches that state directly — it all flows through the ClientEvent queue.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nplex/tracecoord/internal/accumulator"
	"github.com/nplex/tracecoord/internal/backpressure"
	"github.com/nplex/tracecoord/internal/proto"
	"github.com/nplex/tracecoord/internal/raygeom"
	"github.com/nplex/tracecoord/internal/tile"
)

// DefaultTileTimeout is how long a handed-out tile may remain unreturned
// before its owning client is disconnected. Config.TileTimeout overrides
// it when set to a non-zero value.
const DefaultTileTimeout = 5 * time.Second

// clientState is what the scheduler keeps per connected client.
type clientState struct {
	name     string
	outbound chan proto.Response
}

// Scheduler is the tile-dispatch event loop: the pending and in-flight
// queues, the current scene, and every client's outbound channel. It is
// not safe for concurrent use by design: every piece of mutable state it
// owns is only ever touched from Run's goroutine.
type Scheduler struct {
	grid     tile.Grid
	rayTable []raygeom.Ray

	elements      []raygeom.SceneElement
	displacements []raygeom.Displacement
	currentFrame  uint64
	currentScene  raygeom.Scene

	pending  *tile.PendingQueue
	inflight *tile.InFlightQueue
	clients  map[uint64]*clientState

	tileTimeout time.Duration

	events chan ClientEvent
	output chan<- accumulator.BlitTile

	log zerolog.Logger
}

// Config bundles the inputs a Scheduler needs at construction.
type Config struct {
	Grid          tile.Grid
	RayTable      []raygeom.Ray
	Elements      []raygeom.SceneElement
	Displacements []raygeom.Displacement
	TileTimeout   time.Duration // zero means DefaultTileTimeout
	Output        chan<- accumulator.BlitTile
	Log           zerolog.Logger
}

// New creates a Scheduler with an empty pending/in-flight queue. The
// scheduler generates its first scene lazily, the first time a tile from
// frame 1 is reserved.
func New(cfg Config) *Scheduler {
	timeout := cfg.TileTimeout
	if timeout <= 0 {
		timeout = DefaultTileTimeout
	}
	return &Scheduler{
		grid:          cfg.Grid,
		rayTable:      cfg.RayTable,
		elements:      cfg.Elements,
		displacements: cfg.Displacements,
		pending:       tile.NewPendingQueue(cfg.Grid),
		inflight:      tile.NewInFlightQueue(),
		clients:       make(map[uint64]*clientState),
		tileTimeout:   timeout,
		events:        make(chan ClientEvent, 256),
		output:        cfg.Output,
		log:           cfg.Log,
	}
}

// Events returns the channel connection handlers submit ClientEvents on.
func (s *Scheduler) Events() chan<- ClientEvent { return s.events }

// Stats is a point-in-time view of scheduling state, for diagnostics only.
type Stats struct {
	PendingTiles  int
	InFlightTiles int
	CurrentFrame  uint64
}

// Stats reads the scheduler's diagnostics by round-tripping a request
// through the event loop itself, so it never races the state it reports
// on — the only way to read scheduler-owned state from outside Run.
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case s.events <- ClientEvent{Kind: StatsRequest, StatsReply: reply}:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Run drives the event loop until ctx is canceled. It is the only method
// that touches the scheduler's internal state, so it must only ever be
// called once.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if head, ok := s.inflight.Head(); ok {
			d := time.Until(head.Expires)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case ev := <-s.events:
			stopTimer(timer)
			s.handleEvent(ev)
		case <-timerC:
			s.reclaimExpired()
		}
	}
}

// stopTimer stops and drains timer if it was armed. Safe to call with nil.
func stopTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

func (s *Scheduler) handleEvent(ev ClientEvent) {
	switch ev.Kind {
	case Connected:
		s.clients[ev.ClientID] = &clientState{outbound: ev.Outbound}
	case Disconnected:
		delete(s.clients, ev.ClientID)
		s.inflight.PurgeClient(ev.ClientID)
	case IncomingRequest:
		s.handleRequest(ev.ClientID, ev.Request)
	case StatsRequest:
		ev.StatsReply <- Stats{
			PendingTiles:  s.pending.Remaining(),
			InFlightTiles: s.inflight.Len(),
			CurrentFrame:  s.currentFrame,
		}
	}
}

func (s *Scheduler) handleRequest(clientID uint64, req proto.Request) {
	switch req.Kind {
	case proto.ReserveRays:
		s.reserveRays(clientID)
	case proto.SetName:
		s.setName(clientID, req.Name)
	case proto.SubmitResults:
		s.submitResults(clientID, req.Results)
	}
}

func (s *Scheduler) reserveRays(clientID uint64) {
	addr := s.pending.Pop()
	if addr.Frame > s.currentFrame {
		s.currentFrame = addr.Frame
		s.currentScene = raygeom.Generate(s.currentFrame, s.elements, s.displacements)
	}

	client, ok := s.clients[clientID]
	if !ok {
		// Client vanished between request arrival and scheduling: the tile
		// is lost and will never be returned, so it simply ages out of no
		// one's in-flight queue — nothing to reclaim.
		s.log.Debug().Uint64("client_id", clientID).Msg("reserve_rays for vanished client, tile lost")
		return
	}

	s.inflight.Push(tile.InFlightEntry{
		ClientID:    clientID,
		Addr:        addr,
		Expires:     time.Now().Add(s.tileTimeout),
		RequestedAt: time.Now(),
	})

	resp := proto.Response{
		Kind:  proto.RespReserveRays,
		Rays:  raygeom.TileRays(s.rayTable, s.grid, addr),
		Scene: s.currentScene,
	}
	backpressure.Send(client.outbound, resp, "scheduler->client", s.log)
}

func (s *Scheduler) setName(clientID uint64, name string) {
	client, ok := s.clients[clientID]
	if !ok {
		return
	}
	client.name = name
	backpressure.Send(client.outbound, proto.Response{Kind: proto.RespSetName}, "scheduler->client", s.log)
}

func (s *Scheduler) submitResults(clientID uint64, results []proto.Result) {
	client, ok := s.clients[clientID]
	if ok {
		backpressure.Send(client.outbound, proto.Response{Kind: proto.RespSubmitResults}, "scheduler->client", s.log)
	}

	entry, found := s.inflight.RemoveFirstByClient(clientID)
	if !found {
		// No outstanding tile for this client — either it already timed
		// out and was reclaimed, or the client is misbehaving.
		s.log.Warn().Uint64("client_id", clientID).Msg("submit_results with no matching in-flight tile")
		return
	}

	want := s.grid.TileSlots()
	if len(results) != want {
		// Reject rather than guess at a truncation/pad strategy: a
		// mismatched result count means the worker disagrees with the
		// coordinator about tile shape, which is always a bug somewhere.
		s.log.Warn().Uint64("client_id", clientID).Int("got", len(results)).Int("want", want).
			Msg("submit_results pixel count mismatch, dropping tile")
		return
	}

	pixels := make([]raygeom.Vec3, want)
	for i, r := range results {
		switch {
		case r.Color != nil:
			pixels[i] = *r.Color
		case r.Hit:
			pixels[i] = raygeom.Vec3{X: 1, Y: 1, Z: 1}
		default:
			pixels[i] = raygeom.Vec3{}
		}
	}

	name := ""
	if ok {
		name = client.name
	}
	backpressure.Send(s.output, accumulator.BlitTile{
		ClientID: clientID,
		Addr:     entry.Addr,
		Name:     name,
		Pixels:   pixels,
		Time:     time.Since(entry.RequestedAt).Seconds(),
	}, "scheduler->accumulator", s.log)
}

// reclaimExpired disconnects the owner of the oldest in-flight tile once
// its timeout has elapsed, dropping that client's outbound channel so its
// connection handler observes a closed channel on its next read and
// terminates.
func (s *Scheduler) reclaimExpired() {
	head, ok := s.inflight.Head()
	if !ok || time.Now().Before(head.Expires) {
		// Spurious wakeup: the head changed, or was removed entirely, in
		// the window between arming the timer and it firing. The next
		// loop iteration re-arms against whatever the head is now.
		return
	}
	entry, _ := s.inflight.PopHead()

	s.log.Warn().Uint64("client_id", entry.ClientID).Msg("tile timed out, disconnecting client")
	if client, ok := s.clients[entry.ClientID]; ok {
		close(client.outbound)
		delete(s.clients, entry.ClientID)
	}
	s.inflight.PurgeClient(entry.ClientID)
}
