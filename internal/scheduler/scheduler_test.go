package scheduler

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nplex/tracecoord/internal/accumulator"
	"github.com/nplex/tracecoord/internal/proto"
	"github.com/nplex/tracecoord/internal/raygeom"
	"github.com/nplex/tracecoord/internal/tile"
)

func testConfig(output chan accumulator.BlitTile) (Config, tile.Grid) {
	g := tile.Grid{TilesX: 2, TilesY: 1, TileSize: 4}
	return Config{
		Grid:          g,
		RayTable:      raygeom.BuildRayTable(g),
		Elements:      []raygeom.SceneElement{{X: 1, Y: 2, Z: 3, R: 1}},
		Displacements: []raygeom.Displacement{{X: 0, Y: 0, Z: 0}},
		Output:        output,
		Log:           zerolog.New(io.Discard),
	}, g
}

func connect(t *testing.T, s *Scheduler, clientID uint64) chan proto.Response {
	t.Helper()
	outbound := make(chan proto.Response, 4)
	s.Events() <- ClientEvent{Kind: Connected, ClientID: clientID, Outbound: outbound}
	return outbound
}

func recvResponse(t *testing.T, ch chan proto.Response) proto.Response {
	t.Helper()
	select {
	case resp, ok := <-ch:
		if !ok {
			t.Fatal("outbound channel closed while expecting a response")
		}
		return resp
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
		return proto.Response{}
	}
}

func runScheduler(t *testing.T, s *Scheduler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(cancel)
	return cancel
}

func TestReserveRaysHandsOutContiguousTile(t *testing.T) {
	output := make(chan accumulator.BlitTile, 4)
	cfg, g := testConfig(output)
	s := New(cfg)
	runScheduler(t, s)

	outbound := connect(t, s, 1)
	s.Events() <- ClientEvent{Kind: IncomingRequest, ClientID: 1, Request: proto.Request{Kind: proto.ReserveRays}}

	resp := recvResponse(t, outbound)
	if resp.Kind != proto.RespReserveRays {
		t.Fatalf("kind = %v, want RespReserveRays", resp.Kind)
	}
	if len(resp.Rays) != g.TileSlots() {
		t.Fatalf("got %d rays, want %d", len(resp.Rays), g.TileSlots())
	}
	if resp.Scene.Frame != 1 {
		t.Fatalf("scene frame = %d, want 1", resp.Scene.Frame)
	}
}

func TestSubmitResultsProducesBlitAndRespondsFirst(t *testing.T) {
	output := make(chan accumulator.BlitTile, 4)
	cfg, g := testConfig(output)
	s := New(cfg)
	runScheduler(t, s)

	outbound := connect(t, s, 1)
	s.Events() <- ClientEvent{Kind: IncomingRequest, ClientID: 1, Request: proto.Request{Kind: proto.SetName, Name: "alice"}}
	recvResponse(t, outbound) // SetName ack

	s.Events() <- ClientEvent{Kind: IncomingRequest, ClientID: 1, Request: proto.Request{Kind: proto.ReserveRays}}
	recvResponse(t, outbound) // ReserveRays response

	results := make([]proto.Result, g.TileSlots())
	for i := range results {
		results[i] = proto.Result{Hit: true}
	}
	s.Events() <- ClientEvent{Kind: IncomingRequest, ClientID: 1, Request: proto.Request{Kind: proto.SubmitResults, Results: results}}

	ack := recvResponse(t, outbound)
	if ack.Kind != proto.RespSubmitResults {
		t.Fatalf("kind = %v, want RespSubmitResults", ack.Kind)
	}

	select {
	case blit := <-output:
		if blit.ClientID != 1 || blit.Name != "alice" {
			t.Fatalf("blit = %+v, want client 1 named alice", blit)
		}
		if len(blit.Pixels) != g.TileSlots() {
			t.Fatalf("blit pixels = %d, want %d", len(blit.Pixels), g.TileSlots())
		}
	case <-time.After(time.Second):
		t.Fatal("no BlitTile emitted after SubmitResults")
	}
}

func TestSubmitResultsWithWrongPixelCountIsDropped(t *testing.T) {
	output := make(chan accumulator.BlitTile, 4)
	cfg, _ := testConfig(output)
	s := New(cfg)
	runScheduler(t, s)

	outbound := connect(t, s, 1)
	s.Events() <- ClientEvent{Kind: IncomingRequest, ClientID: 1, Request: proto.Request{Kind: proto.ReserveRays}}
	recvResponse(t, outbound)

	s.Events() <- ClientEvent{Kind: IncomingRequest, ClientID: 1, Request: proto.Request{Kind: proto.SubmitResults, Results: []proto.Result{{Hit: true}}}}
	recvResponse(t, outbound) // ack is still sent

	select {
	case blit := <-output:
		t.Fatalf("unexpected blit for mismatched submission: %+v", blit)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDisconnectPurgesInFlightTile(t *testing.T) {
	output := make(chan accumulator.BlitTile, 4)
	cfg, _ := testConfig(output)
	s := New(cfg)
	runScheduler(t, s)

	outbound := connect(t, s, 1)
	s.Events() <- ClientEvent{Kind: IncomingRequest, ClientID: 1, Request: proto.Request{Kind: proto.ReserveRays}}
	recvResponse(t, outbound)

	s.Events() <- ClientEvent{Kind: Disconnected, ClientID: 1}

	// A late SubmitResults from the now-disconnected client must not panic
	// and must produce no blit, since its in-flight entry was purged.
	s.Events() <- ClientEvent{Kind: IncomingRequest, ClientID: 1, Request: proto.Request{Kind: proto.SubmitResults, Results: nil}}

	select {
	case blit := <-output:
		t.Fatalf("unexpected blit after disconnect: %+v", blit)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStatsReflectsInFlightTiles(t *testing.T) {
	output := make(chan accumulator.BlitTile, 4)
	cfg, _ := testConfig(output)
	s := New(cfg)
	runScheduler(t, s)

	outbound := connect(t, s, 1)
	s.Events() <- ClientEvent{Kind: IncomingRequest, ClientID: 1, Request: proto.Request{Kind: proto.ReserveRays}}
	recvResponse(t, outbound)

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.InFlightTiles != 1 {
		t.Fatalf("in-flight tiles = %d, want 1", st.InFlightTiles)
	}
	if st.CurrentFrame != 1 {
		t.Fatalf("current frame = %d, want 1", st.CurrentFrame)
	}
}

func TestTileTimeoutDisconnectsClient(t *testing.T) {
	output := make(chan accumulator.BlitTile, 4)
	cfg, _ := testConfig(output)
	s := New(cfg)
	s.inflight = tile.NewInFlightQueue()
	runScheduler(t, s)

	outbound := connect(t, s, 1)
	s.Events() <- ClientEvent{Kind: IncomingRequest, ClientID: 1, Request: proto.Request{Kind: proto.ReserveRays}}
	recvResponse(t, outbound)

	// The config leaves TileTimeout unset, so the real DefaultTileTimeout
	// (5s) applies; wait up to one second past it for the forced
	// disconnect to close the channel.
	select {
	case _, ok := <-outbound:
		if ok {
			t.Fatal("expected outbound channel to be closed by timeout reclaim, got a value instead")
		}
	case <-time.After(DefaultTileTimeout + time.Second):
		t.Fatal("client outbound channel was never closed after tile timeout")
	}
}
