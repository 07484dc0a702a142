package accumulator

import (
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nplex/tracecoord/internal/raygeom"
	"github.com/nplex/tracecoord/internal/tile"
)

func testGrid() tile.Grid {
	return tile.Grid{TilesX: 2, TilesY: 1, TileSize: 4}
}

func fixedClock() func() uint64 {
	var n uint64
	return func() uint64 {
		n++
		return n
	}
}

func solidPixels(g tile.Grid, c raygeom.Vec3) []raygeom.Vec3 {
	out := make([]raygeom.Vec3, g.TileSlots())
	for i := range out {
		out[i] = c
	}
	return out
}

func TestBlitWritesBGRxBytes(t *testing.T) {
	g := testGrid()
	a := New(g, fixedClock(), zerolog.New(io.Discard))

	red := raygeom.Vec3{X: 1, Y: 0, Z: 0}
	if err := a.Blit(BlitTile{ClientID: 1, Addr: tile.Addr{Frame: 1, X: 0, Y: 0}, Name: "alice", Pixels: solidPixels(g, red), Time: 0.1}); err != nil {
		t.Fatalf("blit: %v", err)
	}

	buf := make([]byte, a.FrameSize())
	a.PullFrame(buf)

	stride := g.Width() * 4
	// Pixel (0,0) should be pure blue-channel-0, green-0, red-255.
	b, gr, r, x := buf[0], buf[1], buf[2], buf[3]
	if b != 0 || gr != 0 || r != 255 {
		t.Fatalf("pixel (0,0) = (%d,%d,%d,%d), want (0,0,255,_)", b, gr, r, x)
	}
	_ = stride
}

func TestOwnershipInvariant(t *testing.T) {
	g := testGrid()
	a := New(g, fixedClock(), zerolog.New(io.Discard))

	white := raygeom.Vec3{X: 1, Y: 1, Z: 1}
	if err := a.Blit(BlitTile{ClientID: 1, Addr: tile.Addr{Frame: 1, X: 0, Y: 0}, Pixels: solidPixels(g, white), Time: 0.1}); err != nil {
		t.Fatal(err)
	}
	if err := a.Blit(BlitTile{ClientID: 1, Addr: tile.Addr{Frame: 1, X: 1, Y: 0}, Pixels: solidPixels(g, white), Time: 0.1}); err != nil {
		t.Fatal(err)
	}

	stats := a.Stats()
	if stats.OwnedTiles != 2 || stats.Clients != 1 {
		t.Fatalf("stats = %+v, want 2 owned tiles, 1 client", stats)
	}

	// Client 2 takes over tile (0,0); client 1 still owns (1,0).
	if err := a.Blit(BlitTile{ClientID: 2, Addr: tile.Addr{Frame: 2, X: 0, Y: 0}, Pixels: solidPixels(g, white), Time: 0.1}); err != nil {
		t.Fatal(err)
	}
	stats = a.Stats()
	if stats.OwnedTiles != 2 || stats.Clients != 2 {
		t.Fatalf("stats after takeover = %+v, want 2 owned tiles, 2 clients", stats)
	}
}

func TestFrameDoneOnBottomRight(t *testing.T) {
	g := testGrid()
	a := New(g, fixedClock(), zerolog.New(io.Discard))
	white := raygeom.Vec3{X: 1, Y: 1, Z: 1}

	buf := make([]byte, a.FrameSize())
	if done := a.PullFrame(buf); done {
		t.Fatal("frame_done set before any bottom-right tile arrived")
	}

	lastX, lastY := g.Last()
	if err := a.Blit(BlitTile{ClientID: 1, Addr: tile.Addr{Frame: 1, X: lastX, Y: lastY}, Pixels: solidPixels(g, white), Time: 0.1}); err != nil {
		t.Fatal(err)
	}

	if done := a.PullFrame(buf); !done {
		t.Fatal("frame_done not set after bottom-right tile")
	}
	if done := a.PullFrame(buf); done {
		t.Fatal("frame_done not cleared after being read once")
	}
}

func TestBlitRejectsWrongPixelCount(t *testing.T) {
	g := testGrid()
	a := New(g, fixedClock(), zerolog.New(io.Discard))

	err := a.Blit(BlitTile{ClientID: 1, Addr: tile.Addr{Frame: 1, X: 0, Y: 0}, Pixels: []raygeom.Vec3{{}}, Time: 0.1})
	if err == nil {
		t.Fatal("expected error for mismatched pixel count")
	}
}

func TestRotateSegmentSeedsSnapshot(t *testing.T) {
	g := testGrid()
	a := New(g, fixedClock(), zerolog.New(io.Discard))

	white := raygeom.Vec3{X: 1, Y: 1, Z: 1}
	if err := a.Blit(BlitTile{ClientID: 1, Addr: tile.Addr{Frame: 1, X: 0, Y: 0}, Name: "bob", Pixels: solidPixels(g, white), Time: 0.1}); err != nil {
		t.Fatal(err)
	}

	oldFilename, oldLog := a.RotateSegment("segment00001.ts.json")
	if oldFilename != "" {
		t.Fatalf("expected empty old filename on first rotation, got %q", oldFilename)
	}
	if len(oldLog) == 0 || oldLog[0].Snapshot == nil {
		t.Fatal("expected first element of retired log to be a Snapshot")
	}

	for i := 1; i < len(oldLog); i++ {
		if oldLog[i].TSMs < oldLog[i-1].TSMs {
			t.Fatalf("ts_ms not non-decreasing at index %d", i)
		}
	}

	_, secondLog := a.RotateSegment("segment00002.ts.json")
	if secondLog[0].Snapshot == nil {
		t.Fatal("expected new segment's first element to be a Snapshot")
	}
}
