package httpstatic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nplex/tracecoord/internal/accumulator"
	"github.com/nplex/tracecoord/internal/raygeom"
	"github.com/nplex/tracecoord/internal/scheduler"
	"github.com/nplex/tracecoord/internal/tile"
)

func newTestScheduler(t *testing.T, g tile.Grid) *scheduler.Scheduler {
	t.Helper()
	output := make(chan accumulator.BlitTile, 4)
	s := scheduler.New(scheduler.Config{
		Grid:          g,
		RayTable:      raygeom.BuildRayTable(g),
		Elements:      nil,
		Displacements: nil,
		Output:        output,
		Log:           zerolog.New(io.Discard),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(cancel)
	return s
}

func TestStatsEndpointReportsCombinedState(t *testing.T) {
	g := tile.Grid{TilesX: 1, TilesY: 1, TileSize: 2}
	var clock uint64
	acc := accumulator.New(g, func() uint64 { clock++; return clock }, zerolog.New(io.Discard))
	sched := newTestScheduler(t, g)

	root := t.TempDir()
	handler := NewHandler(root, acc, sched)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var view statsView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if view.Accumulator.OwnedTiles != 0 || view.Accumulator.Clients != 0 {
		t.Fatalf("accumulator stats = %+v, want zero value on a fresh accumulator", view.Accumulator)
	}
	if view.Scheduler.InFlightTiles != 0 {
		t.Fatalf("scheduler stats = %+v, want no in-flight tiles", view.Scheduler)
	}
}

func TestServesStaticFileContents(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "playlist.m3u8"), []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	g := tile.Grid{TilesX: 1, TilesY: 1, TileSize: 2}
	acc := accumulator.New(g, func() uint64 { return 0 }, zerolog.New(io.Discard))
	sched := newTestScheduler(t, g)
	handler := NewHandler(root, acc, sched)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/playlist.m3u8", nil)
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "#EXTM3U\n" {
		t.Fatalf("body = %q, want playlist contents", body)
	}
}
