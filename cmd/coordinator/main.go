// Command coordinator runs the tile-dispatch scheduler, frame accumulator,
// encoder driver, and static HTTP server as one process, wiring the five
// long-lived components described in the package docs together and
// supervising them with an errgroup the way the rest of the example pack
// supervises its long-running goroutines.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nplex/tracecoord/internal/accumulator"
	"github.com/nplex/tracecoord/internal/clientid"
	"github.com/nplex/tracecoord/internal/config"
	"github.com/nplex/tracecoord/internal/encoder"
	"github.com/nplex/tracecoord/internal/httpstatic"
	"github.com/nplex/tracecoord/internal/logging"
	"github.com/nplex/tracecoord/internal/netio"
	"github.com/nplex/tracecoord/internal/raygeom"
	"github.com/nplex/tracecoord/internal/sceneio"
	"github.com/nplex/tracecoord/internal/scheduler"
	"github.com/nplex/tracecoord/internal/tile"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "coordinator:", err)
		os.Exit(1)
	}
}

func run() error {
	addrFlag := flag.String("addr", "", "override the TCP listen address from config")
	flag.Parse()
	if flag.NArg() < 1 {
		return fmt.Errorf("usage: coordinator [--addr host:port] <scene.csv>")
	}
	scenePath := flag.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *addrFlag != "" {
		cfg.ListenAddr = *addrFlag
	}

	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	elements, displacements, err := sceneio.Load(scenePath)
	if err != nil {
		return fmt.Errorf("loading scene %s: %w", scenePath, err)
	}

	grid := tile.DefaultGrid
	rayTable := raygeom.BuildRayTable(grid)

	liveDir := filepath.Join(cfg.StaticRoot, "livevideo")
	recordingDir := filepath.Join(cfg.StaticRoot, "recording")
	if err := os.RemoveAll(liveDir); err != nil {
		return fmt.Errorf("clearing live video dir: %w", err)
	}
	if err := os.MkdirAll(liveDir, 0o755); err != nil {
		return fmt.Errorf("creating live video dir: %w", err)
	}
	if err := os.MkdirAll(recordingDir, 0o755); err != nil {
		return fmt.Errorf("creating recording dir: %w", err)
	}

	startedAt := time.Now()
	acc := accumulator.New(grid, func() uint64 {
		return uint64(time.Since(startedAt).Milliseconds())
	}, logging.Component(log, "accumulator"))

	output := make(chan accumulator.BlitTile, 16)
	sched := scheduler.New(scheduler.Config{
		Grid:          grid,
		RayTable:      rayTable,
		Elements:      elements,
		Displacements: displacements,
		TileTimeout:   cfg.TileTimeout,
		Output:        output,
		Log:           logging.Component(log, "scheduler"),
	})

	enc, err := encoder.New(encoder.Config{
		Grid:          grid,
		LiveDir:       liveDir,
		RecordingDir:  recordingDir,
		SegmentLength: cfg.SegmentLength,
		Log:           logging.Component(log, "encoder"),
	}, acc)
	if err != nil {
		return fmt.Errorf("building encoder: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.ListenAddr, err)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpstatic.NewHandler(cfg.StaticRoot, acc, sched),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received, flushing in-flight work")
		cancel()
		<-sigCh
		log.Warn().Msg("second shutdown signal, exiting immediately")
		os.Exit(1)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return runAccumulatorConsumer(gctx, acc, output, log)
	})

	g.Go(func() error {
		return enc.Run(gctx)
	})

	g.Go(func() error {
		go func() {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return acceptLoop(gctx, listener, sched, logging.Component(log, "netio"))
	})

	return g.Wait()
}

// runAccumulatorConsumer drains the scheduler's BlitTile output into the
// accumulator, the wiring between the scheduler's single event loop and
// the accumulator's own.
func runAccumulatorConsumer(ctx context.Context, acc *accumulator.Accumulator, output <-chan accumulator.BlitTile, log zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case blit := <-output:
			if err := acc.Blit(blit); err != nil {
				log.Warn().Err(err).Msg("dropping invalid blit from scheduler")
			}
		}
	}
}

// acceptLoop accepts incoming TCP connections, mints a client id for each,
// and spawns a connection handler goroutine per connection.
func acceptLoop(ctx context.Context, listener net.Listener, sched *scheduler.Scheduler, log zerolog.Logger) error {
	ids := &clientid.Generator{}

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		id := ids.Next()
		go netio.Handle(conn, id, sched.Events(), log)
	}
}
