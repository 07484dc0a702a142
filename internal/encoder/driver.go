// Package encoder drives the GStreamer pipeline that turns accumulated
// frames into a live HLS stream plus a full-length recording, pulling
// pixels from the accumulator on a fixed cadence the same way go-gst's
// appsrc-based pipelines are driven elsewhere in the example pack.
package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nplex/tracecoord/internal/accumulator"
	"github.com/nplex/tracecoord/internal/tile"
)

// FrameInterval is the fixed cadence at which the driver pulls a frame
// from the accumulator and pushes it into the encoding pipeline.
const FrameInterval = 33 * time.Millisecond

// Config bundles the inputs the driver needs to build its pipeline.
type Config struct {
	Grid          tile.Grid
	LiveDir       string        // directory holding the HLS playlist + segments + JSON sidecars
	RecordingDir  string        // directory holding the long-form recording
	SegmentLength time.Duration // how often to rotate the metadata sidecar
	Log           zerolog.Logger
}

// Driver owns the GStreamer pipeline and the two tickers that drive frame
// pushes and segment rotation.
type Driver struct {
	cfg Config

	pipeline *gst.Pipeline
	appsrc   *app.Source // live stream: fed every frame tick, wall-clock PTS
	recsrc   *app.Source // recording: fed only on frame_done, synthetic PTS

	acc          *accumulator.Accumulator
	playlist     *PlaylistState
	playlistPath string

	recordingBase string
	segmentSeq    int
}

// New builds and initializes, but does not start, the encoding pipeline.
// acc is the frame accumulator this driver pulls pixels from.
func New(cfg Config, acc *accumulator.Accumulator) (*Driver, error) {
	gst.Init(nil)

	if err := os.MkdirAll(cfg.LiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("encoder: creating live dir: %w", err)
	}
	if err := os.MkdirAll(cfg.RecordingDir, 0o755); err != nil {
		return nil, fmt.Errorf("encoder: creating recording dir: %w", err)
	}

	recordingBase := uuid.NewString()

	// The live stream and the long-form recording are two independent
	// appsrc chains, not a tee off one source: the live branch is fed on
	// every frame tick with a wall-clock PTS, the recording branch only on
	// frame_done with its own monotonically advancing synthetic PTS, per
	// spec.md §4.4's need-data contract.
	pipelineStr := fmt.Sprintf(
		"appsrc name=src format=time is-live=true do-timestamp=false "+
			"caps=video/x-raw,format=BGRx,width=%d,height=%d,framerate=30/1 ! "+
			"videoconvert ! x264enc tune=zerolatency speed-preset=veryfast key-int-max=60 ! "+
			"mpegtsmux ! hlssink2 name=hls target-duration=6 "+
			"max-files=10 playlist-length=6 "+
			"location=%s playlist-location=%s "+
			"appsrc name=recsrc format=time is-live=true do-timestamp=false "+
			"caps=video/x-raw,format=BGRx,width=%d,height=%d,framerate=30/1 ! "+
			"videoconvert ! x264enc tune=zerolatency speed-preset=veryfast key-int-max=60 ! "+
			"mpegtsmux ! filesink name=rec location=%s sync=false",
		cfg.Grid.Width(), cfg.Grid.Height(),
		filepath.Join(cfg.LiveDir, "segment%05d.ts"),
		filepath.Join(cfg.LiveDir, "playlist.m3u8"),
		cfg.Grid.Width(), cfg.Grid.Height(),
		filepath.Join(cfg.RecordingDir, recordingBase+".ts"),
	)

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, fmt.Errorf("encoder: parsing pipeline: %w", err)
	}

	srcElem, err := pipeline.GetElementByName("src")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("encoder: getting appsrc: %w", err)
	}
	src := app.SrcFromElement(srcElem)
	src.SetProperty("format", gst.FormatTime)

	recElem, err := pipeline.GetElementByName("recsrc")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("encoder: getting recording appsrc: %w", err)
	}
	recsrc := app.SrcFromElement(recElem)
	recsrc.SetProperty("format", gst.FormatTime)

	return &Driver{
		cfg:           cfg,
		pipeline:      pipeline,
		appsrc:        src,
		recsrc:        recsrc,
		acc:           acc,
		playlist:      NewPlaylistState(),
		playlistPath:  filepath.Join(cfg.LiveDir, "playlist.m3u8"),
		recordingBase: recordingBase,
	}, nil
}

// Run starts the pipeline and blocks, pushing frames and rotating segments
// until ctx is canceled, at which point it sends end-of-stream and tears
// the pipeline down cleanly.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("encoder: starting pipeline: %w", err)
	}
	defer d.pipeline.SetState(gst.StateNull)

	go d.watchBus(ctx)

	frameTicker := time.NewTicker(FrameInterval)
	defer frameTicker.Stop()
	segmentTicker := time.NewTicker(d.cfg.SegmentLength)
	defer segmentTicker.Stop()

	buf := make([]byte, d.acc.FrameSize())
	startedAt := time.Now()
	var recordedFrames uint64

	for {
		select {
		case <-ctx.Done():
			d.appsrc.EndStream()
			d.recsrc.EndStream()
			return nil
		case <-frameTicker.C:
			frameDone := d.acc.PullFrame(buf)
			d.pushLiveFrame(buf, time.Since(startedAt))
			if frameDone {
				d.pushRecordingFrame(buf, recordedFrames)
				recordedFrames++
			}
		case <-segmentTicker.C:
			d.rotateSegment()
		}
	}
}

// pushLiveFrame wraps the current pixel buffer in a GStreamer buffer
// stamped with the wall-clock time elapsed since Run started the pipeline —
// the live stream's demand is decoupled from worker completion, so every
// tick produces a frame regardless of whether any tile finished this interval.
func (d *Driver) pushLiveFrame(pixels []byte, elapsed time.Duration) {
	gbuf := gst.NewBufferFromBytes(pixels)
	gbuf.SetPresentationTimestamp(gst.ClockTime(elapsed))
	gbuf.SetDuration(gst.ClockTime(FrameInterval))

	if ret := d.appsrc.PushBuffer(gbuf); ret != gst.FlowOK {
		d.cfg.Log.Warn().Str("flow_return", ret.String()).Msg("appsrc push failed")
	}
}

// pushRecordingFrame pushes one frame into the long-form recording
// pipeline, called only when frame_done was observed on this pull. Its PTS
// is a monotonically advancing synthetic counter of 33ms·i, independent of
// the live stream's wall-clock PTS and of how many ticks elapsed between
// completed frames.
func (d *Driver) pushRecordingFrame(pixels []byte, frameIndex uint64) {
	gbuf := gst.NewBufferFromBytes(pixels)
	pts := gst.ClockTime(frameIndex) * gst.ClockTime(FrameInterval)
	gbuf.SetPresentationTimestamp(pts)
	gbuf.SetDuration(gst.ClockTime(FrameInterval))

	if ret := d.recsrc.PushBuffer(gbuf); ret != gst.FlowOK {
		d.cfg.Log.Warn().Str("flow_return", ret.String()).Msg("recording appsrc push failed")
	}
}

// rotateSegment retires the accumulator's current metadata log to a JSON
// sidecar next to the segment that was playing when rotation began, then
// rewrites the HLS playlist to inject PROGRAM-DATE-TIME tags.
func (d *Driver) rotateSegment() {
	d.segmentSeq++
	newName := fmt.Sprintf("segment%05d.ts", d.segmentSeq)

	oldFilename, oldLog := d.acc.RotateSegment(newName)
	if oldFilename != "" {
		sidecar := filepath.Join(d.cfg.LiveDir, oldFilename+".json")
		if err := writeSidecar(sidecar, oldLog); err != nil {
			d.cfg.Log.Error().Err(err).Str("path", sidecar).Msg("failed to write segment metadata sidecar")
		}
		d.pruneOldSegments()
	}

	content, err := os.ReadFile(d.playlistPath)
	if err != nil {
		if !os.IsNotExist(err) {
			d.cfg.Log.Warn().Err(err).Msg("failed to read playlist for rewrite")
		}
		return
	}
	rewritten := d.playlist.Rewrite(string(content))
	if err := os.WriteFile(d.playlistPath, []byte(rewritten), 0o644); err != nil {
		d.cfg.Log.Warn().Err(err).Msg("failed to write rewritten playlist")
	}
}

// pruneOldSegments deletes the .json sidecar of the segment that just fell
// out of hlssink2's own retention window (max-files=10). The .ts file itself
// is left to hlssink2, which deletes its own segments but knows nothing
// about our .json sidecars.
func (d *Driver) pruneOldSegments() {
	const retain = 10
	if d.segmentSeq <= retain {
		return
	}
	evicted := d.segmentSeq - retain
	base := fmt.Sprintf("segment%05d.ts", evicted)
	_ = os.Remove(filepath.Join(d.cfg.LiveDir, base+".json"))
}

func writeSidecar(path string, log []accumulator.MetaAction) error {
	data, err := json.Marshal(log)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (d *Driver) watchBus(ctx context.Context) {
	bus := d.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg := bus.TimedPop(gst.ClockTime(100 * time.Millisecond))
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			if gerr := msg.ParseError(); gerr != nil {
				d.cfg.Log.Error().Err(gerr).Msg("gstreamer pipeline error")
			}
			return
		case gst.MessageEOS:
			return
		}
	}
}
