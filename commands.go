package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/European-XFEL/imageProcessor/internal/correlator"
	"github.com/European-XFEL/imageProcessor/internal/frame"
	"github.com/European-XFEL/imageProcessor/internal/monitor"
	"github.com/European-XFEL/imageProcessor/internal/pipeline"
	sqlite "github.com/European-XFEL/imageProcessor/internal/storage/sqlite"
)

// FrameSource produces camera frames for the analysis loop. Next returns
// io.EOF when the source is exhausted.
type FrameSource interface {
	Next() (*frame.Frame, error)
}

func newFrameSource(kind, dir string, width, height int) (FrameSource, error) {
	switch kind {
	case "synthetic":
		return newSyntheticSource(width, height), nil
	case "replay":
		if dir == "" {
			return nil, errors.New("-source replay requires -frames")
		}
		return newReplaySource(dir, width, height)
	default:
		return nil, fmt.Errorf("unknown source %q (want synthetic or replay)", kind)
	}
}

// syntheticSource generates a noisy Gaussian spot whose centre drifts
// slowly across the sensor, so fits, centroid and rates all have something
// to track.
type syntheticSource struct {
	width  int
	height int
	rng    *rand.Rand
	tick   int
}

func newSyntheticSource(width, height int) *syntheticSource {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	return &syntheticSource{
		width:  width,
		height: height,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *syntheticSource) Next() (*frame.Frame, error) {
	f, err := frame.New(s.width, s.height)
	if err != nil {
		return nil, err
	}

	phase := float64(s.tick) / 50
	s.tick++
	cx := float64(s.width)/2 + float64(s.width)/8*math.Sin(phase)
	cy := float64(s.height)/2 + float64(s.height)/10*math.Cos(phase)
	sx := float64(s.width) / 40
	sy := float64(s.height) / 30

	for y := 0; y < s.height; y++ {
		dy := (float64(y) - cy) / sy
		for x := 0; x < s.width; x++ {
			dx := (float64(x) - cx) / sx
			v := 900*math.Exp(-0.5*(dx*dx+dy*dy)) + 40 + 8*s.rng.Float64()
			f.Pix[y*s.width+x] = v
		}
	}
	return f, nil
}

// replaySource feeds frame files from a directory in name order. The
// width and height hints apply to raw files only.
type replaySource struct {
	paths  []string
	index  int
	width  int
	height int
}

func newReplaySource(dir string, width, height int) (*replaySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".npy", ".raw", ".tif", ".tiff":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frame files in %s", dir)
	}
	sort.Strings(paths)
	return &replaySource{paths: paths, width: width, height: height}, nil
}

func (s *replaySource) Next() (*frame.Frame, error) {
	if s.index >= len(s.paths) {
		return nil, io.EOF
	}
	path := s.paths[s.index]
	s.index++
	f, err := frame.Load(path, s.width, s.height)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return f, nil
}

// pruneResults deletes persisted frame results older than the retention
// window, once an hour.
func pruneResults(ctx context.Context, results *sqlite.ResultStore, keep time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := results.DeleteBefore(time.Now().Add(-keep))
		if err != nil {
			pipeline.Opsf("prune results: %v", err)
		} else if n > 0 {
			pipeline.Diagf("pruned %d results older than %s", n, keep)
		}
	}
}

// runFrames pulls frames from the source at the requested rate and runs
// each through the pipeline, recording outputs for the monitor and the
// result store. Frame errors are logged and do not stop the loop.
func runFrames(ctx context.Context, src FrameSource, proc *pipeline.Processor,
	ws *monitor.WebServer, results *sqlite.ResultStore, analyzer *correlator.Analyzer, fps float64) {

	if fps <= 0 {
		fps = 10
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		f, err := src.Next()
		if err == io.EOF {
			pipeline.Opsf("frame source exhausted")
			return
		}
		if err != nil {
			pipeline.Opsf("frame source error: %v", err)
			continue
		}

		out, err := proc.Process(f)
		if err == pipeline.ErrFrameSkipped {
			pipeline.Tracef("frame gated out by threshold")
			continue
		}
		if err != nil {
			pipeline.Opsf("process frame: %v", err)
			continue
		}
		ws.RecordOutput(out)

		if analyzer != nil {
			res, err := analyzer.Process(f)
			if err != nil {
				pipeline.Diagf("autocorrelator: %v", err)
			} else if res.PulseWidth > 0 {
				pipeline.Tracef("pulse width %.2f fs (peak %.1f px)", res.PulseWidth, res.Peak)
			}
		}

		if results != nil {
			if err := results.Insert(sqlite.NewFrameResult(out)); err != nil {
				pipeline.Opsf("persist result: %v", err)
			}
		}
	}
}
