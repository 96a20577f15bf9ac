package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/European-XFEL/imageProcessor/internal/background"
	"github.com/European-XFEL/imageProcessor/internal/correlator"
	"github.com/European-XFEL/imageProcessor/internal/monitor"
	"github.com/European-XFEL/imageProcessor/internal/pipeline"
	sqlite "github.com/European-XFEL/imageProcessor/internal/storage/sqlite"
)

var (
	configPath = flag.String("config", "", "JSON tuning file (built-in defaults when empty)")
	dbPath     = flag.String("db", "imageprocessor.db", "sqlite database path (empty disables persistence)")
	listen     = flag.String("listen", ":8080", "HTTP monitor listen address")
	source     = flag.String("source", "synthetic", "frame source: synthetic or replay")
	framesDir  = flag.String("frames", "", "directory of frame files for -source replay")
	rawWidth   = flag.Int("width", 0, "frame width hint for raw replay files")
	rawHeight  = flag.Int("height", 0, "frame height hint for raw replay files")
	fps        = flag.Float64("fps", 10, "frame rate of the source")
	bkgPath    = flag.String("background", "", "background reference file to load at startup")
	retention  = flag.Duration("retention", 24*time.Hour, "prune persisted results older than this (0 disables)")
	mode       = flag.String("mode", "imaging", "analysis mode: imaging or autocorrelator")
	beamShape  = flag.String("beam-shape", "gaussian", "autocorrelator beam shape: gaussian or sech2")
	verbose    = flag.Bool("verbose", false, "enable diagnostic logging")
	traceLog   = flag.Bool("trace", false, "enable per-frame trace logging")
)

func main() {
	flag.Parse()

	var diagW, traceW io.Writer
	if *verbose {
		diagW = os.Stderr
	}
	if *traceLog {
		traceW = os.Stderr
	}
	pipeline.SetLogWriters(pipeline.LogWriters{Ops: os.Stderr, Diag: diagW, Trace: traceW})

	cfg := pipeline.EmptyConfig()
	if *configPath != "" {
		var err error
		cfg, err = pipeline.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	bkg := background.NewManager()
	if *bkgPath != "" {
		if err := bkg.Load(*bkgPath, *rawWidth, *rawHeight); err != nil {
			log.Fatalf("load background reference: %v", err)
		}
		pipeline.Opsf("background reference loaded from %s", *bkgPath)
	}

	proc := pipeline.New(cfg, bkg)

	var (
		results   *sqlite.ResultStore
		snapshots *sqlite.SnapshotStore
	)
	if *dbPath != "" {
		db, err := sqlite.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()
		results = sqlite.NewResultStore(db)
		snapshots = sqlite.NewSnapshotStore(db)
	}

	var analyzer *correlator.Analyzer
	if *mode == "autocorrelator" {
		var err error
		analyzer, err = correlator.New(correlator.BeamShape(*beamShape), 0)
		if err != nil {
			log.Fatalf("autocorrelator setup: %v", err)
		}
		pipeline.Opsf("autocorrelator mode, beam shape %s", *beamShape)
	} else if *mode != "imaging" {
		log.Fatalf("unknown mode %q (want imaging or autocorrelator)", *mode)
	}

	src, err := newFrameSource(*source, *framesDir, *rawWidth, *rawHeight)
	if err != nil {
		log.Fatalf("frame source: %v", err)
	}

	sampler := monitor.NewSampler(proc)
	ws := monitor.NewWebServer(monitor.WebServerConfig{
		Address:    *listen,
		Processor:  proc,
		Sampler:    sampler,
		Results:    results,
		Snapshots:  snapshots,
		Correlator: analyzer,
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("web server: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sampler.Run(ctx, time.Second)
	}()

	if results != nil && *retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneResults(ctx, results, *retention)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runFrames(ctx, src, proc, ws, results, analyzer, *fps)
		stop()
	}()

	wg.Wait()
	pipeline.Opsf("shutdown complete")
}
