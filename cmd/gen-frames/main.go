// gen-frames writes a sequence of synthetic beam frames to a directory,
// for feeding the analysis pipeline in replay mode. Each frame holds a
// Gaussian spot with configurable drift and noise.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/European-XFEL/imageProcessor/internal/frame"
)

var (
	outDir    = flag.String("out", "frames", "output directory")
	count     = flag.Int("count", 100, "number of frames to generate")
	width     = flag.Int("width", 640, "frame width in pixels")
	height    = flag.Int("height", 480, "frame height in pixels")
	amplitude = flag.Float64("amplitude", 900, "peak amplitude above the baseline")
	baseline  = flag.Float64("baseline", 40, "dark-level baseline")
	noise     = flag.Float64("noise", 8, "uniform noise amplitude")
	drift     = flag.Float64("drift", 0.125, "centre drift amplitude as a fraction of the frame size")
	format    = flag.String("format", "npy", "file format: npy, raw or tiff")
	seed      = flag.Int64("seed", 1, "random seed")
)

func main() {
	flag.Parse()

	ext := "." + *format
	switch ext {
	case ".npy", ".raw", ".tiff":
	default:
		log.Fatalf("unknown format %q (want npy, raw or tiff)", *format)
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	sx := float64(*width) / 40
	sy := float64(*height) / 30

	for i := 0; i < *count; i++ {
		f, err := frame.New(*width, *height)
		if err != nil {
			log.Fatalf("allocate frame: %v", err)
		}

		phase := float64(i) / 50
		cx := float64(*width)/2 + *drift*float64(*width)*math.Sin(phase)
		cy := float64(*height)/2 + *drift*float64(*height)*math.Cos(phase)

		for y := 0; y < *height; y++ {
			dy := (float64(y) - cy) / sy
			for x := 0; x < *width; x++ {
				dx := (float64(x) - cx) / sx
				f.Pix[y**width+x] = *amplitude*math.Exp(-0.5*(dx*dx+dy*dy)) +
					*baseline + *noise*rng.Float64()
			}
		}

		path := filepath.Join(*outDir, fmt.Sprintf("frame_%05d%s", i, ext))
		if err := frame.Save(path, f); err != nil {
			log.Fatalf("save %s: %v", path, err)
		}
	}

	fmt.Printf("wrote %d %dx%d frames to %s\n", *count, *width, *height, *outDir)
}
