// Command hwvenc-demo encodes a test pattern, a webcam or the screen with
// the hardware H.264 encoder component and writes the RTP packetized
// stream back as an Annex-B file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	ilogging "github.com/pion/hwvenc/internal/logging"
	"github.com/pion/logging"

	// Simulated MFC driver, registered as "mfcsim".
	_ "github.com/pion/hwvenc/pkg/driver/mfcsim"
)

var logger = ilogging.NewLogger("demo")

func main() {
	configPath := flag.String("config", "", "TOML configuration file, the defaults are used when empty")
	output := flag.String("o", "", "output file, overrides output.path")
	frames := flag.Int("frames", -1, "number of frames to encode, overrides source.frames")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	must(err)
	if *output != "" {
		cfg.Output.Path = *output
	}
	if *frames >= 0 {
		cfg.Source.Frames = *frames
	}

	level, err := cfg.Log.level()
	must(err)
	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = level
	ilogging.SetLoggerFactory(factory)
	logger = ilogging.NewLogger("demo")

	src, err := openSource(cfg.Source)
	must(err)
	defer src.Close()

	f, err := os.Create(cfg.Output.Path)
	must(err)
	defer f.Close()

	enc, err := newEncoder(cfg, factory)
	must(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := enc.Run(ctx, src, f)
	if cerr := enc.Close(); cerr != nil {
		logger.Warnf("close: %v", cerr)
	}
	must(err)

	logger.Infof("%s: %d frames in, %d out, %d bytes, %d errors",
		cfg.Output.Path, stats.FramesIn, stats.FramesOut, stats.BytesOut, stats.Errors)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
