package main

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
	"github.com/pion/hwvenc/pkg/io/video"
)

// openScreen captures a display, scaled to the configured size.
func openScreen(cfg SourceConfig) (source, error) {
	if n := screenshot.NumActiveDisplays(); cfg.Display < 0 || cfg.Display >= n {
		return nil, fmt.Errorf("display %d not found, %d active", cfg.Display, n)
	}
	bounds := screenshot.GetDisplayBounds(cfg.Display)
	logger.Infof("capturing display %d, %dx%d", cfg.Display, bounds.Dx(), bounds.Dy())

	capture := video.ReaderFunc(func() (image.Image, func(), error) {
		img, err := screenshot.CaptureDisplay(cfg.Display)
		if err != nil {
			return nil, func() {}, err
		}
		return img, func() {}, nil
	})
	r := video.Merge(
		video.Throttle(cfg.FrameRate),
		video.Scale(cfg.Width, cfg.Height, video.ScalerApproxBiLinear),
		video.ToI420,
	)(capture)
	return newImageSource(r, nil), nil
}
