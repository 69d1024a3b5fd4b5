package main

import (
	"fmt"
	"image"
	"io"

	"github.com/pion/hwvenc/pkg/frame"
	"github.com/pion/hwvenc/pkg/io/video"
)

// source produces raw frames in the pixel format it reports.
type source interface {
	Format() frame.Format
	// ReadFrame copies the next frame into dst and returns its size.
	ReadFrame(dst []byte) (int, error)
	Close() error
}

func openSource(cfg SourceConfig) (source, error) {
	switch cfg.Kind {
	case "pattern":
		r := video.Merge(
			video.Throttle(cfg.FrameRate),
			video.ToI420,
		)(colorBars(cfg.Width, cfg.Height))
		return newImageSource(r, nil), nil
	case "webcam":
		return openWebcam(cfg)
	case "screen":
		return openScreen(cfg)
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
}

// imageSource packs the 4:2:0 images of a video.Reader as I420.
type imageSource struct {
	r       video.Reader
	onClose func() error
}

func newImageSource(r video.Reader, onClose func() error) *imageSource {
	return &imageSource{r: r, onClose: onClose}
}

func (s *imageSource) Format() frame.Format {
	return frame.FormatI420
}

func (s *imageSource) ReadFrame(dst []byte) (int, error) {
	img, release, err := s.r.Read()
	if err != nil {
		return 0, err
	}
	defer release()

	yuv, ok := img.(*image.YCbCr)
	if !ok || yuv.SubsampleRatio != image.YCbCrSubsampleRatio420 {
		return 0, fmt.Errorf("source produced %T, want a 4:2:0 image", img)
	}
	return packI420(dst, yuv)
}

func (s *imageSource) Close() error {
	if s.onClose == nil {
		return nil
	}
	return s.onClose()
}

// packI420 writes the planes of img back to back, dropping the strides.
func packI420(dst []byte, img *image.YCbCr) (int, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	size, err := frame.Size(frame.FormatI420, w, h)
	if err != nil {
		return 0, err
	}
	if len(dst) < size {
		return 0, io.ErrShortBuffer
	}

	x0, y0 := img.Rect.Min.X, img.Rect.Min.Y
	n := 0
	for y := 0; y < h; y++ {
		i := img.YOffset(x0, y0+y)
		n += copy(dst[n:n+w], img.Y[i:i+w])
	}
	cw, ch := w/2, h/2
	for _, plane := range [][]uint8{img.Cb, img.Cr} {
		for y := 0; y < ch; y++ {
			i := img.COffset(x0, y0+2*y)
			n += copy(dst[n:n+cw], plane[i:i+cw])
		}
	}
	return n, nil
}
