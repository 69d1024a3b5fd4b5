package video

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/pion/hwvenc/pkg/frame"
	mio "github.com/pion/hwvenc/pkg/io"
)

var errFormatNotSet = errors.New("csc: source and destination formats must be set")

type geometry struct {
	format        frame.Format
	width, height int
}

// Converter converts raw client frames into the plane layout a hardware
// encoder consumes. It handles pixel format, rotation and scaling in a single
// Convert call. A Converter is safe for concurrent use, though the pipeline
// only ever drives it from one goroutine.
type Converter struct {
	mu       sync.Mutex
	src, dst geometry
	rotation int
	scaler   Scaler
	decoder  frame.Decoder

	normalized image.YCbCr
	rotated    *image.YCbCr
	scaled     *image.YCbCr
}

// NewConverter returns a Converter with no formats set.
func NewConverter() *Converter {
	return &Converter{scaler: ScalerNearestNeighbor}
}

// SetSrcFormat sets the layout of the frames passed to Convert.
func (c *Converter) SetSrcFormat(f frame.Format, width, height int) error {
	decoder, err := frame.NewDecoder(f)
	if err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("csc: invalid source size %dx%d", width, height)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.src = geometry{format: f, width: width, height: height}
	c.decoder = decoder
	return nil
}

// SetDstFormat sets the layout Convert writes. width and height are the
// final size, after rotation.
func (c *Converter) SetDstFormat(f frame.Format, width, height int) error {
	switch f {
	case frame.FormatNV12, frame.FormatNV21, frame.FormatI420:
	default:
		return fmt.Errorf("csc: %s is not supported as destination", f)
	}
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return fmt.Errorf("csc: invalid destination size %dx%d", width, height)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dst = geometry{format: f, width: width, height: height}
	return nil
}

// SetRotation sets the clockwise rotation applied before scaling.
func (c *Converter) SetRotation(degrees int) error {
	if !ValidRotation(degrees) {
		return fmt.Errorf("csc: unsupported rotation: %d", degrees)
	}
	c.mu.Lock()
	c.rotation = degrees
	c.mu.Unlock()
	return nil
}

// SetScaler replaces the scaling algorithm. nil selects nearest neighbor.
func (c *Converter) SetScaler(s Scaler) {
	if s == nil {
		s = ScalerNearestNeighbor
	}
	c.mu.Lock()
	c.scaler = s
	c.mu.Unlock()
}

// Passthrough reports whether Convert degenerates into a plain copy.
func (c *Converter) Passthrough() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.passthrough()
}

func (c *Converter) passthrough() bool {
	return c.src == c.dst && c.rotation == 0
}

// Convert reads one frame from src and writes it into dst. dst is either one
// contiguous buffer or one buffer per destination plane. The number of bytes
// written is returned.
func (c *Converter) Convert(dst [][]byte, src []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.decoder == nil || c.dst.format == "" {
		return 0, errFormatNotSet
	}

	sizes, err := frame.PlaneSizes(c.dst.format, c.dst.width, c.dst.height)
	if err != nil {
		return 0, err
	}
	planes, err := splitPlanes(dst, sizes)
	if err != nil {
		return 0, err
	}

	if c.passthrough() {
		return mio.Split(planes, src, sizes)
	}

	img, release, err := c.decoder.Decode(src, c.src.width, c.src.height)
	if err != nil {
		return 0, err
	}
	defer release()

	if err := toI420(&c.normalized, img); err != nil {
		return 0, err
	}
	out := &c.normalized

	if c.rotation != 0 {
		c.rotated, err = rotateI420(c.rotated, out, c.rotation)
		if err != nil {
			return 0, err
		}
		out = c.rotated
	}

	if out.Rect.Dx() != c.dst.width || out.Rect.Dy() != c.dst.height {
		if c.scaled == nil || c.scaled.Rect.Dx() != c.dst.width || c.scaled.Rect.Dy() != c.dst.height {
			c.scaled = image.NewYCbCr(image.Rect(0, 0, c.dst.width, c.dst.height), image.YCbCrSubsampleRatio420)
		}
		scaleI420(c.scaled, out, c.scaler)
		out = c.scaled
	}

	return writeI420As(c.dst.format, planes, out), nil
}

// splitPlanes maps dst onto the destination planes. A single buffer is cut
// into consecutive planes.
func splitPlanes(dst [][]byte, sizes []int) ([][]byte, error) {
	if len(dst) == 1 {
		var total int
		for _, s := range sizes {
			total += s
		}
		if len(dst[0]) < total {
			return nil, &mio.InsufficientBufferError{RequiredSize: total}
		}
		planes := make([][]byte, len(sizes))
		off := 0
		for i, s := range sizes {
			planes[i] = dst[0][off : off+s]
			off += s
		}
		return planes, nil
	}

	if len(dst) < len(sizes) {
		return nil, fmt.Errorf("csc: %d planes given, %d required", len(dst), len(sizes))
	}
	for i, s := range sizes {
		if len(dst[i]) < s {
			return nil, &mio.InsufficientBufferError{RequiredSize: s}
		}
	}
	return dst, nil
}

func writeI420As(f frame.Format, planes [][]byte, img *image.YCbCr) int {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	n := 0
	for y := 0; y < h; y++ {
		n += copy(planes[0][y*w:(y+1)*w], img.Y[y*img.YStride:])
	}

	cw, ch := w/2, h/2
	switch f {
	case frame.FormatI420:
		for y := 0; y < ch; y++ {
			n += copy(planes[1][y*cw:(y+1)*cw], img.Cb[y*img.CStride:])
			n += copy(planes[2][y*cw:(y+1)*cw], img.Cr[y*img.CStride:])
		}
	case frame.FormatNV12, frame.FormatNV21:
		first, second := img.Cb, img.Cr
		if f == frame.FormatNV21 {
			first, second = img.Cr, img.Cb
		}
		uv := planes[1]
		for y := 0; y < ch; y++ {
			row := uv[y*w:]
			for x := 0; x < cw; x++ {
				row[2*x] = first[y*img.CStride+x]
				row[2*x+1] = second[y*img.CStride+x]
			}
			n += 2 * cw
		}
	}
	return n
}
