package video

import (
	"errors"
	"image"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottle(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("timers are too coarse on darwin CI")
	}
	img := image.NewYCbCr(image.Rect(0, 0, 64, 48), image.YCbCrSubsampleRatio420)

	// The source runs twice as fast as the throttled rate.
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	var pulled int
	r := Throttle(50)(ReaderFunc(func() (image.Image, func(), error) {
		<-ticker.C
		pulled++
		return img, func() {}, nil
	}))

	const frames = 20
	for i := 0; i < frames; i++ {
		out, release, err := r.Read()
		require.NoError(t, err)
		release()
		assert.Same(t, img, out)
	}
	assert.InDelta(t, 2*frames, pulled, 2*frames*0.25, "every other frame is dropped")
}

func TestThrottleError(t *testing.T) {
	errSource := errors.New("source closed")
	r := Throttle(30)(ReaderFunc(func() (image.Image, func(), error) {
		return nil, func() {}, errSource
	}))
	_, _, err := r.Read()
	assert.ErrorIs(t, err, errSource)
}

func TestScale(t *testing.T) {
	cases := map[string]struct {
		src image.Image
	}{
		"I420": {src: image.NewYCbCr(image.Rect(0, 0, 64, 48), image.YCbCrSubsampleRatio420)},
		"I444": {src: image.NewYCbCr(image.Rect(0, 0, 64, 48), image.YCbCrSubsampleRatio444)},
		"RGBA": {src: image.NewRGBA(image.Rect(0, 0, 64, 48))},
	}

	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			r := Merge(Scale(32, 24, nil), ToI420)(ReaderFunc(func() (image.Image, func(), error) {
				return c.src, func() {}, nil
			}))
			out, _, err := r.Read()
			require.NoError(t, err)
			yuv, ok := out.(*image.YCbCr)
			require.True(t, ok)
			assert.Equal(t, image.Rect(0, 0, 32, 24), yuv.Rect)
			assert.Equal(t, image.YCbCrSubsampleRatio420, yuv.SubsampleRatio)
		})
	}
}
