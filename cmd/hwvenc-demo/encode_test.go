package main

import (
	"bytes"
	"context"
	"image"
	"testing"

	"github.com/pion/hwvenc"
	"github.com/pion/hwvenc/pkg/driver"
	"github.com/pion/hwvenc/pkg/driver/mfcsim"
	"github.com/pion/hwvenc/pkg/frame"
	"github.com/pion/hwvenc/pkg/io/video"
	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackI420(t *testing.T) {
	img := image.NewYCbCr(image.Rect(0, 0, 8, 4), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = 1
	}
	for i := range img.Cb {
		img.Cb[i] = 2
		img.Cr[i] = 3
	}
	// A sub-image keeps the strides of its parent.
	sub := img.SubImage(image.Rect(2, 2, 6, 4)).(*image.YCbCr)

	dst := make([]byte, 4*2*3/2)
	n, err := packI420(dst, sub)
	require.NoError(t, err)
	assert.Equal(t, len(dst), n)
	assert.Equal(t, []byte{1, 1, 1, 1, 1, 1, 1, 1, 2, 2, 3, 3}, dst)

	_, err = packI420(dst[:5], sub)
	assert.Error(t, err)
}

func TestColorBars(t *testing.T) {
	src := newImageSource(video.ToI420(colorBars(64, 48)), nil)
	assert.Equal(t, frame.FormatI420, src.Format())

	size, err := frame.Size(frame.FormatI420, 64, 48)
	require.NoError(t, err)
	a, b := make([]byte, size), make([]byte, size)

	n, err := src.ReadFrame(a)
	require.NoError(t, err)
	assert.Equal(t, size, n)
	_, err = src.ReadFrame(b)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "consecutive frames must differ")
	assert.Equal(t, a[:64*36], b[:64*36], "the bars are static")
	assert.NoError(t, src.Close())
}

func TestEncoderRun(t *testing.T) {
	cases := map[string]struct {
		modify func(*Config)
		coded  int
	}{
		"Share": {
			modify: func(*Config) {},
			coded:  10,
		},
		"CopyOutput": {
			modify: func(c *Config) { c.Encoder.OutputMode = "copy" },
			coded:  10,
		},
		"BFrames": {
			modify: func(c *Config) {
				c.Encoder.Profile = "main"
				c.Encoder.BFrames = 2
			},
			coded: 10,
		},
		"Rotated": {
			modify: func(c *Config) { c.Encoder.Rotation = 90 },
			coded:  10,
		},
	}

	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Source.Width, cfg.Source.Height = 64, 48
			cfg.Source.Frames = 10
			cfg.Log.Level = "error"
			c.modify(cfg)
			require.NoError(t, cfg.Validate())

			sim, err := mfcsim.New(driver.CodecH264, mfcsim.Config{})
			require.NoError(t, err)
			enc, err := newEncoder(cfg, logging.NewDefaultLoggerFactory(), hwvenc.WithEncoder(sim))
			require.NoError(t, err)

			src := newImageSource(video.ToI420(colorBars(cfg.Source.Width, cfg.Source.Height)), nil)
			var out bytes.Buffer
			stats, err := enc.Run(context.Background(), src, &out)
			require.NoError(t, err)
			require.NoError(t, enc.Close())

			assert.Equal(t, int64(10), stats.FramesIn)
			assert.Equal(t, int64(10), stats.FramesOut)
			assert.Positive(t, stats.BytesOut)
			assert.Equal(t, c.coded, sim.Stats().Coded)
			assert.Equal(t, hwvenc.StateLoaded, enc.c.State())

			assert.True(t, bytes.HasPrefix(out.Bytes(), []byte{0x00, 0x00, 0x00, 0x01}))
			assert.Contains(t, out.String(), string([]byte{0x00, 0x00, 0x00, 0x01, 0x67}), "stream starts with an SPS")
			assert.Contains(t, out.String(), string([]byte{0x00, 0x00, 0x00, 0x01, 0x65}), "stream holds an IDR")
		})
	}
}

func TestEncoderCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Width, cfg.Source.Height = 64, 48
	cfg.Source.Frames = 0

	sim, err := mfcsim.New(driver.CodecH264, mfcsim.Config{})
	require.NoError(t, err)
	enc, err := newEncoder(cfg, logging.NewDefaultLoggerFactory(), hwvenc.WithEncoder(sim))
	require.NoError(t, err)
	defer enc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	src := newImageSource(video.ReaderFunc(func() (image.Image, func(), error) {
		n++
		if n == 5 {
			cancel()
		}
		img := image.NewYCbCr(image.Rect(0, 0, 64, 48), image.YCbCrSubsampleRatio420)
		return img, func() {}, nil
	}), nil)

	var out bytes.Buffer
	stats, err := enc.Run(ctx, src, &out)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.FramesIn)
	assert.Equal(t, int64(5), stats.FramesOut)
}
