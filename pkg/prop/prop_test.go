package prop

import (
	"testing"

	"github.com/pion/hwvenc/pkg/frame"
	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	p := Video{Width: 1280, Height: 720, FrameRate: 30, FrameFormat: frame.FormatNV12}
	p.Merge(Video{Width: 640, Height: 480})

	assert.Equal(t, Video{Width: 640, Height: 480, FrameRate: 30, FrameFormat: frame.FormatNV12}, p)
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		v     Video
		valid bool
	}{
		"Valid":          {Video{Width: 1280, Height: 720, FrameRate: 30}, true},
		"ZeroFrameRate":  {Video{Width: 1280, Height: 720}, false},
		"NegativeRate":   {Video{Width: 1280, Height: 720, FrameRate: -1}, false},
		"ZeroWidth":      {Video{Height: 720, FrameRate: 30}, false},
		"ShortStride":    {Video{Width: 1280, Height: 720, Stride: 640, FrameRate: 30}, false},
		"UnknownFormat":  {Video{Width: 16, Height: 16, FrameRate: 30, FrameFormat: "MJPEG"}, false},
		"KnownFormat":    {Video{Width: 16, Height: 16, FrameRate: 30, FrameFormat: frame.FormatYUY2}, true},
	}

	for name, c := range cases {
		err := c.v.Validate()
		if c.valid {
			assert.NoError(t, err, name)
		} else {
			assert.Error(t, err, name)
		}
	}
}
