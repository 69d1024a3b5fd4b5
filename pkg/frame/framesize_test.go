package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaneSizes(t *testing.T) {
	cases := map[Format][]int{
		FormatI420: {1280 * 720, 1280 * 720 / 4, 1280 * 720 / 4},
		FormatNV12: {1280 * 720, 1280 * 720 / 2},
		FormatYUY2: {2 * 1280 * 720},
		FormatRGBA: {4 * 1280 * 720},
	}

	for f, expected := range cases {
		sizes, err := PlaneSizes(f, 1280, 720)
		require.NoError(t, err)
		assert.Equal(t, expected, sizes, "format %s", f)

		total := 0
		for _, s := range sizes {
			total += s
		}
		size, err := Size(f, 1280, 720)
		require.NoError(t, err)
		assert.Equal(t, size, total, "format %s", f)
	}

	_, err := PlaneSizes(Format("MJPEG"), 16, 16)
	assert.Error(t, err)
	assert.False(t, Supported(Format("MJPEG")))
}
