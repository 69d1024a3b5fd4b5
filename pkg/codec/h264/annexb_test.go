package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNALUnits(t *testing.T) {
	cases := map[string]struct {
		stream   []byte
		expected [][]byte
	}{
		"FourByteStartCodes": {
			stream:   []byte{0, 0, 0, 1, 0x67, 1, 2, 0, 0, 0, 1, 0x68, 3},
			expected: [][]byte{{0x67, 1, 2}, {0x68, 3}},
		},
		"MixedStartCodes": {
			stream:   []byte{0, 0, 1, 0x65, 9, 0, 0, 0, 1, 0x41},
			expected: [][]byte{{0x65, 9}, {0x41}},
		},
		"NoStartCode": {
			stream:   []byte{0x65, 1, 2},
			expected: nil,
		},
	}

	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, c.expected, NALUnits(c.stream))
		})
	}
	assert.Equal(t, byte(7), NALType([]byte{0x67}))
	assert.Equal(t, byte(0), NALType(nil))
}

func TestSplitHeader(t *testing.T) {
	header := []byte{0, 0, 0, 1, 0x67, 0x42, 0x00, 0x28, 0, 0, 0, 1, 0x68, 0xce, 0x3c, 0x80}

	sps, pps, err := SplitHeader(header)
	require.NoError(t, err)
	assert.Equal(t, header[:8], sps)
	assert.Equal(t, header[8:], pps)
	assert.Equal(t, byte(7), NALType(sps[4:]))
	assert.Equal(t, byte(8), NALType(pps[4:]))

	_, _, err = SplitHeader(header[4:])
	assert.Error(t, err)
	_, _, err = SplitHeader(header[:8])
	assert.Error(t, err)
	_, _, err = SplitHeader(header[:12])
	assert.Error(t, err)
}
