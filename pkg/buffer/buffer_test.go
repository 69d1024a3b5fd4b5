package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagString(t *testing.T) {
	assert.Equal(t, "0", Flag(0).String())
	assert.Equal(t, "EOS|ENDOFFRAME", (FlagEOS | FlagEndOfFrame).String())
	assert.Equal(t, "CODECCONFIG|0x100", (FlagCodecConfig | 0x100).String())
}

func TestDescriptor(t *testing.T) {
	h := &Header{Data: make([]byte, 32), FD: 3, AllocLen: 32, FilledLen: 24, Timestamp: 1000, Flags: FlagEOS}
	d := FromHeader(h)
	assert.Equal(t, KindFrame, d.Kind)
	assert.False(t, d.IsMarker())
	assert.Equal(t, 24, d.DataLen)
	assert.Equal(t, int64(1000), d.Timestamp)
	assert.Equal(t, 3, d.Planes[0].FD)
	assert.Nil(t, d.Slot)

	s := &Slot{Index: 2, NumPlanes: 2}
	s.Planes[0] = Plane{Data: make([]byte, 16), Size: 16, Used: 16}
	s.Planes[1] = Plane{Data: make([]byte, 8), Size: 8}
	d = FromSlot(s)
	assert.Equal(t, 24, d.AllocSize)
	assert.Equal(t, 0, d.Planes[0].Used)
	assert.Len(t, d.PlaneData(), 2)
	assert.Nil(t, d.Header)

	m := EOSMarker(42, 0)
	assert.True(t, m.IsMarker())
	assert.Equal(t, FlagEOS, m.Flags)

	d.Reset()
	assert.Nil(t, d.Slot)
	assert.Equal(t, 0, d.NumPlanes)
}
