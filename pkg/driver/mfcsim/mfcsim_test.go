package mfcsim

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, bFrames int) *Encoder {
	t.Helper()

	e, err := New(driver.CodecH264, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { e.Finalize() })

	require.NoError(t, e.SetEncParam(driver.EncParam{
		Codec:        driver.CodecH264,
		SourceWidth:  16,
		SourceHeight: 16,
		BitRate:      64000,
		FrameRate:    30,
		H264:         driver.H264Param{NumberBFrames: bFrames},
	}))
	require.NoError(t, e.Source().Setup(8))
	require.NoError(t, e.Destination().Setup(8))
	for i := 0; i < 8; i++ {
		require.NoError(t, e.Destination().Register(i, []buffer.Plane{{Data: make([]byte, 1024), Size: 1024}}))
	}
	return e
}

func input(index, tag int, eos bool) driver.Request {
	data := bytes.Repeat([]byte{byte(index)}, 384)
	return driver.Request{
		Index:  index,
		Tag:    tag,
		EOS:    eos,
		Planes: []buffer.Plane{{Data: data[:256], Used: 256}, {Data: data[256:], Used: 128}},
	}
}

func dequeue(t *testing.T, q driver.BufferOps) driver.Completion {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return c
}

func TestRegister(t *testing.T) {
	assert.Contains(t, driver.Manager.Query(), Name)

	enc, err := driver.Manager.Open(Name, driver.CodecH264)
	require.NoError(t, err)
	assert.NoError(t, enc.Finalize())

	_, err = driver.Manager.Open(Name, driver.Codec("VP8"))
	assert.Error(t, err)
}

func TestHeaderFirst(t *testing.T) {
	e := newSession(t, 0)
	src, dst := e.Source(), e.Destination()

	for i := 0; i < 2; i++ {
		require.NoError(t, dst.Enqueue(driver.Request{Index: i}))
	}
	require.NoError(t, src.Run())
	require.NoError(t, dst.Run())

	c := dequeue(t, dst)
	assert.Equal(t, driver.FrameTypeHeader, c.FrameType)
	assert.Equal(t, -1, c.Tag)

	header := e.dst.registered[c.Index][0].Data[:c.BytesUsed]
	assert.True(t, bytes.HasPrefix(header, startCode))
	pps := bytes.Index(header[4:], startCode)
	require.True(t, pps > 0)
	assert.Equal(t, byte(nalSPS), header[4])
	assert.Equal(t, byte(nalPPS), header[4+pps+4])

	require.NoError(t, src.Enqueue(input(0, 7, false)))
	c = dequeue(t, dst)
	assert.Equal(t, driver.FrameTypeIDR, c.FrameType)
	assert.Equal(t, 7, c.Tag)
	assert.True(t, c.FrameType.IsSync())

	reclaimed := dequeue(t, src)
	assert.Equal(t, 0, reclaimed.Index)
	assert.Equal(t, 7, reclaimed.Tag)
}

func TestReorder(t *testing.T) {
	e := newSession(t, 2)
	src, dst := e.Source(), e.Destination()

	for i := 0; i < 8; i++ {
		require.NoError(t, dst.Enqueue(driver.Request{Index: i}))
	}
	require.NoError(t, src.Run())
	require.NoError(t, dst.Run())

	for i := 0; i < 5; i++ {
		require.NoError(t, src.Enqueue(input(i, i, i == 4)))
	}

	assert.Equal(t, driver.FrameTypeHeader, dequeue(t, dst).FrameType)

	expected := []struct {
		tag int
		typ driver.FrameType
	}{
		{0, driver.FrameTypeIDR},
		{3, driver.FrameTypeP},
		{1, driver.FrameTypeB},
		{2, driver.FrameTypeB},
		{4, driver.FrameTypeP},
	}
	for i, exp := range expected {
		c := dequeue(t, dst)
		assert.Equal(t, exp.tag, c.Tag)
		assert.Equal(t, exp.typ, c.FrameType)
		assert.Equal(t, i == len(expected)-1, c.Last)
	}
	assert.Equal(t, 5, e.Stats().Coded)
	assert.Equal(t, 1, e.Stats().SourceDrains)
}

func TestEmptyDrain(t *testing.T) {
	e := newSession(t, 1)
	src, dst := e.Source(), e.Destination()

	for i := 0; i < 4; i++ {
		require.NoError(t, dst.Enqueue(driver.Request{Index: i}))
	}
	require.NoError(t, src.Run())
	require.NoError(t, dst.Run())

	require.NoError(t, src.Enqueue(input(0, 0, false)))
	require.NoError(t, src.Enqueue(input(1, 1, false)))
	// Frame 1 waits for its anchor until the empty EOS drains it.
	require.NoError(t, src.Enqueue(driver.Request{Index: 2, Tag: 2, EOS: true, Planes: []buffer.Plane{{Data: make([]byte, 4)}}}))

	assert.Equal(t, driver.FrameTypeHeader, dequeue(t, dst).FrameType)
	assert.Equal(t, 0, dequeue(t, dst).Tag)
	last := dequeue(t, dst)
	assert.Equal(t, 1, last.Tag)
	assert.Equal(t, driver.FrameTypeP, last.FrameType)
	assert.True(t, last.Last)

	// Draining again with nothing pending yields an empty final buffer.
	require.NoError(t, src.Enqueue(driver.Request{Index: 3, Tag: 9, EOS: true, Planes: []buffer.Plane{{Data: make([]byte, 4)}}}))
	empty := dequeue(t, dst)
	assert.True(t, empty.Last)
	assert.Equal(t, 0, empty.BytesUsed)
	assert.Equal(t, 9, empty.Tag)

	var reclaimed []int
	for i := 0; i < 4; i++ {
		reclaimed = append(reclaimed, dequeue(t, src).Index)
	}
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, reclaimed)
}

func TestParamLatch(t *testing.T) {
	e := newSession(t, 0)
	src, dst := e.Source(), e.Destination()
	require.NoError(t, src.Run())
	require.NoError(t, dst.Run())

	// No destination buffer yet: both frames are coded later, each with
	// the bitrate active when it was queued.
	require.NoError(t, src.Enqueue(input(0, 0, false)))
	require.NoError(t, e.SetBitRate(128000))
	require.NoError(t, src.Enqueue(input(1, 1, false)))

	for i := 0; i < 3; i++ {
		require.NoError(t, dst.Enqueue(driver.Request{Index: i}))
	}

	frames := e.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, 64000, frames[0].BitRate)
	assert.Equal(t, 128000, frames[1].BitRate)
	assert.Greater(t, frames[1].Size, 0)
}

func TestStop(t *testing.T) {
	e := newSession(t, 0)
	src, dst := e.Source(), e.Destination()
	require.NoError(t, src.Run())
	require.NoError(t, dst.Run())

	errc := make(chan error)
	go func() {
		_, err := dst.Dequeue(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, dst.Stop())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, driver.ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("Dequeue was not released by Stop")
	}

	_, err := dst.Dequeue(context.Background())
	assert.ErrorIs(t, err, driver.ErrStopped)
	require.NoError(t, dst.Run())
}

func TestClear(t *testing.T) {
	e := newSession(t, 0)
	src, dst := e.Source(), e.Destination()

	require.NoError(t, src.Enqueue(input(2, 0, false)))
	require.NoError(t, src.Enqueue(input(5, 1, false)))
	require.NoError(t, dst.Enqueue(driver.Request{Index: 3}))
	assert.Error(t, src.Enqueue(input(2, 2, false)))
	assert.ErrorIs(t, src.Enqueue(input(8, 2, false)), driver.ErrInvalidIndex)

	assert.Equal(t, 2, src.Count())
	assert.Equal(t, []int{2, 5}, src.Clear())
	assert.Equal(t, []int{3}, dst.Clear())
	assert.Equal(t, 0, src.Count())
}

func TestIOError(t *testing.T) {
	e := newSession(t, 0)
	src, dst := e.Source(), e.Destination()
	require.NoError(t, dst.Enqueue(driver.Request{Index: 0}))
	require.NoError(t, src.Run())
	require.NoError(t, dst.Run())

	e.InjectIOError(true, 1)
	_, err := dst.Dequeue(context.Background())
	assert.ErrorIs(t, err, driver.ErrIO)

	assert.Equal(t, driver.FrameTypeHeader, dequeue(t, dst).FrameType)
}

func TestInvalidParam(t *testing.T) {
	e, err := New(driver.CodecH264, Config{})
	require.NoError(t, err)
	defer e.Finalize()

	cases := map[string]driver.EncParam{
		"ZeroSize":   {SourceWidth: 0, SourceHeight: 16},
		"TooLarge":   {SourceWidth: 8192, SourceHeight: 16},
		"TooManyB":   {SourceWidth: 16, SourceHeight: 16, H264: driver.H264Param{NumberBFrames: 9}},
		"InvertedQP": {SourceWidth: 16, SourceHeight: 16, QP: driver.QPRange{IMin: 40, IMax: 10}},
	}
	for name, p := range cases {
		p := p
		t.Run(name, func(t *testing.T) {
			assert.Error(t, e.SetEncParam(p))
		})
	}

	assert.Error(t, e.Source().Enqueue(input(0, 0, false)))
	assert.Error(t, e.SetTemporalLayers(driver.TemporalLayers{Count: 2, LayerBitrates: []int{50}}))
	assert.Error(t, e.SetQPRange(driver.QPRange{PMin: 30, PMax: 20}))
}
