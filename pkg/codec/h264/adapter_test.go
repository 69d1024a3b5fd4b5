package h264

import (
	"context"
	"testing"
	"time"

	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/driver"
	"github.com/pion/hwvenc/pkg/driver/mfcsim"
	"github.com/pion/hwvenc/pkg/frame"
	"github.com/pion/hwvenc/pkg/omx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(bFrames int) Config {
	cfg := DefaultConfig()
	cfg.Width, cfg.Height = 32, 16
	cfg.H264.Profile = ProfileMain
	cfg.H264.BFrames = bFrames
	cfg.InputMode = buffer.ModeCopy
	cfg.OutputMode = buffer.ModeCopy
	cfg.InputCount = 4
	cfg.OutputCount = 8
	cfg.OutputSize = 4096
	return cfg
}

func newAdapter(t *testing.T, cfg Config) (*Adapter, *mfcsim.Encoder) {
	t.Helper()
	enc, err := mfcsim.New(driver.CodecH264, mfcsim.Config{})
	require.NoError(t, err)
	a, err := NewAdapter(enc, nil, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, enc
}

// frameIn fills input slot i with a frame presented at ts.
func frameIn(t *testing.T, a *Adapter, i int, ts int64, flags buffer.Flag) *buffer.Descriptor {
	t.Helper()
	s := a.Pool(omx.InputPortIndex).Slot(i)
	require.NotNil(t, s)
	d := buffer.FromSlot(s)
	for p := 0; p < d.NumPlanes; p++ {
		d.Planes[p].Used = d.Planes[p].Size
		d.DataLen += d.Planes[p].Size
	}
	d.Timestamp = ts
	d.Flags = flags
	return &d
}

func dstOut(t *testing.T, a *Adapter) buffer.Descriptor {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := a.DstOut(ctx)
	require.NoError(t, err)
	return d
}

func firstFrame(t *testing.T, a *Adapter, ts int64, flags buffer.Flag) {
	t.Helper()
	require.NoError(t, a.SrcSetup(buffer.Descriptor{}))
	require.NoError(t, a.DstSetup())
	res, err := a.SrcIn(frameIn(t, a, 0, ts, flags))
	require.NoError(t, err)
	assert.Equal(t, SrcInQueued, res)
}

func TestEncParam(t *testing.T) {
	cases := map[string]struct {
		modify func(*Config)
		check  func(*testing.T, driver.EncParam)
	}{
		"Defaults": {
			modify: func(*Config) {},
			check: func(t *testing.T, p driver.EncParam) {
				assert.Equal(t, 176, p.SourceWidth)
				assert.Equal(t, 144, p.SourceHeight)
				assert.Equal(t, 30, p.IDRPeriod)
				assert.Equal(t, 66, p.H264.ProfileIDC)
				assert.Equal(t, 40, p.H264.LevelIDC)
				assert.Equal(t, cbrPeriodRf, p.CBRPeriodRf)
				assert.Equal(t, 1, p.H264.NumberReferenceFrames)
			},
		},
		"Rotation": {
			modify: func(c *Config) { c.Rotation = 90 },
			check: func(t *testing.T, p driver.EncParam) {
				assert.Equal(t, 144, p.SourceWidth)
				assert.Equal(t, 176, p.SourceHeight)
			},
		},
		"BaselineDropsBFramesAndCABAC": {
			modify: func(c *Config) {
				c.H264.BFrames = 2
				c.H264.EntropyCABAC = true
			},
			check: func(t *testing.T, p driver.EncParam) {
				assert.Equal(t, 0, p.H264.NumberBFrames)
				assert.False(t, p.H264.EntropyCABAC)
			},
		},
		"HighWithBFrames": {
			modify: func(c *Config) {
				c.H264.Profile = ProfileHigh
				c.H264.BFrames = 2
				c.H264.PFrames = 9
				c.H264.Transform8x8 = true
				c.H264.EntropyCABAC = true
			},
			check: func(t *testing.T, p driver.EncParam) {
				assert.Equal(t, 100, p.H264.ProfileIDC)
				assert.Equal(t, 2, p.H264.NumberBFrames)
				assert.Equal(t, 12, p.IDRPeriod)
				assert.Equal(t, 2, p.H264.NumberReferenceFrames)
				assert.Equal(t, 2, p.H264.NumberRefForPFrames)
				assert.True(t, p.H264.Transform8x8)
				assert.True(t, p.H264.EntropyCABAC)
			},
		},
		"IntraPeriodOverride": {
			modify: func(c *Config) { c.IntraPeriod = 5 },
			check: func(t *testing.T, p driver.EncParam) {
				assert.Equal(t, 5, p.IDRPeriod)
			},
		},
		"ConstantQP": {
			modify: func(c *Config) {
				c.RateControl = driver.RateControlCQP
				c.Quantization = Quantization{I: 22, P: 24, B: 26}
			},
			check: func(t *testing.T, p driver.EncParam) {
				assert.Equal(t, 0, p.CBRPeriodRf)
				assert.Equal(t, 22, p.FrameQP)
				assert.Equal(t, 24, p.FrameQPP)
				assert.Equal(t, 26, p.H264.FrameQPB)
			},
		},
		"LoopFilter": {
			modify: func(c *Config) { c.H264.LoopFilter = LoopFilterDisable },
			check: func(t *testing.T, p driver.EncParam) {
				assert.True(t, p.H264.LoopFilterDisable)
			},
		},
	}

	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			c.modify(&cfg)
			c.check(t, EncParam(cfg, frame.FormatNV12))
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"ZeroWidth":      func(c *Config) { c.Width = 0 },
		"ZeroFrameRate":  func(c *Config) { c.FrameRate = 0 },
		"Rotation":       func(c *Config) { c.Rotation = 45 },
		"InvertedQP":     func(c *Config) { c.QPRange.IMin, c.QPRange.IMax = 40, 20 },
		"UnknownFormat":  func(c *Config) { c.InputFormat = frame.Format("MJPG") },
		"NegativePFrame": func(c *Config) { c.H264.PFrames = -1 },
	}
	for name, modify := range cases {
		modify := modify
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestAdapterTimestamps(t *testing.T) {
	a, _ := newAdapter(t, testConfig(0))

	firstFrame(t, a, 1000, 0)
	assert.True(t, a.Running(omx.InputPortIndex))
	assert.True(t, a.Running(omx.OutputPortIndex))

	header := dstOut(t, a)
	assert.Equal(t, buffer.FlagCodecConfig|buffer.FlagEndOfFrame, header.Flags)
	assert.Equal(t, int64(0), header.Timestamp)
	sps, pps := a.Headers()
	require.NotEmpty(t, sps)
	require.NotEmpty(t, pps)
	assert.Equal(t, byte(7), NALType(sps[4:]))
	assert.Equal(t, byte(8), NALType(pps[4:]))

	d := dstOut(t, a)
	assert.Equal(t, int64(1000), d.Timestamp)
	assert.Equal(t, buffer.FlagSyncFrame|buffer.FlagEndOfFrame, d.Flags)
	assert.Greater(t, d.DataLen, 0)
	require.NotNil(t, d.Slot)

	reclaimed, err := a.SrcOut(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed.Slot.Index)

	_, err = a.SrcIn(frameIn(t, a, 1, 2000, buffer.FlagEOS))
	require.NoError(t, err)
	d = dstOut(t, a)
	assert.Equal(t, int64(2000), d.Timestamp)
	assert.Equal(t, buffer.FlagEOS|buffer.FlagEndOfFrame, d.Flags)
}

func TestAdapterReorderEOS(t *testing.T) {
	a, _ := newAdapter(t, testConfig(2))

	firstFrame(t, a, 0, 0)
	_, err := a.SrcIn(frameIn(t, a, 1, 33, 0))
	require.NoError(t, err)
	_, err = a.SrcIn(frameIn(t, a, 2, 66, buffer.FlagEOS))
	require.NoError(t, err)

	assert.NotZero(t, dstOut(t, a).Flags&buffer.FlagCodecConfig)

	var got []buffer.Descriptor
	for i := 0; i < 3; i++ {
		got = append(got, dstOut(t, a))
	}
	// Coded order: 0 (IDR), 66 (P anchor), 33 (B). End-of-stream goes to the
	// last coded frame.
	assert.Equal(t, int64(0), got[0].Timestamp)
	assert.Equal(t, int64(66), got[1].Timestamp)
	assert.Equal(t, int64(33), got[2].Timestamp)
	assert.Zero(t, got[0].Flags&buffer.FlagEOS)
	assert.Zero(t, got[1].Flags&buffer.FlagEOS)
	assert.NotZero(t, got[2].Flags&buffer.FlagEOS)
}

func TestAdapterBypass(t *testing.T) {
	a, enc := newAdapter(t, testConfig(0))

	eos := &buffer.Descriptor{Kind: buffer.KindFrame, Header: &buffer.Header{}, Timestamp: 500, Flags: buffer.FlagEOS}
	res, err := a.SrcIn(eos)
	require.NoError(t, err)
	assert.Equal(t, SrcInBypassed, res)
	assert.False(t, a.Configured(omx.InputPortIndex))
	assert.Equal(t, 0, enc.Stats().SourceEnqueued)

	res, err = a.SrcIn(&buffer.Descriptor{Kind: buffer.KindFrame, Header: &buffer.Header{}})
	require.NoError(t, err)
	assert.Equal(t, SrcInSkipped, res)

	_, err = a.SrcIn(&buffer.Descriptor{Kind: buffer.KindEOSMarker})
	assert.ErrorIs(t, err, omx.ErrBadParameter)
}

func TestAdapterDrainEmpty(t *testing.T) {
	a, _ := newAdapter(t, testConfig(0))

	firstFrame(t, a, 100, 0)
	dstOut(t, a)
	assert.Equal(t, int64(100), dstOut(t, a).Timestamp)

	// Hardware runs with nothing in flight: the empty EOS drains it and the
	// final buffer comes back empty with the EOS timestamp.
	d := buffer.FromSlot(a.Pool(omx.InputPortIndex).Slot(1))
	d.Timestamp = 200
	d.Flags = buffer.FlagEOS
	res, err := a.SrcIn(&d)
	require.NoError(t, err)
	assert.Equal(t, SrcInQueued, res)

	out := dstOut(t, a)
	assert.Equal(t, 0, out.DataLen)
	assert.Equal(t, int64(200), out.Timestamp)
	assert.Equal(t, buffer.FlagEOS|buffer.FlagEndOfFrame, out.Flags)
}

func TestAdapterShareMode(t *testing.T) {
	cfg := testConfig(0)
	cfg.InputMode = buffer.ModeShare
	cfg.OutputMode = buffer.ModeShare
	cfg.InputCount = 2
	cfg.OutputCount = 2
	a, _ := newAdapter(t, cfg)

	sizes, err := a.InputPlaneSizes()
	require.NoError(t, err)
	assert.Equal(t, []int{32 * 16, 32 * 16 / 2}, sizes)

	in := &buffer.Header{ID: 1, Data: make([]byte, 768), AllocLen: 768, FilledLen: 768, Timestamp: 42}
	res, err := a.SrcIn(func() *buffer.Descriptor { d := buffer.FromHeader(in); return &d }())
	require.NoError(t, err)
	assert.Equal(t, SrcInQueued, res)
	assert.Nil(t, a.Pool(omx.InputPortIndex))

	for i := 0; i < 2; i++ {
		h := &buffer.Header{ID: i, Data: make([]byte, 1024), AllocLen: 1024}
		d := buffer.FromHeader(h)
		require.NoError(t, a.DstIn(&d))
	}

	header := dstOut(t, a)
	require.NotNil(t, header.Header)
	assert.Equal(t, header.DataLen, header.Planes[0].Used)

	out := dstOut(t, a)
	assert.Equal(t, int64(42), out.Timestamp)

	reclaimed, err := a.SrcOut(context.Background())
	require.NoError(t, err)
	assert.Same(t, in, reclaimed.Header)
}

func TestAdapterStop(t *testing.T) {
	a, _ := newAdapter(t, testConfig(0))
	firstFrame(t, a, 0, 0)

	errc := make(chan error, 1)
	go func() {
		_, err := a.SrcOut(context.Background())
		for err == nil {
			_, err = a.SrcOut(context.Background())
		}
		errc <- err
	}()

	require.NoError(t, a.Stop(omx.AllPorts))
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, driver.ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("SrcOut wasn't released")
	}
	assert.False(t, a.Running(omx.InputPortIndex))

	// Every output slot was primed. The two filled ones were never
	// dequeued, so the hardware still owns all of them.
	held := a.Clear(omx.OutputPortIndex)
	assert.Len(t, held, 8)
	assert.Error(t, a.Stop(7))
}

func TestAdapterReleaseInput(t *testing.T) {
	a, _ := newAdapter(t, testConfig(0))
	firstFrame(t, a, 0, 0)

	held, err := a.ReleaseInput()
	require.NoError(t, err)
	assert.Empty(t, held)
	assert.False(t, a.Configured(omx.InputPortIndex))
	assert.Nil(t, a.Pool(omx.InputPortIndex))

	cfg := a.Config()
	cfg.Width, cfg.Height = 64, 32
	require.NoError(t, a.SetConfig(cfg))
	require.NoError(t, a.SrcSetup(buffer.Descriptor{}))
	assert.Equal(t, 64, a.Param().SourceWidth)
	assert.Equal(t, 64*32, a.Pool(omx.InputPortIndex).Slot(0).Planes[0].Size)
}

func TestChangeParam(t *testing.T) {
	a, enc := newAdapter(t, testConfig(0))
	firstFrame(t, a, 0, 0)

	require.NoError(t, a.ChangeParam(Change{Kind: ChangeBitRate, BitRate: 2000000}))
	assert.Equal(t, 2000000, enc.Param().BitRate)
	assert.Equal(t, 2000000, a.Param().BitRate)

	require.NoError(t, a.ChangeParam(Change{Kind: ChangeFrameRate, FrameRate: 60}))
	assert.Equal(t, float32(60), a.Param().FrameRate)

	require.NoError(t, a.ChangeParam(Change{Kind: ChangeOperatingRate, OperatingRate: 120}))
	assert.Equal(t, 200, enc.QoSRatio())

	require.NoError(t, a.ChangeParam(Change{Kind: ChangeIntraPeriod, IntraPeriod: 10}))
	assert.Equal(t, 10, a.Param().IDRPeriod)

	layers := driver.TemporalLayers{Count: 2, LayerBitrates: []int{60, 100}}
	require.NoError(t, a.ChangeParam(Change{Kind: ChangeTemporalLayers, TemporalLayers: layers}))
	assert.True(t, a.Param().H264.HierarchicalQPEnable)

	require.NoError(t, a.ChangeParam(Change{Kind: ChangeROI, ROI: driver.ROI{Enable: true, UpperQP: 30}}))
	assert.True(t, enc.ROI().Enable)
	require.NoError(t, a.ChangeParam(Change{Kind: ChangeIntraRefresh}))

	cases := map[string]Change{
		"InvertedQP":  {Kind: ChangeQPRange, QPRange: driver.QPRange{PMin: 40, PMax: 30}},
		"ZeroBitrate": {Kind: ChangeBitRate},
		"BadLayers":   {Kind: ChangeTemporalLayers, TemporalLayers: driver.TemporalLayers{Count: 2, LayerBitrates: []int{80, 50}}},
		"Unknown":     {Kind: ChangeKind(99)},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			assert.Error(t, a.ChangeParam(c))
		})
	}
	assert.Equal(t, 2000000, a.Param().BitRate)
}
