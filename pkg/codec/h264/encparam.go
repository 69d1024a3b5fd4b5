package h264

import (
	"github.com/pion/hwvenc/pkg/driver"
	"github.com/pion/hwvenc/pkg/frame"
)

const cbrPeriodRf = 100

// EncParam translates c into the hardware parameter block. hwFormat is the
// pixel format the hardware consumes.
func EncParam(c Config, hwFormat frame.Format) driver.EncParam {
	width, height := c.EncodedSize()
	h := c.H264

	bFrames := h.BFrames
	if h.Profile.baseline() && bFrames > 0 {
		logger.Warnf("%s profile has no B frames, ignoring %d", h.Profile, bFrames)
		bFrames = 0
	}

	idrPeriod := h.PFrames + bFrames + 1
	if c.IntraPeriod > 0 {
		idrPeriod = c.IntraPeriod
	}

	refFrames := h.RefFrames
	if refFrames < 1 {
		refFrames = 1
	}
	refForP := 1
	if bFrames > 0 {
		if refFrames < 2 {
			refFrames = 2
		}
		refForP = 2
	}

	level := h.Level
	if level == 0 {
		level = Level4
	}

	p := driver.EncParam{
		Codec:        driver.CodecH264,
		SourceWidth:  width,
		SourceHeight: height,
		FrameFormat:  hwFormat,

		IDRPeriod:            idrPeriod,
		SliceMode:            h.SliceMode,
		SliceArgument:        h.SliceArgument,
		RandomIntraMBRefresh: c.IntraRefreshMBs,

		RateControl: c.RateControl,
		BitRate:     c.BitRate,
		FrameRate:   c.FrameRate,
		FrameQP:     c.Quantization.I,
		FrameQPP:    c.Quantization.P,
		QP:          c.QPRange,
		FrameSkip:   c.FrameSkip,

		H264: driver.H264Param{
			ProfileIDC:            h.Profile.IDC(),
			LevelIDC:              int(level),
			FrameQPB:              c.Quantization.B,
			NumberBFrames:         bFrames,
			NumberReferenceFrames: refFrames,
			NumberRefForPFrames:   refForP,
			EntropyCABAC:          h.EntropyCABAC && !h.Profile.baseline(),
			Transform8x8:          h.Transform8x8 && h.Profile.IDC() == ProfileHigh.IDC(),
			LoopFilterDisable:     h.LoopFilter == LoopFilterDisable,
			VUIEnable:             true,
			TemporalLayers:        c.TemporalLayers,
		},
	}
	if h.LoopFilter == LoopFilterDisableSliceBoundary {
		p.H264.LoopFilterAlphaC0 = -1
		p.H264.LoopFilterBeta = -1
	}
	if c.RateControl != driver.RateControlCQP {
		p.CBRPeriodRf = cbrPeriodRf
	}
	if len(c.TemporalLayers.LayerBitrates) > 0 {
		p.H264.HierarchicalQPEnable = true
	}
	return p
}
