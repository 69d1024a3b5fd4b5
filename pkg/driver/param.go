package driver

import "github.com/pion/hwvenc/pkg/frame"

// RateControl selects the bitrate control algorithm.
type RateControl int

// Rate control modes.
const (
	RateControlCQP RateControl = iota
	RateControlVBR
	RateControlCBR
)

func (r RateControl) String() string {
	switch r {
	case RateControlCQP:
		return "CQP"
	case RateControlVBR:
		return "VBR"
	case RateControlCBR:
		return "CBR"
	}
	return "unknown"
}

// SliceMode selects how a frame is cut into slices.
type SliceMode int

// Slice modes.
const (
	SliceModeSingle SliceMode = iota
	SliceModeMBCount
	SliceModeBytes
)

// QPRange bounds the quantizer per frame type.
type QPRange struct {
	IMin, IMax int
	PMin, PMax int
	BMin, BMax int
}

// TemporalLayers configures temporal scalability. LayerBitrates holds the
// cumulative share of each layer in percent.
type TemporalLayers struct {
	Count         int
	LayerBitrates []int
}

// ROI is a per-macroblock QP offset map.
type ROI struct {
	Enable bool
	// UpperQP bounds the QP of every region.
	UpperQP int
	Map     []int8
}

// H264Param is the H.264 specific part of EncParam.
type H264Param struct {
	ProfileIDC            int
	LevelIDC              int
	FrameQPB              int
	NumberBFrames         int
	NumberReferenceFrames int
	NumberRefForPFrames   int
	// EntropyCABAC selects CABAC over CAVLC.
	EntropyCABAC         bool
	Transform8x8         bool
	LoopFilterDisable    bool
	LoopFilterAlphaC0    int
	LoopFilterBeta       int
	HeaderWithIFrame     bool
	SARWidth             int
	SARHeight            int
	VUIEnable            bool
	HierarchicalQPEnable bool
	TemporalLayers       TemporalLayers
}

// EncParam is the full parameter block of an encoder session.
type EncParam struct {
	Codec        Codec
	SourceWidth  int
	SourceHeight int
	FrameFormat  frame.Format

	IDRPeriod     int
	SliceMode     SliceMode
	SliceArgument int
	// RandomIntraMBRefresh is the number of macroblocks refreshed per frame
	// by cyclic intra refresh, 0 disables it.
	RandomIntraMBRefresh int

	RateControl RateControl
	BitRate     int
	// FrameRate is in frames per second.
	FrameRate   float32
	FrameQP     int
	FrameQPP    int
	QP          QPRange
	CBRPeriodRf int
	FrameSkip   bool

	H264 H264Param
}
