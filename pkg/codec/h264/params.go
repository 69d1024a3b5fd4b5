package h264

import (
	"fmt"

	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/driver"
	"github.com/pion/hwvenc/pkg/frame"
	"github.com/pion/hwvenc/pkg/omx"
)

// Profile is an H.264 profile.
type Profile int

// Profiles supported by the hardware.
const (
	ProfileBaseline Profile = iota
	ProfileMain
	ProfileHigh
	ProfileConstrainedBaseline
	ProfileConstrainedHigh
)

// IDC returns profile_idc.
func (p Profile) IDC() int {
	switch p {
	case ProfileMain:
		return 77
	case ProfileHigh, ProfileConstrainedHigh:
		return 100
	}
	return 66
}

func (p Profile) baseline() bool {
	return p == ProfileBaseline || p == ProfileConstrainedBaseline
}

func (p Profile) String() string {
	switch p {
	case ProfileBaseline:
		return "Baseline"
	case ProfileMain:
		return "Main"
	case ProfileHigh:
		return "High"
	case ProfileConstrainedBaseline:
		return "ConstrainedBaseline"
	case ProfileConstrainedHigh:
		return "ConstrainedHigh"
	}
	return fmt.Sprintf("Profile(%d)", int(p))
}

// Level is an H.264 level, as level_idc (31 means 3.1).
type Level int

// Levels.
const (
	Level1  Level = 10
	Level1b Level = 9
	Level11 Level = 11
	Level12 Level = 12
	Level13 Level = 13
	Level2  Level = 20
	Level21 Level = 21
	Level22 Level = 22
	Level3  Level = 30
	Level31 Level = 31
	Level32 Level = 32
	Level4  Level = 40
	Level41 Level = 41
	Level42 Level = 42
	Level5  Level = 50
	Level51 Level = 51
)

// LoopFilter selects the deblocking filter mode.
type LoopFilter int

// Loop filter modes.
const (
	LoopFilterEnable LoopFilter = iota
	LoopFilterDisable
	LoopFilterDisableSliceBoundary
)

// Params stores H.264 specific encoding parameters.
type Params struct {
	Profile Profile
	Level   Level
	// PFrames is the number of P frames between I frames. The IDR period is
	// PFrames+BFrames+1.
	PFrames int
	// BFrames is the number of consecutive B frames. Baseline profiles
	// don't allow any.
	BFrames   int
	RefFrames int
	// EntropyCABAC selects CABAC, ignored by baseline profiles.
	EntropyCABAC bool
	Transform8x8 bool
	LoopFilter   LoopFilter
	SliceMode    driver.SliceMode
	// SliceArgument is macroblocks or bytes per slice, per SliceMode.
	SliceArgument int
}

// Quantization holds the frame QPs used by constant QP rate control.
type Quantization struct {
	I, P, B int
}

// Config is everything the adapter translates into the hardware parameter
// block.
type Config struct {
	// Width and Height are the size of the client frames.
	Width, Height int
	// InputFormat is the pixel format of the client frames.
	InputFormat frame.Format
	// Rotation is applied clockwise before encoding: 0, 90, 180 or 270.
	Rotation int

	FrameRate    float32
	BitRate      int
	RateControl  driver.RateControl
	Quantization Quantization
	QPRange      driver.QPRange
	// IntraPeriod overrides the IDR period derived from Params when
	// positive.
	IntraPeriod int
	// IntraRefreshMBs is the number of macroblocks refreshed per frame by
	// cyclic intra refresh.
	IntraRefreshMBs int
	TemporalLayers  driver.TemporalLayers
	FrameSkip       bool

	H264 Params

	InputMode, OutputMode   buffer.Mode
	InputCount, OutputCount int
	// OutputSize is the size of one bitstream buffer in copy mode.
	OutputSize int
}

// DefaultConfig returns the configuration of a freshly loaded component.
func DefaultConfig() Config {
	return Config{
		Width:       176,
		Height:      144,
		InputFormat: frame.FormatNV12,
		FrameRate:   30,
		BitRate:     64000,
		RateControl: driver.RateControlCBR,
		Quantization: Quantization{
			I: 20, P: 20, B: 20,
		},
		QPRange: driver.QPRange{
			IMin: 10, IMax: 51,
			PMin: 10, PMax: 51,
			BMin: 10, BMax: 51,
		},
		H264: Params{
			Profile:      ProfileBaseline,
			Level:        Level4,
			PFrames:      29,
			RefFrames:    1,
			EntropyCABAC: false,
		},
		InputMode:   buffer.ModeCopy,
		OutputMode:  buffer.ModeShare,
		InputCount:  DefaultInputCount,
		OutputCount: DefaultOutputCount,
	}
}

// Validate checks c for values the hardware can't take.
func (c *Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return omx.Errorf(omx.ErrBadParameter, "invalid size %dx%d", c.Width, c.Height)
	case !(c.FrameRate > 0):
		return omx.Errorf(omx.ErrBadParameter, "invalid frame rate %f", c.FrameRate)
	case c.BitRate < 0:
		return omx.Errorf(omx.ErrBadParameter, "invalid bitrate %d", c.BitRate)
	case c.H264.PFrames < 0 || c.H264.BFrames < 0:
		return omx.Errorf(omx.ErrBadParameter, "invalid GOP %d P / %d B", c.H264.PFrames, c.H264.BFrames)
	}
	switch c.Rotation {
	case 0, 90, 180, 270:
	default:
		return omx.Errorf(omx.ErrBadParameter, "invalid rotation %d", c.Rotation)
	}
	if !frame.Supported(c.InputFormat) {
		return omx.Errorf(omx.ErrUnsupportedSetting, "unsupported color format %s", c.InputFormat)
	}
	return CheckQPRange(c.QPRange)
}

// CheckQPRange rejects ranges with a minimum above the maximum.
func CheckQPRange(r driver.QPRange) error {
	if r.IMin > r.IMax || r.PMin > r.PMax || r.BMin > r.BMax {
		return omx.Errorf(omx.ErrBadParameter, "inverted QP range %+v", r)
	}
	return nil
}

// EncodedSize returns the size of the encoded pictures, after rotation.
func (c *Config) EncodedSize() (int, int) {
	if c.Rotation == 90 || c.Rotation == 270 {
		return c.Height, c.Width
	}
	return c.Width, c.Height
}
