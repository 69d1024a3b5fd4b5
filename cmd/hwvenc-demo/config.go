package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/codec/h264"
	"github.com/pion/hwvenc/pkg/driver"
	"github.com/pion/logging"
)

// Config is the demo configuration file.
type Config struct {
	Source  SourceConfig  `toml:"source"`
	Encoder EncoderConfig `toml:"encoder"`
	Output  OutputConfig  `toml:"output"`
	Log     LogConfig     `toml:"log"`
}

// SourceConfig selects where raw frames come from.
type SourceConfig struct {
	// Kind is "pattern", "webcam" or "screen".
	Kind      string  `toml:"kind"`
	Device    string  `toml:"device"`
	Display   int     `toml:"display"`
	Width     int     `toml:"width"`
	Height    int     `toml:"height"`
	FrameRate float32 `toml:"frame_rate"`
	// Frames stops the stream after that many frames, 0 runs until
	// interrupted.
	Frames int `toml:"frames"`
}

// EncoderConfig holds the encoding parameters.
type EncoderConfig struct {
	Driver        string `toml:"driver"`
	BitRate       int    `toml:"bitrate"`
	RateControl   string `toml:"rate_control"`
	Profile       string `toml:"profile"`
	BFrames       int    `toml:"b_frames"`
	IntraPeriod   int    `toml:"intra_period"`
	Rotation      int    `toml:"rotation"`
	InputBuffers  int    `toml:"input_buffers"`
	OutputBuffers int    `toml:"output_buffers"`
	// OutputMode is "share" or "copy".
	OutputMode string `toml:"output_mode"`
}

// OutputConfig describes the RTP packetization and the file the stream is
// written to.
type OutputConfig struct {
	Path        string `toml:"path"`
	MTU         int    `toml:"mtu"`
	PayloadType int    `toml:"payload_type"`
}

// LogConfig holds the log level of every scope.
type LogConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig returns the configuration used for missing keys.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Kind:      "pattern",
			Device:    "/dev/video0",
			Width:     640,
			Height:    480,
			FrameRate: 30,
			Frames:    300,
		},
		Encoder: EncoderConfig{
			Driver:        "mfcsim",
			BitRate:       1000000,
			RateControl:   "cbr",
			Profile:       "baseline",
			IntraPeriod:   60,
			InputBuffers:  h264.DefaultInputCount,
			OutputBuffers: h264.DefaultOutputCount,
			OutputMode:    "share",
		},
		Output: OutputConfig{
			Path:        "output.h264",
			MTU:         1200,
			PayloadType: 96,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case "pattern", "webcam", "screen":
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	if c.Source.Width <= 0 || c.Source.Height <= 0 {
		return fmt.Errorf("invalid source size %dx%d", c.Source.Width, c.Source.Height)
	}
	if c.Source.Width%2 != 0 || c.Source.Height%2 != 0 {
		return fmt.Errorf("source size %dx%d must be even", c.Source.Width, c.Source.Height)
	}
	if c.Source.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate %f", c.Source.FrameRate)
	}
	if c.Source.Frames < 0 {
		return fmt.Errorf("invalid frame count %d", c.Source.Frames)
	}
	if c.Encoder.BitRate <= 0 {
		return fmt.Errorf("invalid bitrate %d", c.Encoder.BitRate)
	}
	if _, err := c.Encoder.rateControl(); err != nil {
		return err
	}
	if _, err := c.Encoder.profile(); err != nil {
		return err
	}
	if _, err := c.Encoder.outputMode(); err != nil {
		return err
	}
	if c.Encoder.BFrames < 0 {
		return fmt.Errorf("invalid number of B frames %d", c.Encoder.BFrames)
	}
	if c.Output.Path == "" {
		return fmt.Errorf("output path is required")
	}
	if c.Output.MTU < 100 || c.Output.MTU > 65535 {
		return fmt.Errorf("invalid MTU %d", c.Output.MTU)
	}
	if c.Output.PayloadType < 96 || c.Output.PayloadType > 127 {
		return fmt.Errorf("payload type %d is not dynamic", c.Output.PayloadType)
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	return nil
}

func (e EncoderConfig) rateControl() (driver.RateControl, error) {
	switch strings.ToLower(e.RateControl) {
	case "cbr":
		return driver.RateControlCBR, nil
	case "vbr":
		return driver.RateControlVBR, nil
	case "cqp":
		return driver.RateControlCQP, nil
	}
	return 0, fmt.Errorf("unknown rate control %q", e.RateControl)
}

func (e EncoderConfig) profile() (h264.Profile, error) {
	switch strings.ToLower(e.Profile) {
	case "baseline":
		return h264.ProfileBaseline, nil
	case "constrained-baseline":
		return h264.ProfileConstrainedBaseline, nil
	case "main":
		return h264.ProfileMain, nil
	case "high":
		return h264.ProfileHigh, nil
	}
	return 0, fmt.Errorf("unknown profile %q", e.Profile)
}

func (e EncoderConfig) outputMode() (buffer.Mode, error) {
	switch strings.ToLower(e.OutputMode) {
	case "share":
		return buffer.ModeShare, nil
	case "copy":
		return buffer.ModeCopy, nil
	}
	return 0, fmt.Errorf("unknown output mode %q", e.OutputMode)
}

func (l LogConfig) level() (logging.LogLevel, error) {
	switch strings.ToLower(l.Level) {
	case "error":
		return logging.LogLevelError, nil
	case "warn":
		return logging.LogLevelWarn, nil
	case "info", "":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return 0, fmt.Errorf("unknown log level %q", l.Level)
}
