package hwvenc

import (
	"fmt"

	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/codec/h264"
	"github.com/pion/hwvenc/pkg/driver"
	"github.com/pion/hwvenc/pkg/frame"
	"github.com/pion/hwvenc/pkg/io/video"
	"github.com/pion/hwvenc/pkg/omx"
	"github.com/pion/hwvenc/pkg/prop"
)

// Index selects the structure read or written by the parameter and config
// calls.
type Index int

// Parameter indexes, used with GetParameter and SetParameter.
const (
	// IndexParamPortDefinition takes a PortDefinition.
	IndexParamPortDefinition Index = iota
	// IndexParamVideoAvc takes a h264.Params.
	IndexParamVideoAvc
	// IndexParamVideoBitrate takes a Bitrate.
	IndexParamVideoBitrate
	// IndexParamVideoQuantization takes a h264.Quantization.
	IndexParamVideoQuantization
	// IndexParamVideoQPRange takes a driver.QPRange.
	IndexParamVideoQPRange
	// IndexParamVideoIntraRefresh takes an IntraRefresh.
	IndexParamVideoIntraRefresh
	// IndexParamTemporalLayers takes a driver.TemporalLayers.
	IndexParamTemporalLayers
	// IndexParamRotation takes a Rotation.
	IndexParamRotation
	// IndexParamBufferMode takes a BufferMode.
	IndexParamBufferMode
)

// Config indexes, used with GetConfig and SetConfig.
const (
	// IndexConfigVideoBitrate takes an int, in bits per second.
	IndexConfigVideoBitrate Index = iota + 0x100
	// IndexConfigVideoFramerate takes a float32.
	IndexConfigVideoFramerate
	// IndexConfigVideoIntraPeriod takes an int, in frames.
	IndexConfigVideoIntraPeriod
	// IndexConfigVideoQPRange takes a driver.QPRange.
	IndexConfigVideoQPRange
	// IndexConfigVideoIntraRefresh takes a bool. true forces the next frame
	// to be an IDR.
	IndexConfigVideoIntraRefresh
	// IndexConfigTemporalLayers takes a driver.TemporalLayers.
	IndexConfigTemporalLayers
	// IndexConfigROI takes a driver.ROI.
	IndexConfigROI
	// IndexConfigOperatingRate takes a float32, in frames per second.
	IndexConfigOperatingRate
)

func (i Index) String() string {
	switch i {
	case IndexParamPortDefinition:
		return "ParamPortDefinition"
	case IndexParamVideoAvc:
		return "ParamVideoAvc"
	case IndexParamVideoBitrate:
		return "ParamVideoBitrate"
	case IndexParamVideoQuantization:
		return "ParamVideoQuantization"
	case IndexParamVideoQPRange:
		return "ParamVideoQPRange"
	case IndexParamVideoIntraRefresh:
		return "ParamVideoIntraRefresh"
	case IndexParamTemporalLayers:
		return "ParamTemporalLayers"
	case IndexParamRotation:
		return "ParamRotation"
	case IndexParamBufferMode:
		return "ParamBufferMode"
	case IndexConfigVideoBitrate:
		return "ConfigVideoBitrate"
	case IndexConfigVideoFramerate:
		return "ConfigVideoFramerate"
	case IndexConfigVideoIntraPeriod:
		return "ConfigVideoIntraPeriod"
	case IndexConfigVideoQPRange:
		return "ConfigVideoQPRange"
	case IndexConfigVideoIntraRefresh:
		return "ConfigVideoIntraRefresh"
	case IndexConfigTemporalLayers:
		return "ConfigTemporalLayers"
	case IndexConfigROI:
		return "ConfigROI"
	case IndexConfigOperatingRate:
		return "ConfigOperatingRate"
	}
	return fmt.Sprintf("Index(0x%x)", int(i))
}

// Bitrate selects the rate control.
type Bitrate struct {
	Control driver.RateControl
	// Target is ignored by constant QP.
	Target int
}

// IntraRefresh sets cyclic intra refresh.
type IntraRefresh struct {
	// MBs is the number of macroblocks refreshed per frame, 0 to disable.
	MBs int
}

// Rotation is the clockwise rotation applied to the input frames.
type Rotation struct {
	Degrees int
}

// BufferMode selects how a port exchanges buffers with the hardware.
type BufferMode struct {
	Port int
	Mode buffer.Mode
}

// ptr extracts the *T a getter fills.
func ptr[T any](index Index, v interface{}) (*T, error) {
	p, ok := v.(*T)
	if !ok || p == nil {
		return nil, omx.Errorf(omx.ErrBadParameter, "%s takes a *%T, got %T", index, *new(T), v)
	}
	return p, nil
}

// value extracts the T a setter takes, passed by value or pointer.
func value[T any](index Index, v interface{}) (T, error) {
	switch x := v.(type) {
	case T:
		return x, nil
	case *T:
		if x != nil {
			return *x, nil
		}
	}
	var zero T
	return zero, omx.Errorf(omx.ErrBadParameter, "%s takes a %T, got %T", index, zero, v)
}

// GetParameter fills v, a pointer to the structure of index.
func (c *Component) GetParameter(index Index, v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch index {
	case IndexParamPortDefinition:
		def, err := ptr[PortDefinition](index, v)
		if err != nil {
			return err
		}
		p, err := c.port(def.Port)
		if err != nil {
			return err
		}
		*def = c.definition(p)
	case IndexParamVideoAvc:
		p, err := ptr[h264.Params](index, v)
		if err != nil {
			return err
		}
		*p = c.cfg.H264
	case IndexParamVideoBitrate:
		p, err := ptr[Bitrate](index, v)
		if err != nil {
			return err
		}
		*p = Bitrate{Control: c.cfg.RateControl, Target: c.cfg.BitRate}
	case IndexParamVideoQuantization:
		p, err := ptr[h264.Quantization](index, v)
		if err != nil {
			return err
		}
		*p = c.cfg.Quantization
	case IndexParamVideoQPRange:
		p, err := ptr[driver.QPRange](index, v)
		if err != nil {
			return err
		}
		*p = c.cfg.QPRange
	case IndexParamVideoIntraRefresh:
		p, err := ptr[IntraRefresh](index, v)
		if err != nil {
			return err
		}
		*p = IntraRefresh{MBs: c.cfg.IntraRefreshMBs}
	case IndexParamTemporalLayers:
		p, err := ptr[driver.TemporalLayers](index, v)
		if err != nil {
			return err
		}
		*p = c.cfg.TemporalLayers
	case IndexParamRotation:
		p, err := ptr[Rotation](index, v)
		if err != nil {
			return err
		}
		*p = Rotation{Degrees: c.cfg.Rotation}
	case IndexParamBufferMode:
		p, err := ptr[BufferMode](index, v)
		if err != nil {
			return err
		}
		switch p.Port {
		case InputPort:
			p.Mode = c.cfg.InputMode
		case OutputPort:
			p.Mode = c.cfg.OutputMode
		default:
			return omx.Errorf(omx.ErrBadPortIndex, "port %d", p.Port)
		}
	default:
		return omx.Errorf(omx.ErrUnsupportedIndex, "%s", index)
	}
	return nil
}

// settable is called with c.mu held. Parameters can only change in the
// Loaded state or, for port parameters, while the port is disabled.
func (c *Component) settable(port int) error {
	if c.closed || c.state == StateInvalid {
		return errClosed
	}
	if c.state == StateLoaded {
		return nil
	}
	if port >= 0 && !c.ports[port].enabled {
		return nil
	}
	return omx.Errorf(omx.ErrIncorrectStateOperation, "parameters can't be set in %s", c.state)
}

// SetParameter sets the structure of index from v. Invalid values are
// rejected without changing anything.
func (c *Component) SetParameter(index Index, v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := c.cfg
	switch index {
	case IndexParamPortDefinition:
		def, err := value[PortDefinition](index, v)
		if err != nil {
			return err
		}
		p, err := c.port(def.Port)
		if err != nil {
			return err
		}
		if err := c.settable(p.index); err != nil {
			return err
		}
		if def.BufferCountActual != p.count() {
			if def.BufferCountActual < p.minCount || def.BufferCountActual > 32 {
				return omx.Errorf(omx.ErrBadParameter, "port %d: %d buffers", p.index, def.BufferCountActual)
			}
			if !p.empty() {
				return omx.Errorf(omx.ErrIncorrectStateOperation, "port %d has buffers", p.index)
			}
		}
		if p.index == InputPort && def.Video != (prop.Video{}) {
			if err := applyGeometry(&cfg, def.Video, def.BitRate); err != nil {
				return err
			}
		} else if def.BitRate > 0 {
			cfg.BitRate = def.BitRate
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if def.BufferCountActual != p.count() {
			p.headers = make([]*buffer.Header, def.BufferCountActual)
		}

	case IndexParamVideoAvc:
		params, err := value[h264.Params](index, v)
		if err != nil {
			return err
		}
		if err := c.settable(OutputPort); err != nil {
			return err
		}
		if params.RefFrames < 0 || params.RefFrames > 16 {
			return omx.Errorf(omx.ErrBadParameter, "%d reference frames", params.RefFrames)
		}
		cfg.H264 = params

	case IndexParamVideoBitrate:
		b, err := value[Bitrate](index, v)
		if err != nil {
			return err
		}
		if err := c.settable(OutputPort); err != nil {
			return err
		}
		if b.Control != driver.RateControlCQP && b.Target <= 0 {
			return omx.Errorf(omx.ErrBadParameter, "%s needs a target bitrate", b.Control)
		}
		cfg.RateControl = b.Control
		if b.Target > 0 {
			cfg.BitRate = b.Target
		}

	case IndexParamVideoQuantization:
		q, err := value[h264.Quantization](index, v)
		if err != nil {
			return err
		}
		if err := c.settable(OutputPort); err != nil {
			return err
		}
		for _, qp := range []int{q.I, q.P, q.B} {
			if qp < 0 || qp > 51 {
				return omx.Errorf(omx.ErrBadParameter, "QP %d out of range", qp)
			}
		}
		cfg.Quantization = q

	case IndexParamVideoQPRange:
		r, err := value[driver.QPRange](index, v)
		if err != nil {
			return err
		}
		if err := c.settable(OutputPort); err != nil {
			return err
		}
		cfg.QPRange = r

	case IndexParamVideoIntraRefresh:
		r, err := value[IntraRefresh](index, v)
		if err != nil {
			return err
		}
		if err := c.settable(OutputPort); err != nil {
			return err
		}
		if r.MBs < 0 {
			return omx.Errorf(omx.ErrBadParameter, "%d intra refresh macroblocks", r.MBs)
		}
		cfg.IntraRefreshMBs = r.MBs

	case IndexParamTemporalLayers:
		l, err := value[driver.TemporalLayers](index, v)
		if err != nil {
			return err
		}
		if err := c.settable(OutputPort); err != nil {
			return err
		}
		change := h264.Change{Kind: h264.ChangeTemporalLayers, TemporalLayers: l}
		if err := change.Validate(); err != nil {
			return err
		}
		cfg.TemporalLayers = l

	case IndexParamRotation:
		r, err := value[Rotation](index, v)
		if err != nil {
			return err
		}
		if err := c.settable(InputPort); err != nil {
			return err
		}
		if !video.ValidRotation(r.Degrees) {
			return omx.Errorf(omx.ErrBadParameter, "rotation %d", r.Degrees)
		}
		if r.Degrees != 0 && cfg.InputMode == buffer.ModeShare {
			return omx.Errorf(omx.ErrUnsupportedSetting, "shared input can't be rotated")
		}
		cfg.Rotation = r.Degrees

	case IndexParamBufferMode:
		m, err := value[BufferMode](index, v)
		if err != nil {
			return err
		}
		p, err := c.port(m.Port)
		if err != nil {
			return err
		}
		if err := c.settable(p.index); err != nil {
			return err
		}
		if !p.empty() {
			return omx.Errorf(omx.ErrIncorrectStateOperation, "port %d has buffers", p.index)
		}
		if m.Mode != buffer.ModeCopy && m.Mode != buffer.ModeShare {
			return omx.Errorf(omx.ErrBadParameter, "%s", m.Mode)
		}
		if p.index == InputPort {
			if m.Mode == buffer.ModeShare && (cfg.InputFormat != c.enc.InputFormat() || cfg.Rotation != 0) {
				return omx.Errorf(omx.ErrUnsupportedSetting, "shared input must be %s without rotation", c.enc.InputFormat())
			}
			cfg.InputMode = m.Mode
		} else {
			cfg.OutputMode = m.Mode
		}

	default:
		return omx.Errorf(omx.ErrUnsupportedIndex, "%s", index)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func applyGeometry(cfg *h264.Config, v prop.Video, bitRate int) error {
	if err := v.Validate(); err != nil {
		return omx.Errorf(omx.ErrBadParameter, "%v", err)
	}
	if bitRate < 0 {
		return omx.Errorf(omx.ErrBadParameter, "invalid bitrate %d", bitRate)
	}
	if v.FrameFormat != "" && v.FrameFormat != cfg.InputFormat && cfg.InputMode == buffer.ModeShare {
		return omx.Errorf(omx.ErrUnsupportedSetting, "shared input can't change format")
	}

	cur := prop.Video{Width: cfg.Width, Height: cfg.Height, FrameRate: cfg.FrameRate, FrameFormat: cfg.InputFormat}
	cur.Merge(v)
	cfg.Width, cfg.Height = cur.Width, cur.Height
	cfg.FrameRate = cur.FrameRate
	cfg.InputFormat = cur.FrameFormat
	if bitRate > 0 {
		cfg.BitRate = bitRate
	}
	return nil
}

// SetPortGeometry sets the frame geometry, color format, bitrate and frame
// rate of the stream. format may be empty to keep the current one, bitRate
// zero to keep the current one. Issued after the first frame, the hardware
// is set up again on the next one. Invalid values are rejected without
// changing anything.
func (c *Component) SetPortGeometry(port, width, height int, format frame.Format, bitRate int, frameRate float32) error {
	if _, err := c.port(port); err != nil {
		return err
	}
	if format != "" && !frame.Supported(format) {
		return omx.Errorf(omx.ErrUnsupportedSetting, "color format %s", format)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state == StateInvalid {
		return errClosed
	}

	cfg := c.cfg
	v := prop.Video{Width: width, Height: height, FrameRate: frameRate, FrameFormat: format}
	if err := applyGeometry(&cfg, v, bitRate); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	changed := cfg.Width != c.cfg.Width || cfg.Height != c.cfg.Height ||
		cfg.InputFormat != c.cfg.InputFormat || cfg.BitRate != c.cfg.BitRate ||
		cfg.FrameRate != c.cfg.FrameRate
	if !changed {
		return nil
	}

	c.cfg = cfg
	if c.adapter.Configured(InputPort) {
		c.drc = true
		c.log.Infof("%s: geometry changes to %dx%d %s while streaming", c.id, width, height, cfg.InputFormat)
	}
	return nil
}

// GetConfig fills v, a pointer to the value of index.
func (c *Component) GetConfig(index Index, v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch index {
	case IndexConfigVideoBitrate:
		p, err := ptr[int](index, v)
		if err != nil {
			return err
		}
		*p = c.cfg.BitRate
	case IndexConfigVideoFramerate:
		p, err := ptr[float32](index, v)
		if err != nil {
			return err
		}
		*p = c.cfg.FrameRate
	case IndexConfigVideoIntraPeriod:
		p, err := ptr[int](index, v)
		if err != nil {
			return err
		}
		*p = h264.EncParam(c.cfg, c.enc.InputFormat()).IDRPeriod
	case IndexConfigVideoQPRange:
		p, err := ptr[driver.QPRange](index, v)
		if err != nil {
			return err
		}
		*p = c.cfg.QPRange
	case IndexConfigVideoIntraRefresh:
		p, err := ptr[bool](index, v)
		if err != nil {
			return err
		}
		*p = false
	case IndexConfigTemporalLayers:
		p, err := ptr[driver.TemporalLayers](index, v)
		if err != nil {
			return err
		}
		*p = c.cfg.TemporalLayers
	case IndexConfigROI:
		p, err := ptr[driver.ROI](index, v)
		if err != nil {
			return err
		}
		*p = c.roi
	case IndexConfigOperatingRate:
		p, err := ptr[float32](index, v)
		if err != nil {
			return err
		}
		*p = c.opRate
	default:
		return omx.Errorf(omx.ErrUnsupportedIndex, "%s", index)
	}
	return nil
}

// SetConfig changes an encoding parameter while streaming. The value is
// checked at once and applied between two frames, before the next frame
// is submitted to the hardware.
func (c *Component) SetConfig(index Index, v interface{}) error {
	var change h264.Change
	switch index {
	case IndexConfigVideoBitrate:
		bps, err := value[int](index, v)
		if err != nil {
			return err
		}
		change = h264.Change{Kind: h264.ChangeBitRate, BitRate: bps}
	case IndexConfigVideoFramerate:
		fps, err := value[float32](index, v)
		if err != nil {
			return err
		}
		change = h264.Change{Kind: h264.ChangeFrameRate, FrameRate: fps}
	case IndexConfigVideoIntraPeriod:
		period, err := value[int](index, v)
		if err != nil {
			return err
		}
		change = h264.Change{Kind: h264.ChangeIntraPeriod, IntraPeriod: period}
	case IndexConfigVideoQPRange:
		r, err := value[driver.QPRange](index, v)
		if err != nil {
			return err
		}
		change = h264.Change{Kind: h264.ChangeQPRange, QPRange: r}
	case IndexConfigVideoIntraRefresh:
		refresh, err := value[bool](index, v)
		if err != nil {
			return err
		}
		if !refresh {
			return nil
		}
		change = h264.Change{Kind: h264.ChangeIntraRefresh}
	case IndexConfigTemporalLayers:
		l, err := value[driver.TemporalLayers](index, v)
		if err != nil {
			return err
		}
		change = h264.Change{Kind: h264.ChangeTemporalLayers, TemporalLayers: l}
	case IndexConfigROI:
		roi, err := value[driver.ROI](index, v)
		if err != nil {
			return err
		}
		change = h264.Change{Kind: h264.ChangeROI, ROI: roi}
	case IndexConfigOperatingRate:
		rate, err := value[float32](index, v)
		if err != nil {
			return err
		}
		change = h264.Change{Kind: h264.ChangeOperatingRate, OperatingRate: rate}
	default:
		return omx.Errorf(omx.ErrUnsupportedIndex, "%s", index)
	}
	if err := change.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state == StateInvalid {
		return errClosed
	}

	switch change.Kind {
	case h264.ChangeBitRate:
		c.cfg.BitRate = change.BitRate
	case h264.ChangeFrameRate:
		c.cfg.FrameRate = change.FrameRate
	case h264.ChangeIntraPeriod:
		c.cfg.IntraPeriod = change.IntraPeriod
	case h264.ChangeQPRange:
		c.cfg.QPRange = change.QPRange
	case h264.ChangeTemporalLayers:
		c.cfg.TemporalLayers = change.TemporalLayers
	case h264.ChangeROI:
		c.roi = change.ROI
	case h264.ChangeOperatingRate:
		c.opRate = change.OperatingRate
	}
	c.changes.Enqueue(change)
	c.log.Debugf("%s: %s change queued", c.id, change.Kind)
	return nil
}
