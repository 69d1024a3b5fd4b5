package h264

import (
	"fmt"

	"github.com/pion/hwvenc/pkg/driver"
	"github.com/pion/hwvenc/pkg/omx"
)

// ChangeKind is the parameter a Change updates.
type ChangeKind int

// Parameters that can change while encoding.
const (
	ChangeBitRate ChangeKind = iota
	ChangeFrameRate
	ChangeIntraPeriod
	ChangeQPRange
	// ChangeIntraRefresh forces the next frame to be an IDR.
	ChangeIntraRefresh
	ChangeTemporalLayers
	ChangeROI
	// ChangeOperatingRate sets the rate frames are fed at, which may exceed
	// the frame rate.
	ChangeOperatingRate
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeBitRate:
		return "bitrate"
	case ChangeFrameRate:
		return "framerate"
	case ChangeIntraPeriod:
		return "intra-period"
	case ChangeQPRange:
		return "qp-range"
	case ChangeIntraRefresh:
		return "intra-refresh"
	case ChangeTemporalLayers:
		return "temporal-layers"
	case ChangeROI:
		return "roi"
	case ChangeOperatingRate:
		return "operating-rate"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change is one runtime parameter change. Only the field matching Kind is
// read.
type Change struct {
	Kind           ChangeKind
	BitRate        int
	FrameRate      float32
	IntraPeriod    int
	QPRange        driver.QPRange
	TemporalLayers driver.TemporalLayers
	ROI            driver.ROI
	OperatingRate  float32
}

// Validate rejects changes the hardware would refuse, so that callers can
// fail synchronously.
func (c *Change) Validate() error {
	switch c.Kind {
	case ChangeBitRate:
		if c.BitRate <= 0 {
			return omx.Errorf(omx.ErrBadParameter, "invalid bitrate %d", c.BitRate)
		}
	case ChangeFrameRate:
		if !(c.FrameRate > 0) {
			return omx.Errorf(omx.ErrBadParameter, "invalid frame rate %f", c.FrameRate)
		}
	case ChangeIntraPeriod:
		if c.IntraPeriod < 0 {
			return omx.Errorf(omx.ErrBadParameter, "invalid intra period %d", c.IntraPeriod)
		}
	case ChangeQPRange:
		return CheckQPRange(c.QPRange)
	case ChangeTemporalLayers:
		if c.TemporalLayers.Count < 0 || len(c.TemporalLayers.LayerBitrates) != c.TemporalLayers.Count {
			return omx.Errorf(omx.ErrBadParameter, "invalid temporal layers %+v", c.TemporalLayers)
		}
		prev := 0
		for _, r := range c.TemporalLayers.LayerBitrates {
			if r < prev || r > 100 {
				return omx.Errorf(omx.ErrBadParameter, "layer bitrate ratios must grow up to 100: %v", c.TemporalLayers.LayerBitrates)
			}
			prev = r
		}
	case ChangeOperatingRate:
		if c.OperatingRate < 0 {
			return omx.Errorf(omx.ErrBadParameter, "invalid operating rate %f", c.OperatingRate)
		}
	case ChangeIntraRefresh, ChangeROI:
	default:
		return omx.Errorf(omx.ErrUnsupportedIndex, "unknown change %d", int(c.Kind))
	}
	return nil
}

// ChangeParam applies c to the live session and re-derives the parameter
// block so that later frames see consistent settings.
func (a *Adapter) ChangeParam(c Change) error {
	if err := c.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	switch c.Kind {
	case ChangeBitRate:
		if err = a.enc.SetBitRate(c.BitRate); err == nil {
			a.cfg.BitRate = c.BitRate
		}
	case ChangeFrameRate:
		if err = a.enc.SetFrameRate(c.FrameRate); err == nil {
			a.cfg.FrameRate = c.FrameRate
		}
	case ChangeIntraPeriod:
		if err = a.enc.SetIDRPeriod(c.IntraPeriod); err == nil {
			a.cfg.IntraPeriod = c.IntraPeriod
		}
	case ChangeQPRange:
		if err = a.enc.SetQPRange(c.QPRange); err == nil {
			a.cfg.QPRange = c.QPRange
		}
	case ChangeIntraRefresh:
		err = a.enc.RequestIDR()
	case ChangeTemporalLayers:
		if err = a.enc.SetTemporalLayers(c.TemporalLayers); err == nil {
			a.cfg.TemporalLayers = c.TemporalLayers
		}
	case ChangeROI:
		err = a.enc.SetROI(c.ROI)
	case ChangeOperatingRate:
		err = a.enc.SetQoSRatio(qosRatio(c.OperatingRate, a.cfg.FrameRate))
	}
	if err != nil {
		return omx.Errorf(omx.ErrUnsupportedSetting, "change %s: %v", c.Kind, err)
	}

	a.param = EncParam(a.cfg, a.enc.InputFormat())
	logger.Debugf("applied %s change", c.Kind)
	return nil
}

// qosRatio is the operating rate in percent of the frame rate, never below
// real time.
func qosRatio(operatingRate, frameRate float32) int {
	if !(operatingRate > 0) || !(frameRate > 0) {
		return 100
	}
	ratio := int(operatingRate / frameRate * 100)
	if ratio < 100 {
		ratio = 100
	}
	return ratio
}
