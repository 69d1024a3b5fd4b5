// Package mfcsim is a software model of the MFC hardware encoder driver. It
// honors the driver contract the encoder pipeline relies on: a header-first
// bitstream, B-frame reordering, per-frame parameter latching, and blocking
// dequeue released by Stop. It backs the tests and the demo application.
package mfcsim

import (
	"fmt"
	"sync"

	"github.com/pion/hwvenc/internal/logging"
	"github.com/pion/hwvenc/pkg/driver"
	"github.com/pion/hwvenc/pkg/frame"
	"github.com/pion/hwvenc/pkg/omx"
)

// Name is the name the simulator registers with driver.Manager.
const Name = "mfcsim"

const (
	maxBuffers    = 32
	maxDimension  = 4096
	maxBFrames    = 4
	maxTemporal   = 7
	defaultPlanes = 2
)

var logger = logging.NewLogger("mfcsim")

func init() {
	if err := driver.Manager.Register(Name, Open); err != nil {
		panic(err)
	}
}

// Config tunes the simulated hardware.
type Config struct {
	// InputFormat is the pixel format the source queue consumes. Defaults to
	// NV12.
	InputFormat frame.Format
	// PlaneCount is the number of planes per source buffer. Defaults to 2.
	PlaneCount int
}

// Frame describes one coded frame, with the parameters latched when its
// input was queued.
type Frame struct {
	Tag       int
	Type      driver.FrameType
	BitRate   int
	FrameRate float32
	Size      int
}

// Stats counts the buffers the simulator handled.
type Stats struct {
	SourceEnqueued int
	SourceDrains   int
	Coded          int
	Headers        int
}

// Encoder is a simulated encoder session.
type Encoder struct {
	mu     sync.Mutex
	cfg    Config
	codec  driver.Codec
	closed bool

	param    driver.EncParam
	paramSet bool
	roi      driver.ROI
	qos      int
	forceIDR bool

	src, dst *queue
	gop      gop

	headerSent bool
	pending    []codedFrame
	history    []Frame
	stats      Stats
}

// Open implements driver.Opener with the default configuration.
func Open(codec driver.Codec) (driver.Encoder, error) {
	return New(codec, Config{})
}

// New opens a simulated session for codec.
func New(codec driver.Codec, cfg Config) (*Encoder, error) {
	if codec != driver.CodecH264 {
		return nil, omx.Errorf(omx.ErrComponentNotFound, "mfcsim: unsupported codec %q", codec)
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = frame.FormatNV12
	}
	if cfg.PlaneCount == 0 {
		cfg.PlaneCount = defaultPlanes
	}

	e := &Encoder{cfg: cfg, codec: codec, qos: 100}
	e.src = newQueue(e, "src")
	e.dst = newQueue(e, "dst")
	e.gop.reset()
	return e, nil
}

// Source implements driver.Encoder.
func (e *Encoder) Source() driver.BufferOps { return e.src }

// Destination implements driver.Encoder.
func (e *Encoder) Destination() driver.BufferOps { return e.dst }

// InputFormat implements driver.Encoder.
func (e *Encoder) InputFormat() frame.Format { return e.cfg.InputFormat }

// PlaneCount implements driver.Encoder.
func (e *Encoder) PlaneCount() int { return e.cfg.PlaneCount }

// SetEncParam implements driver.EncOps.
func (e *Encoder) SetEncParam(p driver.EncParam) error {
	if p.SourceWidth <= 0 || p.SourceHeight <= 0 ||
		p.SourceWidth > maxDimension || p.SourceHeight > maxDimension {
		return fmt.Errorf("mfcsim: unsupported size %dx%d", p.SourceWidth, p.SourceHeight)
	}
	if p.H264.NumberBFrames < 0 || p.H264.NumberBFrames > maxBFrames {
		return fmt.Errorf("mfcsim: unsupported number of B frames: %d", p.H264.NumberBFrames)
	}
	if err := checkQPRange(p.QP); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return driver.ErrClosed
	}
	e.param = p
	e.paramSet = true
	e.headerSent = false
	e.gop.reset()
	logger.Debugf("param: %dx%d %s %d bps %.2f fps, %d B frames",
		p.SourceWidth, p.SourceHeight, p.RateControl, p.BitRate, p.FrameRate, p.H264.NumberBFrames)
	return nil
}

// Param returns the active parameter block.
func (e *Encoder) Param() driver.EncParam {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.param
}

func (e *Encoder) update(f func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return driver.ErrClosed
	}
	return f()
}

// SetBitRate implements driver.EncOps.
func (e *Encoder) SetBitRate(bps int) error {
	if bps <= 0 {
		return fmt.Errorf("mfcsim: invalid bitrate %d", bps)
	}
	return e.update(func() error {
		e.param.BitRate = bps
		return nil
	})
}

// SetFrameRate implements driver.EncOps.
func (e *Encoder) SetFrameRate(fps float32) error {
	if !(fps > 0) {
		return fmt.Errorf("mfcsim: invalid frame rate %f", fps)
	}
	return e.update(func() error {
		e.param.FrameRate = fps
		return nil
	})
}

// SetIDRPeriod implements driver.EncOps.
func (e *Encoder) SetIDRPeriod(frames int) error {
	if frames < 0 {
		return fmt.Errorf("mfcsim: invalid IDR period %d", frames)
	}
	return e.update(func() error {
		e.param.IDRPeriod = frames
		return nil
	})
}

func checkQPRange(r driver.QPRange) error {
	if r.IMin > r.IMax || r.PMin > r.PMax || r.BMin > r.BMax {
		return fmt.Errorf("mfcsim: inverted QP range %+v", r)
	}
	return nil
}

// SetQPRange implements driver.EncOps.
func (e *Encoder) SetQPRange(r driver.QPRange) error {
	if err := checkQPRange(r); err != nil {
		return err
	}
	return e.update(func() error {
		e.param.QP = r
		return nil
	})
}

// RequestIDR implements driver.EncOps.
func (e *Encoder) RequestIDR() error {
	return e.update(func() error {
		e.forceIDR = true
		return nil
	})
}

// SetTemporalLayers implements driver.EncOps.
func (e *Encoder) SetTemporalLayers(l driver.TemporalLayers) error {
	if l.Count < 0 || l.Count > maxTemporal || len(l.LayerBitrates) != l.Count {
		return fmt.Errorf("mfcsim: invalid temporal layers %+v", l)
	}
	return e.update(func() error {
		e.param.H264.TemporalLayers = l
		return nil
	})
}

// SetROI implements driver.EncOps.
func (e *Encoder) SetROI(r driver.ROI) error {
	return e.update(func() error {
		e.roi = r
		return nil
	})
}

// SetQoSRatio implements driver.EncOps.
func (e *Encoder) SetQoSRatio(percent int) error {
	if percent <= 0 {
		return fmt.Errorf("mfcsim: invalid QoS ratio %d", percent)
	}
	return e.update(func() error {
		e.qos = percent
		return nil
	})
}

// QoSRatio returns the last QoS ratio set.
func (e *Encoder) QoSRatio() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.qos
}

// ROI returns the last ROI map set.
func (e *Encoder) ROI() driver.ROI {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roi
}

// Finalize implements driver.EncOps.
func (e *Encoder) Finalize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.src.halt()
	e.dst.halt()
	logger.Debugf("finalized after %d frames", e.stats.Coded)
	return nil
}

// Frames returns every frame coded so far, in coded order.
func (e *Encoder) Frames() []Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Frame(nil), e.history...)
}

// Stats returns the buffer counters.
func (e *Encoder) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// InjectIOError makes the next n dequeues of the source or destination queue
// fail with driver.ErrIO. No buffer is lost.
func (e *Encoder) InjectIOError(destination bool, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if destination {
		e.dst.ioErrors += n
	} else {
		e.src.ioErrors += n
	}
}
