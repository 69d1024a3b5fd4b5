package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/hwvenc"
	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/codec"
	"github.com/pion/hwvenc/pkg/codec/h264"
	"github.com/pion/hwvenc/pkg/frame"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
)

const stateTimeout = 5 * time.Second

type event struct {
	e            hwvenc.Event
	data1, data2 uint32
}

// encoder is the client of a component. It feeds the frames of a source
// and writes the packetized bitstream as an Annex-B file.
type encoder struct {
	cfg *Config
	log logging.LeveledLogger
	c   *hwvenc.Component

	events chan event
	free   chan *buffer.Header
	filled chan *buffer.Header

	in, out []*buffer.Header
}

func newEncoder(cfg *Config, factory logging.LoggerFactory, opts ...hwvenc.Option) (*encoder, error) {
	e := &encoder{
		cfg:    cfg,
		log:    factory.NewLogger("demo"),
		events: make(chan event, 32),
		free:   make(chan *buffer.Header, 32),
		filled: make(chan *buffer.Header, 32),
	}
	cb := hwvenc.Callbacks{
		OnEvent: func(ev hwvenc.Event, data1, data2 uint32) {
			select {
			case e.events <- event{ev, data1, data2}:
			default:
				e.log.Warnf("event %v dropped", ev)
			}
		},
		OnEmptyBufferDone: func(h *buffer.Header) { e.free <- h },
		OnFillBufferDone:  func(h *buffer.Header) { e.filled <- h },
	}

	opts = append([]hwvenc.Option{
		hwvenc.WithDriver(cfg.Encoder.Driver),
		hwvenc.WithCallbacks(cb),
		hwvenc.WithLoggerFactory(factory),
	}, opts...)
	c, err := hwvenc.New(opts...)
	if err != nil {
		return nil, err
	}
	e.c = c
	return e, nil
}

// configure is called in Loaded.
func (e *encoder) configure(format frame.Format) error {
	src, enc := e.cfg.Source, e.cfg.Encoder
	control, _ := enc.rateControl()
	profile, _ := enc.profile()
	mode, _ := enc.outputMode()

	if err := e.c.SetPortGeometry(hwvenc.InputPort, src.Width, src.Height, format, enc.BitRate, src.FrameRate); err != nil {
		return err
	}

	def := hwvenc.PortDefinition{Port: hwvenc.InputPort}
	if err := e.c.GetParameter(hwvenc.IndexParamPortDefinition, &def); err != nil {
		return err
	}
	if enc.InputBuffers > 0 {
		def.BufferCountActual = enc.InputBuffers
		if err := e.c.SetParameter(hwvenc.IndexParamPortDefinition, def); err != nil {
			return err
		}
	}
	def = hwvenc.PortDefinition{Port: hwvenc.OutputPort}
	if err := e.c.GetParameter(hwvenc.IndexParamPortDefinition, &def); err != nil {
		return err
	}
	if enc.OutputBuffers > 0 {
		def.BufferCountActual = enc.OutputBuffers
		if err := e.c.SetParameter(hwvenc.IndexParamPortDefinition, def); err != nil {
			return err
		}
	}

	var avc h264.Params
	if err := e.c.GetParameter(hwvenc.IndexParamVideoAvc, &avc); err != nil {
		return err
	}
	avc.Profile = profile
	avc.BFrames = enc.BFrames
	if enc.IntraPeriod > enc.BFrames {
		avc.PFrames = enc.IntraPeriod - enc.BFrames - 1
	}
	if err := e.c.SetParameter(hwvenc.IndexParamVideoAvc, avc); err != nil {
		return err
	}
	if err := e.c.SetParameter(hwvenc.IndexParamVideoBitrate, hwvenc.Bitrate{Control: control, Target: enc.BitRate}); err != nil {
		return err
	}
	if enc.Rotation != 0 {
		if err := e.c.SetParameter(hwvenc.IndexParamRotation, hwvenc.Rotation{Degrees: enc.Rotation}); err != nil {
			return err
		}
	}
	return e.c.SetParameter(hwvenc.IndexParamBufferMode, hwvenc.BufferMode{Port: hwvenc.OutputPort, Mode: mode})
}

func (e *encoder) allocate(port int) ([]*buffer.Header, error) {
	def := hwvenc.PortDefinition{Port: port}
	if err := e.c.GetParameter(hwvenc.IndexParamPortDefinition, &def); err != nil {
		return nil, err
	}
	bufs := make([]*buffer.Header, def.BufferCountActual)
	for i := range bufs {
		h, err := e.c.AllocateBuffer(port, i, def.BufferSize)
		if err != nil {
			return nil, err
		}
		bufs[i] = h
	}
	return bufs, nil
}

// waitState waits for the completion of a state change. Fatal errors abort
// the wait, the others are logged.
func (e *encoder) waitState(s hwvenc.State) error {
	timeout := time.After(stateTimeout)
	for {
		select {
		case ev := <-e.events:
			switch {
			case ev.e == hwvenc.EventCmdComplete && ev.data1 == uint32(hwvenc.CommandStateSet) && ev.data2 == uint32(s):
				return nil
			case ev.e == hwvenc.EventError:
				err := hwvenc.Error(ev.data1)
				if errors.Is(err, hwvenc.ErrCodecInit) || errors.Is(err, hwvenc.ErrInvalidState) ||
					errors.Is(err, hwvenc.ErrIncorrectStateTransition) {
					return fmt.Errorf("waiting for %s: %w", s, err)
				}
				e.log.Warnf("port %d: %v", ev.data2, err)
			default:
				e.log.Debugf("event %v %d %d", ev.e, ev.data1, ev.data2)
			}
		case <-timeout:
			return fmt.Errorf("timed out waiting for %s", s)
		}
	}
}

func (e *encoder) setState(s hwvenc.State) error {
	return e.c.SendCommand(hwvenc.CommandStateSet, int(s))
}

// start brings the component to Executing with every output buffer queued.
func (e *encoder) start(format frame.Format) error {
	if err := e.configure(format); err != nil {
		return err
	}
	if err := e.setState(hwvenc.StateIdle); err != nil {
		return err
	}
	var err error
	if e.in, err = e.allocate(hwvenc.InputPort); err != nil {
		return err
	}
	if e.out, err = e.allocate(hwvenc.OutputPort); err != nil {
		return err
	}
	if err := e.waitState(hwvenc.StateIdle); err != nil {
		return err
	}
	if err := e.setState(hwvenc.StateExecuting); err != nil {
		return err
	}
	if err := e.waitState(hwvenc.StateExecuting); err != nil {
		return err
	}
	for _, h := range e.in {
		e.free <- h
	}
	for _, h := range e.out {
		if err := e.c.FillThisBuffer(h); err != nil {
			return err
		}
	}
	return nil
}

// feed submits frames until the frame limit, the end of the source or the
// cancellation of ctx, then closes the stream with an empty EOS buffer.
func (e *encoder) feed(ctx context.Context, src source) (int, error) {
	limit := e.cfg.Source.Frames
	interval := 1e6 / float64(e.cfg.Source.FrameRate)

	n := 0
	for {
		var h *buffer.Header
		select {
		case h = <-e.free:
		case <-ctx.Done():
			select {
			case h = <-e.free:
			case <-time.After(stateTimeout):
				return n, errors.New("no input buffer came back")
			}
		}
		h.Offset = 0
		h.Timestamp = int64(float64(n) * interval)

		done := ctx.Err() != nil || (limit > 0 && n >= limit)
		if !done {
			size, err := src.ReadFrame(h.Data)
			switch {
			case errors.Is(err, io.EOF):
				done = true
			case err != nil:
				e.free <- h
				return n, err
			default:
				h.FilledLen = size
				h.Flags = 0
			}
		}
		if done {
			h.FilledLen = 0
			h.Flags = buffer.FlagEOS
		}
		if err := e.c.EmptyThisBuffer(h); err != nil {
			return n, err
		}
		if done {
			return n, nil
		}
		n++
	}
}

// write packetizes the bitstream into w until the EOS buffer.
func (e *encoder) write(ctx context.Context, w io.Writer) error {
	writer := h264writer.NewWith(w)
	defer writer.Close()
	pk := codec.NewPacketizer(codec.NewRTPH264Codec(uint8(e.cfg.Output.PayloadType)), uint16(e.cfg.Output.MTU))

	for {
		select {
		case h := <-e.filled:
			if h.FilledLen > 0 {
				for _, pkt := range pk.Packetize(h.Data[h.Offset:h.Offset+h.FilledLen], h.Timestamp) {
					if err := writer.WriteRTP(pkt); err != nil {
						return err
					}
				}
			}
			if h.Flags&buffer.FlagEOS != 0 {
				return nil
			}
			if err := e.c.FillThisBuffer(h); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run encodes src into w and tears the component down.
func (e *encoder) Run(ctx context.Context, src source, w io.Writer) (hwvenc.Stats, error) {
	if err := e.start(src.Format()); err != nil {
		return hwvenc.Stats{}, err
	}

	// The writer outlives ctx: it stops on the EOS buffer the feeder sends
	// once ctx is done.
	writeCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	written := make(chan error, 1)
	go func() {
		written <- e.write(writeCtx, w)
	}()

	n, err := e.feed(ctx, src)
	e.log.Infof("%d frames submitted", n)
	if err != nil {
		cancel()
		<-written
		return e.c.Stats(), err
	}

	select {
	case err = <-written:
	case <-time.After(stateTimeout):
		cancel()
		<-written
		err = errors.New("timed out waiting for the end of stream")
	}
	return e.c.Stats(), err
}

// Close brings the component back to Loaded, frees every buffer and
// closes it.
func (e *encoder) Close() error {
	if e.c.State() == hwvenc.StateExecuting {
		if err := e.setState(hwvenc.StateIdle); err != nil {
			return err
		}
		if err := e.waitState(hwvenc.StateIdle); err != nil {
			e.log.Warnf("%v", err)
		}
	}
	if e.c.State() == hwvenc.StateIdle {
		if err := e.setState(hwvenc.StateLoaded); err != nil {
			return err
		}
		e.freeBuffers()
		if err := e.waitState(hwvenc.StateLoaded); err != nil {
			e.log.Warnf("%v", err)
		}
	}
	return e.c.Close()
}

func (e *encoder) freeBuffers() {
	for _, bufs := range []struct {
		port    int
		headers []*buffer.Header
	}{{hwvenc.InputPort, e.in}, {hwvenc.OutputPort, e.out}} {
		for _, h := range bufs.headers {
			if err := e.c.FreeBuffer(bufs.port, h); err != nil {
				e.log.Warnf("free buffer %d of port %d: %v", h.ID, bufs.port, err)
			}
		}
	}
	e.in, e.out = nil, nil
}
