// Package hwvenc is an OpenMAX IL style H.264 encoder component driving a
// hardware encoder.
//
// A client feeds raw frames with EmptyThisBuffer and collects bitstream with
// FillThisBuffer. Four goroutines move the buffers between the client and
// the hardware: SrcInput submits frames, SrcOutput reclaims them, DstInput
// submits bitstream buffers and DstOutput returns them filled.
package hwvenc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/hwvenc/internal/logging"
	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/codec"
	"github.com/pion/hwvenc/pkg/codec/h264"
	"github.com/pion/hwvenc/pkg/driver"
	"github.com/pion/hwvenc/pkg/io/video"
	"github.com/pion/hwvenc/pkg/omx"
	pionlogging "github.com/pion/logging"
)

var errClosed = omx.Errorf(omx.ErrInvalidState, "component closed")

type message struct {
	cmd   Command
	param int
}

// Stats counts the work done by a component.
type Stats struct {
	FramesIn  int64
	FramesOut int64
	BytesOut  int64
	Errors    int64
	// BitRate is the output bitrate measured over the last second, in bits
	// per second.
	BitRate float64
}

// Component is a hardware H.264 encoder component.
type Component struct {
	id    string
	log   pionlogging.LeveledLogger
	cb    Callbacks
	alloc buffer.Allocator
	opts  options

	enc     driver.Encoder
	adapter *h264.Adapter
	conv    *video.Converter

	mu      sync.Mutex
	state   State
	pending *State
	// unloading is set as soon as a transition to Loaded is requested, so
	// that the client may free its buffers right away.
	unloading bool
	cfg     h264.Config
	ports   [2]*port
	drc     bool
	roi     driver.ROI
	opRate  float32
	closed  bool

	wake *signal

	// srcQ and dstQ carry client buffers, srcFreeQ and dstFreeQ the copy
	// mode hardware slots.
	srcQ, srcFreeQ *buffer.Queue[buffer.Descriptor]
	dstQ, dstFreeQ *buffer.Queue[buffer.Descriptor]
	changes        *buffer.Queue[h264.Change]
	msgs           *buffer.Queue[message]

	srcGate, dstGate *gate

	// Client output buffers held back until the hardware runs, and
	// end-of-stream markers waiting for one. Guarded by the mutex of the
	// output port worker consuming dstQ.
	parked     []*buffer.Header
	pendingEOS []buffer.Descriptor

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	framesIn, framesOut, bytesOut, errs atomic.Int64
	tracker                             *codec.BitrateTracker
}

// New creates a component in the Loaded state and starts its goroutines.
func New(opts ...Option) (*Component, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Component{
		id:       uuid.New().String(),
		cb:       o.callbacks,
		alloc:    o.alloc,
		opts:     o,
		conv:     video.NewConverter(),
		state:    StateLoaded,
		cfg:      h264.DefaultConfig(),
		wake:     newSignal(),
		srcQ:     buffer.NewQueue[buffer.Descriptor](),
		srcFreeQ: buffer.NewQueue[buffer.Descriptor](),
		dstQ:     buffer.NewQueue[buffer.Descriptor](),
		dstFreeQ: buffer.NewQueue[buffer.Descriptor](),
		changes:  buffer.NewQueue[h264.Change](),
		msgs:     buffer.NewQueue[message](),
		srcGate:  newGate(),
		dstGate:  newGate(),
		tracker:  codec.NewBitrateTracker(time.Second),
	}
	if o.loggerFactory != nil {
		c.log = o.loggerFactory.NewLogger("hwvenc")
	} else {
		c.log = logging.NewLogger("hwvenc")
	}
	if c.alloc == nil {
		c.alloc = &buffer.HeapAllocator{}
	}

	c.enc = o.encoder
	if c.enc == nil {
		enc, err := driver.Manager.Open(o.driverName, driver.CodecH264)
		if err != nil {
			return nil, omx.Errorf(omx.ErrComponentNotFound, "open driver %q: %v", o.driverName, err)
		}
		c.enc = enc
	}

	adapter, err := h264.NewAdapter(c.enc, c.alloc, c.cfg)
	if err != nil {
		_ = c.enc.Finalize()
		return nil, err
	}
	c.adapter = adapter

	c.ports[InputPort] = newPort(InputPort, h264.DefaultInputCount)
	c.ports[OutputPort] = newPort(OutputPort, h264.DefaultOutputCount)

	c.ctx, c.cancel = context.WithCancel(context.Background())
	for _, loop := range []func(){c.messageLoop, c.srcInputLoop, c.srcOutputLoop, c.dstInputLoop, c.dstOutputLoop} {
		c.wg.Add(1)
		go loop()
	}

	c.log.Infof("%s: created", c.id)
	return c, nil
}

// ID returns the unique identifier of c.
func (c *Component) ID() string {
	return c.id
}

// State returns the current state.
func (c *Component) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the counters.
func (c *Component) Stats() Stats {
	return Stats{
		FramesIn:  c.framesIn.Load(),
		FramesOut: c.framesOut.Load(),
		BytesOut:  c.bytesOut.Load(),
		Errors:    c.errs.Load(),
		BitRate:   c.tracker.GetBitrate(),
	}
}

// StreamHeader returns the SPS and PPS of the stream, with their start
// codes, once the first output was produced.
func (c *Component) StreamHeader() (sps, pps []byte) {
	return c.adapter.Headers()
}

// Close stops the goroutines and the hardware, and releases every
// resource. Buffers still held by the client must not be used afterwards.
func (c *Component) Close() error {
	err := errClosed
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		c.wake.Notify()
		if err := c.adapter.Stop(AllPorts); err != nil {
			c.log.Warnf("%s: stop on close: %v", c.id, err)
		}
		c.wg.Wait()

		err = c.adapter.Close()
		if err != nil {
			c.log.Warnf("%s: close: %v", c.id, err)
		}

		c.mu.Lock()
		for _, p := range c.ports {
			for i, h := range p.headers {
				if h != nil && h.Private {
					c.alloc.Free(buffer.Plane{Data: h.Data, FD: h.FD, Size: h.AllocLen})
				}
				p.headers[i] = nil
			}
		}
		c.mu.Unlock()
		c.log.Infof("%s: closed", c.id)
	})
	return err
}

// SendCommand queues a command. Completion is reported by EventCmdComplete,
// failures by EventError. For CommandStateSet param is the target State,
// for the port commands a port index or AllPorts.
func (c *Component) SendCommand(cmd Command, param int) error {
	c.mu.Lock()
	closed, state := c.closed, c.state
	c.mu.Unlock()
	if closed || state == StateInvalid {
		return omx.Errorf(omx.ErrInvalidState, "component can't take commands")
	}

	switch cmd {
	case CommandStateSet:
		switch State(param) {
		case StateLoaded, StateIdle, StateExecuting, StatePause, StateInvalid:
		default:
			return omx.Errorf(omx.ErrBadParameter, "unknown state %d", param)
		}
	case CommandFlush, CommandPortDisable, CommandPortEnable:
		if param != AllPorts && param != InputPort && param != OutputPort {
			return omx.Errorf(omx.ErrBadPortIndex, "port %d", param)
		}
	case CommandMarkBuffer:
		return omx.Errorf(omx.ErrNotImplemented, "%s", cmd)
	default:
		return omx.Errorf(omx.ErrBadParameter, "unknown command %d", int(cmd))
	}

	if cmd == CommandStateSet && State(param) == StateLoaded && state == StateIdle {
		c.mu.Lock()
		c.unloading = true
		c.mu.Unlock()
	}
	c.msgs.Enqueue(message{cmd: cmd, param: param})
	return nil
}

func (c *Component) messageLoop() {
	defer c.wg.Done()

	for {
		m, err := c.msgs.Dequeue(c.ctx)
		if err != nil {
			return
		}
		c.log.Debugf("%s: %s %d", c.id, m.cmd, m.param)

		switch m.cmd {
		case CommandStateSet:
			c.setState(State(m.param))
		case CommandFlush:
			for _, p := range c.portsOf(m.param) {
				c.flush(p)
				c.emit(EventCmdComplete, uint32(CommandFlush), uint32(p.index))
			}
		case CommandPortDisable:
			for _, p := range c.portsOf(m.param) {
				c.disablePort(p)
			}
		case CommandPortEnable:
			for _, p := range c.portsOf(m.param) {
				c.enablePort(p)
			}
		}
	}
}

func (c *Component) portsOf(index int) []*port {
	if index == AllPorts {
		return c.ports[:]
	}
	return []*port{c.ports[index]}
}

func (c *Component) setState(target State) {
	c.mu.Lock()
	cur := c.state
	if target != StateLoaded || c.pending != nil {
		c.unloading = false
	}

	if target == cur {
		c.mu.Unlock()
		c.emit(EventError, uint32(ErrSameState), 0)
		return
	}
	if c.pending != nil {
		c.mu.Unlock()
		c.emit(EventError, uint32(ErrIncorrectStateTransition), 0)
		return
	}

	switch {
	case target == StateInvalid:
		c.state = StateInvalid
		c.mu.Unlock()
		c.cancel()
		c.wake.Notify()
		c.emit(EventError, uint32(ErrInvalidState), 0)
		return

	case cur == StateLoaded && target == StateIdle,
		cur == StateIdle && target == StateLoaded:
		c.pending = &target
		c.mu.Unlock()
		if target == StateLoaded {
			c.releaseSession()
		}
		c.settle()
		return

	case cur == StateIdle && target == StateExecuting,
		cur == StatePause && target == StateExecuting,
		cur == StateExecuting && target == StatePause,
		cur == StateIdle && target == StatePause:
		c.state = target
		c.mu.Unlock()

	case (cur == StateExecuting || cur == StatePause) && target == StateIdle:
		c.state = StateIdle
		c.mu.Unlock()
		c.wake.Notify()
		for _, p := range c.ports {
			c.flush(p)
		}

	default:
		c.mu.Unlock()
		c.log.Warnf("%s: %s -> %s is not allowed", c.id, cur, target)
		c.emit(EventError, uint32(ErrIncorrectStateTransition), 0)
		return
	}

	c.wake.Notify()
	c.log.Infof("%s: %s -> %s", c.id, cur, target)
	c.emit(EventCmdComplete, uint32(CommandStateSet), uint32(target))
}

type completion struct {
	cmd   Command
	param int
}

// settle completes the state transitions and port commands waiting for
// buffers to be allocated or freed.
func (c *Component) settle() {
	var done []completion

	c.mu.Lock()
	if c.pending != nil {
		target := *c.pending
		ready := false
		switch target {
		case StateIdle:
			ready = true
			for _, p := range c.ports {
				if p.enabled && !p.populated() {
					ready = false
				}
			}
		case StateLoaded:
			ready = true
			for _, p := range c.ports {
				if !p.empty() {
					ready = false
				}
			}
		}
		if ready {
			c.log.Infof("%s: %s -> %s", c.id, c.state, target)
			c.state = target
			c.pending = nil
			c.unloading = false
			done = append(done, completion{CommandStateSet, int(target)})
		}
	}
	for _, p := range c.ports {
		if p.pendingEnable && (c.state == StateLoaded || p.populated()) {
			p.pendingEnable = false
			done = append(done, completion{CommandPortEnable, p.index})
		}
		if p.pendingDisable && p.empty() {
			p.pendingDisable = false
			done = append(done, completion{CommandPortDisable, p.index})
		}
	}
	c.mu.Unlock()

	c.wake.Notify()
	for _, d := range done {
		c.emit(EventCmdComplete, uint32(d.cmd), uint32(d.param))
	}
}

// releaseSession gives every hardware buffer back so that the next frame
// sets the session up from scratch.
func (c *Component) releaseSession() {
	c.srcGate.Reset()
	c.dstGate.Reset()
	if err := c.adapter.Stop(AllPorts); err != nil {
		c.log.Warnf("%s: stop: %v", c.id, err)
	}

	for _, p := range c.ports {
		p.producer.Lock()
		p.consumer.Lock()
	}
	c.adapter.Release()
	c.srcFreeQ.Reset()
	c.dstFreeQ.Reset()
	for i := len(c.ports) - 1; i >= 0; i-- {
		c.ports[i].consumer.Unlock()
		c.ports[i].producer.Unlock()
	}

	c.mu.Lock()
	c.drc = false
	c.mu.Unlock()
}

func (c *Component) emit(e Event, data1, data2 uint32) {
	if c.cb.OnEvent != nil {
		c.cb.OnEvent(e, data1, data2)
	}
}

// report delivers a worker error to the client. Errors are only reported
// while executing.
func (c *Component) report(err error, port int) {
	c.errs.Add(1)
	c.log.Errorf("%s: port %d: %v", c.id, port, err)

	code := ErrUndefined
	errors.As(err, &code)

	c.mu.Lock()
	executing := c.state == StateExecuting
	c.mu.Unlock()
	if executing {
		c.emit(EventError, uint32(code), uint32(port))
	}
}

// fatal stops every worker. The component has to be closed and created
// again.
func (c *Component) fatal(err error) {
	c.report(err, InputPort)

	c.mu.Lock()
	c.state = StateInvalid
	c.mu.Unlock()
	c.cancel()
	c.wake.Notify()
}
