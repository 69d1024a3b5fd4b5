package hwvenc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/codec/h264"
	"github.com/pion/hwvenc/pkg/frame"
	"github.com/pion/hwvenc/pkg/omx"
	"github.com/pion/hwvenc/pkg/prop"
)

// port is one direction of the component. Fields other than the mutexes
// and flushing are guarded by Component.mu.
type port struct {
	index    int
	enabled  bool
	minCount int
	// headers holds the client buffers by ID, nil for an unused ID.
	headers []*buffer.Header

	pendingEnable, pendingDisable bool

	flushing atomic.Bool
	// producer serializes the worker feeding the hardware, consumer the one
	// draining it. Flush takes both, producer first.
	producer, consumer sync.Mutex
}

func newPort(index, count int) *port {
	return &port{
		index:    index,
		enabled:  true,
		minCount: 1,
		headers:  make([]*buffer.Header, count),
	}
}

func (p *port) count() int {
	return len(p.headers)
}

func (p *port) populated() bool {
	for _, h := range p.headers {
		if h == nil {
			return false
		}
	}
	return true
}

func (p *port) empty() bool {
	for _, h := range p.headers {
		if h != nil {
			return false
		}
	}
	return true
}

func (p *port) freeID() int {
	for i, h := range p.headers {
		if h == nil {
			return i
		}
	}
	return -1
}

// PortDefinition describes a port.
type PortDefinition struct {
	Port int
	// Enabled and Populated are read-only.
	Enabled   bool
	Populated bool

	BufferCountActual int
	// BufferCountMin and BufferSize are read-only.
	BufferCountMin int
	BufferSize     int
	// Mode is read-only here, see IndexParamBufferMode.
	Mode buffer.Mode

	// Video is the client frame geometry on the input port and the encoded
	// geometry on the output port.
	Video   prop.Video
	BitRate int
}

func (c *Component) port(index int) (*port, error) {
	if index != InputPort && index != OutputPort {
		return nil, omx.Errorf(omx.ErrBadPortIndex, "port %d", index)
	}
	return c.ports[index], nil
}

// definition is called with c.mu held.
func (c *Component) definition(p *port) PortDefinition {
	cfg := c.cfg
	def := PortDefinition{
		Port:              p.index,
		Enabled:           p.enabled,
		Populated:         p.populated(),
		BufferCountActual: p.count(),
		BufferCountMin:    p.minCount,
		BitRate:           cfg.BitRate,
	}
	if p.index == InputPort {
		def.Mode = cfg.InputMode
		def.Video = prop.Video{
			Width:       cfg.Width,
			Height:      cfg.Height,
			FrameRate:   cfg.FrameRate,
			FrameFormat: cfg.InputFormat,
		}
		def.BufferSize, _ = frame.Size(cfg.InputFormat, cfg.Width, cfg.Height)
		return def
	}

	w, h := cfg.EncodedSize()
	def.Mode = cfg.OutputMode
	def.Video = prop.Video{Width: w, Height: h, FrameRate: cfg.FrameRate}
	def.BufferSize = cfg.OutputSize
	if def.BufferSize <= 0 {
		def.BufferSize = h264.DefaultOutputSize(cfg)
	}
	return def
}

// canPopulate is called with c.mu held.
func (c *Component) canPopulate(p *port) error {
	if c.closed || c.state == StateInvalid {
		return errClosed
	}
	if c.state == StateLoaded || !p.enabled || p.pendingEnable {
		return nil
	}
	return omx.Errorf(omx.ErrIncorrectStateOperation, "port %d can't take buffers in %s", p.index, c.state)
}

// UseBuffer registers a client allocated buffer on a port. It is allowed in
// the Loaded state and on disabled ports.
func (c *Component) UseBuffer(port int, appData interface{}, data []byte) (*buffer.Header, error) {
	p, err := c.port(port)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	h, err := c.addBuffer(p, appData, data, -1, false)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.settle()
	return h, nil
}

// AllocateBuffer allocates a buffer of size bytes from the component
// allocator and registers it on a port.
func (c *Component) AllocateBuffer(port int, appData interface{}, size int) (*buffer.Header, error) {
	p, err := c.port(port)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if err := c.canPopulate(p); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	plane, err := c.alloc.Alloc(size, buffer.MemCacheable)
	if err != nil {
		c.mu.Unlock()
		return nil, omx.Errorf(omx.ErrInsufficientResources, "allocate %d bytes: %v", size, err)
	}
	h, err := c.addBuffer(p, appData, plane.Data, plane.FD, true)
	if err != nil {
		c.alloc.Free(plane)
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.settle()
	return h, nil
}

// addBuffer is called with c.mu held.
func (c *Component) addBuffer(p *port, appData interface{}, data []byte, fd int, private bool) (*buffer.Header, error) {
	if err := c.canPopulate(p); err != nil {
		return nil, err
	}
	def := c.definition(p)
	if len(data) < def.BufferSize {
		return nil, omx.Errorf(omx.ErrBadParameter, "port %d: buffer of %d bytes, %d required", p.index, len(data), def.BufferSize)
	}
	id := p.freeID()
	if id < 0 {
		return nil, omx.Errorf(omx.ErrInsufficientResources, "port %d already has %d buffers", p.index, p.count())
	}

	h := &buffer.Header{
		ID:        id,
		PortIndex: p.index,
		Data:      data,
		FD:        fd,
		AllocLen:  len(data),
		Private:   private,
		AppData:   appData,
	}
	p.headers[id] = h
	c.log.Debugf("%s: port %d: buffer %d registered", c.id, p.index, id)
	return h, nil
}

// FreeBuffer unregisters a buffer and releases it when the component
// allocated it. Freeing a buffer of an enabled port outside of a transition
// to Loaded reports ErrPortUnpopulated.
func (c *Component) FreeBuffer(port int, h *buffer.Header) error {
	p, err := c.port(port)
	if err != nil {
		return err
	}
	if h == nil {
		return omx.Errorf(omx.ErrBadParameter, "nil buffer")
	}

	c.mu.Lock()
	if h.ID < 0 || h.ID >= p.count() || p.headers[h.ID] != h {
		c.mu.Unlock()
		return omx.Errorf(omx.ErrBadParameter, "port %d: unknown buffer %d", p.index, h.ID)
	}
	p.headers[h.ID] = nil
	if h.Private {
		c.alloc.Free(buffer.Plane{Data: h.Data, FD: h.FD, Size: h.AllocLen})
	}
	unpopulated := c.state != StateLoaded && p.enabled && !p.pendingDisable && !c.unloading &&
		(c.pending == nil || *c.pending != StateLoaded)
	c.mu.Unlock()

	if unpopulated {
		c.emit(EventError, uint32(ErrPortUnpopulated), uint32(p.index))
	}
	c.settle()
	return nil
}

// exchange checks h can be handed to the component. Called with c.mu held.
func (c *Component) exchange(p *port, h *buffer.Header) error {
	if c.closed || c.state == StateInvalid {
		return errClosed
	}
	if c.state != StateExecuting && c.state != StatePause {
		return omx.Errorf(omx.ErrIncorrectStateOperation, "buffers can't be exchanged in %s", c.state)
	}
	if !p.enabled {
		return omx.Errorf(omx.ErrIncorrectStateOperation, "port %d is disabled", p.index)
	}
	if h == nil || h.PortIndex != p.index || h.ID < 0 || h.ID >= p.count() || p.headers[h.ID] != h {
		return omx.Errorf(omx.ErrBadParameter, "buffer doesn't belong to port %d", p.index)
	}
	return nil
}

// EmptyThisBuffer submits a raw frame. FilledLen is either zero or at least
// the frame size of the input port. The buffer comes back through
// OnEmptyBufferDone.
func (c *Component) EmptyThisBuffer(h *buffer.Header) error {
	p := c.ports[InputPort]

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.exchange(p, h); err != nil {
		return err
	}
	size, err := frame.Size(c.cfg.InputFormat, c.cfg.Width, c.cfg.Height)
	if err != nil {
		return omx.Errorf(omx.ErrBadParameter, "%v", err)
	}
	if h.FilledLen != 0 && h.FilledLen < size {
		return omx.Errorf(omx.ErrBadParameter, "frame of %d bytes, %d required", h.FilledLen, size)
	}
	if h.Offset < 0 || h.Offset+h.FilledLen > len(h.Data) {
		return omx.Errorf(omx.ErrBadParameter, "data range %d+%d exceeds the buffer", h.Offset, h.FilledLen)
	}

	c.srcQ.Enqueue(buffer.FromHeader(h))
	return nil
}

// FillThisBuffer submits an empty bitstream buffer. It comes back through
// OnFillBufferDone.
func (c *Component) FillThisBuffer(h *buffer.Header) error {
	p := c.ports[OutputPort]

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.exchange(p, h); err != nil {
		return err
	}

	h.FilledLen = 0
	h.Offset = 0
	h.Flags = 0
	c.dstQ.Enqueue(buffer.FromHeader(h))
	return nil
}

func (c *Component) emptyBufferDone(h *buffer.Header) {
	h.FilledLen = 0
	h.Offset = 0
	if c.cb.OnEmptyBufferDone != nil {
		c.cb.OnEmptyBufferDone(h)
	}
}

// fillBufferDone returns a filled output buffer and accounts for it.
func (c *Component) fillBufferDone(h *buffer.Header) {
	if h.FilledLen > 0 && h.Flags&buffer.FlagCodecConfig == 0 {
		c.framesOut.Add(1)
		c.bytesOut.Add(int64(h.FilledLen))
		c.tracker.AddFrame(h.FilledLen, time.Now())
	}
	if c.cb.OnFillBufferDone != nil {
		c.cb.OnFillBufferDone(h)
	}
	if h.Flags&buffer.FlagEOS != 0 {
		c.log.Debugf("%s: end of stream at %d", c.id, h.Timestamp)
		c.emit(EventBufferFlag, uint32(OutputPort), uint32(h.Flags))
	}
}

// returnOutput gives an unused output buffer back.
func (c *Component) returnOutput(h *buffer.Header) {
	h.FilledLen = 0
	h.Offset = 0
	h.Timestamp = 0
	h.Flags = 0
	if c.cb.OnFillBufferDone != nil {
		c.cb.OnFillBufferDone(h)
	}
}

func (c *Component) enablePort(p *port) {
	c.mu.Lock()
	if p.enabled {
		c.mu.Unlock()
		c.emit(EventCmdComplete, uint32(CommandPortEnable), uint32(p.index))
		return
	}
	p.enabled = true
	p.pendingEnable = true
	c.mu.Unlock()
	c.settle()
}

func (c *Component) disablePort(p *port) {
	c.mu.Lock()
	if !p.enabled {
		c.mu.Unlock()
		c.emit(EventCmdComplete, uint32(CommandPortDisable), uint32(p.index))
		return
	}
	p.enabled = false
	p.pendingDisable = true
	c.mu.Unlock()
	c.wake.Notify()

	c.flush(p)
	c.settle()
}
