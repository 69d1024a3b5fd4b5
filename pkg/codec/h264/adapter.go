// Package h264 binds the encoder pipeline to an H.264 hardware encoder. The
// Adapter owns the hardware session: it sets both hardware queues up on the
// first frame, correlates outputs back to inputs through frame tags, and
// applies parameter changes between frames.
package h264

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/hwvenc/internal/logging"
	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/driver"
	"github.com/pion/hwvenc/pkg/frame"
	"github.com/pion/hwvenc/pkg/omx"
)

// MaxTimestamp is the number of frame tags in flight the adapter can track.
const MaxTimestamp = 40

// Default buffer counts of the copy mode pools.
const (
	DefaultInputCount  = 3
	DefaultOutputCount = 4
)

var logger = logging.NewLogger("h264")

// SrcInResult tells the pipeline what SrcIn did with a buffer.
type SrcInResult int

const (
	// SrcInQueued means the buffer went to the hardware.
	SrcInQueued SrcInResult = iota
	// SrcInBypassed means the buffer was an empty end-of-stream that never
	// reached the hardware. The pipeline delivers the end-of-stream itself.
	SrcInBypassed
	// SrcInSkipped means the buffer was empty and can be returned at once.
	SrcInSkipped
)

type frameMeta struct {
	timestamp int64
	flags     buffer.Flag
}

type queueState struct {
	state   driver.State
	started bool
	pool    *buffer.Pool
	// headers maps share mode buffer indexes to the client headers the
	// hardware holds.
	headers map[int]*buffer.Header
}

// Adapter is an H.264 encoder session. SrcIn, SrcOut, DstIn and DstOut are
// each meant to be driven by their own goroutine.
type Adapter struct {
	enc   driver.Encoder
	alloc buffer.Allocator

	mu       sync.Mutex
	cfg      Config
	param    driver.EncParam
	src, dst queueState

	ring        [MaxTimestamp]*frameMeta
	tag         int
	outputIndex int
	drainTags   []int

	// outputSeen is only used to warn about a first output that isn't a
	// stream header.
	outputSeen bool
	sps, pps   []byte
}

// NewAdapter wraps an open encoder session. alloc backs the copy mode
// pools.
func NewAdapter(enc driver.Encoder, alloc buffer.Allocator, cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if alloc == nil {
		alloc = &buffer.HeapAllocator{}
	}
	a := &Adapter{
		enc:   enc,
		alloc: alloc,
		cfg:   cfg,
	}
	a.src.state = driver.StateClosed
	a.dst.state = driver.StateClosed
	a.src.headers = make(map[int]*buffer.Header)
	a.dst.headers = make(map[int]*buffer.Header)
	a.param = EncParam(cfg, enc.InputFormat())
	return a, nil
}

// Config returns the active configuration.
func (a *Adapter) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// SetConfig replaces the configuration. It takes effect on the next
// SrcSetup.
func (a *Adapter) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	a.cfg = cfg
	a.param = EncParam(cfg, a.enc.InputFormat())
	a.mu.Unlock()
	return nil
}

// Param returns the hardware parameter block derived from the
// configuration.
func (a *Adapter) Param() driver.EncParam {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.param
}

// InputFormat returns the pixel format the hardware consumes.
func (a *Adapter) InputFormat() frame.Format {
	return a.enc.InputFormat()
}

// InputPlaneSizes returns the size of every plane of a hardware input
// buffer for the current configuration.
func (a *Adapter) InputPlaneSizes() ([]int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inputPlaneSizes()
}

func (a *Adapter) inputPlaneSizes() ([]int, error) {
	w, h := a.cfg.EncodedSize()
	sizes, err := frame.PlaneSizes(a.enc.InputFormat(), w, h)
	if err != nil {
		return nil, err
	}
	planes := a.enc.PlaneCount()
	if planes < 1 || planes > buffer.MaxPlanes {
		return nil, fmt.Errorf("h264: hardware asks for %d planes", planes)
	}
	// Trailing planes are merged when the hardware wants fewer of them.
	for len(sizes) > planes {
		last := len(sizes) - 1
		sizes[last-1] += sizes[last]
		sizes = sizes[:last]
	}
	return sizes, nil
}

// Configured reports whether the queue of port is set up.
func (a *Adapter) Configured(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	q := a.queue(port)
	return q != nil && q.state != driver.StateClosed
}

// Running reports whether the hardware queue of port was started.
func (a *Adapter) Running(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	q := a.queue(port)
	return q != nil && q.started
}

// Pool returns the copy mode pool of port, or nil.
func (a *Adapter) Pool(port int) *buffer.Pool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if q := a.queue(port); q != nil {
		return q.pool
	}
	return nil
}

func (a *Adapter) queue(port int) *queueState {
	switch port {
	case omx.InputPortIndex:
		return &a.src
	case omx.OutputPortIndex:
		return &a.dst
	}
	return nil
}

func (a *Adapter) ops(port int) driver.BufferOps {
	if port == omx.InputPortIndex {
		return a.enc.Source()
	}
	return a.enc.Destination()
}

// SrcSetup binds the source queue on the first frame. It pushes the
// parameter block to the hardware and sets up the input buffers: a pool of
// its own in copy mode, the client buffers in share mode.
func (a *Adapter) SrcSetup(first buffer.Descriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.srcSetup(first)
}

func (a *Adapter) srcSetup(first buffer.Descriptor) error {
	sizes, err := a.inputPlaneSizes()
	if err != nil {
		return omx.Errorf(omx.ErrInsufficientResources, "input geometry: %v", err)
	}
	if a.cfg.InputMode == buffer.ModeShare {
		var frameSize int
		for _, s := range sizes {
			frameSize += s
		}
		if first.Header != nil && first.AllocSize < frameSize {
			return omx.Errorf(omx.ErrInsufficientResources, "input buffer of %d bytes, %d required", first.AllocSize, frameSize)
		}
	}

	a.param = EncParam(a.cfg, a.enc.InputFormat())
	if err := a.enc.SetEncParam(a.param); err != nil {
		return omx.Errorf(omx.ErrInsufficientResources, "set encoder parameters: %v", err)
	}

	count := a.cfg.InputCount
	if count <= 0 {
		count = DefaultInputCount
	}
	src := a.enc.Source()
	if err := src.Setup(count); err != nil {
		return omx.Errorf(omx.ErrInsufficientResources, "input queue setup: %v", err)
	}

	if a.cfg.InputMode == buffer.ModeCopy {
		pool, err := buffer.Allocate(a.alloc, omx.InputPortIndex, count, sizes, buffer.MemCacheable|buffer.MemContiguous)
		if err != nil {
			return err
		}
		for _, s := range pool.Slots() {
			if err := src.Register(s.Index, s.Planes[:s.NumPlanes]); err != nil {
				pool.Free()
				return omx.Errorf(omx.ErrInsufficientResources, "register input slot %d: %v", s.Index, err)
			}
		}
		a.src.pool = pool
	}

	a.src.state = driver.StateConfigured
	w, h := a.cfg.EncodedSize()
	logger.Infof("input set up: %dx%d %s, %d %s buffers of %v bytes",
		w, h, a.enc.InputFormat(), count, a.cfg.InputMode, sizes)
	return nil
}

// DstSetup binds the destination queue. In copy mode it allocates the
// bitstream pool and primes every buffer to the hardware, which can't
// start encoding without them.
func (a *Adapter) DstSetup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dstSetup()
}

func (a *Adapter) dstSetup() error {
	count := a.cfg.OutputCount
	if count <= 0 {
		count = DefaultOutputCount
	}
	dst := a.enc.Destination()
	if err := dst.Setup(count); err != nil {
		return omx.Errorf(omx.ErrInsufficientResources, "output queue setup: %v", err)
	}

	if a.cfg.OutputMode == buffer.ModeCopy {
		size := a.cfg.OutputSize
		if size <= 0 {
			size = DefaultOutputSize(a.cfg)
		}
		pool, err := buffer.Allocate(a.alloc, omx.OutputPortIndex, count, []int{size}, buffer.MemCacheable)
		if err != nil {
			return err
		}
		for _, s := range pool.Slots() {
			planes := s.Planes[:s.NumPlanes]
			if err := dst.Register(s.Index, planes); err != nil {
				pool.Free()
				return omx.Errorf(omx.ErrInsufficientResources, "register output slot %d: %v", s.Index, err)
			}
			if err := dst.Enqueue(driver.Request{Index: s.Index, Planes: planes}); err != nil {
				pool.Free()
				return omx.Errorf(omx.ErrInsufficientResources, "prime output slot %d: %v", s.Index, err)
			}
		}
		a.dst.pool = pool
	}

	a.dst.state = driver.StateConfigured
	logger.Infof("output set up: %d %s buffers", count, a.cfg.OutputMode)
	return nil
}

// DefaultOutputSize returns the bitstream buffer size suited to c.
func DefaultOutputSize(c Config) int {
	w, h := c.EncodedSize()
	size := w * h * 3 / 2
	if size < 64*1024 {
		size = 64 * 1024
	}
	return size
}

// planesOf returns the hardware planes d is carried in.
func (a *Adapter) planesOf(d *buffer.Descriptor, sizes []int) ([]buffer.Plane, error) {
	if d.Slot != nil {
		return append([]buffer.Plane(nil), d.Planes[:d.NumPlanes]...), nil
	}

	// A client buffer is cut along the hardware plane layout.
	data := d.Planes[0].Data
	planes := make([]buffer.Plane, 0, len(sizes))
	off := 0
	for _, size := range sizes {
		if off+size > len(data) {
			return nil, omx.Errorf(omx.ErrBadParameter, "client buffer of %d bytes is too small", len(data))
		}
		p := buffer.Plane{Data: data[off : off+size], FD: d.Planes[0].FD, Size: size}
		if d.DataLen > 0 {
			p.Used = size
		}
		planes = append(planes, p)
		off += size
	}
	return planes, nil
}

func indexOf(d *buffer.Descriptor) int {
	if d.Slot != nil {
		return d.Slot.Index
	}
	return d.Header.ID
}

// Bypass reports whether d can be dealt with without the hardware, and
// how. Empty buffers are skipped. An empty end-of-stream is bypassed while
// both hardware queues are idle; once they run it drains them instead.
func (a *Adapter) Bypass(d *buffer.Descriptor) (SrcInResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bypass(d)
}

func (a *Adapter) bypass(d *buffer.Descriptor) (SrcInResult, bool) {
	if d.DataLen != 0 {
		return SrcInQueued, false
	}
	if d.Flags&buffer.FlagEOS == 0 {
		return SrcInSkipped, true
	}
	if !a.src.started && !a.dst.started {
		logger.Debugf("bypassing empty end-of-stream at %d", d.Timestamp)
		return SrcInBypassed, true
	}
	return SrcInQueued, false
}

// SrcIn submits one input buffer. The first frame sets both queues up.
// An empty end-of-stream arriving before the hardware runs is bypassed;
// later ones drain the hardware.
func (a *Adapter) SrcIn(d *buffer.Descriptor) (SrcInResult, error) {
	if d.IsMarker() || (d.Slot == nil && d.Header == nil) {
		return 0, omx.Errorf(omx.ErrBadParameter, "SrcIn takes buffers, got %s", d.Kind)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if res, ok := a.bypass(d); ok {
		return res, nil
	}
	eos := d.Flags&buffer.FlagEOS != 0

	if a.src.state == driver.StateClosed {
		if err := a.srcSetup(*d); err != nil {
			return 0, err
		}
	}
	if a.dst.state == driver.StateClosed {
		if err := a.dstSetup(); err != nil {
			return 0, err
		}
	}

	sizes, err := a.inputPlaneSizes()
	if err != nil {
		return 0, err
	}
	planes, err := a.planesOf(d, sizes)
	if err != nil {
		return 0, err
	}

	tag := a.tag
	if a.ring[tag] != nil {
		logger.Warnf("frame tag %d still in use, overwriting", tag)
	}
	a.ring[tag] = &frameMeta{timestamp: d.Timestamp, flags: d.Flags &^ (buffer.FlagEOS | buffer.FlagEndOfFrame)}
	a.tag = (a.tag + 1) % MaxTimestamp
	if d.DataLen == 0 {
		// The meta of a drain request only matters when the drain has
		// nothing left to output.
		a.drainTags = append(a.drainTags, tag)
	}

	index := indexOf(d)
	if err := a.enc.Source().Enqueue(driver.Request{Index: index, Planes: planes, Tag: tag, EOS: eos}); err != nil {
		a.ring[tag] = nil
		return 0, omx.Errorf(omx.ErrCodecEncode, "enqueue input %d: %v", index, err)
	}
	if d.Header != nil {
		a.src.headers[index] = d.Header
	}

	if err := a.start(); err != nil {
		return 0, err
	}
	return SrcInQueued, nil
}

// start latches both queues running.
func (a *Adapter) start() error {
	if !a.src.started {
		if err := a.src.state.Update(driver.StateRunning, a.enc.Source().Run); err != nil {
			return omx.Errorf(omx.ErrHardware, "start input: %v", err)
		}
		a.src.started = true
	}
	if !a.dst.started {
		if err := a.dst.state.Update(driver.StateRunning, a.enc.Destination().Run); err != nil {
			return omx.Errorf(omx.ErrHardware, "start output: %v", err)
		}
		a.dst.started = true
	}
	return nil
}

// wrapDequeue maps driver dequeue failures to the pipeline errors.
func wrapDequeue(what string, err error) error {
	switch {
	case errors.Is(err, driver.ErrIO):
		return omx.Errorf(omx.ErrHardware, "%s: %v", what, err)
	case errors.Is(err, driver.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return omx.Errorf(omx.ErrCodecEncode, "%s: %v", what, err)
}

// SrcOut waits for the hardware to give an input buffer back and returns
// it, resolved to its pool slot or client header.
func (a *Adapter) SrcOut(ctx context.Context) (buffer.Descriptor, error) {
	c, err := a.enc.Source().Dequeue(ctx)
	if err != nil {
		return buffer.Descriptor{}, wrapDequeue("dequeue input", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolve(&a.src, c.Index)
}

func (a *Adapter) resolve(q *queueState, index int) (buffer.Descriptor, error) {
	if q.pool != nil {
		s := q.pool.Slot(index)
		if s == nil {
			return buffer.Descriptor{}, omx.Errorf(omx.ErrCodecEncode, "lost buffer: no slot %d", index)
		}
		return buffer.FromSlot(s), nil
	}
	h, ok := q.headers[index]
	if !ok {
		return buffer.Descriptor{}, omx.Errorf(omx.ErrCodecEncode, "lost buffer: no header %d", index)
	}
	delete(q.headers, index)
	return buffer.FromHeader(h), nil
}

// DstIn hands an empty bitstream buffer to the hardware and starts the
// output queue.
func (a *Adapter) DstIn(d *buffer.Descriptor) error {
	if d.IsMarker() || (d.Slot == nil && d.Header == nil) {
		return omx.Errorf(omx.ErrBadParameter, "DstIn takes buffers, got %s", d.Kind)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dst.state == driver.StateClosed {
		return omx.Errorf(omx.ErrIncorrectStateOperation, "output queue isn't set up")
	}

	index := indexOf(d)
	planes := []buffer.Plane{d.Planes[0]}
	if d.Slot != nil {
		planes = append([]buffer.Plane(nil), d.Planes[:d.NumPlanes]...)
	}
	if err := a.enc.Destination().Enqueue(driver.Request{Index: index, Planes: planes}); err != nil {
		return omx.Errorf(omx.ErrCodecEncode, "enqueue output %d: %v", index, err)
	}
	if d.Header != nil {
		a.dst.headers[index] = d.Header
	}

	if !a.dst.started {
		if err := a.dst.state.Update(driver.StateRunning, a.enc.Destination().Run); err != nil {
			return omx.Errorf(omx.ErrHardware, "start output: %v", err)
		}
		a.dst.started = true
	}
	return nil
}

// DstOut waits for a bitstream buffer and returns it with the timestamp
// and flags of the input it was coded from. Stream headers are told apart by
// the frame type the driver reports, so that frames of a previous session
// still queued on the output are not mistaken for the header of the next.
func (a *Adapter) DstOut(ctx context.Context) (buffer.Descriptor, error) {
	c, err := a.enc.Destination().Dequeue(ctx)
	if err != nil {
		return buffer.Descriptor{}, wrapDequeue("dequeue output", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	d, err := a.resolve(&a.dst, c.Index)
	if err != nil {
		return d, err
	}
	d.DataLen = c.BytesUsed
	d.RemainLen = 0
	d.Planes[0].Used = c.BytesUsed
	payload := d.Planes[0].Data[:c.BytesUsed]

	if !a.outputSeen && c.FrameType != driver.FrameTypeHeader {
		logger.Warnf("first output is a %s frame, not a stream header", c.FrameType)
	}
	a.outputSeen = true

	if c.FrameType == driver.FrameTypeHeader {
		sps, pps, err := SplitHeader(payload)
		if err != nil {
			logger.Warnf("malformed stream header: %v", err)
		} else {
			a.sps = append([]byte(nil), sps...)
			a.pps = append([]byte(nil), pps...)
			logger.Debugf("stream header: %d bytes SPS, %d bytes PPS", len(sps), len(pps))
		}
		d.Timestamp = 0
		d.Flags = buffer.FlagCodecConfig | buffer.FlagEndOfFrame
		return d, nil
	}

	d.Timestamp = 0
	d.Flags = 0
	meta := a.lookup(c.Tag)
	if meta != nil {
		d.Timestamp = meta.timestamp
		d.Flags = meta.flags
	}
	d.Flags |= buffer.FlagEndOfFrame
	if c.FrameType.IsSync() {
		d.Flags |= buffer.FlagSyncFrame
	}
	if c.Last {
		d.Flags |= buffer.FlagEOS
		for _, t := range a.drainTags {
			a.ring[t] = nil
		}
		a.drainTags = a.drainTags[:0]
	}
	a.outputIndex++
	return d, nil
}

// lookup recovers the meta of the input tagged tag. An out of range tag
// falls back to the running output index.
func (a *Adapter) lookup(tag int) *frameMeta {
	if tag < 0 || tag >= MaxTimestamp {
		fallback := a.outputIndex % MaxTimestamp
		logger.Warnf("frame tag %d out of range, using output index %d", tag, fallback)
		tag = fallback
	}
	meta := a.ring[tag]
	a.ring[tag] = nil
	if meta == nil {
		logger.Warnf("no timestamp recorded for frame tag %d", tag)
	}
	return meta
}

// Headers returns the SPS and PPS of the latest stream header, with their
// start codes.
func (a *Adapter) Headers() (sps, pps []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sps, a.pps
}

// Stop stops the hardware queue of port, or both for omx.AllPorts.
// Goroutines blocked in SrcOut or DstOut return driver.ErrStopped.
func (a *Adapter) Stop(port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, p := range ports(port) {
		q := a.queue(p)
		if q == nil {
			return omx.Errorf(omx.ErrBadPortIndex, "port %d", port)
		}
		if q.state != driver.StateRunning {
			q.started = false
			continue
		}
		if err := q.state.Update(driver.StateStopped, a.ops(p).Stop); err != nil {
			errs = append(errs, err)
		}
		q.started = false
	}
	return errors.Join(errs...)
}

func ports(port int) []int {
	if port == omx.AllPorts {
		return []int{omx.InputPortIndex, omx.OutputPortIndex}
	}
	return []int{port}
}

// Clear takes back every buffer the hardware queue of port holds and
// returns them. The queue must be stopped.
func (a *Adapter) Clear(port int) []buffer.Descriptor {
	a.mu.Lock()
	defer a.mu.Unlock()

	q := a.queue(port)
	if q == nil || q.state == driver.StateClosed {
		return nil
	}

	var out []buffer.Descriptor
	for _, index := range a.ops(port).Clear() {
		d, err := a.resolve(q, index)
		if err != nil {
			logger.Warnf("port %d: %v", port, err)
			continue
		}
		out = append(out, d)
	}
	return out
}

// ResetTimestamps forgets every frame tag in flight.
func (a *Adapter) ResetTimestamps() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ring = [MaxTimestamp]*frameMeta{}
	a.tag = 0
	a.outputIndex = 0
	a.drainTags = nil
}

// Release stops both queues and frees every hardware buffer. The next
// frame sets the session up from scratch.
func (a *Adapter) Release() {
	if err := a.Stop(omx.AllPorts); err != nil {
		logger.Warnf("stop on release: %v", err)
	}
	a.Clear(omx.InputPortIndex)
	a.Clear(omx.OutputPortIndex)

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, q := range []*queueState{&a.src, &a.dst} {
		q.pool.Free()
		q.pool = nil
		q.state = driver.StateClosed
		q.headers = make(map[int]*buffer.Header)
	}
	a.ring = [MaxTimestamp]*frameMeta{}
	a.tag = 0
	a.outputIndex = 0
	a.drainTags = nil
	a.outputSeen = false
}

// ReleaseInput stops the source queue and frees its buffers so that the
// next frame sets it up again with the current configuration. The client
// buffers the hardware held are returned.
func (a *Adapter) ReleaseInput() ([]buffer.Descriptor, error) {
	if err := a.Stop(omx.InputPortIndex); err != nil {
		return nil, err
	}
	held := a.Clear(omx.InputPortIndex)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.src.pool != nil {
		// Slots are owned by the pool, not the client.
		held = held[:0]
		a.src.pool.Free()
		a.src.pool = nil
	}
	a.src.state = driver.StateClosed
	a.src.headers = make(map[int]*buffer.Header)
	return held, nil
}

// Close stops the session and releases every resource. The adapter can't
// be used afterwards.
func (a *Adapter) Close() error {
	if err := a.Stop(omx.AllPorts); err != nil {
		logger.Warnf("stop on close: %v", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, q := range []*queueState{&a.src, &a.dst} {
		q.pool.Free()
		q.pool = nil
		q.state = driver.StateClosed
	}
	return a.enc.Finalize()
}
