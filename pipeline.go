package hwvenc

import (
	"context"
	"errors"

	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/codec/h264"
	"github.com/pion/hwvenc/pkg/driver"
	mio "github.com/pion/hwvenc/pkg/io"
	"github.com/pion/hwvenc/pkg/omx"
)

// runnable reports whether the workers of p may start a unit of work. It is
// false for good once the component is closing.
func (c *Component) runnable(p *port) bool {
	if c.ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateExecuting && p.enabled && !p.flushing.Load()
}

// waitRunnable blocks until p is enabled, the component executes and no
// flush runs on p. It returns false once the component is closing.
func (c *Component) waitRunnable(p *port) bool {
	for {
		wake := c.wake.Wait()
		if c.ctx.Err() != nil {
			return false
		}
		if c.runnable(p) {
			return true
		}
		select {
		case <-c.ctx.Done():
			return false
		case <-wake:
		}
	}
}

// await blocks until ready holds, a or b fires, or the component state
// changes. Callers re-check their condition under the port mutex. It
// returns false once the component is closing.
func (c *Component) await(ready func() bool, a, b <-chan struct{}) bool {
	wake := c.wake.Wait()
	if c.ctx.Err() != nil {
		return false
	}
	if ready() {
		return true
	}
	select {
	case <-c.ctx.Done():
		return false
	case <-wake:
	case <-a:
	case <-b:
	}
	return true
}

func (c *Component) inputMode() buffer.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.InputMode
}

func (c *Component) outputMode() buffer.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.OutputMode
}

// takeDRC reports and clears a pending resolution change.
func (c *Component) takeDRC() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	drc := c.drc
	c.drc = false
	return drc
}

func (c *Component) drcPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drc
}

// sessionConfig returns the configuration the hardware is set up with.
func (c *Component) sessionConfig() h264.Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := c.cfg
	if cfg.InputMode == buffer.ModeShare {
		cfg.InputCount = c.ports[InputPort].count()
	} else {
		// B frames are held by the hardware until their anchor arrives.
		cfg.InputCount = max(c.opts.inputSlots, cfg.H264.BFrames+2)
	}
	if cfg.OutputMode == buffer.ModeShare {
		cfg.OutputCount = c.ports[OutputPort].count()
	} else {
		cfg.OutputCount = c.opts.outputSlots
	}
	return cfg
}

func (c *Component) srcReady() bool {
	if c.srcQ.Len() == 0 {
		return false
	}
	return c.inputMode() == buffer.ModeShare ||
		!c.adapter.Configured(InputPort) ||
		c.srcFreeQ.Len() > 0 ||
		c.drcPending()
}

func (c *Component) srcInputLoop() {
	defer c.wg.Done()
	in := c.ports[InputPort]

	for c.waitRunnable(in) {
		if !c.await(c.srcReady, c.srcQ.Ready(), c.srcFreeQ.Ready()) {
			return
		}
		in.producer.Lock()
		if c.runnable(in) && c.srcReady() {
			c.srcInput(in)
		}
		in.producer.Unlock()
	}
	c.log.Debugf("%s: SrcInput exited", c.id)
}

// srcInput submits one client frame. Called with in.producer held.
func (c *Component) srcInput(in *port) {
	d, ok := c.srcQ.TryDequeue()
	if !ok {
		return
	}

	for {
		change, ok := c.changes.TryDequeue()
		if !ok {
			break
		}
		if err := c.adapter.ChangeParam(change); err != nil {
			c.report(err, OutputPort)
		}
	}

	if c.takeDRC() && c.adapter.Configured(InputPort) {
		c.resetInput(in)
	}

	if res, ok := c.adapter.Bypass(&d); ok {
		c.emptyBufferDone(d.Header)
		if res == h264.SrcInBypassed {
			c.dstQ.Enqueue(buffer.EOSMarker(d.Timestamp, d.Flags))
		}
		return
	}

	if !c.adapter.Configured(InputPort) {
		if err := c.bind(d); err != nil {
			c.emptyBufferDone(d.Header)
			c.fatal(err)
			return
		}
	}

	hw := d
	copyMode := c.inputMode() == buffer.ModeCopy
	if copyMode {
		slot, ok := c.srcFreeQ.TryDequeue()
		if !ok {
			c.log.Errorf("%s: no free input slot", c.id)
			c.emptyBufferDone(d.Header)
			return
		}
		if err := c.fill(&slot, &d); err != nil {
			c.srcFreeQ.Enqueue(slot)
			c.emptyBufferDone(d.Header)
			c.report(err, InputPort)
			return
		}
		// The frame lives in the slot now.
		c.emptyBufferDone(d.Header)
		hw = slot
	}

	if _, err := c.adapter.SrcIn(&hw); err != nil {
		if copyMode {
			c.srcFreeQ.Enqueue(buffer.FromSlot(hw.Slot))
		} else {
			c.emptyBufferDone(d.Header)
		}
		c.report(err, InputPort)
		return
	}
	if hw.DataLen > 0 {
		c.framesIn.Add(1)
	}

	if c.adapter.Running(InputPort) {
		c.srcGate.Open()
	}
	if c.adapter.Running(OutputPort) && c.dstGate.Open() && c.outputMode() == buffer.ModeShare {
		c.dstQ.Enqueue(buffer.StartMarker())
	}
}

// bind sets the hardware session up for the first frame.
func (c *Component) bind(first buffer.Descriptor) error {
	cfg := c.sessionConfig()
	if err := c.adapter.SetConfig(cfg); err != nil {
		return omx.Errorf(omx.ErrCodecInit, "%v", err)
	}
	hwFormat := c.adapter.InputFormat()
	if cfg.InputMode == buffer.ModeShare && (cfg.InputFormat != hwFormat || cfg.Rotation != 0) {
		return omx.Errorf(omx.ErrCodecInit, "shared input must be %s without rotation", hwFormat)
	}

	if err := c.adapter.SrcSetup(first); err != nil {
		return omx.Errorf(omx.ErrCodecInit, "%v", err)
	}
	if !c.adapter.Configured(OutputPort) {
		if err := c.adapter.DstSetup(); err != nil {
			return omx.Errorf(omx.ErrCodecInit, "%v", err)
		}
	}

	if cfg.InputMode == buffer.ModeCopy {
		c.srcFreeQ.Reset()
		for _, s := range c.adapter.Pool(InputPort).Slots() {
			c.srcFreeQ.Enqueue(buffer.FromSlot(s))
		}

		w, h := cfg.EncodedSize()
		if err := c.conv.SetSrcFormat(cfg.InputFormat, cfg.Width, cfg.Height); err != nil {
			return omx.Errorf(omx.ErrCodecInit, "%v", err)
		}
		if err := c.conv.SetRotation(cfg.Rotation); err != nil {
			return omx.Errorf(omx.ErrCodecInit, "%v", err)
		}
		if err := c.conv.SetDstFormat(hwFormat, w, h); err != nil {
			return omx.Errorf(omx.ErrCodecInit, "%v", err)
		}
	}

	c.log.Infof("%s: bound %dx%d %s -> %s, input %s, output %s",
		c.id, cfg.Width, cfg.Height, cfg.InputFormat, hwFormat, cfg.InputMode, cfg.OutputMode)
	return nil
}

// fill converts the client frame d into the hardware slot.
func (c *Component) fill(slot, d *buffer.Descriptor) error {
	slot.Timestamp = d.Timestamp
	slot.Flags = d.Flags
	slot.DataLen = 0
	if d.DataLen == 0 {
		return nil
	}

	sizes, err := c.adapter.InputPlaneSizes()
	if err != nil {
		return err
	}
	h := d.Header
	if _, err := c.conv.Convert(slot.PlaneData(), h.Data[h.Offset:h.Offset+d.DataLen]); err != nil {
		return omx.Errorf(omx.ErrBadParameter, "convert: %v", err)
	}
	for i, size := range sizes {
		slot.Planes[i].Used = size
		slot.DataLen += size
	}
	return nil
}

// resetInput releases the input side so that the next frame sets it up
// again with the new geometry. Called with in.producer held.
func (c *Component) resetInput(in *port) {
	c.srcGate.Reset()
	if err := c.adapter.Stop(InputPort); err != nil {
		c.log.Warnf("%s: stop input: %v", c.id, err)
	}

	in.consumer.Lock()
	held, err := c.adapter.ReleaseInput()
	c.srcFreeQ.Reset()
	in.consumer.Unlock()
	if err != nil {
		c.report(err, InputPort)
	}
	for _, d := range held {
		c.emptyBufferDone(d.Header)
	}

	c.log.Infof("%s: resolution change", c.id)
	c.emit(EventPortSettingsChanged, uint32(OutputPort), 0)
}

func (c *Component) srcOutputLoop() {
	defer c.wg.Done()
	in := c.ports[InputPort]

	for c.waitRunnable(in) {
		if !c.await(c.srcGate.IsOpen, c.srcGate.Done(), nil) {
			return
		}
		in.consumer.Lock()
		if c.runnable(in) && c.srcGate.IsOpen() {
			c.srcOutput()
		}
		in.consumer.Unlock()
	}
	c.log.Debugf("%s: SrcOutput exited", c.id)
}

// srcOutput reclaims one input buffer from the hardware.
func (c *Component) srcOutput() {
	d, err := c.adapter.SrcOut(c.ctx)
	if err != nil {
		c.dequeueFailed(err, InputPort)
		return
	}
	if d.Slot != nil {
		c.srcFreeQ.Enqueue(d)
		return
	}
	c.emptyBufferDone(d.Header)
}

func (c *Component) dequeueFailed(err error, port int) {
	switch {
	case errors.Is(err, driver.ErrStopped):
		c.log.Tracef("%s: port %d: hardware stopped", c.id, port)
	case errors.Is(err, context.Canceled):
	default:
		c.report(err, port)
	}
}

func (c *Component) dstInputLoop() {
	defer c.wg.Done()
	out := c.ports[OutputPort]

	for c.waitRunnable(out) {
		if c.outputMode() == buffer.ModeCopy {
			ready := func() bool { return c.dstFreeQ.Len() > 0 }
			if !c.await(ready, c.dstFreeQ.Ready(), nil) {
				return
			}
			out.producer.Lock()
			if c.runnable(out) {
				c.recycleOutput()
			}
			out.producer.Unlock()
			continue
		}

		ready := func() bool { return c.dstQ.Len() > 0 }
		if !c.await(ready, c.dstQ.Ready(), nil) {
			return
		}
		out.producer.Lock()
		if c.runnable(out) {
			c.dstInput()
		}
		out.producer.Unlock()
	}
	c.log.Debugf("%s: DstInput exited", c.id)
}

// recycleOutput hands a copy mode bitstream slot back to the hardware.
func (c *Component) recycleOutput() {
	d, ok := c.dstFreeQ.TryDequeue()
	if !ok {
		return
	}
	if err := c.adapter.DstIn(&d); err != nil {
		c.report(err, OutputPort)
		c.dstFreeQ.Enqueue(d)
	}
}

// dstInput takes one item of dstQ in share mode. Client buffers are held
// back until the hardware runs.
func (c *Component) dstInput() {
	d, ok := c.dstQ.TryDequeue()
	if !ok {
		return
	}

	switch {
	case d.Kind == buffer.KindStartMarker:
		parked := c.parked
		c.parked = nil
		for _, h := range parked {
			c.submitOutput(h)
		}
	case d.Kind == buffer.KindFrame && c.dstGate.IsOpen() && len(c.pendingEOS) == 0:
		c.submitOutput(d.Header)
	default:
		c.park(d)
	}
}

func (c *Component) submitOutput(h *buffer.Header) {
	d := buffer.FromHeader(h)
	if err := c.adapter.DstIn(&d); err != nil {
		c.report(err, OutputPort)
		c.returnOutput(h)
	}
}

// park holds a client output buffer back, or pairs it with an
// end-of-stream that never reached the hardware.
func (c *Component) park(d buffer.Descriptor) {
	switch d.Kind {
	case buffer.KindFrame:
		if len(c.pendingEOS) > 0 {
			m := c.pendingEOS[0]
			c.pendingEOS = c.pendingEOS[1:]
			c.deliverEOS(d.Header, m)
			return
		}
		c.parked = append(c.parked, d.Header)
	case buffer.KindEOSMarker:
		if len(c.parked) > 0 {
			h := c.parked[0]
			c.parked = c.parked[1:]
			c.deliverEOS(h, d)
			return
		}
		c.pendingEOS = append(c.pendingEOS, d)
	}
}

func (c *Component) deliverEOS(h *buffer.Header, m buffer.Descriptor) {
	h.FilledLen = 0
	h.Offset = 0
	h.Timestamp = m.Timestamp
	h.Flags = m.Flags
	c.fillBufferDone(h)
}

func (c *Component) dstOutputLoop() {
	defer c.wg.Done()
	out := c.ports[OutputPort]

	for c.waitRunnable(out) {
		if c.outputMode() == buffer.ModeCopy && !c.dstGate.IsOpen() {
			ready := func() bool { return c.dstQ.Len() > 0 || c.dstGate.IsOpen() }
			if !c.await(ready, c.dstQ.Ready(), c.dstGate.Done()) {
				return
			}
			out.consumer.Lock()
			if c.runnable(out) && !c.dstGate.IsOpen() {
				c.collectOutput()
			}
			out.consumer.Unlock()
			continue
		}

		if !c.await(c.dstGate.IsOpen, c.dstGate.Done(), nil) {
			return
		}
		out.consumer.Lock()
		if c.runnable(out) && c.dstGate.IsOpen() {
			if c.outputMode() == buffer.ModeCopy {
				c.dstOutputCopy(out)
			} else {
				c.dstOutputShare()
			}
		}
		out.consumer.Unlock()
	}
	c.log.Debugf("%s: DstOutput exited", c.id)
}

// collectOutput takes the client buffers of dstQ while the hardware hasn't
// started, in copy mode.
func (c *Component) collectOutput() {
	for {
		d, ok := c.dstQ.TryDequeue()
		if !ok {
			return
		}
		if d.Kind != buffer.KindStartMarker {
			c.park(d)
		}
	}
}

func (c *Component) dstOutputShare() {
	d, err := c.adapter.DstOut(c.ctx)
	if err != nil {
		c.dequeueFailed(err, OutputPort)
		return
	}
	h := d.Header
	h.FilledLen = d.DataLen
	h.Offset = 0
	h.Timestamp = d.Timestamp
	h.Flags = d.Flags
	c.fillBufferDone(h)
}

func (c *Component) dstOutputCopy(out *port) {
	d, err := c.adapter.DstOut(c.ctx)
	if err != nil {
		c.dequeueFailed(err, OutputPort)
		return
	}
	slot := buffer.FromSlot(d.Slot)

	h, ok := c.clientOutput(out)
	if !ok {
		c.dstFreeQ.Enqueue(slot)
		return
	}
	n, err := mio.Copy(h.Data, d.Planes[0].Data[:d.DataLen])
	if err != nil {
		c.report(omx.Errorf(omx.ErrInsufficientResources, "copy bitstream: %v", err), OutputPort)
	}
	h.FilledLen = n
	h.Offset = 0
	h.Timestamp = d.Timestamp
	h.Flags = d.Flags
	c.fillBufferDone(h)
	c.dstFreeQ.Enqueue(slot)
}

// clientOutput waits for a client buffer to copy bitstream into. It gives
// up when a flush starts or the component stops executing.
func (c *Component) clientOutput(out *port) (*buffer.Header, bool) {
	for {
		if len(c.parked) > 0 {
			h := c.parked[0]
			c.parked = c.parked[1:]
			return h, true
		}
		if d, ok := c.dstQ.TryDequeue(); ok {
			if d.Kind != buffer.KindStartMarker {
				c.park(d)
			}
			continue
		}

		wake := c.wake.Wait()
		if !c.runnable(out) {
			return nil, false
		}
		select {
		case <-c.ctx.Done():
			return nil, false
		case <-wake:
		case <-c.dstQ.Ready():
		}
	}
}
