package hwvenc

import (
	"github.com/pion/hwvenc/pkg/buffer"
)

func (c *Component) gateOf(p *port) *gate {
	if p.index == InputPort {
		return c.srcGate
	}
	return c.dstGate
}

// flush gives every buffer queued on p back to its origin: client buffers
// return to the client empty, hardware slots to their free queue. The
// hardware queue is stopped first so that a worker blocked on it lets go
// of the port mutex.
func (c *Component) flush(p *port) {
	p.flushing.Store(true)
	c.wake.Notify()

	c.gateOf(p).Reset()
	if err := c.adapter.Stop(p.index); err != nil {
		c.log.Warnf("%s: port %d: stop: %v", c.id, p.index, err)
	}

	p.producer.Lock()
	p.consumer.Lock()

	held := c.adapter.Clear(p.index)
	var n int
	if p.index == InputPort {
		n = c.flushInput(held)
	} else {
		n = c.flushOutput(held)
	}

	p.consumer.Unlock()
	p.producer.Unlock()

	p.flushing.Store(false)
	c.wake.Notify()
	c.log.Debugf("%s: port %d: flushed, %d buffers returned", c.id, p.index, n)
}

func (c *Component) flushInput(held []buffer.Descriptor) int {
	n := 0
	for _, d := range c.srcQ.Reset() {
		c.emptyBufferDone(d.Header)
		n++
	}
	for _, d := range held {
		if d.Slot != nil {
			c.srcFreeQ.Enqueue(d)
			continue
		}
		c.emptyBufferDone(d.Header)
		n++
	}
	c.adapter.ResetTimestamps()
	return n
}

func (c *Component) flushOutput(held []buffer.Descriptor) int {
	n := 0
	for _, h := range c.parked {
		c.returnOutput(h)
		n++
	}
	c.parked = nil
	c.pendingEOS = nil

	for _, d := range c.dstQ.Reset() {
		if d.Kind == buffer.KindFrame {
			c.returnOutput(d.Header)
			n++
		}
	}

	slots := c.dstFreeQ.Reset()
	for _, d := range held {
		if d.Slot != nil {
			slots = append(slots, d)
			continue
		}
		c.returnOutput(d.Header)
		n++
	}

	// Copy mode slots go straight back to the hardware, which can't
	// produce anything without them.
	for i := range slots {
		if err := c.adapter.DstIn(&slots[i]); err != nil {
			c.log.Warnf("%s: reseed output slot %d: %v", c.id, slots[i].Slot.Index, err)
			c.dstFreeQ.Enqueue(slots[i])
		}
	}
	if len(slots) > 0 && c.adapter.Running(OutputPort) {
		c.dstGate.Open()
	}
	return n
}
