package mfcsim

import (
	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/driver"
)

type pendingFrame struct {
	index     int
	tag       int
	seed      byte
	bitRate   int
	frameRate float32
	forceIDR  bool
}

type codedFrame struct {
	pendingFrame
	typ driver.FrameType
	// last closes a drain. An empty frame only carries the mark.
	last  bool
	empty bool
}

// gop decides the coding type and order of frames. Frames waiting for their
// anchor are held until the anchor arrives or the stream drains.
type gop struct {
	held []pendingFrame
	// sinceIDR counts frames coded since the last IDR, -1 before the first.
	sinceIDR int
}

func (g *gop) reset() {
	g.held = nil
	g.sinceIDR = -1
}

func (g *gop) anchorType(f pendingFrame, idrPeriod int) driver.FrameType {
	if g.sinceIDR < 0 || f.forceIDR || (idrPeriod > 0 && g.sinceIDR >= idrPeriod) {
		g.sinceIDR = 0
		return driver.FrameTypeIDR
	}
	return driver.FrameTypeP
}

// push adds f and returns the frames that can be coded now, in coded order.
func (g *gop) push(f pendingFrame, bFrames, idrPeriod int) []codedFrame {
	if g.sinceIDR < 0 || bFrames == 0 {
		t := g.anchorType(f, idrPeriod)
		g.sinceIDR++
		return []codedFrame{{pendingFrame: f, typ: t}}
	}

	g.held = append(g.held, f)
	if len(g.held) <= bFrames {
		return nil
	}
	return g.flush(idrPeriod)
}

// flush codes every held frame: the last one as the anchor, the others as B
// frames referencing it.
func (g *gop) flush(idrPeriod int) []codedFrame {
	if len(g.held) == 0 {
		return nil
	}
	anchor := g.held[len(g.held)-1]
	out := make([]codedFrame, 0, len(g.held))
	out = append(out, codedFrame{pendingFrame: anchor, typ: g.anchorType(anchor, idrPeriod)})
	for _, f := range g.held[:len(g.held)-1] {
		out = append(out, codedFrame{pendingFrame: f, typ: driver.FrameTypeB})
	}
	g.sinceIDR += len(g.held)
	g.held = nil
	return out
}

func planesUsed(planes []buffer.Plane) int {
	var n int
	for _, p := range planes {
		n += p.Used
	}
	return n
}

// queueFrame takes an input buffer. Called with Encoder.mu held.
func (e *Encoder) queueFrame(r driver.Request) error {
	if !e.paramSet {
		return errNoParam
	}
	e.stats.SourceEnqueued++

	if planesUsed(r.Planes) == 0 {
		// Nothing to code: hand the buffer straight back.
		e.src.done.Enqueue(driver.Completion{Index: r.Index, Tag: r.Tag, FrameType: driver.FrameTypeNotCoded})
		if r.EOS {
			e.drain(r.Tag)
		}
		return nil
	}

	f := pendingFrame{
		index:     r.Index,
		tag:       r.Tag,
		seed:      seedOf(r.Planes),
		bitRate:   e.param.BitRate,
		frameRate: e.param.FrameRate,
		forceIDR:  e.forceIDR,
	}
	e.forceIDR = false

	e.code(e.gop.push(f, e.param.H264.NumberBFrames, e.param.IDRPeriod))
	if r.EOS {
		e.drain(r.Tag)
	}
	return nil
}

func (e *Encoder) code(frames []codedFrame) {
	e.pending = append(e.pending, frames...)
}

// drain codes every held frame and marks the final output. With nothing
// left to output, an empty buffer carries the mark.
func (e *Encoder) drain(tag int) {
	e.stats.SourceDrains++
	e.code(e.gop.flush(e.param.IDRPeriod))
	if n := len(e.pending); n > 0 && !e.pending[n-1].last {
		e.pending[n-1].last = true
		return
	}
	e.pending = append(e.pending, codedFrame{
		pendingFrame: pendingFrame{index: -1, tag: tag},
		typ:          driver.FrameTypeNotCoded,
		last:         true,
		empty:        true,
	})
}

// pump writes coded frames into free destination buffers. Called with
// Encoder.mu held.
func (e *Encoder) pump() {
	if !e.dst.running() || !e.paramSet {
		return
	}

	for len(e.dst.free) > 0 {
		out := e.dst.free[0]

		if !e.headerSent {
			n := writeHeader(out.Planes[0].Data, e.param)
			e.dst.free = e.dst.free[1:]
			e.dst.done.Enqueue(driver.Completion{Index: out.Index, BytesUsed: n, Tag: -1, FrameType: driver.FrameTypeHeader})
			e.headerSent = true
			e.stats.Headers++
			continue
		}

		if !e.src.running() || len(e.pending) == 0 {
			return
		}
		f := e.pending[0]
		e.pending = e.pending[1:]
		e.dst.free = e.dst.free[1:]

		if f.empty {
			e.dst.done.Enqueue(driver.Completion{Index: out.Index, Tag: f.tag, FrameType: f.typ, Last: true})
			continue
		}

		n := writeFrame(out.Planes[0].Data, f)
		e.dst.done.Enqueue(driver.Completion{Index: out.Index, BytesUsed: n, Tag: f.tag, FrameType: f.typ, Last: f.last})
		e.src.done.Enqueue(driver.Completion{Index: f.index, Tag: f.tag, FrameType: f.typ})
		e.history = append(e.history, Frame{Tag: f.tag, Type: f.typ, BitRate: f.bitRate, FrameRate: f.frameRate, Size: n})
		e.stats.Coded++
	}
}
