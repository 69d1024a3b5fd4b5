// Package driver defines the hardware video encoder interface the encoder
// pipeline drives: a parameter/control table (EncOps) and one buffer queue
// table (BufferOps) per hardware queue.
package driver

import (
	"context"
	"errors"

	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/frame"
)

var (
	// ErrIO is returned by Dequeue when the hardware reported an I/O error
	// for the buffer. The queue itself stays usable.
	ErrIO = errors.New("driver: i/o error")
	// ErrStopped is returned by Dequeue when the queue was stopped while
	// waiting.
	ErrStopped = errors.New("driver: queue stopped")
	// ErrInvalidIndex is returned when a buffer index wasn't set up.
	ErrInvalidIndex = errors.New("driver: invalid buffer index")
	// ErrClosed is returned by every operation after Finalize.
	ErrClosed = errors.New("driver: closed")
)

// Codec identifies the bitstream a session produces.
type Codec string

// Supported codecs.
const (
	CodecH264 Codec = "H264"
)

// FrameType is the coding type the hardware chose for a frame.
type FrameType int

// Frame types.
const (
	FrameTypeNotCoded FrameType = iota
	FrameTypeI
	FrameTypeIDR
	FrameTypeP
	FrameTypeB
	// FrameTypeHeader marks a stream header (SPS/PPS) output. Drivers report
	// it on every header, including the one after a new parameter block.
	FrameTypeHeader
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeNotCoded:
		return "not-coded"
	case FrameTypeI:
		return "I"
	case FrameTypeIDR:
		return "IDR"
	case FrameTypeP:
		return "P"
	case FrameTypeB:
		return "B"
	case FrameTypeHeader:
		return "header"
	}
	return "unknown"
}

// IsSync reports whether t can start decoding.
func (t FrameType) IsSync() bool {
	return t == FrameTypeI || t == FrameTypeIDR
}

// Request is one buffer submitted to a hardware queue.
type Request struct {
	// Index is the buffer slot the planes were registered with.
	Index  int
	Planes []buffer.Plane
	// Tag is echoed back on the output produced from this input.
	Tag int
	// EOS asks the hardware to drain every pending frame. The last output
	// of the drain is marked Last; it is empty when nothing was pending.
	EOS bool
}

// Completion is a buffer handed back by a hardware queue.
type Completion struct {
	Index int
	// BytesUsed is the payload size of a destination buffer.
	BytesUsed int
	// Tag is the tag of the input that produced this output, or -1.
	Tag       int
	FrameType FrameType
	// Last marks the final output of a drain.
	Last bool
}

// BufferOps drives one hardware queue.
type BufferOps interface {
	// Setup prepares count buffers for the queue.
	Setup(count int) error
	// Register binds planes to the buffer index, for shared memory modes.
	Register(index int, planes []buffer.Plane) error
	Enqueue(r Request) error
	// Dequeue waits for the next buffer the hardware is done with.
	Dequeue(ctx context.Context) (Completion, error)
	Run() error
	Stop() error
	// Clear forgets every buffer the queue owns, returning their indexes.
	Clear() []int
	// Count returns the number of buffers owned by the hardware.
	Count() int
}

// EncOps configures an encoder session.
type EncOps interface {
	SetEncParam(p EncParam) error
	SetBitRate(bps int) error
	SetFrameRate(fps float32) error
	SetIDRPeriod(frames int) error
	SetQPRange(r QPRange) error
	// RequestIDR forces the next coded frame to be an IDR.
	RequestIDR() error
	SetTemporalLayers(l TemporalLayers) error
	SetROI(r ROI) error
	// SetQoSRatio hints the hardware clock scaling, in percent of real time.
	SetQoSRatio(percent int) error
	// Finalize releases the session.
	Finalize() error
}

// Encoder is an open hardware encoder session.
type Encoder interface {
	EncOps
	Source() BufferOps
	Destination() BufferOps
	// InputFormat returns the pixel format the source queue consumes.
	InputFormat() frame.Format
	// PlaneCount returns the number of planes per source buffer.
	PlaneCount() int
}

// Opener opens a new encoder session for codec.
type Opener func(codec Codec) (Encoder, error)
