// Package buffer provides the buffer plumbing shared by the encoder pipeline:
// client buffer headers, hardware buffer pools and the stage queues that hand
// buffer ownership from one worker to the next.
package buffer

import "fmt"

// MaxPlanes is the maximum number of planes a buffer can carry.
const MaxPlanes = 3

// Flag is a bitset describing the content of a buffer.
type Flag uint32

// Buffer flags, matching the OMX_BUFFERFLAG_* bits.
const (
	FlagEOS         Flag = 0x00000001
	FlagEndOfFrame  Flag = 0x00000010
	FlagSyncFrame   Flag = 0x00000020
	FlagCodecConfig Flag = 0x00000080
)

func (f Flag) String() string {
	names := []struct {
		f    Flag
		name string
	}{
		{FlagEOS, "EOS"},
		{FlagEndOfFrame, "ENDOFFRAME"},
		{FlagSyncFrame, "SYNCFRAME"},
		{FlagCodecConfig, "CODECCONFIG"},
	}
	var s string
	for _, n := range names {
		if f&n.f == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += n.name
		f &^= n.f
	}
	if f != 0 {
		if s != "" {
			s += "|"
		}
		s += fmt.Sprintf("0x%x", uint32(f))
	}
	if s == "" {
		return "0"
	}
	return s
}

// Mode tells whether a port copies client data into buffers of its own or
// shares the client buffers with the hardware.
type Mode int

// Buffer modes.
const (
	ModeCopy Mode = iota
	ModeShare
)

func (m Mode) String() string {
	switch m {
	case ModeCopy:
		return "copy"
	case ModeShare:
		return "share"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Plane is one memory plane of a buffer. FD is the DMA handle of the plane,
// or -1 when the memory isn't shareable with hardware.
type Plane struct {
	Data []byte
	FD   int
	// Size is the allocated size of the plane.
	Size int
	// Used is the number of valid bytes in the plane.
	Used int
}

// Header is the client-visible buffer header exchanged through
// EmptyThisBuffer/FillThisBuffer and returned by the done callbacks.
type Header struct {
	// ID identifies the header within its port. In share mode it is also the
	// buffer index handed to the hardware.
	ID        int
	PortIndex int
	Data      []byte
	FD        int
	AllocLen  int
	FilledLen int
	Offset    int
	// Timestamp is the presentation time in microseconds.
	Timestamp int64
	Flags     Flag
	// Private is set when the component allocated Data.
	Private bool
	AppData interface{}
}

// Slot is one hardware-registered buffer of a Pool. Index identifies the slot
// in every call into the hardware driver.
type Slot struct {
	Index     int
	Planes    [MaxPlanes]Plane
	NumPlanes int
	freed     bool
}

// PlaneData returns the memory of every plane of s.
func (s *Slot) PlaneData() [][]byte {
	data := make([][]byte, s.NumPlanes)
	for i := 0; i < s.NumPlanes; i++ {
		data[i] = s.Planes[i].Data
	}
	return data
}

// Kind distinguishes real buffers from the markers sharing the same queues.
type Kind int

const (
	// KindFrame carries a client header or a pool slot.
	KindFrame Kind = iota
	// KindEOSMarker carries the timestamp and flags of an end-of-stream that
	// never reached the hardware.
	KindEOSMarker
	// KindStartMarker tells the destination side the hardware was started.
	KindStartMarker
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindEOSMarker:
		return "eos-marker"
	case KindStartMarker:
		return "start-marker"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Descriptor is one unit of media crossing a stage boundary. Exactly one of
// Header and Slot is set for KindFrame descriptors.
type Descriptor struct {
	Kind      Kind
	Planes    [MaxPlanes]Plane
	NumPlanes int
	AllocSize int
	DataLen   int
	UsedLen   int
	RemainLen int
	Timestamp int64
	Flags     Flag

	Header *Header
	Slot   *Slot
}

// FromHeader builds a frame descriptor over a client buffer.
func FromHeader(h *Header) Descriptor {
	d := Descriptor{
		Kind:      KindFrame,
		NumPlanes: 1,
		AllocSize: h.AllocLen,
		DataLen:   h.FilledLen,
		RemainLen: h.FilledLen,
		Timestamp: h.Timestamp,
		Flags:     h.Flags,
		Header:    h,
	}
	d.Planes[0] = Plane{Data: h.Data, FD: h.FD, Size: h.AllocLen, Used: h.FilledLen}
	return d
}

// FromSlot builds a frame descriptor over a pool slot.
func FromSlot(s *Slot) Descriptor {
	d := Descriptor{
		Kind:      KindFrame,
		NumPlanes: s.NumPlanes,
		Slot:      s,
	}
	for i := 0; i < s.NumPlanes; i++ {
		d.Planes[i] = s.Planes[i]
		d.Planes[i].Used = 0
		d.AllocSize += s.Planes[i].Size
	}
	return d
}

// EOSMarker builds a marker for an end-of-stream bypassing the hardware.
func EOSMarker(timestamp int64, flags Flag) Descriptor {
	return Descriptor{Kind: KindEOSMarker, Timestamp: timestamp, Flags: flags | FlagEOS}
}

// StartMarker builds a marker announcing the hardware start.
func StartMarker() Descriptor {
	return Descriptor{Kind: KindStartMarker}
}

// IsMarker reports whether d carries no buffer.
func (d *Descriptor) IsMarker() bool {
	return d.Kind != KindFrame
}

// Reset empties d once its ownership has moved on.
func (d *Descriptor) Reset() {
	*d = Descriptor{}
}

// PlaneData returns the memory of every plane of d.
func (d *Descriptor) PlaneData() [][]byte {
	data := make([][]byte, d.NumPlanes)
	for i := 0; i < d.NumPlanes; i++ {
		data[i] = d.Planes[i].Data
	}
	return data
}
