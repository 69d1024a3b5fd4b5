package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/pion/hwvenc/internal/logging"
	"github.com/pion/hwvenc/pkg/omx"
)

var logger = logging.NewLogger("buffer")

// MemAttr selects the memory attributes of an allocation.
type MemAttr uint8

// Memory attributes.
const (
	MemCacheable MemAttr = 1 << iota
	MemSecure
	MemContiguous
)

// Allocator is the shared-memory allocator backing hardware buffers.
type Allocator interface {
	Alloc(size int, attr MemAttr) (Plane, error)
	Free(p Plane)
}

// HeapAllocator serves allocations from the Go heap and hands out
// synthetic DMA handles. It is what software codecs and tests use.
type HeapAllocator struct {
	nextFD int32
}

// Alloc implements Allocator.
func (a *HeapAllocator) Alloc(size int, attr MemAttr) (Plane, error) {
	if size <= 0 {
		return Plane{}, omx.Errorf(omx.ErrBadParameter, "invalid allocation size %d", size)
	}
	fd := int(atomic.AddInt32(&a.nextFD, 1))
	return Plane{Data: make([]byte, size), FD: fd, Size: size}, nil
}

// Free implements Allocator.
func (a *HeapAllocator) Free(p Plane) {}

// Pool is a fixed set of hardware-capable buffers allocated once and
// recycled for the lifetime of a codec session.
type Pool struct {
	mu    sync.Mutex
	port  int
	alloc Allocator
	slots []*Slot
}

// Allocate creates count slots, each with one plane per entry of sizes.
// When any plane fails to allocate, everything allocated so far is released
// and an omx.ErrInsufficientResources error is returned.
func Allocate(alloc Allocator, port, count int, sizes []int, attr MemAttr) (*Pool, error) {
	if count <= 0 || len(sizes) == 0 || len(sizes) > MaxPlanes {
		return nil, omx.Errorf(omx.ErrBadParameter, "invalid pool shape: %d slots, %d planes", count, len(sizes))
	}

	p := &Pool{
		port:  port,
		alloc: alloc,
		slots: make([]*Slot, 0, count),
	}
	for i := 0; i < count; i++ {
		s := &Slot{Index: i, NumPlanes: len(sizes)}
		p.slots = append(p.slots, s)
		for j, size := range sizes {
			plane, err := alloc.Alloc(size, attr)
			if err != nil {
				logger.Errorf("port %d: failed to allocate plane %d of slot %d (%d bytes): %v", port, j, i, size, err)
				s.NumPlanes = j
				p.Free()
				return nil, omx.Errorf(omx.ErrInsufficientResources, "port %d: slot %d plane %d: %v", port, i, j, err)
			}
			s.Planes[j] = plane
		}
	}

	logger.Debugf("port %d: allocated %d slots with planes %v", port, count, sizes)
	return p, nil
}

// Free releases the memory of every slot. Calling Free more than once is
// harmless.
func (p *Pool) Free() {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.slots {
		if s.freed {
			continue
		}
		for j := 0; j < s.NumPlanes; j++ {
			p.alloc.Free(s.Planes[j])
			s.Planes[j] = Plane{}
		}
		s.freed = true
	}
}

// Port returns the port the pool belongs to.
func (p *Pool) Port() int {
	return p.port
}

// Len returns the number of slots.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.slots)
}

// Slot returns the slot with the given index, or nil.
func (p *Pool) Slot(index int) *Slot {
	if p == nil || index < 0 || index >= len(p.slots) {
		return nil
	}
	return p.slots[index]
}

// Slots returns every slot of the pool.
func (p *Pool) Slots() []*Slot {
	if p == nil {
		return nil
	}
	return p.slots
}
