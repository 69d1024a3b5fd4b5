package mfcsim

import (
	"context"
	"fmt"
	"sort"

	"github.com/pion/hwvenc/pkg/buffer"
	"github.com/pion/hwvenc/pkg/driver"
)

// queue is one hardware queue. Every field is guarded by Encoder.mu.
type queue struct {
	enc   *Encoder
	name  string
	state driver.State
	count int

	registered map[int][]buffer.Plane
	owned      map[int]bool
	// free holds destination buffers waiting for a bitstream.
	free []driver.Request
	done *buffer.Queue[driver.Completion]
	stop chan struct{}

	ioErrors int
}

func newQueue(e *Encoder, name string) *queue {
	return &queue{
		enc:        e,
		name:       name,
		state:      driver.StateClosed,
		registered: make(map[int][]buffer.Plane),
		owned:      make(map[int]bool),
		done:       buffer.NewQueue[driver.Completion](),
		stop:       make(chan struct{}),
	}
}

func (q *queue) running() bool {
	return q.state == driver.StateRunning
}

// halt releases every waiter. Called with Encoder.mu held.
func (q *queue) halt() {
	select {
	case <-q.stop:
	default:
		close(q.stop)
	}
}

func (q *queue) Setup(count int) error {
	if count <= 0 || count > maxBuffers {
		return fmt.Errorf("mfcsim: %s: invalid buffer count %d", q.name, count)
	}

	q.enc.mu.Lock()
	defer q.enc.mu.Unlock()
	if q.enc.closed {
		return driver.ErrClosed
	}
	return q.state.Update(driver.StateConfigured, func() error {
		q.count = count
		q.registered = make(map[int][]buffer.Plane)
		q.owned = make(map[int]bool)
		q.free = nil
		q.done.Reset()
		return nil
	})
}

func (q *queue) Register(index int, planes []buffer.Plane) error {
	q.enc.mu.Lock()
	defer q.enc.mu.Unlock()
	if q.enc.closed {
		return driver.ErrClosed
	}
	if q.state == driver.StateClosed {
		return fmt.Errorf("mfcsim: %s: register before setup", q.name)
	}
	if index < 0 || index >= q.count {
		return fmt.Errorf("%w: %s %d", driver.ErrInvalidIndex, q.name, index)
	}
	q.registered[index] = append([]buffer.Plane(nil), planes...)
	return nil
}

func (q *queue) Enqueue(r driver.Request) error {
	q.enc.mu.Lock()
	defer q.enc.mu.Unlock()
	if q.enc.closed {
		return driver.ErrClosed
	}
	if q.state == driver.StateClosed {
		return fmt.Errorf("mfcsim: %s: enqueue before setup", q.name)
	}
	if r.Index < 0 || r.Index >= q.count {
		return fmt.Errorf("%w: %s %d", driver.ErrInvalidIndex, q.name, r.Index)
	}
	if q.owned[r.Index] {
		return fmt.Errorf("mfcsim: %s: buffer %d is already queued", q.name, r.Index)
	}
	if len(r.Planes) == 0 {
		r.Planes = q.registered[r.Index]
	}
	if len(r.Planes) == 0 {
		return fmt.Errorf("mfcsim: %s: buffer %d has no memory", q.name, r.Index)
	}

	q.owned[r.Index] = true
	if q == q.enc.dst {
		q.free = append(q.free, r)
	} else if err := q.enc.queueFrame(r); err != nil {
		delete(q.owned, r.Index)
		return err
	}
	q.enc.pump()
	return nil
}

func (q *queue) Dequeue(ctx context.Context) (driver.Completion, error) {
	failed := driver.Completion{Index: -1, Tag: -1}
	for {
		q.enc.mu.Lock()
		if q.enc.closed {
			q.enc.mu.Unlock()
			return failed, driver.ErrClosed
		}
		if q.ioErrors > 0 {
			q.ioErrors--
			q.enc.mu.Unlock()
			return failed, driver.ErrIO
		}
		c, ok := q.done.TryDequeue()
		if ok {
			delete(q.owned, c.Index)
		}
		running, stop := q.running(), q.stop
		q.enc.mu.Unlock()

		if ok {
			return c, nil
		}
		if !running {
			return failed, driver.ErrStopped
		}

		select {
		case <-ctx.Done():
			return failed, ctx.Err()
		case <-stop:
			return failed, driver.ErrStopped
		case <-q.done.Ready():
		}
	}
}

func (q *queue) Run() error {
	q.enc.mu.Lock()
	defer q.enc.mu.Unlock()
	if q.enc.closed {
		return driver.ErrClosed
	}
	err := q.state.Update(driver.StateRunning, func() error {
		q.stop = make(chan struct{})
		logger.Debugf("%s: stream on", q.name)
		return nil
	})
	if err != nil {
		return err
	}
	q.enc.pump()
	return nil
}

func (q *queue) Stop() error {
	q.enc.mu.Lock()
	defer q.enc.mu.Unlock()
	if q.enc.closed {
		return driver.ErrClosed
	}
	if q.state != driver.StateRunning {
		return nil
	}
	return q.state.Update(driver.StateStopped, func() error {
		q.halt()
		logger.Debugf("%s: stream off", q.name)
		return nil
	})
}

func (q *queue) Clear() []int {
	q.enc.mu.Lock()
	defer q.enc.mu.Unlock()

	indexes := make([]int, 0, len(q.owned))
	for i := range q.owned {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	q.owned = make(map[int]bool)
	q.free = nil
	q.done.Reset()
	if q == q.enc.src {
		q.enc.pending = nil
		q.enc.gop.reset()
	}
	return indexes
}

func (q *queue) Count() int {
	q.enc.mu.Lock()
	defer q.enc.mu.Unlock()
	return len(q.owned)
}
