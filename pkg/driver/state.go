package driver

import "fmt"

// State represents the state of one hardware queue.
type State string

const (
	// StateClosed means that no buffers were set up on the queue yet.
	StateClosed State = "closed"
	// StateConfigured means that the queue owns buffers but the hardware
	// isn't streaming.
	StateConfigured State = "configured"
	// StateRunning means that the hardware consumes or produces buffers.
	StateRunning State = "running"
	// StateStopped means that streaming was stopped. Buffers are still set
	// up and the queue can be started again.
	StateStopped State = "stopped"
)

// Update updates current state, s, to next. If f fails to execute,
// s will stay unchanged. Otherwise, s will be updated to next
func (s *State) Update(next State, f func() error) error {
	type checkFunc func() error
	m := map[State]checkFunc{
		StateClosed:     s.toClosed,
		StateConfigured: s.toConfigured,
		StateRunning:    s.toRunning,
		StateStopped:    s.toStopped,
	}

	check, ok := m[next]
	if !ok {
		return fmt.Errorf("invalid state: %q", next)
	}
	if err := check(); err != nil {
		return err
	}

	err := f()
	if err == nil {
		*s = next
	}
	return err
}

func (s *State) toClosed() error {
	if *s == StateRunning {
		return fmt.Errorf("invalid state: queue is running")
	}
	return nil
}

func (s *State) toConfigured() error {
	if *s == StateRunning {
		return fmt.Errorf("invalid state: queue is running")
	}
	return nil
}

func (s *State) toRunning() error {
	switch *s {
	case StateClosed:
		return fmt.Errorf("invalid state: queue has no buffers")
	case StateRunning:
		return fmt.Errorf("invalid state: queue is already running")
	}
	return nil
}

func (s *State) toStopped() error {
	if *s == StateClosed {
		return fmt.Errorf("invalid state: queue has no buffers")
	}
	return nil
}
