package driver

import (
	"fmt"
	"sort"
	"sync"
)

type manager struct {
	mu      sync.RWMutex
	openers map[string]Opener
}

// Manager is a singleton to manage the available encoder drivers
var Manager = &manager{
	openers: make(map[string]Opener),
}

// Register makes a driver available under name. Drivers register themselves
// from init.
func (m *manager) Register(name string, o Opener) error {
	if o == nil {
		return fmt.Errorf("driver %q: nil opener", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.openers[name]; ok {
		return fmt.Errorf("driver %q is already registered", name)
	}
	m.openers[name] = o
	return nil
}

// Open opens an encoder session for codec on the named driver.
func (m *manager) Open(name string, codec Codec) (Encoder, error) {
	m.mu.RLock()
	o, ok := m.openers[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("driver %q is not registered", name)
	}
	return o(codec)
}

// Query returns the names of every registered driver, sorted.
func (m *manager) Query() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]string, 0, len(m.openers))
	for name := range m.openers {
		results = append(results, name)
	}
	sort.Strings(results)
	return results
}
