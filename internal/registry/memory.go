package registry

import (
	"context"
	"fmt"
	"sync"
)

// Op identifies an adapter operation for failure injection.
type Op string

const (
	OpList   Op = "list"
	OpStatus Op = "status"
	OpStart  Op = "start"
	OpStop   Op = "stop"
)

type memService struct {
	display string
	running bool
}

// Memory is an in-process registry. It backs tests and the "memory" backend
// used for dry runs on hosts without a service manager.
type Memory struct {
	mu       sync.Mutex
	order    []string
	services map[string]*memService
	failures map[string]map[Op]error
	listErr  error
	calls    map[Op]int
}

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		services: make(map[string]*memService),
		failures: make(map[string]map[Op]error),
		calls:    make(map[Op]int),
	}
}

// Add installs a service. Adding an existing name updates it in place.
func (m *Memory) Add(display, name string, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.services[name]; ok {
		s.display = display
		s.running = running
		return
	}
	m.order = append(m.order, name)
	m.services[name] = &memService{display: display, running: running}
}

// Remove uninstalls a service.
func (m *Memory) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// SetRunning changes the run state of an installed service without going through Start/Stop.
func (m *Memory) SetRunning(name string, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.services[name]; ok {
		s.running = running
	}
}

// Fail makes op on name return err until cleared with a nil err.
func (m *Memory) Fail(name string, op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op == OpList {
		m.listErr = err
		return
	}
	f, ok := m.failures[name]
	if !ok {
		f = make(map[Op]error)
		m.failures[name] = f
	}
	if err == nil {
		delete(f, op)
		return
	}
	f[op] = err
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *Memory) injected(name string, op Op) error {
	m.calls[op]++
	if f, ok := m.failures[name]; ok {
		return f[op]
	}
	return nil
}

func (m *Memory) List(_ context.Context) ([]Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[OpList]++
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]Service, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, Service{DisplayName: m.services[n].display, Name: n})
	}
	return out, nil
}

func (m *Memory) Status(_ context.Context, name string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(name, OpStatus); err != nil {
		return StatusUnknown, err
	}
	s, ok := m.services[name]
	if !ok {
		return StatusUnknown, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if s.running {
		return StatusRunning, nil
	}
	return StatusStopped, nil
}

func (m *Memory) Start(_ context.Context, name string) error {
	return m.control(name, OpStart, true)
}

func (m *Memory) Stop(_ context.Context, name string) error {
	return m.control(name, OpStop, false)
}

func (m *Memory) control(name string, op Op, running bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(name, op); err != nil {
		return err
	}
	s, ok := m.services[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if s.running == running {
		state := StatusStopped
		if running {
			state = StatusRunning
		}
		return fmt.Errorf("service %s already %s", name, state)
	}
	s.running = running
	return nil
}
