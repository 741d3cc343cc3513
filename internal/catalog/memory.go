package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"testfleet/internal/model"
)

// Memory is an in-process Repository.
type Memory struct {
	mu       sync.RWMutex
	nextID   int
	tests    map[int]model.Test
	machines map[string]model.MachineDescription
}

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{
		nextID:   1,
		tests:    make(map[int]model.Test),
		machines: make(map[string]model.MachineDescription),
	}
}

func (m *Memory) sortedTests(keep func(model.Test) bool) []model.Test {
	out := make([]model.Test, 0, len(m.tests))
	for _, t := range m.tests {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InactiveTests implements Repository.
func (m *Memory) InactiveTests(context.Context) ([]model.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedTests(model.Test.Queued), nil
}

// InactiveMachines implements Repository.
func (m *Memory) InactiveMachines(_ context.Context, env model.TestEnvironment) ([]model.MachineDescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.MachineDescription
	for _, md := range m.machines {
		if !md.IsActive && md.Satisfies(env) {
			out = append(out, md)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// StepsFor implements Repository.
func (m *Memory) StepsFor(_ context.Context, testID int, environment string) ([]model.TestStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[testID]
	if !ok {
		return nil, NewNotFoundError("test", strconv.Itoa(testID))
	}
	return t.StepsFor(environment), nil
}

func (m *Memory) setActive(id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.machines[id]
	if !ok {
		return NewNotFoundError("machine", id)
	}
	md.IsActive = active
	m.machines[id] = md
	return nil
}

// MarkMachineActive implements Repository.
func (m *Memory) MarkMachineActive(_ context.Context, id string) error {
	return m.setActive(id, true)
}

// MarkMachineInactive implements Repository.
func (m *Memory) MarkMachineInactive(_ context.Context, id string) error {
	return m.setActive(id, false)
}

func (m *Memory) updateTest(id int, fn func(*model.Test)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tests[id]
	if !ok {
		return NewNotFoundError("test", strconv.Itoa(id))
	}
	fn(&t)
	m.tests[id] = t
	return nil
}

// StartTest implements Repository.
func (m *Memory) StartTest(_ context.Context, id int, at time.Time) error {
	return m.updateTest(id, func(t *model.Test) { t.StartedAt = at })
}

// StopTest implements Repository.
func (m *Memory) StopTest(_ context.Context, id int, at time.Time) error {
	return m.updateTest(id, func(t *model.Test) { t.FinishedAt = at })
}

// AddTest implements Repository.
func (m *Memory) AddTest(_ context.Context, t model.Test) (int, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.nextID
	m.nextID++
	if t.SubmittedAt.IsZero() {
		t.SubmittedAt = time.Now()
	}
	m.tests[t.ID] = t
	return t.ID, nil
}

// Test implements Repository.
func (m *Memory) Test(_ context.Context, id int) (model.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[id]
	if !ok {
		return model.Test{}, NewNotFoundError("test", strconv.Itoa(id))
	}
	return t, nil
}

// Tests implements Repository.
func (m *Memory) Tests(context.Context) ([]model.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedTests(func(model.Test) bool { return true }), nil
}

// PutMachine implements Repository.
func (m *Memory) PutMachine(_ context.Context, md model.MachineDescription) error {
	if err := md.Validate(); err != nil {
		return fmt.Errorf("invalid machine: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.machines[md.ID]; ok {
		md.IsActive = old.IsActive
	}
	m.machines[md.ID] = md
	return nil
}

// Machine implements Repository.
func (m *Memory) Machine(_ context.Context, id string) (model.MachineDescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.machines[id]
	if !ok {
		return model.MachineDescription{}, NewNotFoundError("machine", id)
	}
	return md, nil
}

// Machines implements Repository.
func (m *Memory) Machines(context.Context) ([]model.MachineDescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.MachineDescription, 0, len(m.machines))
	for _, md := range m.machines {
		out = append(out, md)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close implements Repository.
func (m *Memory) Close() error { return nil }
