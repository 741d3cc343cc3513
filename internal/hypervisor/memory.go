package hypervisor

import (
	"context"
	"fmt"
	"sync"
)

type memoryVM struct {
	state     PowerState
	snapshots []string
	restored  []string
	starts    int
	stops     int
}

// Memory is an in-process Backend. Start moves a machine to Running and
// Terminate to TurnedOff, unless StopDelay polls are configured.
type Memory struct {
	mu         sync.Mutex
	vms        map[VM]*memoryVM
	StopDelay  int
	RestoreErr error
	StartErr   error
	pending    map[VM]int
}

// NewMemory returns an empty backend.
func NewMemory() *Memory {
	return &Memory{vms: make(map[VM]*memoryVM), pending: make(map[VM]int)}
}

// Define adds a machine in the given state with the given snapshots.
func (m *Memory) Define(vm VM, state PowerState, snapshots ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vms[vm] = &memoryVM{state: state, snapshots: snapshots}
}

func (m *Memory) lookup(vm VM) (*memoryVM, error) {
	v, ok := m.vms[vm]
	if !ok {
		return nil, fmt.Errorf("unknown virtual machine %s", vm)
	}
	return v, nil
}

// State implements Backend.
func (m *Memory) State(_ context.Context, vm VM) (PowerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.lookup(vm)
	if err != nil {
		return StateUnknown, err
	}
	if v.state == StateStopping {
		if m.pending[vm] > 0 {
			m.pending[vm]--
		} else {
			v.state = StateTurnedOff
		}
	}
	return v.state, nil
}

// Start implements Backend.
func (m *Memory) Start(_ context.Context, vm VM) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.lookup(vm)
	if err != nil {
		return err
	}
	if m.StartErr != nil {
		return m.StartErr
	}
	v.starts++
	v.state = StateRunning
	return nil
}

// Terminate implements Backend.
func (m *Memory) Terminate(_ context.Context, vm VM) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.lookup(vm)
	if err != nil {
		return err
	}
	v.stops++
	if m.StopDelay > 0 {
		v.state = StateStopping
		m.pending[vm] = m.StopDelay
		return nil
	}
	v.state = StateTurnedOff
	return nil
}

// Snapshots implements Backend.
func (m *Memory) Snapshots(_ context.Context, vm VM) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.lookup(vm)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.snapshots...), nil
}

// Restore implements Backend.
func (m *Memory) Restore(_ context.Context, vm VM, snapshot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.lookup(vm)
	if err != nil {
		return err
	}
	if m.RestoreErr != nil {
		return m.RestoreErr
	}
	for _, s := range v.snapshots {
		if s == snapshot {
			v.restored = append(v.restored, snapshot)
			return nil
		}
	}
	return fmt.Errorf("virtual machine %s has no snapshot %q", vm, snapshot)
}

// Restored returns the snapshots restored on vm, in order.
func (m *Memory) Restored(vm VM) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.vms[vm]; ok {
		return append([]string(nil), v.restored...)
	}
	return nil
}

// Starts returns how often vm was started.
func (m *Memory) Starts(vm VM) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.vms[vm]; ok {
		return v.starts
	}
	return 0
}
