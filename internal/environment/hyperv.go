package environment

import (
	"context"
	"fmt"
	"time"

	"testfleet/internal/hypervisor"
	"testfleet/internal/model"
	"testfleet/internal/report"
	"testfleet/internal/retry"
	"testfleet/pkg/logging"
)

// HostResolver looks up the machine description of a Hyper-V host.
type HostResolver func(ctx context.Context, hostID string) (model.MachineDescription, error)

// Hyperv activates virtual machines on a Hyper-V host.
type Hyperv struct {
	backend  hypervisor.Backend
	hosts    HostResolver
	physical *Physical
	timing   Timing
	guard    retry.Guard
}

// NewHyperv returns the Hyper-V variant. Hosts are woken through physical.
func NewHyperv(backend hypervisor.Backend, hosts HostResolver, physical *Physical, timing Timing, guard retry.Guard) *Hyperv {
	return &Hyperv{backend: backend, hosts: hosts, physical: physical, timing: timing, guard: guard}
}

// Kind implements Variant.
func (h *Hyperv) Kind() model.MachineKind { return model.MachineHyperV }

func vmOf(machine model.MachineDescription) hypervisor.VM {
	return hypervisor.VM{Host: machine.Hyperv.HostID, Image: machine.Hyperv.Image}
}

// EnsureOnline implements Variant.
func (h *Hyperv) EnsureOnline(ctx context.Context, machine model.MachineDescription, section *report.Section) (Rollback, error) {
	if machine.Hyperv == nil {
		return nil, NewInvalidEnvironmentSpecificationError(machine.ID, "hyperv settings", "none")
	}

	host, err := h.hosts(ctx, machine.Hyperv.HostID)
	if err != nil {
		return nil, NewCouldNotLoadEnvironmentError(machine.ID, "host machine unknown", err)
	}
	if host.Kind != model.MachinePhysical {
		return nil, NewInvalidEnvironmentSpecificationError(host.ID, "physical host", string(host.Kind))
	}
	if err := h.physical.awaken(ctx, host, section); err != nil {
		return nil, NewCouldNotLoadEnvironmentError(machine.ID, "host machine is not available", err)
	}

	vm := vmOf(machine)
	state, err := retry.Value(ctx, h.guard, "state of "+vm.String(), func(ctx context.Context) (hypervisor.PowerState, error) {
		return h.backend.State(ctx, vm)
	})
	if err != nil {
		return nil, NewCouldNotLoadEnvironmentError(machine.ID, "power state query failed", err)
	}
	if state.InUse() {
		return nil, NewEnvironmentAlreadyInUseError(machine.ID, string(state))
	}

	section.Info("Starting virtual machine %s", vm)
	if err := h.guard.Do(ctx, "start "+vm.String(), func(ctx context.Context) error {
		return h.backend.Start(ctx, vm)
	}); err != nil {
		return nil, NewCouldNotLoadEnvironmentError(machine.ID, "virtual machine did not start", err)
	}

	rollback := func(ctx context.Context) {
		logging.Warn("Activator", "Rolling back virtual machine %s", vm)
		if err := h.teardown(ctx, machine, section); err != nil {
			logging.Error("Activator", err, "Rollback of %s failed", vm)
		}
	}
	return rollback, nil
}

// Teardown implements Variant.
func (h *Hyperv) Teardown(machine model.MachineDescription, section *report.Section) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return h.teardown(ctx, machine, section)
	}
}

// teardown stops the VM, waits for TurnedOff and restores the snapshot.
// Failures are written to the report section and returned.
func (h *Hyperv) teardown(ctx context.Context, machine model.MachineDescription, section *report.Section) error {
	vm := vmOf(machine)
	snapshot := machine.Hyperv.Snapshot
	fail := func(err error) error {
		ferr := NewFailedToRestoreEnvironmentError(machine.ID, snapshot, err)
		section.Error("%v", ferr)
		return ferr
	}

	if err := h.guard.Do(ctx, "terminate "+vm.String(), func(ctx context.Context) error {
		return h.backend.Terminate(ctx, vm)
	}); err != nil {
		return fail(err)
	}
	if err := h.waitTurnedOff(ctx, vm); err != nil {
		return fail(err)
	}
	if snapshot == "" {
		return nil
	}
	if err := h.guard.Do(ctx, "restore "+vm.String(), func(ctx context.Context) error {
		return h.backend.Restore(ctx, vm, snapshot)
	}); err != nil {
		return fail(err)
	}
	section.Info("Virtual machine %s restored to snapshot %s", vm, snapshot)
	return nil
}

func (h *Hyperv) waitTurnedOff(ctx context.Context, vm hypervisor.VM) error {
	deadline := time.Now().Add(h.timing.TurnOffTimeout)
	for {
		state, err := h.backend.State(ctx, vm)
		if err == nil && state == hypervisor.StateTurnedOff {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("virtual machine %s did not turn off within %s (last state %s)", vm, h.timing.TurnOffTimeout, state)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.timing.TurnOffPoll):
		}
	}
}
