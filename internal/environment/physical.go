package environment

import (
	"context"
	"fmt"
	"time"

	"testfleet/internal/model"
	"testfleet/internal/netwake"
	"testfleet/internal/report"
	"testfleet/pkg/logging"
)

// Physical activates machines that are powered on or woken over the
// network.
type Physical struct {
	pinger netwake.Pinger
	waker  netwake.Waker
	timing Timing
}

// NewPhysical returns the physical machine variant.
func NewPhysical(pinger netwake.Pinger, waker netwake.Waker, timing Timing) *Physical {
	return &Physical{pinger: pinger, waker: waker, timing: timing}
}

// Kind implements Variant.
func (p *Physical) Kind() model.MachineKind { return model.MachinePhysical }

// EnsureOnline implements Variant. Physical machines have nothing to roll
// back.
func (p *Physical) EnsureOnline(ctx context.Context, machine model.MachineDescription, section *report.Section) (Rollback, error) {
	if err := p.awaken(ctx, machine, section); err != nil {
		return nil, err
	}
	return nil, nil
}

func (p *Physical) awaken(ctx context.Context, machine model.MachineDescription, section *report.Section) error {
	if p.pinger.Ping(ctx, machine.NetworkName, p.timing.PingTimeout) {
		return nil
	}
	if !machine.CanWakeRemotely || machine.MACAddress == "" {
		return NewCouldNotLoadEnvironmentError(machine.ID, "machine is not answering and cannot be woken remotely", nil)
	}

	logging.Info("Activator", "Waking %s (%s)", machine.ID, machine.MACAddress)
	section.Info("Sending wake-up signal to %s", machine.MACAddress)
	if err := p.waker.Wake(ctx, machine.MACAddress); err != nil {
		return NewCouldNotLoadEnvironmentError(machine.ID, "wake-up signal failed", err)
	}

	deadline := time.Now().Add(p.timing.NetworkSignInTimeout)
	ticker := time.NewTicker(p.timing.PingCycle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return NewCouldNotLoadEnvironmentError(machine.ID, "activation cancelled", ctx.Err())
		case <-ticker.C:
		}
		if p.pinger.Ping(ctx, machine.NetworkName, p.timing.PingTimeout) {
			section.Info("Machine %s woke up", machine.ID)
			return nil
		}
		if time.Now().After(deadline) {
			return NewCouldNotLoadEnvironmentError(machine.ID,
				fmt.Sprintf("machine did not come online within %s", p.timing.NetworkSignInTimeout), nil)
		}
	}
}

// Teardown implements Variant. The machine stays powered.
func (p *Physical) Teardown(model.MachineDescription, *report.Section) func(ctx context.Context) error {
	return nil
}
