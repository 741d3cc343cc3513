package hypervisor

import (
	"context"
	"fmt"
	"strings"
)

// PowerState is the power state of a virtual machine.
type PowerState string

const (
	StateUnknown   PowerState = "Unknown"
	StateStarting  PowerState = "Starting"
	StateRunning   PowerState = "Running"
	StatePaused    PowerState = "Paused"
	StateStopping  PowerState = "Stopping"
	StateTurnedOff PowerState = "TurnedOff"
)

// ParsePowerState maps backend output to a PowerState. Unrecognized output
// yields StateUnknown.
func ParsePowerState(s string) PowerState {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "")) {
	case "starting":
		return StateStarting
	case "running":
		return StateRunning
	case "paused", "saved":
		return StatePaused
	case "stopping":
		return StateStopping
	case "turnedoff", "off", "poweroff", "poweredoff", "shutoff":
		return StateTurnedOff
	}
	return StateUnknown
}

// InUse reports whether a machine in this state must not be taken over.
func (s PowerState) InUse() bool {
	return s == StateRunning || s == StatePaused
}

// VM addresses one virtual machine on a host.
type VM struct {
	Host  string
	Image string
}

func (v VM) String() string {
	return fmt.Sprintf("%s/%s", v.Host, v.Image)
}

// Backend is the virtual machine capability. All calls are synchronous.
type Backend interface {
	State(ctx context.Context, vm VM) (PowerState, error)
	Start(ctx context.Context, vm VM) error
	Terminate(ctx context.Context, vm VM) error
	Snapshots(ctx context.Context, vm VM) ([]string, error)
	Restore(ctx context.Context, vm VM, snapshot string) error
}
