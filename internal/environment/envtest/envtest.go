// Package envtest provides helpers for tests that need live environments
// without real machines.
package envtest

import (
	"context"
	"sync"
	"time"

	"testfleet/internal/environment"
	"testfleet/internal/model"
	"testfleet/internal/report"
	"testfleet/internal/retry"
	"testfleet/internal/transport"
)

// Pinger answers for every host not listed in Down.
type Pinger struct {
	mu   sync.Mutex
	Down map[string]bool
}

// Ping implements netwake.Pinger.
func (p *Pinger) Ping(_ context.Context, host string, _ time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.Down[host]
}

// Waker accepts every wake-up request.
type Waker struct{}

// Wake implements netwake.Waker.
func (Waker) Wake(context.Context, string) error { return nil }

// Timing returns activation budgets short enough for tests.
func Timing() environment.Timing {
	return environment.Timing{
		PingTimeout:          time.Millisecond,
		NetworkSignInTimeout: 20 * time.Millisecond,
		PingCycle:            time.Millisecond,
		SignInTimeout:        50 * time.Millisecond,
		TurnOffTimeout:       20 * time.Millisecond,
		TurnOffPoll:          time.Millisecond,
		TerminateTimeout:     50 * time.Millisecond,
	}
}

// Guard returns a retry guard without noticeable delays.
func Guard() retry.Guard {
	g := retry.NewGuard(2)
	g.InitialInterval = time.Millisecond
	g.MaxInterval = time.Millisecond
	return g
}

// PhysicalActivator returns an activator for physical machines on hub.
func PhysicalActivator(hub transport.Hub) *environment.Activator {
	return environment.NewActivator(environment.NewPhysical(&Pinger{}, Waker{}, Timing()), hub, Timing(), Guard())
}

// Machine returns a physical machine description with network name
// "<id>.lab".
func Machine(id string, os string, apps ...model.Application) model.MachineDescription {
	return model.MachineDescription{
		ID:              id,
		Kind:            model.MachinePhysical,
		NetworkName:     id + ".lab",
		OperatingSystem: model.OperatingSystem{Name: os},
		Applications:    apps,
	}
}

// Agent signs a fake agent in for machine and returns it.
func Agent(hub *transport.MemoryHub, machine model.MachineDescription) *transport.FakeAgent {
	agent := transport.NewFakeAgent()
	hub.SignIn(transport.Endpoint{Name: machine.NetworkName}, agent)
	return agent
}

// Load activates machine on hub with a fresh fake agent.
func Load(ctx context.Context, hub *transport.MemoryHub, machine model.MachineDescription) (*environment.ActiveEnvironment, *transport.FakeAgent, error) {
	agent := Agent(hub, machine)
	env, err := PhysicalActivator(hub).Load(ctx, machine, report.NewSection(report.SectionInitialization), nil)
	return env, agent, err
}
