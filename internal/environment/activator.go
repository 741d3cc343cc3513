package environment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"testfleet/internal/model"
	"testfleet/internal/report"
	"testfleet/internal/retry"
	"testfleet/internal/transport"
	"testfleet/pkg/logging"
)

// Timing bounds every wait of an activation.
type Timing struct {
	PingTimeout          time.Duration
	NetworkSignInTimeout time.Duration
	PingCycle            time.Duration
	SignInTimeout        time.Duration
	TurnOffTimeout       time.Duration
	TurnOffPoll          time.Duration
	TerminateTimeout     time.Duration
}

// DefaultTiming returns the default activation budgets.
func DefaultTiming() Timing {
	return Timing{
		PingTimeout:          2 * time.Second,
		NetworkSignInTimeout: 5 * time.Minute,
		PingCycle:            10 * time.Second,
		SignInTimeout:        5 * time.Minute,
		TurnOffTimeout:       2 * time.Minute,
		TurnOffPoll:          2 * time.Second,
		TerminateTimeout:     30 * time.Second,
	}
}

// Rollback undoes EnsureOnline when a later activation step fails.
type Rollback func(ctx context.Context)

// Variant holds the machine kind specific activation steps.
type Variant interface {
	Kind() model.MachineKind
	// EnsureOnline brings the machine up and returns its emergency shutdown.
	EnsureOnline(ctx context.Context, machine model.MachineDescription, section *report.Section) (Rollback, error)
	// Teardown returns the Shutdown action of the environment.
	Teardown(machine model.MachineDescription, section *report.Section) func(ctx context.Context) error
}

// Activator turns a machine description into an ActiveEnvironment.
type Activator struct {
	variant Variant
	hub     transport.Hub
	timing  Timing
	guard   retry.Guard
}

// NewActivator combines a variant with endpoint discovery on hub.
func NewActivator(variant Variant, hub transport.Hub, timing Timing, guard retry.Guard) *Activator {
	return &Activator{variant: variant, hub: hub, timing: timing, guard: guard}
}

// Kind returns the machine kind the activator handles.
func (a *Activator) Kind() model.MachineKind { return a.variant.Kind() }

// Load brings machine online and connects to its agent. onUnload runs when
// the returned environment shuts down.
func (a *Activator) Load(ctx context.Context, machine model.MachineDescription, section *report.Section, onUnload func(*ActiveEnvironment)) (*ActiveEnvironment, error) {
	if machine.Kind != a.variant.Kind() {
		return nil, NewInvalidEnvironmentSpecificationError(machine.ID, string(a.variant.Kind()), string(machine.Kind))
	}

	logging.Info("Activator", "Loading %s machine %s (%s)", machine.Kind, machine.ID, machine.NetworkName)
	section.Info("Activating %s machine %s", machine.Kind, machine.ID)

	rollback, err := a.variant.EnsureOnline(ctx, machine, section)
	if err != nil {
		section.Error("Machine %s could not be brought online: %v", machine.ID, err)
		return nil, err
	}

	endpoint, err := a.discover(ctx, machine.NetworkName)
	if err == nil {
		var commands transport.Commands
		var events transport.Notifications
		commands, err = a.hub.CommandsFor(endpoint)
		if err == nil {
			events, err = a.hub.NotificationsFor(endpoint)
		}
		if err == nil {
			env := newActiveEnvironment(machine, endpoint, commands, events, a.guard, a.timing.TerminateTimeout, section, a.variant.Teardown(machine, section), onUnload)
			section.Info("Machine %s connected through %s", machine.ID, endpoint.Name)
			return env, nil
		}
	}

	section.Error("No agent signed in from %s: %v", machine.NetworkName, err)
	if rollback != nil {
		rollback(context.WithoutCancel(ctx))
	}
	return nil, NewCouldNotLoadEnvironmentError(machine.ID, "agent endpoint not found", err)
}

// discover returns the agent endpoint for networkName, waiting up to the
// sign-in timeout. The sign-in hook is installed before the snapshot is
// checked so a concurrent sign-in cannot be missed.
func (a *Activator) discover(ctx context.Context, networkName string) (transport.Endpoint, error) {
	found := make(chan transport.Endpoint, 1)
	var once sync.Once
	cancel := a.hub.OnSignIn(func(ep transport.Endpoint) {
		if ep.Matches(networkName) {
			once.Do(func() { found <- ep })
		}
	})
	defer cancel()

	for _, ep := range a.hub.Endpoints() {
		if ep.Matches(networkName) {
			return ep, nil
		}
	}

	timer := time.NewTimer(a.timing.SignInTimeout)
	defer timer.Stop()
	select {
	case ep := <-found:
		return ep, nil
	case <-timer.C:
		return transport.Endpoint{}, fmt.Errorf("no sign-in from %s within %s", networkName, a.timing.SignInTimeout)
	case <-ctx.Done():
		return transport.Endpoint{}, ctx.Err()
	}
}

// Registry maps machine kinds to activators.
type Registry struct {
	activators map[model.MachineKind]*Activator
}

// NewRegistry returns a registry holding the given activators.
func NewRegistry(activators ...*Activator) *Registry {
	r := &Registry{activators: make(map[model.MachineKind]*Activator)}
	for _, a := range activators {
		r.activators[a.Kind()] = a
	}
	return r
}

// For returns the activator for the machine's kind.
func (r *Registry) For(machine model.MachineDescription) (*Activator, error) {
	a, ok := r.activators[machine.Kind]
	if !ok {
		return nil, NewInvalidEnvironmentSpecificationError(machine.ID, "a supported machine kind", string(machine.Kind))
	}
	return a, nil
}
