package environment

import (
	"context"
	"sync"
	"time"

	"testfleet/internal/model"
	"testfleet/internal/report"
	"testfleet/internal/retry"
	"testfleet/internal/transport"
	"testfleet/pkg/logging"
)

// Listener receives an environment's events, tagged with the owning test.
type Listener interface {
	OnEnvironmentProgress(env *ActiveEnvironment, testID int, sectionName string, section *report.Section)
	OnEnvironmentCompletion(env *ActiveEnvironment, testID int, result model.TestResult)
}

// ActiveEnvironment binds one claimed machine to one running test.
type ActiveEnvironment struct {
	machine  model.MachineDescription
	endpoint transport.Endpoint
	commands transport.Commands
	guard    retry.Guard
	// terminateTimeout bounds Terminate; zero means the default.
	terminateTimeout time.Duration
	section          *report.Section
	teardown         func(ctx context.Context) error
	onUnload         func(*ActiveEnvironment)

	mu          sync.Mutex
	testID      int
	failures    int
	terminated  bool
	shutdown    bool
	listeners   map[int]Listener
	nextID      int
	unsubscribe func()
}

func newActiveEnvironment(
	machine model.MachineDescription,
	endpoint transport.Endpoint,
	commands transport.Commands,
	events transport.Notifications,
	guard retry.Guard,
	terminateTimeout time.Duration,
	section *report.Section,
	teardown func(ctx context.Context) error,
	onUnload func(*ActiveEnvironment),
) *ActiveEnvironment {
	e := &ActiveEnvironment{
		machine:  machine,
		endpoint: endpoint,
		commands: commands,
		guard:    guard,
		section:  section,

		terminateTimeout: terminateTimeout,
		teardown:         teardown,
		onUnload:         onUnload,
		listeners:        make(map[int]Listener),
	}
	e.unsubscribe = events.Subscribe(e)
	return e
}

// ID returns the machine id.
func (e *ActiveEnvironment) ID() string { return e.machine.ID }

// Machine returns the machine description the environment runs on.
func (e *ActiveEnvironment) Machine() model.MachineDescription { return e.machine }

// Endpoint returns the agent endpoint.
func (e *ActiveEnvironment) Endpoint() transport.Endpoint { return e.endpoint }

// TestID returns the test the environment executes, or 0 before Execute.
func (e *ActiveEnvironment) TestID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.testID
}

// Terminated reports whether Terminate has been called.
func (e *ActiveEnvironment) Terminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated
}

// Subscribe registers l for the environment's events.
func (e *ActiveEnvironment) Subscribe(l Listener) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *ActiveEnvironment) snapshot() (int, []Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Listener, 0, len(e.listeners))
	for i := 0; i < e.nextID; i++ {
		if l, ok := e.listeners[i]; ok {
			out = append(out, l)
		}
	}
	return e.testID, out
}

// OnProgress implements transport.Listener.
func (e *ActiveEnvironment) OnProgress(p transport.Progress) {
	testID, listeners := e.snapshot()
	for _, l := range listeners {
		l.OnEnvironmentProgress(e, testID, p.SectionName, p.Section)
	}
}

// OnCompletion implements transport.Listener.
func (e *ActiveEnvironment) OnCompletion(c transport.Completion) {
	testID, listeners := e.snapshot()
	for _, l := range listeners {
		l.OnEnvironmentCompletion(e, testID, c.Result)
	}
}

// State polls the agent. Communication failures and timeouts yield
// model.ExecutionUnknown.
func (e *ActiveEnvironment) State(ctx context.Context, timeout time.Duration) model.ExecutionState {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	state, err := e.commands.State(ctx)
	if err != nil {
		logging.Debug("Environment", "State poll of %s failed: %v", e.machine.ID, err)
		return model.ExecutionUnknown
	}
	if !state.Known() {
		return model.ExecutionUnknown
	}
	return state
}

// RecordKeepAlive updates the keep-alive failure counter with the outcome
// of one poll and returns the new count.
func (e *ActiveEnvironment) RecordKeepAlive(state model.ExecutionState) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state.Known() {
		e.failures = 0
	} else {
		e.failures++
	}
	return e.failures
}

// KeepAliveFailures returns the number of consecutive failed polls.
func (e *ActiveEnvironment) KeepAliveFailures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}

// Execute starts the test on the agent and returns once the agent accepted
// it.
func (e *ActiveEnvironment) Execute(ctx context.Context, testID int, steps []model.TestStep, parameters []model.Parameter, callerEndpoint, uploadToken string) error {
	e.mu.Lock()
	e.testID = testID
	e.mu.Unlock()

	req := transport.ExecuteRequest{
		TestID:         testID,
		Steps:          steps,
		Parameters:     parameters,
		CallerEndpoint: callerEndpoint,
		UploadToken:    uploadToken,
	}
	err := e.guard.Do(ctx, "execute on "+e.machine.ID, func(ctx context.Context) error {
		return e.commands.Execute(ctx, req)
	})
	if err != nil {
		return NewTestExecutionFailureError(testID, e.machine.ID, err)
	}
	logging.Info("Environment", "Started test %d on %s with %d steps", testID, e.machine.ID, len(steps))
	return nil
}

// Terminate asks the agent to stop, waiting at most the terminate timeout.
// Failures are logged.
func (e *ActiveEnvironment) Terminate(ctx context.Context) {
	e.mu.Lock()
	e.terminated = true
	e.mu.Unlock()

	timeout := e.terminateTimeout
	if timeout <= 0 {
		timeout = DefaultTiming().TerminateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.commands.Terminate(ctx); err != nil {
		logging.Warn("Environment", "Failed to terminate execution on %s: %v", e.machine.ID, err)
	}
}

// Shutdown disconnects from the agent and tears the machine down. The
// unload callback runs even when teardown fails, except when the snapshot
// could not be restored: such a machine stays claimed until an operator
// releases it. Later calls are no-ops.
func (e *ActiveEnvironment) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil
	}
	e.shutdown = true
	unsubscribe := e.unsubscribe
	e.mu.Unlock()

	unsubscribe()
	var err error
	if e.teardown != nil {
		err = e.teardown(ctx)
	}
	if err != nil {
		logging.Error("Environment", err, "Teardown of %s failed", e.machine.ID)
	} else {
		logging.Info("Environment", "Shut down %s", e.machine.ID)
	}
	if IsFailedToRestoreEnvironment(err) {
		logging.Warn("Environment", "Keeping %s claimed, its state after the failed restore is unknown", e.machine.ID)
		return err
	}
	if e.onUnload != nil {
		e.onUnload(e)
	}
	return err
}
