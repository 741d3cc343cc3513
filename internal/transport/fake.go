package transport

import (
	"context"
	"sync"

	"testfleet/internal/model"
)

// FakeAgent is a scriptable Commands implementation for tests and dry runs.
type FakeAgent struct {
	mu         sync.Mutex
	state      model.ExecutionState
	stateErr   error
	executeErr error
	executed   []ExecuteRequest
	terminated int
	polls      int
}

// NewFakeAgent returns an idle agent.
func NewFakeAgent() *FakeAgent {
	return &FakeAgent{state: model.ExecutionIdle}
}

// Execute implements Commands.
func (f *FakeAgent) Execute(_ context.Context, req ExecuteRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.executeErr != nil {
		return f.executeErr
	}
	f.executed = append(f.executed, req)
	f.state = model.ExecutionExecuting
	return nil
}

// State implements Commands.
func (f *FakeAgent) State(ctx context.Context) (model.ExecutionState, error) {
	f.mu.Lock()
	f.polls++
	state, err := f.state, f.stateErr
	f.mu.Unlock()
	if err != nil {
		return model.ExecutionUnknown, err
	}
	if ctx.Err() != nil {
		return model.ExecutionUnknown, ctx.Err()
	}
	return state, nil
}

// Terminate implements Commands.
func (f *FakeAgent) Terminate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated++
	f.state = model.ExecutionIdle
	return nil
}

// SetState sets the state reported by State.
func (f *FakeAgent) SetState(s model.ExecutionState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// FailState makes State fail with err until cleared with nil.
func (f *FakeAgent) FailState(err error) {
	f.mu.Lock()
	f.stateErr = err
	f.mu.Unlock()
}

// FailExecute makes Execute fail with err until cleared with nil.
func (f *FakeAgent) FailExecute(err error) {
	f.mu.Lock()
	f.executeErr = err
	f.mu.Unlock()
}

// Executed returns the accepted execute requests.
func (f *FakeAgent) Executed() []ExecuteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExecuteRequest(nil), f.executed...)
}

// Terminations returns how often Terminate was called.
func (f *FakeAgent) Terminations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

// Polls returns how often State was called.
func (f *FakeAgent) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}
