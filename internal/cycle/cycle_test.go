package cycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testfleet/internal/activetest"
	"testfleet/internal/environment/envtest"
	"testfleet/internal/metrics"
	"testfleet/internal/model"
	"testfleet/internal/report"
	"testfleet/internal/transport"
)

type countingActivator struct {
	calls atomic.Int32
	block chan struct{}
	enter chan struct{}
}

func (a *countingActivator) ActivateTests(context.Context) {
	a.calls.Add(1)
	if a.enter != nil {
		a.enter <- struct{}{}
	}
	if a.block != nil {
		<-a.block
	}
}

type completions struct {
	mu  sync.Mutex
	got []activetest.Completion
}

func (c *completions) add(x activetest.Completion) {
	c.mu.Lock()
	c.got = append(c.got, x)
	c.mu.Unlock()
}

func (c *completions) list() []activetest.Completion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]activetest.Completion(nil), c.got...)
}

func runningTest(t *testing.T, storage *activetest.Storage, hub *transport.MemoryHub, id int, machine string) *transport.FakeAgent {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, storage.Add(id, report.NewBuilder(model.Test{ID: id, ProductName: "p"}), nil))
	env, agent, err := envtest.Load(ctx, hub, envtest.Machine(machine, "Windows"))
	require.NoError(t, err)
	require.NoError(t, storage.AddEnvironmentForTest(id, env))
	require.NoError(t, env.Execute(ctx, id, nil, nil, "", ""))
	require.NoError(t, storage.MarkActivated(id))
	return agent
}

func TestTickActivatesThenPolls(t *testing.T) {
	hub := transport.NewMemoryHub()
	storage := activetest.New()
	agent := runningTest(t, storage, hub, 1, "server")
	act := &countingActivator{}

	c := New(act, storage, Options{Interval: 50 * time.Millisecond})
	assert.True(t, c.Tick(context.Background()))
	assert.Equal(t, int32(1), act.calls.Load())
	assert.Equal(t, 1, agent.Polls())
}

func TestKeepAliveEscalation(t *testing.T) {
	hub := transport.NewMemoryHub()
	storage := activetest.New()
	done := &completions{}
	storage.OnCompletion(done.add)
	agent := runningTest(t, storage, hub, 7, "server")
	agent.FailState(errors.New("agent unreachable"))

	m := metrics.New()
	c := New(&countingActivator{}, storage, Options{Interval: 20 * time.Millisecond, MaxKeepAliveFailures: 10, Metrics: m})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.True(t, c.Tick(ctx))
	}
	storage.Wait()
	assert.Empty(t, done.list())
	assert.Equal(t, 0, agent.Terminations())

	require.True(t, c.Tick(ctx))
	storage.Wait()
	assert.Equal(t, []activetest.Completion{{TestID: 7, Result: model.ResultFailed}}, done.list())
	assert.Equal(t, 1, agent.Terminations())

	expected := `
# HELP testfleet_environment_escalations_total Environments declared lost after repeated keep-alive failures
# TYPE testfleet_environment_escalations_total counter
testfleet_environment_escalations_total 1
# HELP testfleet_keepalive_failures_total Failed keep-alive polls of active environments
# TYPE testfleet_keepalive_failures_total counter
testfleet_keepalive_failures_total 11
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"testfleet_keepalive_failures_total", "testfleet_environment_escalations_total"))
}

// unresponsiveAgent fails every state poll and never answers Terminate.
type unresponsiveAgent struct {
	terminations atomic.Int32
}

func (a *unresponsiveAgent) Execute(context.Context, transport.ExecuteRequest) error { return nil }

func (a *unresponsiveAgent) State(context.Context) (model.ExecutionState, error) {
	return model.ExecutionUnknown, errors.New("agent unreachable")
}

func (a *unresponsiveAgent) Terminate(ctx context.Context) error {
	a.terminations.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestEscalationIsBoundedForHungAgent(t *testing.T) {
	hub := transport.NewMemoryHub()
	storage := activetest.New()
	done := &completions{}
	storage.OnCompletion(done.add)

	machine := envtest.Machine("server", "Windows")
	agent := &unresponsiveAgent{}
	hub.SignIn(transport.Endpoint{Name: machine.NetworkName}, agent)

	ctx := context.Background()
	require.NoError(t, storage.Add(5, report.NewBuilder(model.Test{ID: 5, ProductName: "p"}), nil))
	env, err := envtest.PhysicalActivator(hub).Load(ctx, machine, report.NewSection(report.SectionInitialization), nil)
	require.NoError(t, err)
	require.NoError(t, storage.AddEnvironmentForTest(5, env))
	require.NoError(t, env.Execute(ctx, 5, nil, nil, "", ""))
	require.NoError(t, storage.MarkActivated(5))

	c := New(&countingActivator{}, storage, Options{Interval: 20 * time.Millisecond, MaxKeepAliveFailures: 1})
	require.True(t, c.Tick(ctx))

	ticked := make(chan bool, 1)
	go func() { ticked <- c.Tick(ctx) }()
	select {
	case ran := <-ticked:
		assert.True(t, ran)
	case <-time.After(2 * time.Second):
		t.Fatal("escalating tick blocked on Terminate")
	}

	storage.Wait()
	assert.Equal(t, int32(1), agent.terminations.Load())
	assert.Equal(t, []activetest.Completion{{TestID: 5, Result: model.ResultFailed}}, done.list())
	assert.True(t, c.Tick(ctx), "later ticks still run")
}

func TestKeepAliveRecovers(t *testing.T) {
	hub := transport.NewMemoryHub()
	storage := activetest.New()
	agent := runningTest(t, storage, hub, 3, "client")
	c := New(&countingActivator{}, storage, Options{Interval: 20 * time.Millisecond, MaxKeepAliveFailures: 2})
	ctx := context.Background()

	agent.FailState(errors.New("timeout"))
	c.Tick(ctx)
	c.Tick(ctx)
	agent.FailState(nil)
	agent.SetState(model.ExecutionExecuting)
	c.Tick(ctx)

	refs := storage.ActiveEnvironments()
	require.Len(t, refs, 1)
	assert.Equal(t, 0, refs[0].Environment.KeepAliveFailures())
	assert.Equal(t, 0, agent.Terminations())
}

func TestOverlappingTickIsDropped(t *testing.T) {
	act := &countingActivator{block: make(chan struct{}), enter: make(chan struct{})}
	c := New(act, activetest.New(), Options{Interval: time.Hour})
	ctx := context.Background()

	result := make(chan bool)
	go func() { result <- c.Tick(ctx) }()
	<-act.enter

	assert.False(t, c.Tick(ctx))
	close(act.block)
	assert.True(t, <-result)
	assert.Equal(t, int32(1), act.calls.Load())
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	act := &countingActivator{block: make(chan struct{}), enter: make(chan struct{}, 1)}
	c := New(act, activetest.New(), Options{Interval: 5 * time.Millisecond})
	c.Start(context.Background())
	<-act.enter

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(act.block)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	calls := act.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, act.calls.Load())
	assert.False(t, c.Tick(context.Background()))
}

func TestStopWithoutStart(t *testing.T) {
	c := New(&countingActivator{}, activetest.New(), Options{})
	c.Stop()
	c.Stop()
}
