package transport

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testfleet/internal/model"
	"testfleet/internal/report"
)

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingListener) OnProgress(p Progress) {
	r.mu.Lock()
	r.events = append(r.events, "progress:"+p.SectionName)
	r.mu.Unlock()
}

func (r *recordingListener) OnCompletion(c Completion) {
	r.mu.Lock()
	r.events = append(r.events, "complete:"+string(c.Result))
	r.mu.Unlock()
}

func TestMemoryHubSignInAndLookup(t *testing.T) {
	hub := NewMemoryHub()

	var seen []Endpoint
	cancel := hub.OnSignIn(func(ep Endpoint) { seen = append(seen, ep) })

	agent := NewFakeAgent()
	hub.SignIn(Endpoint{Name: "LAB-01"}, agent)

	require.Len(t, seen, 1)
	assert.Equal(t, []Endpoint{{Name: "LAB-01"}}, hub.Endpoints())

	cmds, err := hub.CommandsFor(Endpoint{Name: "lab-01"})
	require.NoError(t, err)
	assert.Same(t, agent, cmds)

	cancel()
	hub.SignIn(Endpoint{Name: "lab-02"}, NewFakeAgent())
	assert.Len(t, seen, 1)

	_, err = hub.CommandsFor(Endpoint{Name: "unknown"})
	assert.Error(t, err)
}

func TestMemoryHubDeliversInOrder(t *testing.T) {
	hub := NewMemoryHub()
	hub.SignIn(Endpoint{Name: "lab-01"}, NewFakeAgent())

	events, err := hub.NotificationsFor(Endpoint{Name: "lab-01"})
	require.NoError(t, err)

	l := &recordingListener{}
	unsubscribe := events.Subscribe(l)

	require.NoError(t, hub.Progress("lab-01", "Install", report.NewSection("Install")))
	require.NoError(t, hub.Progress("lab-01", "Run", report.NewSection("Run")))
	require.NoError(t, hub.Complete("lab-01", model.ResultPassed))

	unsubscribe()
	require.NoError(t, hub.Complete("lab-01", model.ResultFailed))

	assert.Equal(t, []string{"progress:Install", "progress:Run", "complete:passed"}, l.events)
}

func TestResignInKeepsSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	hub.SignIn(Endpoint{Name: "lab-01"}, NewFakeAgent())
	events, err := hub.NotificationsFor(Endpoint{Name: "lab-01"})
	require.NoError(t, err)
	l := &recordingListener{}
	events.Subscribe(l)

	hub.SignIn(Endpoint{Name: "lab-01", Address: "http://new"}, NewFakeAgent())
	require.NoError(t, hub.Complete("lab-01", model.ResultPassed))
	assert.Equal(t, []string{"complete:passed"}, l.events)
}

func TestFakeAgent(t *testing.T) {
	agent := NewFakeAgent()
	ctx := context.Background()

	state, err := agent.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionIdle, state)

	require.NoError(t, agent.Execute(ctx, ExecuteRequest{TestID: 7}))
	state, _ = agent.State(ctx)
	assert.Equal(t, model.ExecutionExecuting, state)

	agent.FailState(assert.AnError)
	state, err = agent.State(ctx)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, model.ExecutionUnknown, state)

	require.NoError(t, agent.Terminate(ctx))
	assert.Equal(t, 1, agent.Terminations())
	assert.Equal(t, 3, agent.Polls())
	assert.Len(t, agent.Executed(), 1)
}
