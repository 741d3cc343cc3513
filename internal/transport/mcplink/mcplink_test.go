package mcplink

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testfleet/internal/model"
	"testfleet/internal/report"
	"testfleet/internal/transport"
)

type collector struct {
	mu       sync.Mutex
	progress []transport.Progress
	done     []transport.Completion
}

func (c *collector) OnProgress(p transport.Progress) {
	c.mu.Lock()
	c.progress = append(c.progress, p)
	c.mu.Unlock()
}

func (c *collector) OnCompletion(d transport.Completion) {
	c.mu.Lock()
	c.done = append(c.done, d)
	c.mu.Unlock()
}

func TestHubRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub := NewHub("testfleet-controller", "test")
	defer hub.Close()
	controllerSrv := httptest.NewServer(hub.Handler())
	defer controllerSrv.Close()

	agent := transport.NewFakeAgent()
	agentSrv := httptest.NewServer(NewAgentServer("lab-01", agent).Handler())
	defer agentSrv.Close()

	signedIn := make(chan transport.Endpoint, 1)
	hub.OnSignIn(func(ep transport.Endpoint) { signedIn <- ep })

	cc, err := DialController(ctx, controllerSrv.URL, "LAB-01")
	require.NoError(t, err)
	defer cc.Close()
	require.NoError(t, cc.SignIn(ctx, agentSrv.URL))

	select {
	case ep := <-signedIn:
		assert.Equal(t, "LAB-01", ep.Name)
		assert.Equal(t, agentSrv.URL, ep.Address)
	case <-ctx.Done():
		t.Fatal("no sign-in observed")
	}

	ep := hub.Endpoints()[0]
	assert.True(t, ep.Matches("lab-01"))

	cmds, err := hub.CommandsFor(ep)
	require.NoError(t, err)

	require.NoError(t, cmds.Execute(ctx, transport.ExecuteRequest{
		TestID: 42,
		Steps:  []model.TestStep{{Kind: model.StepConsoleExecute, Environment: "server", Order: 1, ExecutablePath: "run.exe"}},
	}))
	executed := agent.Executed()
	require.Len(t, executed, 1)
	assert.Equal(t, 42, executed[0].TestID)
	assert.Equal(t, "run.exe", executed[0].Steps[0].ExecutablePath)

	state, err := cmds.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionExecuting, state)

	events, err := hub.NotificationsFor(ep)
	require.NoError(t, err)
	col := &collector{}
	events.Subscribe(col)

	section := report.NewSection("Install")
	section.Info("installed %s", "product.msi")
	require.NoError(t, cc.Progress(ctx, section))
	require.NoError(t, cc.Complete(ctx, model.ResultPassed))

	require.Len(t, col.progress, 1)
	assert.Equal(t, "Install", col.progress[0].SectionName)
	require.Len(t, col.progress[0].Section.Entries, 1)
	assert.Equal(t, "installed product.msi", col.progress[0].Section.Entries[0].Text)
	assert.Equal(t, []transport.Completion{{Result: model.ResultPassed}}, col.done)

	require.NoError(t, cmds.Terminate(ctx))
	assert.Equal(t, 1, agent.Terminations())
}

func TestAgentToolErrorsSurface(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agent := transport.NewFakeAgent()
	agent.FailExecute(assert.AnError)
	agentSrv := httptest.NewServer(NewAgentServer("lab-01", agent).Handler())
	defer agentSrv.Close()

	c := newAgentClient(transport.Endpoint{Name: "lab-01", Address: agentSrv.URL})
	defer c.close()

	err := c.Execute(ctx, transport.ExecuteRequest{TestID: 1})
	assert.ErrorContains(t, err, assert.AnError.Error())

	agent.FailExecute(nil)
	assert.NoError(t, c.Execute(ctx, transport.ExecuteRequest{TestID: 1}))
}

func TestCompletionRejectsUnknownResult(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub := NewHub("testfleet-controller", "test")
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	cc, err := DialController(ctx, srv.URL, "lab-01")
	require.NoError(t, err)
	defer cc.Close()

	assert.Error(t, cc.Complete(ctx, model.ResultPassed), "agent not signed in")
	require.NoError(t, cc.SignIn(ctx, "http://127.0.0.1:1/mcp"))
	assert.ErrorContains(t, cc.Complete(ctx, model.TestResult("maybe")), "unknown result")
}

func TestSignInFromNewAddressRedirectsBoundCommands(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub := NewHub("testfleet-controller", "test")
	defer hub.Close()
	controllerSrv := httptest.NewServer(hub.Handler())
	defer controllerSrv.Close()

	first := transport.NewFakeAgent()
	firstSrv := httptest.NewServer(NewAgentServer("lab-01", first).Handler())
	defer firstSrv.Close()
	second := transport.NewFakeAgent()
	secondSrv := httptest.NewServer(NewAgentServer("lab-01", second).Handler())
	defer secondSrv.Close()

	cc, err := DialController(ctx, controllerSrv.URL, "lab-01")
	require.NoError(t, err)
	defer cc.Close()
	require.NoError(t, cc.SignIn(ctx, firstSrv.URL))

	cmds, err := hub.CommandsFor(hub.Endpoints()[0])
	require.NoError(t, err)
	require.NoError(t, cmds.Terminate(ctx))
	assert.Equal(t, 1, first.Terminations())

	// The agent restarts on another port and signs in again.
	require.NoError(t, cc.SignIn(ctx, secondSrv.URL))

	require.NoError(t, cmds.Terminate(ctx))
	assert.Equal(t, 1, first.Terminations())
	assert.Equal(t, 1, second.Terminations())

	eps := hub.Endpoints()
	require.Len(t, eps, 1)
	assert.Equal(t, secondSrv.URL, eps[0].Address)
}
