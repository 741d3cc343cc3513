package mcplink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"

	"testfleet/internal/model"
	"testfleet/internal/transport"
)

func key(name string) string { return strings.ToLower(name) }

// agentClient drives one agent's tools. The session is opened on first use
// and reopened after a failed call or a change of address.
type agentClient struct {
	mu       sync.Mutex
	endpoint transport.Endpoint
	c        *client.Client
}

func newAgentClient(ep transport.Endpoint) *agentClient {
	return &agentClient{endpoint: ep}
}

func (a *agentClient) session(ctx context.Context) (*client.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.c != nil {
		return a.c, nil
	}
	c, err := dial(ctx, a.endpoint.Address, "testfleet-controller")
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.endpoint.Name, err)
	}
	a.c = c
	return c, nil
}

func (a *agentClient) reset(c *client.Client) {
	a.mu.Lock()
	if a.c == c {
		a.c = nil
	}
	a.mu.Unlock()
	c.Close()
}

// redirect points the client at a new agent address. The open session, if
// any, is dropped so the next call dials ep.
func (a *agentClient) redirect(ep transport.Endpoint) {
	a.mu.Lock()
	c := a.c
	a.c = nil
	a.endpoint = ep
	a.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

func (a *agentClient) close() {
	a.mu.Lock()
	c := a.c
	a.c = nil
	a.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

func (a *agentClient) call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	c, err := a.session(ctx)
	if err != nil {
		return "", err
	}
	text, err := callTool(ctx, c, tool, args)
	if err != nil && ctx.Err() == nil {
		a.reset(c)
	}
	return text, err
}

func (a *agentClient) Execute(ctx context.Context, req transport.ExecuteRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = a.call(ctx, ToolExecuteSteps, map[string]interface{}{"request": string(payload)})
	return err
}

func (a *agentClient) State(ctx context.Context) (model.ExecutionState, error) {
	text, err := a.call(ctx, ToolExecutionState, nil)
	if err != nil {
		return model.ExecutionUnknown, err
	}
	return model.ExecutionState(strings.TrimSpace(text)), nil
}

func (a *agentClient) Terminate(ctx context.Context) error {
	_, err := a.call(ctx, ToolTerminateExecution, nil)
	return err
}
