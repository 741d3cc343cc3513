package mcplink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"testfleet/internal/model"
	"testfleet/internal/report"
	"testfleet/internal/transport"
)

// AgentServer exposes a transport.Commands implementation as agent tools.
type AgentServer struct {
	commands transport.Commands
	mcp      *server.MCPServer
	http     *server.StreamableHTTPServer
}

// NewAgentServer wraps commands in an MCP server.
func NewAgentServer(name string, commands transport.Commands) *AgentServer {
	a := &AgentServer{commands: commands}
	a.mcp = server.NewMCPServer(name, "1.0.0", server.WithToolCapabilities(false))

	a.mcp.AddTool(mcp.NewTool(ToolExecuteSteps,
		mcp.WithDescription("Start executing test steps"),
		mcp.WithString("request", mcp.Required(), mcp.Description("JSON encoded execute request")),
	), a.handleExecute)
	a.mcp.AddTool(mcp.NewTool(ToolExecutionState,
		mcp.WithDescription("Return the current execution state"),
	), a.handleState)
	a.mcp.AddTool(mcp.NewTool(ToolTerminateExecution,
		mcp.WithDescription("Stop the current execution"),
	), a.handleTerminate)

	a.http = server.NewStreamableHTTPServer(a.mcp)
	return a
}

// Handler serves the agent MCP endpoint.
func (a *AgentServer) Handler() http.Handler {
	return a.http
}

func (a *AgentServer) handleExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("request")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var req transport.ExecuteRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("malformed execute request: %v", err)), nil
	}
	if err := a.commands.Execute(ctx, req); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("accepted"), nil
}

func (a *AgentServer) handleState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := a.commands.State(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(state)), nil
}

func (a *AgentServer) handleTerminate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := a.commands.Terminate(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("terminated"), nil
}

// ControllerClient is used by an agent to sign in and report to a Hub.
type ControllerClient struct {
	name string

	mu sync.Mutex
	c  *client.Client
}

// DialController opens a session with the controller MCP endpoint at url.
func DialController(ctx context.Context, url, name string) (*ControllerClient, error) {
	c, err := dial(ctx, url, name)
	if err != nil {
		return nil, err
	}
	return &ControllerClient{name: name, c: c}, nil
}

func (cc *ControllerClient) call(ctx context.Context, tool string, args map[string]interface{}) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	args["name"] = cc.name
	_, err := callTool(ctx, cc.c, tool, args)
	return err
}

// SignIn announces the agent's MCP address.
func (cc *ControllerClient) SignIn(ctx context.Context, address string) error {
	return cc.call(ctx, ToolSignIn, map[string]interface{}{"address": address})
}

// Progress reports a finished report section.
func (cc *ControllerClient) Progress(ctx context.Context, section *report.Section) error {
	payload, err := json.Marshal(section.Clone())
	if err != nil {
		return err
	}
	return cc.call(ctx, ToolReportProgress, map[string]interface{}{
		"section": section.Name,
		"content": string(payload),
	})
}

// Complete reports the final result.
func (cc *ControllerClient) Complete(ctx context.Context, result model.TestResult) error {
	return cc.call(ctx, ToolReportCompletion, map[string]interface{}{"result": string(result)})
}

// Close ends the session.
func (cc *ControllerClient) Close() error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.c.Close()
}
