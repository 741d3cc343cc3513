package mcplink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"testfleet/internal/model"
	"testfleet/internal/report"
	"testfleet/internal/transport"
	"testfleet/pkg/logging"
)

// Hub is the controller side of the MCP link. It implements transport.Hub.
type Hub struct {
	agents *transport.MemoryHub
	mcp    *server.MCPServer
	http   *server.StreamableHTTPServer

	mu      sync.Mutex
	clients map[string]*agentClient
}

// NewHub creates the controller MCP server and registers its tools.
func NewHub(name, version string) *Hub {
	h := &Hub{
		agents:  transport.NewMemoryHub(),
		clients: make(map[string]*agentClient),
	}
	h.mcp = server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
	)
	h.registerTools()
	h.http = server.NewStreamableHTTPServer(h.mcp)
	return h
}

// Handler serves the controller MCP endpoint.
func (h *Hub) Handler() http.Handler {
	return h.http
}

// Close drops every agent session.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*agentClient)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) registerTools() {
	h.mcp.AddTool(mcp.NewTool(ToolSignIn,
		mcp.WithDescription("Register an agent with the controller"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Network name of the agent's machine")),
		mcp.WithString("address", mcp.Required(), mcp.Description("MCP URL of the agent")),
	), h.handleSignIn)

	h.mcp.AddTool(mcp.NewTool(ToolReportProgress,
		mcp.WithDescription("Append a report section for the agent's running test"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Network name of the agent's machine")),
		mcp.WithString("section", mcp.Required(), mcp.Description("Name of the report section")),
		mcp.WithString("content", mcp.Required(), mcp.Description("JSON encoded report section")),
	), h.handleReportProgress)

	h.mcp.AddTool(mcp.NewTool(ToolReportCompletion,
		mcp.WithDescription("Report the final result of the agent's running test"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Network name of the agent's machine")),
		mcp.WithString("result", mcp.Required(), mcp.Description("passed or failed")),
	), h.handleReportCompletion)
}

func (h *Hub) handleSignIn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	address, err := request.RequireString("address")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ep := transport.Endpoint{Name: name, Address: address}

	// Environments already bound to this agent hold its client, so a new
	// address is applied to the existing client.
	h.mu.Lock()
	c, ok := h.clients[key(name)]
	if ok {
		c.redirect(ep)
	} else {
		c = newAgentClient(ep)
		h.clients[key(name)] = c
	}
	h.mu.Unlock()

	h.agents.SignIn(ep, c)
	logging.Info("MCPLink", "Agent %s signed in from %s", name, address)
	return mcp.NewToolResultText("signed in"), nil
}

func (h *Hub) handleReportProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sectionName, err := request.RequireString("section")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	section := report.NewSection(sectionName)
	if err := json.Unmarshal([]byte(content), section); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("malformed report section: %v", err)), nil
	}
	if err := h.agents.Progress(name, sectionName, section); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("accepted"), nil
}

func (h *Hub) handleReportCompletion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := request.RequireString("result")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	r := model.TestResult(result)
	switch r {
	case model.ResultPassed, model.ResultFailed:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown result %q", result)), nil
	}
	if err := h.agents.Complete(name, r); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	logging.Info("MCPLink", "Agent %s completed with %s", name, r)
	return mcp.NewToolResultText("accepted"), nil
}

// Endpoints implements transport.Hub.
func (h *Hub) Endpoints() []transport.Endpoint {
	return h.agents.Endpoints()
}

// OnSignIn implements transport.Hub.
func (h *Hub) OnSignIn(fn func(transport.Endpoint)) func() {
	return h.agents.OnSignIn(fn)
}

// CommandsFor implements transport.Hub.
func (h *Hub) CommandsFor(ep transport.Endpoint) (transport.Commands, error) {
	return h.agents.CommandsFor(ep)
}

// NotificationsFor implements transport.Hub.
func (h *Hub) NotificationsFor(ep transport.Endpoint) (transport.Notifications, error) {
	return h.agents.NotificationsFor(ep)
}
