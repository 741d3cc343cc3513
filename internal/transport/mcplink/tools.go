package mcplink

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names exposed by the controller.
const (
	ToolSignIn           = "sign_in"
	ToolReportProgress   = "report_progress"
	ToolReportCompletion = "report_completion"
)

// Tool names exposed by agents.
const (
	ToolExecuteSteps       = "execute_steps"
	ToolExecutionState     = "execution_state"
	ToolTerminateExecution = "terminate_execution"
)

const protocolVersion = "2024-11-05"

// dial opens and initializes an MCP session with the server at url.
func dial(ctx context.Context, url, clientName string) (*client.Client, error) {
	c, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create streamable-http client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start streamable-http client: %w", err)
	}

	var req mcp.InitializeRequest
	req.Params.ProtocolVersion = protocolVersion
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: "1.0.0"}
	if _, err := c.Initialize(ctx, req); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialization failed: %w", err)
	}
	return c, nil
}

// callTool invokes a tool and returns its text content. A tool level error
// is returned as a Go error.
func callTool(ctx context.Context, c *client.Client, name string, args map[string]interface{}) (string, error) {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tool call %s failed: %w", name, err)
	}

	var text strings.Builder
	for _, content := range result.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			text.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("tool %s: %s", name, text.String())
	}
	return text.String(), nil
}
