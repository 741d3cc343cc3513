// Package mcplink carries the transport contract over the Model Context
// Protocol using streamable HTTP.
//
// The controller side runs a Hub: an MCP server exposing the sign_in,
// report_progress and report_completion tools agents call. For every
// signed-in agent the hub dials the agent's own MCP server and drives the
// execute_steps, execution_state and terminate_execution tools.
//
// The agent side is covered by AgentServer, which exposes any
// transport.Commands implementation as those three tools, and by
// ControllerClient, which signs in and reports back to a Hub.
package mcplink
