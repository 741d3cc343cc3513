// Package transport defines the remote command and notification capability
// the orchestrator uses to talk to test agents.
//
// An agent signs in with its machine network name. The orchestrator then
// obtains a Commands handle to start, poll and stop test execution on that
// agent, and a Notifications source that re-emits the agent's progress and
// completion events in arrival order.
//
// MemoryHub is an in-process implementation used by tests and by single
// process setups. The mcplink subpackage carries the same contract over MCP.
package transport
