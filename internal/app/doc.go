// Package app bootstraps and runs the test controller.
//
// Bootstrap loads the configuration directory, sets up logging and wires
// the services:
//
//  1. Catalog (SQLite or in-memory), seeded from machines/*.yaml
//  2. MCP hub agents sign in to
//  3. Environment activators (physical always; Hyper-V when hypervisor
//     commands are configured)
//  4. Active test storage and the test controller
//  5. Supervisory cycle
//  6. HTTP server (MCP, package downloads, metrics, health)
//  7. Submission inbox, when enabled
//
// Run starts the services, notifies systemd once ready and blocks until the
// context is cancelled or SIGINT/SIGTERM arrives, then stops the services
// in reverse order.
package app
