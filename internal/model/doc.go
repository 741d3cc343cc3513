// Package model holds the data types shared by the orchestration engine:
// submitted tests and their environment requirements, the machines that can
// satisfy them, test steps, and the execution states and results reported by
// remote agents.
//
// Types here are plain values. They carry yaml and json tags because the same
// shapes are read from test description files, stored in the catalog and sent
// to agents.
package model
