// Package cli holds the output helpers shared by the command-line tools:
// table, JSON and YAML rendering, progress spinners and message formatting.
package cli
