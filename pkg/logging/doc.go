// Package logging provides subsystem-tagged structured logging for testfleet.
//
// The package wraps log/slog behind a small set of printf-style helpers so
// every component logs the same way:
//
//	logging.Info("Controller", "Activated test %d on %d environments", id, n)
//	logging.Error("Cycle", err, "Keep-alive poll failed for %s", envID)
//
// Each entry carries a "subsystem" attribute and, for Error, an "error"
// attribute. Initialize once at startup with InitForCLI (human readable text
// to a writer) or InitForFile (append-only file, optionally JSON lines) for
// daemon mode. Until initialized, entries at Info and above go to stderr.
//
// All helpers are safe for concurrent use.
package logging
