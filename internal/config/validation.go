package config

import (
	"fmt"
	"strings"
	"time"

	"testfleet/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value interface{}) {
	*ve = append(*ve, ValidationError{Field: field, Value: value, Message: message})
}

func (ve *ValidationErrors) oneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	ve.Add(field, "must be one of: "+strings.Join(allowed, ", "), value)
}

// Validate checks every setting and returns all violations.
func (c Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Cycle.Interval <= 0 {
		errs.Add("cycle.interval", "must be positive", c.Cycle.Interval)
	}
	if c.Cycle.MaxKeepAliveFailures < 1 {
		errs.Add("cycle.maxKeepAliveFailures", "must be at least 1", c.Cycle.MaxKeepAliveFailures)
	}

	a := c.Activation
	for field, d := range map[string]time.Duration{
		"activation.pingTimeout":          a.PingTimeout,
		"activation.networkSignInTimeout": a.NetworkSignInTimeout,
		"activation.pingCycle":            a.PingCycle,
		"activation.signInTimeout":        a.SignInTimeout,
		"activation.turnOffTimeout":       a.TurnOffTimeout,
		"activation.turnOffPoll":          a.TurnOffPoll,
		"activation.terminateTimeout":     a.TerminateTimeout,
	} {
		if d <= 0 {
			errs.Add(field, "must be positive", d)
		}
	}
	if a.RetryAttempts < 1 {
		errs.Add("activation.retryAttempts", "must be at least 1", a.RetryAttempts)
	}

	errs.oneOf("controller.shutdownPolicy", c.Controller.ShutdownPolicy, ShutdownAlways, ShutdownOnFailure)
	errs.oneOf("catalog.driver", c.Catalog.Driver, CatalogSQLite, CatalogMemory)

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs.Add("server.port", "must be between 0 and 65535", c.Server.Port)
	}
	if c.Server.Name == "" {
		errs.Add("server.name", "is required", c.Server.Name)
	}
	if c.Inbox.Debounce < 0 {
		errs.Add("inbox.debounce", "must not be negative", c.Inbox.Debounce)
	}
	for _, f := range c.Reports.Formats {
		errs.oneOf("reports.formats", f, "yaml", "json", "text")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs.Add("logging.level", err.Error(), c.Logging.Level)
	}

	cmds := c.Hypervisor.Commands
	if cmds.Configured() && (cmds.State == "" || cmds.Start == "" || cmds.Terminate == "" || cmds.Restore == "") {
		errs.Add("hypervisor.commands", "state, start, terminate and restore are required together", nil)
	}
	return errs
}
