package model

import (
	"fmt"
	"sort"
)

// StepKind discriminates the variants of TestStep.
type StepKind string

const (
	StepConsoleExecute StepKind = "console"
	StepMsiInstall     StepKind = "msi"
	StepScriptExecute  StepKind = "script"
	StepXCopyDeploy    StepKind = "xcopy"
)

// FailureMode decides what an agent does after a step fails.
type FailureMode string

const (
	FailureModeStop     FailureMode = "stop"
	FailureModeContinue FailureMode = "continue"
)

// ScriptLanguage is the interpreter used by a script step.
type ScriptLanguage string

const (
	ScriptPowershell ScriptLanguage = "powershell"
	ScriptBatch      ScriptLanguage = "batch"
	ScriptShell      ScriptLanguage = "shell"
)

// Parameter is a single key/value argument of a step.
type Parameter struct {
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value" json:"value"`
}

// TestStep is one unit of work executed by an agent. Kind selects which of
// the variant fields apply.
type TestStep struct {
	Kind             StepKind    `yaml:"kind" json:"kind"`
	Environment      string      `yaml:"environment" json:"environment"`
	Order            int         `yaml:"order" json:"order"`
	FailureMode      FailureMode `yaml:"failureMode,omitempty" json:"failureMode,omitempty"`
	Parameters       []Parameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	IncludeSystemLog bool        `yaml:"includeSystemLog,omitempty" json:"includeSystemLog,omitempty"`
	ReportFiles      []string    `yaml:"reportFiles,omitempty" json:"reportFiles,omitempty"`
	ReportDirs       []string    `yaml:"reportDirectories,omitempty" json:"reportDirectories,omitempty"`

	// ExecutablePath is the program run by console steps.
	ExecutablePath string `yaml:"executable,omitempty" json:"executable,omitempty"`
	// Language is the interpreter of script steps.
	Language ScriptLanguage `yaml:"language,omitempty" json:"language,omitempty"`
	// Destination is the target directory of xcopy steps.
	Destination string `yaml:"destination,omitempty" json:"destination,omitempty"`

	// Files lists local files packaged with the step, keyed by their path
	// inside the package. Only used at submission time.
	Files map[string]string `yaml:"files,omitempty" json:"-"`
}

// Validate checks the variant-specific fields.
func (s TestStep) Validate() error {
	switch s.Kind {
	case StepConsoleExecute:
		if s.ExecutablePath == "" {
			return fmt.Errorf("console step %d has no executable", s.Order)
		}
	case StepMsiInstall:
	case StepScriptExecute:
		switch s.Language {
		case ScriptPowershell, ScriptBatch, ScriptShell:
		default:
			return fmt.Errorf("script step %d has unsupported language %q", s.Order, s.Language)
		}
	case StepXCopyDeploy:
		if s.Destination == "" {
			return fmt.Errorf("xcopy step %d has no destination", s.Order)
		}
	default:
		return fmt.Errorf("step %d has unknown kind %q", s.Order, s.Kind)
	}
	switch s.FailureMode {
	case "", FailureModeStop, FailureModeContinue:
	default:
		return fmt.Errorf("step %d has unknown failure mode %q", s.Order, s.FailureMode)
	}
	return nil
}

// ForExecution returns a copy of the step without fields the remote side has
// no use for.
func (s TestStep) ForExecution() TestStep {
	out := TestStep{
		Kind:             s.Kind,
		Environment:      s.Environment,
		Order:            s.Order,
		FailureMode:      s.FailureMode,
		IncludeSystemLog: s.IncludeSystemLog,
		ExecutablePath:   s.ExecutablePath,
		Language:         s.Language,
		Destination:      s.Destination,
	}
	if out.FailureMode == "" {
		out.FailureMode = FailureModeStop
	}
	if len(s.Parameters) > 0 {
		out.Parameters = append([]Parameter(nil), s.Parameters...)
	}
	if len(s.ReportFiles) > 0 {
		out.ReportFiles = append([]string(nil), s.ReportFiles...)
	}
	if len(s.ReportDirs) > 0 {
		out.ReportDirs = append([]string(nil), s.ReportDirs...)
	}
	return out
}

// SortSteps orders steps by execution order, in place.
func SortSteps(steps []TestStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})
}
