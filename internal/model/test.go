package model

import (
	"fmt"
	"strings"
	"time"
)

// OperatingSystem describes an operating system either required by a test
// environment or installed on a machine.
type OperatingSystem struct {
	Name        string `yaml:"name" json:"name"`
	ServicePack string `yaml:"servicePack,omitempty" json:"servicePack,omitempty"`
	Culture     string `yaml:"culture,omitempty" json:"culture,omitempty"`
	PointerSize int    `yaml:"pointerSize,omitempty" json:"pointerSize,omitempty"`
}

func (o OperatingSystem) String() string {
	s := o.Name
	if o.ServicePack != "" {
		s += " " + o.ServicePack
	}
	if o.Culture != "" {
		s += " (" + o.Culture + ")"
	}
	if o.PointerSize != 0 {
		s += fmt.Sprintf(" %d-bit", o.PointerSize)
	}
	return s
}

// Application is a named, versioned piece of software.
type Application struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// TestEnvironment is a named role within a test and the constraints a machine
// must meet to fill it.
type TestEnvironment struct {
	Name            string          `yaml:"name" json:"name"`
	OperatingSystem OperatingSystem `yaml:"operatingSystem" json:"operatingSystem"`
	Applications    []Application   `yaml:"applications,omitempty" json:"applications,omitempty"`
}

// NotificationSpec asks for a finalized report to be delivered somewhere in
// addition to the test's report destination.
type NotificationSpec struct {
	Kind   string `yaml:"kind" json:"kind"`
	Target string `yaml:"target,omitempty" json:"target,omitempty"`
}

// Test is a submitted test suite.
type Test struct {
	ID             int                `yaml:"id,omitempty" json:"id"`
	ProductName    string             `yaml:"productName" json:"productName"`
	ProductVersion string             `yaml:"productVersion" json:"productVersion"`
	Owner          string             `yaml:"owner" json:"owner"`
	Description    string             `yaml:"description,omitempty" json:"description,omitempty"`
	ReportPath     string             `yaml:"reportPath,omitempty" json:"reportPath,omitempty"`
	Environments   []TestEnvironment  `yaml:"environments" json:"environments"`
	Steps          []TestStep         `yaml:"steps" json:"steps"`
	Notifications  []NotificationSpec `yaml:"notifications,omitempty" json:"notifications,omitempty"`
	SubmittedAt    time.Time          `yaml:"-" json:"submittedAt"`
	StartedAt      time.Time          `yaml:"-" json:"startedAt"`
	FinishedAt     time.Time          `yaml:"-" json:"finishedAt"`
}

// Queued reports whether the test has not been started yet.
func (t Test) Queued() bool {
	return t.StartedAt.IsZero() && t.FinishedAt.IsZero()
}

// Environment returns the requirement with the given name.
func (t Test) Environment(name string) (TestEnvironment, bool) {
	for _, env := range t.Environments {
		if env.Name == name {
			return env, true
		}
	}
	return TestEnvironment{}, false
}

// StepsFor returns the steps that run on the named environment, ordered by
// their execution order.
func (t Test) StepsFor(environment string) []TestStep {
	var steps []TestStep
	for _, s := range t.Steps {
		if s.Environment == environment {
			steps = append(steps, s)
		}
	}
	SortSteps(steps)
	return steps
}

// Validate checks the structural invariants of a test description.
func (t Test) Validate() error {
	if t.ProductName == "" {
		return fmt.Errorf("test has no product name")
	}
	seen := make(map[string]bool, len(t.Environments))
	for _, env := range t.Environments {
		if env.Name == "" {
			return fmt.Errorf("test environment without a name")
		}
		if env.Name == "." || env.Name == ".." || strings.ContainsAny(env.Name, `/\`) {
			return fmt.Errorf("test environment name %q is not a plain name", env.Name)
		}
		if seen[env.Name] {
			return fmt.Errorf("duplicate test environment %q", env.Name)
		}
		if env.OperatingSystem.Name == "" {
			return fmt.Errorf("test environment %q has no operating system", env.Name)
		}
		seen[env.Name] = true
	}

	orders := make(map[string]map[int]bool)
	for _, s := range t.Steps {
		if !seen[s.Environment] {
			return fmt.Errorf("step %d refers to unknown environment %q", s.Order, s.Environment)
		}
		if err := s.Validate(); err != nil {
			return err
		}
		if orders[s.Environment] == nil {
			orders[s.Environment] = make(map[int]bool)
		}
		if orders[s.Environment][s.Order] {
			return fmt.Errorf("duplicate step order %d in environment %q", s.Order, s.Environment)
		}
		orders[s.Environment][s.Order] = true
	}
	return nil
}
