package model

// ExecutionState is the state an agent reports for its current test.
type ExecutionState string

const (
	// ExecutionUnknown is the sentinel used when the agent could not be asked.
	ExecutionUnknown   ExecutionState = "unknown"
	ExecutionIdle      ExecutionState = "idle"
	ExecutionExecuting ExecutionState = "executing"
	ExecutionCompleted ExecutionState = "completed"
)

// Known reports whether the state came from a well-formed response.
func (s ExecutionState) Known() bool {
	switch s {
	case ExecutionIdle, ExecutionExecuting, ExecutionCompleted:
		return true
	}
	return false
}

// TestResult is the outcome of a test or of one of its environments.
type TestResult string

const (
	ResultNone   TestResult = "none"
	ResultPassed TestResult = "passed"
	ResultFailed TestResult = "failed"
)

// EnvironmentProgress tracks whether an active environment still runs steps.
type EnvironmentProgress int

const (
	EnvironmentExecuting EnvironmentProgress = iota
	EnvironmentComplete
)

func (p EnvironmentProgress) String() string {
	if p == EnvironmentComplete {
		return "complete"
	}
	return "executing"
}
