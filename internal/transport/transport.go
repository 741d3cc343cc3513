package transport

import (
	"context"
	"strings"

	"testfleet/internal/model"
	"testfleet/internal/report"
)

// Endpoint identifies a signed-in agent.
type Endpoint struct {
	// Name is the network name of the machine the agent runs on.
	Name string `json:"name"`
	// Address is transport specific, for example the agent's MCP URL.
	Address string `json:"address,omitempty"`
}

// Matches reports whether the endpoint belongs to the given network name.
func (e Endpoint) Matches(networkName string) bool {
	return strings.EqualFold(e.Name, networkName)
}

// ExecuteRequest starts execution of a test's steps on an agent.
type ExecuteRequest struct {
	TestID         int               `json:"testId"`
	Steps          []model.TestStep  `json:"steps"`
	Parameters     []model.Parameter `json:"parameters,omitempty"`
	CallerEndpoint string            `json:"callerEndpoint"`
	UploadToken    string            `json:"uploadToken"`
}

// Commands is the command surface of one agent.
type Commands interface {
	// Execute returns once the agent accepted the request.
	Execute(ctx context.Context, req ExecuteRequest) error
	State(ctx context.Context) (model.ExecutionState, error)
	Terminate(ctx context.Context) error
}

// Progress carries a report section produced by an agent.
type Progress struct {
	SectionName string
	Section     *report.Section
}

// Completion carries the final result of an agent's execution.
type Completion struct {
	Result model.TestResult
}

// Listener receives notifications of one agent in arrival order.
type Listener interface {
	OnProgress(Progress)
	OnCompletion(Completion)
}

// Notifications is the event surface of one agent.
type Notifications interface {
	Subscribe(l Listener) (unsubscribe func())
}

// Hub discovers agents and hands out their command and notification surfaces.
type Hub interface {
	// Endpoints returns the agents currently signed in.
	Endpoints() []Endpoint
	// OnSignIn registers fn for every later sign-in.
	OnSignIn(fn func(Endpoint)) (cancel func())
	CommandsFor(ep Endpoint) (Commands, error)
	NotificationsFor(ep Endpoint) (Notifications, error)
}
