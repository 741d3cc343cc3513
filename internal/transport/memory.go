package transport

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"testfleet/internal/model"
	"testfleet/internal/report"
)

type memoryAgent struct {
	endpoint Endpoint
	commands Commands
	events   *Broadcaster
}

// MemoryHub is an in-process Hub. Agents are registered with SignIn and
// publish events through Progress and Complete.
type MemoryHub struct {
	mu       sync.RWMutex
	agents   map[string]*memoryAgent
	signIns  map[int]func(Endpoint)
	nextHook int
}

// NewMemoryHub returns an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		agents:  make(map[string]*memoryAgent),
		signIns: make(map[int]func(Endpoint)),
	}
}

func key(name string) string { return strings.ToLower(name) }

// SignIn registers an agent and fires sign-in hooks. A repeated sign-in
// replaces the command surface but keeps the subscribers.
func (h *MemoryHub) SignIn(ep Endpoint, commands Commands) {
	h.mu.Lock()
	agent, ok := h.agents[key(ep.Name)]
	if !ok {
		agent = &memoryAgent{events: NewBroadcaster()}
		h.agents[key(ep.Name)] = agent
	}
	agent.endpoint = ep
	agent.commands = commands
	hooks := make([]func(Endpoint), 0, len(h.signIns))
	for _, fn := range h.signIns {
		hooks = append(hooks, fn)
	}
	h.mu.Unlock()

	for _, fn := range hooks {
		fn(ep)
	}
}

// SignOut forgets an agent.
func (h *MemoryHub) SignOut(name string) {
	h.mu.Lock()
	delete(h.agents, key(name))
	h.mu.Unlock()
}

// Endpoints implements Hub.
func (h *MemoryHub) Endpoints() []Endpoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Endpoint, 0, len(h.agents))
	for _, a := range h.agents {
		out = append(out, a.endpoint)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OnSignIn implements Hub.
func (h *MemoryHub) OnSignIn(fn func(Endpoint)) func() {
	h.mu.Lock()
	id := h.nextHook
	h.nextHook++
	h.signIns[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.signIns, id)
		h.mu.Unlock()
	}
}

func (h *MemoryHub) agent(name string) (*memoryAgent, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.agents[key(name)]
	if !ok {
		return nil, fmt.Errorf("no agent signed in as %s", name)
	}
	return a, nil
}

// CommandsFor implements Hub.
func (h *MemoryHub) CommandsFor(ep Endpoint) (Commands, error) {
	a, err := h.agent(ep.Name)
	if err != nil {
		return nil, err
	}
	return a.commands, nil
}

// NotificationsFor implements Hub.
func (h *MemoryHub) NotificationsFor(ep Endpoint) (Notifications, error) {
	a, err := h.agent(ep.Name)
	if err != nil {
		return nil, err
	}
	return a.events, nil
}

// Progress publishes a progress event on behalf of an agent.
func (h *MemoryHub) Progress(name, sectionName string, section *report.Section) error {
	a, err := h.agent(name)
	if err != nil {
		return err
	}
	a.events.PublishProgress(Progress{SectionName: sectionName, Section: section})
	return nil
}

// Complete publishes a completion event on behalf of an agent.
func (h *MemoryHub) Complete(name string, result model.TestResult) error {
	a, err := h.agent(name)
	if err != nil {
		return err
	}
	a.events.PublishCompletion(Completion{Result: result})
	return nil
}
