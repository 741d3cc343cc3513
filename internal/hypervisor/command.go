package hypervisor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"text/template"

	"al.essio.dev/pkg/shellescape"
	"github.com/Masterminds/sprig/v3"

	"testfleet/pkg/logging"
)

const commandSubsystem = "Hypervisor"

// execCommandContext is a variable to allow mocking in tests
var execCommandContext = exec.CommandContext

// Commands holds the shell command templates of a Command backend. Each
// template is rendered with .Host, .Image and .Snapshot; the shq function
// quotes a value for the shell.
type Commands struct {
	State     string `yaml:"state"`
	Start     string `yaml:"start"`
	Terminate string `yaml:"terminate"`
	Snapshots string `yaml:"snapshots"`
	Restore   string `yaml:"restore"`
}

type commandData struct {
	Host     string
	Image    string
	Snapshot string
}

// Command is a Backend that runs shell commands.
type Command struct {
	shell     string
	templates map[string]*template.Template
}

// NewCommand parses the command templates. Every template must be set.
func NewCommand(cmds Commands) (*Command, error) {
	funcs := sprig.TxtFuncMap()
	funcs["shq"] = shellescape.Quote

	c := &Command{shell: "/bin/sh", templates: make(map[string]*template.Template)}
	for name, text := range map[string]string{
		"state":     cmds.State,
		"start":     cmds.Start,
		"terminate": cmds.Terminate,
		"snapshots": cmds.Snapshots,
		"restore":   cmds.Restore,
	} {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("hypervisor command %q is not configured", name)
		}
		tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("hypervisor command %q: %w", name, err)
		}
		c.templates[name] = tmpl
	}
	return c, nil
}

func (c *Command) run(ctx context.Context, name string, data commandData) (string, error) {
	var line bytes.Buffer
	if err := c.templates[name].Execute(&line, data); err != nil {
		return "", fmt.Errorf("failed to render hypervisor command %q: %w", name, err)
	}

	logging.Debug(commandSubsystem, "Running %s: %s", name, line.String())
	cmd := execCommandContext(ctx, c.shell, "-c", line.String())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("hypervisor command %q failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// State implements Backend.
func (c *Command) State(ctx context.Context, vm VM) (PowerState, error) {
	out, err := c.run(ctx, "state", commandData{Host: vm.Host, Image: vm.Image})
	if err != nil {
		return StateUnknown, err
	}
	return ParsePowerState(out), nil
}

// Start implements Backend.
func (c *Command) Start(ctx context.Context, vm VM) error {
	_, err := c.run(ctx, "start", commandData{Host: vm.Host, Image: vm.Image})
	return err
}

// Terminate implements Backend.
func (c *Command) Terminate(ctx context.Context, vm VM) error {
	_, err := c.run(ctx, "terminate", commandData{Host: vm.Host, Image: vm.Image})
	return err
}

// Snapshots implements Backend. The command prints one snapshot per line.
func (c *Command) Snapshots(ctx context.Context, vm VM) ([]string, error) {
	out, err := c.run(ctx, "snapshots", commandData{Host: vm.Host, Image: vm.Image})
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Restore implements Backend.
func (c *Command) Restore(ctx context.Context, vm VM, snapshot string) error {
	_, err := c.run(ctx, "restore", commandData{Host: vm.Host, Image: vm.Image, Snapshot: snapshot})
	return err
}
