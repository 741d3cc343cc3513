package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func windowsServer() TestEnvironment {
	return TestEnvironment{
		Name:            "server",
		OperatingSystem: OperatingSystem{Name: "Windows Server", ServicePack: "SP2", Culture: "en-US", PointerSize: 64},
		Applications:    []Application{{Name: "SQL Server", Version: "2008"}},
	}
}

func TestMachineSatisfies(t *testing.T) {
	env := windowsServer()
	base := MachineDescription{
		ID:              "m1",
		Kind:            MachinePhysical,
		NetworkName:     "lab-01",
		OperatingSystem: OperatingSystem{Name: "windows server", ServicePack: "sp2", Culture: "en-US", PointerSize: 64},
		Applications:    []Application{{Name: "SQL Server", Version: "2008"}, {Name: "IIS", Version: "7"}},
	}

	tests := []struct {
		name   string
		mutate func(m *MachineDescription)
		want   bool
	}{
		{name: "exact match", mutate: func(m *MachineDescription) {}, want: true},
		{name: "wrong os", mutate: func(m *MachineDescription) { m.OperatingSystem.Name = "Linux" }, want: false},
		{name: "wrong pointer size", mutate: func(m *MachineDescription) { m.OperatingSystem.PointerSize = 32 }, want: false},
		{name: "wrong culture", mutate: func(m *MachineDescription) { m.OperatingSystem.Culture = "de-DE" }, want: false},
		{name: "missing application", mutate: func(m *MachineDescription) { m.Applications = m.Applications[1:] }, want: false},
		{name: "application version differs", mutate: func(m *MachineDescription) { m.Applications[0].Version = "2012" }, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			m.Applications = append([]Application(nil), base.Applications...)
			tt.mutate(&m)
			assert.Equal(t, tt.want, m.Satisfies(env))
		})
	}
}

func TestMachineValidate(t *testing.T) {
	assert.NoError(t, MachineDescription{ID: "p", Kind: MachinePhysical, NetworkName: "p"}.Validate())
	assert.Error(t, MachineDescription{ID: "v", Kind: MachineHyperV, NetworkName: "v"}.Validate())
	assert.NoError(t, MachineDescription{
		ID: "v", Kind: MachineHyperV, NetworkName: "v",
		Hyperv: &HypervSpec{HostID: "p", Image: "img", Snapshot: "clean"},
	}.Validate())
	assert.Error(t, MachineDescription{ID: "x", Kind: "cloud", NetworkName: "x"}.Validate())
}

func TestTestValidate(t *testing.T) {
	test := Test{
		ProductName:  "Widget",
		Environments: []TestEnvironment{windowsServer()},
		Steps: []TestStep{
			{Kind: StepConsoleExecute, Environment: "server", Order: 1, ExecutablePath: "setup.exe"},
			{Kind: StepScriptExecute, Environment: "server", Order: 2, Language: ScriptPowershell},
		},
	}
	require.NoError(t, test.Validate())

	dup := test
	dup.Steps = append([]TestStep(nil), test.Steps...)
	dup.Steps[1].Order = 1
	assert.ErrorContains(t, dup.Validate(), "duplicate step order")

	unknown := test
	unknown.Steps = []TestStep{{Kind: StepMsiInstall, Environment: "client", Order: 1}}
	assert.ErrorContains(t, unknown.Validate(), "unknown environment")

	for _, name := range []string{".", "..", "a/b", `a\b`} {
		bad := Test{ProductName: "Widget", Environments: []TestEnvironment{windowsServer()}}
		bad.Environments[0].Name = name
		assert.ErrorContains(t, bad.Validate(), "not a plain name", name)
	}
}

func TestStepsForSortsByOrder(t *testing.T) {
	test := Test{Steps: []TestStep{
		{Environment: "a", Order: 3},
		{Environment: "b", Order: 1},
		{Environment: "a", Order: 1},
		{Environment: "a", Order: 2},
	}}

	steps := test.StepsFor("a")
	require.Len(t, steps, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{steps[0].Order, steps[1].Order, steps[2].Order})
}

func TestForExecutionDropsSubmissionFields(t *testing.T) {
	step := TestStep{
		Kind:           StepXCopyDeploy,
		Environment:    "server",
		Order:          4,
		Destination:    `C:\app`,
		Parameters:     []Parameter{{Key: "k", Value: "v"}},
		Files:          map[string]string{"app.zip": "/tmp/app.zip"},
		ExecutablePath: "",
	}

	out := step.ForExecution()
	assert.Nil(t, out.Files)
	assert.Equal(t, FailureModeStop, out.FailureMode)
	assert.Equal(t, step.Parameters, out.Parameters)

	out.Parameters[0].Value = "changed"
	assert.Equal(t, "v", step.Parameters[0].Value)
}
