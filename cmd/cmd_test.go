package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testfleet/internal/model"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommandExecution(t *testing.T) {
	originalVersion := rootCmd.Version
	defer func() { rootCmd.Version = originalVersion }()
	rootCmd.Version = "1.2.3-test"

	versionCmd := newVersionCmd()
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, []string{})

	assert.Equal(t, "testfleet version 1.2.3-test\n", buf.String())
}

func TestRootHasCommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "submit", "machine", "list", "version"} {
		assert.Contains(t, names, want)
	}
}

const labMachines = `
- id: build-01
  kind: physical
  networkName: build-01.lab
  operatingSystem: {name: Windows}
  applications: [{name: Office, version: "16"}]
- id: build-02
  kind: physical
  networkName: build-02.lab
  operatingSystem: {name: Windows}
`

func TestMachineLifecycle(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(t.TempDir(), "machines.yaml")
	require.NoError(t, os.WriteFile(file, []byte(labMachines), 0644))

	out, err := run(t, "machine", "add", file, "--save", "--config-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Added machine build-02")
	assert.FileExists(t, filepath.Join(dir, "machines", "build-01.yaml"))

	out, err = run(t, "machine", "list", "--config-path", dir, "-o", "json")
	require.NoError(t, err)
	var machines []model.MachineDescription
	require.NoError(t, json.Unmarshal([]byte(out), &machines))
	require.Len(t, machines, 2)

	out, err = run(t, "machine", "list", "--config-path", dir, "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "Office 16")

	_, err = run(t, "machine", "release", "nope", "--config-path", dir)
	assert.Error(t, err)
	_, err = run(t, "machine", "release", "build-01", "--config-path", dir, "-q")
	assert.NoError(t, err)
}

func TestSubmitAndList(t *testing.T) {
	dir := t.TempDir()
	descDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(descDir, "setup.msi"), []byte("msi"), 0644))
	desc := filepath.Join(descDir, "test.yaml")
	require.NoError(t, os.WriteFile(desc, []byte(`
productName: Shop
productVersion: "3.0"
owner: qa
environments:
  - name: server
    operatingSystem: {name: Windows}
steps:
  - kind: msi
    environment: server
    order: 1
    files: {setup.msi: setup.msi}
`), 0644))

	out, err := run(t, "submit", desc, "--config-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Queued test 1")
	assert.FileExists(t, filepath.Join(dir, "data", "packages", "1.suite"))

	out, err = run(t, "list", "--config-path", dir, "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "productName: Shop")

	out, err = run(t, "list", "--config-path", dir, "-o", "table", "--no-headers")
	require.NoError(t, err)
	assert.Contains(t, out, "queued")
}

func TestMemoryCatalogIsRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("catalog:\n  driver: memory\n"), 0644))
	_, err := run(t, "list", "--config-path", dir)
	assert.ErrorContains(t, err, "private")
}

func TestFindReport(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test-4-abc.yaml"), []byte("id: abc\ntestId: 4\nresult: failed\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test-4-abc.txt"), []byte("text"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test-42-def.yaml"), []byte("result: passed\n"), 0644))

	files, result := findReport(dir, 4)
	assert.Len(t, files, 2)
	assert.Equal(t, model.ResultFailed, result)

	files, result = findReport(dir, 5)
	assert.Empty(t, files)
	assert.Equal(t, model.TestResult(""), result)
}

func TestTestState(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "queued", testState(model.Test{}))
	assert.Equal(t, "active", testState(model.Test{StartedAt: now}))
	assert.Equal(t, "complete", testState(model.Test{StartedAt: now, FinishedAt: now}))
}
