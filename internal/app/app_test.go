package app

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testfleet/internal/model"
)

const testConfig = `
cycle:
  interval: 50ms
catalog:
  driver: memory
server:
  host: 127.0.0.1
  port: 0
inbox:
  enabled: true
  debounce: 10ms
hypervisor:
  commands:
    state: "echo Running"
    start: "true"
    terminate: "true"
    restore: "true"
`

const testMachines = `
- id: host
  kind: physical
  networkName: host.lab
  operatingSystem: {name: Windows Server}
- id: guest
  kind: hyperv
  networkName: guest.lab
  operatingSystem: {name: Windows}
  hyperv: {hostId: host, image: guest, snapshot: clean}
`

func setupConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(testConfig), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "machines"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "machines", "lab.yaml"), []byte(testMachines), 0644))
	return dir
}

func TestNewApplicationWiresServices(t *testing.T) {
	dir := setupConfigDir(t)
	ctx := context.Background()

	a, err := NewApplication(ctx, NewConfig(false, dir, "test"))
	require.NoError(t, err)
	s := a.Services()

	machines, err := s.Catalog.Machines(ctx)
	require.NoError(t, err)
	assert.Len(t, machines, 2)

	guest, err := s.Catalog.Machine(ctx, "guest")
	require.NoError(t, err)
	assert.Equal(t, model.MachineHyperV, guest.Kind)
	assert.NotNil(t, s.Inbox)
	assert.Equal(t, filepath.Join(dir, "data", "packages"), a.config.Settings.Controller.PackageDir)

	s.close()
}

func TestNewApplicationRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("catalog:\n  driver: oracle\n"), 0644))

	_, err := NewApplication(context.Background(), NewConfig(false, dir, "test"))
	assert.Error(t, err)
}

func TestRunServesUntilCancelled(t *testing.T) {
	dir := setupConfigDir(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := NewApplication(ctx, NewConfig(true, dir, "test"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	var body string
	require.Eventually(t, func() bool {
		if a.Services().Server.Addr() == nil {
			return false
		}
		resp, err := http.Get(a.Services().Server.URL() + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, `"agents":0`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestCallerEndpoint(t *testing.T) {
	dir := setupConfigDir(t)
	a, err := NewApplication(context.Background(), NewConfig(false, dir, "test"))
	require.NoError(t, err)
	defer a.Services().close()

	settings := a.config.Settings
	assert.Equal(t, "http://127.0.0.1:0", CallerEndpoint(settings))
	settings.Controller.CallerEndpoint = "http://ctrl.lab:8095"
	assert.Equal(t, "http://ctrl.lab:8095", CallerEndpoint(settings))
}
