package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testfleet/internal/model"
)

func TestParseMachinesShapes(t *testing.T) {
	single := `
id: build-01
kind: physical
networkName: build-01.lab
operatingSystem: {name: Windows}
`
	list := `
- id: host
  kind: physical
  networkName: host.lab
  operatingSystem: {name: Windows Server}
- id: guest
  kind: hyperv
  networkName: guest.lab
  operatingSystem: {name: Windows}
  hyperv: {hostId: host, image: guest-img, snapshot: clean}
`
	stream := single + "---\n" + `
id: build-02
kind: physical
networkName: build-02.lab
operatingSystem: {name: Linux}
`

	tests := []struct {
		name string
		body string
		ids  []string
	}{
		{"single", single, []string{"build-01"}},
		{"list", list, []string{"host", "guest"}},
		{"stream", stream, []string{"build-01", "build-02"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machines, err := ParseMachines([]byte(tt.body))
			require.NoError(t, err)
			var ids []string
			for _, m := range machines {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestParseMachinesRejectsInvalid(t *testing.T) {
	_, err := ParseMachines([]byte("id: x\nkind: physical\n"))
	assert.Error(t, err, "network name is required")

	_, err = ParseMachines([]byte("- {id: a, kind: physical, networkName: a}\n- {id: a, kind: physical, networkName: b}\n"))
	assert.Error(t, err)
}

func TestMachineStore(t *testing.T) {
	store := NewMachineStore(t.TempDir())

	machines, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, machines)

	m := model.MachineDescription{
		ID:              "lab/win:01",
		Kind:            model.MachinePhysical,
		NetworkName:     "win01.lab",
		OperatingSystem: model.OperatingSystem{Name: "Windows"},
	}
	require.NoError(t, store.Save(m))
	assert.Error(t, store.Save(model.MachineDescription{ID: "broken"}))

	machines, err = store.List()
	require.NoError(t, err)
	require.Len(t, machines, 1)
	assert.Equal(t, m, machines[0])

	require.NoError(t, store.Delete("lab/win:01"))
	assert.Error(t, store.Delete("lab/win:01"))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "lab_win_01", sanitizeFilename("lab/win:01"))
	assert.Equal(t, "unnamed", sanitizeFilename("..."))
}
