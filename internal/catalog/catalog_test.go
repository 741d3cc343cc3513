package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testfleet/internal/model"
)

func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mem, err := Open("memory", "")
	require.NoError(t, err)
	return map[string]Repository{"memory": mem, "sqlite": db}
}

func sampleTest() model.Test {
	return model.Test{
		ProductName:    "Widget",
		ProductVersion: "2.1",
		Owner:          "qa",
		Environments: []model.TestEnvironment{
			{Name: "server", OperatingSystem: model.OperatingSystem{Name: "Windows Server"}},
			{Name: "client", OperatingSystem: model.OperatingSystem{Name: "Windows"},
				Applications: []model.Application{{Name: "Office", Version: "2019"}}},
		},
		Steps: []model.TestStep{
			{Kind: model.StepMsiInstall, Environment: "server", Order: 2},
			{Kind: model.StepConsoleExecute, Environment: "server", Order: 1, ExecutablePath: "prep.exe"},
			{Kind: model.StepScriptExecute, Environment: "client", Order: 1, Language: model.ScriptPowershell},
		},
	}
}

func machine(id, os string, apps ...model.Application) model.MachineDescription {
	return model.MachineDescription{
		ID:              id,
		Kind:            model.MachinePhysical,
		NetworkName:     id + ".lab",
		OperatingSystem: model.OperatingSystem{Name: os},
		Applications:    apps,
	}
}

func TestRepositoryTests(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := repo.AddTest(ctx, sampleTest())
			require.NoError(t, err)
			id2, err := repo.AddTest(ctx, sampleTest())
			require.NoError(t, err)
			assert.Greater(t, id2, id)

			queued, err := repo.InactiveTests(ctx)
			require.NoError(t, err)
			require.Len(t, queued, 2)
			assert.Equal(t, id, queued[0].ID)
			assert.Equal(t, "Widget", queued[0].ProductName)
			assert.Len(t, queued[0].Environments, 2)

			steps, err := repo.StepsFor(ctx, id, "server")
			require.NoError(t, err)
			require.Len(t, steps, 2)
			assert.Equal(t, 1, steps[0].Order)
			assert.Equal(t, "prep.exe", steps[0].ExecutablePath)

			require.NoError(t, repo.StartTest(ctx, id, time.Now()))
			queued, err = repo.InactiveTests(ctx)
			require.NoError(t, err)
			require.Len(t, queued, 1)
			assert.Equal(t, id2, queued[0].ID)

			require.NoError(t, repo.StopTest(ctx, id, time.Now()))
			got, err := repo.Test(ctx, id)
			require.NoError(t, err)
			assert.False(t, got.StartedAt.IsZero())
			assert.False(t, got.FinishedAt.IsZero())

			_, err = repo.Test(ctx, 999)
			assert.True(t, IsNotFound(err))
			assert.True(t, IsNotFound(repo.StartTest(ctx, 999, time.Now())))

			all, err := repo.Tests(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}

func TestRepositoryRejectsInvalidTest(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.AddTest(context.Background(), model.Test{})
			assert.Error(t, err)
		})
	}
}

func TestRepositoryMachines(t *testing.T) {
	office := model.Application{Name: "Office", Version: "2019"}
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.PutMachine(ctx, machine("pc-02", "Windows", office)))
			require.NoError(t, repo.PutMachine(ctx, machine("pc-01", "windows", office)))
			require.NoError(t, repo.PutMachine(ctx, machine("srv-01", "Windows Server")))
			assert.Error(t, repo.PutMachine(ctx, model.MachineDescription{ID: "broken"}))

			client := sampleTest().Environments[1]
			found, err := repo.InactiveMachines(ctx, client)
			require.NoError(t, err)
			require.Len(t, found, 2)
			assert.Equal(t, "pc-01", found[0].ID)

			require.NoError(t, repo.MarkMachineActive(ctx, "pc-01"))
			found, err = repo.InactiveMachines(ctx, client)
			require.NoError(t, err)
			require.Len(t, found, 1)
			assert.Equal(t, "pc-02", found[0].ID)

			// Re-registering keeps the active flag.
			require.NoError(t, repo.PutMachine(ctx, machine("pc-01", "Windows", office)))
			md, err := repo.Machine(ctx, "pc-01")
			require.NoError(t, err)
			assert.True(t, md.IsActive)

			require.NoError(t, repo.MarkMachineInactive(ctx, "pc-01"))
			md, err = repo.Machine(ctx, "pc-01")
			require.NoError(t, err)
			assert.False(t, md.IsActive)

			assert.True(t, IsNotFound(repo.MarkMachineActive(ctx, "ghost")))
			_, err = repo.Machine(ctx, "ghost")
			assert.True(t, IsNotFound(err))

			all, err := repo.Machines(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("postgres", "")
	assert.Error(t, err)
}
