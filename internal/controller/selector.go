package controller

import (
	"context"

	"testfleet/internal/catalog"
	"testfleet/internal/model"
)

// Assignment binds one environment requirement of a test to a machine.
type Assignment struct {
	Environment model.TestEnvironment
	Machine     model.MachineDescription
}

// Selector picks machines for the environment requirements of a test.
// claimed holds machines already handed out in the current pass; a
// selector must not return them. ok is false when some requirement has no
// match.
type Selector interface {
	Select(ctx context.Context, repo catalog.Repository, test model.Test, claimed map[string]bool) (assignments []Assignment, ok bool, err error)
}

// FirstMatch takes, per requirement in order, the first inactive machine
// that satisfies it.
type FirstMatch struct{}

// Select implements Selector.
func (FirstMatch) Select(ctx context.Context, repo catalog.Repository, test model.Test, claimed map[string]bool) ([]Assignment, bool, error) {
	taken := make(map[string]bool, len(test.Environments))
	var out []Assignment
	for _, env := range test.Environments {
		candidates, err := repo.InactiveMachines(ctx, env)
		if err != nil {
			return nil, false, err
		}
		var picked *model.MachineDescription
		for i := range candidates {
			id := candidates[i].ID
			if claimed[id] || taken[id] {
				continue
			}
			picked = &candidates[i]
			break
		}
		if picked == nil {
			return nil, false, nil
		}
		taken[picked.ID] = true
		out = append(out, Assignment{Environment: env, Machine: *picked})
	}
	return out, true, nil
}
