package cmd

import (
	"fmt"

	"testfleet/internal/app"
	"testfleet/internal/catalog"
	"testfleet/internal/config"
	"testfleet/internal/model"
)

// openCatalog opens the catalog of the controller configured in
// configPath. The in-memory catalog only exists inside a running
// controller and cannot be shared.
func openCatalog(configPath string) (catalog.Repository, *config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Catalog.Driver == config.CatalogMemory {
		return nil, nil, fmt.Errorf("catalog driver %q is private to 'testfleet serve'; use sqlite to manage it from the command line", cfg.Catalog.Driver)
	}
	repo, err := app.OpenCatalog(&cfg)
	if err != nil {
		return nil, nil, err
	}
	return repo, &cfg, nil
}

// testState summarizes the lifecycle stage of a test.
func testState(t model.Test) string {
	switch {
	case !t.FinishedAt.IsZero():
		return "complete"
	case !t.StartedAt.IsZero():
		return "active"
	default:
		return "queued"
	}
}
