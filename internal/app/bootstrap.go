package app

import (
	"context"
	"fmt"
	"os"

	"testfleet/internal/config"
	"testfleet/pkg/logging"
)

// Application is the bootstrapped controller.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads the configuration, initializes logging and wires
// every service. Nothing runs until Run.
func NewApplication(ctx context.Context, cfg *Config) (*Application, error) {
	logging.InitForCLI(logging.LevelInfo, os.Stderr)

	settings, err := config.LoadConfig(cfg.ConfigPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load configuration from %s", cfg.ConfigPath)
		return nil, fmt.Errorf("failed to load configuration from %s: %w", cfg.ConfigPath, err)
	}
	cfg.Settings = &settings

	if err := initLogging(cfg.Debug, settings.Logging); err != nil {
		return nil, err
	}

	services, err := InitializeServices(ctx, cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

func initLogging(debug bool, lc config.LoggingConfig) error {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	if debug {
		level = logging.LevelDebug
	}
	if lc.File != "" {
		return logging.InitForFile(level, lc.File, lc.JSON)
	}
	logging.InitForCLI(level, os.Stderr)
	return nil
}

// Services returns the wired services.
func (a *Application) Services() *Services {
	return a.services
}

// Run starts the services and blocks until ctx is cancelled or a
// termination signal arrives.
func (a *Application) Run(ctx context.Context) error {
	defer logging.Close()
	return runServer(ctx, a.services)
}
