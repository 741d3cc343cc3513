package app

import (
	"testfleet/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level.
	Debug bool

	// ConfigPath is the configuration directory.
	ConfigPath string

	// Version is reported by the MCP hub.
	Version string

	// Settings is filled in by NewApplication.
	Settings *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath, version string) *Config {
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Version:    version,
	}
}
