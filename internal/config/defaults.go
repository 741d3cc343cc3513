package config

import (
	"path/filepath"
	"time"
)

const (
	DefaultPort       = 8095
	DefaultServerName = "testfleet-controller"
)

// GetDefaultConfig returns the default configuration. Data paths stay empty
// until Resolve fills them in.
func GetDefaultConfig() Config {
	return Config{
		Cycle: CycleConfig{
			Interval:             10 * time.Second,
			MaxKeepAliveFailures: 10,
		},
		Activation: ActivationConfig{
			PingTimeout:          2 * time.Second,
			NetworkSignInTimeout: 5 * time.Minute,
			PingCycle:            10 * time.Second,
			SignInTimeout:        5 * time.Minute,
			TurnOffTimeout:       2 * time.Minute,
			TurnOffPoll:          2 * time.Second,
			TerminateTimeout:     30 * time.Second,
			RetryAttempts:        3,
		},
		Controller: ControllerConfig{ShutdownPolicy: ShutdownAlways},
		Catalog:    CatalogConfig{Driver: CatalogSQLite},
		Server: ServerConfig{
			Host: "localhost",
			Port: DefaultPort,
			Name: DefaultServerName,
		},
		Inbox: InboxConfig{
			Enabled:  true,
			Debounce: 500 * time.Millisecond,
		},
		Reports: ReportsConfig{Formats: []string{"yaml", "text"}},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Resolve makes paths absolute relative to configDir and fills empty data
// paths from DataDir.
func (c *Config) Resolve(configDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(configDir, p)
	}
	orDefault := func(p, sub string) string {
		if p == "" {
			return filepath.Join(c.DataDir, sub)
		}
		return abs(p)
	}

	if c.DataDir == "" {
		c.DataDir = filepath.Join(configDir, "data")
	}
	c.DataDir = abs(c.DataDir)

	c.Controller.PackageDir = orDefault(c.Controller.PackageDir, "packages")
	c.Controller.UploadDir = orDefault(c.Controller.UploadDir, "uploads")
	c.Catalog.Path = orDefault(c.Catalog.Path, "catalog.db")
	c.Inbox.Path = orDefault(c.Inbox.Path, "inbox")
	c.Reports.Directory = orDefault(c.Reports.Directory, "reports")
	c.Logging.File = abs(c.Logging.File)
}
