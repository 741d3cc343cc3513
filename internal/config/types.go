package config

import "time"

// Config is the top-level configuration of the controller.
type Config struct {
	// DataDir holds the catalog, packages, uploads, reports and inbox
	// unless their paths are set explicitly.
	DataDir    string           `yaml:"dataDir,omitempty"`
	Cycle      CycleConfig      `yaml:"cycle"`
	Activation ActivationConfig `yaml:"activation"`
	Controller ControllerConfig `yaml:"controller"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Server     ServerConfig     `yaml:"server"`
	Inbox      InboxConfig      `yaml:"inbox"`
	Reports    ReportsConfig    `yaml:"reports"`
	Hypervisor HypervisorConfig `yaml:"hypervisor"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// CycleConfig drives the supervisory cycle.
type CycleConfig struct {
	Interval             time.Duration `yaml:"interval"`             // Tick period and per-poll timeout
	MaxKeepAliveFailures int           `yaml:"maxKeepAliveFailures"` // Failed polls before a test is failed
}

// ActivationConfig holds the time budgets of environment activation.
type ActivationConfig struct {
	PingTimeout          time.Duration `yaml:"pingTimeout"`
	NetworkSignInTimeout time.Duration `yaml:"networkSignInTimeout"`
	PingCycle            time.Duration `yaml:"pingCycle"`
	SignInTimeout        time.Duration `yaml:"signInTimeout"`
	TurnOffTimeout       time.Duration `yaml:"turnOffTimeout"`
	TurnOffPoll          time.Duration `yaml:"turnOffPoll"`
	TerminateTimeout     time.Duration `yaml:"terminateTimeout"`
	RetryAttempts        uint          `yaml:"retryAttempts"`
	// PrivilegedPing uses raw ICMP sockets instead of unprivileged UDP pings.
	PrivilegedPing bool `yaml:"privilegedPing,omitempty"`
}

const (
	ShutdownAlways    = "always"
	ShutdownOnFailure = "on-failure"
)

// ControllerConfig configures test activation.
type ControllerConfig struct {
	ShutdownPolicy string `yaml:"shutdownPolicy"`
	PackageDir     string `yaml:"packageDir,omitempty"`
	UploadDir      string `yaml:"uploadDir,omitempty"`
	// CallerEndpoint is the URL agents download packages from. Defaults to
	// the server address.
	CallerEndpoint string `yaml:"callerEndpoint,omitempty"`
}

const (
	CatalogSQLite = "sqlite"
	CatalogMemory = "memory"
)

// CatalogConfig selects the testing-context repository.
type CatalogConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Name string `yaml:"name"`
}

// InboxConfig configures the submission inbox.
type InboxConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path,omitempty"`
	Debounce time.Duration `yaml:"debounce"`
}

// ReportsConfig configures report delivery.
type ReportsConfig struct {
	Directory string   `yaml:"directory,omitempty"`
	Formats   []string `yaml:"formats"`
}

// HypervisorConfig holds the command templates driving virtual machines.
// Without a state command, Hyper-V machines cannot be activated.
type HypervisorConfig struct {
	Commands HypervisorCommands `yaml:"commands"`
}

// HypervisorCommands are text/template command lines run through /bin/sh.
type HypervisorCommands struct {
	State     string `yaml:"state,omitempty"`
	Start     string `yaml:"start,omitempty"`
	Terminate string `yaml:"terminate,omitempty"`
	Snapshots string `yaml:"snapshots,omitempty"`
	Restore   string `yaml:"restore,omitempty"`
}

// Configured reports whether any command is set.
func (c HypervisorCommands) Configured() bool {
	return c != HypervisorCommands{}
}

// LoggingConfig configures pkg/logging for the serve command.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// File switches from stderr to an append-only log file.
	File string `yaml:"file,omitempty"`
	JSON bool   `yaml:"json,omitempty"`
}
