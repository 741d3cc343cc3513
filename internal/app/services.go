package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"testfleet/internal/activetest"
	"testfleet/internal/catalog"
	"testfleet/internal/config"
	"testfleet/internal/controller"
	"testfleet/internal/cycle"
	"testfleet/internal/environment"
	"testfleet/internal/hypervisor"
	"testfleet/internal/inbox"
	"testfleet/internal/metrics"
	"testfleet/internal/model"
	"testfleet/internal/netwake"
	"testfleet/internal/report"
	"testfleet/internal/retry"
	"testfleet/internal/server"
	"testfleet/internal/submission"
	"testfleet/internal/transport/mcplink"
	"testfleet/pkg/logging"
)

// Services holds the wired components of a running controller.
type Services struct {
	Catalog    catalog.Repository
	Hub        *mcplink.Hub
	Storage    *activetest.Storage
	Controller *controller.Controller
	Cycle      *cycle.Cycle
	Server     *server.Server
	Submitter  *submission.Submitter
	// Inbox is nil when the inbox is disabled.
	Inbox   *inbox.Watcher
	Metrics *metrics.Metrics
}

// OpenCatalog opens the configured repository, creating its directory.
func OpenCatalog(cfg *config.Config) (catalog.Repository, error) {
	if cfg.Catalog.Driver == config.CatalogSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Catalog.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	return catalog.Open(cfg.Catalog.Driver, cfg.Catalog.Path)
}

// Timing converts the activation settings.
func Timing(a config.ActivationConfig) environment.Timing {
	return environment.Timing{
		PingTimeout:          a.PingTimeout,
		NetworkSignInTimeout: a.NetworkSignInTimeout,
		PingCycle:            a.PingCycle,
		SignInTimeout:        a.SignInTimeout,
		TurnOffTimeout:       a.TurnOffTimeout,
		TurnOffPoll:          a.TurnOffPoll,
		TerminateTimeout:     a.TerminateTimeout,
	}
}

// CallerEndpoint returns the URL handed to agents for package downloads.
func CallerEndpoint(cfg *config.Config) string {
	if cfg.Controller.CallerEndpoint != "" {
		return cfg.Controller.CallerEndpoint
	}
	host := cfg.Server.Host
	if host == "" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}

// InitializeServices wires every component. ctx bounds the lifetime of the
// controller.
func InitializeServices(ctx context.Context, cfg *Config) (*Services, error) {
	settings := cfg.Settings

	repo, err := OpenCatalog(settings)
	if err != nil {
		return nil, err
	}
	if err := seedMachines(ctx, repo, config.NewMachineStore(cfg.ConfigPath)); err != nil {
		repo.Close()
		return nil, err
	}

	m := metrics.New()
	hub := mcplink.NewHub(settings.Server.Name, cfg.Version)

	registry, err := buildActivators(repo, hub, settings)
	if err != nil {
		repo.Close()
		return nil, err
	}

	storage := activetest.New()
	ctrl := controller.New(ctx, repo, storage, registry, controller.Options{
		ShutdownPolicy: controller.ShutdownPolicy(settings.Controller.ShutdownPolicy),
		PackageDir:     settings.Controller.PackageDir,
		UploadDir:      settings.Controller.UploadDir,
		CallerEndpoint: CallerEndpoint(settings),
		Reports:        report.Factory{Directory: settings.Reports.Directory, Formats: settings.Reports.Formats},
		Metrics:        m,
	})

	cyc := cycle.New(ctrl, storage, cycle.Options{
		Interval:             settings.Cycle.Interval,
		MaxKeepAliveFailures: settings.Cycle.MaxKeepAliveFailures,
		Metrics:              m,
	})

	srv := server.New(server.Options{
		Host:     settings.Server.Host,
		Port:     settings.Server.Port,
		MCP:      hub.Handler(),
		Packages: ctrl.Uploads(),
		Metrics:  m.Handler(),
		Health: func() map[string]interface{} {
			return map[string]interface{}{
				"activeTests":        len(storage.TestIDs()),
				"activeEnvironments": len(storage.ActiveEnvironments()),
				"agents":             len(hub.Endpoints()),
			}
		},
	})

	submitter := submission.New(repo, settings.Controller.PackageDir)
	var watcher *inbox.Watcher
	if settings.Inbox.Enabled {
		watcher = inbox.New(settings.Inbox.Path, settings.Inbox.Debounce, submitter)
	}

	logging.Info("Bootstrap", "Services initialized (catalog=%s, shutdown policy=%s)", settings.Catalog.Driver, settings.Controller.ShutdownPolicy)
	return &Services{
		Catalog:    repo,
		Hub:        hub,
		Storage:    storage,
		Controller: ctrl,
		Cycle:      cyc,
		Server:     srv,
		Submitter:  submitter,
		Inbox:      watcher,
		Metrics:    m,
	}, nil
}

func buildActivators(repo catalog.Repository, hub *mcplink.Hub, settings *config.Config) (*environment.Registry, error) {
	timing := Timing(settings.Activation)
	guard := retry.NewGuard(int(settings.Activation.RetryAttempts))
	physical := environment.NewPhysical(
		netwake.ICMPPinger{Privileged: settings.Activation.PrivilegedPing},
		netwake.UDPWaker{},
		timing,
	)
	activators := []*environment.Activator{environment.NewActivator(physical, hub, timing, guard)}

	cmds := settings.Hypervisor.Commands
	if cmds.Configured() {
		backend, err := hypervisor.NewCommand(hypervisor.Commands{
			State:     cmds.State,
			Start:     cmds.Start,
			Terminate: cmds.Terminate,
			Snapshots: cmds.Snapshots,
			Restore:   cmds.Restore,
		})
		if err != nil {
			return nil, fmt.Errorf("invalid hypervisor commands: %w", err)
		}
		hosts := func(ctx context.Context, id string) (model.MachineDescription, error) {
			return repo.Machine(ctx, id)
		}
		hyperv := environment.NewHyperv(backend, hosts, physical, timing, guard)
		activators = append(activators, environment.NewActivator(hyperv, hub, timing, guard))
	} else {
		logging.Info("Bootstrap", "No hypervisor commands configured; Hyper-V machines cannot be activated")
	}
	return environment.NewRegistry(activators...), nil
}

// seedMachines stores the machines described in the configuration
// directory. Existing machines keep their active flag.
func seedMachines(ctx context.Context, repo catalog.Repository, store *config.MachineStore) error {
	machines, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to read machine descriptions: %w", err)
	}
	for _, m := range machines {
		if err := repo.PutMachine(ctx, m); err != nil {
			return fmt.Errorf("failed to store machine %s: %w", m.ID, err)
		}
	}
	if len(machines) > 0 {
		logging.Info("Bootstrap", "Loaded %d machines from %s", len(machines), store.Dir())
	}
	return nil
}
