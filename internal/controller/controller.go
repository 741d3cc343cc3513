// Package controller selects machines for queued tests, activates them,
// starts remote execution and finishes tests when they complete.
package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"testfleet/internal/activetest"
	"testfleet/internal/catalog"
	"testfleet/internal/environment"
	"testfleet/internal/metrics"
	"testfleet/internal/model"
	"testfleet/internal/packaging"
	"testfleet/internal/report"
	"testfleet/pkg/logging"
)

// ShutdownPolicy decides when environments are torn down after a test.
type ShutdownPolicy string

const (
	// ShutdownAlways tears down every environment after every test.
	ShutdownAlways ShutdownPolicy = "always"
	// ShutdownOnFailure tears environments down only after failed tests.
	// Environments of passed tests stay up and their machines stay marked
	// active until released.
	ShutdownOnFailure ShutdownPolicy = "on-failure"
)

// Options configures a Controller.
type Options struct {
	ShutdownPolicy ShutdownPolicy
	// PackageDir holds the suite package of each test as <id>.suite.
	PackageDir string
	// UploadDir receives the per-environment packages agents download.
	UploadDir string
	// CallerEndpoint is the controller address handed to agents.
	CallerEndpoint string
	Selector       Selector
	Reports        report.Factory
	Metrics        *metrics.Metrics
}

// SuitePath returns where the suite package of a test is stored.
func SuitePath(packageDir string, testID int) string {
	return filepath.Join(packageDir, strconv.Itoa(testID)+".suite")
}

// Controller drives test activation and completion. Activation passes and
// completion handling are serialized by one lock.
type Controller struct {
	repo       catalog.Repository
	storage    *activetest.Storage
	activators *environment.Registry
	uploads    *Uploads
	opts       Options

	mu         sync.Mutex
	activating atomic.Bool
	passes     atomic.Int64
	ctx        context.Context
}

// New wires a controller and subscribes it to test completion in storage.
func New(ctx context.Context, repo catalog.Repository, storage *activetest.Storage, activators *environment.Registry, opts Options) *Controller {
	if opts.Selector == nil {
		opts.Selector = FirstMatch{}
	}
	if opts.ShutdownPolicy == "" {
		opts.ShutdownPolicy = ShutdownAlways
	}
	c := &Controller{
		repo:       repo,
		storage:    storage,
		activators: activators,
		uploads:    NewUploads(),
		opts:       opts,
		ctx:        ctx,
	}
	storage.OnCompletion(c.onCompletion)
	return c
}

// Uploads returns the registry of downloadable environment packages.
func (c *Controller) Uploads() *Uploads { return c.uploads }

// Passes returns how many activation passes ran.
func (c *Controller) Passes() int64 { return c.passes.Load() }

// ActivateTests runs one activation pass over the queued tests. A call made
// while another pass is running returns immediately.
func (c *Controller) ActivateTests(ctx context.Context) {
	if !c.activating.CompareAndSwap(false, true) {
		logging.Debug("Controller", "Activation pass already running, skipping")
		return
	}
	defer c.activating.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.passes.Add(1)

	tests, err := c.repo.InactiveTests(ctx)
	if err != nil {
		logging.Error("Controller", err, "Failed to query queued tests")
		return
	}

	claimed := make(map[string]bool)
	for _, test := range tests {
		if ctx.Err() != nil {
			return
		}
		if c.storage.Contains(test.ID) {
			continue
		}
		if len(test.Environments) == 0 {
			logging.Warn("Controller", "Test %d declares no environments, skipping", test.ID)
			c.opts.Metrics.Activation(metrics.ActivationSkipped)
			continue
		}

		assignments, ok, err := c.opts.Selector.Select(ctx, c.repo, test, claimed)
		if err != nil {
			logging.Error("Controller", err, "Environment selection for test %d failed", test.ID)
			continue
		}
		if !ok {
			logging.Debug("Controller", "No free machines for test %d yet", test.ID)
			c.opts.Metrics.Activation(metrics.ActivationSkipped)
			continue
		}
		for _, a := range assignments {
			claimed[a.Machine.ID] = true
		}
		if !c.activate(ctx, test, assignments) {
			// Rolled back machines are free again in the catalog.
			for _, a := range assignments {
				delete(claimed, a.Machine.ID)
			}
		}
	}
	c.observeActive()
}

func (c *Controller) observeActive() {
	c.opts.Metrics.Active(len(c.storage.TestIDs()), len(c.storage.ActiveEnvironments()))
}

// activate starts every environment of test in requirement order. Any
// failure rolls back the environments already started and completes the
// test as failed. It reports whether the test is running.
func (c *Controller) activate(ctx context.Context, test model.Test, assignments []Assignment) bool {
	builder := report.NewBuilder(test)
	init := builder.Section(report.SectionInitialization)
	init.Date("Activation started", time.Now())

	notifiers, err := c.opts.Reports.NotifiersFor(test)
	if err != nil {
		init.Error("Invalid notifications: %v", err)
		notifiers = []report.Notifier{report.NewFileNotifier(c.opts.Reports.Directory, c.opts.Reports.Formats)}
	}
	if err := c.storage.Add(test.ID, builder, notifiers); err != nil {
		logging.Error("Controller", err, "Failed to register test %d", test.ID)
		return false
	}
	if err := c.repo.StartTest(ctx, test.ID, time.Now()); err != nil {
		logging.Error("Controller", err, "Failed to mark test %d started", test.ID)
	}

	var started []*environment.ActiveEnvironment
	err = func() error {
		for _, a := range assignments {
			env, err := c.activateEnvironment(ctx, test, a, init)
			if env != nil {
				started = append(started, env)
			}
			if err != nil {
				return err
			}
		}
		return c.storage.MarkActivated(test.ID)
	}()
	if err == nil {
		logging.Info("Controller", "Activated test %d on %d environments", test.ID, len(started))
		init.Date("Activation finished", time.Now())
		c.opts.Metrics.Activation(metrics.ActivationStarted)
		return true
	}

	logging.Error("Controller", err, "Activation of test %d failed, rolling back", test.ID)
	init.Error("Activation failed: %v", err)
	c.opts.Metrics.Activation(metrics.ActivationFailed)
	for _, env := range started {
		if serr := env.Shutdown(context.WithoutCancel(ctx)); serr != nil {
			init.Error("Shutdown of %s during rollback failed: %v", env.ID(), serr)
		}
	}
	c.dropUploads(test.ID)
	if cerr := c.storage.Complete(test.ID, model.ResultFailed); cerr != nil {
		logging.Error("Controller", cerr, "Failed to complete test %d", test.ID)
	}
	return false
}

// activateEnvironment loads one machine, registers it and starts the
// environment's steps on it. The environment is returned whenever it was
// loaded so the caller can roll it back.
func (c *Controller) activateEnvironment(ctx context.Context, test model.Test, a Assignment, init *report.Section) (*environment.ActiveEnvironment, error) {
	activator, err := c.activators.For(a.Machine)
	if err != nil {
		return nil, err
	}
	if err := c.repo.MarkMachineActive(ctx, a.Machine.ID); err != nil {
		return nil, fmt.Errorf("failed to claim machine %s: %w", a.Machine.ID, err)
	}

	env, err := activator.Load(ctx, a.Machine, init.Child(a.Environment.Name), c.unloaded)
	if err != nil {
		c.releaseMachine(a.Machine.ID)
		return nil, err
	}
	if err := c.storage.AddEnvironmentForTest(test.ID, env); err != nil {
		return env, err
	}

	steps, err := c.repo.StepsFor(ctx, test.ID, a.Environment.Name)
	if err != nil {
		return env, fmt.Errorf("failed to load steps for %s: %w", a.Environment.Name, err)
	}
	for i := range steps {
		steps[i] = steps[i].ForExecution()
	}

	token, err := c.preparePackage(test.ID, a.Environment.Name)
	if err != nil {
		return env, err
	}

	params := []model.Parameter{
		{Key: "TestId", Value: strconv.Itoa(test.ID)},
		{Key: "Product", Value: test.ProductName},
		{Key: "ProductVersion", Value: test.ProductVersion},
		{Key: "Environment", Value: a.Environment.Name},
		{Key: "Machine", Value: a.Machine.ID},
	}
	if err := env.Execute(ctx, test.ID, steps, params, c.opts.CallerEndpoint, token); err != nil {
		return env, err
	}
	init.Info("Environment %s started on %s", a.Environment.Name, a.Machine.ID)
	return env, nil
}

// preparePackage copies the environment's package out of the test's suite
// package and registers it for download. Tests without packaged files get
// an empty environment package.
func (c *Controller) preparePackage(testID int, envName string) (string, error) {
	dir := filepath.Join(c.opts.UploadDir, strconv.Itoa(testID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	out, err := os.CreateTemp(dir, "env-*.pkg")
	if err != nil {
		return "", err
	}
	path := out.Name()
	out.Close()

	found := false
	suite := SuitePath(c.opts.PackageDir, testID)
	if _, statErr := os.Stat(suite); statErr == nil {
		found, err = packaging.ExtractEnvironment(suite, envName, path)
		if err != nil {
			os.Remove(path)
			return "", fmt.Errorf("failed to extract package of %s: %w", envName, err)
		}
	}
	if !found {
		if err := packaging.WriteEnvironmentFile(path, packaging.NewEnvironment(envName)); err != nil {
			os.Remove(path)
			return "", err
		}
	}
	return c.uploads.Register(testID, path), nil
}

// unloaded releases the machine of an environment that shut down.
func (c *Controller) unloaded(env *environment.ActiveEnvironment) {
	c.releaseMachine(env.ID())
}

func (c *Controller) releaseMachine(id string) {
	if err := c.repo.MarkMachineInactive(context.WithoutCancel(c.ctx), id); err != nil {
		logging.Error("Controller", err, "Failed to release machine %s", id)
	}
}

// dropUploads forgets the download tokens of a test and deletes its
// environment packages.
func (c *Controller) dropUploads(testID int) {
	c.uploads.Drop(testID)
	os.RemoveAll(filepath.Join(c.opts.UploadDir, strconv.Itoa(testID)))
}
