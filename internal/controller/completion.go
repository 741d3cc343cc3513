package controller

import (
	"context"
	"os"
	"time"

	"testfleet/internal/activetest"
	"testfleet/internal/model"
	"testfleet/internal/report"
	"testfleet/pkg/logging"
)

// onCompletion finishes a test: tears its environments down, delivers the
// report and forgets the test.
func (c *Controller) onCompletion(done activetest.Completion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := context.WithoutCancel(c.ctx)
	builder, err := c.storage.ReportFor(done.TestID)
	if err != nil {
		logging.Warn("Controller", "Completion for unknown test %d", done.TestID)
		return
	}
	notifiers, _ := c.storage.NotificationsFor(done.TestID)
	envs, _ := c.storage.EnvironmentsFor(done.TestID)

	term := builder.Section(report.SectionTermination)
	if c.opts.ShutdownPolicy == ShutdownAlways || done.Result == model.ResultFailed {
		for _, env := range envs {
			if err := env.Shutdown(ctx); err != nil {
				term.Error("Shutdown of %s failed: %v", env.ID(), err)
			}
		}
	} else {
		for _, env := range envs {
			term.Info("Environment %s kept running", env.ID())
		}
	}
	term.Date("Test finished", time.Now())

	r, err := builder.Finalize(done.Result)
	if err != nil {
		logging.Error("Controller", err, "Failed to finalize report of test %d", done.TestID)
	} else {
		for _, n := range notifiers {
			if err := n.Notify(ctx, r); err != nil {
				logging.Error("Controller", err, "Notification %s for test %d failed", n.Name(), done.TestID)
			}
		}
	}

	if err := c.repo.StopTest(ctx, done.TestID, time.Now()); err != nil {
		logging.Error("Controller", err, "Failed to mark test %d finished", done.TestID)
	}
	c.storage.Remove(done.TestID)
	c.dropUploads(done.TestID)

	if err := os.Remove(SuitePath(c.opts.PackageDir, done.TestID)); err != nil && !os.IsNotExist(err) {
		logging.Warn("Controller", "Failed to delete package of test %d: %v", done.TestID, err)
	}
	c.opts.Metrics.Completion(done.Result)
	c.observeActive()
	logging.Info("Controller", "Test %d finished with %s", done.TestID, done.Result)
}
