// Package cycle runs the periodic supervisor that activates queued tests
// and watches active environments for liveness.
package cycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"testfleet/internal/activetest"
	"testfleet/internal/metrics"
	"testfleet/pkg/logging"
)

// Activator runs one activation pass.
type Activator interface {
	ActivateTests(ctx context.Context)
}

// Options configures a Cycle.
type Options struct {
	// Interval is the tick period and the per-poll timeout.
	Interval time.Duration
	// MaxKeepAliveFailures is the number of consecutive failed polls an
	// environment may accumulate before its test is failed.
	MaxKeepAliveFailures int
	Metrics              *metrics.Metrics
}

// DefaultOptions returns the default cycle settings.
func DefaultOptions() Options {
	return Options{Interval: 10 * time.Second, MaxKeepAliveFailures: 10}
}

// Cycle is a single-flight periodic supervisor.
type Cycle struct {
	activator Activator
	storage   *activetest.Storage
	opts      Options

	gate     sync.RWMutex
	stopped  bool
	running  atomic.Bool
	inflight sync.WaitGroup

	stopTimer chan struct{}
	loopDone  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New returns a cycle that is not started yet.
func New(activator Activator, storage *activetest.Storage, opts Options) *Cycle {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.MaxKeepAliveFailures <= 0 {
		opts.MaxKeepAliveFailures = def.MaxKeepAliveFailures
	}
	return &Cycle{
		activator: activator,
		storage:   storage,
		opts:      opts,
		stopTimer: make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
}

// Start begins ticking. Each tick is dispatched on its own goroutine;
// ticks that overlap a running one are dropped.
func (c *Cycle) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.loop(ctx)
	})
}

func (c *Cycle) loop(ctx context.Context) {
	defer close(c.loopDone)
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	logging.Info("Cycle", "Supervisor started with interval %s", c.opts.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopTimer:
			return
		case <-ticker.C:
			go c.Tick(ctx)
		}
	}
}

// Stop halts the timer and waits for an in-flight tick. No tick runs after
// Stop returns.
func (c *Cycle) Stop() {
	c.stopOnce.Do(func() {
		c.gate.Lock()
		c.stopped = true
		c.gate.Unlock()
		close(c.stopTimer)
	})
	c.startOnce.Do(func() { close(c.loopDone) })
	<-c.loopDone
	c.inflight.Wait()
	logging.Info("Cycle", "Supervisor stopped")
}

func (c *Cycle) begin() bool {
	c.gate.RLock()
	defer c.gate.RUnlock()
	if c.stopped {
		return false
	}
	if !c.running.CompareAndSwap(false, true) {
		return false
	}
	c.inflight.Add(1)
	return true
}

func (c *Cycle) end() {
	c.running.Store(false)
	c.inflight.Done()
}

// Tick runs one supervisory pass unless another is running or the cycle is
// stopped. It reports whether the pass ran.
func (c *Cycle) Tick(ctx context.Context) bool {
	if !c.begin() {
		logging.Debug("Cycle", "Previous tick still running, skipping")
		c.opts.Metrics.Tick("skipped")
		return false
	}
	defer c.end()
	c.opts.Metrics.Tick("run")

	c.activator.ActivateTests(ctx)

	refs := c.storage.ActiveEnvironments()
	c.opts.Metrics.Active(len(c.storage.TestIDs()), len(refs))

	var g errgroup.Group
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			c.poll(ctx, ref)
			return nil
		})
	}
	_ = g.Wait()
	return true
}

func (c *Cycle) poll(ctx context.Context, ref activetest.EnvironmentRef) {
	env := ref.Environment
	state := env.State(ctx, c.opts.Interval)
	failures := env.RecordKeepAlive(state)
	if failures == 0 {
		return
	}

	c.opts.Metrics.KeepAliveFailure()
	logging.Warn("Cycle", "Keep-alive of %s (test %d) failed %d times in a row", env.ID(), ref.TestID, failures)
	if failures <= c.opts.MaxKeepAliveFailures {
		return
	}

	c.opts.Metrics.Escalation()
	logging.Error("Cycle", nil, "Environment %s of test %d is lost", env.ID(), ref.TestID)
	if err := c.storage.EnvironmentFailure(ctx, ref.TestID, env.ID()); err != nil && !activetest.IsUnknownTest(err) {
		logging.Error("Cycle", err, "Failed to escalate loss of %s", env.ID())
	}
}
