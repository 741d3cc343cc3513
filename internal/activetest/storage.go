// Package activetest keeps the registry of tests that are currently
// executing and turns per-environment completion into test completion.
package activetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"testfleet/internal/environment"
	"testfleet/internal/model"
	"testfleet/internal/report"
	"testfleet/pkg/logging"
)

// UnknownTestError is returned for test ids that are not registered.
type UnknownTestError struct {
	TestID int
}

// Error implements the error interface for UnknownTestError.
func (e *UnknownTestError) Error() string {
	return fmt.Sprintf("test %d is not active", e.TestID)
}

// NewUnknownTestError creates a new UnknownTestError.
func NewUnknownTestError(testID int) *UnknownTestError {
	return NewUnknownTestError(testID)
}

// IsUnknownTest checks if an error is or wraps an UnknownTestError.
func IsUnknownTest(err error) bool {
	var target *UnknownTestError
	return errors.As(err, &target)
}

// SectionEnvironmentFailure is the report section naming lost environments.
const SectionEnvironmentFailure = "Environment failure"

// Completion is raised once per test when it finishes.
type Completion struct {
	TestID int
	Result model.TestResult
}

// EnvironmentRef names an active environment together with its test.
type EnvironmentRef struct {
	TestID      int
	Environment *environment.ActiveEnvironment
}

type pair struct {
	env         *environment.ActiveEnvironment
	progress    model.EnvironmentProgress
	unsubscribe func()
}

type testMap struct {
	builder       *report.Builder
	notifications []report.Notifier
	envs          []*pair
	activated     bool
	completed     bool
	result        model.TestResult
}

func (t *testMap) allComplete() bool {
	if len(t.envs) == 0 {
		return false
	}
	for _, p := range t.envs {
		if p.progress != model.EnvironmentComplete {
			return false
		}
	}
	return true
}

func (t *testMap) find(env *environment.ActiveEnvironment) *pair {
	for _, p := range t.envs {
		if p.env == env {
			return p
		}
	}
	return nil
}

// Storage is the registry of active tests. Completion handlers run on their
// own goroutine, never under the storage lock.
type Storage struct {
	mu       sync.Mutex
	tests    map[int]*testMap
	handlers []func(Completion)
	inflight sync.WaitGroup
}

// New returns an empty storage.
func New() *Storage {
	return &Storage{tests: make(map[int]*testMap)}
}

// OnCompletion registers fn for every test completion.
func (s *Storage) OnCompletion(fn func(Completion)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// Wait blocks until all dispatched completion handlers returned.
func (s *Storage) Wait() {
	s.inflight.Wait()
}

// Add registers a test. It fails if the test is already registered.
func (s *Storage) Add(testID int, builder *report.Builder, notifications []report.Notifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tests[testID]; exists {
		return fmt.Errorf("test %d is already active", testID)
	}
	s.tests[testID] = &testMap{
		builder:       builder,
		notifications: notifications,
		result:        model.ResultNone,
	}
	logging.Debug("ActiveTests", "Registered test %d", testID)
	return nil
}

// AddEnvironmentForTest pairs env with the test and subscribes to its events.
func (s *Storage) AddEnvironmentForTest(testID int, env *environment.ActiveEnvironment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tests[testID]
	if !ok {
		return NewUnknownTestError(testID)
	}
	if t.find(env) != nil {
		return fmt.Errorf("environment %s is already registered for test %d", env.ID(), testID)
	}
	p := &pair{env: env, progress: model.EnvironmentExecuting}
	p.unsubscribe = env.Subscribe(&envListener{storage: s, testID: testID})
	t.envs = append(t.envs, p)
	return nil
}

// MarkActivated records that every environment of the test was started.
// Completion is not raised before this.
func (s *Storage) MarkActivated(testID int) error {
	s.mu.Lock()
	t, ok := s.tests[testID]
	if !ok {
		s.mu.Unlock()
		return NewUnknownTestError(testID)
	}
	t.activated = true
	fire := !t.completed && t.allComplete()
	if fire {
		t.completed = true
	}
	result := t.result
	s.mu.Unlock()

	if fire {
		s.raise(Completion{TestID: testID, Result: result})
	}
	return nil
}

// envListener binds environment events to the test the environment was
// registered for.
type envListener struct {
	storage *Storage
	testID  int
}

func (l *envListener) OnEnvironmentProgress(env *environment.ActiveEnvironment, _ int, sectionName string, section *report.Section) {
	l.storage.progress(l.testID, env, sectionName, section)
}

func (l *envListener) OnEnvironmentCompletion(env *environment.ActiveEnvironment, _ int, result model.TestResult) {
	l.storage.environmentComplete(l.testID, env, result)
}

func (s *Storage) progress(testID int, env *environment.ActiveEnvironment, sectionName string, section *report.Section) {
	s.mu.Lock()
	t, ok := s.tests[testID]
	s.mu.Unlock()
	if !ok {
		logging.Warn("ActiveTests", "Dropping progress of %s for inactive test %d", env.ID(), testID)
		return
	}
	t.builder.AppendSection(sectionName, section)
}

func (s *Storage) environmentComplete(testID int, env *environment.ActiveEnvironment, result model.TestResult) {
	s.mu.Lock()
	t, ok := s.tests[testID]
	if !ok || t.completed {
		s.mu.Unlock()
		return
	}
	p := t.find(env)
	if p == nil {
		s.mu.Unlock()
		return
	}
	p.progress = model.EnvironmentComplete
	t.result = result
	fire := t.activated && t.allComplete()
	if fire {
		t.completed = true
	}
	s.mu.Unlock()

	logging.Info("ActiveTests", "Environment %s finished test %d with %s", env.ID(), testID, result)
	if fire {
		s.raise(Completion{TestID: testID, Result: result})
	}
}

// EnvironmentFailure terminates every environment of the test, records the
// lost environment in the report and completes the test as failed. The
// terminations run concurrently, each bounded by the environment's
// terminate timeout.
func (s *Storage) EnvironmentFailure(ctx context.Context, testID int, environmentID string) error {
	s.mu.Lock()
	t, ok := s.tests[testID]
	if !ok {
		s.mu.Unlock()
		return NewUnknownTestError(testID)
	}
	if t.completed {
		s.mu.Unlock()
		return nil
	}
	t.completed = true
	t.result = model.ResultFailed
	envs := make([]*environment.ActiveEnvironment, 0, len(t.envs))
	for _, p := range t.envs {
		envs = append(envs, p.env)
	}
	builder := t.builder
	s.mu.Unlock()

	logging.Warn("ActiveTests", "Environment %s of test %d was lost, terminating the test", environmentID, testID)
	var g errgroup.Group
	for _, env := range envs {
		g.Go(func() error {
			env.Terminate(ctx)
			return nil
		})
	}
	_ = g.Wait()

	builder.Section(SectionEnvironmentFailure).Error("Lost contact with environment %s", environmentID)

	s.raise(Completion{TestID: testID, Result: model.ResultFailed})
	return nil
}

// Complete forces the completion of a test that has not completed yet.
// It is a no-op for completed tests.
func (s *Storage) Complete(testID int, result model.TestResult) error {
	s.mu.Lock()
	t, ok := s.tests[testID]
	if !ok {
		s.mu.Unlock()
		return NewUnknownTestError(testID)
	}
	if t.completed {
		s.mu.Unlock()
		return nil
	}
	t.completed = true
	t.result = result
	s.mu.Unlock()

	s.raise(Completion{TestID: testID, Result: result})
	return nil
}

func (s *Storage) raise(c Completion) {
	s.mu.Lock()
	handlers := slices.Clone(s.handlers)
	s.mu.Unlock()

	logging.Info("ActiveTests", "Test %d completed with %s", c.TestID, c.Result)
	for _, fn := range handlers {
		s.inflight.Add(1)
		go func(fn func(Completion)) {
			defer s.inflight.Done()
			fn(c)
		}(fn)
	}
}

// Remove unsubscribes from the test's environments and forgets the test.
func (s *Storage) Remove(testID int) {
	s.mu.Lock()
	t, ok := s.tests[testID]
	delete(s.tests, testID)
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, p := range t.envs {
		p.unsubscribe()
	}
	logging.Debug("ActiveTests", "Removed test %d", testID)
}

// ReportFor returns the report builder of a test.
func (s *Storage) ReportFor(testID int) (*report.Builder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tests[testID]
	if !ok {
		return nil, NewUnknownTestError(testID)
	}
	return t.builder, nil
}

// NotificationsFor returns the completion notifications of a test.
func (s *Storage) NotificationsFor(testID int) ([]report.Notifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tests[testID]
	if !ok {
		return nil, NewUnknownTestError(testID)
	}
	return append([]report.Notifier(nil), t.notifications...), nil
}

// EnvironmentsFor returns the environments of a test in registration order.
func (s *Storage) EnvironmentsFor(testID int) ([]*environment.ActiveEnvironment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tests[testID]
	if !ok {
		return nil, NewUnknownTestError(testID)
	}
	out := make([]*environment.ActiveEnvironment, 0, len(t.envs))
	for _, p := range t.envs {
		out = append(out, p.env)
	}
	return out, nil
}

// Contains reports whether the test is registered.
func (s *Storage) Contains(testID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tests[testID]
	return ok
}

// TestIDs returns the registered tests in ascending order.
func (s *Storage) TestIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.tests))
	for id := range s.tests {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ActiveEnvironments returns every environment of every test that has not
// completed.
func (s *Storage) ActiveEnvironments() []EnvironmentRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EnvironmentRef
	for id, t := range s.tests {
		if t.completed {
			continue
		}
		for _, p := range t.envs {
			out = append(out, EnvironmentRef{TestID: id, Environment: p.env})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TestID != out[j].TestID {
			return out[i].TestID < out[j].TestID
		}
		return out[i].Environment.ID() < out[j].Environment.ID()
	})
	return out
}
