// Package submission turns test descriptions into queued tests: the
// description is validated, the files its steps reference are packed into a
// suite package, and the test is stored in the catalog.
package submission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"testfleet/internal/catalog"
	"testfleet/internal/controller"
	"testfleet/internal/model"
	"testfleet/internal/packaging"
	"testfleet/pkg/logging"
)

// Submitter queues tests.
type Submitter struct {
	repo       catalog.Repository
	packageDir string
	now        func() time.Time
}

// New returns a submitter storing suite packages in packageDir.
func New(repo catalog.Repository, packageDir string) *Submitter {
	return &Submitter{repo: repo, packageDir: packageDir, now: time.Now}
}

// Parse decodes a test description. Relative local file paths of steps are
// resolved against baseDir.
func Parse(r io.Reader, baseDir string) (model.Test, error) {
	var test model.Test
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&test); err != nil {
		if errors.Is(err, io.EOF) {
			return test, fmt.Errorf("empty test description")
		}
		return test, fmt.Errorf("failed to parse test description: %w", err)
	}

	for i := range test.Steps {
		for packaged, local := range test.Steps[i].Files {
			if !filepath.IsAbs(local) {
				test.Steps[i].Files[packaged] = filepath.Join(baseDir, local)
			}
		}
	}
	return test, nil
}

// ParseFile reads a test description from disk.
func ParseFile(path string) (model.Test, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Test{}, fmt.Errorf("failed to read test description: %w", err)
	}
	return Parse(bytes.NewReader(data), filepath.Dir(path))
}

// SubmitFile parses and submits the description at path.
func (s *Submitter) SubmitFile(ctx context.Context, path string) (int, error) {
	test, err := ParseFile(path)
	if err != nil {
		return 0, err
	}
	return s.Submit(ctx, test)
}

// Submit validates test, packs its files and queues it. It returns the id
// assigned by the catalog.
func (s *Submitter) Submit(ctx context.Context, test model.Test) (int, error) {
	if err := test.Validate(); err != nil {
		return 0, fmt.Errorf("invalid test description: %w", err)
	}

	suite, err := buildSuite(test)
	if err != nil {
		return 0, err
	}

	// The package is written before the test becomes visible to the
	// controller and moved to its final name once the id is known.
	if err := os.MkdirAll(s.packageDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create package directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.packageDir, "submit-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create suite package: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := packaging.WriteSuiteFile(tmpPath, suite); err != nil {
		return 0, fmt.Errorf("failed to pack test files: %w", err)
	}

	test.ID = 0
	test.SubmittedAt = s.now()
	test.StartedAt = time.Time{}
	test.FinishedAt = time.Time{}
	id, err := s.repo.AddTest(ctx, test)
	if err != nil {
		return 0, fmt.Errorf("failed to store test: %w", err)
	}
	if err := os.Rename(tmpPath, controller.SuitePath(s.packageDir, id)); err != nil {
		return id, fmt.Errorf("failed to publish suite package of test %d: %w", id, err)
	}

	logging.Info("Submission", "Queued test %d (%s %s) with %d environments", id, test.ProductName, test.ProductVersion, len(test.Environments))
	return id, nil
}

func buildSuite(test model.Test) (*packaging.Suite, error) {
	suite := packaging.NewSuite()
	for _, env := range test.Environments {
		pkgEnv := packaging.NewEnvironment(env.Name)
		for _, step := range test.StepsFor(env.Name) {
			if len(step.Files) == 0 {
				continue
			}
			pkgStep := packaging.NewStep(step.Order)
			for packaged, local := range step.Files {
				info, err := os.Stat(local)
				if err != nil {
					return nil, fmt.Errorf("step %d of %s: %w", step.Order, env.Name, err)
				}
				if info.IsDir() {
					return nil, fmt.Errorf("step %d of %s: %s is a directory", step.Order, env.Name, local)
				}
				if err := pkgStep.AddFile(local, packaged); err != nil {
					return nil, fmt.Errorf("step %d of %s: %w", step.Order, env.Name, err)
				}
			}
			if err := pkgEnv.AddStep(pkgStep); err != nil {
				return nil, err
			}
		}
		if err := suite.AddEnvironment(pkgEnv); err != nil {
			return nil, err
		}
	}
	return suite, nil
}
