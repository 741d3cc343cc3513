package packaging

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// MetadataEntry is the archive entry that identifies a container.
const MetadataEntry = ".package.yaml"

const (
	environmentsDir = "environments/"
	stepsDir        = "steps/"
	filesDir        = "files/"
	childExt        = ".pkg"
)

// Kind names a container level.
type Kind string

const (
	KindSuite       Kind = "suite"
	KindEnvironment Kind = "environment"
	KindStep        Kind = "step"
)

// Metadata is the content of MetadataEntry.
type Metadata struct {
	Kind  Kind   `yaml:"kind"`
	Name  string `yaml:"name,omitempty"`
	Index int    `yaml:"index,omitempty"`
}

// DuplicateKeyError is returned when two entries of one level share a key.
type DuplicateKeyError struct {
	Level Kind
	Key   string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate %s entry %q", e.Level, e.Key)
}

// Step holds the files of one test step. Files maps the packaged relative
// path to a path on local disk: the source when packing, the extracted
// location after reading.
type Step struct {
	Index int
	Files map[string]string
}

// NewStep returns an empty step container.
func NewStep(index int) *Step {
	return &Step{Index: index, Files: make(map[string]string)}
}

// AddFile registers a local file under the given packaged path.
func (s *Step) AddFile(localPath, packagedPath string) error {
	clean, err := cleanPackagedPath(packagedPath)
	if err != nil {
		return err
	}
	if _, exists := s.Files[clean]; exists {
		return &DuplicateKeyError{Level: KindStep, Key: clean}
	}
	s.Files[clean] = localPath
	return nil
}

// PackagedPaths returns the packaged paths in sorted order.
func (s *Step) PackagedPaths() []string {
	out := make([]string, 0, len(s.Files))
	for p := range s.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Environment holds the steps of one test environment.
type Environment struct {
	Name  string
	Steps map[int]*Step
}

// NewEnvironment returns an empty environment container.
func NewEnvironment(name string) *Environment {
	return &Environment{Name: name, Steps: make(map[int]*Step)}
}

// AddStep adds a step container.
func (e *Environment) AddStep(s *Step) error {
	if _, exists := e.Steps[s.Index]; exists {
		return &DuplicateKeyError{Level: KindEnvironment, Key: fmt.Sprint(s.Index)}
	}
	e.Steps[s.Index] = s
	return nil
}

// Step returns the step with the given index, creating it.
func (e *Environment) Step(index int) *Step {
	if s, ok := e.Steps[index]; ok {
		return s
	}
	s := NewStep(index)
	e.Steps[index] = s
	return s
}

// Indices returns the step indices in ascending order.
func (e *Environment) Indices() []int {
	out := make([]int, 0, len(e.Steps))
	for i := range e.Steps {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Suite holds the environments of one test.
type Suite struct {
	Environments map[string]*Environment
}

// NewSuite returns an empty suite container.
func NewSuite() *Suite {
	return &Suite{Environments: make(map[string]*Environment)}
}

// AddEnvironment adds an environment container.
func (s *Suite) AddEnvironment(e *Environment) error {
	if err := checkEnvironmentName(e.Name); err != nil {
		return err
	}
	if _, exists := s.Environments[e.Name]; exists {
		return &DuplicateKeyError{Level: KindSuite, Key: e.Name}
	}
	s.Environments[e.Name] = e
	return nil
}

// Environment returns the environment with the given name, creating it.
func (s *Suite) Environment(name string) *Environment {
	if e, ok := s.Environments[name]; ok {
		return e
	}
	e := NewEnvironment(name)
	s.Environments[name] = e
	return e
}

// Names returns the environment names in sorted order.
func (s *Suite) Names() []string {
	out := make([]string, 0, len(s.Environments))
	for n := range s.Environments {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// checkEnvironmentName rejects names that are not a single plain path
// element, since environments are unpacked into a directory of that name.
func checkEnvironmentName(name string) error {
	if name == "" {
		return fmt.Errorf("environment without a name")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || path.Clean(name) != name {
		return fmt.Errorf("invalid environment name %q", name)
	}
	return nil
}

func cleanPackagedPath(p string) (string, error) {
	p = strings.ReplaceAll(p, `\`, "/")
	clean := path.Clean(p)
	if clean == "." || clean == "" || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid packaged path %q", p)
	}
	return clean, nil
}
