package report

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"testfleet/internal/model"
)

// Well-known top-level section names.
const (
	SectionInitialization = "Initialization"
	SectionTermination    = "Termination"
)

// ErrAlreadyFinalized is returned when a report is finalized twice.
var ErrAlreadyFinalized = errors.New("report already finalized")

// Report is the immutable result of finalizing a Builder.
type Report struct {
	ID          string           `yaml:"id" json:"id"`
	TestID      int              `yaml:"testId" json:"testId"`
	Title       string           `yaml:"title" json:"title"`
	Result      model.TestResult `yaml:"result" json:"result"`
	Created     time.Time        `yaml:"created" json:"created"`
	Finalized   time.Time        `yaml:"finalized" json:"finalized"`
	Destination string           `yaml:"-" json:"-"`
	Sections    []*Section       `yaml:"sections" json:"sections"`
}

// Builder accumulates sections for one test.
type Builder struct {
	mu          sync.Mutex
	id          string
	testID      int
	title       string
	destination string
	created     time.Time
	sections    []*Section
	finalized   bool
}

// NewBuilder starts a report for the given test.
func NewBuilder(test model.Test) *Builder {
	return &Builder{
		id:          uuid.New().String(),
		testID:      test.ID,
		title:       test.ProductName + " " + test.ProductVersion,
		destination: test.ReportPath,
		created:     time.Now(),
	}
}

// TestID returns the id of the test the report belongs to.
func (b *Builder) TestID() int {
	return b.testID
}

// Section returns the top-level section with the given name, creating it.
func (b *Builder) Section(name string) *Section {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sections {
		if s.Name == name {
			return s
		}
	}
	s := NewSection(name)
	b.sections = append(b.sections, s)
	return s
}

// AppendSection files a section reported by an environment under the named
// top-level section.
func (b *Builder) AppendSection(name string, section *Section) {
	b.Section(name).Append(section)
}

// HasErrors reports whether any section holds an error entry.
func (b *Builder) HasErrors() bool {
	b.mu.Lock()
	sections := append([]*Section(nil), b.sections...)
	b.mu.Unlock()
	for _, s := range sections {
		if s.HasErrors() {
			return true
		}
	}
	return false
}

// Finalize freezes the report. It succeeds exactly once.
func (b *Builder) Finalize(result model.TestResult) (*Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return nil, ErrAlreadyFinalized
	}
	b.finalized = true

	r := &Report{
		ID:          b.id,
		TestID:      b.testID,
		Title:       b.title,
		Result:      result,
		Created:     b.created,
		Finalized:   time.Now(),
		Destination: b.destination,
	}
	for _, s := range b.sections {
		r.Sections = append(r.Sections, s.Clone())
	}
	return r, nil
}
