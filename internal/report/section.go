// Package report builds the per-test report tree and delivers it once the
// test completes.
//
// A report is a list of named sections. Each section holds entries
// (information, error or date-stamped) and nested sections. Sections are safe
// to write from several goroutines: the activator, environment progress
// events and the controller all write into the same report while a test runs.
package report

import (
	"fmt"
	"sync"
	"time"
)

// EntryKind classifies a report entry.
type EntryKind string

const (
	EntryInformation EntryKind = "information"
	EntryError       EntryKind = "error"
	EntryDate        EntryKind = "date"
)

// Entry is a single line in a section.
type Entry struct {
	Kind EntryKind `yaml:"kind" json:"kind"`
	Text string    `yaml:"text" json:"text"`
	Time time.Time `yaml:"time" json:"time"`
}

// Section is a named node of the report tree.
type Section struct {
	mu       sync.Mutex
	Name     string     `yaml:"name" json:"name"`
	Entries  []Entry    `yaml:"entries,omitempty" json:"entries,omitempty"`
	Sections []*Section `yaml:"sections,omitempty" json:"sections,omitempty"`
}

// NewSection returns an empty section.
func NewSection(name string) *Section {
	return &Section{Name: name}
}

func (s *Section) add(kind EntryKind, text string, at time.Time) {
	s.mu.Lock()
	s.Entries = append(s.Entries, Entry{Kind: kind, Text: text, Time: at})
	s.mu.Unlock()
}

// Info appends an information entry.
func (s *Section) Info(format string, args ...interface{}) {
	s.add(EntryInformation, fmt.Sprintf(format, args...), time.Now())
}

// Error appends an error entry.
func (s *Section) Error(format string, args ...interface{}) {
	s.add(EntryError, fmt.Sprintf(format, args...), time.Now())
}

// Date appends a date-stamped entry.
func (s *Section) Date(text string, at time.Time) {
	s.add(EntryDate, text, at)
}

// Child returns the nested section with the given name, creating it.
func (s *Section) Child(name string) *Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.Sections {
		if c.Name == name {
			return c
		}
	}
	c := NewSection(name)
	s.Sections = append(s.Sections, c)
	return c
}

// Append adds an already built section as a child.
func (s *Section) Append(child *Section) {
	if child == nil {
		return
	}
	s.mu.Lock()
	s.Sections = append(s.Sections, child)
	s.mu.Unlock()
}

// HasErrors reports whether the section or any descendant holds an error.
func (s *Section) HasErrors() bool {
	s.mu.Lock()
	entries := s.Entries
	children := append([]*Section(nil), s.Sections...)
	s.mu.Unlock()

	for _, e := range entries {
		if e.Kind == EntryError {
			return true
		}
	}
	for _, c := range children {
		if c.HasErrors() {
			return true
		}
	}
	return false
}

// Clone returns a deep copy taken under the section locks.
func (s *Section) Clone() *Section {
	s.mu.Lock()
	out := &Section{
		Name:    s.Name,
		Entries: append([]Entry(nil), s.Entries...),
	}
	children := append([]*Section(nil), s.Sections...)
	s.mu.Unlock()

	for _, c := range children {
		out.Sections = append(out.Sections, c.Clone())
	}
	return out
}
