package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"testfleet/internal/model"
	"testfleet/pkg/logging"
)

const machinesDir = "machines"

// MachineStore keeps machine descriptions as YAML files under
// <config>/machines, one file per machine.
type MachineStore struct {
	mu  sync.RWMutex
	dir string
}

// NewMachineStore returns a store rooted at configPath.
func NewMachineStore(configPath string) *MachineStore {
	return &MachineStore{dir: filepath.Join(configPath, machinesDir)}
}

// Dir returns the directory the store reads from.
func (s *MachineStore) Dir() string {
	return s.dir
}

// Save validates m and writes it to its file.
func (s *MachineStore) Save(m model.MachineDescription) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode machine %s: %w", m.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}
	filePath := filepath.Join(s.dir, sanitizeFilename(m.ID)+".yaml")
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", filePath, err)
	}
	logging.Info("Storage", "Saved machine %s to %s", m.ID, filePath)
	return nil
}

// Delete removes the file of machine id.
func (s *MachineStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	filePath := filepath.Join(s.dir, sanitizeFilename(id)+".yaml")
	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("machine %s not found", id)
		}
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

// List reads every machine file. A missing directory yields no machines.
// Each file may hold a single machine or a list.
func (s *MachineStore) List() ([]model.MachineDescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(s.dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to glob machine files: %w", err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	var out []model.MachineDescription
	for _, f := range files {
		machines, err := ParseMachinesFile(f)
		if err != nil {
			return nil, err
		}
		out = append(out, machines...)
	}
	return out, nil
}

// ParseMachinesFile reads machine descriptions from path.
func ParseMachinesFile(path string) ([]model.MachineDescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	machines, err := ParseMachines(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return machines, nil
}

// ParseMachines decodes YAML holding one machine, a list of machines or a
// stream of machine documents, and validates each one.
func ParseMachines(data []byte) ([]model.MachineDescription, error) {
	var out []model.MachineDescription
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("malformed machine description: %w", err)
		}
		doc := &node
		if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
			doc = doc.Content[0]
		}

		if doc.Kind == yaml.SequenceNode {
			var list []model.MachineDescription
			if err := doc.Decode(&list); err != nil {
				return nil, fmt.Errorf("malformed machine list: %w", err)
			}
			out = append(out, list...)
			continue
		}
		var m model.MachineDescription
		if err := doc.Decode(&m); err != nil {
			return nil, fmt.Errorf("malformed machine description: %w", err)
		}
		out = append(out, m)
	}

	seen := make(map[string]bool, len(out))
	for _, m := range out {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("machine %s is described twice", m.ID)
		}
		seen[m.ID] = true
	}
	return out, nil
}

// sanitizeFilename ensures the filename is safe for filesystem operations
func sanitizeFilename(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '.', ' ':
			return '_'
		}
		return r
	}, name)

	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		sanitized = "unnamed"
	}
	return sanitized
}
