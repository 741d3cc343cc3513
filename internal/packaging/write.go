package packaging

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zip"
	"gopkg.in/yaml.v3"
)

func writeMetadata(zw *zip.Writer, md Metadata) error {
	data, err := yaml.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode package metadata: %w", err)
	}
	w, err := zw.Create(MetadataEntry)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// embed packs a child into a temporary archive and stores it under name.
func embed(zw *zip.Writer, name string, pack func(io.Writer) error) error {
	tmp, err := os.CreateTemp("", "testfleet-pkg-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary package: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := pack(tmp); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, tmp)
	return err
}

func copyFile(zw *zip.Writer, name, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// WriteStep packs a step container.
func WriteStep(w io.Writer, s *Step) error {
	zw := zip.NewWriter(w)
	if err := writeMetadata(zw, Metadata{Kind: KindStep, Index: s.Index}); err != nil {
		return err
	}
	for _, p := range s.PackagedPaths() {
		if err := copyFile(zw, filesDir+p, s.Files[p]); err != nil {
			return fmt.Errorf("step %d: %w", s.Index, err)
		}
	}
	return zw.Close()
}

// WriteEnvironment packs an environment container and its steps.
func WriteEnvironment(w io.Writer, e *Environment) error {
	zw := zip.NewWriter(w)
	if err := writeMetadata(zw, Metadata{Kind: KindEnvironment, Name: e.Name}); err != nil {
		return err
	}
	for _, idx := range e.Indices() {
		step := e.Steps[idx]
		name := stepsDir + strconv.Itoa(idx) + childExt
		if err := embed(zw, name, func(w io.Writer) error { return WriteStep(w, step) }); err != nil {
			return fmt.Errorf("environment %s: %w", e.Name, err)
		}
	}
	return zw.Close()
}

// WriteSuite packs a suite container and all of its environments.
func WriteSuite(w io.Writer, s *Suite) error {
	zw := zip.NewWriter(w)
	if err := writeMetadata(zw, Metadata{Kind: KindSuite}); err != nil {
		return err
	}
	for _, name := range s.Names() {
		if err := checkEnvironmentName(name); err != nil {
			return err
		}
		env := s.Environments[name]
		entry := environmentsDir + url.PathEscape(name) + childExt
		if err := embed(zw, entry, func(w io.Writer) error { return WriteEnvironment(w, env) }); err != nil {
			return err
		}
	}
	return zw.Close()
}

// WriteSuiteFile packs a suite into the file at path.
func WriteSuiteFile(path string, s *Suite) error {
	return writeFile(path, func(w io.Writer) error { return WriteSuite(w, s) })
}

// WriteEnvironmentFile packs an environment into the file at path.
func WriteEnvironmentFile(path string, e *Environment) error {
	return writeFile(path, func(w io.Writer) error { return WriteEnvironment(w, e) })
}

func writeFile(path string, pack func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pack(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
