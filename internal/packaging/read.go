package packaging

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"gopkg.in/yaml.v3"
)

func readMetadata(zr *zip.Reader, want Kind) (Metadata, error) {
	for _, f := range zr.File {
		if f.Name != MetadataEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return Metadata{}, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return Metadata{}, err
		}
		var md Metadata
		if err := yaml.Unmarshal(data, &md); err != nil {
			return Metadata{}, fmt.Errorf("malformed package metadata: %w", err)
		}
		if md.Kind != want {
			return Metadata{}, fmt.Errorf("expected %s package, found %s", want, md.Kind)
		}
		return md, nil
	}
	return Metadata{}, fmt.Errorf("%s package has no metadata entry", want)
}

// withChild spools a nested archive to a temporary file and hands a reader
// for it to fn.
func withChild(f *zip.File, fn func(zr *zip.Reader) error) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "testfleet-pkg-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	size, err := io.Copy(tmp, rc)
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return fmt.Errorf("malformed nested package %s: %w", f.Name, err)
	}
	return fn(zr)
}

func extract(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func readStep(zr *zip.Reader, dest string) (*Step, error) {
	md, err := readMetadata(zr, KindStep)
	if err != nil {
		return nil, err
	}
	step := NewStep(md.Index)
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, filesDir) || strings.HasSuffix(f.Name, "/") {
			continue
		}
		rel, err := cleanPackagedPath(strings.TrimPrefix(f.Name, filesDir))
		if err != nil {
			return nil, err
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))
		if err := extract(f, target); err != nil {
			return nil, fmt.Errorf("step %d: %w", step.Index, err)
		}
		if err := step.AddFile(target, rel); err != nil {
			return nil, err
		}
	}
	return step, nil
}

func readEnvironment(zr *zip.Reader, dest string) (*Environment, error) {
	md, err := readMetadata(zr, KindEnvironment)
	if err != nil {
		return nil, err
	}
	env := NewEnvironment(md.Name)
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, stepsDir) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(f.Name, stepsDir), childExt))
		if err != nil {
			return nil, fmt.Errorf("malformed step entry %q", f.Name)
		}
		err = withChild(f, func(child *zip.Reader) error {
			step, err := readStep(child, filepath.Join(dest, strconv.Itoa(idx)))
			if err != nil {
				return err
			}
			if step.Index != idx {
				return fmt.Errorf("step entry %q holds step %d", f.Name, step.Index)
			}
			return env.AddStep(step)
		})
		if err != nil {
			return nil, fmt.Errorf("environment %s: %w", env.Name, err)
		}
	}
	return env, nil
}

func readSuite(zr *zip.Reader, dest string) (*Suite, error) {
	if _, err := readMetadata(zr, KindSuite); err != nil {
		return nil, err
	}
	suite := NewSuite()
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, environmentsDir) {
			continue
		}
		err := withChild(f, func(child *zip.Reader) error {
			md, err := readMetadata(child, KindEnvironment)
			if err != nil {
				return err
			}
			if err := checkEnvironmentName(md.Name); err != nil {
				return err
			}
			env, err := readEnvironment(child, filepath.Join(dest, url.PathEscape(md.Name)))
			if err != nil {
				return err
			}
			return suite.AddEnvironment(env)
		})
		if err != nil {
			return nil, err
		}
	}
	return suite, nil
}

// ReadStep unpacks a step package from r into dest.
func ReadStep(r io.ReaderAt, size int64, dest string) (*Step, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	return readStep(zr, dest)
}

// ReadEnvironment unpacks an environment package from r into dest.
func ReadEnvironment(r io.ReaderAt, size int64, dest string) (*Environment, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	return readEnvironment(zr, dest)
}

// ReadSuite unpacks a suite package from r into dest.
func ReadSuite(r io.ReaderAt, size int64, dest string) (*Suite, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	return readSuite(zr, dest)
}

// ReadSuiteFile unpacks the suite package at path into dest.
func ReadSuiteFile(path, dest string) (*Suite, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return readSuite(&zr.Reader, dest)
}

// ReadEnvironmentFile unpacks the environment package at path into dest.
func ReadEnvironmentFile(path, dest string) (*Environment, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return readEnvironment(&zr.Reader, dest)
}

// ExtractEnvironment copies the nested archive of one environment out of a
// suite package without unpacking it. ok is false when the suite has no
// such environment.
func ExtractEnvironment(suitePath, name, outPath string) (ok bool, err error) {
	zr, err := zip.OpenReader(suitePath)
	if err != nil {
		return false, err
	}
	defer zr.Close()

	if _, err := readMetadata(&zr.Reader, KindSuite); err != nil {
		return false, err
	}
	entry := environmentsDir + url.PathEscape(name) + childExt
	for _, f := range zr.File {
		if f.Name != entry {
			continue
		}
		if err := extract(f, outPath); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
