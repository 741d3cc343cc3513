package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"

	"testfleet/internal/model"
	"testfleet/pkg/logging"
)

// Notifier delivers a finalized report.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, r *Report) error
}

// Supported output formats of FileNotifier.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
	FormatText = "text"
)

const textTemplate = `{{ .Title | trim }} (test {{ .TestID }})
Result:    {{ .Result | toString | upper }}
Created:   {{ .Created | date "2006-01-02 15:04:05" }}
Finalized: {{ .Finalized | date "2006-01-02 15:04:05" }}
{{ range .Sections }}{{ template "section" (dict "S" . "Depth" 0) }}{{ end }}
{{- define "section" }}
{{ indent (mul .Depth 2 | int) (printf "[%s]" .S.Name) }}
{{- $depth := .Depth }}
{{- range .S.Entries }}
{{ indent (add $depth 1 | mul 2 | int) (printf "%s %-5s %s" (.Time | date "15:04:05") (.Kind | toString | substr 0 5) .Text) }}
{{- end }}
{{- range .S.Sections }}{{ template "section" (dict "S" . "Depth" (add $depth 1)) }}{{ end }}
{{- end }}
`

var reportTemplate = template.Must(template.New("report").Funcs(sprig.TxtFuncMap()).Parse(textTemplate))

// RenderText renders the report as indented plain text.
func RenderText(r *Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}

// FileNotifier writes the report into a directory in one or more formats.
type FileNotifier struct {
	Directory string
	Formats   []string
}

// NewFileNotifier returns a FileNotifier. An empty format list means YAML
// and text.
func NewFileNotifier(dir string, formats []string) *FileNotifier {
	if len(formats) == 0 {
		formats = []string{FormatYAML, FormatText}
	}
	return &FileNotifier{Directory: dir, Formats: formats}
}

func (f *FileNotifier) Name() string {
	return "file:" + f.Directory
}

// BaseName is the file name, without extension, reports are written under.
func BaseName(r *Report) string {
	return fmt.Sprintf("test-%d-%s", r.TestID, r.ID)
}

func (f *FileNotifier) Notify(ctx context.Context, r *Report) error {
	if err := os.MkdirAll(f.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	base := filepath.Join(f.Directory, BaseName(r))
	for _, format := range f.Formats {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			data []byte
			ext  string
			err  error
		)
		switch format {
		case FormatYAML:
			data, err = yaml.Marshal(r)
			ext = ".yaml"
		case FormatJSON:
			data, err = json.MarshalIndent(r, "", "  ")
			ext = ".json"
		case FormatText:
			var text string
			text, err = RenderText(r)
			data = []byte(text)
			ext = ".txt"
		default:
			return fmt.Errorf("unsupported report format %q", format)
		}
		if err != nil {
			return fmt.Errorf("failed to encode report as %s: %w", format, err)
		}

		// Write then rename so watchers never see a partial report.
		tmp := base + ext + ".tmp"
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		if err := os.Rename(tmp, base+ext); err != nil {
			return fmt.Errorf("failed to publish report: %w", err)
		}
	}

	logging.Info("Reports", "Delivered report %s for test %d to %s", r.ID, r.TestID, f.Directory)
	return nil
}

// LogNotifier writes a one-line summary to the log.
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Notify(_ context.Context, r *Report) error {
	errs := 0
	for _, s := range r.Sections {
		if s.HasErrors() {
			errs++
		}
	}
	logging.Info("Reports", "Test %d finished with result %s (%d of %d sections with errors)", r.TestID, r.Result, errs, len(r.Sections))
	return nil
}

// Factory builds the notifiers for a test.
type Factory struct {
	// Directory receives reports of tests without a report path.
	Directory string
	Formats   []string
}

// NotifiersFor returns the report destination notifier followed by one
// notifier per extra notification of the test.
func (f Factory) NotifiersFor(test model.Test) ([]Notifier, error) {
	dest := test.ReportPath
	if dest == "" {
		dest = f.Directory
	}
	out := []Notifier{NewFileNotifier(dest, f.Formats)}

	for _, spec := range test.Notifications {
		switch spec.Kind {
		case "file":
			if spec.Target == "" {
				return nil, fmt.Errorf("file notification of test %d has no target", test.ID)
			}
			out = append(out, NewFileNotifier(spec.Target, f.Formats))
		case "log":
			out = append(out, LogNotifier{})
		default:
			return nil, fmt.Errorf("test %d requests unknown notification kind %q", test.ID, spec.Kind)
		}
	}
	return out, nil
}
