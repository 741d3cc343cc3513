package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"
)

// OutputFormat selects how results are printed.
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates a --output value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported output format %q (use table, json or yaml)", s)
}

// Table is a result that can be printed in every output format: rows for
// tables, Raw for JSON and YAML.
type Table struct {
	Headers []string
	Rows    [][]string
	Raw     interface{}
}

// Render writes t to w in the given format.
func Render(w io.Writer, format OutputFormat, noHeaders bool, t Table) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(t.Raw)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(t.Raw); err != nil {
			return err
		}
		return enc.Close()
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(plainStyle())
	if !noHeaders {
		header := make(table.Row, len(t.Headers))
		for i, h := range t.Headers {
			header[i] = strings.ToUpper(h)
		}
		tw.AppendHeader(header)
	}
	for _, r := range t.Rows {
		row := make(table.Row, len(r))
		for i, c := range r {
			row[i] = c
		}
		tw.AppendRow(row)
	}
	tw.Render()
	return nil
}

// plainStyle renders kubectl-like tables without box drawing.
func plainStyle() table.Style {
	style := table.StyleDefault
	style.Options = table.Options{
		DrawBorder:      false,
		SeparateColumns: false,
		SeparateHeader:  false,
		SeparateRows:    false,
	}
	style.Box.PaddingLeft = ""
	style.Box.PaddingRight = "   "
	style.Format.Header = text.FormatDefault
	return style
}

// StateCell colors a state for terminal output.
func StateCell(state string) string {
	switch state {
	case "passed", "idle", "available":
		return text.FgGreen.Sprint(state)
	case "failed", "lost":
		return text.FgRed.Sprint(state)
	case "active", "executing":
		return text.FgYellow.Sprint(state)
	}
	return state
}
