package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Table {
	return Table{
		Headers: []string{"id", "state"},
		Rows:    [][]string{{"build-01", "idle"}, {"build-02", "active"}},
		Raw:     []map[string]string{{"id": "build-01"}, {"id": "build-02"}},
	}
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, OutputFormatTable, false, sample()))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "ID")
	assert.Contains(t, lines[0], "STATE")
	assert.Contains(t, lines[2], "build-02")

	buf.Reset()
	require.NoError(t, Render(&buf, OutputFormatTable, true, sample()))
	assert.NotContains(t, buf.String(), "STATE")
}

func TestRenderStructured(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, OutputFormatJSON, false, sample()))
	assert.Contains(t, buf.String(), `"id": "build-01"`)

	buf.Reset()
	require.NoError(t, Render(&buf, OutputFormatYAML, false, sample()))
	assert.Contains(t, buf.String(), "- id: build-02")
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSON, f)

	_, err = ParseOutputFormat("xml")
	assert.Error(t, err)
}

func TestProgressQuiet(t *testing.T) {
	var buf bytes.Buffer
	err := Progress(&buf, true, "working", func() error { return errors.New("boom") })
	assert.EqualError(t, err, "boom")
	assert.Empty(t, buf.String())
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "✓ done", FormatSuccess("done"))
	assert.Equal(t, "⚠ careful", FormatWarning("careful"))
}
