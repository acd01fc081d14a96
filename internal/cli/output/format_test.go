package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{" JSON ", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type result struct {
	URL    string `json:"url" yaml:"url"`
	Status string `json:"status" yaml:"status"`
}

func TestPrint(t *testing.T) {
	data := []result{{URL: "https://example.com/a.png", Status: "loaded"}}

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Print(&buf, FormatJSON, data))
		assert.JSONEq(t, `[{"url":"https://example.com/a.png","status":"loaded"}]`, buf.String())
	})

	t.Run("YAML", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Print(&buf, FormatYAML, data))
		assert.Equal(t, "- url: https://example.com/a.png\n  status: loaded\n", buf.String())
	})

	t.Run("TableFallsBackToJSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Print(&buf, FormatTable, data))
		assert.True(t, strings.HasPrefix(buf.String(), "["))
	})

	t.Run("Unknown", func(t *testing.T) {
		assert.Error(t, Print(&bytes.Buffer{}, Format("csv"), data))
	})
}

type loads [][]string

func (loads) Headers() []string  { return []string{"URL", "STATE", "BYTES"} }
func (l loads) Rows() [][]string { return l }

func TestPrintTable(t *testing.T) {
	table := loads{
		{"https://example.com/a.png", "loaded", "1024"},
		{"https://example.com/b.png", "failed", "0"},
	}

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, table))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "URL")
	assert.Contains(t, lines[0], "STATE")
	assert.Contains(t, lines[1], "https://example.com/a.png")
	assert.Contains(t, lines[2], "failed")
}

func TestPrintTable_RowWidthMismatch(t *testing.T) {
	err := PrintTable(&bytes.Buffer{}, loads{{"https://example.com/a.png", "loaded"}})
	assert.ErrorContains(t, err, "row 0 has 2 cells, want 3")
}
