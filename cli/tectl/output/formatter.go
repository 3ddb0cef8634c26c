// Package output formats tectl command results as a table, JSON, or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Format is an output rendering mode.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a --output flag value.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "table", "":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (valid: table, json, yaml)", s)
	}
}

// Formatter renders command results in the configured Format.
type Formatter struct {
	Format    Format
	NoHeaders bool
	Writer    io.Writer
}

// NewFormatter constructs a Formatter writing to stdout.
func NewFormatter(format Format, noHeaders bool) *Formatter {
	return &Formatter{Format: format, NoHeaders: noHeaders, Writer: os.Stdout}
}

// Print renders a single value as JSON or YAML; table mode falls back to
// JSON since a single object has no natural row/column shape.
func (f *Formatter) Print(data interface{}) error {
	switch f.Format {
	case FormatYAML:
		enc := yaml.NewEncoder(f.Writer)
		defer func() { _ = enc.Close() }()
		return enc.Encode(data)
	default:
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
}

// TableData is tabular data for PrintTable.
type TableData struct {
	Headers []string
	Rows    [][]string
}

// PrintTable renders rows as an aligned table, or as JSON/YAML list-of-maps
// in non-table format.
func (f *Formatter) PrintTable(data TableData) error {
	if f.Format != FormatTable {
		rows := make([]map[string]string, len(data.Rows))
		for i, row := range data.Rows {
			m := make(map[string]string, len(data.Headers))
			for j, cell := range row {
				if j < len(data.Headers) {
					m[data.Headers[j]] = cell
				}
			}
			rows[i] = m
		}
		return f.Print(rows)
	}

	table := tablewriter.NewWriter(f.Writer)
	if !f.NoHeaders && len(data.Headers) > 0 {
		table.SetHeader(data.Headers)
	}
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.AppendBulk(data.Rows)
	table.Render()
	return nil
}
