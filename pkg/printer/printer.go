// Package printer renders CLI output as aligned tables, JSON or YAML.
package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

// OutputType defines the output format
type OutputType string

const (
	OutputTypeTable OutputType = "table"
	OutputTypeJSON  OutputType = "json"
	OutputTypeYAML  OutputType = "yaml"
)

// ParseOutputType validates an --output flag value.
func ParseOutputType(s string) (OutputType, error) {
	switch t := OutputType(s); t {
	case OutputTypeTable, OutputTypeJSON, OutputTypeYAML:
		return t, nil
	case "":
		return OutputTypeTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q (table, json, yaml)", s)
	}
}

// Printer writes structured values in the selected format.
type Printer struct {
	out        io.Writer
	outputType OutputType
}

// New creates a new printer with the specified output type
func New(out io.Writer, outputType OutputType) *Printer {
	if out == nil {
		out = os.Stdout
	}
	return &Printer{out: out, outputType: outputType}
}

// Structured prints data as JSON or YAML. It reports false for table
// output, leaving rendering to the caller.
func (p *Printer) Structured(data any) (bool, error) {
	switch p.outputType {
	case OutputTypeJSON:
		encoder := json.NewEncoder(p.out)
		encoder.SetIndent("", "  ")
		return true, encoder.Encode(data)
	case OutputTypeYAML:
		encoder := yaml.NewEncoder(p.out)
		encoder.SetIndent(2)
		if err := encoder.Encode(data); err != nil {
			return true, err
		}
		return true, encoder.Close()
	default:
		return false, nil
	}
}

// Table returns a table printer writing to the same output.
func (p *Printer) Table() *TablePrinter {
	return NewTablePrinter(p.out)
}

// Success prints a success message.
func (p *Printer) Success(message string) {
	_, _ = fmt.Fprintf(p.out, "✓ %s\n", message)
}

// FormatAge formats the time since t as a kubectl-style age string (e.g., "5d", "3h", "45m")
func FormatAge(t, now time.Time) string {
	duration := now.Sub(t)

	days := int(duration.Hours() / 24)
	if days > 0 {
		return fmt.Sprintf("%dd", days)
	}

	hours := int(duration.Hours())
	if hours > 0 {
		return fmt.Sprintf("%dh", hours)
	}

	minutes := int(duration.Minutes())
	if minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}

	seconds := int(duration.Seconds())
	return fmt.Sprintf("%ds", seconds)
}
