// Package output provides formatters for gate reports.
package output

import (
	"fmt"
	"io"

	"github.com/rill-lang/rillsec/internal/engine"
)

// Formatter renders one gate report to its writer.
type Formatter interface {
	Format(report *engine.Report) error
}

// NewFormatter returns a formatter for the given format name.
func NewFormatter(format string, writer io.Writer) (Formatter, error) {
	switch format {
	case "table":
		return NewTableFormatter(writer), nil
	case "json":
		return NewJSONFormatter(writer), nil
	case "sarif":
		return NewSARIFFormatter(writer), nil
	default:
		return nil, fmt.Errorf("unknown format: %s (supported: %v)", format, SupportedFormats())
	}
}

// SupportedFormats returns the list of available format names.
func SupportedFormats() []string {
	return []string{"table", "json", "sarif"}
}
