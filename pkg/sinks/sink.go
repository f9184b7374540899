// Package sinks persists harvested article batches to per-year dataset
// files.
package sinks

import (
	"context"
	"fmt"
	"os"

	"github.com/khobor-khoni/palo-archiver/internal/domain"
)

// Supported sink formats.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

// Sink appends article batches to a destination. Write returns the number
// of records appended.
type Sink interface {
	Write(ctx context.Context, batch domain.Batch) (int, error)
	Close() error
}

// New builds a file sink for the given format rooted at dir, creating the
// directory if needed.
func New(format, dir string) (Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	switch format {
	case FormatCSV:
		return newCSVSink(dir), nil
	case FormatJSONL:
		return newJSONLSink(dir), nil
	default:
		return nil, fmt.Errorf("unsupported sink format %q", format)
	}
}
