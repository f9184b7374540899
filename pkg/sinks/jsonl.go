package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/khobor-khoni/palo-archiver/internal/domain"
)

// jsonlSink appends one JSON object per record to a file per window-start
// year.
type jsonlSink struct {
	dir     string
	files   map[string]*os.File
	writers map[string]*bufio.Writer
}

func newJSONLSink(dir string) *jsonlSink {
	return &jsonlSink{
		dir:     dir,
		files:   make(map[string]*os.File),
		writers: make(map[string]*bufio.Writer),
	}
}

func (s *jsonlSink) Write(ctx context.Context, batch domain.Batch) (int, error) {
	if len(batch.Articles) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	w, err := s.writerFor(batch.WindowStart)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	for i, art := range batch.Articles {
		if err := enc.Encode(art); err != nil {
			return i, fmt.Errorf("encode record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("flush jsonl: %w", err)
	}
	return len(batch.Articles), nil
}

func (s *jsonlSink) writerFor(windowStart time.Time) (*bufio.Writer, error) {
	year := windowStart.Format("2006")
	if w, ok := s.writers[year]; ok {
		return w, nil
	}

	path := filepath.Join(s.dir, year+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}

	w := bufio.NewWriter(f)
	s.files[year] = f
	s.writers[year] = w
	return w, nil
}

func (s *jsonlSink) Close() error {
	var firstErr error
	for year, w := range s.writers {
		if err := w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.files[year].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = map[string]*os.File{}
	s.writers = map[string]*bufio.Writer{}
	return firstErr
}
