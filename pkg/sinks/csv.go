package sinks

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/khobor-khoni/palo-archiver/internal/domain"
)

// columnNames is the dataset schema. The order matches the datasets produced
// by the earlier tooling so downstream consumers keep working.
var columnNames = []string{
	"text_id",
	"text_headline",
	"text_subheadline",
	"text_summary",
	"text_content",
	"text_main_author",
	"text_authors",
	"text_url",
	"int_read_time",
	"text_seo_description",
	"text_seo_tags",
	"text_tags",
	"text_sections",
	"int_word_count",
	"date_published",
	"date_first_published_at",
	"date_last_published_at",
	"date_created_at",
	"date_updated_at",
	"date_content_updated_at",
}

// csvSink appends records to one CSV file per window-start year, writing the
// header only when it creates the file.
type csvSink struct {
	dir     string
	files   map[string]*os.File
	writers map[string]*csv.Writer
}

func newCSVSink(dir string) *csvSink {
	return &csvSink{
		dir:     dir,
		files:   make(map[string]*os.File),
		writers: make(map[string]*csv.Writer),
	}
}

// Write appends the batch to the year file derived from the window start.
func (s *csvSink) Write(ctx context.Context, batch domain.Batch) (int, error) {
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

	for i, art := range batch.Articles {
		if err := w.Write(row(art)); err != nil {
			return i, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(batch.Articles), nil
}

// writerFor returns the csv writer for the year, opening the file and
// emitting the header on first use.
func (s *csvSink) writerFor(windowStart time.Time) (*csv.Writer, error) {
	year := windowStart.Format("2006")
	if w, ok := s.writers[year]; ok {
		return w, nil
	}

	path := filepath.Join(s.dir, year+".csv")
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(columnNames); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}

	s.files[year] = f
	s.writers[year] = w
	return w, nil
}

// Close flushes and closes every open year file.
func (s *csvSink) Close() error {
	var firstErr error
	for year, w := range s.writers {
		w.Flush()
		if err := w.Error(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.files[year].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = map[string]*os.File{}
	s.writers = map[string]*csv.Writer{}
	return firstErr
}

// row flattens an article into the dataset schema. Multi-valued fields are
// comma-joined and dates become unix seconds, zero when unset.
func row(a domain.Article) []string {
	return []string{
		a.ID,
		a.Headline,
		a.Subheadline,
		a.Summary,
		a.Content,
		a.MainAuthor,
		strings.Join(a.Authors, ","),
		a.URL,
		strconv.Itoa(a.ReadTime),
		a.SEODescription,
		strings.Join(a.SEOKeywords, ","),
		strings.Join(a.Tags, ","),
		strings.Join(a.Sections, ","),
		strconv.Itoa(a.WordCount),
		unixString(a.PublishedAt),
		unixString(a.FirstPublishedAt),
		unixString(a.LastPublishedAt),
		unixString(a.CreatedAt),
		unixString(a.UpdatedAt),
		unixString(a.ContentUpdatedAt),
	}
}

func unixString(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.Unix(), 10)
}
