package domain

import "time"

// Domain contains core models shared across the harvester.

// Article is one news item parsed from the advanced-search API.
type Article struct {
	ID               string    `json:"id"`
	Headline         string    `json:"headline"`
	Subheadline      string    `json:"subheadline,omitempty"`
	Summary          string    `json:"summary,omitempty"`
	Content          string    `json:"content"`
	MainAuthor       string    `json:"main_author,omitempty"`
	Authors          []string  `json:"authors,omitempty"`
	URL              string    `json:"url"`
	ReadTime         int       `json:"read_time,omitempty"`
	WordCount        int       `json:"word_count,omitempty"`
	SEODescription   string    `json:"seo_description,omitempty"`
	SEOKeywords      []string  `json:"seo_keywords,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
	Sections         []string  `json:"sections,omitempty"`
	PublishedAt      time.Time `json:"published_at"`
	FirstPublishedAt time.Time `json:"first_published_at,omitempty"`
	LastPublishedAt  time.Time `json:"last_published_at,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
	ContentUpdatedAt time.Time `json:"content_updated_at,omitempty"`
}

// Acceptable reports whether the article carries enough content to persist.
// An article needs a non-empty headline and body.
func (a Article) Acceptable() bool {
	return a.Headline != "" && a.Content != ""
}

// Batch is the set of accepted articles harvested from one date window.
type Batch struct {
	RunID       string
	WindowStart time.Time
	WindowEnd   time.Time
	Articles    []Article
}

// RunSummary aggregates counters for a whole harvest run.
type RunSummary struct {
	Windows        int
	WindowFailures int
	Pages          int
	Fetched        int
	Accepted       int
	Skipped        int
	Deduped        int
	Persisted      int
	Retries        int
	Elapsed        time.Duration
}
