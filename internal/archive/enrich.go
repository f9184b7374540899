package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/khobor-khoni/palo-archiver/internal/domain"
	"github.com/khobor-khoni/palo-archiver/internal/logger"
	"github.com/khobor-khoni/palo-archiver/pkg/httpclient"
)

const maxHTMLBodyBytes = 1 << 20 // 1 MiB

// Enricher backfills summaries on harvested articles by scraping their
// pages for meta description tags. Records that already carry a summary are
// left untouched.
type Enricher struct {
	client  httpclient.Client
	workers int
	delay   time.Duration
	headers map[string]string
	log     logger.Logger
}

// NewEnricher creates an enricher with the given worker count and
// per-request delay.
func NewEnricher(client httpclient.Client, workers int, delay time.Duration, headers map[string]string, log logger.Logger) *Enricher {
	if client == nil {
		client = httpclient.NewRestyClient(15 * time.Second)
	}
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Enricher{
		client:  client,
		workers: workers,
		delay:   delay,
		headers: headers,
		log:     log,
	}
}

// Enrich scrapes pages for articles missing a summary. Results keep the
// input order; on cancellation or scrape failure the original record is
// returned.
func (e *Enricher) Enrich(ctx context.Context, articles []domain.Article) []domain.Article {
	out := make([]domain.Article, len(articles))
	copy(out, articles) // default to originals so partial results are returned on cancel

	var pending []int
	for idx, art := range articles {
		if art.Summary == "" && art.URL != "" {
			pending = append(pending, idx)
		}
	}
	if len(pending) == 0 {
		return out
	}

	workerCount := min(len(pending), e.workers)

	var limiter <-chan time.Time
	if e.delay > 0 {
		ticker := time.NewTicker(e.delay)
		limiter = ticker.C
		defer ticker.Stop()
	}

	jobCh := make(chan int)
	var wg sync.WaitGroup

	for workerID := range workerCount {
		wg.Add(1)
		go e.worker(ctx, articles, limiter, jobCh, out, &wg, workerID)
	}

	for _, idx := range pending {
		if ctx.Err() != nil {
			break
		}
		jobCh <- idx
	}
	close(jobCh)

	wg.Wait()

	return out
}

// worker processes article indexes from the job channel, respecting the
// rate limiter.
func (e *Enricher) worker(
	ctx context.Context,
	articles []domain.Article,
	limiter <-chan time.Time,
	jobCh <-chan int,
	out []domain.Article,
	wg *sync.WaitGroup,
	workerID int,
) {
	defer wg.Done()

	for idx := range jobCh {
		if ctx.Err() != nil {
			return
		}

		if limiter != nil {
			select {
			case <-ctx.Done():
				return
			case <-limiter:
			}
		}

		art := articles[idx]
		if enriched, err := e.fetchAndParse(ctx, art, workerID); err != nil {
			e.log.WarnObj("article summary scrape failed", "enrich_error", map[string]any{
				"worker_id": workerID,
				"url":       art.URL,
				"error":     err.Error(),
			})
			out[idx] = art
		} else {
			out[idx] = enriched
		}
	}
}

// fetchAndParse fetches the article page and backfills the summary from its
// meta tags.
func (e *Enricher) fetchAndParse(ctx context.Context, art domain.Article, workerID int) (domain.Article, error) {
	e.log.DebugObj("scraping article summary", "enrich_start", map[string]any{
		"worker_id": workerID,
		"url":       art.URL,
	})

	resp, err := e.client.Get(ctx, art.URL, e.headers)
	if err != nil {
		return art, fmt.Errorf("http fetch: %w", err)
	}

	if resp.StatusCode() != 200 {
		snippet := strings.TrimSpace(string(resp.Body()))
		if len(snippet) > 1024 {
			snippet = snippet[:1024]
		}
		return art, fmt.Errorf("status %d body: %s", resp.StatusCode(), snippet)
	}

	body := resp.Body()
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}

	desc, err := parseMetaDescription(body)
	if err != nil {
		return art, err
	}

	updated := art
	if desc != "" {
		updated.Summary = desc
	}
	return updated, nil
}

// parseMetaDescription extracts og:description or the plain meta description
// from the HTML body.
func parseMetaDescription(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	extract := func(sel string) string {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if val, ok := node.Attr("content"); ok {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}

	if desc := extract(`meta[property="og:description"]`); desc != "" {
		return desc, nil
	}
	return extract(`meta[name="description"]`), nil
}
