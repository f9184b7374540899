// Package palo talks to the Prothom Alo advanced-search API and maps its
// responses into domain articles.
package palo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/khobor-khoni/palo-archiver/internal/domain"
	"github.com/khobor-khoni/palo-archiver/pkg/httpclient"
)

// DefaultBaseURL is the production advanced-search endpoint.
const DefaultBaseURL = "https://www.prothomalo.com/api/v1/advanced-search"

// Page is one decoded page of search results. Total is the upstream's count
// for the whole window, not the page.
type Page struct {
	Total    int
	Articles []domain.Article
}

// Exhausted reports whether this page signals the end of the window.
func (p Page) Exhausted() bool {
	return p.Total == 0 || len(p.Articles) == 0
}

// Client pages through the advanced-search API for a date window.
type Client struct {
	http    httpclient.Client
	baseURL string
	limit   int
	headers map[string]string
}

// NewClient builds a search client. A nil http client falls back to a resty
// client with a 15s timeout.
func NewClient(client httpclient.Client, baseURL string, limit int, headers map[string]string) *Client {
	if client == nil {
		client = httpclient.NewRestyClient(15 * time.Second)
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if limit < 1 {
		limit = 20
	}
	return &Client{
		http:    client,
		baseURL: baseURL,
		limit:   limit,
		headers: headers,
	}
}

// PageLimit returns the configured items-per-request limit.
func (c *Client) PageLimit() int { return c.limit }

// SearchPage fetches one page of articles published within [start, end) at
// the given offset.
func (c *Client) SearchPage(ctx context.Context, start, end time.Time, offset int) (Page, error) {
	reqURL := c.requestURL(start, end, offset)

	resp, err := c.http.Get(ctx, reqURL, c.headers)
	if err != nil {
		return Page{}, fmt.Errorf("fetch search page: %w", err)
	}

	body := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		return Page{}, fmt.Errorf("search returned status %d body: %s", resp.StatusCode(), responseSnippet(body))
	}

	page, err := decodePage(body)
	if err != nil {
		return Page{}, fmt.Errorf("decode search page: %w", err)
	}
	return page, nil
}

// requestURL builds the paginated search URL with millisecond window bounds.
func (c *Client) requestURL(start, end time.Time, offset int) string {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(c.limit))
	q.Set("sort", "latest-published")
	q.Set("published-after", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("published-before", strconv.FormatInt(end.UnixMilli(), 10))
	return c.baseURL + "?" + q.Encode()
}

// responseSnippet returns a truncated snippet of the response body for error
// messages.
func responseSnippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}
