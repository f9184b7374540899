package palo

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // non-cryptographic id generation
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/khobor-khoni/palo-archiver/internal/domain"
)

// searchResponse mirrors the advanced-search envelope. The upstream is loose
// about scalar types, so numbers and ids go through flex decoders.
type searchResponse struct {
	Total flexInt    `json:"total"`
	Items []wireItem `json:"items"`
}

type wireItem struct {
	ID               flexString `json:"id"`
	Headline         string     `json:"headline"`
	Subheadline      string     `json:"subheadline"`
	Summary          string     `json:"summary"`
	AuthorName       string     `json:"author-name"`
	URL              string     `json:"url"`
	ReadTime         flexInt    `json:"read-time"`
	WordCount        flexInt    `json:"word-count"`
	Tags             []named    `json:"tags"`
	Sections         []named    `json:"sections"`
	Authors          []named    `json:"authors"`
	SEO              *wireSEO   `json:"seo"`
	Cards            []wireCard `json:"cards"`
	PublishedAt      flexInt    `json:"published-at"`
	FirstPublishedAt flexInt    `json:"first-published-at"`
	LastPublishedAt  flexInt    `json:"last-published-at"`
	CreatedAt        flexInt    `json:"created-at"`
	UpdatedAt        flexInt    `json:"updated-at"`
	ContentUpdatedAt flexInt    `json:"content-updated-at"`
}

type named struct {
	Name string `json:"name"`
}

type wireSEO struct {
	MetaDescription string   `json:"meta-description"`
	MetaKeywords    keywords `json:"meta-keywords"`
}

type wireCard struct {
	StoryElements []storyElement `json:"story-elements"`
}

type storyElement struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// decodePage parses a search response body into a Page.
func decodePage(body []byte) (Page, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Page{}, err
	}

	articles := make([]domain.Article, 0, len(resp.Items))
	for _, item := range resp.Items {
		articles = append(articles, mapArticle(item))
	}

	return Page{Total: int(resp.Total), Articles: articles}, nil
}

// mapArticle converts one wire item into the domain record.
func mapArticle(item wireItem) domain.Article {
	art := domain.Article{
		ID:               strings.TrimSpace(string(item.ID)),
		Headline:         strings.TrimSpace(item.Headline),
		Subheadline:      strings.TrimSpace(item.Subheadline),
		Summary:          strings.TrimSpace(item.Summary),
		Content:          contentText(item.Cards),
		MainAuthor:       strings.TrimSpace(item.AuthorName),
		Authors:          names(item.Authors),
		URL:              strings.TrimSpace(item.URL),
		ReadTime:         int(item.ReadTime),
		WordCount:        int(item.WordCount),
		Tags:             names(item.Tags),
		Sections:         names(item.Sections),
		PublishedAt:      msToTime(item.PublishedAt),
		FirstPublishedAt: msToTime(item.FirstPublishedAt),
		LastPublishedAt:  msToTime(item.LastPublishedAt),
		CreatedAt:        msToTime(item.CreatedAt),
		UpdatedAt:        msToTime(item.UpdatedAt),
		ContentUpdatedAt: msToTime(item.ContentUpdatedAt),
	}

	if item.SEO != nil {
		art.SEODescription = strings.TrimSpace(item.SEO.MetaDescription)
		art.SEOKeywords = item.SEO.MetaKeywords
	}

	if art.ID == "" && art.URL != "" {
		art.ID = hashURL(art.URL)
	}

	return art
}

// contentText joins every text story element across cards and strips markup.
func contentText(cards []wireCard) string {
	var sb strings.Builder
	for _, card := range cards {
		for _, el := range card.StoryElements {
			if el.Type != "text" || el.Text == "" {
				continue
			}
			sb.WriteString(stripHTML(el.Text))
		}
	}
	return strings.TrimSpace(sb.String())
}

// stripHTML reduces an HTML fragment to its text content.
func stripHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(fragment)))
	if err != nil {
		return fragment
	}
	return doc.Text()
}

// names extracts non-empty names preserving order.
func names(entries []named) []string {
	if len(entries) == 0 {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if name := strings.TrimSpace(entry.Name); name != "" {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// msToTime converts a unix-millisecond value to UTC time, zero when unset.
func msToTime(ms flexInt) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms)).UTC()
}

// hashURL generates a SHA-1 hash of the given URL string.
func hashURL(u string) string {
	sum := sha1.Sum([]byte(u))
	return hex.EncodeToString(sum[:])
}

// flexInt decodes JSON numbers that sometimes arrive as strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some counters come back as floats.
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return err
		}
		n = int64(fl)
	}
	*f = flexInt(n)
	return nil
}

// flexString decodes string ids that sometimes arrive as numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var out string
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		*f = flexString(out)
		return nil
	}
	*f = flexString(s)
	return nil
}

// keywords decodes meta keywords that arrive as either a comma-separated
// string or a JSON array.
type keywords []string

func (k *keywords) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*k = nil
		return nil
	}

	if strings.HasPrefix(s, "[") {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*k = trimAll(list)
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*k = trimAll(strings.Split(raw, ","))
	return nil
}

func trimAll(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if kw := strings.TrimSpace(part); kw != "" {
			out = append(out, kw)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
