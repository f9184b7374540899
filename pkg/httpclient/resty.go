// Package httpclient abstracts the outbound HTTP client so callers can be
// tested against fakes.
package httpclient

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
)

// Response exposes the parts of an HTTP response the harvester consumes.
type Response interface {
	StatusCode() int
	Body() []byte
}

// Client issues GET requests with per-request headers.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string) (Response, error)
}

type restyClient struct {
	c *resty.Client
}

type restyResponse struct {
	r *resty.Response
}

func (r restyResponse) StatusCode() int { return r.r.StatusCode() }
func (r restyResponse) Body() []byte    { return r.r.Body() }

// NewRestyClient returns a Client backed by resty with the given timeout.
// Retries are left to callers; the client itself never retries.
func NewRestyClient(timeout time.Duration) Client {
	c := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0)
	return &restyClient{c: c}
}

func (rc *restyClient) Get(ctx context.Context, url string, headers map[string]string) (Response, error) {
	req := rc.c.R().SetContext(ctx)
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, err
	}
	return restyResponse{r: resp}, nil
}
