// Package fetch wraps net/http for the scraping pipeline: shared transport,
// per-host request spacing, transient-failure classification and bounded
// retry for metadata calls. Document downloads go through Download, which
// never retries on its own; that policy belongs to the orchestrator.
package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/orgwatch/regnskap-cli/internal/resilience"
)

// ErrNotFound signals upstream absence (404/410). Strategies treat it as an
// empty result, not a failure.
var ErrNotFound = eris.New("fetch: not found")

// Options configures a Client.
type Options struct {
	UserAgent string
	// ConnectTimeout bounds metadata/API calls. Default: 10s.
	ConnectTimeout time.Duration
	// DownloadTimeout bounds document downloads. Default: 120s.
	DownloadTimeout time.Duration
	// MaxBodyBytes caps response bodies. Default: 64 MiB.
	MaxBodyBytes int64
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = "regnskap-cli/1.0"
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = 120 * time.Second
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 64 << 20
	}
	return o
}

// Response is a fully read HTTP response.
type Response struct {
	Body        []byte
	StatusCode  int
	ContentType string
}

// Client is safe for concurrent use. Pacing state lives in per-worker
// Pacers, not here, so unrelated organizations never serialize.
type Client struct {
	http *http.Client
	opts Options
}

// New creates a Client with a pooled transport.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts: opts,
	}
}

// Get fetches a page or API resource with the connect timeout, retrying
// transient failures. 404 maps to ErrNotFound.
func (c *Client) Get(ctx context.Context, rawURL string, pacer *Pacer) (*Response, error) {
	return resilience.DoVal(ctx, resilience.DefaultRetryConfig("fetch.get"),
		func(ctx context.Context) (*Response, error) {
			return c.do(ctx, rawURL, pacer, c.opts.ConnectTimeout)
		})
}

// Download fetches document bytes with the long download timeout and no
// retry.
func (c *Client) Download(ctx context.Context, rawURL string, pacer *Pacer) (*Response, error) {
	return c.do(ctx, rawURL, pacer, c.opts.DownloadTimeout)
}

func (c *Client) do(ctx context.Context, rawURL string, pacer *Pacer, timeout time.Duration) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: parse url %q", rawURL)
	}
	if pacer != nil {
		if err := pacer.Wait(ctx, u.Host); err != nil {
			return nil, eris.Wrap(err, "fetch: pacing wait")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: build request for %s", rawURL)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: %s", rawURL)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, ErrNotFound
	case resilience.RetryableStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("fetch: %s returned %d", rawURL, resp.StatusCode), resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, eris.Errorf("fetch: %s returned %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: read body of %s", rawURL)
	}

	return &Response{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
