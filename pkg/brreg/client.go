// Package brreg provides a client for the business registry's financial
// statement and entity lookup endpoints.
package brreg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/orgwatch/regnskap-cli/internal/resilience"
)

// Client defines the registry operations the pipeline consumes. Absence
// (404) is reported as a nil result with a nil error.
type Client interface {
	// Statements returns the filings the registry serves without a year
	// filter; usually only the most recent one.
	Statements(ctx context.Context, orgID string) ([]Statement, error)
	// StatementsForYear queries one specific accounting year.
	StatementsForYear(ctx context.Context, orgID string, year int) ([]Statement, error)
	// Entity returns registration metadata used to bound the year search.
	Entity(ctx context.Context, orgID string) (*Entity, error)
	// Host names the statement API host for request pacing.
	Host() string
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the statement API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithEntityBaseURL overrides the entity lookup base URL (for testing).
func WithEntityBaseURL(u string) Option {
	return func(c *httpClient) { c.entityBaseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.hc = hc }
}

type httpClient struct {
	baseURL       string
	entityBaseURL string
	userAgent     string
	hc            *http.Client
}

// NewClient creates a registry client.
func NewClient(userAgent string, opts ...Option) Client {
	c := &httpClient{
		baseURL:       "https://data.brreg.no/regnskapsregisteret/regnskap",
		entityBaseURL: "https://data.brreg.no/enhetsregisteret/api/enheter",
		userAgent:     userAgent,
		hc:            &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Host() string {
	if u, err := url.Parse(c.baseURL); err == nil {
		return u.Host
	}
	return ""
}

func (c *httpClient) Statements(ctx context.Context, orgID string) ([]Statement, error) {
	return c.statements(ctx, fmt.Sprintf("%s/%s", c.baseURL, orgID))
}

func (c *httpClient) StatementsForYear(ctx context.Context, orgID string, year int) ([]Statement, error) {
	return c.statements(ctx, fmt.Sprintf("%s/%s?year=%d", c.baseURL, orgID, year))
}

func (c *httpClient) statements(ctx context.Context, url string) ([]Statement, error) {
	body, found, err := c.get(ctx, url)
	if err != nil || !found {
		return nil, err
	}

	// Decode each element twice: once into the typed view and once into a
	// raw map kept verbatim for the persisted payload.
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		// Some deployments answer a single object instead of an array.
		var one json.RawMessage
		if err2 := json.Unmarshal(body, &one); err2 != nil {
			return nil, eris.Wrapf(err, "brreg: decode statements from %s", url)
		}
		raws = []json.RawMessage{one}
	}

	stmts := make([]Statement, 0, len(raws))
	for _, raw := range raws {
		var s Statement
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, eris.Wrapf(err, "brreg: decode statement from %s", url)
		}
		if err := json.Unmarshal(raw, &s.Raw); err != nil {
			return nil, eris.Wrapf(err, "brreg: decode raw statement from %s", url)
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func (c *httpClient) Entity(ctx context.Context, orgID string) (*Entity, error) {
	body, found, err := c.get(ctx, fmt.Sprintf("%s/%s", c.entityBaseURL, orgID))
	if err != nil || !found {
		return nil, err
	}

	var e Entity
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, eris.Wrapf(err, "brreg: decode entity %s", orgID)
	}
	return &e, nil
}

// get performs a GET. found is false on 404/410.
func (c *httpClient) get(ctx context.Context, url string) (body []byte, found bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, eris.Wrapf(err, "brreg: build request %s", url)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, false, eris.Wrapf(err, "brreg: %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, false, nil
	}
	if resilience.RetryableStatus(resp.StatusCode) {
		return nil, false, resilience.NewTransientError(
			eris.Errorf("brreg: %s returned %d", url, resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, eris.Errorf("brreg: %s returned %d", url, resp.StatusCode)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, eris.Wrapf(err, "brreg: read body of %s", url)
	}
	return body, true, nil
}
