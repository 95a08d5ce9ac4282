// Package source implements the five report-discovery strategies. Each one
// maps its upstream's native shape into common ReportCandidates; absence is
// an empty slice, never an error.
package source

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/orgwatch/regnskap-cli/internal/fetch"
	"github.com/orgwatch/regnskap-cli/internal/model"
)

// Strategy discovers report candidates for one organization.
type Strategy interface {
	Name() model.SourceTag
	Discover(ctx context.Context, orgID string, pacer *fetch.Pacer) ([]model.ReportCandidate, error)
}

// PageResolver builds the public entity detail page URL for an
// organization. All DOM-based strategies share it.
type PageResolver struct {
	base *url.URL
}

// NewPageResolver parses the detail page base URL, e.g.
// "https://virksomhet.example.test/enhet".
func NewPageResolver(baseURL string) (*PageResolver, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, eris.Wrapf(err, "source: parse page base url %q", baseURL)
	}
	return &PageResolver{base: u}, nil
}

// PageURL returns the detail page for orgID.
func (p *PageResolver) PageURL(orgID string) string {
	return fmt.Sprintf("%s/%s", p.base.String(), orgID)
}

// Base returns the origin used to resolve relative document hrefs.
func (p *PageResolver) Base() *url.URL {
	origin := *p.base
	origin.Path = ""
	origin.RawQuery = ""
	origin.Fragment = ""
	return &origin
}

var yearRe = regexp.MustCompile(`(19|20)\d{2}`)

// findYear extracts the first plausible filing year from s, or 0.
func findYear(s string, now time.Time) int {
	for _, m := range yearRe.FindAllString(s, -1) {
		y, err := strconv.Atoi(m)
		if err == nil && model.ValidYear(y, now) {
			return y
		}
	}
	return 0
}
